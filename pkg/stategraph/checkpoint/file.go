package checkpoint

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

// FileStore persists checkpoints as JSON lines, one file per thread.
// Each Save appends a line, so History is the file read top to bottom.
type FileStore struct {
	dir    string
	mu     sync.Mutex
	seq    map[string]int
	closed bool
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a file store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileStore{dir: dir, seq: make(map[string]int)}, nil
}

func (f *FileStore) path(threadID string) string {
	return filepath.Join(f.dir, url.PathEscape(threadID)+".jsonl")
}

// Save implements Checkpointer.
func (f *FileStore) Save(_ context.Context, threadID, node string, st state.Map) error {
	if err := ValidateThreadID(threadID); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStoreClosed
	}

	seq, ok := f.seq[threadID]
	if !ok {
		existing, err := f.readAll(threadID)
		if err != nil {
			return err
		}
		seq = len(existing)
	}
	seq++

	data, err := New(threadID, node, seq, st).Marshal()
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	if err := appendLine(f.path(threadID), data); err != nil {
		return err
	}
	f.seq[threadID] = seq
	return nil
}

// appendLine writes data plus a newline to the end of path. A failed close
// fails the save.
func appendLine(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open checkpoint file: %w", err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		_ = file.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close checkpoint file: %w", err)
	}
	return nil
}

// Load implements Checkpointer.
func (f *FileStore) Load(_ context.Context, threadID string) (*Checkpoint, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrStoreClosed
	}

	cps, err := f.readAll(threadID)
	if err != nil {
		return nil, err
	}
	if len(cps) == 0 {
		return nil, ErrNotFound
	}
	return &cps[len(cps)-1], nil
}

// History implements Checkpointer.
func (f *FileStore) History(_ context.Context, threadID string) ([]Checkpoint, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrStoreClosed
	}

	cps, err := f.readAll(threadID)
	if err != nil {
		return nil, err
	}
	if cps == nil {
		cps = []Checkpoint{}
	}
	return cps, nil
}

// Delete implements Store.
func (f *FileStore) Delete(_ context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStoreClosed
	}

	delete(f.seq, threadID)
	if err := os.Remove(f.path(threadID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete checkpoint file: %w", err)
	}
	return nil
}

// Close implements Store.
func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}

// readAll decodes every line of a thread's file. Caller holds f.mu.
func (f *FileStore) readAll(threadID string) ([]Checkpoint, error) {
	file, err := os.Open(f.path(threadID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open checkpoint file: %w", err)
	}
	defer file.Close()

	var cps []Checkpoint
	dec := json.NewDecoder(bufio.NewReader(file))
	for {
		var cp Checkpoint
		err := dec.Decode(&cp)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode checkpoint %d: %w", len(cps)+1, err)
		}
		if cp.State == nil {
			cp.State = state.Map{}
		}
		cps = append(cps, cp)
	}
	return cps, nil
}
