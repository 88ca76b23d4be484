package checkpoint

import (
	"encoding/json"
	"time"

	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

// Version is the current checkpoint format version.
// Increment when making breaking changes to checkpoint structure.
const Version = 1

// Checkpoint is the persisted post-merge state after a node executed.
type Checkpoint struct {
	Version   int       `json:"version"`
	ThreadID  string    `json:"thread_id"`
	Node      string    `json:"node"`
	Sequence  int       `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	State     state.Map `json:"state"`
}

// New creates a checkpoint stamped with the current time.
func New(threadID, node string, sequence int, st state.Map) *Checkpoint {
	return &Checkpoint{
		Version:   Version,
		ThreadID:  threadID,
		Node:      node,
		Sequence:  sequence,
		Timestamp: time.Now().UTC(),
		State:     st.Clone(),
	}
}

// Marshal serializes a checkpoint to JSON.
func (c *Checkpoint) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal deserializes a checkpoint from JSON.
func Unmarshal(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if c.State == nil {
		c.State = state.Map{}
	}
	return &c, nil
}
