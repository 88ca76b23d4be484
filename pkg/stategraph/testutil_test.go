package stategraph

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/randalmurphal/stategraph/pkg/stategraph/checkpoint"
	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

// Helper node handlers

// addTo adds delta to a numeric field.
func addTo(field string, delta float64) HandlerFunc {
	return func(_ Context, st state.Map, _ RunConfig) (state.Map, error) {
		n, _ := st[field].AsNumber()
		return state.Map{field: state.Number(n + delta)}, nil
	}
}

// mulBy multiplies a numeric field by factor.
func mulBy(field string, factor float64) HandlerFunc {
	return func(_ Context, st state.Map, _ RunConfig) (state.Map, error) {
		n, _ := st[field].AsNumber()
		return state.Map{field: state.Number(n * factor)}, nil
	}
}

// setField writes a constant.
func setField(field string, v state.Value) HandlerFunc {
	return func(_ Context, _ state.Map, _ RunConfig) (state.Map, error) {
		return state.Map{field: v}, nil
	}
}

// noop returns an empty update.
func noop() HandlerFunc {
	return func(_ Context, _ state.Map, _ RunConfig) (state.Map, error) {
		return state.Map{}, nil
	}
}

// tracking records execution order into trace.
func tracking(name string, trace *[]string) HandlerFunc {
	return func(_ Context, _ state.Map, _ RunConfig) (state.Map, error) {
		*trace = append(*trace, name)
		return state.Map{}, nil
	}
}

// failing returns err.
func failing(err error) HandlerFunc {
	return func(_ Context, _ state.Map, _ RunConfig) (state.Map, error) {
		return nil, err
	}
}

// panicking panics with value.
func panicking(value any) HandlerFunc {
	return func(_ Context, _ state.Map, _ RunConfig) (state.Map, error) {
		panic(value)
	}
}

// parity routes on value % 2.
func parity(_ Context, st state.Map) string {
	n, _ := st["value"].AsInt()
	if n%2 == 0 {
		return "even"
	}
	return "odd"
}

// linearGraph builds a -> b -> END with a: +1 and b: *2.
func linearGraph() *Graph {
	return NewGraph().
		AddNode("a", addTo("value", 1)).
		AddNode("b", mulBy("value", 2)).
		AddEdge("a", "b").
		AddEdge("b", END).
		SetEntryPoint("a")
}

// loopGraph builds a self-loop incrementing i.
func loopGraph() *Graph {
	return NewGraph().
		AddNode("loop", addTo("i", 1)).
		AddEdge("loop", "loop").
		SetEntryPoint("loop")
}

func num(v state.Value) float64 {
	n, _ := v.AsNumber()
	return n
}

// failingCheckpointer fails every save.
type failingCheckpointer struct {
	err error
}

func (f failingCheckpointer) Save(context.Context, string, string, state.Map) error {
	return f.err
}

func (f failingCheckpointer) Load(context.Context, string) (*checkpoint.Checkpoint, error) {
	return nil, f.err
}

func (f failingCheckpointer) History(context.Context, string) ([]checkpoint.Checkpoint, error) {
	return nil, f.err
}

// chatFunc adapts a function to Chatter.
type chatFunc func(ctx context.Context, prompt string) (string, error)

func (f chatFunc) Chat(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// testLogHandler captures log records for testing.
type testLogHandler struct {
	mu    *sync.Mutex
	buf   *bytes.Buffer
	attrs []slog.Attr
}

func newTestLogHandler() *testLogHandler {
	return &testLogHandler{mu: &sync.Mutex{}, buf: &bytes.Buffer{}}
}

func (h *testLogHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *testLogHandler) Handle(_ context.Context, r slog.Record) error {
	data := map[string]any{
		"level": r.Level.String(),
		"msg":   r.Message,
	}
	for _, a := range h.attrs {
		data[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	return json.NewEncoder(h.buf).Encode(data)
}

func (h *testLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &testLogHandler{
		mu:    h.mu,
		buf:   h.buf,
		attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

func (h *testLogHandler) WithGroup(string) slog.Handler {
	return h
}

func (h *testLogHandler) records() []map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []map[string]any
	for _, line := range bytes.Split(h.buf.Bytes(), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(line, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// withMessage returns records whose message equals msg.
func (h *testLogHandler) withMessage(msg string) []map[string]any {
	var out []map[string]any
	for _, r := range h.records() {
		if r["msg"] == msg {
			out = append(out, r)
		}
	}
	return out
}
