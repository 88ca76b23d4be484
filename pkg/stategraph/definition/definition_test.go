package definition_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/stategraph/pkg/stategraph"
	"github.com/randalmurphal/stategraph/pkg/stategraph/definition"
	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

const parityGraph = `
entry          = "start"
max_iterations = 10

node "start" {
  update = { parity = state.value % 2 == 0 ? "even" : "odd" }
}

node "even" {
  update = { label = upper(format("%s-%d", state.parity, state.value)) }
}

node "odd" {
  handler = "set"
  args    = { values = { label = "odd" } }
}

edge {
  from = "even"
  to   = END
}

edge {
  from = "odd"
  to   = END
}

conditional_edge "start" {
  condition = state.parity
  mapping   = { even = "even", odd = "odd" }
}
`

func compile(t *testing.T, src string) *stategraph.CompiledGraph {
	t.Helper()
	def, err := definition.Parse([]byte(src), "test.hcl", nil)
	require.NoError(t, err)
	compiled, err := def.Compile()
	require.NoError(t, err)
	return compiled
}

func TestParse_ConditionalRouting(t *testing.T) {
	compiled := compile(t, parityGraph)
	assert.Equal(t, 10, compiled.MaxIterations())
	assert.Equal(t, "start", compiled.EntryPoint())
	assert.True(t, compiled.IsConditional("start"))

	out, err := compiled.Invoke(context.Background(), state.Map{"value": state.Int(4)})
	require.NoError(t, err)
	assert.True(t, out["label"].Equal(state.String("EVEN-4")), "label: %v", out["label"])

	out, err = compiled.Invoke(context.Background(), state.Map{"value": state.Int(3)})
	require.NoError(t, err)
	assert.True(t, out["label"].Equal(state.String("odd")))
}

func TestParse_SchemaAndAppend(t *testing.T) {
	compiled := compile(t, `
entry = "collect"

schema {
  max_append = 3
  field "items" {
    type    = "list"
    reducer = "append"
  }
  field "n" {
    type = "number"
  }
}

node "collect" {
  update = { items = [state.n], n = state.n + 1 }
}

conditional_edge "collect" {
  condition = state.n >= 5 ? "done" : "more"
  mapping   = { done = END, more = "collect" }
}
`)

	require.NotNil(t, compiled.Schema())
	out, err := compiled.Invoke(context.Background(), state.Map{"n": state.Int(0), "items": state.List()})
	require.NoError(t, err)
	assert.True(t, out["items"].Equal(state.List(state.Int(2), state.Int(3), state.Int(4))), "items: %v", out["items"])
}

func TestParse_Functions(t *testing.T) {
	compiled := compile(t, `
entry = "f"

node "f" {
  update = {
    lower   = lower("ABC")
    length  = length(state.words)
    joined  = concat(state.words, ["c"])
    biggest = max(1, 7, 3)
    least   = min(4, 2)
    json    = jsonencode({ a = 1 })
  }
}

edge {
  from = "f"
  to   = END
}
`)

	out, err := compiled.Invoke(context.Background(), state.Map{"words": state.Strings("a", "b")})
	require.NoError(t, err)
	assert.True(t, out["lower"].Equal(state.String("abc")))
	assert.True(t, out["length"].Equal(state.Int(2)))
	assert.True(t, out["joined"].Equal(state.Strings("a", "b", "c")), "joined: %v", out["joined"])
	assert.True(t, out["biggest"].Equal(state.Int(7)))
	assert.True(t, out["least"].Equal(state.Int(2)))
	assert.True(t, out["json"].Equal(state.String(`{"a":1}`)))
}

func TestParse_BuiltinHandlers(t *testing.T) {
	compiled := compile(t, `
entry = "echo"

node "echo" {
  handler = "echo"
  args    = { field = "input", output = "copy" }
}

node "bump" {
  handler = "increment"
  args    = { field = "count", by = 2 }
}

edge {
  from = "echo"
  to   = "bump"
}

edge {
  from = "bump"
  to   = END
}
`)

	out, err := compiled.Invoke(context.Background(), state.Map{"input": state.String("hi"), "count": state.Int(1)})
	require.NoError(t, err)
	assert.True(t, out["copy"].Equal(state.String("hi")))
	assert.True(t, out["count"].Equal(state.Int(3)))
}

func TestParse_CustomRegistry(t *testing.T) {
	reg := definition.NewRegistry()
	require.NoError(t, reg.Register("shout", func(args state.Map) (stategraph.NodeHandler, error) {
		suffix := definition.Args(args).String("suffix", "!")
		return stategraph.HandlerFunc(func(_ stategraph.Context, st state.Map, _ stategraph.RunConfig) (state.Map, error) {
			s, _ := st["input"].AsString()
			return state.Map{"output": state.String(s + suffix)}, nil
		}), nil
	}))
	assert.ErrorIs(t, reg.Register("echo", func(state.Map) (stategraph.NodeHandler, error) { return nil, nil }),
		definition.ErrDuplicateHandler)
	assert.Error(t, reg.Register("nil", nil))
	assert.Contains(t, reg.Names(), "shout")

	def, err := definition.Parse([]byte(`
entry = "s"
node "s" {
  handler = "shout"
  args    = { suffix = "!!" }
}
edge {
  from = "s"
  to   = END
}
`), "custom.hcl", reg)
	require.NoError(t, err)
	compiled, err := def.Compile()
	require.NoError(t, err)

	out, err := compiled.Invoke(context.Background(), state.Map{"input": state.String("hey")})
	require.NoError(t, err)
	assert.True(t, out["output"].Equal(state.String("hey!!")))
}

func TestParse_Interrupts(t *testing.T) {
	def, err := definition.Parse([]byte(`
entry = "a"
node "a" {
  update = { x = 1 }
}
node "b" {
  update = { y = 2 }
}
edge {
  from = "a"
  to   = "b"
}
edge {
  from = "b"
  to   = END
}
interrupt {
  before = ["b"]
}
checkpoint = "memory://"
`), "interrupt.hcl", nil)
	require.NoError(t, err)
	assert.Equal(t, "memory://", def.Checkpoint)

	compiled, err := def.Compile()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, compiled.InterruptBefore())
	assert.Empty(t, compiled.InterruptAfter())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{
			name:    "syntax",
			src:     `entry = `,
			wantErr: "parse bad.hcl",
		},
		{
			name:    "missing entry",
			src:     `node "a" { update = {} }`,
			wantErr: "entry",
		},
		{
			name:    "unknown handler",
			src:     "entry = \"a\"\nnode \"a\" {\n  handler = \"nope\"\n}",
			wantErr: "unknown handler",
		},
		{
			name:    "handler and update",
			src:     "entry = \"a\"\nnode \"a\" {\n  handler = \"echo\"\n  update = { x = 1 }\n}",
			wantErr: "not both",
		},
		{
			name:    "neither handler nor update",
			src:     "entry = \"a\"\nnode \"a\" {\n}",
			wantErr: "one of handler or update is required",
		},
		{
			name:    "bad field type",
			src:     "entry = \"a\"\nschema {\n  field \"x\" {\n    type = \"quaternion\"\n  }\n}",
			wantErr: `schema field "x"`,
		},
		{
			name:    "bad max iterations",
			src:     "entry = \"a\"\nmax_iterations = 0",
			wantErr: "max iterations must be positive",
		},
		{
			name:    "handler args rejected",
			src:     "entry = \"a\"\nnode \"a\" {\n  handler = \"increment\"\n}",
			wantErr: "args.field is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := definition.Parse([]byte(tt.src), "bad.hcl", nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBuild_ReturnsBuilderViolations(t *testing.T) {
	def, err := definition.Parse([]byte(`
entry = "a"
node "a" {
  update = {}
}
node "a" {
  update = {}
}
`), "dup.hcl", nil)
	require.NoError(t, err)

	_, err = def.Build()
	assert.ErrorIs(t, err, stategraph.ErrDuplicateNode)
}

func TestCompile_ReportsMissingTargets(t *testing.T) {
	def, err := definition.Parse([]byte(`
entry = "a"
node "a" {
  update = {}
}
edge {
  from = "a"
  to   = "ghost"
}
`), "ghost.hcl", nil)
	require.NoError(t, err)

	_, err = def.Compile()
	assert.ErrorIs(t, err, stategraph.ErrNodeNotFound)
}

func TestConditionFailureIsRoutingError(t *testing.T) {
	compiled := compile(t, `
entry = "a"
node "a" {
  update = {}
}
conditional_edge "a" {
  condition = state.missing
  mapping   = { x = END }
}
`)

	_, err := compiled.Invoke(context.Background(), state.Map{})
	var routeErr *stategraph.RouterError
	require.ErrorAs(t, err, &routeErr)
	assert.Equal(t, "a", routeErr.From)

	var condErr *stategraph.ConditionError
	require.ErrorAs(t, err, &condErr)
	assert.Contains(t, err.Error(), "Unsupported attribute")
	assert.Contains(t, err.Error(), "missing")
}

func TestConditionNotAKey(t *testing.T) {
	compiled := compile(t, `
entry = "a"
node "a" {
  update = { tags = ["x"] }
}
conditional_edge "a" {
  condition = state.tags
  mapping   = { x = END }
}
`)

	_, err := compiled.Invoke(context.Background(), state.Map{})
	var condErr *stategraph.ConditionError
	require.ErrorAs(t, err, &condErr)
	assert.Contains(t, err.Error(), "is not a key")
}

func TestUpdateMustBeObject(t *testing.T) {
	compiled := compile(t, `
entry = "a"
node "a" {
  update = "not an object"
}
edge {
  from = "a"
  to   = END
}
`)

	_, err := compiled.Invoke(context.Background(), state.Map{})
	assert.ErrorContains(t, err, "expected an object")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.hcl")
	require.NoError(t, os.WriteFile(path, []byte(parityGraph), 0o644))

	def, err := definition.Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, path, def.Filename)
	assert.Equal(t, 10, def.MaxIterations)

	_, err = definition.Load(filepath.Join(t.TempDir(), "missing.hcl"), nil)
	assert.Error(t, err)
}
