package stategraph

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

// Sentinel errors for graph building. Builder methods panic with a
// *BuildError wrapping one of these.
var (
	// ErrEmptyNodeName indicates AddNode was called with an empty name.
	ErrEmptyNodeName = errors.New("node name cannot be empty")

	// ErrReservedNodeName indicates a node name collides with END.
	ErrReservedNodeName = errors.New("node name is reserved")

	// ErrInvalidNodeName indicates a node name contains whitespace.
	ErrInvalidNodeName = errors.New("node name cannot contain whitespace")

	// ErrDuplicateNode indicates a node name was registered twice.
	ErrDuplicateNode = errors.New("duplicate node")

	// ErrNilHandler indicates a node was registered without a handler.
	ErrNilHandler = errors.New("node handler cannot be nil")

	// ErrNilCondition indicates a conditional edge without a condition function.
	ErrNilCondition = errors.New("condition function cannot be nil")

	// ErrEmptyMapping indicates a conditional edge with no mapping entries
	// or an empty mapping key.
	ErrEmptyMapping = errors.New("conditional edge mapping cannot be empty")

	// ErrConflictingEdges indicates a source with both a fixed edge and a
	// conditional edge group.
	ErrConflictingEdges = errors.New("conflicting edge types")

	// ErrDuplicateEdge indicates a second fixed edge or second conditional
	// group from the same source.
	ErrDuplicateEdge = errors.New("duplicate edge")

	// ErrNilCheckpointer indicates SetCheckpointer was called with nil.
	ErrNilCheckpointer = errors.New("checkpointer cannot be nil")
)

// Sentinel errors for compilation. Compile joins every failure it finds.
var (
	// ErrNoEntryPoint indicates SetEntryPoint() was not called before Compile().
	ErrNoEntryPoint = errors.New("entry point not set")

	// ErrEntryNotFound indicates the entry point references a non-existent node.
	ErrEntryNotFound = errors.New("entry point node not found")

	// ErrNodeNotFound indicates an edge references a non-existent node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrDeadEnd indicates a node with no outgoing edge.
	ErrDeadEnd = errors.New("dead end")

	// ErrUnknownInterruptNode indicates an interrupt set names an unknown node.
	ErrUnknownInterruptNode = errors.New("unknown interrupt node")

	// ErrInvalidMaxIterations indicates a non-positive iteration limit.
	ErrInvalidMaxIterations = errors.New("max iterations must be positive")
)

// Sentinel errors for execution.
var (
	// ErrNilContext indicates Invoke or Stream was called with a nil context.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrNotStateUpdate indicates a handler returned a nil map.
	ErrNotStateUpdate = errors.New("node must return a state-update mapping")

	// ErrInvalidConditionKey indicates a condition function returned an empty key.
	ErrInvalidConditionKey = errors.New("condition returned empty key")

	// ErrUnmappedKey indicates a condition key with no mapping entry.
	ErrUnmappedKey = errors.New("no mapping exists for key")

	// ErrInvalidResumeNode indicates a resume point names an unknown node.
	ErrInvalidResumeNode = errors.New("invalid resume node")
)

// BuildError is the panic value of builder methods.
type BuildError struct {
	// Op is the builder method ("add node", "add edge", ...).
	Op string
	// Subject is the node or edge source the call was about.
	Subject string
	// Err is the sentinel describing the violation.
	Err error
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	return fmt.Sprintf("stategraph: %s %q: %v", e.Op, e.Subject, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *BuildError) Unwrap() error {
	return e.Err
}

func buildPanic(op, subject string, err error) {
	panic(&BuildError{Op: op, Subject: subject, Err: err})
}

// CheckpointError wraps errors from checkpoint operations.
type CheckpointError struct {
	// Node is the node whose checkpoint failed.
	Node string
	// Op is the operation that failed ("save", "load").
	Op string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s at node %s: %v", e.Op, e.Node, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CheckpointError) Unwrap() error {
	return e.Err
}

// NodeError wraps an error with node context.
type NodeError struct {
	// Node is the name of the node that failed.
	Node string
	// Op is the operation that failed ("execute", "merge", "route").
	Op string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.Node, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// ConditionError reports a condition that could not produce a routing key.
// Conditions raise it with FailCondition; the engine returns it inside a
// *RouterError.
type ConditionError struct {
	Err error
}

// Error implements the error interface.
func (e *ConditionError) Error() string {
	return fmt.Sprintf("evaluate condition: %v", e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ConditionError) Unwrap() error {
	return e.Err
}

// FailCondition aborts the calling ConditionFunc. The run fails with a
// *RouterError wrapping a *ConditionError that carries err.
func FailCondition(err error) {
	panic(&ConditionError{Err: err})
}

// PanicError captures a panic raised by a node handler or condition.
type PanicError struct {
	// Node is the node whose handler panicked.
	Node string
	// Value is the value passed to panic().
	Value any
	// Stack is the stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.Node, e.Value)
}

// CancellationError reports a run stopped by its context before a node.
type CancellationError struct {
	// Node is the node that was about to execute.
	Node string
	// State is the state at cancellation.
	State state.Map
	// Cause is context.Canceled or context.DeadlineExceeded.
	Cause error
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	return fmt.Sprintf("cancelled before node %s: %v", e.Node, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// RouterError wraps errors from conditional edge resolution.
type RouterError struct {
	// From is the node owning the conditional edge.
	From string
	// Key is what the condition function returned.
	Key string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *RouterError) Error() string {
	return fmt.Sprintf("condition from %s returned %q: %v", e.From, e.Key, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *RouterError) Unwrap() error {
	return e.Err
}
