package stategraph

import (
	"fmt"

	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

// InterruptPoint says whether an interrupt fired before or after its node.
type InterruptPoint string

const (
	// InterruptBefore fires before the node runs, with the pre-execution state.
	InterruptBefore InterruptPoint = "before"
	// InterruptAfter fires after the node's update is merged and checkpointed.
	InterruptAfter InterruptPoint = "after"
)

// Interrupt is delivered to the InterruptHandler at an interrupt point.
// It is an observation; the run continues when the handler returns.
type Interrupt struct {
	State state.Map
	Node  string
	// Step is the node's 1-based index in the run, at both points.
	Step    int
	Point   InterruptPoint
	Message string
}

// InterruptHandler observes interrupts. It runs synchronously on the
// execution goroutine. To stop the run, cancel the context passed to
// Invoke or Stream; the run then fails before its next node with a
// *CancellationError.
type InterruptHandler func(ctx Context, intr Interrupt)

func newInterrupt(st state.Map, node string, step int, point InterruptPoint) Interrupt {
	return Interrupt{
		State:   st.Clone(),
		Node:    node,
		Step:    step,
		Point:   point,
		Message: fmt.Sprintf("interrupt %s node %q", point, node),
	}
}
