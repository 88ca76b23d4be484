// Package llm provides chat-completion clients and a conversational session
// for agent nodes.
//
// Client is the provider seam: ClaudeCLI shells out to the claude binary,
// MockClient serves canned replies in tests. Chat wraps a Client with a
// system prompt, tool list and turn history, and satisfies
// stategraph.Chatter.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Client performs completions against a language model.
type Client interface {
	// Complete performs a synchronous completion.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Stream performs a streaming completion. The channel is closed after
	// the final chunk.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)
}

// Error is returned by clients for failed calls.
type Error struct {
	// Op is the client operation ("complete", "stream").
	Op string
	// Err is the underlying error.
	Err error
	// Retryable reports whether the call may succeed if repeated.
	Retryable bool
}

// NewError creates an Error.
func NewError(op string, err error, retryable bool) *Error {
	return &Error{Op: op, Err: err, Retryable: retryable}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("llm %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is an *Error marked retryable.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable
}
