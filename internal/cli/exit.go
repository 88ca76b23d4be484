package cli

import "fmt"

// Exit codes.
const (
	exitRuntime    = 1
	exitValidation = 2
	exitInput      = 3
)

// ExitError is an error that carries a process exit code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{Code: code, Message: fmt.Sprintf(format, args...)}
}
