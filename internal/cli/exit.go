package cli

import "fmt"

// Exit codes used by sentinel commands.
const (
	ExitSecretFound    = 1
	ExitInputTooLarge  = 2
	ExitAlreadyRunning = 3
)

// ExitError lets a command choose the process exit code. An empty message
// means the command already reported what happened.
type ExitError struct {
	code    int
	message string
}

func exitErrorf(code int, format string, args ...any) *ExitError {
	return &ExitError{code: code, message: fmt.Sprintf(format, args...)}
}

func (e *ExitError) Error() string {
	if e == nil {
		return ""
	}
	if e.message != "" {
		return e.message
	}
	return fmt.Sprintf("exit %d", e.code)
}

func (e *ExitError) Code() int {
	if e == nil {
		return 1
	}
	return e.code
}

func (e *ExitError) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}
