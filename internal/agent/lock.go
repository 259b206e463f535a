package agent

import "errors"

// ErrAlreadyRunning is returned by AcquireLock when another agent holds the
// lock file.
var ErrAlreadyRunning = errors.New("another sentinel agent is already running")
