//go:build !unix && !windows

package agent

// AcquireLock is a no-op where file locking is unavailable.
func AcquireLock(string) (func(), error) {
	return func() {}, nil
}
