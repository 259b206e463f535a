// Package activeapp reports the name of the application that currently has
// keyboard focus. The lookup shells out to a platform helper and degrades to
// "unknown" on any failure.
package activeapp

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"
)

const DefaultTimeout = 2 * time.Second

// CommandRunner runs name with args and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Resolver looks up the focused application. The zero value uses the
// platform command and the default timeout.
type Resolver struct {
	Run     CommandRunner
	Timeout time.Duration
}

func New() *Resolver { return &Resolver{} }

// ActiveApp returns the focused application name. The second result is
// false when the platform has no helper, the helper fails or prints nothing.
func (r *Resolver) ActiveApp(ctx context.Context) (string, bool) {
	name, args, ok := lookupCommand()
	if !ok {
		return "", false
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	run := r.Run
	if run == nil {
		run = execRunner
	}
	out, err := run(ctx, name, args...)
	if err != nil || ctx.Err() != nil {
		return "", false
	}
	app := strings.TrimSpace(string(out))
	if app == "" {
		return "", false
	}
	return app, true
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return stdout.Bytes(), nil
}
