//go:build darwin || linux

package activeapp

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestActiveApp(t *testing.T) {
	tests := []struct {
		name   string
		out    string
		err    error
		want   string
		wantOK bool
	}{
		{name: "trimmed name", out: "  Slack\n", want: "Slack", wantOK: true},
		{name: "blank output", out: " \n", wantOK: false},
		{name: "command failure", out: "Slack", err: errors.New("exit status 1"), wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotName string
			r := &Resolver{Run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
				gotName = name
				return []byte(tt.out), tt.err
			}}
			app, ok := r.ActiveApp(context.Background())
			if app != tt.want || ok != tt.wantOK {
				t.Fatalf("ActiveApp() = (%q, %v), want (%q, %v)", app, ok, tt.want, tt.wantOK)
			}
			wantName, _, _ := lookupCommand()
			if gotName != wantName {
				t.Fatalf("ran %q, want %q", gotName, wantName)
			}
		})
	}
}

func TestActiveApp_Timeout(t *testing.T) {
	r := &Resolver{
		Timeout: 20 * time.Millisecond,
		Run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			<-ctx.Done()
			return []byte("Slack"), nil
		},
	}
	start := time.Now()
	app, ok := r.ActiveApp(context.Background())
	if ok || app != "" {
		t.Fatalf("expected unknown after timeout, got (%q, %v)", app, ok)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not applied")
	}
}

func TestActiveApp_DeadlinePassedToRunner(t *testing.T) {
	r := &Resolver{Run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
		dl, ok := ctx.Deadline()
		if !ok || time.Until(dl) > DefaultTimeout {
			t.Errorf("runner context lacks default deadline")
		}
		return []byte("Terminal"), nil
	}}
	if app, ok := r.ActiveApp(context.Background()); !ok || app != "Terminal" {
		t.Fatalf("got (%q, %v)", app, ok)
	}
}
