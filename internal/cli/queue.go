package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/sentinel-pii/sentinel/internal/config"
	"github.com/sentinel-pii/sentinel/internal/telemetry"
	"github.com/spf13/cobra"
)

// openQueue builds the telemetry queue described by cfg.
func openQueue(cfg *config.Config, version string, logger *slog.Logger, opts ...telemetry.Option) (*telemetry.Queue, error) {
	maxBytes, err := cfg.Telemetry.MaxQueueBytes()
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.Telemetry.TimeoutDuration()
	if err != nil {
		return nil, err
	}
	opts = append([]telemetry.Option{telemetry.WithLogger(logger)}, opts...)
	return telemetry.New(telemetry.Config{
		Enabled:       cfg.Telemetry.Enabled,
		URL:           cfg.Telemetry.URL,
		APIKey:        cfg.Telemetry.APIKey,
		QueueFile:     cfg.Telemetry.QueueFile,
		MaxQueueBytes: maxBytes,
		MaxAge:        cfg.Telemetry.MaxAge(),
		AgentVersion:  version,
		Timeout:       timeout,
	}, opts...)
}

func newQueueCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the telemetry queue",
	}

	cmd.AddCommand(newQueueStatusCmd(version))
	cmd.AddCommand(newQueueFlushCmd(version))
	cmd.AddCommand(newQueueRotateCmd(version))
	cmd.AddCommand(newQueuePruneCmd(version))
	cmd.AddCommand(newQueueArchivesCmd(version))
	return cmd
}

// withQueue loads config and opens the queue before calling fn.
func withQueue(cmd *cobra.Command, version string, fn func(*telemetry.Queue) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	q, err := openQueue(cfg, version, setupLogging(cfg))
	if err != nil {
		return err
	}
	return fn(q)
}

func newQueueStatusCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue size, event count and archives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, version, func(q *telemetry.Queue) error {
				st, err := q.Status()
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(cmd, st)
				}
				return printStatus(cmd, st)
			})
		},
	}
}

func printStatus(cmd *cobra.Command, st telemetry.Status) error {
	var b strings.Builder
	fmt.Fprintf(&b, "path:      %s\n", st.Path)
	fmt.Fprintf(&b, "enabled:   %t\n", st.Enabled)
	if !st.Exists {
		b.WriteString("queue:     (missing)\n")
	} else {
		fmt.Fprintf(&b, "size:      %d bytes\n", st.SizeBytes)
		fmt.Fprintf(&b, "events:    %d\n", st.Events)
		if st.Malformed > 0 {
			fmt.Fprintf(&b, "malformed: %d\n", st.Malformed)
		}
		if st.Oldest != "" {
			fmt.Fprintf(&b, "oldest:    %s\n", st.Oldest)
			fmt.Fprintf(&b, "newest:    %s\n", st.Newest)
		}
	}
	fmt.Fprintf(&b, "archives:  %d\n", len(st.Archives))
	_, err := fmt.Fprint(cmd.OutOrStdout(), b.String())
	return err
}

func newQueueFlushCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Deliver queued events to the collector once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, version, func(q *telemetry.Queue) error {
				if !q.Enabled() {
					return printResult(cmd, map[string]any{"flushed": false, "reason": "telemetry disabled"}, "telemetry disabled; nothing sent")
				}
				if err := q.FlushOnce(cmd.Context()); err != nil {
					return fmt.Errorf("flush: %w", err)
				}
				return printResult(cmd, map[string]any{"flushed": true}, "ok")
			})
		},
	}
}

func newQueueRotateCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Archive the queue file if it exceeds the size limit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, version, func(q *telemetry.Queue) error {
				if err := q.RotateIfNeeded(); err != nil {
					return err
				}
				return printResult(cmd, map[string]any{"ok": true}, "ok")
			})
		},
	}
}

func newQueuePruneCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Drop queued events older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, version, func(q *telemetry.Queue) error {
				if err := q.PruneOldEvents(); err != nil {
					return err
				}
				return printResult(cmd, map[string]any{"ok": true}, "ok")
			})
		},
	}
}

func newQueueArchivesCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "archives",
		Short: "List rotated queue archives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, version, func(q *telemetry.Queue) error {
				archives, err := q.Archives()
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(cmd, archives)
				}
				for _, a := range archives {
					fmt.Fprintln(cmd.OutOrStdout(), a)
				}
				return nil
			})
		},
	}
}
