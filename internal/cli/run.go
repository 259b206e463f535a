package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sentinel-pii/sentinel/internal/activeapp"
	"github.com/sentinel-pii/sentinel/internal/agent"
	"github.com/sentinel-pii/sentinel/internal/config"
	"github.com/sentinel-pii/sentinel/internal/metrics"
	"github.com/sentinel-pii/sentinel/internal/policy"
	"github.com/sentinel-pii/sentinel/internal/scanner"
	"github.com/sentinel-pii/sentinel/internal/telemetry"
	"github.com/sentinel-pii/sentinel/internal/telemetry/otelmirror"
	"github.com/sentinel-pii/sentinel/pkg/hotreload"
	"github.com/spf13/cobra"
)

type runFlags struct {
	interval     string
	dryRun       bool
	denylist     []string
	allowlist    []string
	telemetry    bool
	telemetryURL string
	metricsAddr  string
}

func newRunCmd(version string) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch the clipboard and redact secrets",
		Long: `Poll the system clipboard and replace detected secrets when the
foreground application is not trusted.

Denylist and allowlist changes in the config file are applied without a
restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			applyRunFlags(cmd, cfg, f)
			return runAgent(cmd, cfg, version)
		},
	}
	cmd.Flags().StringVar(&f.interval, "interval", "", "Clipboard poll interval, e.g. 200ms")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Detect and record but never modify the clipboard")
	cmd.Flags().StringSliceVar(&f.denylist, "denylist", nil, "Redact only in applications matching these names")
	cmd.Flags().StringSliceVar(&f.allowlist, "allowlist", nil, "Never redact in applications matching these names")
	cmd.Flags().BoolVar(&f.telemetry, "telemetry", false, "Enable telemetry delivery")
	cmd.Flags().StringVar(&f.telemetryURL, "telemetry-url", "", "Collector URL for telemetry delivery")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

// applyRunFlags layers explicitly set flags over the loaded config.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config, f runFlags) {
	fl := cmd.Flags()
	if fl.Changed("interval") {
		cfg.Agent.Interval = f.interval
	}
	if fl.Changed("dry-run") {
		cfg.Agent.DryRun = f.dryRun
	}
	if fl.Changed("denylist") {
		cfg.Policy.Denylist = config.NormalizeList(f.denylist)
	}
	if fl.Changed("allowlist") {
		cfg.Policy.Allowlist = config.NormalizeList(f.allowlist)
	}
	if fl.Changed("telemetry") {
		cfg.Telemetry.Enabled = f.telemetry
	}
	if fl.Changed("telemetry-url") {
		cfg.Telemetry.URL = f.telemetryURL
	}
	if fl.Changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
}

func runAgent(cmd *cobra.Command, cfg *config.Config, version string) error {
	logger := setupLogging(cfg)

	interval, err := cfg.Agent.IntervalDuration()
	if err != nil {
		return err
	}
	flushInterval, err := cfg.Telemetry.FlushIntervalDuration()
	if err != nil {
		return err
	}
	reg, err := scanner.FromConfig(cfg.Scanner.Patterns)
	if err != nil {
		return err
	}
	if !agent.ClipboardSupported() {
		return fmt.Errorf("no clipboard utility available on this system")
	}

	release, err := agent.AcquireLock(cfg.Agent.LockFile)
	if err != nil {
		if errors.Is(err, agent.ErrAlreadyRunning) {
			return exitErrorf(ExitAlreadyRunning, "another sentinel agent holds %s", cfg.Agent.LockFile)
		}
		return err
	}
	defer release()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mc := metrics.New()

	var qopts []telemetry.Option
	if cfg.Telemetry.OTEL.Enabled {
		mirror, err := otelmirror.New(ctx, otelmirror.Config{
			Endpoint: cfg.Telemetry.OTEL.Endpoint,
			Protocol: cfg.Telemetry.OTEL.Protocol,
			Insecure: cfg.Telemetry.OTEL.Insecure,
			Headers:  cfg.Telemetry.OTEL.Headers,
			Resource: otelmirror.BuildResource("sentinel", version),
		})
		if err != nil {
			return err
		}
		defer mirror.Close()
		qopts = append(qopts, telemetry.WithMirror(mirror))
	}

	q, err := openQueue(cfg, version, logger, qopts...)
	if err != nil {
		return err
	}

	a := agent.New(agent.Options{
		Interval:      interval,
		FlushInterval: flushInterval,
		DryRun:        cfg.Agent.DryRun,
		RedactText:    cfg.Agent.RedactText,
		Registry:      reg,
		Lists:         policy.Lists{Denylist: cfg.Policy.Denylist, Allowlist: cfg.Policy.Allowlist},
	}, agent.SystemClipboard{}, activeapp.New(), metrics.WrapRecorder(q, mc),
		agent.WithLogger(logger),
		agent.WithMetrics(mc),
	)

	if path := configPath(cmd); path != "" {
		w, err := hotreload.NewConfigWatcher(hotreload.WatcherConfig{
			Path: path,
			Loader: &listsLoader{
				agent:         a,
				keepDenylist:  cmd.Flags().Changed("denylist"),
				keepAllowlist: cmd.Flags().Changed("allowlist"),
			},
			OnChange: func(path string, err error) {
				if err != nil {
					logger.Warn("config reload failed", "path", path, "error", err)
					return
				}
				logger.Info("config reloaded", "path", path)
			},
		})
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			logger.Warn("config watch disabled", "error", err)
		} else {
			defer w.Stop()
		}
	}

	if cfg.Metrics.Addr != "" {
		srv := newMetricsServer(cfg.Metrics.Addr, mc)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "error", err)
			}
		}()
		defer shutdownServer(srv)
		logger.Info("metrics listening", "addr", cfg.Metrics.Addr)
	}

	logger.Debug("starting", "version", version, "telemetry", cfg.Telemetry.Enabled, "queue", q.Path())
	return a.Run(ctx)
}

// listsLoader applies denylist and allowlist edits from the config file.
// Lists pinned by flags are left untouched.
type listsLoader struct {
	agent         *agent.Agent
	keepDenylist  bool
	keepAllowlist bool
}

func (l *listsLoader) Validate(path string) error {
	_, err := config.Load(path)
	return err
}

func (l *listsLoader) Load(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	next := l.agent.Lists()
	if !l.keepDenylist {
		next.Denylist = cfg.Policy.Denylist
	}
	if !l.keepAllowlist {
		next.Allowlist = cfg.Policy.Allowlist
	}
	l.agent.SetLists(next)
	return nil
}

func newMetricsServer(addr string, mc *metrics.Collector) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", mc.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}
}

func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("http shutdown", "addr", srv.Addr, "error", err)
	}
}
