package cli

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sentinel-pii/sentinel/internal/collector"
	"github.com/sentinel-pii/sentinel/internal/metrics"
	"github.com/sentinel-pii/sentinel/internal/scanner"
	"github.com/spf13/cobra"
)

func newCollectCmd() *cobra.Command {
	var (
		addr   string
		output string
	)
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run a development telemetry collector",
		Long: `Accept telemetry batches on POST /api/events and report counts on
GET /api/stats. Accepted events are appended to --output as JSON lines.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Collector.Addr = addr
			}
			if cmd.Flags().Changed("output") {
				cfg.Collector.Output = output
			}
			logger := setupLogging(cfg)

			reg, err := scanner.FromConfig(cfg.Scanner.Patterns)
			if err != nil {
				return err
			}
			mc := metrics.New()
			srv, err := collector.New(collector.Config{
				Output:       cfg.Collector.Output,
				APIKeyHashes: cfg.Collector.APIKeyHashes,
				Kinds:        reg.Kinds(),
			}, collector.WithMetrics(mc), collector.WithLogger(logger))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			httpSrv := &http.Server{
				Addr:              cfg.Collector.Addr,
				Handler:           srv.Router(),
				ReadHeaderTimeout: 15 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("collector listening", "addr", cfg.Collector.Addr, "output", cfg.Collector.Output)
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()
			mc.SetUp(true)

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("collector: %w", err)
				}
			}
			mc.SetUp(false)
			shutdownServer(httpSrv)
			logger.Info("collector stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	cmd.Flags().StringVar(&output, "output", "", "JSONL file receiving accepted events")
	return cmd
}
