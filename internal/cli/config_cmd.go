package cli

import (
	"fmt"

	"github.com/sentinel-pii/sentinel/internal/config"
	"github.com/spf13/cobra"
)

const redactedValue = "********"

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show resolved config (after defaults and env overrides) as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			b, err := config.Marshal(maskSecrets(cfg))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(cmd); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	})

	return cmd
}

// maskSecrets returns a copy of cfg safe to print.
func maskSecrets(cfg *config.Config) *config.Config {
	out := *cfg
	if out.Telemetry.APIKey != "" {
		out.Telemetry.APIKey = redactedValue
	}
	if len(cfg.Telemetry.OTEL.Headers) > 0 {
		h := make(map[string]string, len(cfg.Telemetry.OTEL.Headers))
		for k := range cfg.Telemetry.OTEL.Headers {
			h[k] = redactedValue
		}
		out.Telemetry.OTEL.Headers = h
	}
	return &out
}
