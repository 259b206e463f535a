package cli

import (
	"os"

	"github.com/sentinel-pii/sentinel/internal/config"
	"github.com/spf13/cobra"
)

func NewRoot(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sentinel",
		Short:         "sentinel: keeps API secrets out of the wrong applications",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Version = version
	cmd.SetVersionTemplate("sentinel {{.Version}}\n")

	cmd.PersistentFlags().String("config", getenvDefault("SENTINEL_CONFIG", ""), "Config file path (YAML)")
	cmd.PersistentFlags().String("log-level", "", "Log level: debug|info|warn|error (overrides config)")
	cmd.PersistentFlags().Bool("json", false, "Print machine-readable JSON")

	cmd.AddCommand(newRunCmd(version))
	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newDecideCmd())
	cmd.AddCommand(newQueueCmd(version))
	cmd.AddCommand(newCollectCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

func configPath(cmd *cobra.Command) string {
	p, _ := cmd.Root().PersistentFlags().GetString("config")
	return p
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Root().PersistentFlags().GetBool("json")
	return v
}

// loadConfig resolves the configuration for cmd: file, defaults, env, then
// the --log-level flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return nil, err
	}
	if lvl, _ := cmd.Root().PersistentFlags().GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
