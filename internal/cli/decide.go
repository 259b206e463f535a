package cli

import (
	"fmt"

	"github.com/sentinel-pii/sentinel/internal/config"
	"github.com/sentinel-pii/sentinel/internal/policy"
	"github.com/sentinel-pii/sentinel/pkg/types"
	"github.com/spf13/cobra"
)

type decideResult struct {
	App    string       `json:"app"`
	Action types.Action `json:"action"`
	policy.Decision
}

func newDecideCmd() *cobra.Command {
	var (
		app       string
		denylist  []string
		allowlist []string
	)
	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Show the redaction decision for an application",
		Long: `Evaluate the allowlist and denylist for an application name.

Lists come from the config file unless --denylist or --allowlist is given.
An empty --app means the foreground application is unknown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			lists := policy.Lists{Denylist: cfg.Policy.Denylist, Allowlist: cfg.Policy.Allowlist}
			if cmd.Flags().Changed("denylist") {
				lists.Denylist = config.NormalizeList(denylist)
			}
			if cmd.Flags().Changed("allowlist") {
				lists.Allowlist = config.NormalizeList(allowlist)
			}

			d := lists.Decide(app)
			res := decideResult{App: app, Action: d.Action(), Decision: d}
			text := fmt.Sprintf("%s (%s)", d.Action(), d.Rule)
			if d.Matched != "" {
				text = fmt.Sprintf("%s (%s: %q)", d.Action(), d.Rule, d.Matched)
			}
			return printResult(cmd, res, text)
		},
	}
	cmd.Flags().StringVar(&app, "app", "", "Active application name")
	cmd.Flags().StringSliceVar(&denylist, "denylist", nil, "Redact only in applications matching these names")
	cmd.Flags().StringSliceVar(&allowlist, "allowlist", nil, "Never redact in applications matching these names")
	return cmd
}
