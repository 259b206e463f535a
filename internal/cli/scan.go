package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/sentinel-pii/sentinel/internal/scanner"
	"github.com/spf13/cobra"
)

const maxScanInput = 1 << 20

type scanResult struct {
	Detected bool   `json:"detected"`
	Kind     string `json:"kind,omitempty"`
}

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [TEXT...]",
		Short: "Classify text as a secret kind (reads stdin when no text is given)",
		Long: `Classify text against the built-in and configured secret patterns.

Prints the detected kind, or "none". Exits 1 when a secret is found so the
command can be used in shell pipelines. Stdin is limited to 1 MiB; larger
input is rejected with exit code 2 rather than scanned partially.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			reg, err := scanner.FromConfig(cfg.Scanner.Patterns)
			if err != nil {
				return err
			}

			text := strings.Join(args, " ")
			if len(args) == 0 {
				b, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), maxScanInput+1))
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				if len(b) > maxScanInput {
					return exitErrorf(ExitInputTooLarge, "stdin exceeds %d bytes; split the input", maxScanInput)
				}
				text = string(b)
			}

			kind, ok := reg.Classify(text)
			res := scanResult{Detected: ok, Kind: string(kind)}
			label := "none"
			if ok {
				label = string(kind)
			}
			if err := printResult(cmd, res, label); err != nil {
				return err
			}
			if ok {
				return &ExitError{code: ExitSecretFound}
			}
			return nil
		},
	}
	return cmd
}
