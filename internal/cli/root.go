// Package cli implements lendctl, the operator tool of the loan coordinator.
package cli

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"p2plend/internal/app"
	"p2plend/internal/config"
	"p2plend/internal/logging"
)

// newApp builds the coordinator for a command; tests swap it.
var newApp = func() (*app.App, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return app.New(cfg, logging.NewWithWriter(io.Discard, cfg.LogLevel, cfg.LogFormat))
}

var rootCmd = &cobra.Command{
	Use:   "lendctl",
	Short: "Operate the P2P loan coordinator",
	Long: `lendctl repairs and inspects loan records using the same environment
configuration as the API server. With LEDGER_MODE=dev the ledger lives in
memory of this process only, so point it at a signer to inspect real loans.`,
	SilenceUsage: true,
}

// Execute runs the command tree against args.
func Execute(args []string, out io.Writer) error {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	return rootCmd.Execute()
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func withApp(fn func(cmd *cobra.Command, args []string, a *app.App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, args, a)
	}
}
