package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"p2plend/internal/app"
	"p2plend/internal/usecase/matching"
)

func init() {
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(viewCmd)
	rootCmd.AddCommand(migrateCmd)

	viewCmd.Flags().String("viewer", "", "Wallet address the view is computed for")
}

// ─── reconcile ──────────────────────────────────────────────────────────────

var reconcileCmd = &cobra.Command{
	Use:   "reconcile LOAN_ID",
	Short: "Rebuild one loan record from the ledger",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runReconcile),
}

func runReconcile(cmd *cobra.Command, args []string, a *app.App) error {
	loanID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid loan id %q", args[0])
	}
	dto, err := a.Coordinator.Reconcile(cmd.Context(), loanID)
	if err != nil {
		return err
	}
	return printJSON(cmd, dto)
}

// ─── sweep ──────────────────────────────────────────────────────────────────

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reconcile every loan the ledger or the record store knows",
	Args:  cobra.NoArgs,
	RunE:  withApp(runSweep),
}

func runSweep(cmd *cobra.Command, _ []string, a *app.App) error {
	rep, err := a.Coordinator.Sweep(cmd.Context())
	if rep != nil {
		if perr := printJSON(cmd, rep); perr != nil {
			return perr
		}
	}
	return err
}

// ─── view ───────────────────────────────────────────────────────────────────

var viewCmd = &cobra.Command{
	Use:       "view NAME",
	Short:     "Print a matching view",
	Long:      "Print one of the matching views: open-offers, open-requests, my-offers, my-requests, active, completed.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: viewNames(),
	RunE:      withApp(runView),
}

func viewNames() []string {
	out := make([]string, len(matching.Views))
	for i, v := range matching.Views {
		out[i] = string(v)
	}
	return out
}

func runView(cmd *cobra.Command, args []string, a *app.App) error {
	viewer, _ := cmd.Flags().GetString("viewer")
	items, err := a.Engine.View(cmd.Context(), matching.View(args[0]), viewer)
	if err != nil {
		return err
	}
	if items == nil {
		items = []matching.Listing{}
	}
	return printJSON(cmd, items)
}

// ─── migrate ────────────────────────────────────────────────────────────────

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the record store schema",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, _ []string, a *app.App) error {
		if err := app.Migrate(a.DB); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
		return nil
	}),
}
