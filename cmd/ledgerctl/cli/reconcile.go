package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hospital-backoffice/backoffice/internal/app"
	"github.com/hospital-backoffice/backoffice/jobs"
)

// ErrDriftFound makes the command exit non-zero when any ledger disagrees
// with its stored position.
var ErrDriftFound = errors.New("ledgerctl: ledger drift found")

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Verify stock and vendor positions against their ledgers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.LoadConfig()
		if err != nil {
			return err
		}
		logger := app.NewLogger(cfg)
		rt, err := app.OpenRuntime(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()

		job := jobs.NewReconcileJob(rt.Services.Inventory, rt.Services.Vendors, rt.Locker(), logger, nil)
		return runReconcile(cmd.Context(), job, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

type reconciler interface {
	Run(ctx context.Context, payload jobs.ReconcilePayload) (jobs.ReconcileReport, error)
}

func runReconcile(ctx context.Context, job reconciler, out io.Writer) error {
	report, err := job.Run(ctx, jobs.ReconcilePayload{RequestedBy: "ledgerctl"})
	if err != nil {
		return err
	}
	writeReport(out, report)
	if !report.Clean() {
		return ErrDriftFound
	}
	return nil
}

func writeReport(out io.Writer, report jobs.ReconcileReport) {
	fmt.Fprintf(out, "stock drift: %d\n", len(report.Stock))
	for _, d := range report.Stock {
		fmt.Fprintf(out, "  %s #%d %q stock=%d ledger=%d\n", d.Item.Kind, d.Item.ID, d.Name, d.Stock, d.LedgerSum)
	}
	fmt.Fprintf(out, "vendor drift: %d\n", len(report.Vendors))
	for _, d := range report.Vendors {
		fmt.Fprintf(out, "  vendor #%d %q stored=%s %s replayed=%s %s\n",
			d.VendorID, d.Name,
			d.Stored.Balance.StringFixed(2), d.Stored.Type,
			d.Replayed.Balance.StringFixed(2), d.Replayed.Type)
	}
	slog.Default().Debug("reconcile report written", slog.Duration("duration", report.Duration))
}
