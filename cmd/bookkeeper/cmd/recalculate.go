package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/bookkeeping-engine/books"
)

var (
	recalcAccount string
	recalcHead    string
	recalcFrom    string
)

// recalculateCmd represents the recalculate command.
var recalculateCmd = &cobra.Command{
	Use:   "recalculate",
	Short: "Recompute monthly snapshots from a date",
	Long: `Recompute monthly snapshots forward from the month of --from.

Runs every ledger head of the account unless --head is given. Heads that
fail are reported and the rest are still written.

Example:
  bookkeeper recalculate --account <id> --from 2025-03-01
  bookkeeper recalculate --account <id> --head <head-id> --from 2025-03-01`,
	Run: runRecalculate,
}

func init() {
	recalculateCmd.Flags().StringVar(&recalcAccount, "account", "", "account id (required)")
	recalculateCmd.Flags().StringVar(&recalcHead, "head", "", "ledger head id (default all heads)")
	recalculateCmd.Flags().StringVar(&recalcFrom, "from", "", "start date YYYY-MM-DD (required)")
	_ = recalculateCmd.MarkFlagRequired("account")
	_ = recalculateCmd.MarkFlagRequired("from")
}

func runRecalculate(cmd *cobra.Command, args []string) {
	from, err := time.Parse("2006-01-02", recalcFrom)
	exitOnError(err, "invalid --from")

	cfg := loadConfig()
	engine, closeAll := openEngine(cfg)
	defer closeAll()

	res, err := engine.Recalculate(context.Background(), books.AccountID(recalcAccount), books.LedgerHeadID(recalcHead), from)
	exitOnError(err, "recalculation failed")

	fmt.Printf("updated %d snapshot(s) from %s\n", len(res.Updated), books.MonthOf(from))
	for _, f := range res.Failures {
		fmt.Printf("failed  %s: %v\n", f.LedgerHeadID, f.Err)
	}
	if len(res.Failures) > 0 {
		slog.Warn("some ledger heads were not recalculated", "failed", len(res.Failures))
	}
}
