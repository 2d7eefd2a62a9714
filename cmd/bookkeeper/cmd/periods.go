package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/bookkeeping-engine/books"
)

var (
	periodAccount string
	periodMonth   string
)

// periodsCmd groups the period subcommands.
var periodsCmd = &cobra.Command{
	Use:   "periods",
	Short: "Open, close and inspect monthly periods",
	Long: `Manage an account's monthly periods.

Example:
  bookkeeper periods current --account <id>
  bookkeeper periods open --account <id> --month 2025-03
  bookkeeper periods close --account <id> --month 2025-03
  bookkeeper periods show --account <id> --month 2025-03`,
}

var periodsCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "Print the open period",
	Run: func(cmd *cobra.Command, args []string) {
		engine, closeAll := openEngine(loadConfig())
		defer closeAll()

		month, err := engine.GetOpenPeriod(context.Background(), books.AccountID(periodAccount))
		exitOnError(err, "failed to get open period")
		fmt.Println(month)
	},
}

var periodsOpenCmd = &cobra.Command{
	Use:   "open",
	Short: "Open a month for posting",
	Run: func(cmd *cobra.Command, args []string) {
		month := parseMonthFlag()
		engine, closeAll := openEngine(loadConfig())
		defer closeAll()

		res, err := engine.OpenPeriod(context.Background(), books.AccountID(periodAccount), month)
		exitOnError(err, "failed to open period")
		switch {
		case res.AlreadyOpen:
			fmt.Printf("%s already open\n", month)
		case res.Backdated:
			fmt.Printf("opened %s (backdated, recalculated=%t)\n", month, res.Recalculated)
		default:
			fmt.Printf("opened %s\n", month)
		}
		for _, f := range res.Failures {
			fmt.Printf("failed  %s: %v\n", f.LedgerHeadID, f.Err)
		}
	},
}

var periodsCloseCmd = &cobra.Command{
	Use:   "close",
	Short: "Close the open month",
	Run: func(cmd *cobra.Command, args []string) {
		month := parseMonthFlag()
		engine, closeAll := openEngine(loadConfig())
		defer closeAll()

		res, err := engine.ClosePeriod(context.Background(), books.AccountID(periodAccount), month)
		exitOnError(err, "failed to close period")
		fmt.Printf("closed %s, last closed date %s\n", month, res.LastClosedDate.Format("2006-01-02"))
	},
}

var periodsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print every head's snapshot for a month",
	Run: func(cmd *cobra.Command, args []string) {
		month := parseMonthFlag()
		engine, closeAll := openEngine(loadConfig())
		defer closeAll()

		rows, err := engine.GetMonthlyBalances(context.Background(), books.AccountID(periodAccount), month)
		exitOnError(err, "failed to get balances")

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "HEAD\tOPENING\tRECEIPTS\tPAYMENTS\tCLOSING\tCASH\tBANK\tOPEN\t")
		for _, b := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%t\t\n",
				b.LedgerHeadID,
				b.OpeningBalance.StringFixed(2),
				b.Receipts.StringFixed(2),
				b.Payments.StringFixed(2),
				b.ClosingBalance.StringFixed(2),
				b.CashInHand.StringFixed(2),
				b.CashInBank.StringFixed(2),
				b.IsOpen)
		}
		w.Flush()
	},
}

func init() {
	periodsCmd.PersistentFlags().StringVar(&periodAccount, "account", "", "account id (required)")
	_ = periodsCmd.MarkPersistentFlagRequired("account")
	for _, c := range []*cobra.Command{periodsOpenCmd, periodsCloseCmd, periodsShowCmd} {
		c.Flags().StringVar(&periodMonth, "month", "", "month YYYY-MM (required)")
		_ = c.MarkFlagRequired("month")
	}
	periodsCmd.AddCommand(periodsCurrentCmd, periodsOpenCmd, periodsCloseCmd, periodsShowCmd)
}

func parseMonthFlag() books.Month {
	t, err := time.Parse("2006-01", periodMonth)
	exitOnError(err, "invalid --month")
	return books.MonthOf(t)
}
