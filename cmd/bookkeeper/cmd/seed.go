package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"

	"github.com/warp/bookkeeping-engine/scenario"
)

var seedReset bool

// seedCmd represents the seed command.
var seedCmd = &cobra.Command{
	Use:   "seed [scenario-id]",
	Short: "Load a demo scenario",
	Long: `Replay an embedded demo scenario through the engine.

Without an argument, lists the available scenarios.

Example:
  bookkeeper seed
  bookkeeper seed cheque-lifecycle --reset`,
	Args: cobra.MaximumNArgs(1),
	Run:  runSeed,
}

func init() {
	seedCmd.Flags().BoolVar(&seedReset, "reset", false, "wipe the database before loading")
}

func runSeed(cmd *cobra.Command, args []string) {
	if len(args) == 0 {
		list, err := scenario.List()
		exitOnError(err, "failed to list scenarios")
		for _, s := range list {
			fmt.Printf("%-20s %s\n", s.ID, s.Name)
		}
		return
	}

	cfg := loadConfig()
	engine, closeAll := openEngine(cfg)
	defer closeAll()

	s, err := scenario.Get(args[0])
	exitOnError(err, "unknown scenario")

	slog.Info("Loading scenario", "scenario_id", s.ID, "reset", seedReset)
	res, err := scenario.Load(context.Background(), engine, s, seedReset)
	exitOnError(err, "failed to load scenario")

	keys := make([]string, 0, len(res.Accounts))
	for k := range res.Accounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("account %-12s %s\n", k, res.Accounts[k])
	}
}
