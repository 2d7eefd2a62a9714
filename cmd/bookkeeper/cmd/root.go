// Package cmd provides CLI commands for bookkeeper.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/warp/bookkeeping-engine/audit"
	"github.com/warp/bookkeeping-engine/books"
	"github.com/warp/bookkeeping-engine/config"
	"github.com/warp/bookkeeping-engine/store/sqlite"
)

var (
	cfgFile string
	debug   bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "bookkeeper",
	Short: "Monthly ledger closure and balance propagation",
	Long: `bookkeeper runs the bookkeeping engine: transactions and cheques
posted against ledger heads, monthly snapshots, and period open/close.

It supports:
- Serving the HTTP API
- Seeding demo scenarios
- Opening, closing and inspecting periods
- Recalculating snapshots from a date

Example:
  bookkeeper serve --port 8080
  bookkeeper seed backdated-open --reset
  bookkeeper periods open --account <id> --month 2025-03
  bookkeeper recalculate --account <id> --from 2025-01-01`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(slog.LevelInfo)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(recalculateCmd)
	rootCmd.AddCommand(periodsCmd)
}

func setupLogging(level slog.Level) {
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

// loadConfig loads and validates configuration, then reinstalls the logger
// at the configured level.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	exitOnError(err, "failed to load configuration")
	exitOnError(cfg.Validate(), "invalid configuration")
	setupLogging(cfg.LogLevel)
	return cfg
}

// openEngine opens the sqlite store and, when configured, the bbolt audit
// mirror. The returned func releases both.
func openEngine(cfg *config.Config) (*books.Engine, func()) {
	slog.Debug("Opening database", "path", cfg.DBPath)
	store, err := sqlite.New(cfg.DBPath)
	exitOnError(err, "failed to open database")

	engine := books.NewEngine(store)
	closers := []func() error{store.Close}

	if cfg.AuditPath != "" {
		slog.Debug("Opening audit mirror", "path", cfg.AuditPath)
		sink, err := audit.Open(cfg.AuditPath)
		if err != nil {
			store.Close()
			exitOnError(err, "failed to open audit mirror")
		}
		engine.Audit = sink
		closers = append(closers, sink.Close)
	}

	return engine, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				slog.Warn("close failed", "error", err)
			}
		}
	}
}

// Helper function to handle errors and exit.
func exitOnError(err error, msg string) {
	if err != nil {
		slog.Error(msg, "error", err)
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
		os.Exit(1)
	}
}
