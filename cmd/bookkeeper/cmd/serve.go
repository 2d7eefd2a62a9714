/*
serve.go - HTTP server command

STARTUP SEQUENCE:
  1. Load configuration (.env + environment, flags override)
  2. Initialize SQLite store and optional bbolt audit mirror
  3. Create engine and API handler
  4. Configure HTTP router
  5. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close audit mirror and database
  4. Exit

EXAMPLES:
  # Run with file database
  bookkeeper serve --db ./data/books.db

  # Run with in-memory database
  bookkeeper serve --db ":memory:"
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/bookkeeping-engine/api"
)

var (
	servePort int
	serveDB   string
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the bookkeeping HTTP API backed by SQLite.

Example:
  bookkeeper serve --port 8080 --db ./books.db`,
	Run: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP server port (overrides BOOKS_PORT)")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "SQLite database path (overrides BOOKS_DB_PATH)")
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if servePort != 0 {
		cfg.Port = servePort
	}
	if serveDB != "" {
		cfg.DBPath = serveDB
	}
	exitOnError(cfg.Validate(), "invalid configuration")

	engine, closeAll := openEngine(cfg)
	defer closeAll()

	handler := api.NewHandler(engine)
	router := api.NewRouter(handler, cfg.CORSOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server starting", "addr", fmt.Sprintf("http://localhost:%d", cfg.Port), "db", cfg.DBPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		closeAll()
		exitOnError(err, "server failed")
	case <-quit:
	}

	slog.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return
	}

	slog.Info("Server stopped")
}
