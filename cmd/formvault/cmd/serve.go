package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/wesm/formvault/internal/api"
	"github.com/wesm/formvault/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with scheduled maintenance",
	Long: `Run formvault as a long-running daemon serving the HTTP API.

The daemon runs in the foreground and performs:
  - HTTP API server on configured port (default: 8080)
  - Scheduled pruning of stale viewer preferences

Configure pruning in config.toml:
  [preferences]
  prune_schedule = "0 3 * * *"   # 3am daily (cron format)
  max_age = "720h"               # drop state untouched for 30 days

Cron format: minute hour day-of-month month day-of-week
  Examples:
    0 3 * * *     = 3:00 AM daily
    */15 * * * *  = Every 15 minutes
    0 0 * * 0     = Midnight on Sundays

Use Ctrl+C to stop the daemon gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Validate security posture before doing any work
	if err := cfg.ValidateSecure(); err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sched := scheduler.New().WithLogger(logger)
	count, err := sched.AddJobsFromConfig(cfg, a.prefs)
	if err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}
	sched.Start()

	apiServer := api.NewServer(cfg, api.Backend{
		Results: a.lister,
		Forms:   a.engine,
		Store:   a.store,
		Auth:    a.enforcer,
	}, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	bindAddr := cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	fmt.Printf("formvault daemon started\n")
	fmt.Printf("  API server: http://%s\n", net.JoinHostPort(bindAddr, strconv.Itoa(cfg.Server.APIPort)))
	fmt.Printf("  Scheduled jobs: %d\n", count)
	fmt.Printf("  Data directory: %s\n", cfg.Data.DataDir)
	for _, status := range sched.Status() {
		fmt.Printf("  %s: next run at %s\n", status.Name, status.NextRun.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()

	var runErr error
	select {
	case <-cmd.Context().Done():
		logger.Info("received shutdown signal")
		fmt.Println("\nShutting down...")
	case runErr = <-serverErr:
		logger.Error("API server error", "error", runErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", "error", err)
	}

	schedCtx := sched.Stop()
	select {
	case <-schedCtx.Done():
		fmt.Println("Shutdown complete.")
	case <-time.After(30 * time.Second):
		fmt.Println("Shutdown timed out after 30 seconds.")
	}

	return runErr
}
