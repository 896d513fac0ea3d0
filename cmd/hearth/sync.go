package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hearthhq/hearth/internal/events"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Transmit pending writes to the server",
	Long: `Sync drains the local write queue against the server. By default it
runs cycles until nothing eligible remains, then exits. With --watch it
keeps the background worker running until interrupted.`,
	Example: `  hearth sync
  hearth sync --watch`,
	RunE: runSync,
}

var syncWatch bool

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().BoolVarP(&syncWatch, "watch", "w", false,
		"Keep syncing until interrupted")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := events.WithLogger(cmd.Context(), logger)
	if identity := apiClient.Auth.CurrentUser(); identity != nil {
		ctx = events.WithUserID(ctx, identity.UserID)
		if identity.HouseholdID != "" {
			ctx = events.WithHouseholdID(ctx, identity.HouseholdID)
		}
	}

	if syncWatch {
		return runSyncWatch(ctx)
	}

	// Drain: run cycles until the pending count stops shrinking (what
	// remains is waiting out backoff or permanently failed).
	prev := -1
	for {
		if err := apiClient.Sync.SyncOnce(ctx); err != nil {
			printError("Sync failed: %v", err)
			return err
		}

		pending, err := apiClient.Sync.PendingCount()
		if err != nil {
			return err
		}
		if pending == 0 || pending == prev {
			if jsonOutput {
				printJSON(map[string]interface{}{"pending": pending})
			} else if pending == 0 {
				printInfo("All writes synced")
			} else {
				printInfo("%d write(s) still pending (waiting on retry backoff)", pending)
			}
			return nil
		}
		prev = pending
	}
}

func runSyncWatch(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	apiClient.Sync.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if !jsonOutput {
		printInfo("Sync worker running, press Ctrl-C to stop")
	}

	select {
	case sig := <-sigCh:
		if !jsonOutput {
			printInfo("Received %s, stopping", sig)
		}
		apiClient.Sync.Stop()
		return nil
	case err := <-apiClient.Sync.Fatal():
		apiClient.Sync.Stop()
		printError("Sync halted: %v", err)
		return fmt.Errorf("sync halted: %w", err)
	}
}
