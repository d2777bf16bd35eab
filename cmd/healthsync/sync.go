package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hyperengineering/healthsync"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync every active source now",
	Long: `Pull new samples from every active source, detect conflicts, and
auto-resolve the ones your configured strategy allows.

Press Ctrl-C to cancel; a cancelled session is still recorded in history.`,
	Example: `  healthsync sync
  healthsync sync --json`,
	RunE: runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	summary, err := syncWithProgress(ctx, cmd, client, healthsync.TriggerManual)
	if err != nil {
		return err
	}
	if err := outputSummary(cmd, summary); err != nil {
		return err
	}
	if summary.Status == healthsync.StateFailed {
		return fmt.Errorf("sync failed")
	}
	return nil
}

// syncWithProgress runs a session while a spinner tracks its progress.
// Cancelling ctx cancels the session.
func syncWithProgress(ctx context.Context, cmd *cobra.Command, client *healthsync.Client, trigger healthsync.Trigger) (healthsync.Summary, error) {
	updates, unsubscribe := client.Subscribe()
	defer unsubscribe()

	spin := newProgressSpinner(cmd.ErrOrStderr(), "Syncing sources")
	if !outputJSON {
		spin.Start()
	}

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		for {
			select {
			case snap, ok := <-updates:
				if !ok {
					return
				}
				if snap.State == healthsync.StateSyncing {
					spin.SetMessage(fmt.Sprintf("Syncing sources (%d%%)", int(snap.Progress*100)))
				}
			case <-ctx.Done():
				client.CancelSync()
				return
			}
		}
	}()

	summary, err := client.StartSync(context.WithoutCancel(ctx), trigger)
	unsubscribe()
	<-watchDone

	if !outputJSON {
		spin.Stop()
	}
	return summary, err
}
