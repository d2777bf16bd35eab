package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled syncs until interrupted",
	Long: `Keep healthsync running and sync on the cron schedule set by
'schedule' in the config file (for example "*/30 * * * *").`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	schedule := client.Config().Schedule
	if schedule == "" {
		return fmt.Errorf("no schedule configured; set 'schedule' in the config file")
	}

	printInfo(cmd.OutOrStdout(), "Syncing on schedule %q (Ctrl-C to stop)", schedule)
	<-ctx.Done()
	printMuted(cmd.OutOrStdout(), "Stopping...")
	return nil
}
