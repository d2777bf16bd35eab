package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/hyperengineering/healthsync"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past sync sessions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the audit log, newest first",
	Args:  cobra.NoArgs,
	RunE:  runAudit,
}

var readingsCmd = &cobra.Command{
	Use:   "readings [metric]",
	Short: "Show authoritative readings",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReadings,
}

var (
	historyLimit int
	auditLimit   int
	readingsDays int
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum sessions to show")
	auditCmd.Flags().IntVarP(&auditLimit, "limit", "n", 50, "Maximum entries to show")
	readingsCmd.Flags().IntVar(&readingsDays, "days", 7, "Show readings from the last N days")
	rootCmd.AddCommand(readingsCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	client, err := openClient(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	sessions, err := client.History(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	return outputSessions(cmd, sessions)
}

func runAudit(cmd *cobra.Command, args []string) error {
	client, err := openClient(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	entries, err := client.Audit(cmd.Context(), auditLimit)
	if err != nil {
		return err
	}
	return outputAudit(cmd, entries)
}

func runReadings(cmd *cobra.Command, args []string) error {
	client, err := openClient(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	q := healthsync.ReadingQuery{Since: time.Now().AddDate(0, 0, -readingsDays)}
	if len(args) == 1 {
		q.Metric = args[0]
	}
	readings, err := client.Readings(cmd.Context(), q)
	if err != nil {
		return err
	}
	if outputJSON {
		return outputAsJSON(cmd, readings)
	}

	out := cmd.OutOrStdout()
	if len(readings) == 0 {
		printMuted(out, "No readings in the last %d days.", readingsDays)
		return nil
	}
	rows := make([][]string, 0, len(readings))
	for _, r := range readings {
		rows = append(rows, []string{
			r.Metric,
			r.BucketStart.Local().Format("2006-01-02 15:04"),
			formatValue(r.Value, r.Unit),
			string(r.Origin),
			strings.Join(r.Sources, ","),
		})
	}
	fmt.Fprintln(out, renderTable([]string{"METRIC", "BUCKET", "VALUE", "ORIGIN", "SOURCES"}, rows))
	return nil
}
