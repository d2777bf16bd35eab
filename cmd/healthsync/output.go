package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hyperengineering/healthsync"
	"github.com/spf13/cobra"
)

// outputAsJSON writes any value as formatted JSON to the command's stdout.
func outputAsJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var (
	secretsMu sync.Mutex
	secrets   []string
)

// rememberSecret registers a credential that must never be printed.
func rememberSecret(s string) {
	if s == "" {
		return
	}
	secretsMu.Lock()
	defer secretsMu.Unlock()
	secrets = append(secrets, s)
}

// outputError prints an error to stderr with any known credentials redacted.
func outputError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %s\n", scrubSensitiveData(err.Error()))
}

func scrubSensitiveData(msg string) string {
	secretsMu.Lock()
	defer secretsMu.Unlock()
	for _, s := range secrets {
		msg = strings.ReplaceAll(msg, s, "[REDACTED]")
	}
	return msg
}

func outputSummary(cmd *cobra.Command, s healthsync.Summary) error {
	if outputJSON {
		return outputAsJSON(cmd, s)
	}

	out := cmd.OutOrStdout()
	switch s.Status {
	case healthsync.StateSuccess:
		printSuccess(out, "%s (took %s)", capitalize(s.Headline()), s.Duration.Round(time.Millisecond))
	case healthsync.StatePartial:
		printWarning(out, "%s (took %s)", capitalize(s.Headline()), s.Duration.Round(time.Millisecond))
	default:
		printError(out, "%s", capitalize(s.Headline()))
	}
	if s.Error != "" {
		printMuted(out, "  %s", s.Error)
	}
	printField(out, "Samples", "%d", s.SamplesIngested)
	printField(out, "Conflicts", "%d found, %d resolved", s.ConflictsFound, s.ConflictsResolved)

	if len(s.PerSource) > 0 {
		rows := make([][]string, 0, len(s.PerSource))
		for _, o := range s.PerSource {
			rows = append(rows, []string{o.SourceID, string(o.Status), strconv.Itoa(o.Samples), strconv.Itoa(o.Attempts), o.Error})
		}
		fmt.Fprintln(out, renderTable([]string{"SOURCE", "STATUS", "SAMPLES", "ATTEMPTS", "ERROR"}, rows))
	}
	if pending := s.ConflictsFound - s.ConflictsResolved; pending > 0 {
		printInfo(out, "%d conflict(s) awaiting input; run 'healthsync conflicts list'", pending)
	}
	return nil
}

func conflictRows(client *healthsync.Client, conflicts []healthsync.Conflict) [][]string {
	rows := make([][]string, 0, len(conflicts))
	for _, c := range conflicts {
		values := make([]string, 0, len(c.Samples))
		for _, s := range c.Samples {
			values = append(values, fmt.Sprintf("%s=%s", s.SourceID, formatValue(s.Value, s.Unit)))
		}
		rows = append(rows, []string{
			client.RefFor(c.ID),
			c.Metric,
			c.BucketStart.Local().Format("2006-01-02 15:04"),
			string(c.Severity),
			fmt.Sprintf("%.1f%%", c.MaxDelta*100),
			strings.Join(values, " "),
		})
	}
	return rows
}

func outputConflicts(cmd *cobra.Command, client *healthsync.Client, conflicts []healthsync.Conflict) error {
	if outputJSON {
		return outputAsJSON(cmd, conflicts)
	}
	out := cmd.OutOrStdout()
	if len(conflicts) == 0 {
		printSuccess(out, "No conflicts awaiting input.")
		return nil
	}
	fmt.Fprintln(out, renderTable([]string{"REF", "METRIC", "BUCKET", "SEVERITY", "DELTA", "VALUES"}, conflictRows(client, conflicts)))
	return nil
}

func outputResolution(cmd *cobra.Command, ref string, r *healthsync.Resolution) error {
	if outputJSON {
		return outputAsJSON(cmd, r)
	}
	out := cmd.OutOrStdout()
	printSuccess(out, "Resolved %s with %s", ref, r.Strategy)
	if r.FellBack {
		printWarning(out, "Requested %s; fell back to %s", r.Requested, r.Strategy)
	}
	if r.Value != nil {
		printField(out, "Value", "%g", *r.Value)
	}
	if r.SelectedSource != "" {
		printField(out, "Source", "%s", r.SelectedSource)
	}
	if len(r.Retained) > 0 {
		printField(out, "Retained", "%d samples", len(r.Retained))
	}
	return nil
}

func outputSessions(cmd *cobra.Command, sessions []healthsync.SyncSession) error {
	if outputJSON {
		return outputAsJSON(cmd, sessions)
	}
	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		printMuted(out, "No sync sessions recorded yet.")
		return nil
	}
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			shortID(s.ID),
			s.StartedAt.Local().Format("2006-01-02 15:04:05"),
			string(s.Trigger),
			string(s.Status),
			strconv.Itoa(s.SamplesIngested),
			fmt.Sprintf("%d/%d", s.ConflictsResolved, s.ConflictsFound),
		})
	}
	fmt.Fprintln(out, renderTable([]string{"SESSION", "STARTED", "TRIGGER", "STATUS", "SAMPLES", "RESOLVED"}, rows))
	return nil
}

func outputAudit(cmd *cobra.Command, entries []healthsync.AuditEntry) error {
	if outputJSON {
		return outputAsJSON(cmd, entries)
	}
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		printMuted(out, "Audit log is empty.")
		return nil
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.At.Local().Format("2006-01-02 15:04:05"),
			string(e.Kind),
			e.Subject,
			e.Actor,
			e.Detail,
		})
	}
	fmt.Fprintln(out, renderTable([]string{"AT", "KIND", "SUBJECT", "ACTOR", "DETAIL"}, rows))
	return nil
}

func outputSources(cmd *cobra.Command, sources []healthsync.DataSource) error {
	if outputJSON {
		return outputAsJSON(cmd, sources)
	}
	out := cmd.OutOrStdout()
	if len(sources) == 0 {
		printMuted(out, "No sources registered. Add sources to your config file.")
		return nil
	}
	fmt.Fprintln(out, renderTable([]string{"ID", "NAME", "KIND", "ACTIVE", "CATEGORIES", "LAST SYNC"}, sourceRows(sources)))
	return nil
}

func sourceRows(sources []healthsync.DataSource) [][]string {
	rows := make([][]string, 0, len(sources))
	for _, s := range sources {
		last := "never"
		if s.LastSyncAt != nil {
			last = s.LastSyncAt.Local().Format("2006-01-02 15:04")
		}
		cats := make([]string, len(s.Categories))
		for i, c := range s.Categories {
			cats[i] = string(c)
		}
		rows = append(rows, []string{s.ID, s.DisplayName, string(s.Kind), strconv.FormatBool(s.Active), strings.Join(cats, ","), last})
	}
	return rows
}

func formatValue(v float64, unit string) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if unit != "" {
		s += " " + unit
	}
	return s
}

func shortID(id string) string {
	if len(id) > 10 {
		return id[:10]
	}
	return id
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
