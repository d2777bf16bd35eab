package mcp

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hyperengineering/healthsync"
)

func formatSummary(s healthsync.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s: %s (%s).\n", s.SessionID, s.Headline(), s.Status)
	if s.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", s.Error)
	}
	fmt.Fprintf(&b, "Samples ingested: %d\n", s.SamplesIngested)
	fmt.Fprintf(&b, "Conflicts: %d found, %d resolved\n", s.ConflictsFound, s.ConflictsResolved)
	for _, o := range s.PerSource {
		fmt.Fprintf(&b, "- %s: %s, %d samples, %d attempt(s)", o.SourceID, o.Status, o.Samples, o.Attempts)
		if o.Error != "" {
			fmt.Fprintf(&b, " (%s)", o.Error)
		}
		b.WriteString("\n")
	}
	if pending := s.ConflictsFound - s.ConflictsResolved; pending > 0 {
		fmt.Fprintf(&b, "%d conflict(s) await input; use healthsync_conflicts to review them.\n", pending)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatStatus(st *healthsync.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Profile: %s\n", st.Profile)
	fmt.Fprintf(&b, "State: %s\n", st.State.State)
	if st.LastSession != nil {
		fmt.Fprintf(&b, "Last sync: %s (%s)\n", st.LastSession.StartedAt.Format(time.RFC3339), st.LastSession.Status)
	} else {
		b.WriteString("Last sync: never\n")
	}
	fmt.Fprintf(&b, "Conflicts awaiting input: %d\n", st.PendingConflicts)
	b.WriteString("Sources:\n")
	for _, src := range st.Sources {
		state := "active"
		if !src.Active {
			state = "inactive"
		}
		cats := make([]string, len(src.Categories))
		for i, c := range src.Categories {
			cats[i] = string(c)
		}
		fmt.Fprintf(&b, "- %s (%s, %s): %s\n", src.ID, src.Kind, state, strings.Join(cats, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatConflicts(client *healthsync.Client, conflicts []healthsync.Conflict) string {
	if len(conflicts) == 0 {
		return "No conflicts awaiting input."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d conflict(s) awaiting input:\n", len(conflicts))
	for _, c := range conflicts {
		fmt.Fprintf(&b, "\n[%s] %s %s %s (delta %.1f%%, severity %s)\n",
			client.RefFor(c.ID), c.Metric, c.BucketStart.Format(time.RFC3339), c.Category, c.MaxDelta*100, c.Severity)
		for _, s := range c.Samples {
			fmt.Fprintf(&b, "    %s: %s %s (captured %s)\n",
				s.SourceID, strconv.FormatFloat(s.Value, 'f', -1, 64), s.Unit, s.CapturedAt.Format(time.RFC3339))
		}
		fmt.Fprintf(&b, "    ID: %s\n", c.ID)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatResolution(ref string, r *healthsync.Resolution) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Resolved %s with %s.", ref, r.Strategy)
	if r.FellBack {
		fmt.Fprintf(&b, " Requested %s fell back to %s.", r.Requested, r.Strategy)
	}
	if r.Value != nil {
		fmt.Fprintf(&b, " Value: %s.", strconv.FormatFloat(*r.Value, 'f', -1, 64))
	}
	if r.SelectedSource != "" {
		fmt.Fprintf(&b, " Source: %s.", r.SelectedSource)
	}
	if len(r.Retained) > 0 {
		fmt.Fprintf(&b, " Kept %d separate readings.", len(r.Retained))
	}
	return b.String()
}

func formatPriority(cat healthsync.Category, ranking, effective []string) string {
	return fmt.Sprintf("%s priority: %s\nactive order: %s",
		cat, orNone(strings.Join(ranking, " > ")), orNone(strings.Join(effective, " > ")))
}

func formatSessions(sessions []healthsync.SyncSession) string {
	if len(sessions) == 0 {
		return "No sync sessions recorded yet."
	}
	var b strings.Builder
	for _, s := range sessions {
		fmt.Fprintf(&b, "- %s %s %s: %s, %d samples, %d/%d conflicts resolved\n",
			s.StartedAt.Format(time.RFC3339), s.ID, s.Trigger, s.Status, s.SamplesIngested, s.ConflictsResolved, s.ConflictsFound)
	}
	return strings.TrimRight(b.String(), "\n")
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
