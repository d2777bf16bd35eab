package main

import (
	"fmt"

	"github.com/hyperengineering/healthsync"
	"github.com/hyperengineering/healthsync/internal/profile"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sources, sync state, and pending conflicts",
	RunE:  runStatus,
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List profiles with a history database",
	RunE:  runProfiles,
}

func init() {
	rootCmd.AddCommand(profilesCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := openClient(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	st, err := client.Status(cmd.Context())
	if err != nil {
		return err
	}
	if outputJSON {
		return outputAsJSON(cmd, st)
	}

	out := cmd.OutOrStdout()
	printField(out, "Profile", "%s", st.Profile)
	printField(out, "State", "%s", st.State.State)
	if st.Schedule != "" {
		printField(out, "Schedule", "%s", st.Schedule)
	}
	if st.LastSession != nil {
		s := st.LastSession
		printField(out, "Last sync", "%s (%s, %d samples)", s.StartedAt.Local().Format("2006-01-02 15:04:05"), s.Status, s.SamplesIngested)
	} else {
		printField(out, "Last sync", "never")
	}
	if st.PendingConflicts > 0 {
		printWarning(out, "%d conflict(s) awaiting input", st.PendingConflicts)
	} else {
		printSuccess(out, "No conflicts awaiting input")
	}
	fmt.Fprintln(out)

	if len(st.Sources) == 0 {
		printMuted(out, "No sources registered.")
		return nil
	}
	fmt.Fprintln(out, renderTable([]string{"ID", "NAME", "KIND", "ACTIVE", "CATEGORIES", "LAST SYNC"}, sourceRows(st.Sources)))

	for _, cat := range healthsync.ValidCategories() {
		if pref, ok := client.PreferredSource(cat); ok {
			printMuted(out, "%-17s preferred: %s", cat, pref)
		}
	}
	return nil
}

func runProfiles(cmd *cobra.Command, args []string) error {
	ids, err := profile.List(profile.Root())
	if err != nil {
		return err
	}
	if outputJSON {
		return outputAsJSON(cmd, ids)
	}
	out := cmd.OutOrStdout()
	if len(ids) == 0 {
		printMuted(out, "No profiles yet. Run 'healthsync sync' to create one.")
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(out, id)
	}
	return nil
}
