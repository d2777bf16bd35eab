package main

import (
	"errors"
	"fmt"

	"github.com/hyperengineering/healthsync"
	"github.com/spf13/cobra"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List, resolve, and undo conflicts",
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conflicts awaiting input",
	Args:  cobra.NoArgs,
	RunE:  runConflictsList,
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <ref|all>",
	Short: "Resolve a conflict, or every pending conflict",
	Long: `Resolve a conflict by its short reference (C1, C2...) or full ID.

Strategies:
  priority  take the value from the highest-ranked contributing source
  latest    take the most recently captured value
  merge     average the values (numeric metrics; others fall back to priority)
  manual    supply --value, or pick a contributing source with --source
  ignore    keep every source's value as a separate reading`,
	Example: `  healthsync conflicts resolve C1 --strategy priority
  healthsync conflicts resolve C2 --strategy manual --value 165.5
  healthsync conflicts resolve all --strategy merge`,
	Args: cobra.ExactArgs(1),
	RunE: runConflictsResolve,
}

var conflictsUndoCmd = &cobra.Command{
	Use:   "undo <ref>",
	Short: "Reopen a resolved conflict",
	Args:  cobra.ExactArgs(1),
	RunE:  runConflictsUndo,
}

var (
	resolveStrategy string
	resolveValue    float64
	resolveSource   string
	resolveBy       string
	resolveNote     string
)

func init() {
	conflictsResolveCmd.Flags().StringVarP(&resolveStrategy, "strategy", "s", "", "Resolution strategy (required)")
	conflictsResolveCmd.Flags().Float64Var(&resolveValue, "value", 0, "Value for manual resolution")
	conflictsResolveCmd.Flags().StringVar(&resolveSource, "source", "", "Contributing source to pick for manual resolution")
	conflictsResolveCmd.Flags().StringVar(&resolveBy, "by", "", "Name recorded as the resolver (default: user)")
	conflictsResolveCmd.Flags().StringVar(&resolveNote, "note", "", "Note stored with the resolution")
	_ = conflictsResolveCmd.MarkFlagRequired("strategy")

	conflictsUndoCmd.Flags().StringVar(&resolveBy, "by", "", "Name recorded in the audit log (default: user)")

	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)
	conflictsCmd.AddCommand(conflictsUndoCmd)
}

func runConflictsList(cmd *cobra.Command, args []string) error {
	client, err := openClient(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	conflicts, err := client.PendingConflicts(cmd.Context())
	if err != nil {
		return err
	}
	return outputConflicts(cmd, client, conflicts)
}

func runConflictsResolve(cmd *cobra.Command, args []string) error {
	strategy := healthsync.Strategy(resolveStrategy)
	if !strategy.IsValid() {
		return fmt.Errorf("unknown strategy %q (want one of %v)", resolveStrategy, healthsync.ValidStrategies())
	}

	client, err := openClient(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	// Listing assigns the same short refs the list command showed.
	if _, err := client.PendingConflicts(cmd.Context()); err != nil {
		return err
	}

	if args[0] == "all" {
		resolutions, err := client.ResolveAll(cmd.Context(), strategy, resolveBy)
		if outputJSON {
			if jerr := outputAsJSON(cmd, resolutions); jerr != nil {
				return jerr
			}
			return err
		}
		printSuccess(cmd.OutOrStdout(), "Resolved %d conflict(s) with %s", len(resolutions), strategy)
		return err
	}

	opts := healthsync.ResolveOptions{SourceID: resolveSource, ResolvedBy: resolveBy, Note: resolveNote}
	if cmd.Flags().Changed("value") {
		v := resolveValue
		opts.Value = &v
	}

	res, err := client.ResolveConflict(cmd.Context(), args[0], strategy, opts)
	if errors.Is(err, healthsync.ErrManualInputRequired) {
		return fmt.Errorf("%w: pass --value or --source", err)
	}
	if err != nil {
		return err
	}
	return outputResolution(cmd, args[0], res)
}

func runConflictsUndo(cmd *cobra.Command, args []string) error {
	client, err := openClient(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.UndoResolution(cmd.Context(), args[0], resolveBy); err != nil {
		return err
	}
	if outputJSON {
		return outputAsJSON(cmd, map[string]string{"conflict": args[0], "status": string(healthsync.ConflictUnresolved)})
	}
	printSuccess(cmd.OutOrStdout(), "Reopened %s", args[0])
	return nil
}
