package main

import (
	"fmt"
	"strings"

	"github.com/hyperengineering/healthsync"
	"github.com/spf13/cobra"
)

var priorityCmd = &cobra.Command{
	Use:   "priority",
	Short: "Show or change source priority per category",
}

var priorityGetCmd = &cobra.Command{
	Use:   "get [category]",
	Short: "Show the priority ranking for one or all categories",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPriorityGet,
}

var prioritySetCmd = &cobra.Command{
	Use:     "set <category> <source> [source...]",
	Short:   "Replace the priority ranking for a category",
	Example: `  healthsync priority set body_composition scale phone`,
	Args:    cobra.MinimumNArgs(2),
	RunE:    runPrioritySet,
}

func init() {
	priorityCmd.AddCommand(priorityGetCmd)
	priorityCmd.AddCommand(prioritySetCmd)
}

type priorityView struct {
	Category  healthsync.Category `json:"category"`
	Ranking   []string            `json:"ranking"`
	Effective []string            `json:"effective"`
}

func runPriorityGet(cmd *cobra.Command, args []string) error {
	client, err := openClient(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	cats := healthsync.ValidCategories()
	if len(args) == 1 {
		cat := healthsync.Category(args[0])
		if !cat.IsValid() {
			return fmt.Errorf("%w: %s", healthsync.ErrInvalidCategory, args[0])
		}
		cats = []healthsync.Category{cat}
	}

	views := make([]priorityView, 0, len(cats))
	for _, cat := range cats {
		views = append(views, priorityView{
			Category:  cat,
			Ranking:   client.PriorityFor(cat),
			Effective: client.ResolvedOrderFor(cat),
		})
	}
	if outputJSON {
		return outputAsJSON(cmd, views)
	}

	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{string(v.Category), strings.Join(v.Ranking, " > "), strings.Join(v.Effective, " > ")})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"CATEGORY", "RANKING", "EFFECTIVE"}, rows))
	return nil
}

func runPrioritySet(cmd *cobra.Command, args []string) error {
	client, err := openClient(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	cat := healthsync.Category(args[0])
	if err := client.SetPriority(cmd.Context(), cat, args[1:]); err != nil {
		return err
	}
	if outputJSON {
		return outputAsJSON(cmd, priorityView{Category: cat, Ranking: client.PriorityFor(cat), Effective: client.ResolvedOrderFor(cat)})
	}
	printSuccess(cmd.OutOrStdout(), "%s: %s", cat, strings.Join(args[1:], " > "))
	return nil
}
