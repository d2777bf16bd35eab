package main

import (
	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List, enable, and disable data sources",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered sources",
	Args:  cobra.NoArgs,
	RunE:  runSourcesList,
}

var sourcesEnableCmd = &cobra.Command{
	Use:   "enable <source>",
	Short: "Include a source in sync and preference",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setSourceActive(cmd, args[0], true) },
}

var sourcesDisableCmd = &cobra.Command{
	Use:   "disable <source>",
	Short: "Skip a source without losing its priority position",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setSourceActive(cmd, args[0], false) },
}

func init() {
	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesEnableCmd)
	sourcesCmd.AddCommand(sourcesDisableCmd)
}

func runSourcesList(cmd *cobra.Command, args []string) error {
	client, err := openClient(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()
	return outputSources(cmd, client.Sources())
}

func setSourceActive(cmd *cobra.Command, id string, active bool) error {
	client, err := openClient(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.SetSourceActive(cmd.Context(), id, active); err != nil {
		return err
	}
	if outputJSON {
		src, _ := client.Source(id)
		return outputAsJSON(cmd, src)
	}
	verb := "Disabled"
	if active {
		verb = "Enabled"
	}
	printSuccess(cmd.OutOrStdout(), "%s %s", verb, id)
	return nil
}
