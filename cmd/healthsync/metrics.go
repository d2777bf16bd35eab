package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "List metrics with their tolerance and bucket",
	Long: `List every known metric with the tolerance used to flag conflicts and the
time bucket samples are grouped by. Tolerances reflect overrides from the
config file.`,
	Args: cobra.NoArgs,
	RunE: runMetrics,
}

func init() {
	rootCmd.AddCommand(metricsCmd)
}

func runMetrics(cmd *cobra.Command, args []string) error {
	client, err := openClient(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	specs := client.Metrics()
	if outputJSON {
		return outputAsJSON(cmd, specs)
	}

	rows := make([][]string, 0, len(specs))
	for _, s := range specs {
		rows = append(rows, []string{
			s.Name,
			string(s.Category),
			s.Unit,
			string(s.Kind),
			strconv.FormatFloat(s.Tolerance*100, 'f', -1, 64) + "%",
			s.Bucket.String(),
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"METRIC", "CATEGORY", "UNIT", "KIND", "TOLERANCE", "BUCKET"}, rows))
	return nil
}
