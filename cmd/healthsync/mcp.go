package main

import (
	"github.com/hyperengineering/healthsync/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for agent integration",
	Long: `Start a Model Context Protocol (MCP) server over stdio so agents can
sync, inspect conflicts, and resolve them through healthsync tools.

Example agent configuration:

  {
    "mcpServers": {
      "healthsync": {
        "command": "healthsync",
        "args": ["mcp", "--config", "/path/to/healthsync.yaml"]
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	client, err := openClient(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	return mcp.NewServer(client).Run()
}
