package cmd

import (
	"github.com/spf13/cobra"

	"github.com/agentboard/agentboard/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for Claude Code integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This allows Claude Code to query agentboard natively for agent status,
runs, and channel messages. Configure in Claude Code with:

  {
    "mcpServers": {
      "agentboard": { "command": "agentboard", "args": ["mcp"] }
    }
  }

Available tools: ab_list_agents, ab_agent_status, ab_list_runs,
ab_run_detail, ab_send_message, ab_list_messages`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		srv := mcp.NewServer(s, nil, "mcp")
		return srv.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
