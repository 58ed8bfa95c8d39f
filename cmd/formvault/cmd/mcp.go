package cmd

import (
	"github.com/spf13/cobra"
	mcpserver "github.com/wesm/formvault/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run MCP server for AI assistant integration",
	Long: `Start an MCP (Model Context Protocol) server over stdio.

This allows any MCP client to browse your forms and their submissions using
the tools search_forms, list_form_results, export_form_results and
search_commands. Tools act as the --as user, or as the local administrator.

Example client config:
  {
    "mcpServers": {
      "formvault": {
        "command": "formvault",
        "args": ["mcp", "--as", "alice"]
      }
    }
  }`,
	RunE: func(cmd *cobra.Command, args []string) error {
		viewer, err := currentViewer()
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		return mcpserver.Serve(cmd.Context(), a.lister, viewer, Version)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
