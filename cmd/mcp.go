package cmd

import (
	"context"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/fso/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets MCP clients browse, search, ask and answer questions.
Configure the client with:

  {
    "mcpServers": {
      "fso": { "command": "fso", "args": ["mcp"] }
    }
  }

Available tools: fso_list_questions, fso_get_question, fso_search,
fso_list_tags, fso_ask_question, fso_answer_question`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	return mcp.NewServer(s, buildVersion).ServeStdio(ctx)
}
