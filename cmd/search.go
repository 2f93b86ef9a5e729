package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/fso/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search questions",
	Long: `Search questions by tag and keyword.

Bracketed tokens such as [javascript] match tag names exactly, ignoring case.
Every other word matches whole words in a question's title or text.
A question matching any term is returned, newest first.

Example:
  fso search "[javascript] loop"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return searchRun(strings.Join(args, " "))
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
}

func searchRun(raw string) error {
	query := search.Parse(raw)
	if query.Empty() {
		ui.Info("Empty query; nothing to search for.")
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	ui.VerboseLog("Searching for %s", query.String())
	questions, err := s.SearchQuestions(ctx, query)
	if err != nil {
		return err
	}
	return renderQuestions(ctx, s, questions, "No questions found.")
}
