package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joescharf/fso/internal/output"
	"github.com/joescharf/fso/internal/store"
)

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Browse tags",
	Long:  "List tags with their question counts, or list the questions carrying a tag.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return tagListRun()
	},
}

var tagListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all tags with question counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return tagListRun()
	},
}

var tagQuestionsCmd = &cobra.Command{
	Use:   "questions <name>",
	Short: "List questions with a tag, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return tagQuestionsRun(args[0])
	},
}

func init() {
	tagCmd.AddCommand(tagListCmd)
	tagCmd.AddCommand(tagQuestionsCmd)
	rootCmd.AddCommand(tagCmd)
}

func tagListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	counts, err := s.ListTagCounts(context.Background())
	if err != nil {
		return err
	}

	if len(counts) == 0 {
		ui.Info("No tags. Tags are created when a question is asked.")
		return nil
	}

	table := ui.Table([]string{"Name", "Questions"})
	for _, tc := range counts {
		_ = table.Append([]string{
			output.Cyan(tc.Name),
			strconv.Itoa(tc.Count),
		})
	}
	_ = table.Render()
	return nil
}

func tagQuestionsRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	tag, err := s.GetTagByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("tag not found: %s", name)
	}
	if err != nil {
		return err
	}

	questions, err := s.ListQuestionsByTag(ctx, tag.ID)
	if err != nil {
		return err
	}
	return renderQuestions(ctx, s, questions, fmt.Sprintf("No questions tagged %s.", tag.Name))
}
