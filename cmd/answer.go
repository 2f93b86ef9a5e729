package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/fso/internal/forms"
	"github.com/joescharf/fso/internal/models"
	"github.com/joescharf/fso/internal/output"
	"github.com/joescharf/fso/internal/store"
)

var (
	answerText string
	answerUser string
)

var answerCmd = &cobra.Command{
	Use:     "answer",
	Aliases: []string{"a"},
	Short:   "Post and list answers",
}

var answerAddCmd = &cobra.Command{
	Use:   "add <question-id>",
	Short: "Answer a question",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return answerAddRun(args[0])
	},
}

var answerListCmd = &cobra.Command{
	Use:     "list <question-id>",
	Aliases: []string{"ls"},
	Short:   "List a question's answers, newest first",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return answerListRun(args[0])
	},
}

func init() {
	answerAddCmd.Flags().StringVar(&answerText, "text", "", "Answer text (required)")
	answerAddCmd.Flags().StringVarP(&answerUser, "user", "u", "", "Username of the answerer (required)")

	answerCmd.AddCommand(answerAddCmd)
	answerCmd.AddCommand(answerListCmd)
	rootCmd.AddCommand(answerCmd)
}

func answerAddRun(questionID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	q, err := findQuestion(ctx, s, questionID)
	if err != nil {
		return err
	}

	form := forms.Answer{
		QuestionID: q.ID,
		Text:       answerText,
		AnsBy:      answerUser,
	}
	if err := form.Validate(); err != nil {
		return reportFieldErrors(err)
	}

	if dryRun {
		ui.DryRunMsg("Would answer %s as %s", shortID(q.ID), form.AnsBy)
		return nil
	}

	a := &models.Answer{
		QuestionID: form.QuestionID,
		Text:       form.Text,
		AnsBy:      form.AnsBy,
	}
	if err := s.CreateAnswer(ctx, a); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("question not found: %s", questionID)
		}
		return fmt.Errorf("create answer: %w", err)
	}

	ui.Success("Answered %s: %s", output.Cyan(shortID(q.ID)), q.Title)
	return nil
}

func answerListRun(questionID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	q, err := findQuestion(ctx, s, questionID)
	if err != nil {
		return err
	}

	answers, err := s.ListAnswers(ctx, q.ID)
	if err != nil {
		return err
	}
	if len(answers) == 0 {
		ui.Info("No answers yet for %s.", shortID(q.ID))
		return nil
	}

	table := ui.Table([]string{"ID", "By", "Answered", "Text"})
	for _, a := range answers {
		_ = table.Append([]string{
			shortID(a.ID),
			a.AnsBy,
			timeAgo(a.AnsweredAt),
			output.Truncate(a.Text, 60),
		})
	}
	_ = table.Render()
	return nil
}
