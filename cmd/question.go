package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/fso/internal/forms"
	"github.com/joescharf/fso/internal/models"
	"github.com/joescharf/fso/internal/output"
	"github.com/joescharf/fso/internal/store"
)

var (
	questionTitle string
	questionText  string
	questionTags  string
	questionUser  string
	questionOrder string
)

var questionCmd = &cobra.Command{
	Use:     "question",
	Aliases: []string{"q"},
	Short:   "Ask, list and view questions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return questionListRun()
	},
}

var questionAskCmd = &cobra.Command{
	Use:   "ask",
	Short: "Ask a new question",
	Long: `Ask a new question. Tags are whitespace-separated; existing tags are
reused ignoring case and new ones are created.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return questionAskRun()
	},
}

var questionListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List questions",
	Long:    "List questions ordered by newest (default), unanswered, or active.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return questionListRun()
	},
}

var questionShowCmd = &cobra.Command{
	Use:   "show <question-id>",
	Short: "Show a question with its answers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return questionShowRun(args[0])
	},
}

var questionViewCmd = &cobra.Command{
	Use:   "view <question-id>",
	Short: "Record a view of a question and show it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return questionViewRun(args[0])
	},
}

func init() {
	questionAskCmd.Flags().StringVar(&questionTitle, "title", "", "Question title (required)")
	questionAskCmd.Flags().StringVar(&questionText, "text", "", "Question text (required)")
	questionAskCmd.Flags().StringVar(&questionTags, "tags", "", "Whitespace-separated tags (required)")
	questionAskCmd.Flags().StringVarP(&questionUser, "user", "u", "", "Username of the asker (required)")

	questionListCmd.Flags().StringVarP(&questionOrder, "order", "o", string(models.OrderNewest), "Order: newest, unanswered, active")

	questionCmd.AddCommand(questionAskCmd)
	questionCmd.AddCommand(questionListCmd)
	questionCmd.AddCommand(questionShowCmd)
	questionCmd.AddCommand(questionViewCmd)
	rootCmd.AddCommand(questionCmd)
}

func questionAskRun() error {
	form := forms.Question{
		Title:   questionTitle,
		Text:    questionText,
		Tags:    forms.SplitTags(questionTags),
		AskedBy: questionUser,
	}
	if err := form.Validate(); err != nil {
		return reportFieldErrors(err)
	}

	if dryRun {
		ui.DryRunMsg("Would ask question: %s %s", form.Title, output.TagList(form.Tags))
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	q := &models.Question{
		Title:   form.Title,
		Text:    form.Text,
		AskedBy: form.AskedBy,
	}
	if err := s.CreateQuestion(ctx, q, form.Tags); err != nil {
		return fmt.Errorf("create question: %w", err)
	}

	ui.Success("Asked question %s: %s", output.Cyan(shortID(q.ID)), q.Title)
	ui.VerboseLog("Full ID: %s", q.ID)
	return nil
}

func questionListRun() error {
	order := models.OrderNewest
	if questionOrder != "" {
		parsed, err := models.ParseOrder(questionOrder)
		if err != nil {
			return err
		}
		order = parsed
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	questions, err := s.ListQuestions(ctx, order)
	if err != nil {
		return err
	}
	return renderQuestions(ctx, s, questions, "No questions yet. Use 'fso question ask' to ask one.")
}

func questionShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	q, err := findQuestion(ctx, s, id)
	if err != nil {
		return err
	}
	return printQuestion(ctx, s, q)
}

func questionViewRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	q, err := findQuestion(ctx, s, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would record a view of %s", shortID(q.ID))
		return printQuestion(ctx, s, q)
	}

	views, err := s.IncrementViews(ctx, q.ID)
	if err != nil {
		return fmt.Errorf("increment views: %w", err)
	}
	q.Views = views
	return printQuestion(ctx, s, q)
}

func printQuestion(ctx context.Context, s store.Store, q *models.Question) error {
	tags, err := s.GetQuestionTags(ctx, q.ID)
	if err != nil {
		return err
	}
	answers, err := s.ListAnswers(ctx, q.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(shortID(q.ID)), q.Title)
	fmt.Fprintf(ui.Out, "  Asked by:   %s\n", q.AskedBy)
	fmt.Fprintf(ui.Out, "  Asked:      %s (%s)\n", q.AskedAt.Local().Format(time.RFC3339), timeAgo(q.AskedAt))
	fmt.Fprintf(ui.Out, "  Views:      %d\n", q.Views)
	fmt.Fprintf(ui.Out, "  Answers:    %s\n", output.AnswersColor(len(answers)))
	fmt.Fprintf(ui.Out, "  Tags:       %s\n", output.TagList(tagNames(tags)))
	fmt.Fprintf(ui.Out, "  Full ID:    %s\n", q.ID)
	fmt.Fprintf(ui.Out, "\n%s\n", q.Text)

	for _, a := range answers {
		fmt.Fprintf(ui.Out, "\n  %s answered %s\n", output.Green(a.AnsBy), timeAgo(a.AnsweredAt))
		for _, line := range strings.Split(a.Text, "\n") {
			fmt.Fprintf(ui.Out, "    %s\n", line)
		}
	}
	return nil
}

// renderQuestions prints questions as a table, resolving tags in one batch.
func renderQuestions(ctx context.Context, s store.Store, questions []*models.Question, empty string) error {
	if len(questions) == 0 {
		ui.Info("%s", empty)
		return nil
	}

	tagged, err := store.TagQuestions(ctx, s, questions)
	if err != nil {
		return err
	}

	table := ui.Table([]string{"ID", "Title", "Tags", "Asked By", "Asked", "Answers", "Views"})
	for _, tq := range tagged {
		q := tq.Question
		_ = table.Append([]string{
			shortID(q.ID),
			output.Truncate(q.Title, 50),
			output.TagList(tagNames(tq.Tags)),
			q.AskedBy,
			timeAgo(q.AskedAt),
			output.AnswersColor(len(q.AnswerIDs)),
			strconv.Itoa(q.Views),
		})
	}
	_ = table.Render()
	return nil
}

// findQuestion finds a question by full ID or unique ID prefix.
func findQuestion(ctx context.Context, s store.Store, id string) (*models.Question, error) {
	q, err := s.GetQuestion(ctx, id)
	if err == nil {
		return q, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	upper := strings.ToUpper(id)
	questions, err := s.ListQuestions(ctx, "")
	if err != nil {
		return nil, err
	}

	var matches []*models.Question
	for _, q := range questions {
		if strings.HasPrefix(q.ID, upper) {
			matches = append(matches, q)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("question not found: %s", id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous question ID %s: matches %d questions", id, len(matches))
	}
}

// reportFieldErrors prints one line per invalid form field and returns a
// summary error.
func reportFieldErrors(err error) error {
	fe, ok := forms.AsFieldErrors(err)
	if !ok {
		return err
	}
	for _, field := range fe.Fields() {
		ui.Error("%s: %s", field, fe[field])
	}
	return fmt.Errorf("submission rejected: %d invalid field(s)", len(fe))
}

func tagNames(tags []*models.Tag) []string {
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Name
	}
	return names
}

// shortID returns a truncated ULID for display (first 12 chars).
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// timeAgo returns a human-readable duration from a time.
func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	}
}
