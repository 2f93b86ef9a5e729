package store

import (
	"context"
	"errors"

	"github.com/joescharf/fso/internal/models"
	"github.com/joescharf/fso/internal/search"
)

var (
	// ErrNotFound is returned when a question, answer or tag does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNoTags is returned when a question is created without any tag.
	ErrNoTags = errors.New("a question needs at least one tag")
)

// Store defines the persistence interface for the forum.
type Store interface {
	// Questions
	CreateQuestion(ctx context.Context, q *models.Question, tagNames []string) error
	GetQuestion(ctx context.Context, id string) (*models.Question, error)
	ListQuestions(ctx context.Context, order models.Order) ([]*models.Question, error)
	ListQuestionsByTag(ctx context.Context, tagID string) ([]*models.Question, error)
	IncrementViews(ctx context.Context, id string) (int, error)
	SearchQuestions(ctx context.Context, q search.Query) ([]*models.Question, error)

	// Answers
	CreateAnswer(ctx context.Context, a *models.Answer) error
	ListAnswers(ctx context.Context, questionID string) ([]*models.Answer, error)

	// Tags
	EnsureTags(ctx context.Context, names []string) ([]*models.Tag, error)
	GetTagByName(ctx context.Context, name string) (*models.Tag, error)
	ListTags(ctx context.Context) ([]*models.Tag, error)
	ListTagCounts(ctx context.Context) ([]*models.TagCount, error)
	GetTagsByIDs(ctx context.Context, ids []string) ([]*models.Tag, error)
	GetQuestionTags(ctx context.Context, questionID string) ([]*models.Tag, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// TagQuestions pairs each question with its tags, preserving question order
// and each question's tag order.
func TagQuestions(ctx context.Context, s Store, questions []*models.Question) ([]*models.TaggedQuestion, error) {
	var ids []string
	seen := make(map[string]bool)
	for _, q := range questions {
		for _, id := range q.TagIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	tags, err := s.GetTagsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Tag, len(tags))
	for _, t := range tags {
		byID[t.ID] = t
	}

	out := make([]*models.TaggedQuestion, 0, len(questions))
	for _, q := range questions {
		tq := &models.TaggedQuestion{Question: q, Tags: []*models.Tag{}}
		for _, id := range q.TagIDs {
			if t, ok := byID[id]; ok {
				tq.Tags = append(tq.Tags, t)
			}
		}
		out = append(out, tq)
	}
	return out, nil
}
