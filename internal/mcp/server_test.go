package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/fso/internal/models"
	"github.com/joescharf/fso/internal/store"
)

// failingStore wraps a real store and injects errors into selected calls.
type failingStore struct {
	store.Store
	listErr error
}

func (f *failingStore) ListQuestions(ctx context.Context, order models.Order) ([]*models.Question, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.Store.ListQuestions(ctx, order)
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	s := newTestStore(t)
	return NewServer(s, "test"), s
}

// callToolReq builds a mcpgo.CallToolRequest with the given name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	err := json.Unmarshal([]byte(text), target)
	require.NoError(t, err, "failed to parse result JSON: %s", text)
}

var seedTime = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func seedQuestion(t *testing.T, s store.Store, title string, offset int, tags ...string) *models.Question {
	t.Helper()
	q := &models.Question{
		Title:   title,
		Text:    "body of " + title,
		AskedBy: "alice",
		AskedAt: seedTime.Add(time.Duration(offset) * time.Minute),
	}
	require.NoError(t, s.CreateQuestion(context.Background(), q, tags))
	return q
}

func TestNewServer(t *testing.T) {
	srv, _ := newTestServer(t)
	require.NotNil(t, srv)
	assert.Equal(t, "test", srv.version)

	assert.Equal(t, "dev", NewServer(nil, "").version)
}

func TestHandleListQuestions(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()

	older := seedQuestion(t, s, "older", 0, "go")
	newer := seedQuestion(t, s, "newer", 10, "js")
	require.NoError(t, s.CreateAnswer(ctx, &models.Answer{QuestionID: older.ID, Text: "yes", AnsBy: "bob"}))

	t.Run("default newest", func(t *testing.T) {
		result, err := srv.handleListQuestions(ctx, callToolReq("fso_list_questions", nil))
		require.NoError(t, err)
		require.False(t, result.IsError, resultText(t, result))

		var out []models.TaggedQuestion
		resultJSON(t, result, &out)
		require.Len(t, out, 2)
		assert.Equal(t, newer.ID, out[0].Question.ID)
		assert.Equal(t, "js", out[0].Tags[0].Name)
		assert.Equal(t, older.ID, out[1].Question.ID)
	})

	t.Run("unanswered", func(t *testing.T) {
		result, err := srv.handleListQuestions(ctx, callToolReq("fso_list_questions", map[string]any{"order": "unanswered"}))
		require.NoError(t, err)

		var out []models.TaggedQuestion
		resultJSON(t, result, &out)
		require.Len(t, out, 1)
		assert.Equal(t, newer.ID, out[0].Question.ID)
	})

	t.Run("active", func(t *testing.T) {
		result, err := srv.handleListQuestions(ctx, callToolReq("fso_list_questions", map[string]any{"order": "active"}))
		require.NoError(t, err)

		var out []models.TaggedQuestion
		resultJSON(t, result, &out)
		require.Len(t, out, 2)
		assert.Equal(t, older.ID, out[0].Question.ID)
	})

	t.Run("invalid order", func(t *testing.T) {
		result, err := srv.handleListQuestions(ctx, callToolReq("fso_list_questions", map[string]any{"order": "oldest"}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, resultText(t, result), "invalid order")
	})
}

func TestHandleListQuestions_StoreError(t *testing.T) {
	s := newTestStore(t)
	srv := NewServer(&failingStore{Store: s, listErr: errors.New("disk on fire")}, "test")

	result, err := srv.handleListQuestions(context.Background(), callToolReq("fso_list_questions", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "disk on fire")
}

func TestHandleGetQuestion(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()

	q := seedQuestion(t, s, "how do closures work", 0, "javascript", "closures")
	require.NoError(t, s.CreateAnswer(ctx, &models.Answer{QuestionID: q.ID, Text: "first", AnsBy: "bob", AnsweredAt: seedTime.Add(time.Minute)}))
	require.NoError(t, s.CreateAnswer(ctx, &models.Answer{QuestionID: q.ID, Text: "second", AnsBy: "carol", AnsweredAt: seedTime.Add(2 * time.Minute)}))

	result, err := srv.handleGetQuestion(ctx, callToolReq("fso_get_question", map[string]any{"id": q.ID}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out struct {
		Question models.Question `json:"question"`
		Tags     []models.Tag    `json:"tags"`
		Answers  []models.Answer `json:"answers"`
	}
	resultJSON(t, result, &out)
	assert.Equal(t, "how do closures work", out.Question.Title)
	require.Len(t, out.Tags, 2)
	assert.Equal(t, "javascript", out.Tags[0].Name)
	require.Len(t, out.Answers, 2)
	assert.Equal(t, "second", out.Answers[0].Text)
}

func TestHandleGetQuestion_Errors(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleGetQuestion(context.Background(), callToolReq("fso_get_question", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "missing required parameter")

	result, err = srv.handleGetQuestion(context.Background(), callToolReq("fso_get_question", map[string]any{"id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "question not found: nope")
}

func TestHandleSearch(t *testing.T) {
	srv, s := newTestServer(t)

	tagged := seedQuestion(t, s, "array helpers", 0, "javascript")
	worded := seedQuestion(t, s, "for loop in go", 5, "go")
	seedQuestion(t, s, "loops and loopholes", 10, "python")

	result, err := srv.handleSearch(context.Background(), callToolReq("fso_search", map[string]any{"query": "[JavaScript] loop"}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out []models.TaggedQuestion
	resultJSON(t, result, &out)
	require.Len(t, out, 2)
	assert.Equal(t, worded.ID, out[0].Question.ID)
	assert.Equal(t, tagged.ID, out[1].Question.ID)
}

func TestHandleSearch_MissingQuery(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleSearch(context.Background(), callToolReq("fso_search", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleListTags(t *testing.T) {
	srv, s := newTestServer(t)
	seedQuestion(t, s, "one", 0, "go", "sql")
	seedQuestion(t, s, "two", 1, "Go")

	result, err := srv.handleListTags(context.Background(), callToolReq("fso_list_tags", nil))
	require.NoError(t, err)

	var out []models.TagCount
	resultJSON(t, result, &out)
	require.Len(t, out, 2)
	assert.Equal(t, "go", out[0].Name)
	assert.Equal(t, 2, out[0].Count)
	assert.Equal(t, "sql", out[1].Name)
	assert.Equal(t, 1, out[1].Count)
}

func TestHandleAskQuestion(t *testing.T) {
	srv, s := newTestServer(t)
	seedQuestion(t, s, "existing", 0, "Go")

	result, err := srv.handleAskQuestion(context.Background(), callToolReq("fso_ask_question", map[string]any{
		"title":    "  channel deadlock  ",
		"text":     "see [docs](https://go.dev/ref/spec)",
		"tags":     "go  concurrency",
		"asked_by": "dave",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out models.TaggedQuestion
	resultJSON(t, result, &out)
	assert.NotEmpty(t, out.Question.ID)
	assert.Equal(t, "channel deadlock", out.Question.Title)
	require.Len(t, out.Tags, 2)
	assert.Equal(t, "Go", out.Tags[0].Name, "existing tag spelling wins")
	assert.Equal(t, "concurrency", out.Tags[1].Name)

	tags, err := s.ListTags(context.Background())
	require.NoError(t, err)
	assert.Len(t, tags, 2)
}

func TestHandleAskQuestion_Invalid(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleAskQuestion(context.Background(), callToolReq("fso_ask_question", map[string]any{
		"title":    "",
		"text":     "bad [link](ftp://x)",
		"tags":     "",
		"asked_by": "dave",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	text := resultText(t, result)
	assert.Contains(t, text, "Title cannot be empty")
	assert.Contains(t, text, "Invalid hyperlink")
	assert.Contains(t, text, "Cannot have less than 1 tag")
}

func TestHandleAnswerQuestion(t *testing.T) {
	srv, s := newTestServer(t)
	q := seedQuestion(t, s, "question", 0, "go")

	result, err := srv.handleAnswerQuestion(context.Background(), callToolReq("fso_answer_question", map[string]any{
		"question_id": q.ID,
		"text":        "use a buffered channel",
		"ans_by":      "erin",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out models.Answer
	resultJSON(t, result, &out)
	assert.NotEmpty(t, out.ID)
	assert.Equal(t, q.ID, out.QuestionID)

	got, err := s.GetQuestion(context.Background(), q.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{out.ID}, got.AnswerIDs)
}

func TestHandleAnswerQuestion_Errors(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleAnswerQuestion(ctx, callToolReq("fso_answer_question", map[string]any{"text": "x", "ans_by": "y"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "question_id")

	result, err = srv.handleAnswerQuestion(ctx, callToolReq("fso_answer_question", map[string]any{"question_id": "nope", "text": "", "ans_by": ""}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Answer text cannot be empty")

	result, err = srv.handleAnswerQuestion(ctx, callToolReq("fso_answer_question", map[string]any{"question_id": "nope", "text": "x", "ans_by": "y"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "question not found: nope")
}

func TestMCPIntegration_ListTools(t *testing.T) {
	srv, _ := newTestServer(t)

	mcpSrv := srv.MCPServer()
	require.NotNil(t, mcpSrv)

	// Call tools/list via HandleMessage to verify registration.
	ctx := context.Background()
	reqJSON := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)
	respMsg := mcpSrv.HandleMessage(ctx, reqJSON)
	require.NotNil(t, respMsg)

	respBytes, err := json.Marshal(respMsg)
	require.NoError(t, err)

	var rpcResp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &rpcResp))

	toolNames := make(map[string]bool)
	for _, tool := range rpcResp.Result.Tools {
		toolNames[tool.Name] = true
	}

	for _, name := range []string{
		"fso_list_questions",
		"fso_get_question",
		"fso_search",
		"fso_list_tags",
		"fso_ask_question",
		"fso_answer_question",
	} {
		assert.True(t, toolNames[name], "expected tool %q to be registered", name)
	}
}
