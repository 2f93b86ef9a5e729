package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/fso/internal/models"
	"github.com/joescharf/fso/internal/store"
)

type stubSuggester struct {
	tags     []string
	err      error
	existing []string
}

func (s *stubSuggester) SuggestTags(_ context.Context, _, _ string, existing []string) ([]string, error) {
	s.existing = existing
	return s.tags, s.err
}

func setupTestServer(t *testing.T, suggester TagSuggester) (http.Handler, store.Store) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	srv := NewServer(s, suggester)
	return srv.Router(), s
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func seedQuestion(t *testing.T, s store.Store, title, text string, at time.Time, tags ...string) *models.Question {
	t.Helper()
	q := &models.Question{Title: title, Text: text, AskedBy: "seed", AskedAt: at}
	require.NoError(t, s.CreateQuestion(context.Background(), q, tags))
	return q
}

func decodeTagged(t *testing.T, w *httptest.ResponseRecorder) []models.TaggedQuestion {
	t.Helper()
	var out []models.TaggedQuestion
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestListQuestions_Empty(t *testing.T) {
	h, _ := setupTestServer(t, nil)

	w := do(t, h, "GET", "/api/v1/questions", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestCreateQuestion_API(t *testing.T) {
	h, s := setupTestServer(t, nil)

	body := `{"title":"  How to loop?  ","text":"See [MDN](https://developer.mozilla.org)","tags":["JavaScript","loops"],"asked_by":"ada"}`
	w := do(t, h, "POST", "/api/v1/questions", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created models.TaggedQuestion
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "How to loop?", created.Question.Title)
	assert.NotEmpty(t, created.Question.ID)
	require.Len(t, created.Tags, 2)
	assert.Equal(t, "JavaScript", created.Tags[0].Name)

	got, err := s.GetQuestion(context.Background(), created.Question.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada", got.AskedBy)
}

func TestCreateQuestion_ValidationErrors(t *testing.T) {
	h, _ := setupTestServer(t, nil)

	body := `{"title":"","text":"[bad](nowhere)","tags":["a","b","c","d","e","f"],"asked_by":""}`
	w := do(t, h, "POST", "/api/v1/questions", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "validation failed", resp.Error)
	assert.Equal(t, "Title cannot be empty", resp.Fields["title"])
	assert.Equal(t, "Invalid hyperlink", resp.Fields["text"])
	assert.Equal(t, "Cannot have more than 5 tags", resp.Fields["tags"])
	assert.Equal(t, "Username cannot be empty", resp.Fields["username"])
}

func TestCreateQuestion_InvalidJSON(t *testing.T) {
	h, _ := setupTestServer(t, nil)
	w := do(t, h, "POST", "/api/v1/questions", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListQuestions_Orders(t *testing.T) {
	h, s := setupTestServer(t, nil)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	q1 := seedQuestion(t, s, "q1", "x", base, "go")
	q2 := seedQuestion(t, s, "q2", "x", base.Add(time.Hour), "go")
	require.NoError(t, s.CreateAnswer(ctx, &models.Answer{QuestionID: q1.ID, Text: "a", AnsBy: "b", AnsweredAt: base.Add(2 * time.Hour)}))

	w := do(t, h, "GET", "/api/v1/questions", "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeTagged(t, w)
	require.Len(t, got, 2)
	assert.Equal(t, q2.ID, got[0].Question.ID, "newest by default")
	assert.Equal(t, "go", got[0].Tags[0].Name)

	w = do(t, h, "GET", "/api/v1/questions?order=active", "")
	got = decodeTagged(t, w)
	require.Len(t, got, 2)
	assert.Equal(t, q1.ID, got[0].Question.ID)

	w = do(t, h, "GET", "/api/v1/questions?order=unanswered", "")
	got = decodeTagged(t, w)
	require.Len(t, got, 1)
	assert.Equal(t, q2.ID, got[0].Question.ID)

	w = do(t, h, "GET", "/api/v1/questions?order=popular", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid order")
}

func TestGetQuestion_API(t *testing.T) {
	h, s := setupTestServer(t, nil)
	q := seedQuestion(t, s, "q", "x", time.Now(), "go")

	w := do(t, h, "GET", "/api/v1/questions/"+q.ID, "")
	assert.Equal(t, http.StatusOK, w.Code)

	var got models.Question
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, q.ID, got.ID)
	assert.Equal(t, q.TagIDs, got.TagIDs)

	w = do(t, h, "GET", "/api/v1/questions/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIncrementViews_API(t *testing.T) {
	h, s := setupTestServer(t, nil)
	q := seedQuestion(t, s, "q", "x", time.Now(), "go")

	for want := 1; want <= 3; want++ {
		w := do(t, h, "PUT", "/api/v1/questions/"+q.ID+"/views", "")
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Views int `json:"views"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, want, resp.Views)
	}

	w := do(t, h, "PUT", "/api/v1/questions/nope/views", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnswers_API(t *testing.T) {
	h, s := setupTestServer(t, nil)
	q := seedQuestion(t, s, "q", "x", time.Now(), "go")

	w := do(t, h, "POST", "/api/v1/questions/"+q.ID+"/answers", `{"text":"use a map","ans_by":"bob"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, h, "POST", "/api/v1/answers", `{"qid":"`+q.ID+`","text":"use a slice","ans_by":"eve"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, h, "GET", "/api/v1/questions/"+q.ID+"/answers", "")
	require.Equal(t, http.StatusOK, w.Code)
	var answers []models.Answer
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &answers))
	require.Len(t, answers, 2)

	got, err := s.GetQuestion(context.Background(), q.ID)
	require.NoError(t, err)
	assert.Len(t, got.AnswerIDs, 2)
}

func TestAnswers_API_Errors(t *testing.T) {
	h, s := setupTestServer(t, nil)
	q := seedQuestion(t, s, "q", "x", time.Now(), "go")

	w := do(t, h, "POST", "/api/v1/questions/"+q.ID+"/answers", `{"text":"","ans_by":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Answer text cannot be empty")

	w = do(t, h, "POST", "/api/v1/questions/missing/answers", `{"text":"t","ans_by":"u"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, "POST", "/api/v1/answers", `{"text":"t","ans_by":"u"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "qid is required")

	w = do(t, h, "GET", "/api/v1/questions/missing/answers", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTags_API(t *testing.T) {
	h, s := setupTestServer(t, nil)
	now := time.Now()
	q1 := seedQuestion(t, s, "q1", "x", now, "go", "sql")
	q2 := seedQuestion(t, s, "q2", "x", now.Add(time.Minute), "GO")

	w := do(t, h, "GET", "/api/v1/tags", "")
	require.Equal(t, http.StatusOK, w.Code)
	var counts []models.TagCount
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &counts))
	require.Len(t, counts, 2)
	assert.Equal(t, "go", counts[0].Name)
	assert.Equal(t, 2, counts[0].Count)
	assert.Equal(t, 1, counts[1].Count)

	w = do(t, h, "GET", "/api/v1/tags/"+counts[0].ID+"/questions", "")
	require.Equal(t, http.StatusOK, w.Code)
	tagged := decodeTagged(t, w)
	require.Len(t, tagged, 2)
	assert.Equal(t, q2.ID, tagged[0].Question.ID)
	assert.Equal(t, q1.ID, tagged[1].Question.ID)

	w = do(t, h, "POST", "/api/v1/tags/lookup", `{"ids":["`+q1.TagIDs[1]+`"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	var tags []models.Tag
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tags))
	require.Len(t, tags, 1)
	assert.Equal(t, "sql", tags[0].Name)
}

func TestSearch_API(t *testing.T) {
	h, s := setupTestServer(t, nil)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tagged := seedQuestion(t, s, "Closures", "scope", base, "javascript")
	worded := seedQuestion(t, s, "Exit a loop", "break?", base.Add(time.Minute), "python")
	seedQuestion(t, s, "Looping", "no match", base.Add(2*time.Minute), "go")

	w := do(t, h, "GET", "/api/v1/search?q="+url.QueryEscape("[javascript] loop"), "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeTagged(t, w)
	require.Len(t, got, 2)
	assert.Equal(t, worded.ID, got[0].Question.ID)
	assert.Equal(t, tagged.ID, got[1].Question.ID)
	assert.Equal(t, "javascript", got[1].Tags[0].Name)

	w = do(t, h, "GET", "/api/v1/search", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestSuggestTags_API(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		h, _ := setupTestServer(t, nil)
		w := do(t, h, "POST", "/api/v1/questions/suggest-tags", `{"title":"x"}`)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("suggests", func(t *testing.T) {
		stub := &stubSuggester{tags: []string{"go", "concurrency"}}
		h, s := setupTestServer(t, stub)
		seedQuestion(t, s, "q", "x", time.Now(), "go")

		w := do(t, h, "POST", "/api/v1/questions/suggest-tags", `{"title":"Goroutine leak"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"tags":["go","concurrency"]}`, w.Body.String())
		assert.Equal(t, []string{"go"}, stub.existing)
	})

	t.Run("empty draft", func(t *testing.T) {
		h, _ := setupTestServer(t, &stubSuggester{})
		w := do(t, h, "POST", "/api/v1/questions/suggest-tags", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("llm failure", func(t *testing.T) {
		h, _ := setupTestServer(t, &stubSuggester{err: errors.New("boom")})
		w := do(t, h, "POST", "/api/v1/questions/suggest-tags", `{"title":"x"}`)
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.NotContains(t, w.Body.String(), "boom")
	})
}

func TestCORSPreflight(t *testing.T) {
	h, _ := setupTestServer(t, nil)
	w := do(t, h, "OPTIONS", "/api/v1/questions", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthzAndMetrics(t *testing.T) {
	h, _ := setupTestServer(t, nil)

	w := do(t, h, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fso_http_requests_total")
}

func TestListQuestions_InvalidOrderIsLogged(t *testing.T) {
	h, _ := setupTestServer(t, nil)

	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	w := do(t, h, "GET", "/api/v1/questions?order=popular", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "invalid order")
	assert.Contains(t, logs.String(), "order=popular")
}
