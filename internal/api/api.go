package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joescharf/fso/internal/forms"
	"github.com/joescharf/fso/internal/models"
	"github.com/joescharf/fso/internal/search"
	"github.com/joescharf/fso/internal/store"
)

// TagSuggester proposes tag names for a draft question.
type TagSuggester interface {
	SuggestTags(ctx context.Context, title, text string, existing []string) ([]string, error)
}

// Server provides the REST API handlers.
type Server struct {
	store     store.Store
	suggester TagSuggester
}

// NewServer creates a new API server.
// The suggester may be nil if no LLM is configured.
func NewServer(s store.Store, suggester TagSuggester) *Server {
	return &Server{
		store:     s,
		suggester: suggester,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/questions", s.listQuestions)
	mux.HandleFunc("POST /api/v1/questions", s.createQuestion)
	mux.HandleFunc("POST /api/v1/questions/suggest-tags", s.suggestTags)
	mux.HandleFunc("GET /api/v1/questions/{id}", s.getQuestion)
	mux.HandleFunc("GET /api/v1/questions/{id}/answers", s.listAnswers)
	mux.HandleFunc("POST /api/v1/questions/{id}/answers", s.createQuestionAnswer)
	mux.HandleFunc("PUT /api/v1/questions/{id}/views", s.incrementViews)

	mux.HandleFunc("POST /api/v1/answers", s.createAnswer)

	mux.HandleFunc("GET /api/v1/tags", s.listTags)
	mux.HandleFunc("POST /api/v1/tags/lookup", s.lookupTags)
	mux.HandleFunc("GET /api/v1/tags/{id}/questions", s.listTagQuestions)

	mux.HandleFunc("GET /api/v1/search", s.searchQuestions)

	mux.HandleFunc("GET /healthz", s.healthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	return corsMiddleware(instrument(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeFieldErrors(w http.ResponseWriter, fe forms.FieldErrors) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":  "validation failed",
		"fields": fe,
	})
}

// writeStoreError maps store errors to a response. Anything unexpected is
// logged and reported to the client as a generic failure.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidOrder):
		slog.Warn("invalid order", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNoTags):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) writeTagged(w http.ResponseWriter, r *http.Request, questions []*models.Question) {
	tagged, err := store.TagQuestions(r.Context(), s.store, questions)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tagged)
}

// --- Questions ---

func (s *Server) listQuestions(w http.ResponseWriter, r *http.Request) {
	order := models.OrderNewest
	if raw := r.URL.Query().Get("order"); raw != "" {
		parsed, err := models.ParseOrder(raw)
		if err != nil {
			slog.Warn("invalid order", "order", raw, "path", r.URL.Path)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		order = parsed
	}

	questions, err := s.store.ListQuestions(r.Context(), order)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	s.writeTagged(w, r, questions)
}

func (s *Server) createQuestion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		forms.Question
		AskedAt time.Time `json:"ask_date_time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := req.Question.Validate(); err != nil {
		if fe, ok := forms.AsFieldErrors(err); ok {
			writeFieldErrors(w, fe)
			return
		}
		writeStoreError(w, r, err)
		return
	}

	q := &models.Question{
		Title:   req.Title,
		Text:    req.Text,
		AskedBy: req.AskedBy,
		AskedAt: req.AskedAt,
	}
	if err := s.store.CreateQuestion(r.Context(), q, req.Tags); err != nil {
		writeStoreError(w, r, err)
		return
	}
	questionsAsked.Inc()

	tags, err := s.store.GetQuestionTags(r.Context(), q.ID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.TaggedQuestion{Question: q, Tags: tags})
}

func (s *Server) getQuestion(w http.ResponseWriter, r *http.Request) {
	q, err := s.store.GetQuestion(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) incrementViews(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	views, err := s.store.IncrementViews(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	questionViews.Inc()
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "views": views})
}

func (s *Server) suggestTags(w http.ResponseWriter, r *http.Request) {
	if s.suggester == nil {
		writeError(w, http.StatusServiceUnavailable, "tag suggestions not configured (set FSO_ANTHROPIC_API_KEY)")
		return
	}

	var req struct {
		Title string `json:"title"`
		Text  string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Title == "" && req.Text == "" {
		writeError(w, http.StatusBadRequest, "title or text is required")
		return
	}

	existing, err := s.store.ListTags(r.Context())
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	names := make([]string, len(existing))
	for i, t := range existing {
		names[i] = t.Name
	}

	suggested, err := s.suggester.SuggestTags(r.Context(), req.Title, req.Text, names)
	if err != nil {
		slog.Error("tag suggestion failed", "error", err)
		writeError(w, http.StatusBadGateway, "tag suggestion failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"tags": suggested})
}

// --- Answers ---

func (s *Server) listAnswers(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetQuestion(r.Context(), id); err != nil {
		writeStoreError(w, r, err)
		return
	}
	answers, err := s.store.ListAnswers(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answers)
}

func (s *Server) createQuestionAnswer(w http.ResponseWriter, r *http.Request) {
	var form forms.Answer
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	form.QuestionID = r.PathValue("id")
	s.postAnswer(w, r, &form)
}

func (s *Server) createAnswer(w http.ResponseWriter, r *http.Request) {
	var form forms.Answer
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s.postAnswer(w, r, &form)
}

func (s *Server) postAnswer(w http.ResponseWriter, r *http.Request, form *forms.Answer) {
	if err := form.Validate(); err != nil {
		if fe, ok := forms.AsFieldErrors(err); ok {
			writeFieldErrors(w, fe)
			return
		}
		writeStoreError(w, r, err)
		return
	}
	if form.QuestionID == "" {
		writeError(w, http.StatusBadRequest, "qid is required")
		return
	}

	a := &models.Answer{
		QuestionID: form.QuestionID,
		Text:       form.Text,
		AnsBy:      form.AnsBy,
	}
	if err := s.store.CreateAnswer(r.Context(), a); err != nil {
		writeStoreError(w, r, err)
		return
	}
	answersPosted.Inc()
	writeJSON(w, http.StatusCreated, a)
}

// --- Tags ---

func (s *Server) listTags(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.ListTagCounts(r.Context())
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) lookupTags(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	tags, err := s.store.GetTagsByIDs(r.Context(), req.IDs)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

func (s *Server) listTagQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := s.store.ListQuestionsByTag(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	s.writeTagged(w, r, questions)
}

// --- Search ---

func (s *Server) searchQuestions(w http.ResponseWriter, r *http.Request) {
	query := search.Parse(r.URL.Query().Get("q"))
	searchesRun.Inc()

	questions, err := s.store.SearchQuestions(r.Context(), query)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	s.writeTagged(w, r, questions)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
