package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/fso/internal/forms"
	"github.com/joescharf/fso/internal/models"
	"github.com/joescharf/fso/internal/search"
	"github.com/joescharf/fso/internal/store"
)

// Server wraps the forum data layer and exposes it as MCP tools.
type Server struct {
	store   store.Store
	version string
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{store: s, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("fso", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.listQuestionsTool())
	srv.AddTool(s.getQuestionTool())
	srv.AddTool(s.searchTool())
	srv.AddTool(s.listTagsTool())
	srv.AddTool(s.askQuestionTool())
	srv.AddTool(s.answerQuestionTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// fso_list_questions
func (s *Server) listQuestionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("fso_list_questions",
		mcp.WithDescription("List questions with their tags. Order is newest (default), unanswered, or active."),
		mcp.WithString("order",
			mcp.Description("Sort order"),
			mcp.Enum(string(models.OrderNewest), string(models.OrderUnanswered), string(models.OrderActive)),
		),
	)
	return tool, s.handleListQuestions
}

func (s *Server) handleListQuestions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	order, err := models.ParseOrder(request.GetString("order", string(models.OrderNewest)))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	questions, err := s.store.ListQuestions(ctx, order)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list questions: %v", err)), nil
	}
	tagged, err := store.TagQuestions(ctx, s.store, questions)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to resolve tags: %v", err)), nil
	}
	return jsonResult(tagged)
}

// fso_get_question
func (s *Server) getQuestionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("fso_get_question",
		mcp.WithDescription("Get a question by ID, including its tags and answers (newest first)."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Question ID")),
	)
	return tool, s.handleGetQuestion
}

func (s *Server) handleGetQuestion(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}

	q, err := s.store.GetQuestion(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("question not found: %s", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get question: %v", err)), nil
	}

	tags, err := s.store.GetQuestionTags(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get tags: %v", err)), nil
	}
	answers, err := s.store.ListAnswers(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list answers: %v", err)), nil
	}

	return jsonResult(struct {
		Question *models.Question `json:"question"`
		Tags     []*models.Tag    `json:"tags"`
		Answers  []*models.Answer `json:"answers"`
	}{q, tags, answers})
}

// fso_search
func (s *Server) searchTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("fso_search",
		mcp.WithDescription("Search questions. [tag] tokens match tag names exactly; other words match whole words in title or text. Results match any term, newest first."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query, e.g. \"[javascript] loop\"")),
	)
	return tool, s.handleSearch
}

func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}

	questions, err := s.store.SearchQuestions(ctx, search.Parse(raw))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	tagged, err := store.TagQuestions(ctx, s.store, questions)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to resolve tags: %v", err)), nil
	}
	return jsonResult(tagged)
}

// fso_list_tags
func (s *Server) listTagsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("fso_list_tags",
		mcp.WithDescription("List all tags with the number of questions carrying each."),
	)
	return tool, s.handleListTags
}

func (s *Server) handleListTags(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	counts, err := s.store.ListTagCounts(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tags: %v", err)), nil
	}
	return jsonResult(counts)
}

// fso_ask_question
func (s *Server) askQuestionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("fso_ask_question",
		mcp.WithDescription("Ask a new question. Tags are whitespace-separated; existing tags are reused ignoring case."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Question title (max 100 characters)")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Question text; links use [label](https://...)")),
		mcp.WithString("tags", mcp.Required(), mcp.Description("1 to 5 whitespace-separated tags, each at most 20 characters")),
		mcp.WithString("asked_by", mcp.Required(), mcp.Description("Username of the asker")),
	)
	return tool, s.handleAskQuestion
}

func (s *Server) handleAskQuestion(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	form := forms.Question{
		Title:   request.GetString("title", ""),
		Text:    request.GetString("text", ""),
		Tags:    forms.SplitTags(request.GetString("tags", "")),
		AskedBy: request.GetString("asked_by", ""),
	}
	if err := form.Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	q := &models.Question{
		Title:   form.Title,
		Text:    form.Text,
		AskedBy: form.AskedBy,
	}
	if err := s.store.CreateQuestion(ctx, q, form.Tags); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create question: %v", err)), nil
	}
	tags, err := s.store.GetQuestionTags(ctx, q.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get tags: %v", err)), nil
	}
	return jsonResult(models.TaggedQuestion{Question: q, Tags: tags})
}

// fso_answer_question
func (s *Server) answerQuestionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("fso_answer_question",
		mcp.WithDescription("Post an answer to an existing question."),
		mcp.WithString("question_id", mcp.Required(), mcp.Description("Question ID")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Answer text; links use [label](https://...)")),
		mcp.WithString("ans_by", mcp.Required(), mcp.Description("Username of the answerer")),
	)
	return tool, s.handleAnswerQuestion
}

func (s *Server) handleAnswerQuestion(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	qid, err := request.RequireString("question_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: question_id"), nil
	}

	form := forms.Answer{
		QuestionID: qid,
		Text:       request.GetString("text", ""),
		AnsBy:      request.GetString("ans_by", ""),
	}
	if err := form.Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	a := &models.Answer{
		QuestionID: form.QuestionID,
		Text:       form.Text,
		AnsBy:      form.AnsBy,
	}
	err = s.store.CreateAnswer(ctx, a)
	if errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("question not found: %s", qid)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to post answer: %v", err)), nil
	}
	return jsonResult(a)
}
