package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/fso/internal/models"
	"github.com/joescharf/fso/internal/search"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection serializes
	// all access and avoids "database is locked" under concurrent HTTP requests.
	// Never issue a query while another result set is still open.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// jsonIDs encodes ids as one JSON array argument for json_each, which keeps
// id lists clear of SQLite's bound-variable limit.
func jsonIDs(ids []string) (string, error) {
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encode ids: %w", err)
	}
	return string(data), nil
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Questions ---

const questionColumns = `q.id, q.title, q.text, q.asked_by, q.ask_date_time, q.views`

type scanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row scanner) (*models.Question, error) {
	q := &models.Question{}
	if err := row.Scan(&q.ID, &q.Title, &q.Text, &q.AskedBy, &q.AskedAt, &q.Views); err != nil {
		return nil, err
	}
	q.AnswerIDs = []string{}
	q.TagIDs = []string{}
	return q, nil
}

// CreateQuestion stores q and links it to tagNames, creating tags that do not
// exist yet. Names differing only in case resolve to the same tag.
func (s *SQLiteStore) CreateQuestion(ctx context.Context, q *models.Question, tagNames []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	tags, err := ensureTags(ctx, tx, tagNames)
	if err != nil {
		return err
	}
	if len(tags) == 0 {
		return ErrNoTags
	}

	if q.ID == "" {
		q.ID = newULID()
	}
	if q.AskedAt.IsZero() {
		q.AskedAt = time.Now()
	}
	q.AskedAt = q.AskedAt.UTC()
	q.Views = 0
	q.AnswerIDs = []string{}
	q.TagIDs = []string{}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO questions (id, title, text, asked_by, ask_date_time, views) VALUES (?, ?, ?, ?, ?, 0)`,
		q.ID, q.Title, q.Text, q.AskedBy, q.AskedAt,
	)
	if err != nil {
		return fmt.Errorf("create question: %w", err)
	}

	for _, t := range tags {
		if containsString(q.TagIDs, t.ID) {
			continue
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO question_tags (question_id, tag_id, position) VALUES (?, ?, ?)`,
			q.ID, t.ID, len(q.TagIDs))
		if err != nil {
			return fmt.Errorf("tag question: %w", err)
		}
		q.TagIDs = append(q.TagIDs, t.ID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetQuestion(ctx context.Context, id string) (*models.Question, error) {
	q, err := scanQuestion(s.db.QueryRowContext(ctx,
		`SELECT `+questionColumns+` FROM questions q WHERE q.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("question %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}

	if err := s.loadRefs(ctx, []*models.Question{q}); err != nil {
		return nil, err
	}
	return q, nil
}

// ListQuestions returns questions sorted by order. The empty order returns
// every question in creation order.
func (s *SQLiteStore) ListQuestions(ctx context.Context, order models.Order) ([]*models.Question, error) {
	var query string
	switch order {
	case "":
		query = `SELECT ` + questionColumns + ` FROM questions q ORDER BY q.rowid`
	case models.OrderNewest:
		query = `SELECT ` + questionColumns + ` FROM questions q ORDER BY q.ask_date_time DESC, q.rowid DESC`
	case models.OrderUnanswered:
		query = `SELECT ` + questionColumns + ` FROM questions q
			WHERE NOT EXISTS (SELECT 1 FROM answers a WHERE a.question_id = q.id)
			ORDER BY q.ask_date_time DESC, q.rowid DESC`
	case models.OrderActive:
		// Most recent answer first; questions without answers go last.
		query = `SELECT ` + questionColumns + ` FROM questions q
			LEFT JOIN (SELECT question_id, MAX(ans_date_time) AS last_active FROM answers GROUP BY question_id) la
				ON la.question_id = q.id
			ORDER BY la.last_active IS NULL, la.last_active DESC, q.ask_date_time DESC, q.rowid DESC`
	default:
		return nil, fmt.Errorf("list questions: %w: %q", models.ErrInvalidOrder, order)
	}

	return s.queryQuestions(ctx, query)
}

// ListQuestionsByTag returns the questions carrying tagID, newest first.
func (s *SQLiteStore) ListQuestionsByTag(ctx context.Context, tagID string) ([]*models.Question, error) {
	return s.queryQuestions(ctx,
		`SELECT `+questionColumns+` FROM questions q
		JOIN question_tags qt ON qt.question_id = q.id
		WHERE qt.tag_id = ?
		ORDER BY q.ask_date_time DESC, q.rowid DESC`, tagID)
}

// IncrementViews adds one to the view counter and returns the new value.
func (s *SQLiteStore) IncrementViews(ctx context.Context, id string) (int, error) {
	var views int
	err := s.db.QueryRowContext(ctx,
		`UPDATE questions SET views = views + 1 WHERE id = ? RETURNING views`, id,
	).Scan(&views)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("question %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("increment views: %w", err)
	}
	return views, nil
}

// SearchQuestions returns the union of questions tagged with any of q.Tags and
// questions containing any of q.Words as a whole word, newest first.
func (s *SQLiteStore) SearchQuestions(ctx context.Context, q search.Query) ([]*models.Question, error) {
	if q.Empty() {
		return []*models.Question{}, nil
	}

	tagHit := "0"
	var tagArgs []any
	if len(q.Tags) > 0 {
		tagHit = `q.id IN (SELECT qt.question_id FROM question_tags qt
			JOIN tags t ON t.id = qt.tag_id
			WHERE t.name_key IN (SELECT value FROM json_each(?)))`
		keys, err := jsonIDs(foldAll(q.Tags))
		if err != nil {
			return nil, err
		}
		tagArgs = []any{keys}
	}

	// LIKE on case-folded text narrows candidates; whole-word matching is
	// confirmed below.
	conditions := []string{tagHit}
	args := append([]any{}, tagArgs...)
	for _, w := range q.Words {
		pattern := "%" + escapeLike(foldKey(w)) + "%"
		conditions = append(conditions,
			`(`+foldFunc+`(q.title) LIKE ? ESCAPE '\' OR `+foldFunc+`(q.text) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}

	query := `SELECT ` + questionColumns + `, ` + tagHit + ` AS tag_hit FROM questions q
		WHERE ` + strings.Join(conditions, " OR ") + `
		ORDER BY q.ask_date_time DESC, q.rowid DESC`
	allArgs := append(append([]any{}, tagArgs...), args...)

	rows, err := s.db.QueryContext(ctx, query, allArgs...)
	if err != nil {
		return nil, fmt.Errorf("search questions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	questions := []*models.Question{}
	for rows.Next() {
		qu := &models.Question{AnswerIDs: []string{}, TagIDs: []string{}}
		var hit bool
		if err := rows.Scan(&qu.ID, &qu.Title, &qu.Text, &qu.AskedBy, &qu.AskedAt, &qu.Views, &hit); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if hit || q.MatchesText(qu.Title, qu.Text) {
			questions = append(questions, qu)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search questions: %w", err)
	}
	_ = rows.Close()

	if err := s.loadRefs(ctx, questions); err != nil {
		return nil, err
	}
	return questions, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// queryQuestions runs a question query and fills answer and tag references.
func (s *SQLiteStore) queryQuestions(ctx context.Context, query string, args ...any) ([]*models.Question, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	questions := []*models.Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	// release the connection before loading references
	_ = rows.Close()

	if err := s.loadRefs(ctx, questions); err != nil {
		return nil, err
	}
	return questions, nil
}

// loadRefs fills AnswerIDs (posting order) and TagIDs (submission order).
func (s *SQLiteStore) loadRefs(ctx context.Context, questions []*models.Question) error {
	if len(questions) == 0 {
		return nil
	}
	byID := make(map[string]*models.Question, len(questions))
	ids := make([]string, 0, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
		ids = append(ids, q.ID)
	}
	idList, err := jsonIDs(ids)
	if err != nil {
		return err
	}

	load := func(query string, add func(q *models.Question, ref string)) error {
		rows, err := s.db.QueryContext(ctx, query, idList)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var qid, ref string
			if err := rows.Scan(&qid, &ref); err != nil {
				return err
			}
			if q, ok := byID[qid]; ok {
				add(q, ref)
			}
		}
		return rows.Err()
	}

	err = load(`SELECT question_id, id FROM answers
		WHERE question_id IN (SELECT value FROM json_each(?)) ORDER BY question_id, position`,
		func(q *models.Question, ref string) { q.AnswerIDs = append(q.AnswerIDs, ref) })
	if err != nil {
		return fmt.Errorf("load answer refs: %w", err)
	}

	err = load(`SELECT question_id, tag_id FROM question_tags
		WHERE question_id IN (SELECT value FROM json_each(?)) ORDER BY question_id, position`,
		func(q *models.Question, ref string) { q.TagIDs = append(q.TagIDs, ref) })
	if err != nil {
		return fmt.Errorf("load tag refs: %w", err)
	}
	return nil
}

// --- Answers ---

// CreateAnswer stores a and appends it to its question's answer list.
func (s *SQLiteStore) CreateAnswer(ctx context.Context, a *models.Answer) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM questions WHERE id = ?", a.QuestionID).Scan(&exists); err != nil {
		return fmt.Errorf("check question: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("question %s: %w", a.QuestionID, ErrNotFound)
	}

	var position int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM answers WHERE question_id = ?", a.QuestionID).Scan(&position); err != nil {
		return fmt.Errorf("count answers: %w", err)
	}

	if a.ID == "" {
		a.ID = newULID()
	}
	if a.AnsweredAt.IsZero() {
		a.AnsweredAt = time.Now()
	}
	a.AnsweredAt = a.AnsweredAt.UTC()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO answers (id, question_id, position, text, ans_by, ans_date_time) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.QuestionID, position, a.Text, a.AnsBy, a.AnsweredAt,
	)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ListAnswers returns a question's answers, newest first.
func (s *SQLiteStore) ListAnswers(ctx context.Context, questionID string) ([]*models.Answer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, question_id, text, ans_by, ans_date_time FROM answers
		WHERE question_id = ? ORDER BY ans_date_time DESC, position DESC`, questionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	answers := []*models.Answer{}
	for rows.Next() {
		a := &models.Answer{}
		if err := rows.Scan(&a.ID, &a.QuestionID, &a.Text, &a.AnsBy, &a.AnsweredAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// --- Tags ---

// EnsureTags finds or creates a tag for every non-blank name. The first
// spelling stored wins; later lookups ignore case.
func (s *SQLiteStore) EnsureTags(ctx context.Context, names []string) ([]*models.Tag, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	tags, err := ensureTags(ctx, tx, names)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return tags, nil
}

func ensureTags(ctx context.Context, db queryer, names []string) ([]*models.Tag, error) {
	tags := []*models.Tag{}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		t, err := tagByName(ctx, db, name)
		if errors.Is(err, ErrNotFound) {
			t = &models.Tag{ID: newULID(), Name: name, CreatedAt: time.Now().UTC()}
			_, err = db.ExecContext(ctx,
				`INSERT INTO tags (id, name, name_key, created_at) VALUES (?, ?, ?, ?)`,
				t.ID, t.Name, foldKey(name), t.CreatedAt)
			if err != nil {
				return nil, fmt.Errorf("create tag: %w", err)
			}
		} else if err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, nil
}

func tagByName(ctx context.Context, db queryer, name string) (*models.Tag, error) {
	t := &models.Tag{}
	err := db.QueryRowContext(ctx,
		"SELECT id, name, created_at FROM tags WHERE name_key = ?", foldKey(name),
	).Scan(&t.ID, &t.Name, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tag %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get tag: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) GetTagByName(ctx context.Context, name string) (*models.Tag, error) {
	return tagByName(ctx, s.db, name)
}

func (s *SQLiteStore) ListTags(ctx context.Context) ([]*models.Tag, error) {
	return s.queryTags(ctx, "SELECT id, name, created_at FROM tags ORDER BY rowid")
}

// ListTagCounts returns every tag with the number of questions carrying it,
// in creation order.
func (s *SQLiteStore) ListTagCounts(ctx context.Context) ([]*models.TagCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.name, COUNT(qt.question_id) FROM tags t
		LEFT JOIN question_tags qt ON qt.tag_id = t.id
		GROUP BY t.id
		ORDER BY t.rowid`)
	if err != nil {
		return nil, fmt.Errorf("list tag counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := []*models.TagCount{}
	for rows.Next() {
		c := &models.TagCount{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Count); err != nil {
			return nil, fmt.Errorf("scan tag count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) GetTagsByIDs(ctx context.Context, ids []string) ([]*models.Tag, error) {
	if len(ids) == 0 {
		return []*models.Tag{}, nil
	}
	idList, err := jsonIDs(ids)
	if err != nil {
		return nil, err
	}
	return s.queryTags(ctx,
		"SELECT id, name, created_at FROM tags WHERE id IN (SELECT value FROM json_each(?)) ORDER BY rowid",
		idList)
}

// GetQuestionTags returns a question's tags in the order they were submitted.
func (s *SQLiteStore) GetQuestionTags(ctx context.Context, questionID string) ([]*models.Tag, error) {
	return s.queryTags(ctx,
		`SELECT t.id, t.name, t.created_at FROM tags t
		JOIN question_tags qt ON t.id = qt.tag_id
		WHERE qt.question_id = ? ORDER BY qt.position`, questionID)
}

func (s *SQLiteStore) queryTags(ctx context.Context, query string, args ...any) ([]*models.Tag, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tags := []*models.Tag{}
	for rows.Next() {
		t := &models.Tag{}
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
