package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	logx "thalis/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the SQLite-backed store, creating the database file and
// schema on first use.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Tasks

func (s *sqliteStore) ActiveTasks(ctx context.Context) ([]Task, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identity, title, description, assigned_agent, schedule, active, responses, last_run_at, created_at
		 FROM tasks WHERE active = 1 ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetTask(ctx context.Context, identity, id string) (Task, error) {
	if s == nil || s.db == nil {
		return Task{}, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, identity, title, description, assigned_agent, schedule, active, responses, last_run_at, created_at
		 FROM tasks WHERE id = ? AND identity = ?`, id, identity)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	return t, err
}

func (s *sqliteStore) PutTask(ctx context.Context, t Task) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	resp, err := json.Marshal(t.Responses)
	if err != nil {
		return err
	}
	if t.Responses == nil {
		resp = []byte("[]")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, identity, title, description, assigned_agent, schedule, active, responses, last_run_at, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   title=excluded.title, description=excluded.description, assigned_agent=excluded.assigned_agent,
		   schedule=excluded.schedule, active=excluded.active, responses=excluded.responses,
		   last_run_at=excluded.last_run_at`,
		t.ID, t.Identity, t.Title, t.Description, t.AssignedAgent, t.Schedule,
		boolInt(t.Active), string(resp), nullTime(t.LastRunAt), t.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) TouchTaskLastRun(ctx context.Context, identity, id string, at time.Time) error {
	return s.execOwned(ctx,
		`UPDATE tasks SET last_run_at = ? WHERE id = ? AND identity = ?`,
		at.UTC().Format(time.RFC3339Nano), id, identity)
}

func (s *sqliteStore) AppendTaskResponse(ctx context.Context, identity, id string, r TaskResponse) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	t, err := s.GetTask(ctx, identity, id)
	if err != nil {
		return err
	}
	if r.At.IsZero() {
		r.At = time.Now().UTC()
	}
	t.Responses = append(t.Responses, r)
	resp, err := json.Marshal(t.Responses)
	if err != nil {
		return err
	}
	return s.execOwned(ctx,
		`UPDATE tasks SET responses = ? WHERE id = ? AND identity = ?`,
		string(resp), id, identity)
}

func (s *sqliteStore) SetTaskActive(ctx context.Context, identity, id string, active bool) error {
	return s.execOwned(ctx,
		`UPDATE tasks SET active = ? WHERE id = ? AND identity = ?`,
		boolInt(active), id, identity)
}

// Programs

func (s *sqliteStore) PendingPrograms(ctx context.Context) ([]Program, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identity, name, description, html, css, js, status, feedback, created_at, updated_at
		 FROM programs WHERE status = ? ORDER BY updated_at`, ProgramStatusUpdate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetProgram(ctx context.Context, identity, id string) (Program, error) {
	if s == nil || s.db == nil {
		return Program{}, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, identity, name, description, html, css, js, status, feedback, created_at, updated_at
		 FROM programs WHERE id = ? AND identity = ?`, id, identity)
	p, err := scanProgram(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Program{}, ErrNotFound
	}
	return p, err
}

func (s *sqliteStore) PutProgram(ctx context.Context, p Program) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	if p.Status == "" {
		p.Status = ProgramStatusReady
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO programs(id, identity, name, description, html, css, js, status, feedback, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, description=excluded.description, html=excluded.html, css=excluded.css,
		   js=excluded.js, status=excluded.status, feedback=excluded.feedback, updated_at=excluded.updated_at`,
		p.ID, p.Identity, p.Name, p.Description, p.Source.HTML, p.Source.CSS, p.Source.JS,
		p.Status, p.Feedback, p.CreatedAt.Format(time.RFC3339Nano), p.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) SetProgramStatus(ctx context.Context, identity, id, status string) error {
	return s.execOwned(ctx,
		`UPDATE programs SET status = ?, updated_at = ? WHERE id = ? AND identity = ?`,
		status, time.Now().UTC().Format(time.RFC3339Nano), id, identity)
}

func (s *sqliteStore) SetProgramFeedback(ctx context.Context, identity, id, feedback string) error {
	return s.execOwned(ctx,
		`UPDATE programs SET feedback = ?, updated_at = ? WHERE id = ? AND identity = ?`,
		feedback, time.Now().UTC().Format(time.RFC3339Nano), id, identity)
}

func (s *sqliteStore) SetProgramSource(ctx context.Context, identity, id string, src ProgramSource) error {
	return s.execOwned(ctx,
		`UPDATE programs SET html = ?, css = ?, js = ?, updated_at = ? WHERE id = ? AND identity = ?`,
		src.HTML, src.CSS, src.JS, time.Now().UTC().Format(time.RFC3339Nano), id, identity)
}

// Conversations

func (s *sqliteStore) CreateConversation(ctx context.Context, identity, title string) (Conversation, error) {
	if s == nil || s.db == nil {
		return Conversation{}, ErrDisabled
	}
	c := Conversation{
		ID:        uuid.NewString(),
		Identity:  identity,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations(id, identity, title, created_at) VALUES(?,?,?,?)`,
		c.ID, c.Identity, c.Title, c.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Conversation{}, err
	}
	return c, nil
}

func (s *sqliteStore) DeleteConversation(ctx context.Context, identity, id string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	// Cascade does not fire without foreign_keys on every connection, so
	// delete messages explicitly.
	_, _ = s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id IN
		   (SELECT id FROM conversations WHERE id = ? AND identity = ?)`, id, identity)
	return s.execOwned(ctx,
		`DELETE FROM conversations WHERE id = ? AND identity = ?`, id, identity)
}

func (s *sqliteStore) ListConversations(ctx context.Context, identity string, includeHidden bool) ([]Conversation, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identity, title, created_at FROM conversations WHERE identity = ? ORDER BY created_at`,
		identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Conversation
	for rows.Next() {
		var c Conversation
		var created string
		if err := rows.Scan(&c.ID, &c.Identity, &c.Title, &created); err != nil {
			return nil, err
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		if !includeHidden && c.Hidden() {
			continue
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PurgeHiddenConversations(ctx context.Context, olderThan time.Duration) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339Nano)
	pattern := HiddenTitlePrefix + "%"
	_, _ = s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id IN
		   (SELECT id FROM conversations WHERE title LIKE ? AND created_at < ?)`, pattern, cutoff)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE title LIKE ? AND created_at < ?`, pattern, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Messages

func (s *sqliteStore) AppendMessage(ctx context.Context, identity, conversationID, role, content string) (Message, error) {
	if s == nil || s.db == nil {
		return Message{}, ErrDisabled
	}
	var owner string
	err := s.db.QueryRowContext(ctx,
		`SELECT identity FROM conversations WHERE id = ?`, conversationID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != identity) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, err
	}
	m := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages(id, conversation_id, role, content, created_at) VALUES(?,?,?,?,?)`,
		m.ID, m.ConversationID, m.Role, m.Content, m.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

func (s *sqliteStore) History(ctx context.Context, identity, conversationID string) ([]Message, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.conversation_id, m.role, m.content, m.created_at
		 FROM messages m JOIN conversations c ON c.id = m.conversation_id
		 WHERE m.conversation_id = ? AND c.identity = ?
		 ORDER BY m.rowid`, conversationID, identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		var created string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &created); err != nil {
			return nil, err
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteMessage(ctx context.Context, identity, messageID string) error {
	return s.execOwned(ctx,
		`DELETE FROM messages WHERE id = ? AND conversation_id IN
		   (SELECT id FROM conversations WHERE identity = ?)`, messageID, identity)
}

// Settings

func (s *sqliteStore) Settings(ctx context.Context, identity string) (map[string]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM settings WHERE identity = ?`, identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutSetting(ctx context.Context, identity, key, value string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(identity, key, value) VALUES(?,?,?)
		 ON CONFLICT(identity, key) DO UPDATE SET value=excluded.value`,
		identity, key, value)
	return err
}

// Helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var t Task
	var active int
	var responses string
	var lastRun sql.NullString
	var created string
	err := row.Scan(&t.ID, &t.Identity, &t.Title, &t.Description, &t.AssignedAgent,
		&t.Schedule, &active, &responses, &lastRun, &created)
	if err != nil {
		return Task{}, err
	}
	t.Active = active != 0
	if responses != "" {
		_ = json.Unmarshal([]byte(responses), &t.Responses)
	}
	if lastRun.Valid {
		at, perr := time.Parse(time.RFC3339Nano, lastRun.String)
		if perr == nil {
			t.LastRunAt = &at
		}
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return t, nil
}

func scanProgram(row rowScanner) (Program, error) {
	var p Program
	var created, updated string
	err := row.Scan(&p.ID, &p.Identity, &p.Name, &p.Description,
		&p.Source.HTML, &p.Source.CSS, &p.Source.JS, &p.Status, &p.Feedback, &created, &updated)
	if err != nil {
		return Program{}, err
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return p, nil
}

func (s *sqliteStore) execOwned(ctx context.Context, query string, args ...any) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
