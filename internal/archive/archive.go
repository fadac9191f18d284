// Package archive keeps imported conversations in a local SQLite database.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"chatimport/internal/conversation"
	"chatimport/internal/platform"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("conversation not found")

// Summary is one row of List.
type Summary struct {
	ID           string      `json:"id" yaml:"id"`
	Platform     platform.ID `json:"platform" yaml:"platform"`
	Title        string      `json:"title" yaml:"title"`
	SourceURL    string      `json:"sourceUrl" yaml:"source_url"`
	ImportedAt   time.Time   `json:"importedAt" yaml:"imported_at"`
	MessageCount int         `json:"messageCount" yaml:"message_count"`
}

// Archive stores ImportResults with their turns and attachments.
type Archive struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open creates or opens the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Archive, error) {
	dsn := path + "?_foreign_keys=on"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn += "&_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" a single database and serializes writers.
	db.SetMaxOpenConns(1)

	a := &Archive{db: db, path: path, now: time.Now}
	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return a, nil
}

// Close closes the database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Path returns the database path.
func (a *Archive) Path() string {
	return a.path
}

func (a *Archive) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		platform TEXT NOT NULL,
		title TEXT NOT NULL,
		source_url TEXT NOT NULL,
		imported_at TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_created ON conversations(created_at);

	CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		model_used TEXT NOT NULL,
		UNIQUE (conversation_id, position)
	);

	CREATE TABLE IF NOT EXISTS attachments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		turn_id INTEGER NOT NULL REFERENCES turns(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		filename TEXT NOT NULL,
		original_url TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		mime_type TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_attachments_turn ON attachments(turn_id);
	`
	_, err := a.db.Exec(schema)
	return err
}

// modelUsed labels assistant turns with the platform and user turns "user".
func modelUsed(id platform.ID, role conversation.Role) string {
	if role == conversation.RoleAssistant {
		return string(id)
	}
	return "user"
}

// Save stores r in one transaction and returns the new conversation id.
func (a *Archive) Save(ctx context.Context, r *conversation.ImportResult) (string, error) {
	if r == nil {
		return "", errors.New("nil import result")
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	id := uuid.NewString()
	title := r.Title
	if title == "" {
		title = "Imported from " + r.Platform.DisplayName()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (id, platform, title, source_url, imported_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(r.Platform), title, r.SourceURL, formatTime(r.ImportedAt), a.now().UnixNano(),
	); err != nil {
		return "", fmt.Errorf("insert conversation: %w", err)
	}

	for i, t := range r.Turns {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO turns (conversation_id, position, role, content, model_used) VALUES (?, ?, ?, ?, ?)`,
			id, i, string(t.Role), t.Content, modelUsed(r.Platform, t.Role),
		)
		if err != nil {
			return "", fmt.Errorf("insert turn %d: %w", i, err)
		}
		turnID, err := res.LastInsertId()
		if err != nil {
			return "", fmt.Errorf("turn %d id: %w", i, err)
		}
		for j, att := range t.Attachments {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO attachments (turn_id, position, filename, original_url, size_bytes, mime_type) VALUES (?, ?, ?, ?, ?, ?)`,
				turnID, j, att.Filename, att.OriginalURL, att.SizeBytes, att.MimeType,
			); err != nil {
				return "", fmt.Errorf("insert attachment %d of turn %d: %w", j, i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// Get loads a stored conversation with turns in their original order.
func (a *Archive) Get(ctx context.Context, id string) (*conversation.ImportResult, error) {
	var (
		r          conversation.ImportResult
		plat       string
		importedAt string
	)
	err := a.db.QueryRowContext(ctx,
		`SELECT platform, title, source_url, imported_at FROM conversations WHERE id = ?`, id,
	).Scan(&plat, &r.Title, &r.SourceURL, &importedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	r.Platform = platform.ID(plat)
	if r.ImportedAt, err = parseTime(importedAt); err != nil {
		return nil, err
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT t.id, t.role, t.content, a.filename, a.original_url, a.size_bytes, a.mime_type
		FROM turns t
		LEFT JOIN attachments a ON a.turn_id = t.id
		WHERE t.conversation_id = ?
		ORDER BY t.position, a.position`, id)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	lastTurn := int64(-1)
	for rows.Next() {
		var (
			turnID                      int64
			role, content               string
			filename, originalURL, mime sql.NullString
			size                        sql.NullInt64
		)
		if err := rows.Scan(&turnID, &role, &content, &filename, &originalURL, &size, &mime); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if turnID != lastTurn {
			r.Turns = append(r.Turns, conversation.Turn{
				Role:        conversation.Role(role),
				Content:     content,
				Attachments: []conversation.Attachment{},
			})
			lastTurn = turnID
		}
		if filename.Valid {
			cur := &r.Turns[len(r.Turns)-1]
			cur.Attachments = append(cur.Attachments, conversation.Attachment{
				Filename:    filename.String,
				OriginalURL: originalURL.String,
				SizeBytes:   size.Int64,
				MimeType:    mime.String,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return &r, nil
}

// List returns the most recent imports first. limit <= 0 means no limit.
func (a *Archive) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT c.id, c.platform, c.title, c.source_url, c.imported_at,
			(SELECT COUNT(*) FROM turns t WHERE t.conversation_id = c.id)
		FROM conversations c
		ORDER BY c.created_at DESC, c.rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			s          Summary
			plat       string
			importedAt string
		)
		if err := rows.Scan(&s.ID, &plat, &s.Title, &s.SourceURL, &importedAt, &s.MessageCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		s.Platform = platform.ID(plat)
		if s.ImportedAt, err = parseTime(importedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Delete removes a conversation with its turns and attachments.
func (a *Archive) Delete(ctx context.Context, id string) error {
	res, err := a.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// timeLayout is RFC 3339 with a fixed-width fraction, so stored values sort
// as text in time order. time.RFC3339Nano parses it.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
