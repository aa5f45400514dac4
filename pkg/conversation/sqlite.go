package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	role         TEXT NOT NULL,
	content      TEXT NOT NULL,
	user         TEXT NOT NULL,
	model        TEXT,
	message_type TEXT NOT NULL,
	prompt       TEXT,
	event_id     TEXT,
	created_at   TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_user ON messages (user, id);
CREATE INDEX IF NOT EXISTS idx_messages_type ON messages (message_type, id);
`

// SQLiteLog stores entries in a SQLite database.
type SQLiteLog struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(path string) (*SQLiteLog, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open conversation db: %w", err)
	}
	// one connection: SQLite allows a single writer
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping conversation db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create messages table: %w", err)
	}

	slog.Info("conversation log opened", "backend", "sqlite", "path", path)
	return &SQLiteLog{db: db, path: path}, nil
}

func (s *SQLiteLog) Append(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (role, content, user, model, message_type, prompt, event_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(e.Role), e.Content, e.Sender, e.Model, string(e.Kind), e.Prompt, e.EventID,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *SQLiteLog) Recent(ctx context.Context, q Query) ([]Entry, error) {
	q, err := q.normalize()
	if err != nil {
		return nil, err
	}

	var conditions []string
	var args []interface{}
	if q.Sender != "" {
		conditions = append(conditions, "user = ?")
		args = append(args, q.Sender)
	}
	if q.Kind != "" {
		conditions = append(conditions, "message_type = ?")
		args = append(args, string(q.Kind))
	}
	args = append(args, q.Limit)

	query := `SELECT id, role, content, user, model, message_type, prompt, event_id, created_at
		FROM messages WHERE ` + strings.Join(conditions, " AND ") + ` ORDER BY id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var role, kind string
		var model, prompt, eventID, createdAt sql.NullString
		if err := rows.Scan(&e.ID, &role, &e.Content, &e.Sender, &model, &kind, &prompt, &eventID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		e.Role = Role(role)
		e.Kind = Kind(kind)
		e.Model = nullString(model)
		e.Prompt = nullString(prompt)
		e.EventID = nullString(eventID)
		if createdAt.Valid {
			e.CreatedAt = parseTime(createdAt.String)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	reverse(entries)
	return entries, nil
}

// Path returns the database file path.
func (s *SQLiteLog) Path() string { return s.path }

func (s *SQLiteLog) Close() error {
	return s.db.Close()
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// parseTime handles the formats SQLite hands back for CURRENT_TIMESTAMP.
func parseTime(s string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05Z",
		time.RFC3339,
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
