package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLog stores entries in PostgreSQL.
type PostgresLog struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to pgURL, verifies the connection and creates the
// messages table if it does not exist.
func OpenPostgres(ctx context.Context, pgURL string) (*PostgresLog, error) {
	config, err := pgxpool.ParseConfig(pgURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p := &PostgresLog{pool: pool}
	if err := p.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	slog.Info("conversation log opened", "backend", "postgres")
	return p, nil
}

func (p *PostgresLog) init(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			id           BIGSERIAL PRIMARY KEY,
			role         TEXT NOT NULL,
			content      TEXT NOT NULL,
			sender       TEXT NOT NULL,
			model        TEXT,
			message_type TEXT NOT NULL,
			prompt       TEXT,
			event_id     TEXT,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create messages table: %w", err)
	}
	_, err = p.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages (sender, id)`)
	if err != nil {
		return fmt.Errorf("create sender index: %w", err)
	}
	return nil
}

func (p *PostgresLog) Append(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO messages (role, content, sender, model, message_type, prompt, event_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, string(e.Role), e.Content, e.Sender, e.Model, string(e.Kind), e.Prompt, e.EventID)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (p *PostgresLog) Recent(ctx context.Context, q Query) ([]Entry, error) {
	q, err := q.normalize()
	if err != nil {
		return nil, err
	}

	var conditions []string
	var args []any
	if q.Sender != "" {
		args = append(args, q.Sender)
		conditions = append(conditions, fmt.Sprintf("sender = $%d", len(args)))
	}
	if q.Kind != "" {
		args = append(args, string(q.Kind))
		conditions = append(conditions, fmt.Sprintf("message_type = $%d", len(args)))
	}
	args = append(args, q.Limit)

	query := fmt.Sprintf(`SELECT id, role, content, sender, model, message_type, prompt, event_id, created_at
		FROM messages WHERE %s ORDER BY id DESC LIMIT $%d`, strings.Join(conditions, " AND "), len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var role, kind string
		var createdAt time.Time
		if err := rows.Scan(&e.ID, &role, &e.Content, &e.Sender, &e.Model, &kind, &e.Prompt, &e.EventID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		e.Role = Role(role)
		e.Kind = Kind(kind)
		e.CreatedAt = createdAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	reverse(entries)
	return entries, nil
}

func (p *PostgresLog) Close() error {
	p.pool.Close()
	return nil
}
