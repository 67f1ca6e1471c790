// Package journal records what each completion cycle and entry-point
// invocation did. Message contents are not stored.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"parley/internal/chat"
	"parley/internal/db"
	"parley/internal/entrypoint"
)

type Store struct {
	conn *sql.DB
}

func NewStore(database *db.DB) *Store {
	return &Store{conn: database.Conn()}
}

// Cycle is one journaled cycle.
type Cycle struct {
	ID             int64
	ConversationID string
	MessageID      string
	Outcome        chat.Outcome
	Function       string
	ContentBytes   int
	Error          string
	StartedAt      time.Time
	Duration       time.Duration
}

// RecordCycle implements chat.Recorder.
func (s *Store) RecordCycle(ctx context.Context, rec chat.CycleRecord) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO cycles (conversation_id, message_id, outcome, function_name, content_bytes, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ConversationID, rec.MessageID, string(rec.Outcome), rec.Function, rec.ContentBytes,
		errString(rec.Err), rec.Started.UnixMilli(), rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("inserting cycle: %w", err)
	}
	return nil
}

// RecordInvocation stores one entry-point invocation. Its signature matches
// entrypoint.WithOnInvoke; failures are logged.
func (s *Store) RecordInvocation(ctx context.Context, inv entrypoint.Invocation) {
	_, err := s.conn.ExecContext(context.WithoutCancel(ctx), `
		INSERT INTO invocations (conversation_id, function_name, arguments, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		chat.ConversationIDFromContext(ctx), inv.Name, inv.Arguments,
		errString(inv.Err), inv.Started.UnixMilli(), inv.Duration.Milliseconds(),
	)
	if err != nil {
		slog.Warn("journaling invocation", "function", inv.Name, "error", err)
	}
}

// Recent returns up to limit cycles, newest first. An empty conversationID
// matches every conversation.
func (s *Store) Recent(ctx context.Context, conversationID string, limit int) ([]Cycle, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, conversation_id, message_id, outcome, function_name, content_bytes, error, started_at, duration_ms
		FROM cycles
		WHERE ? = '' OR conversation_id = ?
		ORDER BY id DESC
		LIMIT ?`,
		conversationID, conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying cycles: %w", err)
	}
	defer rows.Close()

	var out []Cycle
	for rows.Next() {
		var (
			c          Cycle
			outcome    string
			startedMs  int64
			durationMs int64
		)
		if err := rows.Scan(&c.ID, &c.ConversationID, &c.MessageID, &outcome, &c.Function,
			&c.ContentBytes, &c.Error, &startedMs, &durationMs); err != nil {
			return nil, fmt.Errorf("scanning cycle: %w", err)
		}
		c.Outcome = chat.Outcome(outcome)
		c.StartedAt = time.UnixMilli(startedMs)
		c.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, c)
	}
	return out, rows.Err()
}

// InvocationCount returns how many invocations of function were journaled.
func (s *Store) InvocationCount(ctx context.Context, function string) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx, `SELECT count(*) FROM invocations WHERE function_name = ?`, function).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting invocations: %w", err)
	}
	return n, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
