package memstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveTrace persists the evidence snapshot for one turn
func (s *Store) SaveTrace(ctx context.Context, tr TurnTrace) error {
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO turn_traces (turn_id, user_id, session_id, reply, evidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		tr.TurnID, tr.UserID, tr.SessionID, tr.Reply, tr.Evidence, tr.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save trace: %w", err)
	}
	return nil
}

// GetTrace loads the evidence snapshot for a turn
func (s *Store) GetTrace(ctx context.Context, turnID string) (*TurnTrace, error) {
	var tr TurnTrace
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT turn_id, user_id, session_id, reply, evidence, created_at
		FROM turn_traces WHERE turn_id = ?`, turnID).
		Scan(&tr.TurnID, &tr.UserID, &tr.SessionID, &tr.Reply, &tr.Evidence, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: trace %s", ErrNotFound, turnID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trace: %w", err)
	}
	tr.CreatedAt = time.Unix(createdAt, 0)
	return &tr, nil
}

// RecentEvents returns the newest events for a session, oldest first
func (s *Store) RecentEvents(ctx context.Context, sessionID string, limit int) ([]ChatEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, session_id, role, content, content_hash, created_at
		FROM chat_events WHERE session_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []ChatEvent
	for rows.Next() {
		var ev ChatEvent
		var createdAt int64
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.SessionID, &ev.Role,
			&ev.Content, &ev.Hash, &createdAt); err != nil {
			return nil, err
		}
		ev.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// EventsSince returns a user's events newer than the cutoff, oldest
// first. The consolidator uses this to build its window.
func (s *Store) EventsSince(ctx context.Context, userID string, since time.Time) ([]ChatEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, session_id, role, content, content_hash, created_at
		FROM chat_events WHERE user_id = ? AND created_at > ?
		ORDER BY created_at ASC, id ASC`,
		userID, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []ChatEvent
	for rows.Next() {
		var ev ChatEvent
		var createdAt int64
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.SessionID, &ev.Role,
			&ev.Content, &ev.Hash, &createdAt); err != nil {
			return nil, err
		}
		ev.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Users returns the distinct user ids that own memory units or events
func (s *Store) Users(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM memory_units
		UNION SELECT user_id FROM chat_events`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
