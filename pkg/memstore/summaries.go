package memstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CurrentSummary returns the current summary for a (user, window), or
// nil when the window has never been consolidated.
func (s *Store) CurrentSummary(ctx context.Context, userID, windowKey string) (*Summary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, window_key, summary, fingerprint, resolutions, current, created_at
		FROM summaries
		WHERE user_id = ? AND window_key = ? AND current = 1
		ORDER BY created_at DESC LIMIT 1`,
		userID, windowKey)

	sm, err := scanSummaryRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sm, err
}

func scanSummaryRow(row rowScanner) (*Summary, error) {
	var sm Summary
	var current int
	var createdAt int64
	err := row.Scan(&sm.ID, &sm.UserID, &sm.WindowKey, &sm.Summary,
		&sm.Fingerprint, &sm.Resolutions, &current, &createdAt)
	if err != nil {
		return nil, err
	}
	sm.Current = current == 1
	sm.CreatedAt = time.Unix(createdAt, 0)
	return &sm, nil
}

// SaveSummary inserts a new summary version and flips the current flag
// off the previous one. Older versions stay readable as history.
func (s *Store) SaveSummary(ctx context.Context, sm Summary) (*Summary, error) {
	if sm.CreatedAt.IsZero() {
		sm.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE summaries SET current = 0 WHERE user_id = ? AND window_key = ? AND current = 1`,
		sm.UserID, sm.WindowKey); err != nil {
		return nil, fmt.Errorf("failed to retire previous summary: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO summaries (user_id, window_key, summary, fingerprint, resolutions, current, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)`,
		sm.UserID, sm.WindowKey, sm.Summary, sm.Fingerprint, sm.Resolutions, sm.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to insert summary: %w", err)
	}
	sm.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read summary id: %w", err)
	}
	sm.Current = true

	if s.embedder != nil {
		if err := s.storeSummaryEmbedding(ctx, tx, sm.ID, sm.Summary); err != nil {
			s.logger.Warn().Err(err).Int64("summary", sm.ID).Msg("Failed to store summary embedding")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit summary: %w", err)
	}
	return &sm, nil
}

func (s *Store) storeSummaryEmbedding(ctx context.Context, tx *sql.Tx, id int64, text string) error {
	vec, err := s.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to generate embedding: %w", err)
	}
	vecJSON, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO summary_vec (summary_id, embedding) VALUES (?, ?)`,
		fmt.Sprint(id), string(vecJSON)); err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	return nil
}
