package memstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/memori/pkg/domain"
)

// PutAlias records a learned surface-to-entity binding. Session-scoped
// bindings shadow global ones on lookup.
func (s *Store) PutAlias(ctx context.Context, a Alias) error {
	if a.Surface == "" {
		return errors.New("alias surface is required")
	}
	if a.Scope == "" {
		a.Scope = GlobalScope
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	var refTable interface{}
	var refID interface{}
	if a.Ref != nil {
		refTable = a.Ref.Table
		refID = a.Ref.ID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO aliases (surface, scope, name, ref_table, ref_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(surface, scope) DO UPDATE SET
			name = excluded.name, ref_table = excluded.ref_table,
			ref_id = excluded.ref_id, created_at = excluded.created_at`,
		strings.ToLower(a.Surface), a.Scope, a.Name, refTable, refID, a.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to store alias: %w", err)
	}
	return nil
}

// GetAlias looks up a surface form, preferring the session scope over
// the global one. Returns nil when neither scope has a binding.
func (s *Store) GetAlias(ctx context.Context, surface, sessionScope string) (*Alias, error) {
	scopes := []string{GlobalScope}
	if sessionScope != "" && sessionScope != GlobalScope {
		scopes = []string{sessionScope, GlobalScope}
	}

	for _, scope := range scopes {
		a, err := s.getAliasScoped(ctx, strings.ToLower(surface), scope)
		if err != nil {
			return nil, err
		}
		if a != nil {
			return a, nil
		}
	}
	return nil, nil
}

func (s *Store) getAliasScoped(ctx context.Context, surface, scope string) (*Alias, error) {
	var a Alias
	var refTable sql.NullString
	var refID sql.NullInt64
	var createdAt int64

	err := s.db.QueryRowContext(ctx, `
		SELECT surface, scope, name, ref_table, ref_id, created_at
		FROM aliases WHERE surface = ? AND scope = ?`,
		surface, scope).
		Scan(&a.Surface, &a.Scope, &a.Name, &refTable, &refID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up alias: %w", err)
	}

	a.CreatedAt = time.Unix(createdAt, 0)
	if refTable.Valid && refID.Valid {
		a.Ref = &domain.EntityRef{Table: refTable.String, ID: refID.Int64}
	}
	return &a, nil
}
