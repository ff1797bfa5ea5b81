package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// VectorHit is one unit returned by the vector leg
type VectorHit struct {
	Unit     *MemoryUnit
	Distance float64
}

// VectorSearch runs the semantic leg over unit embeddings. Returns nil
// when no embedder is configured; the keyword leg still covers those
// deployments.
func (s *Store) VectorSearch(ctx context.Context, userID, query string, limit int) ([]VectorHit, error) {
	if s.embedder == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	vec, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	vecJSON, err := json.Marshal(vec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query embedding: %w", err)
	}

	// Brute-force cosine scan; the per-user unit count stays small
	// enough that an ANN index would be overkill.
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.user_id, u.kind, u.text, u.ref_table, u.ref_id, u.attribute, u.value,
		       u.importance, u.ttl_seconds, u.created_at, u.last_reinforced,
		       u.reinforcement_count, u.superseded_by, u.source_event, u.rule,
		       vec_distance_cosine(v.embedding, ?) AS distance
		FROM unit_vec v
		JOIN memory_units u ON u.id = CAST(v.unit_id AS INTEGER)
		WHERE u.user_id = ? AND u.superseded_by IS NULL
		ORDER BY distance ASC
		LIMIT ?`,
		string(vecJSON), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var h VectorHit
		h.Unit, err = scanUnitWithDistance(rows, &h.Distance)
		if err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func scanUnitWithDistance(rows rowScanner, distance *float64) (*MemoryUnit, error) {
	// Piggyback on scanUnit by scanning into a wrapper that appends the
	// distance column.
	wrapper := &distanceScanner{inner: rows, distance: distance}
	return scanUnit(wrapper)
}

type distanceScanner struct {
	inner    rowScanner
	distance *float64
}

func (d *distanceScanner) Scan(dest ...interface{}) error {
	return d.inner.Scan(append(dest, d.distance)...)
}

// KeywordHit is one unit returned by the keyword leg
type KeywordHit struct {
	Unit *MemoryUnit
	Rank float64 // bm25, lower is better
}

// KeywordSearch runs the lexical leg over the FTS index
func (s *Store) KeywordSearch(ctx context.Context, userID, query string, limit int) ([]KeywordHit, error) {
	if limit <= 0 {
		limit = 10
	}

	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.user_id, u.kind, u.text, u.ref_table, u.ref_id, u.attribute, u.value,
		       u.importance, u.ttl_seconds, u.created_at, u.last_reinforced,
		       u.reinforcement_count, u.superseded_by, u.source_event, u.rule,
		       bm25(units_fts) AS rank
		FROM units_fts f
		JOIN memory_units u ON u.id = CAST(f.unit_id AS INTEGER)
		WHERE units_fts MATCH ? AND u.user_id = ? AND u.superseded_by IS NULL
		ORDER BY rank ASC
		LIMIT ?`,
		match, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	defer rows.Close()

	var hits []KeywordHit
	for rows.Next() {
		var h KeywordHit
		h.Unit, err = scanUnitWithDistance(rows, &h.Rank)
		if err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ftsQuery quotes each token so user text cannot inject FTS operators
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// SummaryHit is one consolidated summary returned by the vector leg
type SummaryHit struct {
	Summary  *Summary
	Distance float64
}

// SummarySearch runs the semantic leg over current summaries
func (s *Store) SummarySearch(ctx context.Context, userID, query string, limit int) ([]SummaryHit, error) {
	if s.embedder == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 3
	}

	vec, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	vecJSON, err := json.Marshal(vec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query embedding: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sm.id, sm.user_id, sm.window_key, sm.summary, sm.fingerprint,
		       sm.resolutions, sm.current, sm.created_at,
		       vec_distance_cosine(v.embedding, ?) AS distance
		FROM summary_vec v
		JOIN summaries sm ON sm.id = CAST(v.summary_id AS INTEGER)
		WHERE sm.user_id = ? AND sm.current = 1
		ORDER BY distance ASC
		LIMIT ?`,
		string(vecJSON), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("summary search failed: %w", err)
	}
	defer rows.Close()

	var hits []SummaryHit
	for rows.Next() {
		var h SummaryHit
		sm, err := scanSummaryRow(&distanceScanner{inner: rows, distance: &h.Distance})
		if err != nil {
			return nil, err
		}
		h.Summary = sm
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
