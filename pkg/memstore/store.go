package memstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/memori/internal/observability"
	"github.com/harun/memori/internal/tracing"
	"github.com/harun/memori/pkg/domain"
	"github.com/harun/memori/pkg/embedding"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// Store is the durable memory store
type Store struct {
	db       *sql.DB
	logger   zerolog.Logger
	embedder embedding.Provider

	decay       DecayParams
	gain        float64
	episodicTTL time.Duration
}

// Config holds memory store configuration
type Config struct {
	DBPath   string
	Logger   zerolog.Logger
	Embedder embedding.Provider // optional, nil skips vector indexing

	DecayHalfLife     time.Duration
	DecayFloor        float64
	ReinforcementGain float64
	EpisodicTTL       time.Duration
}

// NewStore opens the memory database and initializes the schema
func NewStore(cfg Config) (*Store, error) {
	observability.EnsureRegistered()

	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.DecayHalfLife <= 0 {
		cfg.DecayHalfLife = 720 * time.Hour
	}
	if cfg.ReinforcementGain <= 0 {
		cfg.ReinforcementGain = 0.15
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_fts5=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode lets the consolidator read while turns write
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:       db,
		logger:   cfg.Logger,
		embedder: cfg.Embedder,
		decay: DecayParams{
			HalfLife: cfg.DecayHalfLife,
			Floor:    cfg.DecayFloor,
		},
		gain:        cfg.ReinforcementGain,
		episodicTTL: cfg.EpisodicTTL,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("db", cfg.DBPath).Msg("Memory store initialized")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS chat_events (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			UNIQUE(session_id, content_hash)
		);
		CREATE INDEX IF NOT EXISTS idx_events_user ON chat_events(user_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_events_session ON chat_events(session_id, created_at);

		CREATE TABLE IF NOT EXISTS memory_units (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			text TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			ref_table TEXT,
			ref_id INTEGER,
			attribute TEXT NOT NULL DEFAULT '',
			value TEXT NOT NULL DEFAULT '',
			importance REAL NOT NULL,
			ttl_seconds INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			last_reinforced INTEGER NOT NULL,
			reinforcement_count INTEGER NOT NULL DEFAULT 0,
			superseded_by INTEGER,
			source_event TEXT NOT NULL DEFAULT '',
			rule TEXT NOT NULL DEFAULT ''
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_units_active_fp
			ON memory_units(user_id, fingerprint) WHERE superseded_by IS NULL;
		CREATE INDEX IF NOT EXISTS idx_units_user ON memory_units(user_id, kind);

		CREATE TABLE IF NOT EXISTS aliases (
			surface TEXT NOT NULL,
			scope TEXT NOT NULL,
			name TEXT NOT NULL,
			ref_table TEXT,
			ref_id INTEGER,
			created_at INTEGER NOT NULL,
			UNIQUE(surface, scope)
		);

		CREATE TABLE IF NOT EXISTS summaries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			window_key TEXT NOT NULL,
			summary TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			resolutions TEXT NOT NULL DEFAULT '',
			current INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_summaries_user ON summaries(user_id, window_key, current);

		CREATE TABLE IF NOT EXISTS turn_traces (
			turn_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			reply TEXT NOT NULL,
			evidence TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE VIRTUAL TABLE IF NOT EXISTS units_fts USING fts5(
			unit_id UNINDEXED,
			text,
			tokenize='porter unicode61'
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	if s.embedder != nil {
		dimension := s.embedder.Dimension()
		vectorSchema := fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS unit_vec USING vec0(
				unit_id TEXT PRIMARY KEY,
				embedding float[%d] distance_metric=cosine
			);
			CREATE VIRTUAL TABLE IF NOT EXISTS summary_vec USING vec0(
				summary_id TEXT PRIMARY KEY,
				embedding float[%d] distance_metric=cosine
			);
		`, dimension, dimension)

		if _, err := s.db.Exec(vectorSchema); err != nil {
			return fmt.Errorf("failed to create vector tables: %w", err)
		}
	}

	return nil
}

// Close closes the store
func (s *Store) Close() error {
	return s.db.Close()
}

// normalizeText canonicalizes text for fingerprinting
func normalizeText(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	return strings.Join(strings.Fields(lower), " ")
}

// Fingerprint computes the content fingerprint that makes upserts
// idempotent: normalized text + kind + linked entity.
func Fingerprint(text string, kind Kind, ref *domain.EntityRef) string {
	refKey := ""
	if ref != nil {
		refKey = ref.String()
	}
	sum := sha256.Sum256([]byte(normalizeText(text) + "|" + string(kind) + "|" + refKey))
	return hex.EncodeToString(sum[:])
}

// AppendEvent records a chat event. Re-ingesting the same content in the
// same session returns the existing event with inserted=false.
func (s *Store) AppendEvent(ctx context.Context, ev ChatEvent) (*ChatEvent, bool, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	sum := sha256.Sum256([]byte(ev.Content))
	ev.Hash = hex.EncodeToString(sum[:])

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO chat_events (id, user_id, session_id, role, content, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.UserID, ev.SessionID, ev.Role, ev.Content, ev.Hash, ev.CreatedAt.Unix())
	if err != nil {
		return nil, false, fmt.Errorf("failed to append event: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		// Duplicate: hand back the original event
		var existing ChatEvent
		var createdAt int64
		err := s.db.QueryRowContext(ctx, `
			SELECT id, user_id, session_id, role, content, content_hash, created_at
			FROM chat_events WHERE session_id = ? AND content_hash = ?`,
			ev.SessionID, ev.Hash).
			Scan(&existing.ID, &existing.UserID, &existing.SessionID, &existing.Role,
				&existing.Content, &existing.Hash, &createdAt)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load duplicate event: %w", err)
		}
		existing.CreatedAt = time.Unix(createdAt, 0)
		return &existing, false, nil
	}

	return &ev, true, nil
}

// UpsertResult reports what an upsert did
type UpsertResult struct {
	Unit       *MemoryUnit
	Reinforced bool
}

// Upsert inserts a memory unit or reinforces the active unit with the
// same fingerprint. The conditional write runs in one transaction, so
// concurrent turns for the same session cannot duplicate a memory.
func (s *Store) Upsert(ctx context.Context, unit MemoryUnit) (*UpsertResult, error) {
	ctx, span := tracing.StartSpan(ctx, "memori.memstore", "memstore.upsert",
		attribute.String("kind", string(unit.Kind)))
	defer span.End()

	if !unit.Kind.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKind, unit.Kind)
	}

	start := time.Now()
	now := time.Now()
	if unit.CreatedAt.IsZero() {
		unit.CreatedAt = now
	}
	if unit.Importance <= 0 {
		unit.Importance = 0.5
	}
	if unit.Kind == KindEpisodic && unit.TTL == 0 {
		unit.TTL = s.episodicTTL
	}

	fingerprint := Fingerprint(unit.Text, unit.Kind, unit.Entity)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existingID int64
	var existingImportance float64
	var existingCount int
	err = tx.QueryRowContext(ctx, `
		SELECT id, importance, reinforcement_count FROM memory_units
		WHERE user_id = ? AND fingerprint = ? AND superseded_by IS NULL`,
		unit.UserID, fingerprint).
		Scan(&existingID, &existingImportance, &existingCount)

	switch {
	case err == nil:
		// Same fact restated: reinforce in place instead of duplicating
		newImportance := Reinforce(existingImportance, s.gain)
		if _, err := tx.ExecContext(ctx, `
			UPDATE memory_units
			SET importance = ?, reinforcement_count = reinforcement_count + 1, last_reinforced = ?
			WHERE id = ?`,
			newImportance, now.Unix(), existingID); err != nil {
			return nil, fmt.Errorf("failed to reinforce unit: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit reinforcement: %w", err)
		}

		observability.RecordMemoryWrite(string(unit.Kind), "reinforce", time.Since(start))
		reinforced, err := s.GetUnit(ctx, existingID)
		if err != nil {
			return nil, err
		}
		return &UpsertResult{Unit: reinforced, Reinforced: true}, nil

	case errors.Is(err, sql.ErrNoRows):
		// New fact: insert below

	default:
		return nil, fmt.Errorf("failed to look up fingerprint: %w", err)
	}

	var refTable interface{}
	var refID interface{}
	if unit.Entity != nil {
		refTable = unit.Entity.Table
		refID = unit.Entity.ID
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO memory_units
			(user_id, kind, text, fingerprint, ref_table, ref_id, attribute, value,
			 importance, ttl_seconds, created_at, last_reinforced, reinforcement_count,
			 source_event, rule)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		unit.UserID, string(unit.Kind), unit.Text, fingerprint, refTable, refID,
		unit.Attribute, unit.Value, unit.Importance, int64(unit.TTL.Seconds()),
		unit.CreatedAt.Unix(), unit.CreatedAt.Unix(), unit.SourceEvent, unit.Rule)
	if err != nil {
		return nil, fmt.Errorf("failed to insert unit: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read unit id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO units_fts (unit_id, text) VALUES (?, ?)`,
		fmt.Sprint(id), unit.Text); err != nil {
		return nil, fmt.Errorf("failed to index unit text: %w", err)
	}

	// Vector indexing degrades gracefully: a unit without an embedding
	// is still reachable through the keyword leg.
	if s.embedder != nil {
		if err := s.storeUnitEmbedding(ctx, tx, id, unit.Text); err != nil {
			s.logger.Warn().Err(err).Int64("unit", id).Msg("Failed to store unit embedding")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit unit: %w", err)
	}

	observability.RecordMemoryWrite(string(unit.Kind), "insert", time.Since(start))

	inserted, err := s.GetUnit(ctx, id)
	if err != nil {
		return nil, err
	}
	return &UpsertResult{Unit: inserted, Reinforced: false}, nil
}

func (s *Store) storeUnitEmbedding(ctx context.Context, tx *sql.Tx, id int64, text string) error {
	vec, err := s.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to generate embedding: %w", err)
	}
	vecJSON, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO unit_vec (unit_id, embedding) VALUES (?, ?)`,
		fmt.Sprint(id), string(vecJSON)); err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	return nil
}

// GetUnit loads one unit by id
func (s *Store) GetUnit(ctx context.Context, id int64) (*MemoryUnit, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, kind, text, ref_table, ref_id, attribute, value,
		       importance, ttl_seconds, created_at, last_reinforced,
		       reinforcement_count, superseded_by, source_event, rule
		FROM memory_units WHERE id = ?`, id)

	unit, err := scanUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return unit, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUnit(row rowScanner) (*MemoryUnit, error) {
	var u MemoryUnit
	var kind string
	var refTable sql.NullString
	var refID sql.NullInt64
	var ttlSeconds, createdAt, lastReinforced int64
	var supersededBy sql.NullInt64

	err := row.Scan(&u.ID, &u.UserID, &kind, &u.Text, &refTable, &refID,
		&u.Attribute, &u.Value, &u.Importance, &ttlSeconds, &createdAt,
		&lastReinforced, &u.ReinforcementCount, &supersededBy,
		&u.SourceEvent, &u.Rule)
	if err != nil {
		return nil, err
	}

	u.Kind = Kind(kind)
	u.TTL = time.Duration(ttlSeconds) * time.Second
	u.CreatedAt = time.Unix(createdAt, 0)
	u.LastReinforced = time.Unix(lastReinforced, 0)
	if refTable.Valid && refID.Valid {
		u.Entity = &domain.EntityRef{Table: refTable.String, ID: refID.Int64}
	}
	if supersededBy.Valid {
		v := supersededBy.Int64
		u.SupersededBy = &v
	}
	return &u, nil
}

// FindOptions filters a Find call
type FindOptions struct {
	UserID            string
	Kind              Kind // optional
	Limit             int
	IncludeSuperseded bool // history listing
}

// Find returns the user's units ordered by decayed importance.
// Superseded and TTL-expired units are excluded unless history is
// requested explicitly.
func (s *Store) Find(ctx context.Context, opts FindOptions) ([]*MemoryUnit, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	query := `
		SELECT id, user_id, kind, text, ref_table, ref_id, attribute, value,
		       importance, ttl_seconds, created_at, last_reinforced,
		       reinforcement_count, superseded_by, source_event, rule
		FROM memory_units WHERE user_id = ?`
	args := []interface{}{opts.UserID}

	if !opts.IncludeSuperseded {
		query += ` AND superseded_by IS NULL`
	}
	if opts.Kind != "" {
		if !opts.Kind.Valid() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidKind, opts.Kind)
		}
		query += ` AND kind = ?`
		args = append(args, string(opts.Kind))
	}
	query += ` ORDER BY last_reinforced DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query units: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	var units []*MemoryUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		if !opts.IncludeSuperseded && u.Expired(now) {
			continue
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(units, func(i, j int) bool {
		return s.decay.EffectiveImportance(units[i], now) > s.decay.EffectiveImportance(units[j], now)
	})
	if len(units) > opts.Limit {
		units = units[:opts.Limit]
	}
	return units, nil
}

// EffectiveImportance exposes the store's decay curve for one unit
func (s *Store) EffectiveImportance(u *MemoryUnit, now time.Time) float64 {
	return s.decay.EffectiveImportance(u, now)
}

// Supersede marks old as replaced by replacement. The old unit stays on
// disk for audit but leaves retrieval ranking.
func (s *Store) Supersede(ctx context.Context, oldID, replacementID int64) error {
	older, err := s.GetUnit(ctx, oldID)
	if err != nil {
		return err
	}
	replacement, err := s.GetUnit(ctx, replacementID)
	if err != nil {
		return err
	}
	if replacement.CreatedAt.Before(older.CreatedAt) {
		return fmt.Errorf("%w: unit %d predates unit %d", ErrSupersessionOrder, replacementID, oldID)
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE memory_units SET superseded_by = ? WHERE id = ? AND superseded_by IS NULL`,
		replacementID, oldID); err != nil {
		return fmt.Errorf("failed to supersede unit: %w", err)
	}

	observability.RecordMemoryWrite(string(older.Kind), "supersede", 0)
	return nil
}

// MarkSuperseded records a conflict resolution without the ordering
// check. Consolidation may prefer an older, more reinforced unit over a
// newer one, so the winner is allowed to predate the loser here.
func (s *Store) MarkSuperseded(ctx context.Context, loserID, winnerID int64) error {
	loser, err := s.GetUnit(ctx, loserID)
	if err != nil {
		return err
	}
	if _, err := s.GetUnit(ctx, winnerID); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE memory_units SET superseded_by = ? WHERE id = ? AND superseded_by IS NULL`,
		winnerID, loserID); err != nil {
		return fmt.Errorf("failed to supersede unit: %w", err)
	}

	observability.RecordMemoryWrite(string(loser.Kind), "supersede", 0)
	return nil
}

// MarkStale decays a unit that a domain fact contradicted: its base
// importance is halved and its reinforcement clock rewound so ranking
// demotes it immediately. The unit itself stays retrievable until a
// corrective unit supersedes it.
func (s *Store) MarkStale(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_units
		SET importance = MAX(importance * 0.5, ?), last_reinforced = created_at
		WHERE id = ? AND superseded_by IS NULL`,
		s.decay.Floor, id)
	if err != nil {
		return fmt.Errorf("failed to mark unit stale: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

// ActiveUnitCount returns the number of active units across all users
func (s *Store) ActiveUnitCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_units WHERE superseded_by IS NULL`).Scan(&n)
	return n, err
}
