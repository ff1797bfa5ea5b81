// Package memstore is the durable record of episodic, semantic, profile,
// commitment and todo memory units, with embeddings, importance and lazy
// decay. Supersession is logical: semantic memories are never physically
// deleted.
package memstore

import (
	"errors"
	"time"

	"github.com/harun/memori/pkg/domain"
)

// Kind classifies a memory unit
type Kind string

const (
	KindEpisodic   Kind = "episodic"
	KindSemantic   Kind = "semantic"
	KindProfile    Kind = "profile"
	KindCommitment Kind = "commitment"
	KindTodo       Kind = "todo"
)

// Valid reports whether the kind is recognized
func (k Kind) Valid() bool {
	switch k {
	case KindEpisodic, KindSemantic, KindProfile, KindCommitment, KindTodo:
		return true
	}
	return false
}

var (
	// ErrInvalidKind is returned for an unrecognized memory kind
	ErrInvalidKind = errors.New("invalid memory kind")
	// ErrNotFound is returned when a unit does not exist
	ErrNotFound = errors.New("memory unit not found")
	// ErrSupersessionOrder is returned when a replacement predates the
	// unit it supersedes
	ErrSupersessionOrder = errors.New("replacement must not predate superseded unit")
)

// ChatEvent is the immutable record of one conversation turn
type ChatEvent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}

// MemoryUnit is one stored memory with decay state and provenance
type MemoryUnit struct {
	ID     int64  `json:"id"`
	UserID string `json:"user_id"`
	Kind   Kind   `json:"kind"`
	Text   string `json:"text"`

	// Optional link into the business schema
	Entity *domain.EntityRef `json:"entity,omitempty"`
	// Structured claim, set when the unit asserts a value for an
	// attribute of the linked entity (the authority rule compares these)
	Attribute string `json:"attribute,omitempty"`
	Value     string `json:"value,omitempty"`

	Importance         float64       `json:"importance"`
	TTL                time.Duration `json:"ttl,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	LastReinforced     time.Time     `json:"last_reinforced"`
	ReinforcementCount int           `json:"reinforcement_count"`
	SupersededBy       *int64        `json:"superseded_by,omitempty"`

	// Provenance
	SourceEvent string `json:"source_event,omitempty"`
	Rule        string `json:"rule,omitempty"`
}

// Expired reports whether an episodic unit's TTL has elapsed
func (u *MemoryUnit) Expired(now time.Time) bool {
	return u.TTL > 0 && now.After(u.CreatedAt.Add(u.TTL))
}

// Alias maps a surface form to a resolved entity, per session or globally
type Alias struct {
	Surface   string            `json:"surface"`
	Scope     string            `json:"scope"` // session id, or "global"
	Name      string            `json:"name"`
	Ref       *domain.EntityRef `json:"ref,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// GlobalScope is the alias scope shared across sessions
const GlobalScope = "global"

// Summary is one consolidated view of a (user, window)
type Summary struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	WindowKey   string    `json:"window_key"`
	Summary     string    `json:"summary"`
	Fingerprint string    `json:"fingerprint"`
	Resolutions string    `json:"resolutions,omitempty"`
	Current     bool      `json:"current"`
	CreatedAt   time.Time `json:"created_at"`
}

// TurnTrace records what evidence produced a reply, for explainability
type TurnTrace struct {
	TurnID    string    `json:"turn_id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Reply     string    `json:"reply"`
	Evidence  string    `json:"evidence"` // JSON evidence snapshot
	CreatedAt time.Time `json:"created_at"`
}
