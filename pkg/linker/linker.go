// Package linker resolves surface mentions like "the bakery" or
// "ORD-1001" to entities in the business schema. Resolution runs in
// stages from cheap exact matches to semantic similarity, and asks for
// clarification instead of guessing when two candidates score too close.
package linker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/memori/internal/observability"
	"github.com/harun/memori/internal/tracing"
	"github.com/harun/memori/pkg/domain"
	"github.com/harun/memori/pkg/embedding"
	"github.com/harun/memori/pkg/memstore"
)

// State is the resolution state of a mention
type State string

const (
	StateUnresolved State = "unresolved"
	StateConfirming State = "confirming"
	StateResolved   State = "resolved"
)

// Candidate is one scored resolution option
type Candidate struct {
	Name       string           `json:"name"`
	Ref        domain.EntityRef `json:"ref"`
	Confidence float64          `json:"confidence"`
	Stage      string           `json:"stage"`
}

// LinkResult is the outcome of resolving one mention
type LinkResult struct {
	Mention    string            `json:"mention"`
	State      State             `json:"state"`
	Ref        *domain.EntityRef `json:"ref,omitempty"`
	Name       string            `json:"name,omitempty"`
	Confidence float64           `json:"confidence"`
	Stage      string            `json:"stage,omitempty"`
	// Exactly the two contenders when State is confirming
	Candidates []Candidate `json:"candidates,omitempty"`
}

// AliasStore persists learned surface-to-entity bindings
type AliasStore interface {
	GetAlias(ctx context.Context, surface, sessionScope string) (*memstore.Alias, error)
	PutAlias(ctx context.Context, a memstore.Alias) error
}

// NameSource provides the entity display names to match against
type NameSource interface {
	NameIndex(ctx context.Context) ([]domain.NameEntry, error)
}

// Config holds linker construction parameters
type Config struct {
	Aliases  AliasStore
	Names    NameSource
	Embedder embedding.Provider // optional, disables the semantic stage when nil
	Logger   zerolog.Logger

	Margin          float64
	ConfidenceFloor float64
	MaxCandidates   int
}

// Linker resolves mentions to business entities
type Linker struct {
	aliases  AliasStore
	names    NameSource
	embedder embedding.Provider
	logger   zerolog.Logger

	margin        float64
	floor         float64
	maxCandidates int
}

// NewLinker creates an entity linker
func NewLinker(cfg Config) (*Linker, error) {
	observability.EnsureRegistered()

	if cfg.Aliases == nil {
		return nil, fmt.Errorf("alias store is required")
	}
	if cfg.Names == nil {
		return nil, fmt.Errorf("name source is required")
	}
	if cfg.Margin <= 0 {
		cfg.Margin = 0.08
	}
	if cfg.ConfidenceFloor <= 0 {
		cfg.ConfidenceFloor = 0.55
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 5
	}

	return &Linker{
		aliases:       cfg.Aliases,
		names:         cfg.Names,
		embedder:      cfg.Embedder,
		logger:        cfg.Logger,
		margin:        cfg.Margin,
		floor:         cfg.ConfidenceFloor,
		maxCandidates: cfg.MaxCandidates,
	}, nil
}

// Link resolves one mention within a session scope
func (l *Linker) Link(ctx context.Context, mention, scope string) (*LinkResult, error) {
	ctx, span := tracing.StartSpan(ctx, "memori.linker", "linker.link",
		attribute.String("mention", mention))
	defer span.End()

	mention = strings.TrimSpace(mention)
	if mention == "" {
		return &LinkResult{Mention: mention, State: StateUnresolved}, nil
	}

	// Stage 1: learned alias, session scope shadowing global
	alias, err := l.aliases.GetAlias(ctx, mention, scope)
	if err != nil {
		return nil, fmt.Errorf("alias lookup failed: %w", err)
	}
	if alias != nil && alias.Ref != nil {
		observability.RecordLink("alias")
		return &LinkResult{
			Mention: mention, State: StateResolved,
			Ref: alias.Ref, Name: alias.Name,
			Confidence: 1.0, Stage: "alias",
		}, nil
	}
	// A ref-less session alias marks a clarification already asked for
	// this surface; the next unconfirmed occurrence must not re-ask
	asked := alias != nil && alias.Ref == nil

	entries, err := l.names.NameIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("name index unavailable: %w", err)
	}

	// Stage 2: exact identifier or display-name match
	for _, e := range entries {
		if strings.EqualFold(e.Name, mention) {
			observability.RecordLink("identifier")
			ref := domain.EntityRef{Table: e.Table, ID: e.ID}
			return &LinkResult{
				Mention: mention, State: StateResolved,
				Ref: &ref, Name: e.Name,
				Confidence: 1.0, Stage: "identifier",
			}, nil
		}
	}

	// Stage 3: fuzzy string similarity over display names
	candidates := l.fuzzyCandidates(mention, entries)

	// Stage 4: semantic similarity over entity descriptions, only when
	// string matching alone is not convincing
	if l.embedder != nil && (len(candidates) == 0 || candidates[0].Confidence < l.floor) {
		semantic, err := l.semanticCandidates(ctx, mention, entries)
		if err != nil {
			l.logger.Warn().Err(err).Str("mention", mention).Msg("Semantic linking unavailable")
		} else {
			candidates = mergeCandidates(candidates, semantic)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	if len(candidates) > l.maxCandidates {
		candidates = candidates[:l.maxCandidates]
	}

	if len(candidates) == 0 || candidates[0].Confidence < l.floor {
		observability.RecordLink("unresolved")
		return &LinkResult{Mention: mention, State: StateUnresolved, Candidates: candidates}, nil
	}

	if len(candidates) > 1 && candidates[0].Confidence-candidates[1].Confidence < l.margin {
		// One round only: an unanswered question falls back to the
		// higher-confidence candidate instead of asking again
		if asked {
			top := candidates[0]
			l.logger.Info().
				Str("mention", mention).
				Str("entity", top.Ref.String()).
				Msg("Clarification unanswered, falling back to top candidate")
			observability.RecordLink("fallback")
			return &LinkResult{
				Mention: mention, State: StateResolved,
				Ref: &top.Ref, Name: top.Name,
				Confidence: top.Confidence, Stage: "fallback",
				Candidates: candidates,
			}, nil
		}
		if err := l.markAsked(ctx, mention, scope); err != nil {
			l.logger.Warn().Err(err).Str("mention", mention).Msg("Failed to record pending clarification")
		}
		observability.RecordLink("confirming")
		observability.RecordClarification()
		return &LinkResult{
			Mention: mention, State: StateConfirming,
			Candidates: candidates[:2],
		}, nil
	}

	top := candidates[0]
	observability.RecordLink(top.Stage)
	return &LinkResult{
		Mention: mention, State: StateResolved,
		Ref: &top.Ref, Name: top.Name,
		Confidence: top.Confidence, Stage: top.Stage,
		Candidates: candidates,
	}, nil
}

// Confirm records the user's choice for an ambiguous mention and
// learns it as an alias so the same surface resolves directly next time.
func (l *Linker) Confirm(ctx context.Context, mention, scope string, choice Candidate) (*LinkResult, error) {
	if err := l.aliases.PutAlias(ctx, memstore.Alias{
		Surface: mention,
		Scope:   scope,
		Name:    choice.Name,
		Ref:     &choice.Ref,
	}); err != nil {
		return nil, fmt.Errorf("failed to learn alias: %w", err)
	}

	l.logger.Info().
		Str("mention", mention).
		Str("entity", choice.Ref.String()).
		Msg("Alias learned from confirmation")

	ref := choice.Ref
	return &LinkResult{
		Mention: mention, State: StateResolved,
		Ref: &ref, Name: choice.Name,
		Confidence: 1.0, Stage: "confirmed",
	}, nil
}

// markAsked stores a ref-less session alias so a confirming surface is
// only ever asked about once per session
func (l *Linker) markAsked(ctx context.Context, mention, scope string) error {
	if scope == "" || scope == memstore.GlobalScope {
		return nil
	}
	return l.aliases.PutAlias(ctx, memstore.Alias{Surface: mention, Scope: scope})
}

func (l *Linker) fuzzyCandidates(mention string, entries []domain.NameEntry) []Candidate {
	var out []Candidate
	for _, e := range entries {
		score := fuzzyScore(mention, e.Name)
		if score <= 0 {
			continue
		}
		out = append(out, Candidate{
			Name: e.Name,
			Ref:  domain.EntityRef{Table: e.Table, ID: e.ID},
			// Fuzzy evidence never claims certainty
			Confidence: score * 0.95,
			Stage:      "fuzzy",
		})
	}
	return out
}

func (l *Linker) semanticCandidates(ctx context.Context, mention string, entries []domain.NameEntry) ([]Candidate, error) {
	queryVec, err := l.embedder.GenerateEmbedding(ctx, mention)
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for _, e := range entries {
		desc := e.Description
		if desc == "" {
			desc = e.Name
		}
		vec, err := l.embedder.GenerateEmbedding(ctx, desc)
		if err != nil {
			return nil, err
		}
		sim := cosine(queryVec, vec)
		if sim <= 0 {
			continue
		}
		out = append(out, Candidate{
			Name: e.Name,
			Ref:  domain.EntityRef{Table: e.Table, ID: e.ID},
			// Semantic matches cap below exact evidence too
			Confidence: sim * 0.9,
			Stage:      "semantic",
		})
	}
	return out, nil
}

// mergeCandidates keeps the best score per entity across stages
func mergeCandidates(a, b []Candidate) []Candidate {
	best := make(map[string]Candidate)
	for _, c := range append(a, b...) {
		key := c.Ref.String()
		if prev, ok := best[key]; !ok || c.Confidence > prev.Confidence {
			best[key] = c
		}
	}
	out := make([]Candidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
