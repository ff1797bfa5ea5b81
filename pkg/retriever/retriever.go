// Package retriever answers "what do we know that is relevant to this
// message" by running semantic and keyword searches over the memory
// store in parallel, merging them with importance, recency and
// reinforcement signals, and cross-checking memory claims against live
// business facts.
package retriever

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/memori/internal/observability"
	"github.com/harun/memori/internal/tracing"
	"github.com/harun/memori/pkg/domain"
	"github.com/harun/memori/pkg/memstore"
)

// MemorySource is the slice of the store the retriever reads
type MemorySource interface {
	VectorSearch(ctx context.Context, userID, query string, limit int) ([]memstore.VectorHit, error)
	KeywordSearch(ctx context.Context, userID, query string, limit int) ([]memstore.KeywordHit, error)
	SummarySearch(ctx context.Context, userID, query string, limit int) ([]memstore.SummaryHit, error)
	EffectiveImportance(u *memstore.MemoryUnit, now time.Time) float64
}

// FactSource resolves entity references to live business facts
type FactSource interface {
	FactsFor(ctx context.Context, refs []domain.EntityRef) (*domain.FactBundle, error)
}

// Config holds retriever construction parameters
type Config struct {
	Memory MemorySource
	Facts  FactSource
	Logger zerolog.Logger

	Limit               int
	SimilarityWeight    float64
	ImportanceWeight    float64
	RecencyWeight       float64
	ReinforcementWeight float64
	MinScore            float64
	RecencyWindow       time.Duration
}

// Retriever runs hybrid retrieval
type Retriever struct {
	memory MemorySource
	facts  FactSource
	logger zerolog.Logger
	cfg    Config
}

// NewRetriever creates a hybrid retriever
func NewRetriever(cfg Config) (*Retriever, error) {
	observability.EnsureRegistered()

	if cfg.Memory == nil {
		return nil, fmt.Errorf("memory source is required")
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 12
	}
	if cfg.SimilarityWeight == 0 && cfg.ImportanceWeight == 0 &&
		cfg.RecencyWeight == 0 && cfg.ReinforcementWeight == 0 {
		cfg.SimilarityWeight = 0.5
		cfg.ImportanceWeight = 0.25
		cfg.RecencyWeight = 0.15
		cfg.ReinforcementWeight = 0.1
	}

	return &Retriever{memory: cfg.Memory, facts: cfg.Facts, logger: cfg.Logger, cfg: cfg}, nil
}

// Options filters one retrieval
type Options struct {
	UserID string
	Query  string
	// Optional narrowing
	Kind          memstore.Kind
	Entity        *domain.EntityRef
	RecencyWindow time.Duration
	Limit         int

	// Entities already linked this turn; their facts are fetched in one
	// batched gateway call alongside the memory legs
	Refs []domain.EntityRef
}

// ScoredMemory is one ranked memory with its score breakdown
type ScoredMemory struct {
	Unit       *memstore.MemoryUnit `json:"unit"`
	Score      float64              `json:"score"`
	Similarity float64              `json:"similarity"`
	Legs       []string             `json:"legs"`
}

// Conflict flags a memory claim contradicted by a live business fact
type Conflict struct {
	Unit        *memstore.MemoryUnit `json:"unit"`
	Fact        domain.Fact          `json:"fact"`
	Attribute   string               `json:"attribute"`
	MemoryValue string               `json:"memory_value"`
	FactValue   string               `json:"fact_value"`
}

// Result is everything one retrieval produced
type Result struct {
	Memories  []ScoredMemory      `json:"memories"`
	Summaries []*memstore.Summary `json:"summaries,omitempty"`
	Facts     *domain.FactBundle  `json:"facts,omitempty"`
	Conflicts []Conflict          `json:"conflicts,omitempty"`
	// Legs that failed and were dropped instead of failing the turn
	Degraded []string `json:"degraded,omitempty"`
}

// Retrieve runs all legs in parallel and merges their evidence. A
// failing leg degrades the result instead of failing it; only all legs
// failing at once is an error.
func (r *Retriever) Retrieve(ctx context.Context, opts Options) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "memori.retriever", "retriever.retrieve",
		attribute.String("user_id", opts.UserID))
	defer span.End()

	start := time.Now()
	if opts.Limit <= 0 {
		opts.Limit = r.cfg.Limit
	}
	legLimit := opts.Limit * 2

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		vectorHits  []memstore.VectorHit
		keywordHits []memstore.KeywordHit
		summaryHits []memstore.SummaryHit
		facts       *domain.FactBundle
		degraded    []string
	)

	fail := func(leg string, err error) {
		mu.Lock()
		degraded = append(degraded, leg)
		mu.Unlock()
		r.logger.Warn().Err(err).Str("leg", leg).Msg("Retrieval leg degraded")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		legStart := time.Now()
		hits, err := r.memory.VectorSearch(ctx, opts.UserID, opts.Query, legLimit)
		observability.RecordRetrievalLeg("vector", err == nil, time.Since(legStart))
		if err != nil {
			fail("vector", err)
			return
		}
		mu.Lock()
		vectorHits = hits
		mu.Unlock()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		legStart := time.Now()
		hits, err := r.memory.KeywordSearch(ctx, opts.UserID, opts.Query, legLimit)
		observability.RecordRetrievalLeg("keyword", err == nil, time.Since(legStart))
		if err != nil {
			fail("keyword", err)
			return
		}
		mu.Lock()
		keywordHits = hits
		mu.Unlock()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		hits, err := r.memory.SummarySearch(ctx, opts.UserID, opts.Query, 3)
		if err != nil {
			fail("summary", err)
			return
		}
		mu.Lock()
		summaryHits = hits
		mu.Unlock()
	}()

	if r.facts != nil && len(opts.Refs) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bundle, err := r.facts.FactsFor(ctx, opts.Refs)
			if err != nil {
				fail("facts", err)
				return
			}
			mu.Lock()
			facts = bundle
			mu.Unlock()
		}()
	}

	wg.Wait()

	if len(degraded) >= 3 && vectorHits == nil && keywordHits == nil {
		return nil, fmt.Errorf("all retrieval legs failed")
	}

	memories := r.merge(vectorHits, keywordHits, opts)

	result := &Result{
		Memories: memories,
		Facts:    facts,
		Degraded: degraded,
	}
	for _, h := range summaryHits {
		result.Summaries = append(result.Summaries, h.Summary)
	}

	if facts != nil {
		result.Conflicts = findConflicts(memories, facts)
	}

	observability.RecordRetrieval(len(memories), time.Since(start))
	return result, nil
}

// merge joins the two memory legs into one ranked list
func (r *Retriever) merge(vectorHits []memstore.VectorHit, keywordHits []memstore.KeywordHit, opts Options) []ScoredMemory {
	now := time.Now()

	type entry struct {
		unit       *memstore.MemoryUnit
		similarity float64
		keyword    float64
		legs       []string
	}
	byID := make(map[int64]*entry)

	for _, h := range vectorHits {
		// Cosine distance 0..2 mapped to similarity 0..1
		sim := 1.0 - h.Distance/2.0
		byID[h.Unit.ID] = &entry{unit: h.Unit, similarity: sim, legs: []string{"vector"}}
	}

	// BM25 ranks are negative in sqlite; negate, then normalize by max
	var maxKeyword float64
	for _, h := range keywordHits {
		if s := -h.Rank; s > maxKeyword {
			maxKeyword = s
		}
	}
	for _, h := range keywordHits {
		score := 0.0
		if maxKeyword > 0 {
			score = -h.Rank / maxKeyword
		}
		if e, ok := byID[h.Unit.ID]; ok {
			e.keyword = score
			e.legs = append(e.legs, "keyword")
		} else {
			byID[h.Unit.ID] = &entry{unit: h.Unit, keyword: score, legs: []string{"keyword"}}
		}
	}

	window := opts.RecencyWindow
	if window <= 0 {
		window = r.cfg.RecencyWindow
	}

	var scored []ScoredMemory
	for _, e := range byID {
		u := e.unit
		if u.Expired(now) {
			continue
		}
		if opts.Kind != "" && u.Kind != opts.Kind {
			continue
		}
		if opts.Entity != nil && (u.Entity == nil || *u.Entity != *opts.Entity) {
			continue
		}
		if window > 0 && now.Sub(u.LastReinforced) > window {
			continue
		}

		similarity := math.Max(e.similarity, e.keyword)
		importance := r.memory.EffectiveImportance(u, now)
		recency := recencyBoost(u, now)
		reinforcement := reinforcementBoost(u)

		score := r.cfg.SimilarityWeight*similarity +
			r.cfg.ImportanceWeight*importance +
			r.cfg.RecencyWeight*recency +
			r.cfg.ReinforcementWeight*reinforcement

		if r.cfg.MinScore > 0 && score < r.cfg.MinScore {
			continue
		}

		scored = append(scored, ScoredMemory{
			Unit: u, Score: score, Similarity: similarity, Legs: e.legs,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		// Ties break toward the most recently reinforced, then lower id
		// so ranking stays deterministic
		li, lj := scored[i].Unit.LastReinforced, scored[j].Unit.LastReinforced
		if !li.Equal(lj) {
			return li.After(lj)
		}
		return scored[i].Unit.ID < scored[j].Unit.ID
	})

	if len(scored) > opts.Limit {
		scored = scored[:opts.Limit]
	}
	return scored
}

// recencyBoost decays linearly over 30 days since last reinforcement
func recencyBoost(u *memstore.MemoryUnit, now time.Time) float64 {
	age := now.Sub(u.LastReinforced)
	if age < 0 {
		return 1.0
	}
	boost := 1.0 - age.Hours()/(30*24)
	if boost < 0 {
		return 0
	}
	return boost
}

// reinforcementBoost saturates at 5 reinforcements
func reinforcementBoost(u *memstore.MemoryUnit) float64 {
	b := float64(u.ReinforcementCount) / 5.0
	if b > 1.0 {
		return 1.0
	}
	return b
}

// findConflicts applies the authority rule: when a memory claims a
// value for an entity attribute and the live fact disagrees, the fact
// wins and the memory is flagged stale.
func findConflicts(memories []ScoredMemory, bundle *domain.FactBundle) []Conflict {
	factAttrs := make(map[string]domain.Fact)
	for _, f := range bundle.Facts() {
		factAttrs[f.Ref().String()] = f
	}

	var conflicts []Conflict
	for _, m := range memories {
		u := m.Unit
		if u.Entity == nil || u.Attribute == "" {
			continue
		}
		fact, ok := factAttrs[u.Entity.String()]
		if !ok {
			continue
		}
		factValue, ok := fact.Attributes[u.Attribute]
		if !ok {
			continue
		}
		if factValue != u.Value {
			conflicts = append(conflicts, Conflict{
				Unit:        u,
				Fact:        fact,
				Attribute:   u.Attribute,
				MemoryValue: u.Value,
				FactValue:   factValue,
			})
		}
	}
	return conflicts
}
