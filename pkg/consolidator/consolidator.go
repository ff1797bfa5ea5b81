// Package consolidator folds recent events and active memory units into
// one rolling summary per user, resolving contradictory claims along
// the way. It runs as a lower-priority background task and never blocks
// the turn pipeline.
package consolidator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/memori/internal/observability"
	"github.com/harun/memori/internal/tracing"
	"github.com/harun/memori/pkg/llm"
	"github.com/harun/memori/pkg/memstore"
)

// rollingWindow is the summary window key for the rolling consolidation
const rollingWindow = "rolling"

// Store is the slice of the memory store the consolidator needs
type Store interface {
	Find(ctx context.Context, opts memstore.FindOptions) ([]*memstore.MemoryUnit, error)
	EventsSince(ctx context.Context, userID string, since time.Time) ([]memstore.ChatEvent, error)
	MarkSuperseded(ctx context.Context, loserID, winnerID int64) error
	CurrentSummary(ctx context.Context, userID, windowKey string) (*memstore.Summary, error)
	SaveSummary(ctx context.Context, sm memstore.Summary) (*memstore.Summary, error)
	Users(ctx context.Context) ([]string, error)
}

// Config holds consolidator construction parameters
type Config struct {
	Store     Store
	Completer llm.Completer // optional, falls back to deterministic distillation
	Logger    zerolog.Logger

	// How many trailing sessions of events feed one summary
	WindowSessions int
	// How far back to look for those sessions
	Lookback time.Duration
}

// Consolidator produces rolling per-user summaries
type Consolidator struct {
	store     Store
	completer llm.Completer
	logger    zerolog.Logger

	windowSessions int
	lookback       time.Duration
}

// NewConsolidator creates a consolidator
func NewConsolidator(cfg Config) (*Consolidator, error) {
	observability.EnsureRegistered()

	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.WindowSessions <= 0 {
		cfg.WindowSessions = 3
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 30 * 24 * time.Hour
	}

	return &Consolidator{
		store:          cfg.Store,
		completer:      cfg.Completer,
		logger:         cfg.Logger,
		windowSessions: cfg.WindowSessions,
		lookback:       cfg.Lookback,
	}, nil
}

// Consolidate folds the user's recent window into a summary. Re-running
// with an unchanged snapshot returns the current summary untouched.
func (c *Consolidator) Consolidate(ctx context.Context, userID string) (*memstore.Summary, error) {
	ctx, span := tracing.StartSpan(ctx, "memori.consolidator", "consolidator.consolidate",
		attribute.String("user_id", userID))
	defer span.End()

	start := time.Now()
	logger := tracing.LoggerFromContext(ctx, c.logger)

	units, err := c.store.Find(ctx, memstore.FindOptions{UserID: userID, Limit: 500})
	if err != nil {
		observability.RecordConsolidation("error", time.Since(start))
		return nil, fmt.Errorf("failed to load units: %w", err)
	}

	allEvents, err := c.store.EventsSince(ctx, userID, time.Now().Add(-c.lookback))
	if err != nil {
		observability.RecordConsolidation("error", time.Since(start))
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	events := lastSessions(allEvents, c.windowSessions)

	resolutions := resolveConflicts(units)
	for _, res := range resolutions {
		if err := c.store.MarkSuperseded(ctx, res.LoserID, res.WinnerID); err != nil {
			logger.Warn().Err(err).
				Int64("loser", res.LoserID).
				Int64("winner", res.WinnerID).
				Msg("Failed to record conflict resolution")
		}
	}

	// Fingerprint the post-resolution state so a rerun with no new
	// events sees the same snapshot and keeps the current summary
	losers := make(map[int64]bool, len(resolutions))
	for _, r := range resolutions {
		losers[r.LoserID] = true
	}
	var active []*memstore.MemoryUnit
	for _, u := range units {
		if !losers[u.ID] {
			active = append(active, u)
		}
	}
	fingerprint := snapshotFingerprint(active, events)

	current, err := c.store.CurrentSummary(ctx, userID, rollingWindow)
	if err != nil {
		observability.RecordConsolidation("error", time.Since(start))
		return nil, fmt.Errorf("failed to load current summary: %w", err)
	}
	if current != nil && current.Fingerprint == fingerprint {
		logger.Debug().Str("user_id", userID).Msg("Snapshot unchanged, keeping current summary")
		observability.RecordConsolidation("unchanged", time.Since(start))
		return current, nil
	}

	text := c.distill(ctx, active, events, resolutions)

	saved, err := c.store.SaveSummary(ctx, memstore.Summary{
		UserID:      userID,
		WindowKey:   rollingWindow,
		Summary:     text,
		Fingerprint: fingerprint,
		Resolutions: formatResolutions(resolutions),
	})
	if err != nil {
		observability.RecordConsolidation("error", time.Since(start))
		return nil, fmt.Errorf("failed to save summary: %w", err)
	}

	logger.Info().
		Str("user_id", userID).
		Int("units", len(units)).
		Int("events", len(events)).
		Int("resolutions", len(resolutions)).
		Msg("Consolidation complete")
	observability.RecordConsolidation("ok", time.Since(start))
	return saved, nil
}

// ConsolidateAll runs consolidation for every known user
func (c *Consolidator) ConsolidateAll(ctx context.Context) error {
	users, err := c.store.Users(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}
	for _, u := range users {
		if _, err := c.Consolidate(ctx, u); err != nil {
			c.logger.Error().Err(err).Str("user_id", u).Msg("Consolidation failed")
		}
	}
	return nil
}

// lastSessions keeps only the events of the trailing n sessions
func lastSessions(events []memstore.ChatEvent, n int) []memstore.ChatEvent {
	seen := make(map[string]bool)
	var order []string
	for i := len(events) - 1; i >= 0; i-- {
		sid := events[i].SessionID
		if !seen[sid] {
			seen[sid] = true
			order = append(order, sid)
		}
	}
	if len(order) > n {
		order = order[:n]
	}

	keep := make(map[string]bool, len(order))
	for _, sid := range order {
		keep[sid] = true
	}

	var out []memstore.ChatEvent
	for _, ev := range events {
		if keep[ev.SessionID] {
			out = append(out, ev)
		}
	}
	return out
}

// Resolution records one conflict outcome for explainability
type Resolution struct {
	Entity    string
	Attribute string
	WinnerID  int64
	LoserID   int64
	Winner    string
	Loser     string
}

// resolveConflicts finds active units asserting different values for
// the same (entity, attribute) and picks winners by reinforcement
// count, then creation time. Recency alone never beats a confirmed,
// repeatedly reinforced claim.
func resolveConflicts(units []*memstore.MemoryUnit) []Resolution {
	groups := make(map[string][]*memstore.MemoryUnit)
	for _, u := range units {
		if u.Entity == nil || u.Attribute == "" || u.SupersededBy != nil {
			continue
		}
		key := u.Entity.String() + "|" + u.Attribute
		groups[key] = append(groups[key], u)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var resolutions []Resolution
	for _, key := range keys {
		group := groups[key]
		distinct := make(map[string]bool)
		for _, u := range group {
			distinct[u.Value] = true
		}
		if len(distinct) < 2 {
			continue
		}

		sort.SliceStable(group, func(i, j int) bool {
			if group[i].ReinforcementCount != group[j].ReinforcementCount {
				return group[i].ReinforcementCount > group[j].ReinforcementCount
			}
			if !group[i].CreatedAt.Equal(group[j].CreatedAt) {
				return group[i].CreatedAt.After(group[j].CreatedAt)
			}
			return group[i].ID < group[j].ID
		})

		winner := group[0]
		for _, loser := range group[1:] {
			if loser.Value == winner.Value {
				continue
			}
			resolutions = append(resolutions, Resolution{
				Entity:    winner.Entity.String(),
				Attribute: winner.Attribute,
				WinnerID:  winner.ID,
				LoserID:   loser.ID,
				Winner:    winner.Value,
				Loser:     loser.Value,
			})
		}
	}
	return resolutions
}

func formatResolutions(resolutions []Resolution) string {
	if len(resolutions) == 0 {
		return ""
	}
	lines := make([]string, 0, len(resolutions))
	for _, r := range resolutions {
		lines = append(lines, fmt.Sprintf("%s.%s: kept %q (unit %d) over %q (unit %d)",
			r.Entity, r.Attribute, r.Winner, r.WinnerID, r.Loser, r.LoserID))
	}
	return strings.Join(lines, "\n")
}

// snapshotFingerprint hashes the inputs that would change the summary
func snapshotFingerprint(units []*memstore.MemoryUnit, events []memstore.ChatEvent) string {
	var lines []string
	for _, u := range units {
		lines = append(lines, fmt.Sprintf("u:%d:%d", u.ID, u.ReinforcementCount))
	}
	for _, ev := range events {
		lines = append(lines, "e:"+ev.ID)
	}
	sort.Strings(lines)

	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// distill produces the summary text, via the model when available
func (c *Consolidator) distill(ctx context.Context, units []*memstore.MemoryUnit, events []memstore.ChatEvent, resolutions []Resolution) string {
	if c.completer != nil {
		text, err := c.distillWithModel(ctx, units, events, resolutions)
		if err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
		if err != nil {
			c.logger.Warn().Err(err).Msg("Model distillation failed, using deterministic summary")
		}
	}
	return deterministicSummary(units, resolutions)
}

func (c *Consolidator) distillWithModel(ctx context.Context, units []*memstore.MemoryUnit, events []memstore.ChatEvent, resolutions []Resolution) (string, error) {
	var sb strings.Builder
	sb.WriteString("Known facts and notes:\n")
	for _, u := range units {
		fmt.Fprintf(&sb, "- [%s] %s\n", u.Kind, u.Text)
	}
	if len(events) > 0 {
		sb.WriteString("\nRecent conversation:\n")
		for _, ev := range events {
			fmt.Fprintf(&sb, "%s: %s\n", ev.Role, ev.Content)
		}
	}
	if len(resolutions) > 0 {
		sb.WriteString("\nResolved contradictions:\n")
		sb.WriteString(formatResolutions(resolutions))
		sb.WriteString("\n")
	}

	return c.completer.Complete(ctx, llm.Request{
		System: "Distill the notes and conversation below into a short factual summary of what is durably known about this user and their business. Keep resolved values, drop chit-chat.",
		Prompt: sb.String(),
	})
}

// deterministicSummary keeps the highest-importance units verbatim so
// consolidation still works with no model configured
func deterministicSummary(units []*memstore.MemoryUnit, resolutions []Resolution) string {
	sorted := make([]*memstore.MemoryUnit, len(units))
	copy(sorted, units)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Importance != sorted[j].Importance {
			return sorted[i].Importance > sorted[j].Importance
		}
		return sorted[i].ID < sorted[j].ID
	})
	if len(sorted) > 10 {
		sorted = sorted[:10]
	}

	var lines []string
	for _, u := range sorted {
		lines = append(lines, "- "+u.Text)
	}
	if len(resolutions) > 0 {
		lines = append(lines, "Resolved: "+formatResolutions(resolutions))
	}
	if len(lines) == 0 {
		return "No durable facts recorded yet."
	}
	return strings.Join(lines, "\n")
}
