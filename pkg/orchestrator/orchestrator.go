// Package orchestrator runs the per-turn control flow: redact, link,
// store, retrieve, assemble, respond, persist. Per-user state lives in
// the memory store keyed by user id; the orchestrator itself is
// stateless across turns.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/memori/internal/observability"
	"github.com/harun/memori/internal/tracing"
	"github.com/harun/memori/pkg/assembler"
	"github.com/harun/memori/pkg/domain"
	"github.com/harun/memori/pkg/linker"
	"github.com/harun/memori/pkg/llm"
	"github.com/harun/memori/pkg/memstore"
	"github.com/harun/memori/pkg/redact"
	"github.com/harun/memori/pkg/retriever"
)

// Config wires the pipeline stages together
type Config struct {
	Guard     *redact.Guard
	Vault     redact.Vault
	Linker    *linker.Linker
	Store     *memstore.Store
	Retriever *retriever.Retriever
	Assembler *assembler.Assembler
	Completer llm.Completer
	Logger    zerolog.Logger
}

// Orchestrator drives one conversation turn end to end
type Orchestrator struct {
	guard     *redact.Guard
	vault     redact.Vault
	linker    *linker.Linker
	store     *memstore.Store
	retriever *retriever.Retriever
	assembler *assembler.Assembler
	completer llm.Completer
	logger    zerolog.Logger
}

// NewOrchestrator creates the turn pipeline
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	observability.EnsureRegistered()

	if cfg.Guard == nil || cfg.Store == nil || cfg.Linker == nil ||
		cfg.Retriever == nil || cfg.Assembler == nil {
		return nil, fmt.Errorf("guard, store, linker, retriever and assembler are required")
	}
	if cfg.Vault == nil {
		cfg.Vault = redact.NewMemoryVault()
	}

	return &Orchestrator{
		guard:     cfg.Guard,
		vault:     cfg.Vault,
		linker:    cfg.Linker,
		store:     cfg.Store,
		retriever: cfg.Retriever,
		assembler: cfg.Assembler,
		completer: cfg.Completer,
		logger:    cfg.Logger,
	}, nil
}

// UsedMemory identifies one memory that shaped a reply
type UsedMemory struct {
	ID    int64         `json:"id"`
	Kind  memstore.Kind `json:"kind"`
	Score float64       `json:"score"`
	Text  string        `json:"text"`
}

// Clarification is the single disambiguation question for a turn
type Clarification struct {
	Mention    string             `json:"mention"`
	Question   string             `json:"question"`
	Candidates []linker.Candidate `json:"candidates"`
}

// TurnResult is the outcome of one handled message
type TurnResult struct {
	TurnID    string `json:"turn_id"`
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`

	Clarification *Clarification     `json:"clarification,omitempty"`
	UsedMemories  []UsedMemory       `json:"used_memories,omitempty"`
	UsedFacts     []domain.EntityRef `json:"used_facts,omitempty"`
	Proposals     []domain.Proposal  `json:"proposals,omitempty"`
	Degraded      []string           `json:"degraded,omitempty"`
}

// HandleChat runs one full turn. Evidence sources degrade gracefully;
// only a failure to persist the user's memory surfaces as an error.
func (o *Orchestrator) HandleChat(ctx context.Context, userID, sessionID, message string) (*TurnResult, error) {
	if sessionID == "" {
		sessionID = "sess-" + gonanoid.Must(12)
	}
	turnID := gonanoid.Must(12)

	ctx = tracing.WithTraceID(ctx, tracing.NewTraceID())
	ctx = tracing.WithTurnID(ctx, turnID)
	ctx = tracing.WithUserID(ctx, userID)
	ctx = tracing.WithSessionID(ctx, sessionID)
	ctx, span := tracing.StartSpan(ctx, "memori.orchestrator", "orchestrator.handle_chat",
		attribute.String("user_id", userID),
		attribute.String("session_id", sessionID))
	defer span.End()

	start := time.Now()
	logger := tracing.LoggerFromContext(ctx, o.logger)
	result := &TurnResult{TurnID: turnID, SessionID: sessionID}

	// Redaction fails closed: no clean text means nothing is stored
	clean, mapping, err := o.guard.Redact(message)
	if err != nil {
		observability.RecordTurn("redaction_failed", time.Since(start))
		return nil, fmt.Errorf("redaction failed, message not stored: %w", err)
	}
	if err := o.vault.Put(turnID, mapping); err != nil {
		observability.RecordTurn("vault_failed", time.Since(start))
		return nil, fmt.Errorf("failed to store redaction map: %w", err)
	}

	// Link mentions; the first ambiguous one asks its single question
	// and ends the turn
	var refs []domain.EntityRef
	for _, mention := range extractMentions(clean) {
		link, err := o.linker.Link(ctx, mention, sessionID)
		if err != nil {
			logger.Warn().Err(err).Str("mention", mention).Msg("Entity linking degraded")
			result.Degraded = append(result.Degraded, "linker")
			continue
		}
		switch link.State {
		case linker.StateResolved:
			refs = append(refs, *link.Ref)
		case linker.StateConfirming:
			result.Clarification = &Clarification{
				Mention:    mention,
				Question:   clarificationQuestion(mention, link.Candidates),
				Candidates: link.Candidates,
			}
			result.Reply = result.Clarification.Question
			observability.RecordTurn("clarification", time.Since(start))
			return result, nil
		}
	}
	refs = dedupRefs(refs)

	// A client abort must not lose any of this turn's writes, so every
	// store write in the turn runs on an uncancellable context
	persistCtx := context.WithoutCancel(ctx)

	event, _, err := o.store.AppendEvent(persistCtx, memstore.ChatEvent{
		UserID: userID, SessionID: sessionID, Role: "user", Content: clean,
	})
	if err != nil {
		observability.RecordTurn("event_failed", time.Since(start))
		return nil, fmt.Errorf("failed to record event: %w", err)
	}

	for _, unit := range extractCandidates(userID, clean, event.ID, refs) {
		if _, err := o.store.Upsert(persistCtx, unit); err != nil {
			observability.RecordTurn("memory_failed", time.Since(start))
			return nil, fmt.Errorf("failed to persist memory: %w", err)
		}
	}

	evidence, err := o.retriever.Retrieve(ctx, retriever.Options{
		UserID: userID, Query: clean, Refs: refs,
	})
	if err != nil {
		// Retrieval collapse still leaves a respondable turn
		logger.Warn().Err(err).Msg("Retrieval unavailable for this turn")
		result.Degraded = append(result.Degraded, "retrieval")
		evidence = &retriever.Result{}
	}
	result.Degraded = append(result.Degraded, evidence.Degraded...)

	// Authority rule: live facts beat contradicted memories, which decay
	for _, c := range evidence.Conflicts {
		if err := o.store.MarkStale(persistCtx, c.Unit.ID); err != nil {
			logger.Warn().Err(err).Int64("unit", c.Unit.ID).Msg("Failed to decay stale memory")
		}
	}

	block := o.assembler.Assemble(evidence)
	reply := o.complete(ctx, logger, clean, block, result)
	result.Reply = reply
	result.Proposals = parseProposals(logger, reply)

	for _, it := range block.Items {
		switch it.Source {
		case assembler.SourceMemory:
			result.UsedMemories = append(result.UsedMemories, UsedMemory{
				ID: it.MemoryID, Kind: it.Kind, Score: it.Score, Text: it.Text,
			})
		case assembler.SourceFact, assembler.SourceConflict:
			if it.Entity != nil {
				result.UsedFacts = append(result.UsedFacts, *it.Entity)
			}
		}
	}
	result.UsedFacts = dedupRefs(result.UsedFacts)

	if _, _, err := o.store.AppendEvent(persistCtx, memstore.ChatEvent{
		UserID: userID, SessionID: sessionID, Role: "assistant", Content: reply,
	}); err != nil {
		return nil, fmt.Errorf("failed to record reply: %w", err)
	}
	if err := o.saveTrace(persistCtx, result, userID); err != nil {
		logger.Warn().Err(err).Msg("Failed to save explain trace")
	}

	logger.Info().
		Int("memories", len(result.UsedMemories)).
		Int("facts", len(result.UsedFacts)).
		Strs("degraded", result.Degraded).
		Msg("Turn complete")
	observability.RecordTurn("ok", time.Since(start))
	return result, nil
}

// ConfirmEntity resolves a pending clarification. The learned alias
// makes the next occurrence of the surface form unambiguous.
func (o *Orchestrator) ConfirmEntity(ctx context.Context, sessionID, mention string, choice linker.Candidate) (*linker.LinkResult, error) {
	return o.linker.Confirm(ctx, mention, sessionID, choice)
}

// Explain returns the evidence trace recorded for a prior turn
func (o *Orchestrator) Explain(ctx context.Context, turnID string) (*memstore.TurnTrace, error) {
	return o.store.GetTrace(ctx, turnID)
}

// Memories lists a user's memory units for inspection
func (o *Orchestrator) Memories(ctx context.Context, userID string, kind memstore.Kind, includeSuperseded bool) ([]*memstore.MemoryUnit, error) {
	return o.store.Find(ctx, memstore.FindOptions{
		UserID: userID, Kind: kind, Limit: 100, IncludeSuperseded: includeSuperseded,
	})
}

func (o *Orchestrator) complete(ctx context.Context, logger zerolog.Logger, message string, block *assembler.ContextBlock, result *TurnResult) string {
	rendered := block.Render()

	if o.completer == nil {
		return fallbackReply(rendered)
	}

	prompt := message
	if rendered != "" {
		prompt = rendered + "\nUser message:\n" + message
	}

	reply, err := o.completer.Complete(ctx, llm.Request{
		System: systemPrompt,
		Prompt: prompt,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Completion failed, answering from evidence")
		result.Degraded = append(result.Degraded, "completion")
		return fallbackReply(rendered)
	}
	return strings.TrimSpace(reply)
}

const systemPrompt = `You are a business assistant with long-term memory. ` +
	`Ground every answer in the "DB Facts" section when present; those are live records and override anything in "Memories". ` +
	`When the user asks for a change to a record (reschedule, close, update, record a payment), do not claim it is done. ` +
	`Instead append a fenced json block containing {"action", "target": {"table", "id"}, "params", "reason"} describing the proposed change.`

func fallbackReply(rendered string) string {
	if rendered == "" {
		return "I have nothing on record about that yet."
	}
	return "Here is what I have on record:\n" + rendered
}

func clarificationQuestion(mention string, candidates []linker.Candidate) string {
	names := make([]string, 0, len(candidates))
	for _, c := range candidates {
		names = append(names, c.Name)
	}
	return fmt.Sprintf("By %q, do you mean %s?", mention, strings.Join(names, " or "))
}

var proposalBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// parseProposals extracts validated write intents from a model reply.
// Anything that fails schema validation is dropped, never surfaced.
func parseProposals(logger zerolog.Logger, reply string) []domain.Proposal {
	var proposals []domain.Proposal
	for _, m := range proposalBlockRe.FindAllStringSubmatch(reply, -1) {
		p, err := domain.ParseProposal([]byte(m[1]))
		if err != nil {
			logger.Warn().Err(err).Msg("Dropping invalid proposal from reply")
			continue
		}
		proposals = append(proposals, *p)
	}
	return proposals
}

func (o *Orchestrator) saveTrace(ctx context.Context, result *TurnResult, userID string) error {
	evidence, err := json.Marshal(struct {
		Memories []UsedMemory       `json:"memories"`
		Facts    []domain.EntityRef `json:"facts"`
		Degraded []string           `json:"degraded,omitempty"`
	}{result.UsedMemories, result.UsedFacts, result.Degraded})
	if err != nil {
		return err
	}

	return o.store.SaveTrace(ctx, memstore.TurnTrace{
		TurnID:    result.TurnID,
		UserID:    userID,
		SessionID: result.SessionID,
		Reply:     result.Reply,
		Evidence:  string(evidence),
	})
}

func dedupRefs(refs []domain.EntityRef) []domain.EntityRef {
	seen := make(map[domain.EntityRef]bool, len(refs))
	var out []domain.EntityRef
	for _, r := range refs {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}
