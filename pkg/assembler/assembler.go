// Package assembler turns retrieval evidence into the grounded context
// block handed to the completion model. Every line keeps its provenance
// so a turn can be explained after the fact.
package assembler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harun/memori/pkg/domain"
	"github.com/harun/memori/pkg/memstore"
	"github.com/harun/memori/pkg/retriever"
)

// Source classifies where one context item came from
type Source string

const (
	SourceFact     Source = "fact"
	SourceMemory   Source = "memory"
	SourceSummary  Source = "summary"
	SourceConflict Source = "conflict"
)

// Item is one line of evidence with provenance
type Item struct {
	Text   string  `json:"text"`
	Source Source  `json:"source"`
	Score  float64 `json:"score"`

	// Set for facts and conflicts
	Entity *domain.EntityRef `json:"entity,omitempty"`
	// Set for memories
	MemoryID int64         `json:"memory_id,omitempty"`
	Kind     memstore.Kind `json:"kind,omitempty"`
	// Set for summaries
	SummaryID int64 `json:"summary_id,omitempty"`
}

// ContextBlock is the assembled evidence for one turn
type ContextBlock struct {
	Items []Item `json:"items"`
}

// Config holds assembly limits
type Config struct {
	// Max items kept; lowest-scored evidence is dropped first
	EvidenceBudget int
}

// Assembler builds context blocks from retrieval results
type Assembler struct {
	budget int
}

// NewAssembler creates a context assembler
func NewAssembler(cfg Config) *Assembler {
	if cfg.EvidenceBudget <= 0 {
		cfg.EvidenceBudget = 16
	}
	return &Assembler{budget: cfg.EvidenceBudget}
}

// Assemble ranks the evidence and trims it to the budget. Facts are
// authoritative and score above any memory; conflict corrections rank
// highest of all so the model never repeats a stale claim.
func (a *Assembler) Assemble(res *retriever.Result) *ContextBlock {
	block := &ContextBlock{}
	if res == nil {
		return block
	}

	staleUnits := make(map[int64]bool)
	for _, c := range res.Conflicts {
		staleUnits[c.Unit.ID] = true
		ref := c.Fact.Ref()
		block.Items = append(block.Items, Item{
			Text: fmt.Sprintf("Correction: %s %s is %q per the live record; an earlier note said %q.",
				ref.String(), c.Attribute, c.FactValue, c.MemoryValue),
			Source: SourceConflict,
			Score:  1.1,
			Entity: &ref,
		})
	}

	for _, f := range res.Facts.Facts() {
		ref := f.Ref()
		block.Items = append(block.Items, Item{
			Text:   factLine(f),
			Source: SourceFact,
			Score:  1.0,
			Entity: &ref,
		})
	}

	for _, sm := range res.Summaries {
		block.Items = append(block.Items, Item{
			Text:      sm.Summary,
			Source:    SourceSummary,
			Score:     0.6,
			SummaryID: sm.ID,
		})
	}

	for _, m := range res.Memories {
		if staleUnits[m.Unit.ID] {
			// The correction item already covers it
			continue
		}
		block.Items = append(block.Items, Item{
			Text:     m.Unit.Text,
			Source:   SourceMemory,
			Score:    m.Score,
			MemoryID: m.Unit.ID,
			Kind:     m.Unit.Kind,
		})
	}

	sort.SliceStable(block.Items, func(i, j int) bool {
		return block.Items[i].Score > block.Items[j].Score
	})
	if len(block.Items) > a.budget {
		block.Items = block.Items[:a.budget]
	}
	return block
}

// factLine renders one fact with its ID tag and sorted attributes
func factLine(f domain.Fact) string {
	keys := make([]string, 0, len(f.Attributes))
	for k := range f.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+f.Attributes[k])
	}
	return fmt.Sprintf("[%s] %s: %s", f.Ref().String(), f.Label, strings.Join(parts, ", "))
}

// Render produces the prompt text, facts and memories in labeled
// sections so the model can tell live records from recalled notes
func (b *ContextBlock) Render() string {
	if len(b.Items) == 0 {
		return ""
	}

	var facts, memories []string
	for _, it := range b.Items {
		switch it.Source {
		case SourceFact, SourceConflict:
			facts = append(facts, "- "+it.Text)
		case SourceSummary:
			memories = append(memories, "- (summary) "+it.Text)
		case SourceMemory:
			memories = append(memories, fmt.Sprintf("- (%s #%d, score %.2f) %s",
				it.Kind, it.MemoryID, it.Score, it.Text))
		}
	}

	var sb strings.Builder
	if len(facts) > 0 {
		sb.WriteString("DB Facts:\n")
		sb.WriteString(strings.Join(facts, "\n"))
		sb.WriteString("\n")
	}
	if len(memories) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("Memories:\n")
		sb.WriteString(strings.Join(memories, "\n"))
		sb.WriteString("\n")
	}
	return sb.String()
}
