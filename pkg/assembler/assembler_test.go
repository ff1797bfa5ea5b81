package assembler

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/memori/pkg/domain"
	"github.com/harun/memori/pkg/memstore"
	"github.com/harun/memori/pkg/retriever"
)

func testResult() *retriever.Result {
	return &retriever.Result{
		Memories: []retriever.ScoredMemory{
			{
				Unit: &memstore.MemoryUnit{
					ID: 1, Kind: memstore.KindProfile,
					Text: "prefers morning deliveries",
				},
				Score: 0.82,
			},
			{
				Unit: &memstore.MemoryUnit{
					ID: 2, Kind: memstore.KindEpisodic,
					Text: "asked about delivery fees last week",
				},
				Score: 0.4,
			},
		},
		Facts: &domain.FactBundle{
			Orders: []domain.OrderFact{{ID: 10, Number: "ORD-1001", Status: "delivered", Total: 500}},
		},
	}
}

func TestAssemble_SectionsAndOrder(t *testing.T) {
	a := NewAssembler(Config{EvidenceBudget: 16})
	block := a.Assemble(testResult())

	require.Len(t, block.Items, 3)
	// Facts outrank every memory
	assert.Equal(t, SourceFact, block.Items[0].Source)
	assert.Equal(t, SourceMemory, block.Items[1].Source)
	assert.Equal(t, int64(1), block.Items[1].MemoryID)

	rendered := block.Render()
	assert.Contains(t, rendered, "DB Facts:")
	assert.Contains(t, rendered, "[orders/10] ORD-1001")
	assert.Contains(t, rendered, "status=delivered")
	assert.Contains(t, rendered, "Memories:")
	assert.Contains(t, rendered, "(profile #1, score 0.82) prefers morning deliveries")
	assert.Less(t, strings.Index(rendered, "DB Facts:"), strings.Index(rendered, "Memories:"))
}

func TestAssemble_ConflictCorrectionRanksFirst(t *testing.T) {
	res := testResult()
	stale := &memstore.MemoryUnit{
		ID: 3, Kind: memstore.KindSemantic,
		Text:   "ORD-1001 is still in fulfillment",
		Entity: &domain.EntityRef{Table: "orders", ID: 10},
	}
	res.Memories = append(res.Memories, retriever.ScoredMemory{Unit: stale, Score: 0.9})
	res.Conflicts = []retriever.Conflict{{
		Unit:        stale,
		Fact:        domain.Fact{Table: "orders", ID: 10, Label: "ORD-1001", Attributes: map[string]string{"status": "delivered"}},
		Attribute:   "status",
		MemoryValue: "in_fulfillment",
		FactValue:   "delivered",
	}}

	a := NewAssembler(Config{EvidenceBudget: 16})
	block := a.Assemble(res)

	assert.Equal(t, SourceConflict, block.Items[0].Source)
	assert.Contains(t, block.Items[0].Text, `"delivered"`)

	// The stale memory itself stays out of the block
	for _, it := range block.Items {
		assert.NotEqual(t, int64(3), it.MemoryID)
	}
}

func TestAssemble_BudgetDropsLowestScores(t *testing.T) {
	res := &retriever.Result{}
	for i := 1; i <= 10; i++ {
		res.Memories = append(res.Memories, retriever.ScoredMemory{
			Unit:  &memstore.MemoryUnit{ID: int64(i), Kind: memstore.KindSemantic, Text: fmt.Sprintf("note %d", i)},
			Score: 1.0 - float64(i)*0.05,
		})
	}

	a := NewAssembler(Config{EvidenceBudget: 4})
	block := a.Assemble(res)

	require.Len(t, block.Items, 4)
	for i, it := range block.Items {
		assert.Equal(t, int64(i+1), it.MemoryID)
	}
}

func TestAssemble_Empty(t *testing.T) {
	a := NewAssembler(Config{})
	block := a.Assemble(nil)
	assert.Empty(t, block.Items)
	assert.Equal(t, "", block.Render())

	block = a.Assemble(&retriever.Result{})
	assert.Equal(t, "", block.Render())
}
