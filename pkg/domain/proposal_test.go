package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProposal_Valid(t *testing.T) {
	payload := []byte(`{
		"action": "reschedule_work_order",
		"target": {"table": "work_orders", "id": 20},
		"params": {"scheduled_at": "2026-09-04T09:00:00Z"},
		"reason": "customer asked to move install to next week"
	}`)

	p, err := ParseProposal(payload)
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "reschedule_work_order", p.Action)
	assert.Equal(t, EntityRef{Table: "work_orders", ID: 20}, p.Target)
	assert.Equal(t, "2026-09-04T09:00:00Z", p.Params["scheduled_at"])
	assert.False(t, p.CreatedAt.IsZero())
}

func TestParseProposal_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "unknown action", payload: `{"action": "drop_table", "target": {"table": "orders", "id": 1}}`},
		{name: "missing target", payload: `{"action": "close_task"}`},
		{name: "bad table", payload: `{"action": "close_task", "target": {"table": "users", "id": 1}}`},
		{name: "zero id", payload: `{"action": "close_task", "target": {"table": "tasks", "id": 0}}`},
		{name: "not json", payload: `reschedule everything`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProposal([]byte(tt.payload))
			assert.Error(t, err)
		})
	}
}
