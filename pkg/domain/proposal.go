package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
)

// Proposal is a structured write intent derived from conversation. The
// gateway never executes it; an external collaborator decides and acts.
type Proposal struct {
	ID        string            `json:"id"`
	Action    string            `json:"action"`
	Target    EntityRef         `json:"target"`
	Params    map[string]string `json:"params,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

const proposalSchema = `{
	"type": "object",
	"required": ["action", "target"],
	"properties": {
		"action": {
			"type": "string",
			"enum": ["reschedule_work_order", "update_order_status", "close_task", "record_payment", "update_customer"]
		},
		"target": {
			"type": "object",
			"required": ["table", "id"],
			"properties": {
				"table": {
					"type": "string",
					"enum": ["customers", "orders", "work_orders", "invoices", "tasks"]
				},
				"id": {"type": "integer", "minimum": 1}
			}
		},
		"params": {
			"type": "object",
			"additionalProperties": {"type": "string"}
		},
		"reason": {"type": "string"}
	}
}`

var proposalSchemaLoader = gojsonschema.NewStringLoader(proposalSchema)

// ParseProposal validates a write-intent payload against the proposal
// schema and returns the typed proposal. Invalid payloads are rejected;
// nothing is ever silently executed.
func ParseProposal(payload []byte) (*Proposal, error) {
	result, err := gojsonschema.Validate(proposalSchemaLoader, gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to validate proposal: %w", err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return nil, fmt.Errorf("invalid proposal: %s", strings.Join(problems, "; "))
	}

	var p Proposal
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("failed to decode proposal: %w", err)
	}

	p.ID = uuid.New().String()
	p.CreatedAt = time.Now()
	return &p, nil
}
