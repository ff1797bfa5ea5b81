// Package domain is a read-oriented query facade over the external
// business database. It returns denormalized, ID-tagged fact bundles and
// never exposes raw rows. Writes are expressed as proposals, not executed.
package domain

import (
	"fmt"
	"time"
)

// EntityRef is a weak reference into the business schema
type EntityRef struct {
	Table string `json:"table"`
	ID    int64  `json:"id"`
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s/%d", r.Table, r.ID)
}

// Fact is one denormalized, ID-tagged fact
type Fact struct {
	Table      string            `json:"table"`
	ID         int64             `json:"id"`
	Label      string            `json:"label"`
	Attributes map[string]string `json:"attributes"`
}

// Ref returns the entity reference this fact belongs to
func (f Fact) Ref() EntityRef {
	return EntityRef{Table: f.Table, ID: f.ID}
}

// CustomerFact is a denormalized customer profile
type CustomerFact struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	City string `json:"city"`
	Note string `json:"note,omitempty"`
}

// OrderFact is a denormalized order row
type OrderFact struct {
	ID         int64     `json:"id"`
	CustomerID int64     `json:"customer_id"`
	Number     string    `json:"number"`
	Status     string    `json:"status"`
	Total      float64   `json:"total"`
	PlacedAt   time.Time `json:"placed_at"`
}

// InvoiceFact is a denormalized invoice with its computed remaining balance
type InvoiceFact struct {
	ID      int64   `json:"id"`
	OrderID int64   `json:"order_id"`
	Number  string  `json:"number"`
	Amount  float64 `json:"amount"`
	Paid    float64 `json:"paid"`
	Balance float64 `json:"balance"`
	Status  string  `json:"status"`
}

// WorkOrderFact is a denormalized work order row
type WorkOrderFact struct {
	ID          int64     `json:"id"`
	OrderID     int64     `json:"order_id"`
	Title       string    `json:"title"`
	Status      string    `json:"status"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// TaskFact is a denormalized open task with its age
type TaskFact struct {
	ID         int64  `json:"id"`
	CustomerID int64  `json:"customer_id"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	AgeDays    int    `json:"age_days"`
}

// FactBundle is the denormalized result of one batched gateway pass
type FactBundle struct {
	Customers  []CustomerFact  `json:"customers,omitempty"`
	Orders     []OrderFact     `json:"orders,omitempty"`
	Invoices   []InvoiceFact   `json:"invoices,omitempty"`
	WorkOrders []WorkOrderFact `json:"work_orders,omitempty"`
	Tasks      []TaskFact      `json:"tasks,omitempty"`
}

// Empty reports whether the bundle carries no facts
func (b *FactBundle) Empty() bool {
	if b == nil {
		return true
	}
	return len(b.Customers) == 0 && len(b.Orders) == 0 && len(b.Invoices) == 0 &&
		len(b.WorkOrders) == 0 && len(b.Tasks) == 0
}

// Facts flattens the bundle into ID-tagged facts with string attributes.
// The attribute keys are the fields the authority rule compares against
// memory claims.
func (b *FactBundle) Facts() []Fact {
	if b == nil {
		return nil
	}

	var facts []Fact

	for _, c := range b.Customers {
		facts = append(facts, Fact{
			Table: "customers",
			ID:    c.ID,
			Label: c.Name,
			Attributes: map[string]string{
				"name": c.Name,
				"city": c.City,
			},
		})
	}
	for _, o := range b.Orders {
		facts = append(facts, Fact{
			Table: "orders",
			ID:    o.ID,
			Label: o.Number,
			Attributes: map[string]string{
				"number":    o.Number,
				"status":    o.Status,
				"total":     fmt.Sprintf("%.2f", o.Total),
				"placed_at": o.PlacedAt.Format(time.RFC3339),
			},
		})
	}
	for _, inv := range b.Invoices {
		facts = append(facts, Fact{
			Table: "invoices",
			ID:    inv.ID,
			Label: inv.Number,
			Attributes: map[string]string{
				"number":  inv.Number,
				"status":  inv.Status,
				"amount":  fmt.Sprintf("%.2f", inv.Amount),
				"balance": fmt.Sprintf("%.2f", inv.Balance),
			},
		})
	}
	for _, w := range b.WorkOrders {
		facts = append(facts, Fact{
			Table: "work_orders",
			ID:    w.ID,
			Label: w.Title,
			Attributes: map[string]string{
				"title":        w.Title,
				"status":       w.Status,
				"scheduled_at": w.ScheduledAt.Format(time.RFC3339),
			},
		})
	}
	for _, t := range b.Tasks {
		facts = append(facts, Fact{
			Table: "tasks",
			ID:    t.ID,
			Label: t.Title,
			Attributes: map[string]string{
				"title":    t.Title,
				"status":   t.Status,
				"age_days": fmt.Sprintf("%d", t.AgeDays),
			},
		})
	}

	return facts
}
