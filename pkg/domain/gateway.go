package domain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/memori/internal/observability"
	"github.com/harun/memori/internal/tracing"
)

var (
	// ErrUnavailable means the business database cannot be reached
	ErrUnavailable = errors.New("domain gateway unavailable")
	// ErrTimeout means the fact query exceeded its bounded timeout
	ErrTimeout = errors.New("domain gateway timeout")
)

// Gateway is the read-only facade over the business schema
type Gateway struct {
	db           *sql.DB
	logger       zerolog.Logger
	timeout      time.Duration
	latestOrders int

	mu         sync.RWMutex
	nameIndex  []NameEntry
	indexDirty bool

	watcher *dbWatcher
}

// Config holds gateway configuration
type Config struct {
	DBPath       string
	Logger       zerolog.Logger
	Timeout      time.Duration
	LatestOrders int
}

// NewGateway opens the business database read-only
func NewGateway(cfg Config) (*Gateway, error) {
	observability.EnsureRegistered()

	if cfg.DBPath == "" {
		return nil, errors.New("domain database path is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.LatestOrders <= 0 {
		cfg.LatestOrders = 5
	}

	db, err := sql.Open("sqlite3", "file:"+cfg.DBPath+"?mode=ro&_busy_timeout=2000")
	if err != nil {
		return nil, fmt.Errorf("failed to open domain database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	g := &Gateway{
		db:           db,
		logger:       cfg.Logger,
		timeout:      cfg.Timeout,
		latestOrders: cfg.LatestOrders,
		indexDirty:   true,
	}

	// Watch the database file so the linker's name index refreshes after
	// external writes. Watch failures degrade to a permanently fresh-on-
	// demand index, never a startup failure.
	watcher, err := newDBWatcher(cfg.DBPath, cfg.Logger, g.markIndexDirty)
	if err != nil {
		cfg.Logger.Warn().Err(err).Msg("Domain DB watch unavailable, name index refreshes on demand only")
	} else {
		g.watcher = watcher
	}

	return g, nil
}

// Close closes the gateway
func (g *Gateway) Close() error {
	if g.watcher != nil {
		g.watcher.Stop()
	}
	return g.db.Close()
}

func (g *Gateway) markIndexDirty() {
	g.mu.Lock()
	g.indexDirty = true
	g.mu.Unlock()
}

// FactsFor assembles a denormalized fact bundle for the given entity
// references. All joins are batched: at most one query per table per
// call, regardless of how many references are passed.
func (g *Gateway) FactsFor(ctx context.Context, refs []EntityRef) (*FactBundle, error) {
	ctx, span := tracing.StartSpan(ctx, "memori.domain", "domain.facts_for",
		attribute.Int("refs", len(refs)))
	defer span.End()

	start := time.Now()
	defer func() { observability.RecordFactBundle(time.Since(start)) }()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var customerIDs, orderIDs, invoiceIDs, workOrderIDs, taskIDs []int64
	seen := make(map[EntityRef]bool)
	for _, ref := range refs {
		if seen[ref] {
			continue
		}
		seen[ref] = true
		switch ref.Table {
		case "customers":
			customerIDs = append(customerIDs, ref.ID)
		case "orders":
			orderIDs = append(orderIDs, ref.ID)
		case "invoices":
			invoiceIDs = append(invoiceIDs, ref.ID)
		case "work_orders":
			workOrderIDs = append(workOrderIDs, ref.ID)
		case "tasks":
			taskIDs = append(taskIDs, ref.ID)
		}
	}

	bundle := &FactBundle{}

	if err := g.fetchCustomers(ctx, customerIDs, bundle); err != nil {
		return nil, g.classify(err)
	}
	if err := g.fetchOrders(ctx, orderIDs, customerIDs, bundle); err != nil {
		return nil, g.classify(err)
	}

	var fetchedOrderIDs []int64
	for _, o := range bundle.Orders {
		fetchedOrderIDs = append(fetchedOrderIDs, o.ID)
	}

	if err := g.fetchInvoices(ctx, invoiceIDs, fetchedOrderIDs, bundle); err != nil {
		return nil, g.classify(err)
	}
	if err := g.fetchWorkOrders(ctx, workOrderIDs, fetchedOrderIDs, bundle); err != nil {
		return nil, g.classify(err)
	}
	if err := g.fetchTasks(ctx, taskIDs, customerIDs, bundle); err != nil {
		return nil, g.classify(err)
	}

	g.logger.Debug().
		Int("refs", len(refs)).
		Int("customers", len(bundle.Customers)).
		Int("orders", len(bundle.Orders)).
		Int("invoices", len(bundle.Invoices)).
		Int("tasks", len(bundle.Tasks)).
		Msg("Fact bundle assembled")

	return bundle, nil
}

func (g *Gateway) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// placeholders builds "?,?,?" plus the matching args for an IN clause
func placeholders(ids []int64) (string, []interface{}) {
	marks := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id
	}
	return strings.Join(marks, ","), args
}

func (g *Gateway) fetchCustomers(ctx context.Context, ids []int64, bundle *FactBundle) error {
	if len(ids) == 0 {
		return nil
	}
	observability.RecordFactQuery("customers")

	marks, args := placeholders(ids)
	rows, err := g.db.QueryContext(ctx,
		`SELECT id, name, COALESCE(city, ''), COALESCE(notes, '') FROM customers WHERE id IN (`+marks+`)`,
		args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var c CustomerFact
		if err := rows.Scan(&c.ID, &c.Name, &c.City, &c.Note); err != nil {
			return err
		}
		bundle.Customers = append(bundle.Customers, c)
	}
	return rows.Err()
}

func (g *Gateway) fetchOrders(ctx context.Context, orderIDs, customerIDs []int64, bundle *FactBundle) error {
	if len(orderIDs) == 0 && len(customerIDs) == 0 {
		return nil
	}
	observability.RecordFactQuery("orders")

	var conds []string
	var args []interface{}
	if len(orderIDs) > 0 {
		marks, a := placeholders(orderIDs)
		conds = append(conds, "id IN ("+marks+")")
		args = append(args, a...)
	}
	if len(customerIDs) > 0 {
		marks, a := placeholders(customerIDs)
		conds = append(conds, "customer_id IN ("+marks+")")
		args = append(args, a...)
	}

	query := `SELECT id, customer_id, number, status, total, placed_at FROM orders WHERE ` +
		strings.Join(conds, " OR ") + ` ORDER BY customer_id, placed_at DESC`
	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	direct := make(map[int64]bool, len(orderIDs))
	for _, id := range orderIDs {
		direct[id] = true
	}

	// Latest-N cap applies to customer-derived orders only; directly
	// referenced orders are always included.
	perCustomer := make(map[int64]int)
	for rows.Next() {
		var o OrderFact
		var placedAt string
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.Number, &o.Status, &o.Total, &placedAt); err != nil {
			return err
		}
		o.PlacedAt = parseTime(placedAt)

		if !direct[o.ID] {
			if perCustomer[o.CustomerID] >= g.latestOrders {
				continue
			}
			perCustomer[o.CustomerID]++
		}
		bundle.Orders = append(bundle.Orders, o)
	}
	return rows.Err()
}

func (g *Gateway) fetchInvoices(ctx context.Context, invoiceIDs, orderIDs []int64, bundle *FactBundle) error {
	if len(invoiceIDs) == 0 && len(orderIDs) == 0 {
		return nil
	}
	observability.RecordFactQuery("invoices")

	var conds []string
	var args []interface{}
	if len(invoiceIDs) > 0 {
		marks, a := placeholders(invoiceIDs)
		conds = append(conds, "i.id IN ("+marks+")")
		args = append(args, a...)
	}
	if len(orderIDs) > 0 {
		marks, a := placeholders(orderIDs)
		conds = append(conds, "i.order_id IN ("+marks+")")
		args = append(args, a...)
	}

	query := `
		SELECT i.id, i.order_id, i.number, i.amount, i.status, COALESCE(SUM(p.amount), 0)
		FROM invoices i
		LEFT JOIN payments p ON p.invoice_id = i.id
		WHERE ` + strings.Join(conds, " OR ") + `
		GROUP BY i.id
		ORDER BY i.id`
	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	direct := make(map[int64]bool, len(invoiceIDs))
	for _, id := range invoiceIDs {
		direct[id] = true
	}

	for rows.Next() {
		var inv InvoiceFact
		if err := rows.Scan(&inv.ID, &inv.OrderID, &inv.Number, &inv.Amount, &inv.Status, &inv.Paid); err != nil {
			return err
		}
		inv.Balance = inv.Amount - inv.Paid

		// Derived invoices are surfaced only while something remains open.
		if !direct[inv.ID] && inv.Balance <= 0 && inv.Status == "paid" {
			continue
		}
		bundle.Invoices = append(bundle.Invoices, inv)
	}
	return rows.Err()
}

func (g *Gateway) fetchWorkOrders(ctx context.Context, workOrderIDs, orderIDs []int64, bundle *FactBundle) error {
	if len(workOrderIDs) == 0 && len(orderIDs) == 0 {
		return nil
	}
	observability.RecordFactQuery("work_orders")

	var conds []string
	var args []interface{}
	if len(workOrderIDs) > 0 {
		marks, a := placeholders(workOrderIDs)
		conds = append(conds, "id IN ("+marks+")")
		args = append(args, a...)
	}
	if len(orderIDs) > 0 {
		marks, a := placeholders(orderIDs)
		conds = append(conds, "order_id IN ("+marks+")")
		args = append(args, a...)
	}

	query := `SELECT id, order_id, title, status, scheduled_at FROM work_orders WHERE ` +
		strings.Join(conds, " OR ") + ` ORDER BY scheduled_at`
	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var w WorkOrderFact
		var scheduledAt string
		if err := rows.Scan(&w.ID, &w.OrderID, &w.Title, &w.Status, &scheduledAt); err != nil {
			return err
		}
		w.ScheduledAt = parseTime(scheduledAt)
		bundle.WorkOrders = append(bundle.WorkOrders, w)
	}
	return rows.Err()
}

func (g *Gateway) fetchTasks(ctx context.Context, taskIDs, customerIDs []int64, bundle *FactBundle) error {
	if len(taskIDs) == 0 && len(customerIDs) == 0 {
		return nil
	}
	observability.RecordFactQuery("tasks")

	var conds []string
	var args []interface{}
	if len(taskIDs) > 0 {
		marks, a := placeholders(taskIDs)
		conds = append(conds, "id IN ("+marks+")")
		args = append(args, a...)
	}
	if len(customerIDs) > 0 {
		marks, a := placeholders(customerIDs)
		conds = append(conds, "(customer_id IN ("+marks+") AND status NOT IN ('done', 'cancelled'))")
		args = append(args, a...)
	}

	query := `SELECT id, customer_id, title, status, created_at FROM tasks WHERE ` +
		strings.Join(conds, " OR ") + ` ORDER BY created_at`
	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	now := time.Now()
	for rows.Next() {
		var t TaskFact
		var createdAt string
		if err := rows.Scan(&t.ID, &t.CustomerID, &t.Title, &t.Status, &createdAt); err != nil {
			return err
		}
		t.AgeDays = int(now.Sub(parseTime(createdAt)).Hours() / 24)
		bundle.Tasks = append(bundle.Tasks, t)
	}
	return rows.Err()
}

// parseTime reads the timestamp formats sqlite commonly stores
func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// RequestCache memoizes fact bundles for the lifetime of one request.
// It is not safe for reuse across turns.
type RequestCache struct {
	gateway *Gateway
	mu      sync.Mutex
	bundles map[string]*FactBundle
}

// NewRequestCache creates a cache scoped to one request/response cycle
func (g *Gateway) NewRequestCache() *RequestCache {
	return &RequestCache{
		gateway: g,
		bundles: make(map[string]*FactBundle),
	}
}

// FactsFor returns a cached bundle for the same reference set, or
// delegates to the gateway.
func (c *RequestCache) FactsFor(ctx context.Context, refs []EntityRef) (*FactBundle, error) {
	key := cacheKey(refs)

	c.mu.Lock()
	if bundle, ok := c.bundles[key]; ok {
		c.mu.Unlock()
		return bundle, nil
	}
	c.mu.Unlock()

	bundle, err := c.gateway.FactsFor(ctx, refs)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.bundles[key] = bundle
	c.mu.Unlock()
	return bundle, nil
}

func cacheKey(refs []EntityRef) string {
	keys := make([]string, len(refs))
	for i, r := range refs {
		keys[i] = r.String()
	}
	sort.Strings(keys)
	return strings.Join(keys, "|")
}
