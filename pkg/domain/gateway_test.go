package domain

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
	CREATE TABLE customers (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		phone TEXT,
		city TEXT,
		notes TEXT
	);
	CREATE TABLE orders (
		id INTEGER PRIMARY KEY,
		customer_id INTEGER NOT NULL,
		number TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		total REAL NOT NULL,
		placed_at TEXT NOT NULL
	);
	CREATE TABLE work_orders (
		id INTEGER PRIMARY KEY,
		order_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		status TEXT NOT NULL,
		scheduled_at TEXT NOT NULL
	);
	CREATE TABLE invoices (
		id INTEGER PRIMARY KEY,
		order_id INTEGER NOT NULL,
		number TEXT NOT NULL UNIQUE,
		amount REAL NOT NULL,
		status TEXT NOT NULL,
		issued_at TEXT NOT NULL
	);
	CREATE TABLE payments (
		id INTEGER PRIMARY KEY,
		invoice_id INTEGER NOT NULL,
		amount REAL NOT NULL,
		paid_at TEXT NOT NULL
	);
	CREATE TABLE tasks (
		id INTEGER PRIMARY KEY,
		customer_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
`

// createBusinessDB seeds a small business database and returns its path
func createBusinessDB(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "business.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	now := time.Now().UTC()
	seed := []string{
		`INSERT INTO customers (id, name, email, city, notes) VALUES
			(1, 'Aurora Bakery', 'owner@aurorabakery.example', 'Bandung', 'wholesale flour account'),
			(2, 'Borneo Hardware', 'purchasing@borneohw.example', 'Samarinda', ''),
			(3, 'Cahaya Logistics', 'ops@cahaya.example', 'Surabaya', 'priority account')`,
		`INSERT INTO orders (id, customer_id, number, status, total, placed_at) VALUES
			(10, 1, 'ORD-1001', 'in_fulfillment', 500.0, '` + now.AddDate(0, 0, -9).Format(time.RFC3339) + `'),
			(11, 1, 'ORD-1002', 'delivered', 320.0, '` + now.AddDate(0, 0, -30).Format(time.RFC3339) + `'),
			(12, 2, 'ORD-2001', 'pending', 150.0, '` + now.AddDate(0, 0, -2).Format(time.RFC3339) + `')`,
		`INSERT INTO work_orders (id, order_id, title, status, scheduled_at) VALUES
			(20, 10, 'Install shelving', 'scheduled', '` + now.AddDate(0, 0, 3).Format(time.RFC3339) + `')`,
		`INSERT INTO invoices (id, order_id, number, amount, status, issued_at) VALUES
			(30, 10, 'INV-5001', 500.0, 'open', '` + now.AddDate(0, 0, -8).Format(time.RFC3339) + `'),
			(31, 11, 'INV-5002', 320.0, 'paid', '` + now.AddDate(0, 0, -25).Format(time.RFC3339) + `')`,
		`INSERT INTO payments (id, invoice_id, amount, paid_at) VALUES
			(40, 30, 150.0, '` + now.AddDate(0, 0, -5).Format(time.RFC3339) + `'),
			(41, 30, 100.0, '` + now.AddDate(0, 0, -3).Format(time.RFC3339) + `'),
			(42, 31, 320.0, '` + now.AddDate(0, 0, -20).Format(time.RFC3339) + `')`,
		`INSERT INTO tasks (id, customer_id, title, status, created_at) VALUES
			(50, 1, 'Follow up on delivery window', 'open', '` + now.AddDate(0, 0, -4).Format(time.RFC3339) + `'),
			(51, 1, 'Send catalog', 'done', '` + now.AddDate(0, 0, -40).Format(time.RFC3339) + `')`,
	}
	for _, stmt := range seed {
		_, err = db.Exec(stmt)
		require.NoError(t, err)
	}

	return path
}

func createTestGateway(t *testing.T) *Gateway {
	t.Helper()

	g, err := NewGateway(Config{
		DBPath:       createBusinessDB(t),
		Logger:       zerolog.New(os.Stdout).Level(zerolog.Disabled),
		Timeout:      2 * time.Second,
		LatestOrders: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })

	return g
}

func TestFactsFor_CustomerBundle(t *testing.T) {
	g := createTestGateway(t)

	bundle, err := g.FactsFor(context.Background(), []EntityRef{{Table: "customers", ID: 1}})
	require.NoError(t, err)

	require.Len(t, bundle.Customers, 1)
	assert.Equal(t, "Aurora Bakery", bundle.Customers[0].Name)

	// Both orders for the customer surface, plus their open invoice.
	assert.Len(t, bundle.Orders, 2)
	require.Len(t, bundle.Invoices, 1)
	assert.Equal(t, "INV-5001", bundle.Invoices[0].Number)

	// Open tasks only; the done one stays out.
	require.Len(t, bundle.Tasks, 1)
	assert.Equal(t, "Follow up on delivery window", bundle.Tasks[0].Title)
	assert.GreaterOrEqual(t, bundle.Tasks[0].AgeDays, 3)
}

func TestFactsFor_InvoiceBalance(t *testing.T) {
	g := createTestGateway(t)

	bundle, err := g.FactsFor(context.Background(), []EntityRef{{Table: "invoices", ID: 30}})
	require.NoError(t, err)

	require.Len(t, bundle.Invoices, 1)
	inv := bundle.Invoices[0]
	assert.Equal(t, 500.0, inv.Amount)
	assert.Equal(t, 250.0, inv.Paid)
	assert.Equal(t, 250.0, inv.Balance)
}

func TestFactsFor_DirectOrderIncludesWorkOrders(t *testing.T) {
	g := createTestGateway(t)

	bundle, err := g.FactsFor(context.Background(), []EntityRef{{Table: "orders", ID: 10}})
	require.NoError(t, err)

	require.Len(t, bundle.Orders, 1)
	assert.Equal(t, "in_fulfillment", bundle.Orders[0].Status)
	require.Len(t, bundle.WorkOrders, 1)
	assert.Equal(t, "Install shelving", bundle.WorkOrders[0].Title)
}

func TestFactsFor_DuplicateRefsAreBatchedOnce(t *testing.T) {
	g := createTestGateway(t)

	bundle, err := g.FactsFor(context.Background(), []EntityRef{
		{Table: "customers", ID: 1},
		{Table: "customers", ID: 1},
		{Table: "customers", ID: 2},
	})
	require.NoError(t, err)
	assert.Len(t, bundle.Customers, 2)
}

func TestFactsFor_EmptyRefs(t *testing.T) {
	g := createTestGateway(t)

	bundle, err := g.FactsFor(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, bundle.Empty())
}

func TestFacts_Flattening(t *testing.T) {
	g := createTestGateway(t)

	bundle, err := g.FactsFor(context.Background(), []EntityRef{{Table: "orders", ID: 10}})
	require.NoError(t, err)

	facts := bundle.Facts()
	require.NotEmpty(t, facts)

	var orderFact *Fact
	for i := range facts {
		if facts[i].Table == "orders" && facts[i].ID == 10 {
			orderFact = &facts[i]
		}
	}
	require.NotNil(t, orderFact)
	assert.Equal(t, "in_fulfillment", orderFact.Attributes["status"])
	assert.Equal(t, "ORD-1001", orderFact.Label)
}

func TestRequestCache_Memoizes(t *testing.T) {
	g := createTestGateway(t)
	cache := g.NewRequestCache()
	refs := []EntityRef{{Table: "customers", ID: 1}}

	first, err := cache.FactsFor(context.Background(), refs)
	require.NoError(t, err)
	second, err := cache.FactsFor(context.Background(), refs)
	require.NoError(t, err)

	// Same pointer: the second call never hit the database.
	assert.Same(t, first, second)
}

func TestNameIndex(t *testing.T) {
	g := createTestGateway(t)

	index, err := g.NameIndex(context.Background())
	require.NoError(t, err)

	names := make(map[string]string)
	for _, e := range index {
		names[e.Name] = e.Table
	}
	assert.Equal(t, "customers", names["Aurora Bakery"])
	assert.Equal(t, "orders", names["ORD-1001"])
	assert.Equal(t, "invoices", names["INV-5001"])
}

func TestNewGateway_MissingDB(t *testing.T) {
	_, err := NewGateway(Config{
		DBPath: filepath.Join(t.TempDir(), "missing.db"),
		Logger: zerolog.New(os.Stdout).Level(zerolog.Disabled),
	})
	assert.Error(t, err)
}
