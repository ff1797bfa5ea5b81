package gateway

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/memori/pkg/assembler"
	"github.com/harun/memori/pkg/domain"
	"github.com/harun/memori/pkg/embedding"
	"github.com/harun/memori/pkg/linker"
	"github.com/harun/memori/pkg/llm"
	"github.com/harun/memori/pkg/memstore"
	"github.com/harun/memori/pkg/orchestrator"
	"github.com/harun/memori/pkg/redact"
	"github.com/harun/memori/pkg/retriever"
)

func createServer(t *testing.T) *Server {
	t.Helper()

	quiet := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	embedder := embedding.NewMockProvider(64)

	store, err := memstore.NewStore(memstore.Config{
		DBPath:   filepath.Join(t.TempDir(), "memory.db"),
		Logger:   quiet,
		Embedder: embedder,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	businessPath := filepath.Join(t.TempDir(), "business.db")
	db, err := sql.Open("sqlite3", businessPath)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL, email TEXT, phone TEXT, city TEXT, notes TEXT);
		CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER NOT NULL, number TEXT NOT NULL UNIQUE, status TEXT NOT NULL, total REAL NOT NULL, placed_at TEXT NOT NULL);
		CREATE TABLE work_orders (id INTEGER PRIMARY KEY, order_id INTEGER NOT NULL, title TEXT NOT NULL, status TEXT NOT NULL, scheduled_at TEXT NOT NULL);
		CREATE TABLE invoices (id INTEGER PRIMARY KEY, order_id INTEGER NOT NULL, number TEXT NOT NULL UNIQUE, amount REAL NOT NULL, status TEXT NOT NULL, issued_at TEXT NOT NULL);
		CREATE TABLE payments (id INTEGER PRIMARY KEY, invoice_id INTEGER NOT NULL, amount REAL NOT NULL, paid_at TEXT NOT NULL);
		CREATE TABLE tasks (id INTEGER PRIMARY KEY, customer_id INTEGER NOT NULL, title TEXT NOT NULL, status TEXT NOT NULL, created_at TEXT NOT NULL);
		INSERT INTO customers (id, name, email, city, notes) VALUES (1, 'Aurora Bakery', '', 'Bandung', '');
	`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	gw, err := domain.NewGateway(domain.Config{
		DBPath: businessPath, Logger: quiet, Timeout: 2 * time.Second, LatestOrders: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { gw.Close() })

	link, err := linker.NewLinker(linker.Config{
		Aliases: store, Names: gw, Embedder: embedder, Logger: quiet,
		Margin: 0.08, ConfidenceFloor: 0.55,
	})
	require.NoError(t, err)

	retr, err := retriever.NewRetriever(retriever.Config{
		Memory: store, Facts: gw, Logger: quiet, Limit: 12,
	})
	require.NoError(t, err)

	guard, err := redact.NewGuard(nil)
	require.NoError(t, err)

	orch, err := orchestrator.NewOrchestrator(orchestrator.Config{
		Guard: guard, Linker: link, Store: store, Retriever: retr,
		Assembler: assembler.NewAssembler(assembler.Config{EvidenceBudget: 16}),
		Completer: llm.NewMockCompleter(),
		Logger:    quiet,
	})
	require.NoError(t, err)

	s, err := NewServer(Config{
		Host: "127.0.0.1", Port: 8466, Orchestrator: orch, Logger: quiet,
	})
	require.NoError(t, err)
	return s
}

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func call(t *testing.T, conn *websocket.Conn, id, method string, params interface{}) Response {
	t.Helper()

	raw, err := json.Marshal(params)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Request{ID: id, Method: method, Params: raw}))

	var resp Response
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, id, resp.ID)
	return resp
}

func TestServer_ChatAndExplain(t *testing.T) {
	s := createServer(t)
	conn := dial(t, s)

	resp := call(t, conn, "1", "chat.send", map[string]string{
		"user_id": "u1", "session_id": "s1",
		"message": "Aurora Bakery prefers friday deliveries",
	})
	require.Empty(t, resp.Error)

	turn, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result orchestrator.TurnResult
	require.NoError(t, json.Unmarshal(turn, &result))
	assert.NotEmpty(t, result.TurnID)
	assert.NotEmpty(t, result.Reply)

	explain := call(t, conn, "2", "explain.get", map[string]string{"turn_id": result.TurnID})
	assert.Empty(t, explain.Error)

	memories := call(t, conn, "3", "memory.list", map[string]string{"user_id": "u1"})
	require.Empty(t, memories.Error)
	items, err := json.Marshal(memories.Result)
	require.NoError(t, err)
	assert.Contains(t, string(items), "prefers friday deliveries")
}

func TestServer_Errors(t *testing.T) {
	s := createServer(t)
	conn := dial(t, s)

	resp := call(t, conn, "1", "no.such.method", map[string]string{})
	assert.Contains(t, resp.Error, "unknown method")

	resp = call(t, conn, "2", "chat.send", map[string]string{"user_id": ""})
	assert.Contains(t, resp.Error, "required")

	resp = call(t, conn, "3", "consolidate.run", map[string]string{"user_id": "u1"})
	assert.Contains(t, resp.Error, "not enabled")
}

func TestNewServer_Validation(t *testing.T) {
	s := createServer(t)

	_, err := NewServer(Config{Host: "127.0.0.1", Port: -1, Orchestrator: s.orch})
	assert.Error(t, err)

	_, err = NewServer(Config{Host: "127.0.0.1", Port: 8466})
	assert.Error(t, err)
}
