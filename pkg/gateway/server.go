// Package gateway is a thin WebSocket server for driving and inspecting
// the engine: chat turns, memory listings, explain traces and manual
// consolidation. Transport only; all semantics live in the engine
// packages it fronts.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/memori/internal/observability"
	"github.com/harun/memori/internal/tracing"
	"github.com/harun/memori/pkg/consolidator"
	"github.com/harun/memori/pkg/linker"
	"github.com/harun/memori/pkg/memstore"
	"github.com/harun/memori/pkg/orchestrator"
)

// Request is one client message
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers one request
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Config holds server configuration
type Config struct {
	Host         string
	Port         int
	Orchestrator *orchestrator.Orchestrator
	Consolidator *consolidator.Consolidator // optional
	Logger       zerolog.Logger
}

// Server serves the inspection and chat methods over WebSocket
type Server struct {
	host         string
	port         int
	orch         *orchestrator.Orchestrator
	consolidator *consolidator.Consolidator
	logger       zerolog.Logger

	server   *http.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	shutdown bool
}

// NewServer creates the inspection gateway
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}

	return &Server{
		host:         cfg.Host,
		port:         cfg.Port,
		orch:         cfg.Orchestrator,
		consolidator: cfg.Consolidator,
		logger:       cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

// Start begins serving. It does not block.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: mux,
	}

	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting inspection gateway")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown gateway: %w", err)
	}
	s.logger.Info().Msg("Inspection gateway stopped")
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID := gonanoid.Must(8)
	s.logger.Info().Str("client", clientID).Str("ip", r.RemoteAddr).Msg("Client connected")

	go s.serveClient(conn, clientID)
}

func (s *Server) serveClient(conn *websocket.Conn, clientID string) {
	defer func() {
		conn.Close()
		s.logger.Info().Str("client", clientID).Msg("Client disconnected")
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Error().Err(err).Str("client", clientID).Msg("WebSocket error")
			}
			return
		}

		var req Request
		if err := json.Unmarshal(message, &req); err != nil {
			s.write(conn, Response{Error: "invalid request: " + err.Error()})
			continue
		}

		ctx := tracing.WithTraceID(context.Background(), tracing.NewTraceID())
		resp := s.dispatch(ctx, req)
		s.write(conn, resp)
	}
}

func (s *Server) write(conn *websocket.Conn, resp Response) {
	if err := conn.WriteJSON(resp); err != nil {
		s.logger.Error().Err(err).Msg("Failed to send response")
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	result, err := s.handle(ctx, req)
	if err != nil {
		return Response{ID: req.ID, Error: err.Error()}
	}
	return Response{ID: req.ID, Result: result}
}

func (s *Server) handle(ctx context.Context, req Request) (interface{}, error) {
	switch req.Method {
	case "chat.send":
		var p struct {
			UserID    string `json:"user_id"`
			SessionID string `json:"session_id"`
			Message   string `json:"message"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		if p.UserID == "" || p.Message == "" {
			return nil, fmt.Errorf("user_id and message are required")
		}
		return s.orch.HandleChat(ctx, p.UserID, p.SessionID, p.Message)

	case "chat.confirm":
		var p struct {
			SessionID string           `json:"session_id"`
			Mention   string           `json:"mention"`
			Choice    linker.Candidate `json:"choice"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		return s.orch.ConfirmEntity(ctx, p.SessionID, p.Mention, p.Choice)

	case "memory.list":
		var p struct {
			UserID            string `json:"user_id"`
			Kind              string `json:"kind,omitempty"`
			IncludeSuperseded bool   `json:"include_superseded,omitempty"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		if p.UserID == "" {
			return nil, fmt.Errorf("user_id is required")
		}
		return s.orch.Memories(ctx, p.UserID, memstore.Kind(p.Kind), p.IncludeSuperseded)

	case "explain.get":
		var p struct {
			TurnID string `json:"turn_id"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		return s.orch.Explain(ctx, p.TurnID)

	case "consolidate.run":
		if s.consolidator == nil {
			return nil, fmt.Errorf("consolidation is not enabled")
		}
		var p struct {
			UserID string `json:"user_id"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		if p.UserID == "" {
			return nil, fmt.Errorf("user_id is required")
		}
		return s.consolidator.Consolidate(ctx, p.UserID)

	default:
		return nil, fmt.Errorf("unknown method: %s", req.Method)
	}
}
