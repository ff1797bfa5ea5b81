package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockCompleter is a deterministic Completer for tests. It echoes the
// prompt back unless a canned response is set, and records every request.
type MockCompleter struct {
	mu        sync.Mutex
	Response  string
	Err       error
	Requests  []Request
}

// NewMockCompleter creates a mock completer
func NewMockCompleter() *MockCompleter {
	return &MockCompleter{}
}

// Provider returns the provider name
func (c *MockCompleter) Provider() string {
	return "mock"
}

// Complete returns the canned response or a deterministic echo
func (c *MockCompleter) Complete(ctx context.Context, req Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Requests = append(c.Requests, req)

	if c.Err != nil {
		return "", c.Err
	}
	if c.Response != "" {
		return c.Response, nil
	}

	// Echo the first prompt line so tests can assert the context reached
	// the model.
	line := req.Prompt
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	return fmt.Sprintf("mock reply: %s", line), nil
}
