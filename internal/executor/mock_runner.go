package executor

import (
	"context"
	"sync"
)

// MockRunner is a test double that records requests and returns configured
// results. It is safe for concurrent use.
type MockRunner struct {
	RunFunc func(ctx context.Context, req Request) (*Result, error)

	mu       sync.Mutex
	requests []Request
}

// Run records the request and delegates to RunFunc. Without RunFunc it
// reports success.
func (m *MockRunner) Run(ctx context.Context, req Request) (*Result, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx, req)
	}
	return &Result{Command: req.Line()}, nil
}

// Requests returns the recorded requests in call order
func (m *MockRunner) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Commands returns the command lines of the recorded requests
func (m *MockRunner) Commands() []string {
	reqs := m.Requests()
	cmds := make([]string, len(reqs))
	for i, r := range reqs {
		cmds[i] = r.Line()
	}
	return cmds
}
