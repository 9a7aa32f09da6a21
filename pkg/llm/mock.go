package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockStep is one scripted outcome of a MockGenerator call.
type MockStep struct {
	Err  error
	Text string
}

// MockGenerator provides a controllable Generator for tests and local runs.
// Scripted steps are consumed in order; once exhausted, Fallback answers (if set).
type MockGenerator struct {
	Fallback func(ctx context.Context, req Request) (Response, error)
	name     string
	steps    []MockStep
	requests []Request
	mu       sync.Mutex
}

// NewMockGenerator creates a mock with predefined steps.
func NewMockGenerator(name string, steps ...MockStep) *MockGenerator {
	return &MockGenerator{
		name:  name,
		steps: steps,
	}
}

// Generate returns the next scripted step.
func (m *MockGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	var step *MockStep
	if len(m.steps) > 0 {
		step = &m.steps[0]
		m.steps = m.steps[1:]
	}
	fallback := m.Fallback
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if step == nil {
		if fallback != nil {
			return fallback(ctx, req)
		}
		return Response{}, fmt.Errorf("mock generator %s: no more responses", m.name)
	}
	if step.Err != nil {
		return Response{}, step.Err
	}
	return Response{Text: step.Text, Provider: m.name, Model: req.Profile.Model}, nil
}

// Name returns the mock's provider name.
func (m *MockGenerator) Name() string {
	return m.name
}

// Push appends scripted steps.
func (m *MockGenerator) Push(steps ...MockStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, steps...)
}

// Calls returns how many times Generate was invoked.
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of the received requests.
func (m *MockGenerator) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}
