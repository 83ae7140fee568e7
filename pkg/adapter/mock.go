package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockAdapter returns deterministic responses for local runs and tests.
// Responses can be keyed by exact prompt or by substring; errors can be
// scripted to occur in order before successful responses resume.
type MockAdapter struct {
	mu              sync.Mutex
	name            string
	responses       map[string]string
	contains        []containsRule
	defaultResponse string
	usage           Usage
	scripted        []error
	calls           int
}

type containsRule struct {
	fragment string
	response string
}

// MockOption configures a MockAdapter.
type MockOption func(*MockAdapter)

// WithMockName overrides the adapter name.
func WithMockName(name string) MockOption {
	return func(m *MockAdapter) {
		m.name = name
	}
}

// WithMockResponse maps an exact prompt to a response.
func WithMockResponse(prompt, response string) MockOption {
	return func(m *MockAdapter) {
		m.responses[prompt] = response
	}
}

// WithMockContains maps any prompt containing fragment to a response.
// Rules are checked in registration order after exact matches.
func WithMockContains(fragment, response string) MockOption {
	return func(m *MockAdapter) {
		m.contains = append(m.contains, containsRule{fragment: fragment, response: response})
	}
}

// WithMockDefault sets the fallback response prefix.
func WithMockDefault(response string) MockOption {
	return func(m *MockAdapter) {
		m.defaultResponse = response
	}
}

// WithMockUsage sets the usage reported on every response.
func WithMockUsage(u Usage) MockOption {
	return func(m *MockAdapter) {
		m.usage = u
	}
}

// WithMockErrors scripts errors returned in order before responses resume.
func WithMockErrors(errs ...error) MockOption {
	return func(m *MockAdapter) {
		m.scripted = append(m.scripted, errs...)
	}
}

// NewMockAdapter creates a mock adapter.
func NewMockAdapter(opts ...MockOption) *MockAdapter {
	m := &MockAdapter{
		name:            "mock",
		responses:       make(map[string]string),
		defaultResponse: "mock response:",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the adapter identifier.
func (m *MockAdapter) Name() string {
	return m.name
}

// Models returns the list of supported mock models.
func (m *MockAdapter) Models() []string {
	return []string{"mock-1"}
}

// Calls reports how many Generate calls reached the adapter.
func (m *MockAdapter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Generate returns a scripted error or a deterministic response.
func (m *MockAdapter) Generate(_ context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++

	if len(m.scripted) > 0 {
		err := m.scripted[0]
		m.scripted = m.scripted[1:]
		if err != nil {
			return nil, err
		}
	}

	if response, ok := m.responses[req.Prompt]; ok {
		return &Response{Text: response, Usage: m.usage}, nil
	}
	for _, rule := range m.contains {
		if strings.Contains(req.Prompt, rule.fragment) {
			return &Response{Text: rule.response, Usage: m.usage}, nil
		}
	}
	return &Response{
		Text:  fmt.Sprintf("%s\n%s", m.defaultResponse, req.Prompt),
		Usage: m.usage,
	}, nil
}
