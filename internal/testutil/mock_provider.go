// Package testutil provides testing utilities for the post audit pipeline.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for one mock provider response.
type MockResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// MockProvider is a configurable mock evaluation endpoint. Responses are
// served from a scripted queue; once the queue is drained the default
// response is served.
type MockProvider struct {
	server *httptest.Server
	mu     sync.Mutex

	queue       []MockResponse
	defaultResp MockResponse

	// RequestCount tracks the number of requests received.
	RequestCount int

	// LastRequestHeader holds the headers of the most recent request.
	LastRequestHeader http.Header
}

// NewMockProvider creates a mock provider that flags nothing by default.
func NewMockProvider() *MockProvider {
	mock := &MockProvider{
		defaultResp: MockResponse{
			StatusCode: http.StatusOK,
			Body:       DecisionBody(false, "clean", nil),
		},
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()

		resp := mock.defaultResp
		if len(mock.queue) > 0 {
			resp = mock.queue[0]
			mock.queue = mock.queue[1:]
		}
		mock.mu.Unlock()

		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		fmt.Fprint(w, resp.Body)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockProvider) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockProvider) Close() {
	m.server.Close()
}

// Enqueue appends scripted responses served before the default.
func (m *MockProvider) Enqueue(responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, responses...)
}

// SetDefault replaces the response served once the queue is drained.
func (m *MockProvider) SetDefault(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultResp = resp
}

// Requests returns the number of requests received so far.
func (m *MockProvider) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RequestCount
}

// DecisionBody builds a provider response body carrying the given decision.
func DecisionBody(shouldFlag bool, rationale string, matched []string) string {
	decision := map[string]any{
		"should_flag":      shouldFlag,
		"rationale":        rationale,
		"matched_criteria": matched,
	}
	decisionJSON, err := json.Marshal(decision)
	if err != nil {
		panic(err)
	}

	body := map[string]any{
		"candidates": []any{
			map[string]any{
				"content": map[string]any{
					"parts": []any{
						map[string]any{"text": string(decisionJSON)},
					},
				},
			},
		},
	}
	bodyJSON, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}

	return string(bodyJSON)
}

// ErrorBody builds a provider error response body.
func ErrorBody(message string) string {
	return fmt.Sprintf(`{"error": {"message": %q}}`, message)
}
