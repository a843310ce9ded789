package evaluator

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/postaudit/postaudit/internal/testutil"
	"github.com/postaudit/postaudit/pkg/archive"
	"github.com/postaudit/postaudit/pkg/config"
)

var testCriteria = config.Criteria{
	Context:              "professional account cleanup",
	ForbiddenWords:       []string{"spam", "scam"},
	CheckProfessionalism: true,
	DesiredTone:          "professional",
}

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()

	c, err := New(Config{
		APIKey:   "test-key-0123456789-0123456789",
		Endpoint: endpoint,
		Timeout:  5 * time.Second,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Endpoint: "https://example.com"}, zerolog.Nop()); err == nil {
		t.Error("New() should require an api key")
	}
	if _, err := New(Config{APIKey: "key"}, zerolog.Nop()); err == nil {
		t.Error("New() should require an endpoint")
	}
}

func TestClient_Evaluate_Flagged(t *testing.T) {
	mock := testutil.NewMockProvider()
	defer mock.Close()

	mock.Enqueue(testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       testutil.DecisionBody(true, "contains forbidden word", []string{"forbidden_words"}),
	})

	c := newTestClient(t, mock.URL())
	post := archive.Post{IDStr: "42", FullText: "buy my spam product"}

	result, err := c.Evaluate(context.Background(), post, testCriteria)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	if result.PostID != "42" {
		t.Errorf("PostID = %q, want 42", result.PostID)
	}
	if !result.ShouldFlag {
		t.Error("ShouldFlag = false, want true")
	}
	if result.Rationale != "contains forbidden word" {
		t.Errorf("Rationale = %q", result.Rationale)
	}
	if len(result.MatchedCriteria) != 1 || result.MatchedCriteria[0] != "forbidden_words" {
		t.Errorf("MatchedCriteria = %v", result.MatchedCriteria)
	}
	if result.Failed() {
		t.Error("Failed() = true for a decision result")
	}

	if got := mock.LastRequestHeader.Get("x-goog-api-key"); got == "" {
		t.Error("request should carry the api key header")
	}
}

func TestClient_Evaluate_Clean(t *testing.T) {
	mock := testutil.NewMockProvider()
	defer mock.Close()

	c := newTestClient(t, mock.URL())

	result, err := c.Evaluate(context.Background(), archive.Post{IDStr: "1", FullText: "hello"}, testCriteria)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if result.ShouldFlag {
		t.Error("ShouldFlag = true, want false for default mock decision")
	}
}

func TestClient_Evaluate_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		expected ErrorClass
	}{
		{name: "rate limited", status: 429, expected: ErrorClassRateLimit},
		{name: "server error", status: 500, expected: ErrorClassServer},
		{name: "bad request", status: 400, expected: ErrorClassClient},
		{name: "unauthorized", status: 401, expected: ErrorClassClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockProvider()
			defer mock.Close()

			mock.Enqueue(testutil.MockResponse{
				StatusCode: tt.status,
				Body:       testutil.ErrorBody("provider error"),
			})

			c := newTestClient(t, mock.URL())

			_, err := c.Evaluate(context.Background(), archive.Post{IDStr: "1"}, testCriteria)
			if err == nil {
				t.Fatal("Evaluate() should fail")
			}

			var pe *ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("error %v is not a ProviderError", err)
			}
			if pe.Class != tt.expected {
				t.Errorf("Class = %q, want %q", pe.Class, tt.expected)
			}
			if pe.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", pe.StatusCode, tt.status)
			}
		})
	}
}

func TestClient_Evaluate_NetworkError(t *testing.T) {
	// Point at a closed server to force a transport error
	mock := testutil.NewMockProvider()
	url := mock.URL()
	mock.Close()

	c := newTestClient(t, url)

	_, err := c.Evaluate(context.Background(), archive.Post{IDStr: "1"}, testCriteria)
	if err == nil {
		t.Fatal("Evaluate() should fail against a closed server")
	}

	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("error %v is not a ProviderError", err)
	}
	if pe.Class != ErrorClassNetwork {
		t.Errorf("Class = %q, want network", pe.Class)
	}
}

func TestClient_Evaluate_MalformedResponse(t *testing.T) {
	mock := testutil.NewMockProvider()
	defer mock.Close()

	mock.Enqueue(testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"candidates": []}`,
	})

	c := newTestClient(t, mock.URL())

	_, err := c.Evaluate(context.Background(), archive.Post{IDStr: "1"}, testCriteria)
	if err == nil {
		t.Fatal("Evaluate() should fail on an empty candidate list")
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		t.Errorf("malformed body should not be a classified provider error, got class %q", pe.Class)
	}
}

func TestBuildPrompt(t *testing.T) {
	post := archive.Post{IDStr: "1", FullText: "check out this offer"}

	prompt := buildPrompt(post, testCriteria)

	for _, want := range []string{
		"professional account cleanup",
		"spam, scam",
		"professional",
		"check out this offer",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}
