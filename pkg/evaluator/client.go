// Package evaluator provides the generative-AI provider client that
// evaluates posts against configured criteria, with classified errors.
package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/postaudit/postaudit/pkg/archive"
	"github.com/postaudit/postaudit/pkg/config"
)

// Prometheus metrics for provider calls.
var (
	providerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postaudit_provider_requests_total",
		Help: "Total provider requests by status",
	}, []string{"status"})

	providerRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "postaudit_provider_request_duration_seconds",
		Help:    "Provider request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	providerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postaudit_provider_errors_total",
		Help: "Total provider errors by class",
	}, []string{"class"})
)

// Config holds the provider client configuration.
type Config struct {
	// APIKey authenticates requests (sent via x-goog-api-key).
	APIKey string

	// Endpoint is the full URL of the generate endpoint.
	Endpoint string

	// Timeout bounds each provider call.
	Timeout time.Duration
}

// Client calls the provider to evaluate posts.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a provider client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: logger,
	}, nil
}

// Provider request/response wire types.
type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	ResponseMimeType   string         `json:"responseMimeType"`
	ResponseJSONSchema map[string]any `json:"responseJsonSchema"`
	Temperature        float64        `json:"temperature"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// decision is the structured verdict the provider is constrained to emit.
type decision struct {
	ShouldFlag      bool     `json:"should_flag"`
	Rationale       string   `json:"rationale"`
	MatchedCriteria []string `json:"matched_criteria"`
}

func buildPrompt(post archive.Post, criteria config.Criteria) string {
	professional := "no"
	if criteria.CheckProfessionalism {
		professional = "yes"
	}

	return fmt.Sprintf(`You are evaluating social media posts for a %s.

Analyze this post and determine if it should be flagged based on these criteria:
- Forbidden words: %s
- Must be professional: %s
- Desired tone: %s

Post: %q

Should this post be flagged? If yes, explain why and which criteria it violates.
`,
		criteria.Context,
		strings.Join(criteria.ForbiddenWords, ", "),
		professional,
		criteria.DesiredTone,
		post.FullText,
	)
}

// responseSchema constrains the provider's output to the decision shape.
func responseSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"should_flag": map[string]any{
				"type":        "boolean",
				"description": "Whether this post should be flagged",
			},
			"rationale": map[string]any{
				"type":        "string",
				"description": "Why the post should be flagged or retained",
			},
			"matched_criteria": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Criteria matched for flagging",
			},
		},
		"required": []string{"should_flag", "rationale"},
	}
}

// Evaluate runs one post through the provider and returns its decision.
// Failures are returned as *ProviderError with a class the caller can
// feed into the retry policy and the pacing governor.
func (c *Client) Evaluate(ctx context.Context, post archive.Post, criteria config.Criteria) (Result, error) {
	c.logger.Debug().Str("post_id", post.IDStr).Msg("Building provider request")

	reqBody := generateRequest{
		Contents: []content{
			{Parts: []part{{Text: buildPrompt(post, criteria)}}},
		},
		GenerationConfig: generationConfig{
			ResponseMimeType:   "application/json",
			ResponseJSONSchema: responseSchema(),
			Temperature:        0.2,
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, fmt.Errorf("marshal provider request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("create provider request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	providerRequestDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		providerErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		providerRequestsTotal.WithLabelValues("network_error").Inc()
		return Result{}, &ProviderError{
			Class:   ErrorClassNetwork,
			Message: "request failed",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	providerRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		class := classifyStatus(resp.StatusCode)
		providerErrorsTotal.WithLabelValues(string(class)).Inc()

		c.logger.Warn().
			Str("post_id", post.IDStr).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Provider request error")

		return Result{}, &ProviderError{
			StatusCode: resp.StatusCode,
			Class:      class,
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		providerErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return Result{}, &ProviderError{
			Class:   ErrorClassNetwork,
			Message: "read response body",
			Err:     err,
		}
	}

	return parseResponse(body, post.IDStr)
}

// parseResponse extracts the decision from the first candidate's first part.
func parseResponse(body []byte, postID string) (Result, error) {
	var resp generateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Result{}, fmt.Errorf("decode provider response: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return Result{}, fmt.Errorf("no candidates in provider response")
	}
	parts := resp.Candidates[0].Content.Parts
	if len(parts) == 0 {
		return Result{}, fmt.Errorf("no parts in candidate content")
	}

	var d decision
	if err := json.Unmarshal([]byte(parts[0].Text), &d); err != nil {
		return Result{}, fmt.Errorf("decode decision payload: %w", err)
	}

	return Result{
		PostID:          postID,
		ShouldFlag:      d.ShouldFlag,
		Rationale:       d.Rationale,
		MatchedCriteria: d.MatchedCriteria,
	}, nil
}
