package mapper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/semalign/semalign/pkg/schedule"
)

// Prometheus metrics for mapper submissions.
var (
	mapperRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapping_mapper_requests_total",
		Help: "Total mapper submissions by outcome",
	}, []string{"status"})

	mapperRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mapping_mapper_request_duration_seconds",
		Help:    "Mapper submission duration in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	mapperTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapping_mapper_tokens_total",
		Help: "Total tokens consumed by mapper submissions",
	}, []string{"direction"})
)

// HTTPConfig holds the configuration for the chat-completions mapper.
type HTTPConfig struct {
	// BaseURL is the API root, e.g. "https://api.openai.com/v1".
	BaseURL string

	// APIKey authenticates requests. Required.
	APIKey string

	// Model is the scoring model identifier. Required.
	Model string

	// Sampling parameters forwarded verbatim.
	Temperature float64
	TopP        float64
	MaxTokens   int

	// Prompt rendering options.
	Prompt PromptOptions

	// HTTPClient overrides the default client (used in tests).
	HTTPClient *http.Client
}

// DefaultHTTPConfig returns a safe default configuration.
func DefaultHTTPConfig(apiKey, model string) HTTPConfig {
	return HTTPConfig{
		BaseURL:     "https://api.openai.com/v1",
		APIKey:      apiKey,
		Model:       model,
		Temperature: 0.2,
		TopP:        1.0,
		MaxTokens:   16384,
		Prompt:      PromptOptions{Compact: true, Threshold: 50},
	}
}

// HTTPMapper submits descriptors to an OpenAI-compatible chat-completions
// endpoint and decodes the scored mappings from the response.
type HTTPMapper struct {
	cfg    HTTPConfig
	client *http.Client
	logger zerolog.Logger
}

// NewHTTP creates a mapper from cfg.
func NewHTTP(cfg HTTPConfig) (*HTTPMapper, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}

	return &HTTPMapper{
		cfg:    cfg,
		client: client,
		logger: log.With().Str("component", "http-mapper").Logger(),
	}, nil
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	Temperature    float64       `json:"temperature"`
	TopP           float64       `json:"top_p"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Submit implements Mapper.
func (m *HTTPMapper) Submit(ctx context.Context, d schedule.Descriptor, promptTemplate string) (*Result, error) {
	start := time.Now()
	defer func() {
		mapperRequestDuration.Observe(time.Since(start).Seconds())
	}()

	payload := chatRequest{
		Model: m.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemMessage(m.cfg.Prompt)},
			{Role: "user", Content: BuildPrompt(promptTemplate, d, m.cfg.Prompt)},
		},
		MaxTokens:      m.cfg.MaxTokens,
		Temperature:    m.cfg.Temperature,
		TopP:           m.cfg.TopP,
		ResponseFormat: &respFormat{Type: "json_object"},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Kind: KindMalformedRequest, Message: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindMalformedRequest, Message: "create request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	m.logger.Debug().
		Int("batch", d.Index).
		Int("first_items", len(d.First)).
		Int("second_items", len(d.Second)).
		Str("model", m.cfg.Model).
		Msg("Submitting batch")

	resp, err := m.client.Do(req)
	if err != nil {
		mapperRequestsTotal.WithLabelValues("network_error").Inc()
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := classifyStatus(resp.StatusCode)
		mapperRequestsTotal.WithLabelValues(fmt.Sprintf("%d", resp.StatusCode)).Inc()
		m.logger.Warn().
			Int("batch", d.Index).
			Int("status", resp.StatusCode).
			Str("error_kind", string(kind)).
			Msg("Mapper request rejected")
		return nil, &Error{
			Kind:    kind,
			Message: fmt.Sprintf("status %d: %s", resp.StatusCode, resp.Status),
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		mapperRequestsTotal.WithLabelValues("read_error").Inc()
		return nil, &Error{Kind: KindConnectionReset, Message: "read response body", Err: err}
	}

	var chat chatResponse
	if err := json.Unmarshal(raw, &chat); err != nil {
		mapperRequestsTotal.WithLabelValues("decode_error").Inc()
		return nil, &Error{Kind: KindDecodeFailure, Message: "decode response envelope", Err: err}
	}
	if len(chat.Choices) == 0 {
		mapperRequestsTotal.WithLabelValues("decode_error").Inc()
		return nil, &Error{Kind: KindDecodeFailure, Message: "response has no choices"}
	}

	candidates, err := ParseCandidates([]byte(chat.Choices[0].Message.Content))
	if err != nil {
		mapperRequestsTotal.WithLabelValues("decode_error").Inc()
		return nil, err
	}

	latency := time.Since(start)
	mapperRequestsTotal.WithLabelValues("success").Inc()
	mapperTokensTotal.WithLabelValues("input").Add(float64(chat.Usage.PromptTokens))
	mapperTokensTotal.WithLabelValues("output").Add(float64(chat.Usage.CompletionTokens))

	m.logger.Debug().
		Int("batch", d.Index).
		Int("candidates", len(candidates)).
		Int("input_tokens", chat.Usage.PromptTokens).
		Int("output_tokens", chat.Usage.CompletionTokens).
		Dur("latency", latency).
		Msg("Batch mapped")

	return &Result{
		Candidates:   candidates,
		InputTokens:  chat.Usage.PromptTokens,
		OutputTokens: chat.Usage.CompletionTokens,
		Latency:      latency,
	}, nil
}

// classifyStatus maps an HTTP status to a failure kind. Server-side 5xx
// responses count as connection-level transients.
func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthFailure
	case status == http.StatusPaymentRequired:
		return KindQuotaExceeded
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status >= 500:
		return KindConnectionReset
	default:
		return KindMalformedRequest
	}
}

// classifyTransport maps a transport error to a classified mapper error.
func classifyTransport(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Message: "request deadline exceeded", Err: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &Error{Kind: KindTimeout, Message: "network timeout", Err: err}
	default:
		return &Error{Kind: KindConnectionReset, Message: "transport failure", Err: err}
	}
}
