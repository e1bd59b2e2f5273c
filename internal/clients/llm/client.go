package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/utils"
)

// Client is the text-generation and embedding capability boundary. The core
// never talks to a model vendor directly; everything goes through here.
type Client interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	GenerateText(ctx context.Context, system, user string) (string, error)
	GenerateJSON(ctx context.Context, system, user string) (map[string]any, error)
}

// GenerationError marks transport or quota failures of the generation
// backend. Turn-level callers surface it as retryable; the persisted user
// turn stays so a retry does not duplicate it.
type GenerationError struct {
	Operation  string
	StatusCode int
	Message    string
	Err        error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm %s: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("llm %s: %s", e.Operation, e.Message)
}

func (e *GenerationError) Unwrap() error { return e.Err }

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	embedModel string
	httpClient *http.Client
	maxRetries int
}

// newHTTPClient builds an OpenAI-compatible HTTP client configured from
// the environment. DeepSeek and other compatible gateways share the wire
// protocol; LLM_BASE_URL overrides the provider default.
func newHTTPClient(log *logger.Logger, defaultBaseURL string) (Client, error) {
	apiKey := strings.TrimSpace(utils.GetEnv("LLM_API_KEY", "", log))
	if apiKey == "" {
		return nil, fmt.Errorf("missing LLM_API_KEY")
	}
	baseURL := strings.TrimRight(utils.GetEnv("LLM_BASE_URL", defaultBaseURL, log), "/")
	timeout := utils.GetEnvAsInt("LLM_TIMEOUT_SECONDS", 60, log)

	return &client{
		log:        log.With("client", "LLMClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      utils.GetEnv("LLM_MODEL", "gpt-4o-mini", log),
		embedModel: utils.GetEnv("EMBEDDING_MODEL", "text-embedding-3-small", log),
		httpClient: &http.Client{Timeout: time.Duration(timeout) * time.Second},
		maxRetries: utils.GetEnvAsInt("LLM_MAX_RETRIES", 2, log),
	}, nil
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}

	clean := make([]string, len(inputs))
	for i := range inputs {
		s := strings.TrimSpace(inputs[i])
		if s == "" {
			s = " "
		}
		clean[i] = s
	}

	req := embeddingsRequest{Model: c.embedModel, Input: clean}
	var resp embeddingsResponse
	if err := c.do(ctx, "embed", "POST", "/v1/embeddings", req, &resp); err != nil {
		return nil, err
	}

	out := make([][]float32, len(clean))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = vec
		}
	}
	for i := range out {
		if out[i] == nil {
			return nil, &GenerationError{
				Operation: "embed",
				Message:   fmt.Sprintf("embeddings response missing index %d: requested=%d returned=%d", i, len(clean), len(resp.Data)),
			}
		}
	}
	return out, nil
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature,omitempty"`
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
}

func (c *client) GenerateText(ctx context.Context, system, user string) (string, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.7,
	}
	var resp chatResponse
	if err := c.do(ctx, "generate_text", "POST", "/v1/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", &GenerationError{Operation: "generate_text", Message: "empty choices"}
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *client) GenerateJSON(ctx context.Context, system, user string) (map[string]any, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    0.2,
		ResponseFormat: &respFormat{Type: "json_object"},
	}
	var resp chatResponse
	if err := c.do(ctx, "generate_json", "POST", "/v1/chat/completions", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, &GenerationError{Operation: "generate_json", Message: "empty choices"}
	}
	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, &GenerationError{Operation: "generate_json", Message: "decode structured payload failed", Err: err}
	}
	return out, nil
}

func (c *client) do(ctx context.Context, op, method, path string, in, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return &GenerationError{Operation: op, Message: "context canceled", Err: ctx.Err()}
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		lastErr = c.doOnce(ctx, op, method, path, in, out)
		if lastErr == nil {
			return nil
		}
		var genErr *GenerationError
		if errors.As(lastErr, &genErr) && !retryableStatus(genErr.StatusCode) {
			return lastErr
		}
	}
	return lastErr
}

func (c *client) doOnce(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return &GenerationError{Operation: op, Message: "encode request failed", Err: err}
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &GenerationError{Operation: op, Message: "build request failed", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return &GenerationError{Operation: op, StatusCode: http.StatusGatewayTimeout, Message: "request timed out", Err: err}
		}
		return &GenerationError{Operation: op, Message: "transport failed", Err: err}
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if readErr != nil {
		return &GenerationError{Operation: op, StatusCode: resp.StatusCode, Message: "read response failed", Err: readErr}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &GenerationError{
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("http status=%d body=%q", resp.StatusCode, truncate(raw, 512)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &GenerationError{Operation: op, StatusCode: resp.StatusCode, Message: "decode response failed", Err: err}
	}
	return nil
}

func retryableStatus(status int) bool {
	switch status {
	case 0, http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func truncate(raw []byte, n int) string {
	if len(raw) <= n {
		return string(raw)
	}
	return string(raw[:n]) + "..."
}
