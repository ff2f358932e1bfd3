// Package litellm implements the reasoner port over a LiteLLM proxy's
// OpenAI-compatible chat completions API. The proxy owns provider
// routing and API keys; this client only frames task payloads as
// reasoning calls and hands back the structured result.
package litellm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/signaldesk/signaldesk/internal/config"
	"github.com/signaldesk/signaldesk/internal/port/cache"
	"github.com/signaldesk/signaldesk/internal/resilience"
)

// instructions frames each task type's reasoning call. The user message
// is always the task payload as JSON; every instruction demands a
// quality_score so the executor can run its retry protocol on the
// response.
var instructions = map[string]string{
	"extract_problems": "You mine scraped community discussions for recurring problem statements. " +
		"Given items with title, body and score, return JSON: {\"problems\": [{\"text\", \"evidence_item_ids\", \"severity\" 1-5}], \"quality_score\" 1-10}.",
	"cluster_opportunities": "You group extracted problem statements into market opportunity clusters. " +
		"Return JSON: {\"clusters\": [{\"title\", \"thesis\", \"confidence\" 0-1, \"cluster_key\", \"problem_ids\"}], \"quality_score\" 1-10}.",
	"analyze_opportunity": "You deep-dive one market opportunity: competition, timing, risks. " +
		"Return JSON: {\"thesis\", \"confidence\" 0-1, \"risks\": [], \"predictions\": [{\"text\", \"confidence\" 0-1, \"target_date\"}], \"quality_score\" 1-10}.",
	"track_predictions": "You re-evaluate forecasts against the observed signals provided. " +
		"Return JSON: {\"evaluations\": [{\"prediction_id\", \"observed_signal\", \"score\" 0-1, \"notes\"}], \"quality_score\" 1-10}.",
	"research_request": "You fulfill a targeted research request from the filters provided. " +
		"Return JSON: {\"findings\": [{\"summary\", \"source\", \"relevance\" 0-1}], \"quality_score\" 1-10}.",
	"write_digest": "You write digest sections from ranked opportunities and fresh predictions. " +
		"Return JSON: {\"sections\": [{\"name\", \"entries\": [{\"kind\", \"ref_id\", \"title\", \"summary\"}]}], \"quality_score\" 1-10}.",
}

const defaultInstruction = "Complete the task described by the JSON payload. " +
	"Return a JSON object including an integer quality_score 1-10 rating your own output."

// Client talks to the LiteLLM proxy. A circuit breaker and a
// read-through response cache are both optional attachments.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	breaker    *resilience.Breaker
	cache      cache.Cache
	cacheTTL   time.Duration
}

// NewClient creates a reasoner client from configuration.
func NewClient(cfg config.Reasoner) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:  cfg.URL,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		cacheTTL: cfg.CacheTTL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// SetCache attaches a response cache. Identical (task type, payload)
// pairs then reuse the previous answer instead of paying for it twice.
func (c *Client) SetCache(cc cache.Cache) {
	c.cache = cc
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Cached reports a previously stored result for the exact (task type,
// payload) pair without touching the proxy. Executors consult this
// before charging a task's call budget, which is what keeps repeat
// payloads free.
func (c *Client) Cached(ctx context.Context, taskType string, payload json.RawMessage) (json.RawMessage, bool) {
	if c.cache == nil {
		return nil, false
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	data, ok, err := c.cache.Get(ctx, cacheKey(taskType, payload))
	if err != nil || !ok {
		return nil, false
	}
	return json.RawMessage(data), true
}

// Reason sends one reasoning call for the given task type and returns
// the model's JSON result. Callers that probe Cached first only reach
// this for payloads the cache has not seen; the internal lookup below
// still serves hits for callers that skip the probe.
func (c *Client) Reason(ctx context.Context, taskType string, payload json.RawMessage) (json.RawMessage, error) {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	key := cacheKey(taskType, payload)
	if c.cache != nil {
		if data, ok, err := c.cache.Get(ctx, key); err == nil && ok {
			return json.RawMessage(data), nil
		}
	}

	instruction, ok := instructions[taskType]
	if !ok {
		instruction = defaultInstruction
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: instruction},
			{Role: "user", Content: string(payload)},
		},
		Temperature: 0.2,
		ResponseFormat: &struct {
			Type string `json:"type"`
		}{Type: "json_object"},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/chat/completions", body)
	if err != nil {
		return nil, fmt.Errorf("reason %s: %w", taskType, err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("reason %s: response has no choices", taskType)
	}

	content := []byte(parsed.Choices[0].Message.Content)
	if !json.Valid(content) {
		return nil, fmt.Errorf("reason %s: response content is not valid JSON", taskType)
	}

	if c.cache != nil {
		_ = c.cache.Set(ctx, key, content, c.cacheTTL)
	}
	return json.RawMessage(content), nil
}

// Health checks whether the proxy is reachable and healthy.
func (c *Client) Health(ctx context.Context) (bool, error) {
	_, err := c.doRequest(ctx, http.MethodGet, "/health", nil)
	return err == nil, err
}

// cacheKey derives a stable key from the task type and exact payload
// bytes. Any payload difference, including whitespace, is a different
// reasoning call. The charset stays within what JetStream KV accepts,
// so the same key works at every cache level.
func cacheKey(taskType string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(taskType))
	h.Write([]byte{0})
	h.Write(payload)
	return "reason." + hex.EncodeToString(h.Sum(nil))
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("litellm API error %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
