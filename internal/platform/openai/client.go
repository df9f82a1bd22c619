package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/seatutor/mariner-backend/internal/platform/apierr"
	"github.com/seatutor/mariner-backend/internal/pkg/httpx"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

// EmbedTask steers the upstream embedding model.
const (
	EmbedTaskQuery    = "query"
	EmbedTaskDocument = "document"
)

type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Completion is the normalized model turn. The raw wire shape (string vs
// content blocks, inline <thinking>) never leaves this package.
type Completion struct {
	Thinking  string
	Text      string
	ToolCalls []ToolCall
}

// Client is the LLM + embedding API client used by the rest of the backend.
type Client interface {
	Embed(ctx context.Context, task string, inputs []string) ([][]float32, error)
	GenerateText(ctx context.Context, system, user string) (string, error)
	GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error)
	Chat(ctx context.Context, system string, msgs []Message, tools []ToolDef) (Completion, error)
}

type Config struct {
	// Provider picks the default BaseURL for OpenAI-compatible upstreams
	// when BaseURL is not set explicitly.
	Provider       string
	BaseURL        string
	APIKey         string
	Model          string
	EmbedModel     string
	MaxRetries     int
	MaxConcurrency int64
	Timeout        time.Duration
}

// DefaultBaseURL maps a provider name to its OpenAI-compatible endpoint.
// Unknown providers fall back to the OpenAI API itself.
func DefaultBaseURL(provider string) string {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "openrouter":
		return "https://openrouter.ai/api/v1"
	case "groq":
		return "https://api.groq.com/openai/v1"
	default:
		return "https://api.openai.com/v1"
	}
}

type client struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
	sem        *semaphore.Weighted
}

func NewClient(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("openai: logger required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai: missing API key")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL(cfg.Provider)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 16
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &client{
		log:        log.With("client", "OpenAIClient"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		sem:        semaphore.NewWeighted(cfg.MaxConcurrency),
	}, nil
}

type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.status, e.body)
}

func (e *httpError) HTTPStatusCode() int { return e.status }

func (c *client) do(ctx context.Context, path string, body any, out any) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return apierr.Transient(err)
	}
	defer c.sem.Release(1)

	payload, err := json.Marshal(body)
	if err != nil {
		return apierr.Permanent(err)
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := httpx.SleepCtx(ctx, httpx.Backoff(attempt, 500*time.Millisecond)); err != nil {
				return apierr.Transient(err)
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			strings.TrimRight(c.cfg.BaseURL, "/")+path, bytes.NewReader(payload))
		if err != nil {
			return apierr.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return apierr.Transient(ctx.Err())
			}
			lastErr = err
			continue
		}
		raw, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(raw, out); err != nil {
				return apierr.Permanent(fmt.Errorf("openai decode %s: %w", path, err))
			}
			return nil
		}
		herr := &httpError{status: resp.StatusCode, body: truncate(string(raw), 512)}
		if !httpx.IsRetryableHTTPStatus(resp.StatusCode) {
			return apierr.Permanent(herr)
		}
		lastErr = herr
	}
	return apierr.Transient(fmt.Errorf("openai %s after %d attempts: %w", path, c.cfg.MaxRetries, lastErr))
}

// -------------------- Embeddings --------------------

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *client) Embed(ctx context.Context, task string, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	// Task steering via input prefix; the upstream model reads it as intent.
	prefix := "search_document: "
	if task == EmbedTaskQuery {
		prefix = "search_query: "
	}
	prefixed := make([]string, len(inputs))
	for i, s := range inputs {
		prefixed[i] = prefix + s
	}

	var resp embeddingsResponse
	if err := c.do(ctx, "/embeddings", embeddingsRequest{Model: c.cfg.EmbedModel, Input: prefixed}, &resp); err != nil {
		return nil, err
	}
	out := make([][]float32, len(inputs))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	for i, v := range out {
		if len(v) == 0 {
			return nil, apierr.Permanent(fmt.Errorf("openai embeddings: missing vector at index %d", i))
		}
	}
	return out, nil
}

// -------------------- Chat completions --------------------

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall  `json:"tool_calls,omitempty"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []wireMessage  `json:"messages"`
	Tools          []wireTool     `json:"tools,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
}

func encodeContent(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// decodeContent normalizes "content could be a string or a list of typed
// blocks" into plain text.
func decodeContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var sb strings.Builder
		for _, b := range blocks {
			if b.Type == "" || b.Type == "text" {
				sb.WriteString(b.Text)
			}
		}
		return sb.String()
	}
	return ""
}

// splitThinking pulls a leading <thinking>...</thinking> block off the text.
func splitThinking(text string) (thinking, rest string) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "<thinking>") {
		return "", text
	}
	end := strings.Index(trimmed, "</thinking>")
	if end < 0 {
		return "", text
	}
	thinking = strings.TrimSpace(trimmed[len("<thinking>"):end])
	rest = strings.TrimSpace(trimmed[end+len("</thinking>"):])
	return thinking, rest
}

func (c *client) Chat(ctx context.Context, system string, msgs []Message, tools []ToolDef) (Completion, error) {
	req := chatRequest{Model: c.cfg.Model}
	if strings.TrimSpace(system) != "" {
		req.Messages = append(req.Messages, wireMessage{Role: "system", Content: encodeContent(system)})
	}
	for _, m := range msgs {
		wm := wireMessage{Role: m.Role, ToolCallID: m.ToolCallID}
		if m.Content != "" || len(m.ToolCalls) == 0 {
			wm.Content = encodeContent(m.Content)
		}
		for _, tc := range m.ToolCalls {
			var wtc wireToolCall
			wtc.ID = tc.ID
			wtc.Type = "function"
			wtc.Function.Name = tc.Name
			args, _ := json.Marshal(tc.Args)
			wtc.Function.Arguments = string(args)
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		req.Messages = append(req.Messages, wm)
	}
	for _, t := range tools {
		var wt wireTool
		wt.Type = "function"
		wt.Function.Name = t.Name
		wt.Function.Description = t.Description
		wt.Function.Parameters = t.Parameters
		req.Tools = append(req.Tools, wt)
	}

	var resp chatResponse
	if err := c.do(ctx, "/chat/completions", req, &resp); err != nil {
		return Completion{}, err
	}
	if len(resp.Choices) == 0 {
		return Completion{}, apierr.Permanent(fmt.Errorf("openai chat: empty choices"))
	}
	msg := resp.Choices[0].Message

	out := Completion{}
	thinking, text := splitThinking(decodeContent(msg.Content))
	out.Thinking = thinking
	out.Text = text
	for _, wtc := range msg.ToolCalls {
		args := map[string]any{}
		if strings.TrimSpace(wtc.Function.Arguments) != "" {
			_ = json.Unmarshal([]byte(wtc.Function.Arguments), &args)
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: wtc.ID, Name: wtc.Function.Name, Args: args})
	}
	return out, nil
}

func (c *client) GenerateText(ctx context.Context, system, user string) (string, error) {
	comp, err := c.Chat(ctx, system, []Message{{Role: "user", Content: user}}, nil)
	if err != nil {
		return "", err
	}
	return comp.Text, nil
}

func (c *client) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []wireMessage{
			{Role: "system", Content: encodeContent(system)},
			{Role: "user", Content: encodeContent(user)},
		},
		ResponseFormat: map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   schemaName,
				"schema": schema,
				"strict": true,
			},
		},
	}
	var resp chatResponse
	if err := c.do(ctx, "/chat/completions", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, apierr.Permanent(fmt.Errorf("openai chat: empty choices"))
	}
	_, text := splitThinking(decodeContent(resp.Choices[0].Message.Content))
	out := map[string]any{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &out); err != nil {
		return nil, apierr.Permanent(fmt.Errorf("openai json output decode: %w", err))
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
