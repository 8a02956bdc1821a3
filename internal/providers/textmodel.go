package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/storyglass/storyglass/internal/apperr"
	"github.com/storyglass/storyglass/internal/prompts/assess"
	"github.com/storyglass/storyglass/internal/prompts/entities"
	"github.com/storyglass/storyglass/internal/prompts/scene"
)

const (
	ChatTextModelName       = "chat"
	defaultChatTimeout      = 60 * time.Second
	defaultChatMaxRetries   = 2
	defaultChatRetryDelay   = 500 * time.Millisecond
	defaultChatRateLimitRPM = 150
)

// ChatConfig holds configuration for the OpenAI-compatible chat client.
type ChatConfig struct {
	BaseURL    string // e.g. https://openrouter.ai/api/v1
	APIKey     string
	Model      string
	Timeout    time.Duration // per-call deadline (default 60s)
	RateLimit  int           // requests per minute
	MaxRetries int           // transport retries (default 2)
	RetryDelay time.Duration // base backoff delay (default 500ms)
	HTTPClient *http.Client  // optional (tests)
	Logger     *slog.Logger
}

// ChatTextModel implements TextModel over any OpenAI-compatible
// chat-completions endpoint with json_schema response formats.
type ChatTextModel struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	client     *http.Client
	limiter    *RateLimiter
	logger     *slog.Logger
}

// NewChatTextModel creates a chat-backed text model client.
func NewChatTextModel(cfg ChatConfig) *ChatTextModel {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultChatTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultChatMaxRetries
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaultChatRetryDelay
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultChatRateLimitRPM
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &ChatTextModel{
		name:       ChatTextModelName,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		client:     client,
		limiter:    NewRateLimiter(cfg.RateLimit),
		logger:     cfg.Logger.With("provider", ChatTextModelName),
	}
}

// Name returns the provider identifier.
func (c *ChatTextModel) Name() string { return c.name }

// ExtractScenes implements TextModel.
func (c *ChatTextModel) ExtractScenes(ctx context.Context, req SceneExtractionRequest) ([]SceneCandidate, error) {
	user := scene.UserPrompt(scene.UserPromptData{
		WorkTitle:       req.WorkTitle,
		StylePreset:     req.StylePreset,
		KnownCharacters: scene.JoinNames(req.KnownCharacters),
		KnownLocations:  scene.JoinNames(req.KnownLocations),
		PriorScenes:     scene.JoinNames(req.PriorSummaries),
		MaxScenes:       req.MaxScenes,
		ChunkText:       req.ChunkText,
	})

	raw, err := c.completeStructured(ctx, scene.SystemPrompt(), user, scene.ExtractionSchema)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Scenes []SceneCandidate `json:"scenes"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apperr.ExtractionFormat(err)
	}
	return parsed.Scenes, nil
}

// ExtractEntities implements TextModel.
func (c *ChatTextModel) ExtractEntities(ctx context.Context, req EntityExtractionRequest) (*EntityExtraction, error) {
	known := ""
	for i, m := range req.KnownMentions {
		if i > 0 {
			known += ", "
		}
		known += m
	}
	raw, err := c.completeStructured(ctx, entities.SystemPrompt(), entities.UserPrompt(req.SceneText, known), entities.ExtractionSchema)
	if err != nil {
		return nil, err
	}

	var parsed EntityExtraction
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apperr.ExtractionFormat(err)
	}
	return &parsed, nil
}

// AssessImage implements TextModel.
func (c *ChatTextModel) AssessImage(ctx context.Context, req AssessmentRequest) (*AssessmentResult, error) {
	user := assess.UserPrompt(req.ImagePointer, req.PromptText, req.SceneDescription)
	raw, err := c.completeStructured(ctx, assess.SystemPrompt(), user, assess.AssessmentSchema)
	if err != nil {
		return nil, err
	}

	var parsed AssessmentResult
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apperr.ExtractionFormat(err)
	}
	return &parsed, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat any           `json:"response_format,omitempty"`
	Temperature    float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// completeStructured runs one chat completion with schema validation and a
// bounded self-repair loop for malformed output.
func (c *ChatTextModel) completeStructured(ctx context.Context, system, user string, schema map[string]any) (json.RawMessage, error) {
	schemaRaw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize schema: %w", err)
	}

	messages := []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}

	var lastErr error
	for attempt := 0; attempt <= maxStructuredRepairAttempts; attempt++ {
		content, err := c.chat(ctx, messages, schema)
		if err != nil {
			return nil, err
		}

		parsed, perr := parseStructuredJSON(content)
		if perr == nil {
			perr = validateStructuredJSON(schemaRaw, parsed)
		}
		if perr == nil {
			return parsed, nil
		}
		lastErr = perr

		// Ask the model to repair its own output once or twice before
		// rejecting the call outright.
		messages = append(messages,
			chatMessage{Role: "assistant", Content: content},
			chatMessage{Role: "user", Content: structuredRepairPrompt(schemaRaw, content, perr)},
		)
		c.logger.Warn("structured output invalid, requesting repair", "attempt", attempt+1, "error", perr)
	}

	return nil, apperr.ExtractionFormat(lastErr)
}

// chat performs one HTTP round-trip with transport retry.
func (c *ChatTextModel) chat(ctx context.Context, messages []chatMessage, schema map[string]any) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:          c.model,
		Messages:       messages,
		ResponseFormat: schema,
	})
	if err != nil {
		return "", fmt.Errorf("failed to serialize chat request: %w", err)
	}

	var content string
	err = retry.Do(
		func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}
			var rerr error
			content, rerr = c.roundTrip(ctx, body)
			if rerr != nil && !apperr.IsRetryable(rerr) {
				return retry.Unrecoverable(rerr)
			}
			return rerr
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.maxRetries)+1),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	return content, err
}

func (c *ChatTextModel) roundTrip(ctx context.Context, body []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", apperr.UpstreamTransient(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", apperr.UpstreamTransient(err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.limiter.Record429(parseRetryAfter(resp))
		return "", apperr.UpstreamTransient(fmt.Errorf("rate limited: %s", resp.Status))
	case resp.StatusCode >= 500:
		return "", apperr.UpstreamTransient(fmt.Errorf("server error: %s", resp.Status))
	case resp.StatusCode >= 400:
		return "", apperr.UpstreamPermanent(fmt.Errorf("request rejected: %s: %s", resp.Status, truncate(string(data), 300)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", apperr.UpstreamTransient(fmt.Errorf("unreadable chat response: %w", err))
	}
	if parsed.Error != nil {
		return "", apperr.UpstreamPermanent(fmt.Errorf("model error: %s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return "", apperr.ExtractionFormat(fmt.Errorf("chat response has no choices"))
	}
	return parsed.Choices[0].Message.Content, nil
}

func parseRetryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
