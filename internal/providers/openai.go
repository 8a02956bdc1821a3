package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/storyglass/storyglass/internal/apperr"
	"github.com/storyglass/storyglass/internal/prompts/assess"
	"github.com/storyglass/storyglass/internal/prompts/entities"
	"github.com/storyglass/storyglass/internal/prompts/scene"
)

const (
	OpenAITextModelName  = "openai"
	openAIDefaultModel   = "gpt-4o"
	openAIDefaultTimeout = 60 * time.Second
	openAIDefaultRetries = 2
	openAIDefaultRateRPM = 150
)

// OpenAIConfig holds configuration for the official-SDK text model client.
type OpenAIConfig struct {
	APIKey     string
	Model      string        // "gpt-4o" (default)
	Timeout    time.Duration // per-call deadline (default 60s)
	RateLimit  int           // requests per minute
	MaxRetries int           // SDK transport retries (default 2)
	BaseURL    string        // optional (tests)
	HTTPClient *http.Client  // optional (tests)
	Logger     *slog.Logger
}

// OpenAITextModel implements TextModel using the official OpenAI SDK with
// json_schema response formats. Transport retry is delegated to the SDK; the
// structured self-repair loop mirrors the generic chat client.
type OpenAITextModel struct {
	apiKey  string
	model   string
	timeout time.Duration
	client  openai.Client
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewOpenAITextModel creates an OpenAI-SDK-backed text model client.
func NewOpenAITextModel(cfg OpenAIConfig) *OpenAITextModel {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = openAIDefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = openAIDefaultRetries
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = openAIDefaultRateRPM
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAITextModel{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		client:  openai.NewClient(opts...),
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  cfg.Logger.With("provider", OpenAITextModelName),
	}
}

// Name returns the provider identifier.
func (c *OpenAITextModel) Name() string { return OpenAITextModelName }

// ExtractScenes implements TextModel.
func (c *OpenAITextModel) ExtractScenes(ctx context.Context, req SceneExtractionRequest) ([]SceneCandidate, error) {
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
func (c *OpenAITextModel) ExtractEntities(ctx context.Context, req EntityExtractionRequest) (*EntityExtraction, error) {
	known := scene.JoinNames(req.KnownMentions)
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
func (c *OpenAITextModel) AssessImage(ctx context.Context, req AssessmentRequest) (*AssessmentResult, error) {
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

func (c *OpenAITextModel) completeStructured(ctx context.Context, system, user string, schema map[string]any) (json.RawMessage, error) {
	schemaRaw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize schema: %w", err)
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(system),
		openai.UserMessage(user),
	}

	var lastErr error
	for attempt := 0; attempt <= maxStructuredRepairAttempts; attempt++ {
		content, err := c.complete(ctx, messages, schema)
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

		messages = append(messages,
			openai.AssistantMessage(content),
			openai.UserMessage(structuredRepairPrompt(schemaRaw, content, perr)),
		)
		c.logger.Warn("structured output invalid, requesting repair", "attempt", attempt+1, "error", perr)
	}

	return nil, apperr.ExtractionFormat(lastErr)
}

func (c *OpenAITextModel) complete(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, schema map[string]any) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	name, core := splitSchemaWrapper(schema)
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: messages,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: core,
					Strict: openai.Bool(true),
				},
			},
		},
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", mapOpenAITextError(err)
	}
	if len(completion.Choices) == 0 {
		return "", apperr.ExtractionFormat(fmt.Errorf("completion has no choices"))
	}
	return completion.Choices[0].Message.Content, nil
}

// splitSchemaWrapper unwraps the {"type":"json_schema","json_schema":{...}}
// schema form the prompt packages carry into the SDK's name/schema pair.
func splitSchemaWrapper(schema map[string]any) (string, any) {
	if inner, ok := schema["json_schema"].(map[string]any); ok {
		name, _ := inner["name"].(string)
		if name == "" {
			name = "response"
		}
		if core, ok := inner["schema"]; ok {
			return name, core
		}
		return name, inner
	}
	return "response", schema
}

func mapOpenAITextError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500:
			return apperr.UpstreamTransient(err)
		case apiErr.StatusCode >= 400:
			return apperr.UpstreamPermanent(err)
		}
	}
	return apperr.UpstreamTransient(err)
}

var _ TextModel = (*OpenAITextModel)(nil)
