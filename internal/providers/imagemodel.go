package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/storyglass/storyglass/internal/apperr"
)

const (
	DiffusionModelName       = "diffusion"
	defaultSubmitTimeout     = 30 * time.Second
	defaultImageRateLimitRPM = 60
)

// DiffusionConfig holds configuration for the HTTP image service client.
type DiffusionConfig struct {
	BaseURL    string // e.g. http://localhost:7860
	APIKey     string
	Timeout    time.Duration // per-call deadline (default 30s)
	RateLimit  int           // submissions per minute
	HTTPClient *http.Client  // optional (tests)
	Logger     *slog.Logger
}

// DiffusionImageModel implements ImageModel over a submit/poll HTTP image
// service. Retry across attempts is owned by the caller; each method is a
// single classified round-trip.
type DiffusionImageModel struct {
	name    string
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewDiffusionImageModel creates an image service client.
func NewDiffusionImageModel(cfg DiffusionConfig) *DiffusionImageModel {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultSubmitTimeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultImageRateLimitRPM
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &DiffusionImageModel{
		name:    DiffusionModelName,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		client:  client,
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  cfg.Logger.With("provider", DiffusionModelName),
	}
}

// Name returns the provider identifier.
func (d *DiffusionImageModel) Name() string { return d.name }

type submitResponse struct {
	JobID string `json:"job_id"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate submits one generation job and returns its id.
func (d *DiffusionImageModel) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to serialize generation request: %w", err)
	}

	data, err := d.roundTrip(ctx, http.MethodPost, "/v1/generate", body)
	if err != nil {
		return "", err
	}

	var parsed submitResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", apperr.UpstreamTransient(fmt.Errorf("unreadable submit response: %w", err))
	}
	if parsed.Error != nil {
		return "", classifyServiceError(parsed.Error.Code, parsed.Error.Message)
	}
	if parsed.JobID == "" {
		return "", apperr.UpstreamTransient(fmt.Errorf("submit response missing job id"))
	}
	d.logger.Debug("generation submitted", "job", parsed.JobID)
	return parsed.JobID, nil
}

// Poll reports the state of a previously submitted job.
func (d *DiffusionImageModel) Poll(ctx context.Context, jobID string) (*GenerationStatus, error) {
	data, err := d.roundTrip(ctx, http.MethodGet, "/v1/jobs/"+jobID, nil)
	if err != nil {
		return nil, err
	}

	var status GenerationStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, apperr.UpstreamTransient(fmt.Errorf("unreadable job status: %w", err))
	}
	if status.State == GenerationFailed && status.FailureClass == "" {
		status.FailureClass = classifyFailureDetail(status.ErrorDetail)
	}
	return &status, nil
}

func (d *DiffusionImageModel) roundTrip(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build image service request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, apperr.UpstreamTransient(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, apperr.UpstreamTransient(err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		d.limiter.Record429(parseRetryAfter(resp))
		return nil, apperr.UpstreamTransient(fmt.Errorf("rate limited: %s", resp.Status))
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperr.NotFound("generation job", strings.TrimPrefix(path, "/v1/jobs/"))
	case resp.StatusCode >= 500:
		return nil, apperr.UpstreamTransient(fmt.Errorf("image service error: %s", resp.Status))
	case resp.StatusCode >= 400:
		var parsed submitResponse
		if jerr := json.Unmarshal(data, &parsed); jerr == nil && parsed.Error != nil {
			return nil, classifyServiceError(parsed.Error.Code, parsed.Error.Message)
		}
		return nil, apperr.UpstreamPermanent(fmt.Errorf("request rejected: %s: %s", resp.Status, truncate(string(data), 300)))
	}
	return data, nil
}

// classifyServiceError maps the image service's error codes onto the local
// taxonomy so the generator can decide whether to retry.
func classifyServiceError(code, message string) error {
	switch code {
	case "content_policy":
		return apperr.ContentPolicyBlocked(message)
	case "invalid_params":
		return apperr.UpstreamPermanent(fmt.Errorf("invalid generation parameters: %s", message))
	case "overloaded", "timeout":
		return apperr.UpstreamTransient(fmt.Errorf("image service %s: %s", code, message))
	default:
		return apperr.UpstreamPermanent(fmt.Errorf("image service rejected request (%s): %s", code, message))
	}
}

// classifyFailureDetail is the fallback for services that report a terminal
// failure without a failure class.
func classifyFailureDetail(detail string) FailureClass {
	lower := strings.ToLower(detail)
	switch {
	case strings.Contains(lower, "policy") || strings.Contains(lower, "nsfw"):
		return FailureContentPolicy
	case strings.Contains(lower, "invalid") || strings.Contains(lower, "parameter"):
		return FailureInvalidParams
	default:
		return FailureTransient
	}
}
