package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"vision-click/internal/config"
	"vision-click/internal/entity"
	"vision-click/pkg/apperr"
	"vision-click/pkg/logg"
	"vision-click/pkg/tracing"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	providerTracer     = "vision.provider"
	chatCompletionPath = "/chat/completions"
	defaultTimeout     = 30 * time.Second
	defaultMediaType   = "image/png"
	defaultTemperature = 0.2
	maxResponseBytes   = 4 << 20
)

// OpenAICompat talks to any endpoint that accepts the OpenAI chat/completions shape with
// image_url content parts. It never retries; that is the planner's call.
type OpenAICompat struct {
	name       string
	cfg        config.VisionConfig
	baseURL    string
	logger     *zap.Logger
	tracer     trace.Tracer
	httpClient *http.Client
}

func newOpenAICompat(name, defaultBaseURL string, cfg *config.VisionConfig, logger *zap.Logger) *OpenAICompat {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &OpenAICompat{
		name:       name,
		cfg:        *cfg,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger.With(zap.String(logg.Provider, name), zap.String(logg.Model, cfg.Model)),
		tracer:     otel.Tracer(providerTracer),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *OpenAICompat) Name() string {
	return p.name
}

type chatRequest struct {
	Model               string        `json:"model"`
	Messages            []chatMessage `json:"messages"`
	Temperature         *float64      `json:"temperature,omitempty"`
	MaxTokens           int           `json:"max_tokens,omitempty"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content jsoniter.RawMessage `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *OpenAICompat) RequestAction(ctx context.Context, req entity.VisionRequest) (text string, err error) {
	const op = "RequestAction"
	logger := p.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, p.tracer, logger, op,
		attribute.String("provider", p.name),
		attribute.String("model", p.cfg.Model),
		attribute.Int("image_bytes", len(req.Image)))
	defer func() {
		step.End(err)
	}()

	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return "", apperr.ConfigurationError(op, "missing_api_key")
	}

	if err := CheckModelPolicy(&p.cfg); err != nil {
		return "", err
	}

	step.AddEvent("marshaling request")

	payload, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return "", apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "marshal_failed",
			apperr.MetaStage:  apperr.StageVision,
		})
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+chatCompletionPath, bytes.NewReader(payload))
	if err != nil {
		return "", apperr.Wrap(op, apperr.CodeConfiguration, err, map[string]any{
			apperr.MetaReason: "request_create_failed",
			apperr.MetaStage:  apperr.StagePreparation,
		})
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	step.AddEvent("sending HTTP request")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return "", apperr.ProviderTimeoutError(op, err)
		}

		return "", apperr.Wrap(op, apperr.CodeProvider, err, map[string]any{
			apperr.MetaReason:   "http_request_failed",
			apperr.MetaStage:    apperr.StageVision,
			apperr.MetaProvider: p.name,
			apperr.MetaModel:    p.cfg.Model,
		})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(err) {
			return "", apperr.ProviderTimeoutError(op, err)
		}

		return "", apperr.Wrap(op, apperr.CodeProvider, err, map[string]any{
			apperr.MetaReason: "read_body_failed",
			apperr.MetaStage:  apperr.StageVision,
		})
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Warn("Provider returned error status",
			zap.Int("status_code", resp.StatusCode),
			zap.String("body_excerpt", apperr.Excerpt(string(body))))

		return "", apperr.ProviderError(op, resp.StatusCode, string(body))
	}

	step.AddEvent("decoding response")

	text, err = p.decodeResponse(logger, body)
	if err != nil {
		return "", err
	}

	logger.Debug("Provider answered", zap.String("text_excerpt", apperr.Excerpt(text)))

	return text, nil
}

func (p *OpenAICompat) buildRequest(req entity.VisionRequest) chatRequest {
	mediaType := req.MediaType
	if mediaType == "" {
		mediaType = defaultMediaType
	}

	dataURL := "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(req.Image)

	lastUser := -1
	for i, m := range req.Messages {
		if m.Role == entity.RoleUser {
			lastUser = i
		}
	}

	messages := make([]chatMessage, 0, len(req.Messages)+1)
	for i, m := range req.Messages {
		if i != lastUser {
			messages = append(messages, chatMessage{Role: string(m.Role), Content: m.Text})

			continue
		}

		messages = append(messages, chatMessage{
			Role: string(m.Role),
			Content: []contentPart{
				{Type: "text", Text: m.Text},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
			},
		})
	}

	if lastUser < 0 {
		messages = append(messages, chatMessage{
			Role:    string(entity.RoleUser),
			Content: []contentPart{{Type: "image_url", ImageURL: &imageURL{URL: dataURL}}},
		})
	}

	body := chatRequest{
		Model:    p.cfg.Model,
		Messages: messages,
	}

	if usesCompletionTokens(p.cfg.Model) {
		body.MaxCompletionTokens = p.cfg.MaxCompletionTokens
	} else {
		temperature := defaultTemperature
		body.Temperature = &temperature
		body.MaxTokens = p.cfg.MaxTokens
	}

	return body
}

func (p *OpenAICompat) decodeResponse(logger *zap.Logger, body []byte) (string, error) {
	const op = "decodeResponse"

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Choices) == 0 {
		if err == nil {
			err = errors.New("response has no choices")
		}

		return "", apperr.Wrap(op, apperr.CodeProvider, err, map[string]any{
			apperr.MetaReason:      "malformed_response",
			apperr.MetaStage:       apperr.StageVision,
			apperr.MetaBodyExcerpt: apperr.Excerpt(string(body)),
		})
	}

	choice := parsed.Choices[0]

	fields := []zap.Field{zap.String("finish_reason", choice.FinishReason)}
	if parsed.Usage != nil {
		fields = append(fields,
			zap.Int("prompt_tokens", parsed.Usage.PromptTokens),
			zap.Int("completion_tokens", parsed.Usage.CompletionTokens))
	}

	logger.Debug("Provider response decoded", fields...)

	return strings.TrimSpace(contentText(choice.Message.Content)), nil
}

// contentText accepts both a plain string and a list of text parts.
func contentText(raw jsoniter.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}

	var b strings.Builder
	for _, part := range parts {
		if part.Type == "text" || part.Type == "" {
			b.WriteString(part.Text)
		}
	}

	return b.String()
}

// usesCompletionTokens covers reasoning families that reject max_tokens and custom temperature.
func usesCompletionTokens(model string) bool {
	m := strings.ToLower(model)

	for _, prefix := range []string{"gpt-5", "o3", "o4"} {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}

	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}
