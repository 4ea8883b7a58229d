package gemini

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/phrazzld/fintrack-api/internal/config"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/generation"
	"github.com/phrazzld/fintrack-api/internal/platform/logger"
	"google.golang.org/genai"
)

//go:embed prompts/statement.tmpl
var defaultPromptTemplate string

// ContentGenerator is the part of the genai Models service the parser uses.
type ContentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// ClientFactory opens a ContentGenerator authenticated with apiKey.
type ClientFactory func(ctx context.Context, apiKey string) (ContentGenerator, error)

// NewGenAIClientFactory returns a ClientFactory backed by the Gemini API.
func NewGenAIClientFactory() ClientFactory {
	return func(ctx context.Context, apiKey string) (ContentGenerator, error) {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
		}
		return client.Models, nil
	}
}

// GeminiParser implements generation.StatementParser using the Gemini API.
type GeminiParser struct {
	logger         *slog.Logger
	config         config.LLMConfig
	promptTemplate *template.Template
	clients        ClientFactory

	// wait blocks for d or until ctx is done. Replaced in tests.
	wait func(ctx context.Context, d time.Duration) error
}

// Compile-time check that GeminiParser implements generation.StatementParser.
var _ generation.StatementParser = (*GeminiParser)(nil)

// NewGeminiParser creates a parser for the configured model. The prompt
// template is read from cfg.PromptTemplatePath when set and the embedded
// default otherwise.
func NewGeminiParser(
	logger *slog.Logger,
	cfg config.LLMConfig,
	clients ClientFactory,
) (*GeminiParser, error) {
	if logger == nil {
		return nil, fmt.Errorf("%w: logger cannot be nil", generation.ErrInvalidConfig)
	}
	if clients == nil {
		return nil, fmt.Errorf("%w: client factory cannot be nil", generation.ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("%w: max retries cannot be negative", generation.ErrInvalidConfig)
	}

	source := defaultPromptTemplate
	if cfg.PromptTemplatePath != "" {
		data, err := os.ReadFile(cfg.PromptTemplatePath)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read prompt template %s: %v",
				generation.ErrInvalidConfig, cfg.PromptTemplatePath, err)
		}
		source = string(data)
	}

	tmpl, err := template.New("statement").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse prompt template: %v", generation.ErrInvalidConfig, err)
	}

	return &GeminiParser{
		logger:         logger.With("component", "gemini_parser"),
		config:         cfg,
		promptTemplate: tmpl,
		clients:        clients,
		wait:           sleepContext,
	}, nil
}

// Model returns the configured model identifier.
func (p *GeminiParser) Model() string {
	return p.config.Model
}

// ParseStatement sends the statement to the model and decodes its rows.
func (p *GeminiParser) ParseStatement(
	ctx context.Context,
	req generation.StatementRequest,
) ([]domain.ParsedRow, error) {
	log := logger.FromContextOrDefault(ctx, p.logger)

	if strings.TrimSpace(req.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if strings.TrimSpace(req.StatementText) == "" {
		return nil, ErrEmptyStatementText
	}

	prompt, err := p.createPrompt(req)
	if err != nil {
		return nil, err
	}

	models, err := p.clients(ctx, req.APIKey)
	if err != nil {
		return nil, err
	}

	log.Debug("sending statement to model",
		slog.String("model", p.config.Model),
		slog.Int("prompt_length", len(prompt)),
		slog.Int("categories", len(req.Categories)),
		slog.Int("rules", len(req.Mappings)))

	text, err := p.callWithRetry(ctx, models, prompt)
	if err != nil {
		return nil, err
	}

	rows, dropped, err := decodeRows(text)
	if err != nil {
		log.Warn("model returned an unusable response",
			slog.String("error", err.Error()),
			slog.Int("response_length", len(text)))
		return nil, err
	}
	if dropped > 0 {
		log.Warn("dropped incomplete rows from model response",
			slog.Int("dropped", dropped),
			slog.Int("kept", len(rows)))
	}

	log.Info("parsed statement",
		slog.String("model", p.config.Model),
		slog.Int("rows", len(rows)))
	return rows, nil
}

// createPrompt renders the prompt template for req.
func (p *GeminiParser) createPrompt(req generation.StatementRequest) (string, error) {
	data := promptData{StatementText: req.StatementText}
	for _, c := range req.Categories {
		data.Categories = append(data.Categories, promptCategory{Name: c.Name, Type: string(c.Type)})
	}
	for _, m := range req.Mappings {
		data.Rules = append(data.Rules, promptRule{Pattern: m.Pattern, CategoryName: m.CategoryName})
	}

	var buf bytes.Buffer
	if err := p.promptTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: failed to render prompt: %v", generation.ErrGenerationFailed, err)
	}
	return buf.String(), nil
}

// callWithRetry calls the model, retrying transient failures with
// exponential backoff and jitter. Rejected requests, malformed output and
// safety blocks are returned immediately.
func (p *GeminiParser) callWithRetry(ctx context.Context, models ContentGenerator, prompt string) (string, error) {
	log := logger.FromContextOrDefault(ctx, p.logger)
	maxRetries := p.config.MaxRetries

	for attempt := 0; ; attempt++ {
		text, err := p.generate(ctx, models, prompt)
		if err == nil {
			return text, nil
		}
		if !errors.Is(err, generation.ErrTransientFailure) {
			return "", err
		}
		if attempt >= maxRetries {
			return "", fmt.Errorf("exceeded maximum retry attempts (%d): %w", maxRetries, err)
		}

		delay := p.backoff(attempt)
		log.Warn("transient model error, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", maxRetries),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		if err := p.wait(ctx, delay); err != nil {
			return "", fmt.Errorf("%w: context cancelled during retry: %v", generation.ErrTransientFailure, err)
		}
	}
}

// generate performs one model call and classifies its outcome.
func (p *GeminiParser) generate(ctx context.Context, models ContentGenerator, prompt string) (string, error) {
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: prompt}},
	}}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	}

	resp, err := models.GenerateContent(ctx, p.config.Model, contents, cfg)
	if err != nil {
		return "", classifyCallError(err)
	}
	if resp == nil {
		return "", fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked: %s", generation.ErrContentBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates in response", generation.ErrInvalidResponse)
	}
	if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: response stopped by safety filter", generation.ErrContentBlocked)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty response", generation.ErrInvalidResponse)
	}
	return text, nil
}

// backoff returns the delay before retry attempt+1: base * 2^attempt with
// up to 50% jitter, capped at MaxDelay.
func (p *GeminiParser) backoff(attempt int) time.Duration {
	base := float64(p.config.BaseDelay)
	delay := base * math.Pow(2, float64(attempt))
	delay = delay * (0.5 + rand.Float64()*0.5)
	if limit := float64(p.config.MaxDelay); limit > 0 && delay > limit {
		delay = limit
	}
	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
