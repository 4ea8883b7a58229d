package gemini

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/config"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/generation"
	"github.com/phrazzld/fintrack-api/internal/platform/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

// scriptedModels replays canned responses, one per call. The last entry
// repeats once the script runs out.
type scriptedModels struct {
	mu      sync.Mutex
	script  []scripted
	calls   int
	prompts []string
	models  []string
}

type scripted struct {
	resp *genai.GenerateContentResponse
	err  error
}

func (m *scriptedModels) GenerateContent(
	_ context.Context,
	model string,
	contents []*genai.Content,
	_ *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models = append(m.models, model)
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		m.prompts = append(m.prompts, contents[0].Parts[0].Text)
	}
	i := m.calls
	if i >= len(m.script) {
		i = len(m.script) - 1
	}
	m.calls++
	return m.script[i].resp, m.script[i].err
}

func textResponse(text string) scripted {
	return scripted{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}},
			FinishReason: genai.FinishReasonStop,
		}},
	}}
}

func failure(msg string) scripted {
	return scripted{err: errors.New(msg)}
}

var testConfig = config.LLMConfig{
	Model:      "gemini-test",
	MaxRetries: 2,
	BaseDelay:  100 * time.Millisecond,
	MaxDelay:   150 * time.Millisecond,
}

type harness struct {
	parser  *GeminiParser
	models  *scriptedModels
	keys    []string
	delays  []time.Duration
	factory ClientFactory
}

func newHarness(t *testing.T, cfg config.LLMConfig, script ...scripted) *harness {
	t.Helper()
	h := &harness{models: &scriptedModels{script: script}}
	h.factory = func(_ context.Context, apiKey string) (ContentGenerator, error) {
		h.keys = append(h.keys, apiKey)
		return h.models, nil
	}
	log, _ := logger.GetTestLogger(t)
	p, err := NewGeminiParser(log, cfg, h.factory)
	require.NoError(t, err)
	p.wait = func(_ context.Context, d time.Duration) error {
		h.delays = append(h.delays, d)
		return nil
	}
	h.parser = p
	return h
}

func request() generation.StatementRequest {
	userID := uuid.New()
	return generation.StatementRequest{
		APIKey:        "user-key",
		StatementText: "03/02 CORNER MARKET 42.10\n03/05 PAYROLL -1000.00",
		Categories: []domain.Category{
			{ID: uuid.New(), UserID: userID, Name: "Groceries", Type: domain.TransactionTypeExpense},
			{ID: uuid.New(), UserID: userID, Name: "Salary", Type: domain.TransactionTypeIncome},
		},
		Mappings: []domain.MerchantMapping{
			{ID: uuid.New(), UserID: userID, Pattern: "corner market", CategoryName: "Groceries"},
		},
	}
}

func TestParseStatement_DecodesFencedResponse(t *testing.T) {
	h := newHarness(t, testConfig, textResponse("```json\n"+`[
		{"amount": 42.10, "type": "EXPENSE", "description": "CORNER MARKET", "transactionDate": "2024-03-02", "categoryName": "Groceries"},
		{"amount": "1000.00", "type": "income", "description": "PAYROLL", "transactionDate": "2024-03-05", "categoryName": "Salary", "notes": " monthly "}
	]`+"\n```"))

	rows, err := h.parser.ParseStatement(context.Background(), request())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.True(t, decimal.RequireFromString("42.10").Equal(rows[0].Amount))
	assert.Equal(t, domain.TransactionTypeExpense, rows[0].Type)
	assert.Equal(t, "2024-03-02", rows[0].TransactionDate)
	assert.Equal(t, domain.TransactionTypeIncome, rows[1].Type)
	assert.Equal(t, "monthly", rows[1].Notes)

	assert.Equal(t, []string{"user-key"}, h.keys)
	assert.Equal(t, []string{"gemini-test"}, h.models.models)
	assert.Equal(t, "gemini-test", h.parser.Model())
}

func TestParseStatement_PromptCarriesVocabulary(t *testing.T) {
	h := newHarness(t, testConfig, textResponse("[]"))

	rows, err := h.parser.ParseStatement(context.Background(), request())
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.Len(t, h.models.prompts, 1)
	prompt := h.models.prompts[0]
	assert.Contains(t, prompt, "Groceries (EXPENSE)")
	assert.Contains(t, prompt, "Salary (INCOME)")
	assert.Contains(t, prompt, `"corner market" => Groceries`)
	assert.Contains(t, prompt, "03/02 CORNER MARKET 42.10")
}

func TestParseStatement_RetriesTransientFailures(t *testing.T) {
	h := newHarness(t, testConfig,
		failure("503 unavailable"),
		textResponse(`[{"amount": 5, "type": "EXPENSE", "description": "Coffee", "transactionDate": "2024-03-01"}]`),
	)

	rows, err := h.parser.ParseStatement(context.Background(), request())
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 2, h.models.calls)
	assert.Len(t, h.delays, 1)
}

func TestParseStatement_GivesUpAfterMaxRetries(t *testing.T) {
	h := newHarness(t, testConfig, failure("connection reset"))

	_, err := h.parser.ParseStatement(context.Background(), request())
	require.Error(t, err)
	assert.ErrorIs(t, err, generation.ErrTransientFailure)
	assert.True(t, generation.IsRetryable(err))
	assert.Equal(t, testConfig.MaxRetries+1, h.models.calls)

	require.Len(t, h.delays, testConfig.MaxRetries)
	for _, d := range h.delays {
		assert.LessOrEqual(t, d, testConfig.MaxDelay)
		assert.GreaterOrEqual(t, d, testConfig.BaseDelay/2)
	}
}

func TestParseStatement_CancelledDuringBackoff(t *testing.T) {
	h := newHarness(t, testConfig, failure("timeout"))
	h.parser.wait = sleepContext

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.parser.ParseStatement(ctx, request())
	assert.ErrorIs(t, err, generation.ErrTransientFailure)
	assert.Equal(t, 1, h.models.calls)
}

func TestParseStatement_MalformedResponseIsNotRetried(t *testing.T) {
	h := newHarness(t, testConfig, textResponse("I could not find any transactions, sorry."))

	_, err := h.parser.ParseStatement(context.Background(), request())
	assert.ErrorIs(t, err, generation.ErrInvalidResponse)
	assert.True(t, generation.IsRetryable(err), "callers may retry the whole parse")
	assert.Equal(t, 1, h.models.calls)
	assert.Empty(t, h.delays)
}

func TestParseStatement_ContentBlocked(t *testing.T) {
	t.Run("prompt feedback", func(t *testing.T) {
		h := newHarness(t, testConfig, scripted{resp: &genai.GenerateContentResponse{
			PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety},
		}})
		_, err := h.parser.ParseStatement(context.Background(), request())
		assert.ErrorIs(t, err, generation.ErrContentBlocked)
		assert.False(t, generation.IsRetryable(err))
	})

	t.Run("safety finish reason", func(t *testing.T) {
		h := newHarness(t, testConfig, scripted{resp: &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
		}})
		_, err := h.parser.ParseStatement(context.Background(), request())
		assert.ErrorIs(t, err, generation.ErrContentBlocked)
		assert.Equal(t, 1, h.models.calls)
	})
}

func TestParseStatement_RequestValidation(t *testing.T) {
	h := newHarness(t, testConfig, textResponse("[]"))

	req := request()
	req.APIKey = " "
	_, err := h.parser.ParseStatement(context.Background(), req)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)

	req = request()
	req.StatementText = "\n"
	_, err = h.parser.ParseStatement(context.Background(), req)
	assert.ErrorIs(t, err, ErrEmptyStatementText)

	assert.Empty(t, h.keys, "no client is opened for a rejected request")
}

func TestNewGeminiParser_Validation(t *testing.T) {
	log, _ := logger.GetTestLogger(t)
	factory := func(context.Context, string) (ContentGenerator, error) { return &scriptedModels{}, nil }

	_, err := NewGeminiParser(nil, testConfig, factory)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)

	_, err = NewGeminiParser(log, testConfig, nil)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)

	noModel := testConfig
	noModel.Model = ""
	_, err = NewGeminiParser(log, noModel, factory)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)

	missing := testConfig
	missing.PromptTemplatePath = filepath.Join(t.TempDir(), "absent.tmpl")
	_, err = NewGeminiParser(log, missing, factory)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)

	broken := testConfig
	broken.PromptTemplatePath = filepath.Join(t.TempDir(), "broken.tmpl")
	require.NoError(t, os.WriteFile(broken.PromptTemplatePath, []byte("{{.StatementText"), 0o600))
	_, err = NewGeminiParser(log, broken, factory)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}

func TestNewGeminiParser_CustomTemplate(t *testing.T) {
	cfg := testConfig
	cfg.PromptTemplatePath = filepath.Join(t.TempDir(), "custom.tmpl")
	require.NoError(t, os.WriteFile(cfg.PromptTemplatePath,
		[]byte("custom {{len .Categories}} :: {{.StatementText}}"), 0o600))

	h := newHarness(t, cfg, textResponse("[]"))
	_, err := h.parser.ParseStatement(context.Background(), request())
	require.NoError(t, err)
	require.Len(t, h.models.prompts, 1)
	assert.True(t, strings.HasPrefix(h.models.prompts[0], "custom 2 :: 03/02"))
}

func TestParseStatement_ClientFactoryError(t *testing.T) {
	log, _ := logger.GetTestLogger(t)
	p, err := NewGeminiParser(log, testConfig, func(context.Context, string) (ContentGenerator, error) {
		return nil, generation.ErrInvalidConfig
	})
	require.NoError(t, err)

	_, err = p.ParseStatement(context.Background(), request())
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}

func TestParseStatement_ClassifiesAPIErrors(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		want  error
		calls int
	}{
		{"invalid key", genai.APIError{Code: 400, Message: "API key not valid"}, generation.ErrInvalidConfig, 1},
		{"unauthorized", genai.APIError{Code: 401}, generation.ErrInvalidConfig, 1},
		{"forbidden pointer", &genai.APIError{Code: 403}, generation.ErrInvalidConfig, 1},
		{"unknown model", genai.APIError{Code: 404}, generation.ErrGenerationFailed, 1},
		{"rate limited", genai.APIError{Code: 429}, generation.ErrTransientFailure, testConfig.MaxRetries + 1},
		{"server error", fmt.Errorf("call: %w", genai.APIError{Code: 503}), generation.ErrTransientFailure, testConfig.MaxRetries + 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, testConfig, scripted{err: tc.err})

			_, err := h.parser.ParseStatement(context.Background(), request())
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, tc.calls, h.models.calls)
		})
	}
}
