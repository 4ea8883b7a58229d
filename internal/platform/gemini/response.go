package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/generation"
)

// unwrapFences strips Markdown code fences and any prose around the JSON
// array in a model response.
func unwrapFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if nl := strings.Index(s, "\n"); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}

// decodeRows turns a model response into parsed rows. Rows without a
// usable amount, date or description are dropped and counted. A response
// that is not a JSON array, or one whose rows were all dropped, is invalid.
func decodeRows(raw string) ([]domain.ParsedRow, int, error) {
	var schema []RowSchema
	if err := json.Unmarshal([]byte(unwrapFences(raw)), &schema); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", generation.ErrInvalidResponse, err)
	}

	rows := make([]domain.ParsedRow, 0, len(schema))
	dropped := 0
	for _, s := range schema {
		row, ok := toParsedRow(s)
		if !ok {
			dropped++
			continue
		}
		rows = append(rows, row)
	}
	if len(schema) > 0 && len(rows) == 0 {
		return nil, dropped, fmt.Errorf("%w: none of %d rows were usable", generation.ErrInvalidResponse, len(schema))
	}
	return rows, dropped, nil
}

func toParsedRow(s RowSchema) (domain.ParsedRow, bool) {
	description := strings.TrimSpace(s.Description)
	if description == "" || s.Amount.IsZero() {
		return domain.ParsedRow{}, false
	}
	date, err := domain.ParseDate(s.TransactionDate)
	if err != nil {
		return domain.ParsedRow{}, false
	}

	typ, err := domain.ParseTransactionType(s.Type)
	if err != nil {
		// A signed amount without a usable type reads like a statement
		// column: credits are negative.
		typ = domain.TransactionTypeExpense
		if s.Amount.IsNegative() {
			typ = domain.TransactionTypeIncome
		}
	}

	return domain.ParsedRow{
		Amount:          s.Amount.Abs(),
		Type:            typ,
		Description:     description,
		TransactionDate: date.Format(domain.DateLayout),
		CategoryName:    strings.TrimSpace(s.CategoryName),
		Notes:           strings.TrimSpace(s.Notes),
	}, true
}
