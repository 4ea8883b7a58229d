package imports

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/store"
	"github.com/shopspring/decimal"
)

// Column layout of an uploaded file. The header row is ignored.
const (
	colDate = iota
	colAmount
	colType
	colDescription
	colCategory
	colNotes
	colTags
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// rowInput carries the raw columns of one row through struct validation.
type rowInput struct {
	Date         string   `csv:"date" validate:"required,datetime=2006-01-02"`
	Amount       string   `csv:"amount"`
	Type         string   `csv:"type" validate:"required,oneof=INCOME EXPENSE TRANSFER"`
	Description  string   `csv:"description" validate:"required,max=500"`
	CategoryName string   `csv:"categoryName" validate:"required,max=100"`
	Notes        string   `csv:"notes" validate:"max=1000"`
	Tags         []string `csv:"tags" validate:"max=20,dive,max=50"`
}

// newRowValidator returns a validator that reports fields by column name.
func newRowValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("csv"); name != "" {
			return name
		}
		return fld.Name
	})
	return v
}

// readRecords parses content and returns the data rows, header excluded.
func readRecords(content []byte, maxRows int) ([][]string, error) {
	content = bytes.TrimPrefix(content, utf8BOM)
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, ErrEmptyFile
	}

	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var rows [][]string
	header := true
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFile, err)
		}
		if header {
			header = false
			continue
		}
		if blank(record) {
			continue
		}
		if len(rows) == maxRows {
			return nil, fmt.Errorf("%w: limit is %d", ErrTooManyRows, maxRows)
		}
		rows = append(rows, record)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyFile
	}
	return rows, nil
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func column(record []string, i int) string {
	if i < len(record) {
		return strings.TrimSpace(record[i])
	}
	return ""
}

// splitTags accepts ';' or '|' separated tags and drops empty entries.
func splitTags(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ';' || r == '|' })
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

func categoryKey(name string, t domain.TransactionType) string {
	return strings.ToLower(strings.TrimSpace(name)) + "|" + string(t)
}

// rowChecker classifies rows using nothing but the row itself and the
// owner's categories, so one row's verdict never depends on its siblings.
type rowChecker struct {
	validate   *validator.Validate
	categories map[string]domain.Category
}

func newRowChecker(v *validator.Validate, categories []domain.Category) rowChecker {
	byKey := make(map[string]domain.Category, len(categories))
	for _, c := range categories {
		byKey[categoryKey(c.Name, c.Type)] = c
	}
	return rowChecker{validate: v, categories: byKey}
}

// check returns a VALID or ERROR verdict. Every failing check is reported.
func (c rowChecker) check(rowNumber int, record []string) domain.RowVerdict {
	in := rowInput{
		Date:         column(record, colDate),
		Amount:       column(record, colAmount),
		Type:         strings.ToUpper(column(record, colType)),
		Description:  column(record, colDescription),
		CategoryName: column(record, colCategory),
		Notes:        column(record, colNotes),
		Tags:         splitTags(column(record, colTags)),
	}
	verdict := domain.RowVerdict{
		RowNumber:    rowNumber,
		Date:         in.Date,
		Description:  in.Description,
		CategoryName: in.CategoryName,
		Notes:        in.Notes,
		Tags:         in.Tags,
	}

	var problems []string
	if err := c.validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			problems = append(problems, err.Error())
		}
		for _, fe := range fieldErrs {
			problems = append(problems, fieldMessage(fe))
		}
	}

	amount, amountProblem := parseAmount(in.Amount)
	if amountProblem != "" {
		problems = append(problems, amountProblem)
	} else {
		verdict.Amount = &amount
	}

	txnType, typeErr := domain.ParseTransactionType(in.Type)
	if typeErr == nil {
		verdict.Type = txnType
		if in.CategoryName != "" {
			if cat, ok := c.categories[categoryKey(in.CategoryName, txnType)]; ok {
				id := cat.ID
				verdict.CategoryID = &id
				verdict.CategoryName = cat.Name
			} else {
				problems = append(problems, fmt.Sprintf("category %q not found for type %s", in.CategoryName, txnType))
			}
		}
	}

	if len(problems) > 0 {
		verdict.Status = domain.RowStatusError
		verdict.Errors = problems
		return verdict
	}
	verdict.Status = domain.RowStatusValid
	return verdict
}

func parseAmount(raw string) (decimal.Decimal, string) {
	if raw == "" {
		return decimal.Decimal{}, "amount is required"
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, "amount must be a decimal number"
	}
	if !amount.IsPositive() {
		return decimal.Decimal{}, "amount must be greater than zero"
	}
	return amount, ""
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "datetime":
		return fmt.Sprintf("%s must use format yyyy-MM-dd", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of INCOME, EXPENSE, TRANSFER", fe.Field())
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must have at most %s entries", fe.Field(), fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s check", fe.Field(), fe.Tag())
	}
}

// classify checks every record independently.
func classify(checker rowChecker, records [][]string) []domain.RowVerdict {
	verdicts := make([]domain.RowVerdict, len(records))
	for i, record := range records {
		verdicts[i] = checker.check(i+1, record)
	}
	return verdicts
}

// markDuplicates flags VALID rows that match an existing ledger entry.
func markDuplicates(ctx context.Context, txns store.TransactionStore, userID, accountID uuid.UUID, verdicts []domain.RowVerdict) error {
	for i := range verdicts {
		v := &verdicts[i]
		if v.Status != domain.RowStatusValid {
			continue
		}
		date, err := domain.ParseDate(v.Date)
		if err != nil {
			return err
		}
		exists, err := txns.ExistsExact(ctx, store.DuplicateKey{
			UserID:      userID,
			AccountID:   accountID,
			Date:        date,
			Amount:      *v.Amount,
			Description: v.Description,
		})
		if err != nil {
			return fmt.Errorf("failed to check row %d for duplicates: %w", v.RowNumber, err)
		}
		if exists {
			v.Status = domain.RowStatusDuplicate
		}
	}
	return nil
}

// accepted returns the rows an import inserts under the skip policy.
func accepted(verdicts []domain.RowVerdict, skipDuplicates bool) (rows []domain.RowVerdict, skipped int) {
	for _, v := range verdicts {
		switch v.Status {
		case domain.RowStatusValid:
			rows = append(rows, v)
		case domain.RowStatusDuplicate:
			if skipDuplicates {
				skipped++
				continue
			}
			rows = append(rows, v)
		}
	}
	return rows, skipped
}
