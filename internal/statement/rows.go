package statement

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/store"
)

// duplicatePrefixLen is how many normalized description characters two
// entries must share to count as the same purchase.
const duplicatePrefixLen = 12

// duplicateWindowDays is the date tolerance either side of a parsed row.
const duplicateWindowDays = 1

// categorize applies merchant rules, then resolves the remaining suggested
// category names against the owner's vocabulary. Rules always win over the
// model; unknown names are cleared.
func categorize(rows []domain.ParsedRow, categories []domain.Category, mappings []domain.MerchantMapping) {
	byKey := make(map[string]domain.Category, len(categories))
	for _, c := range categories {
		byKey[categoryKey(c.Name, c.Type)] = c
	}

	for i := range rows {
		row := &rows[i]
		row.CategoryID = nil
		row.MappedByRule = false

		if m, ok := domain.MatchMerchant(mappings, row.Description); ok {
			id := m.CategoryID
			row.CategoryID = &id
			row.CategoryName = m.CategoryName
			row.MappedByRule = true
			continue
		}
		if c, ok := byKey[categoryKey(row.CategoryName, row.Type)]; ok {
			id := c.ID
			row.CategoryID = &id
			row.CategoryName = c.Name
			continue
		}
		row.CategoryName = ""
	}
}

func categoryKey(name string, typ domain.TransactionType) string {
	return strings.ToLower(strings.TrimSpace(name)) + "|" + string(typ)
}

// flagDuplicates marks rows that match an existing ledger entry on the same
// account: dated within a day, equal amount and overlapping description
// prefix. It returns the number of flagged rows.
func flagDuplicates(ctx context.Context, txns store.TransactionStore, userID, accountID uuid.UUID, rows []domain.ParsedRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	var first, last string
	for _, row := range rows {
		if first == "" || row.TransactionDate < first {
			first = row.TransactionDate
		}
		if last == "" || row.TransactionDate > last {
			last = row.TransactionDate
		}
	}
	from, err := domain.ParseDate(first)
	if err != nil {
		return 0, err
	}
	to, err := domain.ParseDate(last)
	if err != nil {
		return 0, err
	}

	existing, err := txns.ListInRange(ctx, userID, accountID,
		from.AddDate(0, 0, -duplicateWindowDays), to.AddDate(0, 0, duplicateWindowDays))
	if err != nil {
		return 0, err
	}

	flagged := 0
	for i := range rows {
		row := &rows[i]
		row.Duplicate = false
		date, err := domain.ParseDate(row.TransactionDate)
		if err != nil {
			return 0, err
		}
		for _, txn := range existing {
			if matches(*row, date, txn) {
				row.Duplicate = true
				flagged++
				break
			}
		}
	}
	return flagged, nil
}

func matches(row domain.ParsedRow, date time.Time, txn domain.Transaction) bool {
	if !row.Amount.Equal(txn.Amount) {
		return false
	}
	gap := domain.DateOf(txn.TransactionDate).Sub(date)
	if gap < 0 {
		gap = -gap
	}
	if gap > duplicateWindowDays*24*time.Hour {
		return false
	}
	a, b := descriptionPrefix(row.Description), descriptionPrefix(txn.Description)
	if a == "" || b == "" {
		return false
	}
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

// descriptionPrefix lowercases s, drops everything but letters and digits
// and keeps the first duplicatePrefixLen characters.
func descriptionPrefix(s string) string {
	var b strings.Builder
	n := 0
	for _, r := range strings.ToLower(s) {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		b.WriteRune(r)
		n++
		if n == duplicatePrefixLen {
			break
		}
	}
	return b.String()
}

// accepted returns the rows a confirmation inserts and how many were skipped.
func accepted(rows []domain.ParsedRow, excludeDuplicates bool) ([]domain.ParsedRow, int) {
	if !excludeDuplicates {
		return rows, 0
	}
	out := make([]domain.ParsedRow, 0, len(rows))
	for _, row := range rows {
		if row.Duplicate {
			continue
		}
		out = append(out, row)
	}
	return out, len(rows) - len(out)
}

func toTransaction(st *domain.StatementImport, row domain.ParsedRow) (*domain.Transaction, error) {
	date, err := domain.ParseDate(row.TransactionDate)
	if err != nil {
		return nil, err
	}
	source := st.ID
	txn := &domain.Transaction{
		ID:              uuid.New(),
		UserID:          st.UserID,
		AccountID:       st.AccountID,
		CategoryID:      row.CategoryID,
		Type:            row.Type,
		Amount:          row.Amount,
		Description:     row.Description,
		Notes:           row.Notes,
		TransactionDate: date,
		Source:          domain.SourceStatementImport,
		SourceID:        &source,
	}
	if err := txn.Validate(); err != nil {
		return nil, err
	}
	return txn, nil
}
