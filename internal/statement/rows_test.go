package statement

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptionPrefix(t *testing.T) {
	assert.Equal(t, "cornermarket", descriptionPrefix("CORNER MARKET #123 Springfield"))
	assert.Equal(t, "amzn", descriptionPrefix("  AMZN*  "))
	assert.Equal(t, "", descriptionPrefix("*** --"))
	assert.Equal(t, "caféparis", descriptionPrefix("Café-Paris"))
}

func TestMatches_Window(t *testing.T) {
	row := domain.ParsedRow{Amount: dec("42.10"), Description: "Corner Market 123", TransactionDate: "2024-03-10"}
	date, err := domain.ParseDate(row.TransactionDate)
	require.NoError(t, err)

	existing := func(day int, amount, description string) domain.Transaction {
		return domain.Transaction{
			Amount:          dec(amount),
			Description:     description,
			TransactionDate: time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC),
		}
	}

	cases := []struct {
		name string
		txn  domain.Transaction
		want bool
	}{
		{"same day", existing(10, "42.10", "CORNER MARKET"), true},
		{"day before", existing(9, "42.1", "corner market #9"), true},
		{"day after", existing(11, "42.10", "Corner Market"), true},
		{"different description", existing(10, "42.10", "Corner Mkt"), false},
		{"two days after", existing(12, "42.10", "Corner Market"), false},
		{"different amount", existing(10, "42.11", "Corner Market"), false},
		{"short shared prefix", existing(10, "42.10", "Corner"), true},
		{"no letters", existing(10, "42.10", "###"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, matches(row, date, tc.txn))
		})
	}
}

func TestCategorize(t *testing.T) {
	userID := uuid.New()
	groceries := domain.Category{ID: uuid.New(), UserID: userID, Name: "Groceries", Type: domain.TransactionTypeExpense}
	dining := domain.Category{ID: uuid.New(), UserID: userID, Name: "Dining", Type: domain.TransactionTypeExpense}
	rule := domain.MerchantMapping{ID: uuid.New(), UserID: userID, Pattern: "market", CategoryID: dining.ID, CategoryName: dining.Name}

	rows := []domain.ParsedRow{
		{Type: domain.TransactionTypeExpense, Description: "Corner Market", CategoryName: "Groceries"},
		{Type: domain.TransactionTypeExpense, Description: "Bakery", CategoryName: "groceries "},
		{Type: domain.TransactionTypeIncome, Description: "Refund", CategoryName: "Groceries"},
		{Type: domain.TransactionTypeExpense, Description: "Cinema", CategoryName: "Entertainment"},
	}
	categorize(rows, []domain.Category{groceries, dining}, []domain.MerchantMapping{rule})

	require.NotNil(t, rows[0].CategoryID)
	assert.Equal(t, dining.ID, *rows[0].CategoryID)
	assert.True(t, rows[0].MappedByRule)

	require.NotNil(t, rows[1].CategoryID)
	assert.Equal(t, groceries.ID, *rows[1].CategoryID)
	assert.Equal(t, "Groceries", rows[1].CategoryName)

	assert.Nil(t, rows[2].CategoryID, "category types must match")
	assert.Empty(t, rows[2].CategoryName)
	assert.Nil(t, rows[3].CategoryID)
}

func TestAccepted(t *testing.T) {
	rows := []domain.ParsedRow{{Description: "a"}, {Description: "b", Duplicate: true}}

	kept, skipped := accepted(rows, true)
	assert.Len(t, kept, 1)
	assert.Equal(t, 1, skipped)

	kept, skipped = accepted(rows, false)
	assert.Len(t, kept, 2)
	assert.Zero(t, skipped)
}
