package gemini

import "github.com/shopspring/decimal"

// promptData represents the data passed to the prompt template
type promptData struct {
	StatementText string
	Categories    []promptCategory
	Rules         []promptRule
}

type promptCategory struct {
	Name string
	Type string
}

type promptRule struct {
	Pattern      string
	CategoryName string
}

// RowSchema represents a single transaction in the model's JSON array.
type RowSchema struct {
	// Amount may arrive as a JSON number or a string; the sign is advisory.
	Amount decimal.Decimal `json:"amount"`

	// Type is one of INCOME, EXPENSE or TRANSFER.
	Type string `json:"type"`

	Description string `json:"description"`

	// TransactionDate is formatted yyyy-MM-dd.
	TransactionDate string `json:"transactionDate"`

	// CategoryName should be one of the names offered in the prompt.
	CategoryName string `json:"categoryName"`

	Notes string `json:"notes,omitempty"`
}
