package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DateLayout is the calendar date format used in uploads and model output.
const DateLayout = "2006-01-02"

// TransactionType classifies a ledger transaction.
type TransactionType string

// Transaction types
const (
	TransactionTypeIncome   TransactionType = "INCOME"
	TransactionTypeExpense  TransactionType = "EXPENSE"
	TransactionTypeTransfer TransactionType = "TRANSFER"
)

// ParseTransactionType normalizes s and checks it against the fixed enum.
func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", ErrInvalidTransactionType
	}
	return t, nil
}

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeIncome, TransactionTypeExpense, TransactionTypeTransfer:
		return true
	default:
		return false
	}
}

// TransactionSource records which pipeline created a ledger transaction.
type TransactionSource string

// Transaction sources
const (
	SourceManual          TransactionSource = "MANUAL"
	SourceCSVImport       TransactionSource = "CSV_IMPORT"
	SourceStatementImport TransactionSource = "STATEMENT_IMPORT"
	SourceRecurring       TransactionSource = "RECURRING"
)

// Transaction is a posted ledger entry. Amount is always positive; the sign
// applied to balances comes from Type.
type Transaction struct {
	ID                uuid.UUID         `json:"id"`
	UserID            uuid.UUID         `json:"user_id"`
	AccountID         uuid.UUID         `json:"account_id"`
	TransferAccountID *uuid.UUID        `json:"transfer_account_id,omitempty"`
	CategoryID        *uuid.UUID        `json:"category_id,omitempty"`
	Type              TransactionType   `json:"type"`
	Amount            decimal.Decimal   `json:"amount"`
	Description       string            `json:"description"`
	Notes             string            `json:"notes,omitempty"`
	Tags              []string          `json:"tags,omitempty"`
	TransactionDate   time.Time         `json:"transaction_date"`
	Source            TransactionSource `json:"source"`
	SourceID          *uuid.UUID        `json:"source_id,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// Validate checks the invariants every ledger entry must satisfy.
func (t *Transaction) Validate() error {
	if t.ID == uuid.Nil {
		return NewValidationError("id", "cannot be empty", ErrInvalidID)
	}
	if t.UserID == uuid.Nil {
		return NewValidationError("user_id", "cannot be empty", ErrInvalidID)
	}
	if t.AccountID == uuid.Nil {
		return NewValidationError("account_id", "cannot be empty", ErrInvalidID)
	}
	if !t.Type.Valid() {
		return ErrInvalidTransactionType
	}
	if !t.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if strings.TrimSpace(t.Description) == "" {
		return NewValidationError("description", "cannot be empty", nil)
	}
	if t.TransactionDate.IsZero() {
		return NewValidationError("transaction_date", "cannot be empty", nil)
	}
	return nil
}

// BalanceDelta is a signed change to one account balance.
type BalanceDelta struct {
	AccountID uuid.UUID
	Amount    decimal.Decimal
}

// BalanceDeltas returns the balance adjustments posting t implies.
// INCOME credits the account; EXPENSE and TRANSFER debit it, and a TRANSFER
// with a destination credits that account by the same amount.
func (t *Transaction) BalanceDeltas() []BalanceDelta {
	switch t.Type {
	case TransactionTypeIncome:
		return []BalanceDelta{{AccountID: t.AccountID, Amount: t.Amount}}
	case TransactionTypeTransfer:
		deltas := []BalanceDelta{{AccountID: t.AccountID, Amount: t.Amount.Neg()}}
		if t.TransferAccountID != nil && *t.TransferAccountID != t.AccountID {
			deltas = append(deltas, BalanceDelta{AccountID: *t.TransferAccountID, Amount: t.Amount})
		}
		return deltas
	default:
		return []BalanceDelta{{AccountID: t.AccountID, Amount: t.Amount.Neg()}}
	}
}

// SignedAmount returns the amount as it affects the source account.
func (t *Transaction) SignedAmount() decimal.Decimal {
	if t.Type == TransactionTypeIncome {
		return t.Amount
	}
	return t.Amount.Neg()
}

// DateOf truncates t to a UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a yyyy-MM-dd calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, NewValidationError("date", "must use format yyyy-MM-dd", ErrInvalidFormat)
	}
	return t, nil
}
