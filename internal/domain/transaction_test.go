package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func validTransaction() Transaction {
	return Transaction{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		AccountID:       uuid.New(),
		Type:            TransactionTypeExpense,
		Amount:          decimal.RequireFromString("42.10"),
		Description:     "Coffee",
		TransactionDate: date(2024, time.March, 1),
		Source:          SourceManual,
	}
}

func TestTransactionValidate(t *testing.T) {
	t.Parallel()

	txn := validTransaction()
	if err := txn.Validate(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Transaction)
		want   error
	}{
		{"missing id", func(x *Transaction) { x.ID = uuid.Nil }, ErrInvalidID},
		{"missing account", func(x *Transaction) { x.AccountID = uuid.Nil }, ErrInvalidID},
		{"bad type", func(x *Transaction) { x.Type = "REFUND" }, ErrInvalidTransactionType},
		{"zero amount", func(x *Transaction) { x.Amount = decimal.Zero }, ErrInvalidAmount},
		{"negative amount", func(x *Transaction) { x.Amount = decimal.NewFromInt(-5) }, ErrInvalidAmount},
		{"blank description", func(x *Transaction) { x.Description = "  " }, ErrValidation},
		{"missing date", func(x *Transaction) { x.TransactionDate = time.Time{} }, ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := validTransaction()
			tt.mutate(&x)
			if err := x.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestBalanceDeltas(t *testing.T) {
	t.Parallel()

	amount := decimal.RequireFromString("10.00")
	dest := uuid.New()

	income := validTransaction()
	income.Type = TransactionTypeIncome
	income.Amount = amount
	d := income.BalanceDeltas()
	if len(d) != 1 || !d[0].Amount.Equal(amount) {
		t.Errorf("Expected single +10 delta, got %+v", d)
	}

	expense := validTransaction()
	expense.Amount = amount
	d = expense.BalanceDeltas()
	if len(d) != 1 || !d[0].Amount.Equal(amount.Neg()) {
		t.Errorf("Expected single -10 delta, got %+v", d)
	}

	transfer := validTransaction()
	transfer.Type = TransactionTypeTransfer
	transfer.Amount = amount
	transfer.TransferAccountID = &dest
	d = transfer.BalanceDeltas()
	if len(d) != 2 {
		t.Fatalf("Expected two deltas for transfer, got %d", len(d))
	}
	if d[0].AccountID != transfer.AccountID || !d[0].Amount.Equal(amount.Neg()) {
		t.Errorf("Expected source debit, got %+v", d[0])
	}
	if d[1].AccountID != dest || !d[1].Amount.Equal(amount) {
		t.Errorf("Expected destination credit, got %+v", d[1])
	}

	sum := decimal.Zero
	for _, x := range d {
		sum = sum.Add(x.Amount)
	}
	if !sum.IsZero() {
		t.Errorf("Transfer deltas must net to zero, got %s", sum)
	}

	// Transfer without a destination only debits the source.
	transfer.TransferAccountID = nil
	if d = transfer.BalanceDeltas(); len(d) != 1 {
		t.Errorf("Expected one delta without destination, got %d", len(d))
	}
}

func TestParseTransactionType(t *testing.T) {
	t.Parallel()

	got, err := ParseTransactionType(" income ")
	if err != nil || got != TransactionTypeIncome {
		t.Errorf("Expected INCOME, got %q (%v)", got, err)
	}
	if _, err := ParseTransactionType("REFUND"); err != ErrInvalidTransactionType {
		t.Errorf("Expected %v, got %v", ErrInvalidTransactionType, err)
	}
}

func TestParseDate(t *testing.T) {
	t.Parallel()

	got, err := ParseDate("2024-02-29")
	if err != nil || !got.Equal(date(2024, time.February, 29)) {
		t.Errorf("Expected 2024-02-29, got %s (%v)", got, err)
	}
	for _, bad := range []string{"2023-02-29", "29/02/2024", "", "2024-2-1"} {
		if _, err := ParseDate(bad); !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("%q: expected %v, got %v", bad, ErrInvalidFormat, err)
		}
	}
}

func TestMatchMerchant(t *testing.T) {
	t.Parallel()

	mappings := []MerchantMapping{
		{Pattern: "amazon", CategoryName: "Shopping"},
		{Pattern: "amazon prime", CategoryName: "Subscriptions"},
		{Pattern: " ", CategoryName: "Ignored"},
	}

	m, ok := MatchMerchant(mappings, "AMAZON PRIME*2X4 Seattle")
	if !ok || m.CategoryName != "Subscriptions" {
		t.Errorf("Expected longest pattern to win, got %+v (%v)", m, ok)
	}
	m, ok = MatchMerchant(mappings, "Amazon.co.uk order")
	if !ok || m.CategoryName != "Shopping" {
		t.Errorf("Expected Shopping, got %+v (%v)", m, ok)
	}
	if _, ok = MatchMerchant(mappings, "Tesco"); ok {
		t.Error("Expected no match")
	}
}
