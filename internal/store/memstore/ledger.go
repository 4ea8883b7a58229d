package memstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/store"
	"github.com/shopspring/decimal"
)

type accountView struct{ *view }

func (v accountView) GetByID(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	defer v.lock()()
	a, ok := v.s.d.accounts[id]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	return &a, nil
}

func (v accountView) ApplyDelta(_ context.Context, id uuid.UUID, delta decimal.Decimal) error {
	defer v.lock()()
	a, ok := v.s.d.accounts[id]
	if !ok {
		return store.ErrAccountNotFound
	}
	a.Balance = a.Balance.Add(delta)
	a.UpdatedAt = v.now()
	v.s.d.accounts[id] = a
	return nil
}

type categoryView struct{ *view }

func (v categoryView) ListByUser(_ context.Context, userID uuid.UUID) ([]domain.Category, error) {
	defer v.lock()()
	var out []domain.Category
	for _, c := range v.s.d.categories {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type mappingView struct{ *view }

func (v mappingView) ListByUser(_ context.Context, userID uuid.UUID) ([]domain.MerchantMapping, error) {
	defer v.lock()()
	var out []domain.MerchantMapping
	for _, m := range v.s.d.mappings {
		if m.UserID != userID {
			continue
		}
		if c, ok := v.s.d.categories[m.CategoryID]; ok {
			m.CategoryName = c.Name
		}
		out = append(out, m)
	}
	return out, nil
}

type transactionView struct{ *view }

func (v transactionView) Create(_ context.Context, txn *domain.Transaction) error {
	defer v.lock()()
	if f := v.s.Faults.CreateTransaction; f != nil {
		if err := f(txn); err != nil {
			return err
		}
	}
	if _, exists := v.s.d.transactions[txn.ID]; exists {
		return store.ErrDuplicate
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = v.now()
	}
	v.s.d.transactions[txn.ID] = cloneTransaction(*txn)
	return nil
}

func (v transactionView) GetByID(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	defer v.lock()()
	t, ok := v.s.d.transactions[id]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	t = cloneTransaction(t)
	return &t, nil
}

func (v transactionView) Delete(_ context.Context, id uuid.UUID) error {
	defer v.lock()()
	if _, ok := v.s.d.transactions[id]; !ok {
		return store.ErrTransactionNotFound
	}
	delete(v.s.d.transactions, id)
	return nil
}

func (v transactionView) ExistsExact(_ context.Context, key store.DuplicateKey) (bool, error) {
	defer v.lock()()
	date := domain.DateOf(key.Date)
	desc := strings.TrimSpace(key.Description)
	for _, t := range v.s.d.transactions {
		if t.UserID == key.UserID &&
			t.AccountID == key.AccountID &&
			domain.DateOf(t.TransactionDate).Equal(date) &&
			t.Amount.Equal(key.Amount) &&
			strings.EqualFold(strings.TrimSpace(t.Description), desc) {
			return true, nil
		}
	}
	return false, nil
}

func (v transactionView) ListInRange(_ context.Context, userID, accountID uuid.UUID, from, to time.Time) ([]domain.Transaction, error) {
	defer v.lock()()
	from, to = domain.DateOf(from), domain.DateOf(to)
	var out []domain.Transaction
	for _, t := range v.s.d.transactions {
		d := domain.DateOf(t.TransactionDate)
		if t.UserID == userID && t.AccountID == accountID && !d.Before(from) && !d.After(to) {
			out = append(out, cloneTransaction(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionDate.Before(out[j].TransactionDate) })
	return out, nil
}

func (v transactionView) CountBySource(_ context.Context, source domain.TransactionSource, sourceID uuid.UUID) (int, error) {
	defer v.lock()()
	n := 0
	for _, t := range v.s.d.transactions {
		if t.Source == source && t.SourceID != nil && *t.SourceID == sourceID {
			n++
		}
	}
	return n, nil
}
