package memstore

import (
	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/shopspring/decimal"
)

// AddAccount stores an account owned by the accounts collaborator.
func (s *Store) AddAccount(a domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.accounts[a.ID] = a
}

// Balance returns the current balance of an account, or zero.
func (s *Store) Balance(id uuid.UUID) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.accounts[id].Balance
}

// AddCategory stores a category.
func (s *Store) AddCategory(c domain.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.categories[c.ID] = c
}

// AddMapping stores a merchant mapping.
func (s *Store) AddMapping(m domain.MerchantMapping) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.mappings = append(s.d.mappings, m)
}

// SetUserKey stores a user's own LLM API key.
func (s *Store) SetUserKey(userID uuid.UUID, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.userKeys[userID] = key
}

// SetSharedKey stores the administrator key and its sharing flag.
func (s *Store) SetSharedKey(key string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.sharedKey = key
	s.d.sharedOn = enabled
}

// Transactions returns a copy of every stored ledger transaction.
func (s *Store) Transactions() []domain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Transaction, 0, len(s.d.transactions))
	for _, t := range s.d.transactions {
		out = append(out, cloneTransaction(t))
	}
	return out
}

// PutBatch stores a batch as-is, bypassing validation. Tests use it to
// stage batches in states the pipelines would only reach after a crash.
func (s *Store) PutBatch(b domain.ImportBatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.batches[b.ID] = cloneBatch(b)
}

// PutExecution stores an execution as-is.
func (s *Store) PutExecution(e *domain.JobExecution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.executions[e.ID] = cloneExecution(e)
}
