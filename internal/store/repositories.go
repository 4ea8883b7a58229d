package store

import "context"

// Repositories groups the stores bound to one connection or transaction.
type Repositories struct {
	Accounts     AccountStore
	Categories   CategoryStore
	Mappings     MerchantMappingStore
	Transactions TransactionStore
	Batches      ImportBatchStore
	Statements   StatementStore
	Credentials  CredentialStore
	Recurring    RecurringStore
	Jobs         JobStore
}

// RepoFn runs against repositories bound to a single transaction.
type RepoFn func(ctx context.Context, repos Repositories) error

// Transactor hands out repositories, either auto-committing or bound to a
// transaction. Hooks registered with AfterCommit inside InTx run only if
// the transaction commits.
type Transactor interface {
	// Repos returns repositories that auto-commit every call.
	Repos() Repositories

	// InTx runs fn inside a transaction, committing when it returns nil.
	InTx(ctx context.Context, fn RepoFn) error
}
