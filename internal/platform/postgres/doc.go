// Package postgres implements the internal/store repositories on PostgreSQL
// through database/sql and the pgx driver.
//
// Every store is built over a store.DBTX, so the same code serves
// auto-committing calls on the pool and calls bound to a transaction opened
// by Transactor.InTx. Balance adjustment and stuck-batch claiming are single
// statements, which keeps them safe against concurrent workers without
// application-level locks.
//
// The schema lives in migrations/ and is embedded into the binary; Migrate
// applies it with goose.
package postgres
