// Package domain holds the ledger ingestion model: accounts, transactions,
// import batches with their row verdicts, statement imports, recurring
// definitions, and job definitions with their executions and steps.
//
// Lifecycle rules live on the types themselves (MarkImporting, StartStep,
// FailStep, Transition); stores only persist the result.
package domain
