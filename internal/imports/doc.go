// Package imports implements the CSV import pipeline.
//
// An upload is parsed and every row is classified on its own as VALID,
// DUPLICATE or ERROR; the batch is stored with its raw payload and verdicts.
// Confirmation moves the batch to IMPORTING and requests an async import
// once the transaction commits. The worker re-reads the raw payload, posts
// the accepted rows to the ledger and writes the terminal state back onto
// the batch and its job execution.
//
// The Sweeper resumes batches left IMPORTING without a linked execution,
// claiming each under a lease so concurrent sweeps never resume one twice.
package imports
