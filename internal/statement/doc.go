// Package statement implements the PDF statement pipeline.
//
// An upload is checked, its text extracted and the original archived; the
// statement then waits in TEXT_EXTRACTED. Triggering a parse resolves the
// owner's model credential, records a two step execution and requests the
// async parse after commit. The parse asks the language model for rows,
// re-applies the owner's merchant rules and flags likely duplicates before
// storing the rows as PARSED. Confirmation inserts the accepted rows the same
// way CSV imports do and ends in COMPLETED.
//
// Every failure moves the statement to FAILED with a message in the same
// transaction that records the failed step.
package statement
