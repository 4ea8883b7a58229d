package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BatchStatus is the lifecycle state of a CSV import batch.
type BatchStatus string

// Batch status values
const (
	BatchStatusPending   BatchStatus = "PENDING"
	BatchStatusValidated BatchStatus = "VALIDATED"
	BatchStatusImporting BatchStatus = "IMPORTING"
	BatchStatusCompleted BatchStatus = "COMPLETED"
	BatchStatusFailed    BatchStatus = "FAILED"
)

// RowStatus is the classification of one uploaded CSV row.
type RowStatus string

// Row classification values
const (
	RowStatusValid     RowStatus = "VALID"
	RowStatusDuplicate RowStatus = "DUPLICATE"
	RowStatusError     RowStatus = "ERROR"
)

// RowVerdict is the persisted validation result for one data row.
type RowVerdict struct {
	RowNumber    int              `json:"row_number"`
	Status       RowStatus        `json:"status"`
	Errors       []string         `json:"errors,omitempty"`
	Date         string           `json:"date,omitempty"`
	Amount       *decimal.Decimal `json:"amount,omitempty"`
	Type         TransactionType  `json:"type,omitempty"`
	Description  string           `json:"description,omitempty"`
	CategoryName string           `json:"category_name,omitempty"`
	CategoryID   *uuid.UUID       `json:"category_id,omitempty"`
	Notes        string           `json:"notes,omitempty"`
	Tags         []string         `json:"tags,omitempty"`
}

// ImportBatch is one user-initiated bulk CSV import attempt.
type ImportBatch struct {
	ID             uuid.UUID    `json:"id"`
	UserID         uuid.UUID    `json:"user_id"`
	AccountID      uuid.UUID    `json:"account_id"`
	FileName       string       `json:"file_name"`
	FileSize       int64        `json:"file_size"`
	TotalRows      int          `json:"total_rows"`
	ValidRows      int          `json:"valid_rows"`
	DuplicateRows  int          `json:"duplicate_rows"`
	ErrorRows      int          `json:"error_rows"`
	ImportedRows   int          `json:"imported_rows"`
	Status         BatchStatus  `json:"status"`
	RawContent     string       `json:"-"`
	Verdicts       []RowVerdict `json:"verdicts,omitempty"`
	SkipDuplicates bool         `json:"skip_duplicates"`
	JobExecutionID *uuid.UUID   `json:"job_execution_id,omitempty"`
	ErrorMessage   string       `json:"error_message,omitempty"`
	ClaimExpiresAt *time.Time   `json:"-"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
}

// ApplyVerdicts stores verdicts and recomputes the row counters.
func (b *ImportBatch) ApplyVerdicts(verdicts []RowVerdict) {
	b.Verdicts = verdicts
	b.TotalRows = len(verdicts)
	b.ValidRows, b.DuplicateRows, b.ErrorRows = 0, 0, 0
	for _, v := range verdicts {
		switch v.Status {
		case RowStatusValid:
			b.ValidRows++
		case RowStatusDuplicate:
			b.DuplicateRows++
		case RowStatusError:
			b.ErrorRows++
		}
	}
}

// Terminal reports whether the batch has reached COMPLETED or FAILED.
func (b *ImportBatch) Terminal() bool {
	return b.Status == BatchStatusCompleted || b.Status == BatchStatusFailed
}

// MarkImporting moves a validated batch into the async phase.
func (b *ImportBatch) MarkImporting(skipDuplicates bool) error {
	if b.Status != BatchStatusValidated {
		return ErrInvalidStatusTransition
	}
	b.Status = BatchStatusImporting
	b.SkipDuplicates = skipDuplicates
	b.UpdatedAt = time.Now().UTC()
	return nil
}
