package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StatementStatus is the lifecycle state of an uploaded statement.
type StatementStatus string

// Statement status values, in pipeline order.
const (
	StatementStatusUploaded       StatementStatus = "UPLOADED"
	StatementStatusTextExtracted  StatementStatus = "TEXT_EXTRACTED"
	StatementStatusSentForParsing StatementStatus = "SENT_FOR_PARSING"
	StatementStatusParsed         StatementStatus = "PARSED"
	StatementStatusConfirming     StatementStatus = "CONFIRMING"
	StatementStatusCompleted      StatementStatus = "COMPLETED"
	StatementStatusFailed         StatementStatus = "FAILED"
)

// Step returns the pipeline step counter for a status. FAILED keeps
// whatever step the statement reached.
func (s StatementStatus) Step() int {
	switch s {
	case StatementStatusUploaded:
		return 1
	case StatementStatusTextExtracted:
		return 2
	case StatementStatusSentForParsing:
		return 3
	case StatementStatusParsed:
		return 4
	case StatementStatusConfirming:
		return 5
	case StatementStatusCompleted:
		return 6
	default:
		return 0
	}
}

// ParsedRow is one transaction extracted from a statement.
type ParsedRow struct {
	Amount          decimal.Decimal `json:"amount"`
	Type            TransactionType `json:"type"`
	Description     string          `json:"description"`
	TransactionDate string          `json:"transactionDate"`
	CategoryName    string          `json:"categoryName"`
	CategoryID      *uuid.UUID      `json:"categoryId,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	Duplicate       bool            `json:"duplicate"`
	MappedByRule    bool            `json:"mappedByRule,omitempty"`
}

// StatementImport is one uploaded PDF being parsed into transactions.
type StatementImport struct {
	ID                uuid.UUID       `json:"id"`
	UserID            uuid.UUID       `json:"user_id"`
	AccountID         uuid.UUID       `json:"account_id"`
	FileName          string          `json:"file_name"`
	ArchiveURI        string          `json:"archive_uri,omitempty"`
	Status            StatementStatus `json:"status"`
	CurrentStep       int             `json:"current_step"`
	ExtractedText     string          `json:"-"`
	ParsedRows        []ParsedRow     `json:"parsed_rows,omitempty"`
	ParsedCount       int             `json:"parsed_count"`
	DuplicateCount    int             `json:"duplicate_count"`
	ImportedCount     int             `json:"imported_count"`
	ExcludeDuplicates bool            `json:"exclude_duplicates"`
	JobExecutionID    *uuid.UUID      `json:"job_execution_id,omitempty"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Transition moves the statement to next, updating the step counter.
func (s *StatementImport) Transition(next StatementStatus) {
	s.Status = next
	if step := next.Step(); step > 0 {
		s.CurrentStep = step
	}
	if next != StatementStatusFailed {
		s.ErrorMessage = ""
	}
	s.UpdatedAt = time.Now().UTC()
}

// Fail records a terminal failure with a message.
func (s *StatementImport) Fail(message string) {
	s.Status = StatementStatusFailed
	s.ErrorMessage = message
	s.UpdatedAt = time.Now().UTC()
}

// SetParsedRows stores rows and recomputes the counters.
func (s *StatementImport) SetParsedRows(rows []ParsedRow) {
	s.ParsedRows = rows
	s.ParsedCount = len(rows)
	s.DuplicateCount = 0
	for _, r := range rows {
		if r.Duplicate {
			s.DuplicateCount++
		}
	}
}
