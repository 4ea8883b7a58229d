package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Frequency is how often a recurring definition fires.
type Frequency string

// Supported frequencies
const (
	FrequencyMonthly   Frequency = "MONTHLY"
	FrequencyQuarterly Frequency = "QUARTERLY"
	FrequencyYearly    Frequency = "YEARLY"
)

// Months returns the number of calendar months between occurrences.
func (f Frequency) Months() int {
	switch f {
	case FrequencyQuarterly:
		return 3
	case FrequencyYearly:
		return 12
	default:
		return 1
	}
}

// Valid reports whether f is a supported frequency.
func (f Frequency) Valid() bool {
	return f == FrequencyMonthly || f == FrequencyQuarterly || f == FrequencyYearly
}

// RecurringStatus is the lifecycle state of a recurring definition.
type RecurringStatus string

// Recurring status values
const (
	RecurringStatusActive RecurringStatus = "ACTIVE"
	RecurringStatusPaused RecurringStatus = "PAUSED"
)

// RecurringDefinition is a template that periodically generates ledger
// transactions on a fixed day of the month.
type RecurringDefinition struct {
	ID                uuid.UUID       `json:"id"`
	UserID            uuid.UUID       `json:"user_id"`
	AccountID         uuid.UUID       `json:"account_id"`
	CategoryID        *uuid.UUID      `json:"category_id,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Type              TransactionType `json:"type"`
	Description       string          `json:"description"`
	Frequency         Frequency       `json:"frequency"`
	DayOfMonth        int             `json:"day_of_month"`
	StartDate         time.Time       `json:"start_date"`
	EndDate           *time.Time      `json:"end_date,omitempty"`
	Status            RecurringStatus `json:"status"`
	NextExecutionDate time.Time       `json:"next_execution_date"`
	LastExecutedAt    *time.Time      `json:"last_executed_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Validate checks the fields a definition needs before it can be scheduled.
func (d *RecurringDefinition) Validate() error {
	if d.UserID == uuid.Nil {
		return NewValidationError("user_id", "cannot be empty", ErrInvalidID)
	}
	if d.AccountID == uuid.Nil {
		return NewValidationError("account_id", "cannot be empty", ErrInvalidID)
	}
	if !d.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !d.Type.Valid() {
		return ErrInvalidTransactionType
	}
	if !d.Frequency.Valid() {
		return NewValidationError("frequency", "must be MONTHLY, QUARTERLY or YEARLY", nil)
	}
	if d.DayOfMonth < 1 || d.DayOfMonth > 31 {
		return NewValidationError("day_of_month", "must be between 1 and 31", nil)
	}
	if strings.TrimSpace(d.Description) == "" {
		return NewValidationError("description", "cannot be empty", nil)
	}
	if d.EndDate != nil && DateOf(*d.EndDate).Before(DateOf(d.StartDate)) {
		return NewValidationError("end_date", "cannot precede start_date", nil)
	}
	return nil
}

// Expired reports whether date lies past the definition's validity window.
func (d *RecurringDefinition) Expired(date time.Time) bool {
	return d.EndDate != nil && DateOf(date).After(DateOf(*d.EndDate))
}

// NextExecutionAfter computes the occurrence that follows a run on today.
//
// While the start date is still ahead, the first anchored day on or after
// the start is returned. Otherwise the anchored day of the month of the
// current due date is tried and advanced by whole frequency steps until it
// is strictly after today. The anchor is clamped to each month's length, so
// day 31 lands on the 28th or 29th in February.
func (d *RecurringDefinition) NextExecutionAfter(today time.Time) time.Time {
	today = DateOf(today)
	start := DateOf(d.StartDate)
	step := d.Frequency.Months()

	if start.After(today) {
		candidate := AnchoredDate(start.Year(), start.Month(), d.DayOfMonth)
		if candidate.Before(start) {
			candidate = addMonthsAnchored(candidate, step, d.DayOfMonth)
		}
		return candidate
	}

	base := today
	if !d.NextExecutionDate.IsZero() && !DateOf(d.NextExecutionDate).After(today) {
		base = DateOf(d.NextExecutionDate)
	}
	candidate := AnchoredDate(base.Year(), base.Month(), d.DayOfMonth)
	for !candidate.After(today) {
		candidate = addMonthsAnchored(candidate, step, d.DayOfMonth)
	}
	return candidate
}

// AnchoredDate returns day in the given month, clamped to the month's last day.
func AnchoredDate(year int, month time.Month, day int) time.Time {
	last := daysIn(year, month)
	if day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func addMonthsAnchored(from time.Time, months int, day int) time.Time {
	// Step from the first of the month so time.AddDate never normalizes
	// Jan 31 + 1 month into March.
	first := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, months, 0)
	return AnchoredDate(first.Year(), first.Month(), day)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
