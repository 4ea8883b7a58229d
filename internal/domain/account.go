package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account is a user's ledger account. Only the balance is mutated here;
// everything else is owned by the accounts collaborator.
type Account struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Category is a user-defined transaction category scoped by type.
type Category struct {
	ID     uuid.UUID       `json:"id"`
	UserID uuid.UUID       `json:"user_id"`
	Name   string          `json:"name"`
	Type   TransactionType `json:"type"`
}

// MerchantMapping forces transactions whose description contains Pattern
// into CategoryName, regardless of what the model suggested.
type MerchantMapping struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	Pattern      string    `json:"pattern"`
	CategoryID   uuid.UUID `json:"category_id"`
	CategoryName string    `json:"category_name"`
}

// MatchMerchant returns the mapping that applies to description, if any.
// Matching is a case-insensitive substring test and the longest pattern wins.
func MatchMerchant(mappings []MerchantMapping, description string) (MerchantMapping, bool) {
	desc := strings.ToLower(description)
	candidates := make([]MerchantMapping, 0, len(mappings))
	for _, m := range mappings {
		p := strings.ToLower(strings.TrimSpace(m.Pattern))
		if p != "" && strings.Contains(desc, p) {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return MerchantMapping{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return len(strings.TrimSpace(candidates[i].Pattern)) > len(strings.TrimSpace(candidates[j].Pattern))
	})
	return candidates[0], true
}
