package models

import (
	"fmt"
	"math"
	"time"
)

// BudgetPeriod is the recurrence window a budget limit applies to.
type BudgetPeriod string

const (
	PeriodMonthly BudgetPeriod = "monthly"
	PeriodWeekly  BudgetPeriod = "weekly"
)

// Transaction is a single recorded expense or income item.
// Amounts are stored as integer cents; negative amounts denote income.
type Transaction struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Description string    `json:"description"`
	AmountCents int64     `json:"amount_cents"`
	CategoryID  string    `json:"category_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Category is a user-defined spending category.
type Category struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Budget caps spending for a category over a recurring period.
type Budget struct {
	ID         string       `json:"id"`
	UserID     string       `json:"user_id"`
	Name       string       `json:"name"`
	CategoryID string       `json:"category_id"`
	LimitCents int64        `json:"limit_cents"`
	Period     BudgetPeriod `json:"period"`
	Active     bool         `json:"active"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// DollarsToCents converts a decimal dollar amount to integer cents,
// rounding half away from zero.
func DollarsToCents(dollars float64) int64 {
	return int64(math.Round(dollars * 100))
}

// FormatCents renders integer cents as a dollar string, e.g. "$12.50".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
