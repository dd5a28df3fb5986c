package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pocketsage/pocketsage/internal/finance"
	"github.com/pocketsage/pocketsage/pkg/models"
)

// FinancialContext is a point-in-time snapshot of a user's financial state,
// used to ground the model's answer. It is recomputed fresh for every
// request so it reflects the latest committed state, including tool effects
// from earlier in the same conversation.
type FinancialContext struct {
	SpendThisMonthCents int64
	RecentTransactions  []models.Transaction
	ActiveBudgets       []models.Budget
	Categories          []models.Category
}

// ContextAssembler builds FinancialContext snapshots from the domain facade.
type ContextAssembler struct {
	finance     finance.Service
	recentLimit int
}

// NewContextAssembler creates an assembler; recentLimit bounds the number of
// recent transactions included (default 10).
func NewContextAssembler(svc finance.Service, recentLimit int) *ContextAssembler {
	if recentLimit <= 0 {
		recentLimit = 10
	}
	return &ContextAssembler{finance: svc, recentLimit: recentLimit}
}

// Assemble computes the snapshot for one user.
func (a *ContextAssembler) Assemble(ctx context.Context, userID string) (*FinancialContext, error) {
	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	spend, err := a.finance.SpendSince(ctx, userID, monthStart)
	if err != nil {
		return nil, fmt.Errorf("failed to compute monthly spend: %w", err)
	}
	recent, err := a.finance.RecentTransactions(ctx, userID, a.recentLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent transactions: %w", err)
	}
	budgets, err := a.finance.ActiveBudgets(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load budgets: %w", err)
	}
	categories, err := a.finance.ListCategories(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}

	return &FinancialContext{
		SpendThisMonthCents: spend,
		RecentTransactions:  recent,
		ActiveBudgets:       budgets,
		Categories:          categories,
	}, nil
}

// Summary renders the snapshot as natural-language lines for the system
// prompt. Figures are stated in prose; the model is never asked to re-parse
// raw JSON for numbers it needs.
func (c *FinancialContext) Summary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Spending so far this month: %s.\n", models.FormatCents(c.SpendThisMonthCents))

	if len(c.Categories) == 0 {
		b.WriteString("The user has no categories yet.\n")
	} else {
		b.WriteString("Categories:\n")
		for _, cat := range c.Categories {
			fmt.Fprintf(&b, "- %s (id: %s)\n", cat.Name, cat.ID)
		}
	}

	if len(c.ActiveBudgets) == 0 {
		b.WriteString("No active budgets.\n")
	} else {
		b.WriteString("Active budgets:\n")
		for _, budget := range c.ActiveBudgets {
			fmt.Fprintf(&b, "- %s: %s %s limit (category id: %s)\n",
				budget.Name, models.FormatCents(budget.LimitCents), budget.Period, budget.CategoryID)
		}
	}

	if len(c.RecentTransactions) == 0 {
		b.WriteString("No transactions recorded yet.\n")
	} else {
		b.WriteString("Recent transactions (newest first):\n")
		for _, tx := range c.RecentTransactions {
			fmt.Fprintf(&b, "- %s for %q on %s (category id: %s, transaction id: %s)\n",
				models.FormatCents(tx.AmountCents), tx.Description,
				tx.OccurredAt.Format("2006-01-02"), tx.CategoryID, tx.ID)
		}
	}

	return b.String()
}
