package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/pocketsage/pocketsage/internal/finance"
	"github.com/pocketsage/pocketsage/pkg/models"
)

// NewCatalog builds the tool catalog over the finance facade. The catalog is
// defined once at startup; descriptors are the single source of truth for
// both the model-facing contract and dispatcher-side validation.
func NewCatalog(svc finance.Service) []Tool {
	return []Tool{
		addTransactionTool(svc),
		updateTransactionTool(svc),
		deleteTransactionTool(svc),
		createCategoryTool(svc),
		createBudgetTool(svc),
		updateBudgetTool(svc),
		spendingSummaryTool(svc),
	}
}

func addTransactionTool(svc finance.Service) Tool {
	return Tool{
		Descriptor: Descriptor{
			Name:        "add_transaction",
			Description: "Record a new transaction for the user. Positive amounts are expenses, negative amounts are income.",
			Params: []Param{
				{Name: "description", Type: TypeString, Description: "What the transaction was for", Required: true},
				{Name: "amount", Type: TypeNumber, Description: "Amount in dollars; positive for expenses, negative for income", Required: true},
				{Name: "category_id", Type: TypeString, Description: "ID of an existing category", Required: true},
				{Name: "occurred_at", Type: TypeString, Description: "Date of the transaction (YYYY-MM-DD); defaults to today"},
			},
		},
		Handler: func(ctx context.Context, userID string, args map[string]any) (any, error) {
			p := finance.AddTransactionParams{
				Description: stringArg(args, "description"),
				AmountCents: models.DollarsToCents(numberArg(args, "amount")),
				CategoryID:  stringArg(args, "category_id"),
			}
			if raw := stringArg(args, "occurred_at"); raw != "" {
				occurred, err := parseDate(raw)
				if err != nil {
					return nil, err
				}
				p.OccurredAt = occurred
			}
			tx, err := svc.AddTransaction(ctx, userID, p)
			if err != nil {
				return nil, err
			}
			return transactionData(tx), nil
		},
	}
}

func updateTransactionTool(svc finance.Service) Tool {
	return Tool{
		Descriptor: Descriptor{
			Name:        "update_transaction",
			Description: "Change one or more fields of an existing transaction.",
			Params: []Param{
				{Name: "transaction_id", Type: TypeString, Description: "ID of the transaction to update", Required: true},
				{Name: "description", Type: TypeString, Description: "New description"},
				{Name: "amount", Type: TypeNumber, Description: "New amount in dollars"},
				{Name: "category_id", Type: TypeString, Description: "New category ID"},
				{Name: "occurred_at", Type: TypeString, Description: "New date (YYYY-MM-DD)"},
			},
		},
		MutableFields: []string{"description", "amount", "category_id", "occurred_at"},
		Handler: func(ctx context.Context, userID string, args map[string]any) (any, error) {
			var p finance.UpdateTransactionParams
			if v, ok := args["description"]; ok {
				s := v.(string)
				p.Description = &s
			}
			if v, ok := args["amount"]; ok {
				cents := models.DollarsToCents(v.(float64))
				p.AmountCents = &cents
			}
			if v, ok := args["category_id"]; ok {
				s := v.(string)
				p.CategoryID = &s
			}
			if v, ok := args["occurred_at"]; ok {
				occurred, err := parseDate(v.(string))
				if err != nil {
					return nil, err
				}
				p.OccurredAt = &occurred
			}
			tx, err := svc.UpdateTransaction(ctx, userID, stringArg(args, "transaction_id"), p)
			if err != nil {
				return nil, err
			}
			return transactionData(tx), nil
		},
	}
}

func deleteTransactionTool(svc finance.Service) Tool {
	return Tool{
		Descriptor: Descriptor{
			Name:        "delete_transaction",
			Description: "Delete a transaction by its ID.",
			Params: []Param{
				{Name: "transaction_id", Type: TypeString, Description: "ID of the transaction to delete", Required: true},
			},
		},
		Handler: func(ctx context.Context, userID string, args map[string]any) (any, error) {
			id := stringArg(args, "transaction_id")
			if err := svc.DeleteTransaction(ctx, userID, id); err != nil {
				return nil, err
			}
			return map[string]any{"deleted": id}, nil
		},
	}
}

func createCategoryTool(svc finance.Service) Tool {
	return Tool{
		Descriptor: Descriptor{
			Name:        "create_category",
			Description: "Create a new spending category for the user.",
			Params: []Param{
				{Name: "name", Type: TypeString, Description: "Category name; must be unique for the user", Required: true},
			},
		},
		Handler: func(ctx context.Context, userID string, args map[string]any) (any, error) {
			cat, err := svc.CreateCategory(ctx, userID, stringArg(args, "name"))
			if err != nil {
				return nil, err
			}
			return map[string]any{"id": cat.ID, "name": cat.Name}, nil
		},
	}
}

func createBudgetTool(svc finance.Service) Tool {
	return Tool{
		Descriptor: Descriptor{
			Name:        "create_budget",
			Description: "Create a spending budget for an existing category.",
			Params: []Param{
				{Name: "name", Type: TypeString, Description: "Budget name; must be unique for the user", Required: true},
				{Name: "category_id", Type: TypeString, Description: "ID of the category the budget covers", Required: true},
				{Name: "amount_limit", Type: TypeNumber, Description: "Spending limit in dollars", Required: true},
				{Name: "period", Type: TypeString, Description: "Budget period; defaults to monthly", Enum: []string{"monthly", "weekly"}},
			},
		},
		Handler: func(ctx context.Context, userID string, args map[string]any) (any, error) {
			period := models.PeriodMonthly
			if raw := stringArg(args, "period"); raw != "" {
				period = models.BudgetPeriod(raw)
			}
			b, err := svc.CreateBudget(ctx, userID, finance.CreateBudgetParams{
				Name:       stringArg(args, "name"),
				CategoryID: stringArg(args, "category_id"),
				LimitCents: models.DollarsToCents(numberArg(args, "amount_limit")),
				Period:     period,
			})
			if err != nil {
				return nil, err
			}
			return budgetData(b), nil
		},
	}
}

func updateBudgetTool(svc finance.Service) Tool {
	return Tool{
		Descriptor: Descriptor{
			Name:        "update_budget",
			Description: "Change the limit, period or active state of an existing budget, looked up by name.",
			Params: []Param{
				{Name: "budget_name", Type: TypeString, Description: "Name of the budget to update", Required: true},
				{Name: "amount_limit", Type: TypeNumber, Description: "New spending limit in dollars"},
				{Name: "period", Type: TypeString, Description: "New budget period", Enum: []string{"monthly", "weekly"}},
				{Name: "active", Type: TypeBoolean, Description: "Whether the budget is active"},
			},
		},
		MutableFields: []string{"amount_limit", "period", "active"},
		Handler: func(ctx context.Context, userID string, args map[string]any) (any, error) {
			var p finance.UpdateBudgetParams
			if v, ok := args["amount_limit"]; ok {
				cents := models.DollarsToCents(v.(float64))
				p.LimitCents = &cents
			}
			if v, ok := args["period"]; ok {
				period := models.BudgetPeriod(v.(string))
				p.Period = &period
			}
			if v, ok := args["active"]; ok {
				active := v.(bool)
				p.Active = &active
			}
			b, err := svc.UpdateBudget(ctx, userID, stringArg(args, "budget_name"), p)
			if err != nil {
				return nil, err
			}
			return budgetData(b), nil
		},
	}
}

func spendingSummaryTool(svc finance.Service) Tool {
	return Tool{
		Descriptor: Descriptor{
			Name:        "get_spending_summary",
			Description: "Total spending over a recent window of days. Without arguments, returns month-to-date spending.",
			Params: []Param{
				{Name: "days", Type: TypeInteger, Description: "Window size in days; omit for month-to-date"},
			},
		},
		Handler: func(ctx context.Context, userID string, args map[string]any) (any, error) {
			now := time.Now().UTC()
			since := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
			if v, ok := args["days"]; ok {
				days := int(v.(float64))
				if days <= 0 {
					return nil, finance.NewDomainError("days must be positive")
				}
				since = now.AddDate(0, 0, -days)
			}
			total, err := svc.SpendSince(ctx, userID, since)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"total_cents": total,
				"total":       models.FormatCents(total),
				"since":       since.Format("2006-01-02"),
			}, nil
		},
	}
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func numberArg(args map[string]any, key string) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return 0
}

// parseDate accepts a bare date or a full RFC 3339 timestamp.
func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Time{}, finance.NewDomainError(fmt.Sprintf("invalid date %q; use YYYY-MM-DD", raw))
}

func transactionData(tx *models.Transaction) map[string]any {
	return map[string]any{
		"id":          tx.ID,
		"description": tx.Description,
		"amount":      models.FormatCents(tx.AmountCents),
		"category_id": tx.CategoryID,
		"occurred_at": tx.OccurredAt.Format("2006-01-02"),
	}
}

func budgetData(b *models.Budget) map[string]any {
	return map[string]any{
		"id":           b.ID,
		"name":         b.Name,
		"category_id":  b.CategoryID,
		"amount_limit": models.FormatCents(b.LimitCents),
		"period":       string(b.Period),
		"active":       b.Active,
	}
}
