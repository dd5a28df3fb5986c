package finance

import (
	"context"
	"time"

	"github.com/pocketsage/pocketsage/pkg/models"
)

// Service is the domain facade over a user's transactions, categories and
// budgets. Every operation is scoped to a user; no call may read or mutate
// another user's data. Business-rule violations are returned as *DomainError.
type Service interface {
	AddTransaction(ctx context.Context, userID string, p AddTransactionParams) (*models.Transaction, error)
	UpdateTransaction(ctx context.Context, userID, id string, p UpdateTransactionParams) (*models.Transaction, error)
	DeleteTransaction(ctx context.Context, userID, id string) error
	RecentTransactions(ctx context.Context, userID string, limit int) ([]models.Transaction, error)
	SpendSince(ctx context.Context, userID string, since time.Time) (int64, error)

	CreateCategory(ctx context.Context, userID, name string) (*models.Category, error)
	ListCategories(ctx context.Context, userID string) ([]models.Category, error)
	CategoryByName(ctx context.Context, userID, name string) (*models.Category, error)

	CreateBudget(ctx context.Context, userID string, p CreateBudgetParams) (*models.Budget, error)
	UpdateBudget(ctx context.Context, userID, name string, p UpdateBudgetParams) (*models.Budget, error)
	ActiveBudgets(ctx context.Context, userID string) ([]models.Budget, error)
}

// AddTransactionParams carries the fields for a new transaction.
type AddTransactionParams struct {
	Description string
	AmountCents int64
	CategoryID  string
	OccurredAt  time.Time
}

// UpdateTransactionParams carries optional mutations; nil fields are left
// unchanged.
type UpdateTransactionParams struct {
	Description *string
	AmountCents *int64
	CategoryID  *string
	OccurredAt  *time.Time
}

// CreateBudgetParams carries the fields for a new budget.
type CreateBudgetParams struct {
	Name       string
	CategoryID string
	LimitCents int64
	Period     models.BudgetPeriod
}

// UpdateBudgetParams carries optional mutations; nil fields are left
// unchanged.
type UpdateBudgetParams struct {
	LimitCents *int64
	Period     *models.BudgetPeriod
	Active     *bool
}
