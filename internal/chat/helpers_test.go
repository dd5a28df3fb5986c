package chat

import (
	"context"
	"sync"
	"time"

	"github.com/pocketsage/pocketsage/internal/finance"
	"github.com/pocketsage/pocketsage/internal/llm"
	"github.com/pocketsage/pocketsage/pkg/models"
)

// fakeGateway scripts model behavior per round and records every request.
type fakeGateway struct {
	mu           sync.Mutex
	completeFn   func(call int, req *llm.CompletionRequest) (*llm.Completion, error)
	streamFn     func(req *llm.CompletionRequest, onFragment func(string) error) error
	completeReqs []*llm.CompletionRequest
	streamReqs   []*llm.CompletionRequest
}

func (g *fakeGateway) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.Completion, error) {
	g.mu.Lock()
	g.completeReqs = append(g.completeReqs, req)
	call := len(g.completeReqs) - 1
	g.mu.Unlock()
	if g.completeFn == nil {
		return &llm.Completion{Content: "ok"}, nil
	}
	return g.completeFn(call, req)
}

func (g *fakeGateway) CompleteStream(ctx context.Context, req *llm.CompletionRequest, onFragment func(string) error) error {
	g.mu.Lock()
	g.streamReqs = append(g.streamReqs, req)
	g.mu.Unlock()
	if g.streamFn == nil {
		return onFragment("ok")
	}
	return g.streamFn(req, onFragment)
}

func (g *fakeGateway) Name() string { return "fake" }

var _ llm.Gateway = (*fakeGateway)(nil)

// fakeFinance records the order of facade calls and returns canned data.
// Individual operations can be overridden per test.
type fakeFinance struct {
	mu    sync.Mutex
	calls []string

	addTransaction func(p finance.AddTransactionParams) (*models.Transaction, error)
	createCategory func(name string) (*models.Category, error)
	spendSince     func(since time.Time) (int64, error)
}

func (f *fakeFinance) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeFinance) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeFinance) AddTransaction(ctx context.Context, userID string, p finance.AddTransactionParams) (*models.Transaction, error) {
	f.record("AddTransaction")
	if f.addTransaction != nil {
		return f.addTransaction(p)
	}
	return &models.Transaction{
		ID:          "tx-1",
		UserID:      userID,
		Description: p.Description,
		AmountCents: p.AmountCents,
		CategoryID:  p.CategoryID,
		OccurredAt:  p.OccurredAt,
	}, nil
}

func (f *fakeFinance) UpdateTransaction(ctx context.Context, userID, id string, p finance.UpdateTransactionParams) (*models.Transaction, error) {
	f.record("UpdateTransaction")
	return &models.Transaction{ID: id, UserID: userID}, nil
}

func (f *fakeFinance) DeleteTransaction(ctx context.Context, userID, id string) error {
	f.record("DeleteTransaction")
	return nil
}

func (f *fakeFinance) RecentTransactions(ctx context.Context, userID string, limit int) ([]models.Transaction, error) {
	f.record("RecentTransactions")
	return nil, nil
}

func (f *fakeFinance) SpendSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	f.record("SpendSince")
	if f.spendSince != nil {
		return f.spendSince(since)
	}
	return 0, nil
}

func (f *fakeFinance) CreateCategory(ctx context.Context, userID, name string) (*models.Category, error) {
	f.record("CreateCategory")
	if f.createCategory != nil {
		return f.createCategory(name)
	}
	return &models.Category{ID: "cat-1", UserID: userID, Name: name}, nil
}

func (f *fakeFinance) ListCategories(ctx context.Context, userID string) ([]models.Category, error) {
	f.record("ListCategories")
	return nil, nil
}

func (f *fakeFinance) CategoryByName(ctx context.Context, userID, name string) (*models.Category, error) {
	f.record("CategoryByName")
	return &models.Category{ID: "cat-1", UserID: userID, Name: name}, nil
}

func (f *fakeFinance) CreateBudget(ctx context.Context, userID string, p finance.CreateBudgetParams) (*models.Budget, error) {
	f.record("CreateBudget")
	return &models.Budget{
		ID:         "bud-1",
		UserID:     userID,
		Name:       p.Name,
		CategoryID: p.CategoryID,
		LimitCents: p.LimitCents,
		Period:     p.Period,
		Active:     true,
	}, nil
}

func (f *fakeFinance) UpdateBudget(ctx context.Context, userID, name string, p finance.UpdateBudgetParams) (*models.Budget, error) {
	f.record("UpdateBudget")
	return &models.Budget{ID: "bud-1", UserID: userID, Name: name, Active: true}, nil
}

func (f *fakeFinance) ActiveBudgets(ctx context.Context, userID string) ([]models.Budget, error) {
	f.record("ActiveBudgets")
	return nil, nil
}

var _ finance.Service = (*fakeFinance)(nil)
