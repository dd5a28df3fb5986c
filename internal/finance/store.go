package finance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pocketsage/pocketsage/pkg/models"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Store implements Service on top of SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and initializes the
// schema. Use ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	store, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewStore wraps an existing database handle and ensures the schema exists.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle so collaborators (the history store) can
// share one database file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS categories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(user_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			description TEXT NOT NULL,
			amount_cents INTEGER NOT NULL,
			category_id TEXT NOT NULL,
			occurred_at TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_user_occurred
			ON transactions(user_id, occurred_at)`,
		`CREATE TABLE IF NOT EXISTS budgets (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			category_id TEXT NOT NULL,
			limit_cents INTEGER NOT NULL,
			period TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(user_id, name)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

const timeLayout = time.RFC3339Nano

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func decodeTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *Store) AddTransaction(ctx context.Context, userID string, p AddTransactionParams) (*models.Transaction, error) {
	if strings.TrimSpace(p.Description) == "" {
		return nil, NewDomainError("transaction description is required")
	}
	if p.AmountCents == 0 {
		return nil, NewDomainError("transaction amount must be non-zero")
	}
	if _, err := s.categoryByID(ctx, userID, p.CategoryID); err != nil {
		return nil, err
	}

	tx := &models.Transaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Description: strings.TrimSpace(p.Description),
		AmountCents: p.AmountCents,
		CategoryID:  p.CategoryID,
		OccurredAt:  p.OccurredAt,
		CreatedAt:   time.Now().UTC(),
	}
	if tx.OccurredAt.IsZero() {
		tx.OccurredAt = tx.CreatedAt
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, description, amount_cents, category_id, occurred_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.Description, tx.AmountCents, tx.CategoryID,
		encodeTime(tx.OccurredAt), encodeTime(tx.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return tx, nil
}

func (s *Store) UpdateTransaction(ctx context.Context, userID, id string, p UpdateTransactionParams) (*models.Transaction, error) {
	existing, err := s.transactionByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if p.Description != nil {
		if strings.TrimSpace(*p.Description) == "" {
			return nil, NewDomainError("transaction description cannot be empty")
		}
		existing.Description = strings.TrimSpace(*p.Description)
	}
	if p.AmountCents != nil {
		if *p.AmountCents == 0 {
			return nil, NewDomainError("transaction amount must be non-zero")
		}
		existing.AmountCents = *p.AmountCents
	}
	if p.CategoryID != nil {
		if _, err := s.categoryByID(ctx, userID, *p.CategoryID); err != nil {
			return nil, err
		}
		existing.CategoryID = *p.CategoryID
	}
	if p.OccurredAt != nil {
		existing.OccurredAt = *p.OccurredAt
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE transactions SET description = ?, amount_cents = ?, category_id = ?, occurred_at = ?
		 WHERE id = ? AND user_id = ?`,
		existing.Description, existing.AmountCents, existing.CategoryID,
		encodeTime(existing.OccurredAt), id, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to update transaction: %w", err)
	}
	return existing, nil
}

func (s *Store) DeleteTransaction(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return NewDomainError("transaction not found")
	}
	return nil
}

func (s *Store) RecentTransactions(ctx context.Context, userID string, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, description, amount_cents, category_id, occurred_at, created_at
		 FROM transactions WHERE user_id = ?
		 ORDER BY occurred_at DESC, created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		var occurredAt, createdAt string
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Description, &tx.AmountCents,
			&tx.CategoryID, &occurredAt, &createdAt); err != nil {
			return nil, err
		}
		tx.OccurredAt = decodeTime(occurredAt)
		tx.CreatedAt = decodeTime(createdAt)
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *Store) SpendSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(amount_cents) FROM transactions
		 WHERE user_id = ? AND amount_cents > 0 AND occurred_at >= ?`,
		userID, encodeTime(since)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum spend: %w", err)
	}
	return total.Int64, nil
}

func (s *Store) CreateCategory(ctx context.Context, userID, name string) (*models.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, NewDomainError("category name is required")
	}
	if existing, _ := s.CategoryByName(ctx, userID, name); existing != nil {
		return nil, NewDomainError(fmt.Sprintf("category %q already exists", name))
	}

	cat := &models.Category{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (id, user_id, name, created_at) VALUES (?, ?, ?, ?)`,
		cat.ID, cat.UserID, cat.Name, encodeTime(cat.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert category: %w", err)
	}
	return cat, nil
}

func (s *Store) ListCategories(ctx context.Context, userID string) ([]models.Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, created_at FROM categories
		 WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var out []models.Category
	for rows.Next() {
		var cat models.Category
		var createdAt string
		if err := rows.Scan(&cat.ID, &cat.UserID, &cat.Name, &createdAt); err != nil {
			return nil, err
		}
		cat.CreatedAt = decodeTime(createdAt)
		out = append(out, cat)
	}
	return out, rows.Err()
}

func (s *Store) CategoryByName(ctx context.Context, userID, name string) (*models.Category, error) {
	var cat models.Category
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, created_at FROM categories
		 WHERE user_id = ? AND name = ? COLLATE NOCASE`, userID, strings.TrimSpace(name)).
		Scan(&cat.ID, &cat.UserID, &cat.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewDomainError(fmt.Sprintf("category %q not found", name))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query category: %w", err)
	}
	cat.CreatedAt = decodeTime(createdAt)
	return &cat, nil
}

func (s *Store) CreateBudget(ctx context.Context, userID string, p CreateBudgetParams) (*models.Budget, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, NewDomainError("budget name is required")
	}
	if p.LimitCents <= 0 {
		return nil, NewDomainError("budget limit must be positive")
	}
	if p.Period != models.PeriodMonthly && p.Period != models.PeriodWeekly {
		return nil, NewDomainError(fmt.Sprintf("unknown budget period %q", p.Period))
	}
	if _, err := s.categoryByID(ctx, userID, p.CategoryID); err != nil {
		return nil, err
	}
	if existing, _ := s.budgetByName(ctx, userID, name); existing != nil {
		return nil, NewDomainError(fmt.Sprintf("budget %q already exists", name))
	}

	now := time.Now().UTC()
	b := &models.Budget{
		ID:         uuid.NewString(),
		UserID:     userID,
		Name:       name,
		CategoryID: p.CategoryID,
		LimitCents: p.LimitCents,
		Period:     p.Period,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budgets (id, user_id, name, category_id, limit_cents, period, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.Name, b.CategoryID, b.LimitCents, string(b.Period),
		boolToInt(b.Active), encodeTime(b.CreatedAt), encodeTime(b.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert budget: %w", err)
	}
	return b, nil
}

func (s *Store) UpdateBudget(ctx context.Context, userID, name string, p UpdateBudgetParams) (*models.Budget, error) {
	existing, err := s.budgetByName(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	if p.LimitCents != nil {
		if *p.LimitCents <= 0 {
			return nil, NewDomainError("budget limit must be positive")
		}
		existing.LimitCents = *p.LimitCents
	}
	if p.Period != nil {
		if *p.Period != models.PeriodMonthly && *p.Period != models.PeriodWeekly {
			return nil, NewDomainError(fmt.Sprintf("unknown budget period %q", *p.Period))
		}
		existing.Period = *p.Period
	}
	if p.Active != nil {
		existing.Active = *p.Active
	}
	existing.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`UPDATE budgets SET limit_cents = ?, period = ?, active = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		existing.LimitCents, string(existing.Period), boolToInt(existing.Active),
		encodeTime(existing.UpdatedAt), existing.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to update budget: %w", err)
	}
	return existing, nil
}

func (s *Store) ActiveBudgets(ctx context.Context, userID string) ([]models.Budget, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, category_id, limit_cents, period, active, created_at, updated_at
		 FROM budgets WHERE user_id = ? AND active = 1 ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query budgets: %w", err)
	}
	defer rows.Close()

	var out []models.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *Store) transactionByID(ctx context.Context, userID, id string) (*models.Transaction, error) {
	var tx models.Transaction
	var occurredAt, createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, description, amount_cents, category_id, occurred_at, created_at
		 FROM transactions WHERE id = ? AND user_id = ?`, id, userID).
		Scan(&tx.ID, &tx.UserID, &tx.Description, &tx.AmountCents, &tx.CategoryID, &occurredAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewDomainError("transaction not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction: %w", err)
	}
	tx.OccurredAt = decodeTime(occurredAt)
	tx.CreatedAt = decodeTime(createdAt)
	return &tx, nil
}

func (s *Store) categoryByID(ctx context.Context, userID, id string) (*models.Category, error) {
	var cat models.Category
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, created_at FROM categories
		 WHERE id = ? AND user_id = ?`, id, userID).
		Scan(&cat.ID, &cat.UserID, &cat.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewDomainError("category not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query category: %w", err)
	}
	cat.CreatedAt = decodeTime(createdAt)
	return &cat, nil
}

func (s *Store) budgetByName(ctx context.Context, userID, name string) (*models.Budget, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, category_id, limit_cents, period, active, created_at, updated_at
		 FROM budgets WHERE user_id = ? AND name = ? COLLATE NOCASE`, userID, strings.TrimSpace(name))
	b, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewDomainError(fmt.Sprintf("budget %q not found", name))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query budget: %w", err)
	}
	return b, nil
}

// BudgetByName returns a user's budget by its (case-insensitive) name.
func (s *Store) BudgetByName(ctx context.Context, userID, name string) (*models.Budget, error) {
	return s.budgetByName(ctx, userID, name)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBudget(row rowScanner) (*models.Budget, error) {
	var b models.Budget
	var period, createdAt, updatedAt string
	var active int
	if err := row.Scan(&b.ID, &b.UserID, &b.Name, &b.CategoryID, &b.LimitCents,
		&period, &active, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	b.Period = models.BudgetPeriod(period)
	b.Active = active != 0
	b.CreatedAt = decodeTime(createdAt)
	b.UpdatedAt = decodeTime(updatedAt)
	return &b, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
