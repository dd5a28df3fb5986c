package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pocketsage/pocketsage/pkg/models"
)

// SQLStore implements Store over a SQL database. It shares the application's
// SQLite handle; the schema is created on construction.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps db and ensures the conversation_turns table exists.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{db: db}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversation_turns (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			user_message TEXT NOT NULL,
			ai_response TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create conversation_turns table: %w", err)
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_turns_user_created
		ON conversation_turns(user_id, created_at)`)
	if err != nil {
		return fmt.Errorf("failed to create conversation_turns index: %w", err)
	}
	return nil
}

func (s *SQLStore) Recent(ctx context.Context, userID string, limit int) ([]models.ConversationTurn, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, user_message, ai_response, created_at
		 FROM conversation_turns WHERE user_id = ?
		 ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation turns: %w", err)
	}
	defer rows.Close()

	var out []models.ConversationTurn
	for rows.Next() {
		var turn models.ConversationTurn
		var createdAt string
		if err := rows.Scan(&turn.ID, &turn.UserID, &turn.UserMessage, &turn.AIResponse, &createdAt); err != nil {
			return nil, err
		}
		turn.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, turn)
	}
	return out, rows.Err()
}

func (s *SQLStore) Append(ctx context.Context, userID string, turn models.ConversationTurn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_turns (id, user_id, user_message, ai_response, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		turn.ID, userID, turn.UserMessage, turn.AIResponse,
		turn.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to append conversation turn: %w", err)
	}
	return nil
}

var _ Store = (*SQLStore)(nil)
