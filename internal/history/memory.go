package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pocketsage/pocketsage/pkg/models"
)

// maxTurnsPerUser bounds in-memory history to prevent unbounded growth.
const maxTurnsPerUser = 200

// MemoryStore is an in-memory Store for tests and local runs.
type MemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]models.ConversationTurn
}

// NewMemoryStore creates an empty in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{turns: map[string][]models.ConversationTurn{}}
}

func (m *MemoryStore) Recent(ctx context.Context, userID string, limit int) ([]models.ConversationTurn, error) {
	if limit <= 0 {
		limit = 5
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.turns[userID]
	if len(all) == 0 {
		return nil, nil
	}
	start := len(all) - limit
	if start < 0 {
		start = 0
	}
	// Stored oldest-first; returned most-recent-first.
	recent := all[start:]
	out := make([]models.ConversationTurn, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		out = append(out, recent[i])
	}
	return out, nil
}

func (m *MemoryStore) Append(ctx context.Context, userID string, turn models.ConversationTurn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	m.turns[userID] = append(m.turns[userID], turn)
	if excess := len(m.turns[userID]) - maxTurnsPerUser; excess > 0 {
		m.turns[userID] = m.turns[userID][excess:]
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
