// Package history persists completed conversation turns. The orchestrator
// reads a small bounded window for grounding and writes exactly one turn per
// completed request.
package history

import (
	"context"

	"github.com/pocketsage/pocketsage/pkg/models"
)

// Store is the interface for conversation turn persistence.
type Store interface {
	// Recent returns up to limit turns for the user, most recent first.
	Recent(ctx context.Context, userID string, limit int) ([]models.ConversationTurn, error)

	// Append durably records one completed turn.
	Append(ctx context.Context, userID string, turn models.ConversationTurn) error
}
