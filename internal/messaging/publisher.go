package messaging

import (
	"context"

	"github.com/6529-collections/xtdh-engine/internal/domain"
)

// Publisher defines the interface for publishing stats rebuild triggers to
// the message queue
type Publisher interface {
	// PublishStatsTrigger publishes a stats rebuild trigger to the broker
	PublishStatsTrigger(ctx context.Context, trigger *domain.StatsTrigger) error
	// Close closes the connection
	Close()
}
