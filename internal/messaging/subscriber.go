package messaging

import (
	"context"

	"github.com/6529-collections/xtdh-engine/internal/domain"
)

// TriggerHandler is called when a stats rebuild trigger is received
type TriggerHandler func(ctx context.Context, trigger *domain.StatsTrigger) error

// Subscriber defines the interface for consuming stats rebuild triggers
type Subscriber interface {
	// SubscribeTriggers consumes triggers until the context is canceled,
	// calling handler for each one. Handler errors nak the message for
	// redelivery.
	SubscribeTriggers(ctx context.Context, handler TriggerHandler) error
	// Close closes the connection and cleans up resources
	Close()
}
