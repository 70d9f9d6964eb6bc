package mocks

import (
	"context"
	"sync"

	"github.com/6529-collections/xtdh-engine/internal/domain"
)

// Publisher is a messaging.Publisher that records published triggers
type Publisher struct {
	mu       sync.Mutex
	Triggers []domain.StatsTrigger
	Err      error
}

func (p *Publisher) PublishStatsTrigger(ctx context.Context, trigger *domain.StatsTrigger) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Triggers = append(p.Triggers, *trigger)
	return nil
}

func (p *Publisher) Close() {}
