// Package identities mints identities for owner addresses that hold granted
// tokens but are not yet part of any consolidation.
package identities

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/6529-collections/xtdh-engine/internal/logger"
	"github.com/6529-collections/xtdh-engine/internal/store"
	"github.com/6529-collections/xtdh-engine/internal/store/schema"
)

// Minter creates identities for observed but unmapped owners
type Minter struct{}

// NewMinter creates a minter
func NewMinter() *Minter {
	return &Minter{}
}

// MintMissing inserts one identity per address on the given store, with the
// address as its own consolidation key. Addresses whose key already has an
// identity are left untouched.
func (m *Minter) MintMissing(ctx context.Context, tx store.Store, addresses []string) error {
	if len(addresses) == 0 {
		return nil
	}

	logger.InfoCtx(ctx, "minting identities for unmapped owners",
		zap.Int("count", len(addresses)))

	rows := make([]schema.Identity, 0, len(addresses))
	for _, address := range addresses {
		rows = append(rows, schema.Identity{
			ID:               uuid.New().String(),
			ConsolidationKey: address,
		})
	}
	return tx.CreateIdentities(ctx, rows)
}
