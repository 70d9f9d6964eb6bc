package store

import (
	"context"
	"time"

	"github.com/6529-collections/xtdh-engine/internal/domain"
	"github.com/6529-collections/xtdh-engine/internal/store/schema"
)

// GrantStatusUpdate changes one grant's lifecycle state, optionally recording
// the reason
type GrantStatusUpdate struct {
	GrantID string
	Status  domain.GrantStatus
	Error   *string
}

// Store defines all database operations of the engine
type Store interface {
	// --- snapshot loaders -------------------------------------------------

	// ListGrantedGrants returns all grants in GRANTED status ordered by id
	ListGrantedGrants(ctx context.Context) ([]domain.Grant, error)
	// ListActiveGrants returns grants in GRANTED or PENDING status ordered by id
	ListActiveGrants(ctx context.Context) ([]domain.Grant, error)
	// ListGrantTokens returns the explicit token sets of INCLUDE-mode grants,
	// keyed by grant id
	ListGrantTokens(ctx context.Context, grantIDs []string) (map[string][]string, error)
	// ListOwnershipEvents returns all ownership events at or before the
	// cutoff, ordered by (partition, token_id, since_time, since_block, log_index)
	ListOwnershipEvents(ctx context.Context, cutoff time.Time) ([]domain.OwnershipEvent, error)
	// ListConsolidations returns the full address to consolidation key mapping
	ListConsolidations(ctx context.Context) (map[string]string, error)
	// ListCollections returns all registered collections
	ListCollections(ctx context.Context) ([]domain.Collection, error)
	// ListIdentities returns all identities
	ListIdentities(ctx context.Context) ([]schema.Identity, error)

	// --- identity and grant writes ----------------------------------------

	// CreateIdentities inserts new identities, skipping consolidation keys
	// that already exist
	CreateIdentities(ctx context.Context, identities []schema.Identity) error
	// InsertGrants inserts replacement grants produced by rate re-review
	InsertGrants(ctx context.Context, grants []schema.XTdhGrant) error
	// InsertGrantTokens inserts explicit token set rows for INCLUDE-mode grants
	InsertGrantTokens(ctx context.Context, rows []schema.XTdhGrantToken) error
	// UpdateGrantStatuses applies lifecycle transitions to existing grants
	UpdateGrantStatuses(ctx context.Context, updates []GrantStatusUpdate) error

	// --- balance writes ---------------------------------------------------

	// SetProducedBalances zeroes produced_xtdh for every identity and then
	// sets it for the given consolidation keys
	SetProducedBalances(ctx context.Context, byConsolidationKey map[string]float64) error
	// SetGrantedOutBalances zeroes granted_xtdh for every identity and then
	// sets it for the given grantor identity ids
	SetGrantedOutBalances(ctx context.Context, byIdentityID map[string]float64) error
	// ResetXTdh zeroes the spendable xtdh balance for every identity
	ResetXTdh(ctx context.Context) error
	// SetGrantedXTdh sets the granted-received part of xtdh for the given
	// consolidation keys
	SetGrantedXTdh(ctx context.Context, byConsolidationKey map[string]float64) error
	// ApplyRetainedRemainder adds produced_xtdh - granted_xtdh to every
	// identity's xtdh balance
	ApplyRetainedRemainder(ctx context.Context) error
	// SetXTdhRates zeroes xtdh_rate for every identity and then sets it for
	// the given consolidation keys
	SetXTdhRates(ctx context.Context, byConsolidationKey map[string]float64) error

	// --- stats ------------------------------------------------------------

	// GetStatsMeta returns the stats meta row, or nil when never activated
	GetStatsMeta(ctx context.Context) (*schema.XTdhStatsMeta, error)
	// ReplaceGrantStats truncates the given slot's per-grant-token table and
	// fills it with the given rows
	ReplaceGrantStats(ctx context.Context, slot domain.StatsSlot, rows []schema.XTdhTokenGrantStat) error
	// ReplaceTokenStats truncates the given slot's per-token table and fills
	// it with the given rows
	ReplaceTokenStats(ctx context.Context, slot domain.StatsSlot, rows []schema.XTdhTokenStat) error
	// SumGrantedTotal returns the floored sum of xtdh_total over the slot's
	// per-token table
	SumGrantedTotal(ctx context.Context, slot domain.StatsSlot) (float64, error)
	// ActivateStatsSlot points readers at the given slot, recording the
	// cutoff the slot was built for
	ActivateStatsSlot(ctx context.Context, slot domain.StatsSlot, asOfMidnight time.Time, at time.Time) error

	// --- transactions -----------------------------------------------------

	// InTransaction reports whether this store is already scoped to a
	// database transaction
	InTransaction() bool
	// Transaction runs fn inside a database transaction, passing a store
	// scoped to it. The transaction commits when fn returns nil and rolls
	// back otherwise.
	Transaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
