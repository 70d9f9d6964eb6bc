package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/6529-collections/xtdh-engine/internal/domain"
	"github.com/6529-collections/xtdh-engine/internal/store/schema"
)

// =============================================================================
// Test Data Builders
// =============================================================================

func testTime(d int) time.Time {
	return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d)
}

// buildTestGrant creates a grant row with sensible defaults
func buildTestGrant(id, grantorID string, status domain.GrantStatus) schema.XTdhGrant {
	return schema.XTdhGrant{
		ID:              id,
		GrantorID:       grantorID,
		TargetPartition: "0xcollection",
		TokenMode:       domain.TokenModeAll,
		TDHRate:         10,
		ValidFrom:       testTime(0),
		Status:          status,
		CreatedAt:       testTime(0),
		UpdatedAt:       testTime(0),
	}
}

// buildTestEvent creates an ownership event row
func buildTestEvent(partition, tokenID, owner string, at time.Time, block, logIndex uint64, sale bool) schema.OwnershipEvent {
	return schema.OwnershipEvent{
		Partition:      partition,
		TokenID:        tokenID,
		Owner:          owner,
		SinceTime:      at,
		SinceBlock:     block,
		LogIndex:       logIndex,
		AcquiredAsSale: sale,
	}
}

func buildTestIdentity(id, ck string) schema.Identity {
	return schema.Identity{
		ID:               id,
		ConsolidationKey: ck,
		CreatedAt:        testTime(0),
		UpdatedAt:        testTime(0),
	}
}

// =============================================================================
// Tests
// =============================================================================

func testListGrants(t *testing.T, s Store, db *gorm.DB) {
	ctx := context.Background()

	require.NoError(t, s.InsertGrants(ctx, []schema.XTdhGrant{
		buildTestGrant("g-02", "gr1", domain.GrantStatusGranted),
		buildTestGrant("g-01", "gr1", domain.GrantStatusGranted),
		buildTestGrant("g-03", "gr2", domain.GrantStatusPending),
		buildTestGrant("g-04", "gr2", domain.GrantStatusDisabled),
	}))

	granted, err := s.ListGrantedGrants(ctx)
	require.NoError(t, err)
	require.Len(t, granted, 2)
	assert.Equal(t, "g-01", granted[0].ID)
	assert.Equal(t, "g-02", granted[1].ID)

	active, err := s.ListActiveGrants(ctx)
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, "g-03", active[2].ID)
}

func testListGrantTokens(t *testing.T, s Store, db *gorm.DB) {
	ctx := context.Background()

	g := buildTestGrant("g-01", "gr1", domain.GrantStatusGranted)
	g.TokenMode = domain.TokenModeInclude
	require.NoError(t, s.InsertGrants(ctx, []schema.XTdhGrant{g}))
	require.NoError(t, s.InsertGrantTokens(ctx, []schema.XTdhGrantToken{
		{GrantID: "g-01", TokenID: "t2"},
		{GrantID: "g-01", TokenID: "t1"},
		{GrantID: "g-other", TokenID: "t9"},
	}))
	require.NoError(t, s.InsertGrantTokens(ctx, nil))

	tokens, err := s.ListGrantTokens(ctx, []string{"g-01"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"g-01": {"t1", "t2"}}, tokens)

	tokens, err = s.ListGrantTokens(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func testListOwnershipEvents(t *testing.T, s Store, db *gorm.DB) {
	ctx := context.Background()
	cutoff := testTime(10)

	require.NoError(t, db.Create([]schema.OwnershipEvent{
		buildTestEvent("p2", "t1", "0xa", testTime(1), 10, 0, true),
		buildTestEvent("p1", "t1", "0xb", testTime(2), 20, 1, false),
		buildTestEvent("p1", "t1", "0xc", testTime(2), 20, 0, false),
		buildTestEvent("p1", "t1", "0xd", testTime(1), 5, 0, true),
		// exactly at the cutoff, still included
		buildTestEvent("p1", "t1", "0xe", cutoff, 99, 0, true),
		// past the cutoff, excluded
		buildTestEvent("p1", "t1", "0xf", testTime(11), 100, 0, true),
	}).Error)

	events, err := s.ListOwnershipEvents(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, events, 5)

	// replay order: partition, token, time, block, log index
	assert.Equal(t, "0xd", events[0].Owner)
	assert.Equal(t, "0xc", events[1].Owner)
	assert.Equal(t, "0xb", events[2].Owner)
	assert.Equal(t, "0xe", events[3].Owner)
	assert.Equal(t, "0xa", events[4].Owner)
}

func testListConsolidationsAndCollections(t *testing.T, s Store, db *gorm.DB) {
	ctx := context.Background()

	require.NoError(t, db.Create([]schema.AddressConsolidation{
		{Address: "0xa", ConsolidationKey: "k1"},
		{Address: "0xb", ConsolidationKey: "k1"},
	}).Error)
	require.NoError(t, db.Create([]schema.Collection{
		{Partition: "p1", TotalSupply: 100, HodlRate: 1.5},
	}).Error)

	consolidations, err := s.ListConsolidations(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"0xa": "k1", "0xb": "k1"}, consolidations)

	collections, err := s.ListCollections(ctx)
	require.NoError(t, err)
	require.Len(t, collections, 1)
	assert.Equal(t, "p1", collections[0].Partition)
	assert.EqualValues(t, 100, collections[0].TotalSupply)
	assert.InDelta(t, 1.5, collections[0].HodlRate, 1e-9)
}

func testCreateIdentities(t *testing.T, s Store, db *gorm.DB) {
	ctx := context.Background()

	require.NoError(t, s.CreateIdentities(ctx, []schema.Identity{
		buildTestIdentity("id-1", "k1"),
		buildTestIdentity("id-2", "k2"),
	}))

	// a second insert for an existing consolidation key is skipped
	require.NoError(t, s.CreateIdentities(ctx, []schema.Identity{
		buildTestIdentity("id-3", "k1"),
		buildTestIdentity("id-4", "k3"),
	}))

	identities, err := s.ListIdentities(ctx)
	require.NoError(t, err)
	require.Len(t, identities, 3)
	assert.Equal(t, "k1", identities[0].ConsolidationKey)
	assert.Equal(t, "id-1", identities[0].ID)
	assert.Equal(t, "k3", identities[2].ConsolidationKey)
}

func testUpdateGrantStatuses(t *testing.T, s Store, db *gorm.DB) {
	ctx := context.Background()

	require.NoError(t, s.InsertGrants(ctx, []schema.XTdhGrant{
		buildTestGrant("g-01", "gr1", domain.GrantStatusGranted),
	}))

	reason := "over capacity"
	require.NoError(t, s.UpdateGrantStatuses(ctx, []GrantStatusUpdate{
		{GrantID: "g-01", Status: domain.GrantStatusDisabled, Error: &reason},
	}))

	var row schema.XTdhGrant
	require.NoError(t, db.Where("id = ?", "g-01").First(&row).Error)
	assert.Equal(t, domain.GrantStatusDisabled, row.Status)
	require.NotNil(t, row.Error)
	assert.Equal(t, reason, *row.Error)

	err := s.UpdateGrantStatuses(ctx, []GrantStatusUpdate{
		{GrantID: "g-missing", Status: domain.GrantStatusDisabled},
	})
	assert.ErrorIs(t, err, domain.ErrGrantNotFound)
}

func testBalanceWrites(t *testing.T, s Store, db *gorm.DB) {
	ctx := context.Background()

	require.NoError(t, s.CreateIdentities(ctx, []schema.Identity{
		buildTestIdentity("id-1", "k1"),
		buildTestIdentity("id-2", "k2"),
		buildTestIdentity("id-3", "k3"),
	}))

	// the recalculation write sequence
	require.NoError(t, s.SetProducedBalances(ctx, map[string]float64{"k1": 100, "k2": 50}))
	require.NoError(t, s.SetGrantedOutBalances(ctx, map[string]float64{"id-1": 40}))
	require.NoError(t, s.ResetXTdh(ctx))
	require.NoError(t, s.SetGrantedXTdh(ctx, map[string]float64{"k2": 25, "k3": 15}))
	require.NoError(t, s.ApplyRetainedRemainder(ctx))
	require.NoError(t, s.SetXTdhRates(ctx, map[string]float64{"k1": 5, "k2": 2.5}))

	identities, err := s.ListIdentities(ctx)
	require.NoError(t, err)
	require.Len(t, identities, 3)

	byCK := make(map[string]schema.Identity, len(identities))
	for _, identity := range identities {
		byCK[identity.ConsolidationKey] = identity
	}

	assert.InDelta(t, 100, byCK["k1"].ProducedXTdh, 1e-9)
	assert.InDelta(t, 40, byCK["k1"].GrantedXTdh, 1e-9)
	assert.InDelta(t, 60, byCK["k1"].XTdh, 1e-9)
	assert.InDelta(t, 5, byCK["k1"].XTdhRate, 1e-9)

	assert.InDelta(t, 50, byCK["k2"].ProducedXTdh, 1e-9)
	assert.Zero(t, byCK["k2"].GrantedXTdh)
	assert.InDelta(t, 75, byCK["k2"].XTdh, 1e-9)
	assert.InDelta(t, 2.5, byCK["k2"].XTdhRate, 1e-9)

	assert.Zero(t, byCK["k3"].ProducedXTdh)
	assert.InDelta(t, 15, byCK["k3"].XTdh, 1e-9)
	assert.Zero(t, byCK["k3"].XTdhRate)

	// a rerun resets balances for keys no longer present
	require.NoError(t, s.SetProducedBalances(ctx, map[string]float64{"k2": 10}))
	identities, err = s.ListIdentities(ctx)
	require.NoError(t, err)
	for _, identity := range identities {
		if identity.ConsolidationKey == "k1" {
			assert.Zero(t, identity.ProducedXTdh)
		}
	}
}

func testStatsSlots(t *testing.T, s Store, db *gorm.DB) {
	ctx := context.Background()

	meta, err := s.GetStatsMeta(ctx)
	require.NoError(t, err)
	assert.Nil(t, meta)

	grantRows := []schema.XTdhTokenGrantStat{
		{GrantID: "g-01", Partition: "p1", TokenID: "t1", XTdhTotal: 9.5, XTdhRateDaily: 1},
		{GrantID: "g-02", Partition: "p1", TokenID: "t1", XTdhTotal: 27.2, XTdhRateDaily: 3},
	}
	tokenRows := []schema.XTdhTokenStat{
		{Partition: "p1", TokenID: "t1", Owner: "0xa", XTdhTotal: 36.7, XTdhRateDaily: 4, GrantCount: 2, TotalContributorCount: 2, ActiveContributorCount: 1},
	}
	require.NoError(t, s.ReplaceGrantStats(ctx, domain.StatsSlotA, grantRows))
	require.NoError(t, s.ReplaceTokenStats(ctx, domain.StatsSlotA, tokenRows))

	total, err := s.SumGrantedTotal(ctx, domain.StatsSlotA)
	require.NoError(t, err)
	assert.InDelta(t, 36.0, total, 1e-9)

	// the empty slot sums to zero
	total, err = s.SumGrantedTotal(ctx, domain.StatsSlotB)
	require.NoError(t, err)
	assert.Zero(t, total)

	require.NoError(t, s.ActivateStatsSlot(ctx, domain.StatsSlotA, testTime(10), testTime(10)))
	meta, err = s.GetStatsMeta(ctx)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, domain.StatsSlotA, meta.ActiveSlot)
	assert.True(t, meta.AsOfMidnight.Equal(testTime(10)))

	// flipping again upserts the single meta row
	require.NoError(t, s.ActivateStatsSlot(ctx, domain.StatsSlotB, testTime(11), testTime(11)))
	meta, err = s.GetStatsMeta(ctx)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, domain.StatsSlotB, meta.ActiveSlot)

	// a refill replaces the slot's previous contents
	require.NoError(t, s.ReplaceGrantStats(ctx, domain.StatsSlotA, grantRows[:1]))
	var kept []schema.XTdhTokenGrantStat
	require.NoError(t, db.Table(schema.GrantStatsTable(domain.StatsSlotA)).Find(&kept).Error)
	require.Len(t, kept, 1)
	assert.Equal(t, "g-01", kept[0].GrantID)

	err = s.ReplaceGrantStats(ctx, domain.StatsSlot("c"), nil)
	assert.Error(t, err)
}

func testTransaction(t *testing.T, s Store, db *gorm.DB) {
	ctx := context.Background()

	assert.False(t, s.InTransaction())

	failure := errors.New("abort")
	err := s.Transaction(ctx, func(ctx context.Context, tx Store) error {
		assert.True(t, tx.InTransaction())
		if err := tx.CreateIdentities(ctx, []schema.Identity{buildTestIdentity("id-1", "k1")}); err != nil {
			return err
		}
		return failure
	})
	require.ErrorIs(t, err, failure)

	identities, err := s.ListIdentities(ctx)
	require.NoError(t, err)
	assert.Empty(t, identities)

	err = s.Transaction(ctx, func(ctx context.Context, tx Store) error {
		return tx.CreateIdentities(ctx, []schema.Identity{buildTestIdentity("id-1", "k1")})
	})
	require.NoError(t, err)

	identities, err = s.ListIdentities(ctx)
	require.NoError(t, err)
	assert.Len(t, identities, 1)
}

// RunStoreTests runs the whole suite against one Store implementation. initDB
// must return a store together with the gorm handle it is scoped to, so tests
// can seed the read-only tables directly.
func RunStoreTests(t *testing.T, initDB func(t *testing.T) (Store, *gorm.DB)) {
	tests := []struct {
		name string
		fn   func(*testing.T, Store, *gorm.DB)
	}{
		{"ListGrants", testListGrants},
		{"ListGrantTokens", testListGrantTokens},
		{"ListOwnershipEvents", testListOwnershipEvents},
		{"ListConsolidationsAndCollections", testListConsolidationsAndCollections},
		{"CreateIdentities", testCreateIdentities},
		{"UpdateGrantStatuses", testUpdateGrantStatuses},
		{"BalanceWrites", testBalanceWrites},
		{"StatsSlots", testStatsSlots},
		{"Transaction", testTransaction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, db := initDB(t)
			tt.fn(t, s, db)
		})
	}
}
