package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/6529-collections/xtdh-engine/internal/domain"
	"github.com/6529-collections/xtdh-engine/internal/engine"
	"github.com/6529-collections/xtdh-engine/internal/mocks"
	"github.com/6529-collections/xtdh-engine/internal/store/schema"
)

func day(d int) time.Time {
	return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d)
}

// seedStats sets up two grants over one collection: a whole-collection grant
// and an INCLUDE grant pinned to one token. The second token was acquired the
// day before the cutoff, so it has accrued nothing yet.
func seedStats() *mocks.MemoryStore {
	mem := mocks.NewMemoryStore()
	mem.Collections = []schema.Collection{{Partition: "p1", TotalSupply: 2, HodlRate: 1}}
	mem.Events = []schema.OwnershipEvent{
		{Partition: "p1", TokenID: "t1", Owner: "0xa", SinceTime: day(0), SinceBlock: 1, AcquiredAsSale: true},
		{Partition: "p1", TokenID: "t2", Owner: "0xb", SinceTime: day(9), SinceBlock: 2, AcquiredAsSale: true},
	}
	mem.Consolidations["0xa"] = "ka"
	mem.Consolidations["0xb"] = "kb"
	mem.Grants = []schema.XTdhGrant{
		{
			ID: "g1", GrantorID: "gr1", TargetPartition: "p1",
			TokenMode: domain.TokenModeAll, TDHRate: 2,
			ValidFrom: day(0), Status: domain.GrantStatusGranted,
		},
		{
			ID: "g2", GrantorID: "gr2", TargetPartition: "p1",
			TokenMode: domain.TokenModeInclude, TDHRate: 3,
			ValidFrom: day(0), Status: domain.GrantStatusGranted,
		},
	}
	mem.GrantTokens = []schema.XTdhGrantToken{{GrantID: "g2", TokenID: "t1"}}
	return mem
}

func newMaterializer(t *testing.T, mem *mocks.MemoryStore) *Materializer {
	t.Helper()
	allocator := engine.NewAllocator(2)
	t.Cleanup(allocator.Stop)
	return NewMaterializer(mem, allocator, &mocks.FixedClock{Time: day(10)}, day(-100))
}

func TestTargetSlot(t *testing.T) {
	mem := mocks.NewMemoryStore()
	m := newMaterializer(t, mem)
	ctx := context.Background()

	// never activated yet: start with slot a
	slot, err := m.TargetSlot(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatsSlotA, slot)

	mem.Meta = &schema.XTdhStatsMeta{ID: 1, ActiveSlot: domain.StatsSlotA}
	slot, err = m.TargetSlot(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatsSlotB, slot)

	mem.Meta = &schema.XTdhStatsMeta{ID: 1, ActiveSlot: domain.StatsSlotB}
	slot, err = m.TargetSlot(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatsSlotA, slot)
}

func TestActiveSlot(t *testing.T) {
	mem := mocks.NewMemoryStore()
	m := newMaterializer(t, mem)
	ctx := context.Background()

	_, err := m.ActiveSlot(ctx)
	assert.ErrorIs(t, err, domain.ErrStatsMetaMissing)

	mem.Meta = &schema.XTdhStatsMeta{ID: 1, ActiveSlot: domain.StatsSlotB}
	slot, err := m.ActiveSlot(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatsSlotB, slot)
}

func TestRebuildAndActivate(t *testing.T) {
	mem := seedStats()
	m := newMaterializer(t, mem)

	require.NoError(t, m.RebuildAndActivate(context.Background()))

	require.NotNil(t, mem.Meta)
	assert.Equal(t, domain.StatsSlotA, mem.Meta.ActiveSlot)
	assert.Equal(t, day(10), mem.Meta.AsOfMidnight)
	assert.Equal(t, day(10), mem.Meta.LastUpdatedAt)

	// t2 accrued nothing yet, so only t1 rows survive
	grantRows := mem.GrantStats[domain.StatsSlotA]
	require.Len(t, grantRows, 2)
	assert.Equal(t, "g1", grantRows[0].GrantID)
	assert.Equal(t, "t1", grantRows[0].TokenID)
	assert.InDelta(t, 9.0, grantRows[0].XTdhTotal, 1e-9)
	assert.InDelta(t, 1.0, grantRows[0].XTdhRateDaily, 1e-9)
	assert.Equal(t, "g2", grantRows[1].GrantID)
	assert.InDelta(t, 27.0, grantRows[1].XTdhTotal, 1e-9)
	assert.InDelta(t, 3.0, grantRows[1].XTdhRateDaily, 1e-9)

	tokenRows := mem.TokenStats[domain.StatsSlotA]
	require.Len(t, tokenRows, 1)
	row := tokenRows[0]
	assert.Equal(t, "p1", row.Partition)
	assert.Equal(t, "t1", row.TokenID)
	assert.Equal(t, "0xa", row.Owner)
	assert.InDelta(t, 36.0, row.XTdhTotal, 1e-9)
	assert.InDelta(t, 4.0, row.XTdhRateDaily, 1e-9)
	assert.EqualValues(t, 2, row.GrantCount)
	assert.EqualValues(t, 2, row.TotalContributorCount)
	assert.EqualValues(t, 2, row.ActiveContributorCount)
}

func TestRebuildAlternatesSlots(t *testing.T) {
	mem := seedStats()
	m := newMaterializer(t, mem)
	ctx := context.Background()

	require.NoError(t, m.RebuildAndActivate(ctx))
	assert.Equal(t, domain.StatsSlotA, mem.Meta.ActiveSlot)

	require.NoError(t, m.RebuildAndActivate(ctx))
	assert.Equal(t, domain.StatsSlotB, mem.Meta.ActiveSlot)
	assert.NotEmpty(t, mem.GrantStats[domain.StatsSlotB])
}

func TestRebuildFailureKeepsActiveSlot(t *testing.T) {
	mem := seedStats()
	mem.Meta = &schema.XTdhStatsMeta{ID: 1, ActiveSlot: domain.StatsSlotA, AsOfMidnight: day(9)}
	mem.FailOn = "ReplaceTokenStats"
	m := newMaterializer(t, mem)

	err := m.RebuildAndActivate(context.Background())
	require.Error(t, err)

	// the previous slot keeps serving
	assert.Equal(t, domain.StatsSlotA, mem.Meta.ActiveSlot)
	assert.Equal(t, day(9), mem.Meta.AsOfMidnight)
}
