// Package stats maintains the double-buffered xTDH stats snapshots. Readers
// always serve from the active slot; rebuilds fill the inactive one and flip
// activation as their last write, so a failed rebuild never disturbs what is
// being served.
package stats

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/6529-collections/xtdh-engine/internal/adapter"
	"github.com/6529-collections/xtdh-engine/internal/domain"
	"github.com/6529-collections/xtdh-engine/internal/engine"
	"github.com/6529-collections/xtdh-engine/internal/logger"
	"github.com/6529-collections/xtdh-engine/internal/metrics"
	"github.com/6529-collections/xtdh-engine/internal/store"
	"github.com/6529-collections/xtdh-engine/internal/store/schema"
	"github.com/6529-collections/xtdh-engine/internal/timing"
)

// Materializer rebuilds the inactive stats slot from the current data and
// atomically activates it
type Materializer struct {
	store     store.Store
	allocator *engine.Allocator
	clock     adapter.Clock
	epoch     time.Time
}

// NewMaterializer creates a materializer
func NewMaterializer(s store.Store, allocator *engine.Allocator, clock adapter.Clock, epoch time.Time) *Materializer {
	return &Materializer{
		store:     s,
		allocator: allocator,
		clock:     clock,
		epoch:     epoch,
	}
}

// ActiveSlot returns the slot readers should use
func (m *Materializer) ActiveSlot(ctx context.Context) (domain.StatsSlot, error) {
	meta, err := m.store.GetStatsMeta(ctx)
	if err != nil {
		return "", err
	}
	if meta == nil {
		return "", domain.ErrStatsMetaMissing
	}
	return meta.ActiveSlot, nil
}

// TargetSlot returns the slot the next rebuild should fill: the opposite of
// the active one, or slot a when stats were never activated
func (m *Materializer) TargetSlot(ctx context.Context) (domain.StatsSlot, error) {
	meta, err := m.store.GetStatsMeta(ctx)
	if err != nil {
		return "", err
	}
	if meta == nil {
		return domain.StatsSlotA, nil
	}
	return meta.ActiveSlot.Other(), nil
}

// RebuildAndActivate recomputes both stats tables into the inactive slot and
// flips activation. On any failure the previous slot keeps serving.
func (m *Materializer) RebuildAndActivate(ctx context.Context) error {
	err := m.rebuildAndActivate(ctx)
	if err != nil {
		metrics.StatsRebuilds.WithLabelValues("failure").Inc()
		return err
	}
	metrics.StatsRebuilds.WithLabelValues("success").Inc()
	return nil
}

func (m *Materializer) rebuildAndActivate(ctx context.Context) error {
	timer := timing.NewTimer()
	cutoff := adapter.LatestUTCMidnight(m.clock.Now())

	target, err := m.TargetSlot(ctx)
	if err != nil {
		return err
	}
	logger.InfoCtx(ctx, "rebuilding stats slot",
		zap.String("slot", string(target)),
		zap.Time("cutoff", cutoff))

	timer.Start("load_snapshot")
	snap, err := engine.LoadSnapshot(ctx, m.store, cutoff, m.epoch)
	timer.Stop("load_snapshot")
	if err != nil {
		return err
	}

	timer.Start("compute")
	result := m.allocator.Compute(snap)
	timer.Stop("compute")

	grantRows, tokenRows := buildRows(snap, result)

	timer.Start("refill_grant_stats")
	err = m.store.ReplaceGrantStats(ctx, target, grantRows)
	timer.Stop("refill_grant_stats")
	if err != nil {
		return err
	}

	timer.Start("refill_token_stats")
	err = m.store.ReplaceTokenStats(ctx, target, tokenRows)
	timer.Stop("refill_token_stats")
	if err != nil {
		return err
	}

	total, err := m.store.SumGrantedTotal(ctx, target)
	if err != nil {
		return err
	}

	if err := m.store.ActivateStatsSlot(ctx, target, cutoff, m.clock.Now()); err != nil {
		return err
	}
	metrics.GrantedTotal.Set(total)

	logger.InfoCtx(ctx, "stats slot activated",
		append([]zap.Field{
			zap.String("slot", string(target)),
			zap.Float64("granted_total", total),
			zap.Int("grant_rows", len(grantRows)),
			zap.Int("token_rows", len(tokenRows)),
		}, timer.Fields()...)...)
	return nil
}

// buildRows turns the allocation outcome into slot table rows. Grant rows
// keep only positive totals; token rows aggregate the kept grant rows with
// the owner resolved at the cutoff, falling back to the zero address.
func buildRows(snap *engine.Snapshot, result *engine.Result) ([]schema.XTdhTokenGrantStat, []schema.XTdhTokenStat) {
	grantorOf := make(map[string]string, len(snap.Grants))
	for _, g := range snap.Grants {
		grantorOf[g.ID] = g.GrantorID
	}

	type tokenAgg struct {
		owner        string
		total        float64
		rate         float64
		grants       map[string]bool
		contributors map[string]bool
		active       map[string]bool
	}

	var grantRows []schema.XTdhTokenGrantStat
	aggs := make(map[tokenRef]*tokenAgg)
	var order []tokenRef

	for _, stat := range result.GrantStats {
		if stat.XTdh <= 0 {
			continue
		}
		grantRows = append(grantRows, schema.XTdhTokenGrantStat{
			GrantID:       stat.GrantID,
			Partition:     stat.Partition,
			TokenID:       stat.TokenID,
			XTdhTotal:     stat.XTdh,
			XTdhRateDaily: stat.RateDaily,
		})

		ref := tokenRef{partition: stat.Partition, tokenID: stat.TokenID}
		agg := aggs[ref]
		if agg == nil {
			agg = &tokenAgg{
				owner:        domain.EthereumZeroAddress,
				grants:       make(map[string]bool),
				contributors: make(map[string]bool),
				active:       make(map[string]bool),
			}
			aggs[ref] = agg
			order = append(order, ref)
		}
		if stat.Owner != "" {
			agg.owner = stat.Owner
		}
		agg.total += stat.XTdh
		agg.rate += stat.RateDaily
		agg.grants[stat.GrantID] = true
		grantor := grantorOf[stat.GrantID]
		agg.contributors[grantor] = true
		if stat.RateDaily > 0 {
			agg.active[grantor] = true
		}
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].partition != order[j].partition {
			return order[i].partition < order[j].partition
		}
		return order[i].tokenID < order[j].tokenID
	})

	tokenRows := make([]schema.XTdhTokenStat, 0, len(order))
	for _, ref := range order {
		agg := aggs[ref]
		tokenRows = append(tokenRows, schema.XTdhTokenStat{
			Partition:              ref.partition,
			TokenID:                ref.tokenID,
			Owner:                  agg.owner,
			XTdhTotal:              agg.total,
			XTdhRateDaily:          agg.rate,
			GrantCount:             int64(len(agg.grants)),
			TotalContributorCount:  int64(len(agg.contributors)),
			ActiveContributorCount: int64(len(agg.active)),
		})
	}

	return grantRows, tokenRows
}

type tokenRef struct {
	partition string
	tokenID   string
}
