package engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/6529-collections/xtdh-engine/internal/adapter"
	"github.com/6529-collections/xtdh-engine/internal/domain"
	"github.com/6529-collections/xtdh-engine/internal/grants"
	"github.com/6529-collections/xtdh-engine/internal/identities"
	"github.com/6529-collections/xtdh-engine/internal/logger"
	"github.com/6529-collections/xtdh-engine/internal/messaging"
	"github.com/6529-collections/xtdh-engine/internal/metrics"
	"github.com/6529-collections/xtdh-engine/internal/store"
	"github.com/6529-collections/xtdh-engine/internal/timing"
)

// StatsRebuilder rebuilds and activates the inactive stats slot
type StatsRebuilder interface {
	RebuildAndActivate(ctx context.Context) error
}

// Recalculator orchestrates one full recomputation of the xTDH universe.
// All balance writes happen in a single transaction; the stats rebuild and
// the queue trigger run after commit so they can never corrupt balances.
type Recalculator struct {
	store      store.Store
	allocator  *Allocator
	reReviewer *grants.ReReviewer
	minter     *identities.Minter
	rebuilder  StatsRebuilder
	publisher  messaging.Publisher
	clock      adapter.Clock
	epoch      time.Time
}

// NewRecalculator creates a recalculator. publisher may be nil when no stats
// queue is configured; rebuilder may be nil when stats are rebuilt by a
// separate worker only.
func NewRecalculator(
	s store.Store,
	allocator *Allocator,
	reReviewer *grants.ReReviewer,
	minter *identities.Minter,
	rebuilder StatsRebuilder,
	publisher messaging.Publisher,
	clock adapter.Clock,
	epoch time.Time,
) *Recalculator {
	return &Recalculator{
		store:      s,
		allocator:  allocator,
		reReviewer: reReviewer,
		minter:     minter,
		rebuilder:  rebuilder,
		publisher:  publisher,
		clock:      clock,
		epoch:      epoch,
	}
}

// Handle runs one full recalculation. When the store is already
// transactional the recompute joins that transaction and the post-commit
// steps are skipped; otherwise it opens its own transaction and, after
// commit, rebuilds stats and triggers the queue.
func (r *Recalculator) Handle(ctx context.Context) error {
	started := r.clock.Now()
	timer := timing.NewTimer()

	if r.store.InTransaction() {
		return r.recalculate(ctx, r.store, timer)
	}

	err := r.store.Transaction(ctx, func(ctx context.Context, tx store.Store) error {
		return r.recalculate(ctx, tx, timer)
	})
	if err != nil {
		return err
	}
	metrics.RecalculationDuration.Observe(r.clock.Since(started).Seconds())

	if r.rebuilder != nil {
		timer.Start("rebuild_stats")
		err = r.rebuilder.RebuildAndActivate(ctx)
		timer.Stop("rebuild_stats")
		if err != nil {
			// the previously active slot keeps serving until the next rebuild
			logger.WarnCtx(ctx, "stats rebuild failed, keeping the stale slot active", zap.Error(err))
		}
	}

	r.triggerLoop(ctx)

	logger.InfoCtx(ctx, "xTDH universe recalculated",
		append([]zap.Field{zap.Duration("took", r.clock.Since(started))}, timer.Fields()...)...)
	return nil
}

func (r *Recalculator) recalculate(ctx context.Context, tx store.Store, timer *timing.Timer) error {
	if !tx.InTransaction() {
		return domain.ErrNotInTransaction
	}

	cutoff := adapter.LatestUTCMidnight(r.clock.Now())
	logger.InfoCtx(ctx, "Recalculating the xTDH universe", zap.Time("cutoff", cutoff))

	timer.Start("load_base_snapshot")
	base, err := LoadSnapshot(ctx, tx, cutoff, r.epoch)
	timer.Stop("load_base_snapshot")
	if err != nil {
		return err
	}

	timer.Start("re_review_rates")
	producedRates := r.allocator.ProducedRates(base)
	capacities := make(map[string]float64, len(base.GrantorKeys))
	for identityID, ck := range base.GrantorKeys {
		capacities[identityID] = producedRates[ck]
	}
	err = r.reReviewer.Run(ctx, tx, capacities)
	timer.Stop("re_review_rates")
	if err != nil {
		return err
	}

	// the re-review may have swapped grants out, reload them
	timer.Start("load_snapshot")
	snap, err := LoadSnapshot(ctx, tx, cutoff, r.epoch)
	timer.Stop("load_snapshot")
	if err != nil {
		return err
	}

	timer.Start("compute")
	result := r.allocator.Compute(snap)
	timer.Stop("compute")

	logger.InfoCtx(ctx, "Creating the missing identities",
		zap.Int("count", len(result.UnmappedOwners)))
	timer.Start("mint_identities")
	err = r.minter.MintMissing(ctx, tx, result.UnmappedOwners)
	timer.Stop("mint_identities")
	if err != nil {
		return err
	}

	logger.InfoCtx(ctx, "Updating all produced xTDHs")
	timer.Start("write_produced")
	err = tx.SetProducedBalances(ctx, result.ProducedByKey)
	timer.Stop("write_produced")
	if err != nil {
		return err
	}

	logger.InfoCtx(ctx, "Updating all granted xTDH tallies")
	timer.Start("write_granted_out")
	err = tx.SetGrantedOutBalances(ctx, result.GrantedOutByGrantor)
	timer.Stop("write_granted_out")
	if err != nil {
		return err
	}

	logger.InfoCtx(ctx, "Deleting old xTDH state")
	timer.Start("wipe_xtdh")
	err = tx.ResetXTdh(ctx)
	timer.Stop("wipe_xtdh")
	if err != nil {
		return err
	}

	logger.InfoCtx(ctx, "Inserting xTDH states from grants")
	timer.Start("write_granted_received")
	err = tx.SetGrantedXTdh(ctx, result.ReceivedByKey)
	timer.Stop("write_granted_received")
	if err != nil {
		return err
	}

	logger.InfoCtx(ctx, "Upserting rest of xTDH to producers")
	timer.Start("write_retained")
	err = tx.ApplyRetainedRemainder(ctx)
	timer.Stop("write_retained")
	if err != nil {
		return err
	}

	logger.InfoCtx(ctx, "Updating xTDH rates")
	timer.Start("write_rates")
	err = tx.SetXTdhRates(ctx, result.RateByKey)
	timer.Stop("write_rates")
	if err != nil {
		return err
	}

	return nil
}

// triggerLoop asks the stats queue for another pass. The queue is an
// optimization, so a missing publisher or a failed publish only warns.
func (r *Recalculator) triggerLoop(ctx context.Context) {
	if r.publisher == nil {
		logger.WarnCtx(ctx, "stats queue not configured, skipping loop call")
		return
	}

	trigger := &domain.StatsTrigger{Cutoff: adapter.LatestUTCMidnight(r.clock.Now())}
	publish := func() error {
		return r.publisher.PublishStatsTrigger(ctx, trigger)
	}
	err := backoff.Retry(publish, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx))
	if err != nil {
		logger.WarnCtx(ctx, "failed to publish stats trigger", zap.Error(err))
	}
}
