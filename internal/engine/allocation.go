package engine

import (
	"sort"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/6529-collections/xtdh-engine/internal/domain"
)

// Snapshot is the in-memory input of one allocation run: everything the
// engine reads, loaded up front so the computation itself touches no I/O.
type Snapshot struct {
	// Cutoff is the UTC midnight the run is anchored to
	Cutoff time.Time
	// Epoch is the date before which no xTDH accrues
	Epoch time.Time
	// Grants are the GRANTED grants, ascending by id
	Grants []domain.Grant
	// GrantTokens holds the explicit token sets of INCLUDE-mode grants
	GrantTokens map[string][]string
	// Events is the full ownership history before the cutoff, in replay order
	Events []domain.OwnershipEvent
	// Consolidations maps addresses to consolidation keys
	Consolidations map[string]string
	// Collections are the registered partitions
	Collections []domain.Collection
	// GrantorKeys maps grantor identity ids to their consolidation keys
	GrantorKeys map[string]string
}

// GrantTokenStat is one row of the per-(grant, token) breakdown the stats
// materializer persists
type GrantTokenStat struct {
	GrantID   string
	Partition string
	TokenID   string
	Owner     string
	XTdh      float64
	RateDaily float64
}

// Result is the complete outcome of one allocation run
type Result struct {
	// ProducedByKey is the cumulative produced xTDH per consolidation key
	ProducedByKey map[string]float64
	// GrantedOutByGrantor is the total xTDH each grantor gave away, keyed by
	// grantor identity id
	GrantedOutByGrantor map[string]float64
	// ReceivedByKey is the total xTDH received through grants per
	// consolidation key
	ReceivedByKey map[string]float64
	// RateByKey is the net daily accrual rate per consolidation key:
	// produced minus granted-out plus received, matured rates only
	RateByKey map[string]float64
	// GrantStats is the per-(grant, token) breakdown, ordered by
	// (grant id, partition, token id)
	GrantStats []GrantTokenStat
	// UnmappedOwners lists, sorted, every owner address observed at the
	// cutoff that has no consolidation mapping
	UnmappedOwners []string
}

type tokenKey struct {
	partition string
	tokenID   string
}

// tokenState is the resolved holding of one token at the cutoff
type tokenState struct {
	owner      string
	resetStart time.Time
}

// grantResult is the outcome of computing a single grant, merged into the
// Result in fixed grant order
type grantResult struct {
	grantedOut        float64
	grantedOutRate    float64
	receivedByKey     map[string]float64
	receivedRateByKey map[string]float64
	stats             []GrantTokenStat
}

// Allocator recomputes all xTDH balances from scratch for a snapshot. The
// computation is pure: identical snapshots produce identical results, with
// per-grant work fanned out on a worker pool and merged in grant order.
type Allocator struct {
	pool pond.Pool
}

// NewAllocator creates an allocator with the given worker concurrency
func NewAllocator(concurrency int) *Allocator {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Allocator{pool: pond.NewPool(concurrency)}
}

// Stop releases the worker pool
func (a *Allocator) Stop() {
	a.pool.StopAndWait()
}

// ProducedRates resolves holdings and returns only the per-key daily
// production rates, without touching grants. Used to size grantor capacity
// before grant rates are re-reviewed.
func (a *Allocator) ProducedRates(snap *Snapshot) map[string]float64 {
	states, tokensByPartition := resolveHoldings(snap)
	collections := make(map[string]domain.Collection, len(snap.Collections))
	for _, c := range snap.Collections {
		collections[c.Partition] = c
	}
	return a.computeProduced(snap, states, tokensByPartition, collections, make(map[string]float64))
}

// keyOf resolves an address to its consolidation key. Addresses without a
// mapping consolidate to themselves, which matches the identity minted for
// them.
func keyOf(consolidations map[string]string, address string) string {
	if ck, ok := consolidations[address]; ok {
		return ck
	}
	return address
}

// Compute runs the full allocation for the snapshot
func (a *Allocator) Compute(snap *Snapshot) *Result {
	states, tokensByPartition := resolveHoldings(snap)

	collections := make(map[string]domain.Collection, len(snap.Collections))
	for _, c := range snap.Collections {
		collections[c.Partition] = c
	}

	grants := eligibleGrants(snap)

	results := make([]*grantResult, len(grants))
	group := a.pool.NewGroup()
	for i, g := range grants {
		group.Submit(func() {
			results[i] = a.computeGrant(snap, g, states, tokensByPartition, collections)
		})
	}
	_ = group.Wait()

	res := &Result{
		ProducedByKey:       make(map[string]float64),
		GrantedOutByGrantor: make(map[string]float64),
		ReceivedByKey:       make(map[string]float64),
		RateByKey:           make(map[string]float64),
	}

	grantedOutRateByKey := make(map[string]float64)
	receivedRateByKey := make(map[string]float64)
	for i, g := range grants {
		r := results[i]
		res.GrantedOutByGrantor[g.GrantorID] += r.grantedOut
		if ck, ok := snap.GrantorKeys[g.GrantorID]; ok {
			grantedOutRateByKey[ck] += r.grantedOutRate
		}
		for ck, v := range r.receivedByKey {
			res.ReceivedByKey[ck] += v
		}
		for ck, v := range r.receivedRateByKey {
			receivedRateByKey[ck] += v
		}
		res.GrantStats = append(res.GrantStats, r.stats...)
	}

	producedRateByKey := a.computeProduced(snap, states, tokensByPartition, collections, res.ProducedByKey)

	for ck, v := range producedRateByKey {
		res.RateByKey[ck] += v
	}
	for ck, v := range grantedOutRateByKey {
		res.RateByKey[ck] -= v
	}
	for ck, v := range receivedRateByKey {
		res.RateByKey[ck] += v
	}

	res.UnmappedOwners = unmappedOwners(snap, states)

	return res
}

// resolveHoldings replays the ownership history once, yielding every token's
// owner at the cutoff and the start of that owner's unbroken holding window.
// A window breaks on a sale, on the first event of a token, and on any
// transfer between different consolidation keys. Transfers inside one
// consolidation key keep the window open. Ownership resolves strictly before
// the cutoff, but a reset event landing exactly on the cutoff midnight still
// empties the current owner's window.
func resolveHoldings(snap *Snapshot) (map[tokenKey]tokenState, map[string][]string) {
	states := make(map[tokenKey]tokenState)
	seen := make(map[string]map[string]bool)

	var (
		current    tokenKey
		haveToken  bool
		prevOwner  string
		resetStart time.Time
		owner      string
	)

	flush := func() {
		if haveToken && owner != "" {
			states[current] = tokenState{owner: owner, resetStart: resetStart}
		}
	}

	for _, e := range snap.Events {
		if e.SinceTime.After(snap.Cutoff) {
			continue
		}
		key := tokenKey{partition: e.Partition, tokenID: e.TokenID}
		if !haveToken || key != current {
			flush()
			current = key
			haveToken = true
			prevOwner = ""
			owner = ""
		}

		reset := e.AcquiredAsSale ||
			prevOwner == "" ||
			keyOf(snap.Consolidations, prevOwner) != keyOf(snap.Consolidations, e.Owner)
		if reset {
			resetStart = e.SinceTime
		}
		if e.SinceTime.Before(snap.Cutoff) {
			owner = e.Owner
			if seen[e.Partition] == nil {
				seen[e.Partition] = make(map[string]bool)
			}
			seen[e.Partition][e.TokenID] = true
		}
		prevOwner = e.Owner
	}
	flush()

	tokensByPartition := make(map[string][]string, len(seen))
	for partition, tokens := range seen {
		ids := make([]string, 0, len(tokens))
		for id := range tokens {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		tokensByPartition[partition] = ids
	}

	return states, tokensByPartition
}

// eligibleGrants filters to grants whose validity started before the cutoff
func eligibleGrants(snap *Snapshot) []domain.Grant {
	grants := make([]domain.Grant, 0, len(snap.Grants))
	for _, g := range snap.Grants {
		if g.Status != domain.GrantStatusGranted {
			continue
		}
		if !g.ValidFrom.Before(snap.Cutoff) {
			continue
		}
		grants = append(grants, g)
	}
	return grants
}

// grantUniverse returns the token set a grant distributes over, sorted, and
// the grant's denominator
func grantUniverse(
	snap *Snapshot,
	g domain.Grant,
	tokensByPartition map[string][]string,
	collections map[string]domain.Collection,
) ([]string, int64) {
	switch g.TokenMode {
	case domain.TokenModeInclude:
		tokens := snap.GrantTokens[g.ID]
		return tokens, int64(len(tokens))
	default:
		var denom int64
		if c, ok := collections[g.TargetPartition]; ok {
			denom = c.TotalSupply
		}
		return tokensByPartition[g.TargetPartition], denom
	}
}

// computeGrant resolves one grant's contribution to every token in its scope
func (a *Allocator) computeGrant(
	snap *Snapshot,
	g domain.Grant,
	states map[tokenKey]tokenState,
	tokensByPartition map[string][]string,
	collections map[string]domain.Collection,
) *grantResult {
	r := &grantResult{
		receivedByKey:     make(map[string]float64),
		receivedRateByKey: make(map[string]float64),
	}

	tokens, denom := grantUniverse(snap, g, tokensByPartition, collections)

	grantEnd := snap.Cutoff
	if g.ValidTo != nil && g.ValidTo.Before(grantEnd) {
		grantEnd = *g.ValidTo
	}

	for _, tokenID := range tokens {
		stat := GrantTokenStat{
			GrantID:   g.ID,
			Partition: g.TargetPartition,
			TokenID:   tokenID,
			Owner:     domain.EthereumZeroAddress,
		}

		state, owned := states[tokenKey{partition: g.TargetPartition, tokenID: tokenID}]
		if owned && denom > 0 {
			stat.Owner = state.owner

			start := state.resetStart
			if g.ValidFrom.After(start) {
				start = g.ValidFrom
			}
			if snap.Epoch.After(start) {
				start = snap.Epoch
			}

			if grantEnd.After(start) {
				fd := fullDays(start, grantEnd)
				perToken := g.TDHRate / float64(denom)
				stat.XTdh = perToken * float64(fd)
				if fd > 0 && daysSinceStart(start, snap.Cutoff) >= 2 {
					stat.RateDaily = perToken
				}
			}
		}

		if stat.XTdh != 0 || stat.RateDaily != 0 {
			ck := keyOf(snap.Consolidations, stat.Owner)
			r.grantedOut += stat.XTdh
			r.grantedOutRate += stat.RateDaily
			r.receivedByKey[ck] += stat.XTdh
			r.receivedRateByKey[ck] += stat.RateDaily
		}
		r.stats = append(r.stats, stat)
	}

	return r
}

// computeProduced fills producedByKey with every consolidation key's
// cumulative production and returns the per-key daily production rate. A
// token produces its collection's hodl rate per full day held since the
// holder's window opened, clipped to the epoch.
func (a *Allocator) computeProduced(
	snap *Snapshot,
	states map[tokenKey]tokenState,
	tokensByPartition map[string][]string,
	collections map[string]domain.Collection,
	producedByKey map[string]float64,
) map[string]float64 {
	producedRate := make(map[string]float64)

	partitions := make([]string, 0, len(tokensByPartition))
	for p := range tokensByPartition {
		partitions = append(partitions, p)
	}
	sort.Strings(partitions)

	for _, partition := range partitions {
		collection, ok := collections[partition]
		if !ok || collection.HodlRate <= 0 {
			continue
		}
		for _, tokenID := range tokensByPartition[partition] {
			state, ok := states[tokenKey{partition: partition, tokenID: tokenID}]
			if !ok {
				continue
			}

			start := state.resetStart
			if snap.Epoch.After(start) {
				start = snap.Epoch
			}
			if !snap.Cutoff.After(start) {
				continue
			}

			ck := keyOf(snap.Consolidations, state.owner)
			producedByKey[ck] += collection.HodlRate * float64(fullDays(start, snap.Cutoff))
			producedRate[ck] += collection.HodlRate
		}
	}

	return producedRate
}

// unmappedOwners collects, sorted, every cutoff owner that has no entry in
// the consolidation mapping
func unmappedOwners(snap *Snapshot, states map[tokenKey]tokenState) []string {
	set := make(map[string]bool)
	for _, state := range states {
		if _, ok := snap.Consolidations[state.owner]; !ok {
			set[state.owner] = true
		}
	}

	owners := make([]string, 0, len(set))
	for owner := range set {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners
}
