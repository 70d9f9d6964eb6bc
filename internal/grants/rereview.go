// Package grants re-reviews grant rates before each recalculation run.
// Grantors can promise more daily xTDH than they produce; when their
// overlapping grant windows sum above capacity, the originals are disabled
// and replaced with proportionally scaled segments.
package grants

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/6529-collections/xtdh-engine/internal/adapter"
	"github.com/6529-collections/xtdh-engine/internal/domain"
	"github.com/6529-collections/xtdh-engine/internal/logger"
	"github.com/6529-collections/xtdh-engine/internal/store"
	"github.com/6529-collections/xtdh-engine/internal/store/schema"
)

const disabledReason = "Sum of active grants in this timespan exceeded grantors xTDH rate. Created replacement grants"

// windowEnd stands in for an open-ended valid_to during segmentation
const windowEnd = int64(99_999_999_999_999)

// Adjustment is the planned outcome of a re-review pass
type Adjustment struct {
	// Replacements are the scaled segment grants to insert
	Replacements []schema.XTdhGrant
	// DisabledIDs are the original grants to disable, ascending
	DisabledIDs []string
}

// Empty reports whether the plan changes nothing
func (a Adjustment) Empty() bool {
	return len(a.Replacements) == 0 && len(a.DisabledIDs) == 0
}

// ReReviewer detects and corrects over-committed grantors
type ReReviewer struct {
	clock adapter.Clock
}

// NewReReviewer creates a re-reviewer
func NewReReviewer(clock adapter.Clock) *ReReviewer {
	return &ReReviewer{clock: clock}
}

// Run plans the adjustment for the current GRANTED set and applies it on the
// given transactional store. Capacities are daily production rates keyed by
// grantor identity id.
func (r *ReReviewer) Run(ctx context.Context, tx store.Store, capacities map[string]float64) error {
	if !tx.InTransaction() {
		return domain.ErrNotInTransaction
	}

	grants, err := tx.ListGrantedGrants(ctx)
	if err != nil {
		return err
	}

	adjustment := r.Plan(grants, capacities)
	if adjustment.Empty() {
		logger.InfoCtx(ctx, "no overflowed grants found")
		return nil
	}

	logger.InfoCtx(ctx, "re-reviewing overflowed grants",
		zap.Int("disabled", len(adjustment.DisabledIDs)),
		zap.Int("replacements", len(adjustment.Replacements)))

	if err := tx.InsertGrants(ctx, adjustment.Replacements); err != nil {
		return err
	}

	tokenRows, err := copyTokenSets(ctx, tx, adjustment.Replacements)
	if err != nil {
		return err
	}
	if len(tokenRows) > 0 {
		if err := tx.InsertGrantTokens(ctx, tokenRows); err != nil {
			return err
		}
	}

	reason := disabledReason
	updates := make([]store.GrantStatusUpdate, 0, len(adjustment.DisabledIDs))
	for _, id := range adjustment.DisabledIDs {
		updates = append(updates, store.GrantStatusUpdate{
			GrantID: id,
			Status:  domain.GrantStatusDisabled,
			Error:   &reason,
		})
	}
	return tx.UpdateGrantStatuses(ctx, updates)
}

// copyTokenSets carries the explicit token sets of replaced INCLUDE-mode
// grants over to their replacements. Replacements get fresh ids, so without
// the copy a scaled INCLUDE grant would end up scoped to nothing.
func copyTokenSets(ctx context.Context, tx store.Store, replacements []schema.XTdhGrant) ([]schema.XTdhGrantToken, error) {
	var replacedIDs []string
	seen := make(map[string]bool)
	for _, g := range replacements {
		if g.TokenMode != domain.TokenModeInclude || g.ReplacedGrantID == nil {
			continue
		}
		if !seen[*g.ReplacedGrantID] {
			seen[*g.ReplacedGrantID] = true
			replacedIDs = append(replacedIDs, *g.ReplacedGrantID)
		}
	}
	if len(replacedIDs) == 0 {
		return nil, nil
	}

	tokens, err := tx.ListGrantTokens(ctx, replacedIDs)
	if err != nil {
		return nil, err
	}

	var rows []schema.XTdhGrantToken
	for _, g := range replacements {
		if g.TokenMode != domain.TokenModeInclude || g.ReplacedGrantID == nil {
			continue
		}
		for _, tokenID := range tokens[*g.ReplacedGrantID] {
			rows = append(rows, schema.XTdhGrantToken{GrantID: g.ID, TokenID: tokenID})
		}
	}
	return rows, nil
}

// Plan computes the replacement grants for every over-committed grantor.
// The timeline is split at every grant boundary; within each segment the
// grants active there are scaled by capacity/total, capped at 1. Adjacent
// segments of one grant that end up with the same rate merge back together.
func (r *ReReviewer) Plan(grants []domain.Grant, capacities map[string]float64) Adjustment {
	byGrantor := make(map[string][]domain.Grant)
	for _, g := range grants {
		if g.Status != domain.GrantStatusGranted {
			continue
		}
		byGrantor[g.GrantorID] = append(byGrantor[g.GrantorID], g)
	}

	grantors := make([]string, 0, len(byGrantor))
	for id := range byGrantor {
		grantors = append(grantors, id)
	}
	sort.Strings(grantors)

	now := r.clock.Now().UTC()
	var adjustment Adjustment
	disabled := make(map[string]bool)

	for _, grantorID := range grantors {
		grantorGrants := byGrantor[grantorID]
		capacity := capacities[grantorID]
		if !overflows(grantorGrants, capacity) {
			continue
		}

		replacements := buildReplacements(grantorGrants, capacity, now)
		adjustment.Replacements = append(adjustment.Replacements, replacements...)
		for _, g := range grantorGrants {
			disabled[g.ID] = true
		}
	}

	for id := range disabled {
		adjustment.DisabledIDs = append(adjustment.DisabledIDs, id)
	}
	sort.Strings(adjustment.DisabledIDs)

	return adjustment
}

type span struct {
	grant     domain.Grant
	from      int64
	to        int64
	toWasNull bool
}

func spansOf(grants []domain.Grant) ([]span, []int64) {
	spans := make([]span, 0, len(grants))
	points := []int64{0, windowEnd}

	for _, g := range grants {
		from := max(g.ValidFrom.UnixMilli(), 0)
		toWasNull := g.ValidTo == nil
		to := windowEnd
		if !toWasNull {
			to = min(g.ValidTo.UnixMilli(), windowEnd)
		}
		if from < to {
			points = append(points, from, to)
			spans = append(spans, span{grant: g, from: from, to: to, toWasNull: toWasNull})
		}
	}

	sort.Slice(points, func(i, j int) bool { return points[i] < points[j] })
	return spans, points
}

// overflows reports whether any segment's total committed rate exceeds the
// grantor's capacity
func overflows(grants []domain.Grant, capacity float64) bool {
	spans, points := spansOf(grants)

	for i := 0; i < len(points)-1; i++ {
		segStart, segEnd := points[i], points[i+1]
		if segStart >= segEnd {
			continue
		}
		var total float64
		for _, s := range spans {
			if s.from < segEnd && s.to > segStart {
				total += s.grant.TDHRate
			}
		}
		if total > capacity {
			return true
		}
	}
	return false
}

func buildReplacements(grants []domain.Grant, capacity float64, now time.Time) []schema.XTdhGrant {
	spans, points := spansOf(grants)

	var segments []schema.XTdhGrant
	for i := 0; i < len(points)-1; i++ {
		segStart, segEnd := points[i], points[i+1]
		if segStart >= segEnd {
			continue
		}

		var active []span
		var totalRate float64
		for _, s := range spans {
			if s.from < segEnd && s.to > segStart {
				active = append(active, s)
				totalRate += s.grant.TDHRate
			}
		}
		if len(active) == 0 {
			continue
		}

		scale := 1.0
		if totalRate > 0 {
			scale = min(1.0, capacity/totalRate)
		}

		for _, s := range active {
			start := max(segStart, s.from)
			end := min(segEnd, s.to)
			if start >= end {
				continue
			}

			var validTo *time.Time
			if !(s.toWasNull && end == windowEnd) {
				t := time.UnixMilli(end).UTC()
				validTo = &t
			}

			replacedID := s.grant.ID
			segments = append(segments, schema.XTdhGrant{
				ID:              ulid.Make().String(),
				ReplacedGrantID: &replacedID,
				GrantorID:       s.grant.GrantorID,
				TargetPartition: s.grant.TargetPartition,
				TokenMode:       s.grant.TokenMode,
				TDHRate:         s.grant.TDHRate * scale,
				ValidFrom:       time.UnixMilli(start).UTC(),
				ValidTo:         validTo,
				Status:          domain.GrantStatusGranted,
				CreatedAt:       now,
				UpdatedAt:       now,
			})
		}
	}

	sort.Slice(segments, func(i, j int) bool {
		if *segments[i].ReplacedGrantID != *segments[j].ReplacedGrantID {
			return *segments[i].ReplacedGrantID < *segments[j].ReplacedGrantID
		}
		return segments[i].ValidFrom.Before(segments[j].ValidFrom)
	})

	return mergeAdjacent(segments)
}

// mergeAdjacent collapses back-to-back segments of the same original grant
// whose scaled rates came out equal
func mergeAdjacent(segments []schema.XTdhGrant) []schema.XTdhGrant {
	var merged []schema.XTdhGrant
	for _, seg := range segments {
		if len(merged) > 0 {
			last := &merged[len(merged)-1]
			lastEnd := windowEnd
			if last.ValidTo != nil {
				lastEnd = last.ValidTo.UnixMilli()
			}
			if *last.ReplacedGrantID == *seg.ReplacedGrantID &&
				lastEnd == seg.ValidFrom.UnixMilli() &&
				math.Abs(last.TDHRate-seg.TDHRate) <= 1e-9 {
				last.ValidTo = seg.ValidTo
				continue
			}
		}
		merged = append(merged, seg)
	}
	return merged
}
