package engine

import (
	"context"
	"time"

	"github.com/6529-collections/xtdh-engine/internal/domain"
	"github.com/6529-collections/xtdh-engine/internal/store"
)

// LoadSnapshot reads everything one allocation run needs from the store.
// Both the recalculator and the stats materializer run the same core over a
// snapshot loaded here.
func LoadSnapshot(ctx context.Context, s store.Store, cutoff, epoch time.Time) (*Snapshot, error) {
	grants, err := s.ListGrantedGrants(ctx)
	if err != nil {
		return nil, err
	}

	var includeIDs []string
	for _, g := range grants {
		if g.TokenMode == domain.TokenModeInclude {
			includeIDs = append(includeIDs, g.ID)
		}
	}
	grantTokens, err := s.ListGrantTokens(ctx, includeIDs)
	if err != nil {
		return nil, err
	}

	events, err := s.ListOwnershipEvents(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	consolidations, err := s.ListConsolidations(ctx)
	if err != nil {
		return nil, err
	}

	collections, err := s.ListCollections(ctx)
	if err != nil {
		return nil, err
	}

	identities, err := s.ListIdentities(ctx)
	if err != nil {
		return nil, err
	}
	grantorKeys := make(map[string]string, len(identities))
	for _, identity := range identities {
		grantorKeys[identity.ID] = identity.ConsolidationKey
	}

	return &Snapshot{
		Cutoff:         cutoff,
		Epoch:          epoch,
		Grants:         grants,
		GrantTokens:    grantTokens,
		Events:         events,
		Consolidations: consolidations,
		Collections:    collections,
		GrantorKeys:    grantorKeys,
	}, nil
}
