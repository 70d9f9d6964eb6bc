// Package mocks holds hand-written test doubles shared by unit tests.
package mocks

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/6529-collections/xtdh-engine/internal/domain"
	"github.com/6529-collections/xtdh-engine/internal/store"
	"github.com/6529-collections/xtdh-engine/internal/store/schema"
)

// MemoryStore is an in-memory store.Store used by unit tests. It mimics the
// Postgres store's semantics closely enough for orchestration tests and
// records the order of write calls.
type MemoryStore struct {
	mu sync.Mutex

	Grants         []schema.XTdhGrant
	GrantTokens    []schema.XTdhGrantToken
	Events         []schema.OwnershipEvent
	Consolidations map[string]string
	Collections    []schema.Collection
	Identities     []schema.Identity
	GrantStats     map[domain.StatsSlot][]schema.XTdhTokenGrantStat
	TokenStats     map[domain.StatsSlot][]schema.XTdhTokenStat
	Meta           *schema.XTdhStatsMeta

	// WriteLog records the order of mutating calls
	WriteLog []string
	// Transactions counts committed transactions
	Transactions int
	// FailOn makes the named method return an error
	FailOn string

	inTx bool
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Consolidations: make(map[string]string),
		GrantStats:     make(map[domain.StatsSlot][]schema.XTdhTokenGrantStat),
		TokenStats:     make(map[domain.StatsSlot][]schema.XTdhTokenStat),
	}
}

func (m *MemoryStore) fail(method string) error {
	if m.FailOn == method {
		return fmt.Errorf("%s: injected failure", method)
	}
	return nil
}

func (m *MemoryStore) log(method string) {
	m.WriteLog = append(m.WriteLog, method)
}

func (m *MemoryStore) ListGrantedGrants(ctx context.Context) ([]domain.Grant, error) {
	return m.listGrants(domain.GrantStatusGranted)
}

func (m *MemoryStore) ListActiveGrants(ctx context.Context) ([]domain.Grant, error) {
	return m.listGrants(domain.GrantStatusGranted, domain.GrantStatusPending)
}

func (m *MemoryStore) listGrants(statuses ...domain.GrantStatus) ([]domain.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListGrantedGrants"); err != nil {
		return nil, err
	}

	var grants []domain.Grant
	for _, row := range m.Grants {
		for _, status := range statuses {
			if row.Status == status {
				grants = append(grants, row.Domain())
				break
			}
		}
	}
	sort.Slice(grants, func(i, j int) bool { return grants[i].ID < grants[j].ID })
	return grants, nil
}

func (m *MemoryStore) ListGrantTokens(ctx context.Context, grantIDs []string) (map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[string]bool, len(grantIDs))
	for _, id := range grantIDs {
		wanted[id] = true
	}

	result := make(map[string][]string)
	for _, row := range m.GrantTokens {
		if wanted[row.GrantID] {
			result[row.GrantID] = append(result[row.GrantID], row.TokenID)
		}
	}
	for _, tokens := range result {
		sort.Strings(tokens)
	}
	return result, nil
}

func (m *MemoryStore) ListOwnershipEvents(ctx context.Context, cutoff time.Time) ([]domain.OwnershipEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListOwnershipEvents"); err != nil {
		return nil, err
	}

	var events []domain.OwnershipEvent
	for _, row := range m.Events {
		if !row.SinceTime.After(cutoff) {
			events = append(events, row.Domain())
		}
	}
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Partition != b.Partition {
			return a.Partition < b.Partition
		}
		if a.TokenID != b.TokenID {
			return a.TokenID < b.TokenID
		}
		if !a.SinceTime.Equal(b.SinceTime) {
			return a.SinceTime.Before(b.SinceTime)
		}
		if a.SinceBlock != b.SinceBlock {
			return a.SinceBlock < b.SinceBlock
		}
		return a.LogIndex < b.LogIndex
	})
	return events, nil
}

func (m *MemoryStore) ListConsolidations(ctx context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make(map[string]string, len(m.Consolidations))
	for k, v := range m.Consolidations {
		result[k] = v
	}
	return result, nil
}

func (m *MemoryStore) ListCollections(ctx context.Context) ([]domain.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	collections := make([]domain.Collection, 0, len(m.Collections))
	for _, row := range m.Collections {
		collections = append(collections, row.Domain())
	}
	return collections, nil
}

func (m *MemoryStore) ListIdentities(ctx context.Context) ([]schema.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]schema.Identity(nil), m.Identities...), nil
}

func (m *MemoryStore) CreateIdentities(ctx context.Context, identities []schema.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("CreateIdentities")

	existing := make(map[string]bool, len(m.Identities))
	for _, identity := range m.Identities {
		existing[identity.ConsolidationKey] = true
	}
	for _, identity := range identities {
		if !existing[identity.ConsolidationKey] {
			m.Identities = append(m.Identities, identity)
			existing[identity.ConsolidationKey] = true
		}
	}
	return nil
}

func (m *MemoryStore) InsertGrants(ctx context.Context, grants []schema.XTdhGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("InsertGrants")
	m.Grants = append(m.Grants, grants...)
	return nil
}

func (m *MemoryStore) InsertGrantTokens(ctx context.Context, rows []schema.XTdhGrantToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("InsertGrantTokens")
	if err := m.fail("InsertGrantTokens"); err != nil {
		return err
	}
	m.GrantTokens = append(m.GrantTokens, rows...)
	return nil
}

func (m *MemoryStore) UpdateGrantStatuses(ctx context.Context, updates []store.GrantStatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("UpdateGrantStatuses")

	for _, u := range updates {
		found := false
		for i := range m.Grants {
			if m.Grants[i].ID == u.GrantID {
				m.Grants[i].Status = u.Status
				m.Grants[i].Error = u.Error
				found = true
			}
		}
		if !found {
			return fmt.Errorf("grant %s: %w", u.GrantID, domain.ErrGrantNotFound)
		}
	}
	return nil
}

func (m *MemoryStore) SetProducedBalances(ctx context.Context, byCK map[string]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("SetProducedBalances")
	if err := m.fail("SetProducedBalances"); err != nil {
		return err
	}

	for i := range m.Identities {
		m.Identities[i].ProducedXTdh = byCK[m.Identities[i].ConsolidationKey]
	}
	return nil
}

func (m *MemoryStore) SetGrantedOutBalances(ctx context.Context, byIdentityID map[string]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("SetGrantedOutBalances")

	for i := range m.Identities {
		m.Identities[i].GrantedXTdh = byIdentityID[m.Identities[i].ID]
	}
	return nil
}

func (m *MemoryStore) ResetXTdh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("ResetXTdh")

	for i := range m.Identities {
		m.Identities[i].XTdh = 0
	}
	return nil
}

func (m *MemoryStore) SetGrantedXTdh(ctx context.Context, byCK map[string]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("SetGrantedXTdh")

	for i := range m.Identities {
		if v, ok := byCK[m.Identities[i].ConsolidationKey]; ok {
			m.Identities[i].XTdh = v
		}
	}
	return nil
}

func (m *MemoryStore) ApplyRetainedRemainder(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("ApplyRetainedRemainder")

	for i := range m.Identities {
		m.Identities[i].XTdh += m.Identities[i].ProducedXTdh - m.Identities[i].GrantedXTdh
	}
	return nil
}

func (m *MemoryStore) SetXTdhRates(ctx context.Context, byCK map[string]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("SetXTdhRates")

	for i := range m.Identities {
		m.Identities[i].XTdhRate = byCK[m.Identities[i].ConsolidationKey]
	}
	return nil
}

func (m *MemoryStore) GetStatsMeta(ctx context.Context) (*schema.XTdhStatsMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Meta == nil {
		return nil, nil
	}
	meta := *m.Meta
	return &meta, nil
}

func (m *MemoryStore) ReplaceGrantStats(ctx context.Context, slot domain.StatsSlot, rows []schema.XTdhTokenGrantStat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("ReplaceGrantStats")
	if err := m.fail("ReplaceGrantStats"); err != nil {
		return err
	}

	m.GrantStats[slot] = append([]schema.XTdhTokenGrantStat(nil), rows...)
	return nil
}

func (m *MemoryStore) ReplaceTokenStats(ctx context.Context, slot domain.StatsSlot, rows []schema.XTdhTokenStat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("ReplaceTokenStats")
	if err := m.fail("ReplaceTokenStats"); err != nil {
		return err
	}

	m.TokenStats[slot] = append([]schema.XTdhTokenStat(nil), rows...)
	return nil
}

func (m *MemoryStore) SumGrantedTotal(ctx context.Context, slot domain.StatsSlot) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total float64
	for _, row := range m.TokenStats[slot] {
		total += row.XTdhTotal
	}
	return math.Floor(total), nil
}

func (m *MemoryStore) ActivateStatsSlot(ctx context.Context, slot domain.StatsSlot, asOfMidnight time.Time, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("ActivateStatsSlot")
	if err := m.fail("ActivateStatsSlot"); err != nil {
		return err
	}

	m.Meta = &schema.XTdhStatsMeta{
		ID:            1,
		ActiveSlot:    slot,
		AsOfMidnight:  asOfMidnight,
		LastUpdatedAt: at,
	}
	return nil
}

func (m *MemoryStore) InTransaction() bool {
	return m.inTx
}

func (m *MemoryStore) Transaction(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if m.inTx {
		return fn(ctx, m)
	}

	m.inTx = true
	err := fn(ctx, m)
	m.inTx = false
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.Transactions++
	m.mu.Unlock()
	return nil
}
