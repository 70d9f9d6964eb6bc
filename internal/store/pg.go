package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/6529-collections/xtdh-engine/internal/domain"
	"github.com/6529-collections/xtdh-engine/internal/store/schema"
)

type pgStore struct {
	db   *gorm.DB
	inTx bool
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// ConfigureConnectionPool configures the connection pool settings for a GORM database connection.
// It accesses the underlying *sql.DB and sets the pool configuration.
// If any of the pool settings are 0 or empty, reasonable defaults are used:
//   - MaxOpenConns: 20 (if 0)
//   - MaxIdleConns: 5 (if 0)
//   - ConnMaxLifetime: 5 minutes (if 0)
//   - ConnMaxIdleTime: 10 minutes (if 0)
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime =
		NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime)

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// NormalizeConnectionPoolSettings applies defaults and clamps pool settings into safe values.
//
// Defaults (when zero):
//   - MaxOpenConns: 20
//   - MaxIdleConns: 5
//   - ConnMaxLifetime: 5 minutes
//   - ConnMaxIdleTime: 10 minutes
//
// Notes:
//   - database/sql treats MaxOpenConns=0 as "unlimited"
//   - database/sql treats MaxIdleConns=0 as "no idle connections"
func NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (int, int, time.Duration, time.Duration) {
	// Set defaults if not provided
	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}

	// Ensure MaxIdleConns doesn't exceed MaxOpenConns
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	return maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime
}

// calculateSafeBatchSize computes the batch size for bulk inserts that stays
// under PostgreSQL's extended protocol limit of 65535 parameters per query.
// Each record consumes one parameter per inserted field, and a total headroom
// is reserved for ON CONFLICT clauses and GORM bookkeeping.
func calculateSafeBatchSize(totalRecords int, fieldsPerRecord int) int {
	const maxParams = 65535
	const totalHeadroom = 1000

	availableParams := maxParams - totalHeadroom
	safeBatchSize := max(availableParams/fieldsPerRecord, 1)

	if safeBatchSize > totalRecords {
		return totalRecords
	}

	return safeBatchSize
}

// sortedKeys returns the map's keys in ascending order so writes happen in a
// deterministic sequence
func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// --- snapshot loaders -----------------------------------------------------

func (s *pgStore) listGrantsByStatus(ctx context.Context, statuses []domain.GrantStatus) ([]domain.Grant, error) {
	var rows []schema.XTdhGrant
	err := s.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}

	grants := make([]domain.Grant, 0, len(rows))
	for _, row := range rows {
		grants = append(grants, row.Domain())
	}
	return grants, nil
}

// ListGrantedGrants returns all grants in GRANTED status ordered by id
func (s *pgStore) ListGrantedGrants(ctx context.Context) ([]domain.Grant, error) {
	return s.listGrantsByStatus(ctx, []domain.GrantStatus{domain.GrantStatusGranted})
}

// ListActiveGrants returns grants in GRANTED or PENDING status ordered by id
func (s *pgStore) ListActiveGrants(ctx context.Context) ([]domain.Grant, error) {
	return s.listGrantsByStatus(ctx, []domain.GrantStatus{domain.GrantStatusGranted, domain.GrantStatusPending})
}

// ListGrantTokens returns the explicit token sets of INCLUDE-mode grants keyed by grant id
func (s *pgStore) ListGrantTokens(ctx context.Context, grantIDs []string) (map[string][]string, error) {
	result := make(map[string][]string)
	if len(grantIDs) == 0 {
		return result, nil
	}

	var rows []schema.XTdhGrantToken
	err := s.db.WithContext(ctx).
		Where("grant_id IN ?", grantIDs).
		Order("grant_id ASC, token_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list grant tokens: %w", err)
	}

	for _, row := range rows {
		result[row.GrantID] = append(result[row.GrantID], row.TokenID)
	}
	return result, nil
}

// ListOwnershipEvents returns all ownership events at or before the cutoff
// in replay order. Events landing exactly on the cutoff midnight still matter:
// they can reset a holding window even though ownership resolution ignores them.
func (s *pgStore) ListOwnershipEvents(ctx context.Context, cutoff time.Time) ([]domain.OwnershipEvent, error) {
	var rows []schema.OwnershipEvent
	err := s.db.WithContext(ctx).
		Where("since_time <= ?", cutoff).
		Order("partition ASC, token_id ASC, since_time ASC, since_block ASC, log_index ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list ownership events: %w", err)
	}

	events := make([]domain.OwnershipEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.Domain())
	}
	return events, nil
}

// ListConsolidations returns the full address to consolidation key mapping
func (s *pgStore) ListConsolidations(ctx context.Context) (map[string]string, error) {
	var rows []schema.AddressConsolidation
	err := s.db.WithContext(ctx).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list consolidations: %w", err)
	}

	result := make(map[string]string, len(rows))
	for _, row := range rows {
		result[row.Address] = row.ConsolidationKey
	}
	return result, nil
}

// ListCollections returns all registered collections
func (s *pgStore) ListCollections(ctx context.Context) ([]domain.Collection, error) {
	var rows []schema.Collection
	err := s.db.WithContext(ctx).Order("partition ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	collections := make([]domain.Collection, 0, len(rows))
	for _, row := range rows {
		collections = append(collections, row.Domain())
	}
	return collections, nil
}

// ListIdentities returns all identities
func (s *pgStore) ListIdentities(ctx context.Context) ([]schema.Identity, error) {
	var rows []schema.Identity
	err := s.db.WithContext(ctx).Order("consolidation_key ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	return rows, nil
}

// --- identity and grant writes --------------------------------------------

// CreateIdentities inserts new identities, skipping consolidation keys that
// already exist
func (s *pgStore) CreateIdentities(ctx context.Context, identities []schema.Identity) error {
	if len(identities) == 0 {
		return nil
	}

	batchSize := calculateSafeBatchSize(len(identities), 8)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "consolidation_key"}},
			DoNothing: true,
		}).
		CreateInBatches(identities, batchSize).Error
	if err != nil {
		return fmt.Errorf("failed to create identities: %w", err)
	}
	return nil
}

// InsertGrants inserts replacement grants produced by rate re-review
func (s *pgStore) InsertGrants(ctx context.Context, grants []schema.XTdhGrant) error {
	if len(grants) == 0 {
		return nil
	}

	batchSize := calculateSafeBatchSize(len(grants), 12)
	err := s.db.WithContext(ctx).CreateInBatches(grants, batchSize).Error
	if err != nil {
		return fmt.Errorf("failed to insert grants: %w", err)
	}
	return nil
}

// InsertGrantTokens inserts explicit token set rows for INCLUDE-mode grants
func (s *pgStore) InsertGrantTokens(ctx context.Context, rows []schema.XTdhGrantToken) error {
	if len(rows) == 0 {
		return nil
	}

	batchSize := calculateSafeBatchSize(len(rows), 2)
	err := s.db.WithContext(ctx).CreateInBatches(rows, batchSize).Error
	if err != nil {
		return fmt.Errorf("failed to insert grant tokens: %w", err)
	}
	return nil
}

// UpdateGrantStatuses applies lifecycle transitions to existing grants
func (s *pgStore) UpdateGrantStatuses(ctx context.Context, updates []GrantStatusUpdate) error {
	for _, u := range updates {
		res := s.db.WithContext(ctx).
			Model(&schema.XTdhGrant{}).
			Where("id = ?", u.GrantID).
			Updates(map[string]interface{}{
				"status":     u.Status,
				"error":      u.Error,
				"updated_at": gorm.Expr("now()"),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update grant %s status: %w", u.GrantID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("grant %s: %w", u.GrantID, domain.ErrGrantNotFound)
		}
	}
	return nil
}

// --- balance writes --------------------------------------------------------

func (s *pgStore) setBalanceColumnByCK(ctx context.Context, column string, byCK map[string]float64) error {
	err := s.db.WithContext(ctx).
		Model(&schema.Identity{}).
		Where("1 = 1").
		Update(column, 0).Error
	if err != nil {
		return fmt.Errorf("failed to reset %s: %w", column, err)
	}

	for _, ck := range sortedKeys(byCK) {
		err := s.db.WithContext(ctx).
			Model(&schema.Identity{}).
			Where("consolidation_key = ?", ck).
			Update(column, byCK[ck]).Error
		if err != nil {
			return fmt.Errorf("failed to set %s for %s: %w", column, ck, err)
		}
	}
	return nil
}

// SetProducedBalances zeroes produced_xtdh for every identity and then sets
// it for the given consolidation keys
func (s *pgStore) SetProducedBalances(ctx context.Context, byConsolidationKey map[string]float64) error {
	return s.setBalanceColumnByCK(ctx, "produced_xtdh", byConsolidationKey)
}

// SetGrantedOutBalances zeroes granted_xtdh for every identity and then sets
// it for the given grantor identity ids
func (s *pgStore) SetGrantedOutBalances(ctx context.Context, byIdentityID map[string]float64) error {
	err := s.db.WithContext(ctx).
		Model(&schema.Identity{}).
		Where("1 = 1").
		Update("granted_xtdh", 0).Error
	if err != nil {
		return fmt.Errorf("failed to reset granted_xtdh: %w", err)
	}

	for _, id := range sortedKeys(byIdentityID) {
		err := s.db.WithContext(ctx).
			Model(&schema.Identity{}).
			Where("id = ?", id).
			Update("granted_xtdh", byIdentityID[id]).Error
		if err != nil {
			return fmt.Errorf("failed to set granted_xtdh for %s: %w", id, err)
		}
	}
	return nil
}

// ResetXTdh zeroes the spendable xtdh balance for every identity
func (s *pgStore) ResetXTdh(ctx context.Context) error {
	err := s.db.WithContext(ctx).
		Model(&schema.Identity{}).
		Where("1 = 1").
		Update("xtdh", 0).Error
	if err != nil {
		return fmt.Errorf("failed to reset xtdh: %w", err)
	}
	return nil
}

// SetGrantedXTdh sets the granted-received part of xtdh for the given
// consolidation keys
func (s *pgStore) SetGrantedXTdh(ctx context.Context, byConsolidationKey map[string]float64) error {
	for _, ck := range sortedKeys(byConsolidationKey) {
		err := s.db.WithContext(ctx).
			Model(&schema.Identity{}).
			Where("consolidation_key = ?", ck).
			Update("xtdh", byConsolidationKey[ck]).Error
		if err != nil {
			return fmt.Errorf("failed to set granted xtdh for %s: %w", ck, err)
		}
	}
	return nil
}

// ApplyRetainedRemainder adds produced_xtdh - granted_xtdh to every
// identity's xtdh balance
func (s *pgStore) ApplyRetainedRemainder(ctx context.Context) error {
	err := s.db.WithContext(ctx).
		Model(&schema.Identity{}).
		Where("1 = 1").
		Update("xtdh", gorm.Expr("xtdh + (produced_xtdh - granted_xtdh)")).Error
	if err != nil {
		return fmt.Errorf("failed to apply retained remainder: %w", err)
	}
	return nil
}

// SetXTdhRates zeroes xtdh_rate for every identity and then sets it for the
// given consolidation keys
func (s *pgStore) SetXTdhRates(ctx context.Context, byConsolidationKey map[string]float64) error {
	return s.setBalanceColumnByCK(ctx, "xtdh_rate", byConsolidationKey)
}

// --- stats ------------------------------------------------------------------

// GetStatsMeta returns the stats meta row, or nil when never activated
func (s *pgStore) GetStatsMeta(ctx context.Context) (*schema.XTdhStatsMeta, error) {
	var meta schema.XTdhStatsMeta
	err := s.db.WithContext(ctx).Where("id = ?", 1).First(&meta).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get stats meta: %w", err)
	}
	return &meta, nil
}

// ReplaceGrantStats truncates the given slot's per-grant-token table and
// fills it with the given rows
func (s *pgStore) ReplaceGrantStats(ctx context.Context, slot domain.StatsSlot, rows []schema.XTdhTokenGrantStat) error {
	if !slot.Valid() {
		return fmt.Errorf("invalid stats slot %q", slot)
	}

	table := schema.GrantStatsTable(slot)
	err := s.db.WithContext(ctx).Exec("TRUNCATE TABLE " + table).Error
	if err != nil {
		return fmt.Errorf("failed to truncate %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil
	}

	batchSize := calculateSafeBatchSize(len(rows), 5)
	err = s.db.WithContext(ctx).Table(table).CreateInBatches(rows, batchSize).Error
	if err != nil {
		return fmt.Errorf("failed to fill %s: %w", table, err)
	}
	return nil
}

// ReplaceTokenStats truncates the given slot's per-token table and fills it
// with the given rows
func (s *pgStore) ReplaceTokenStats(ctx context.Context, slot domain.StatsSlot, rows []schema.XTdhTokenStat) error {
	if !slot.Valid() {
		return fmt.Errorf("invalid stats slot %q", slot)
	}

	table := schema.TokenStatsTable(slot)
	err := s.db.WithContext(ctx).Exec("TRUNCATE TABLE " + table).Error
	if err != nil {
		return fmt.Errorf("failed to truncate %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil
	}

	batchSize := calculateSafeBatchSize(len(rows), 8)
	err = s.db.WithContext(ctx).Table(table).CreateInBatches(rows, batchSize).Error
	if err != nil {
		return fmt.Errorf("failed to fill %s: %w", table, err)
	}
	return nil
}

// SumGrantedTotal returns the floored sum of xtdh_total over the slot's
// per-token table
func (s *pgStore) SumGrantedTotal(ctx context.Context, slot domain.StatsSlot) (float64, error) {
	if !slot.Valid() {
		return 0, fmt.Errorf("invalid stats slot %q", slot)
	}

	var total float64
	err := s.db.WithContext(ctx).
		Table(schema.TokenStatsTable(slot)).
		Select("COALESCE(FLOOR(SUM(xtdh_total)), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum granted total: %w", err)
	}
	return total, nil
}

// ActivateStatsSlot points readers at the given slot, recording the cutoff
// the slot was built for
func (s *pgStore) ActivateStatsSlot(ctx context.Context, slot domain.StatsSlot, asOfMidnight time.Time, at time.Time) error {
	if !slot.Valid() {
		return fmt.Errorf("invalid stats slot %q", slot)
	}

	meta := schema.XTdhStatsMeta{
		ID:            1,
		ActiveSlot:    slot,
		AsOfMidnight:  asOfMidnight,
		LastUpdatedAt: at,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"active_slot", "as_of_midnight", "last_updated_at"}),
		}).
		Create(&meta).Error
	if err != nil {
		return fmt.Errorf("failed to activate stats slot: %w", err)
	}
	return nil
}

// --- transactions -----------------------------------------------------------

// InTransaction reports whether this store is already scoped to a database
// transaction
func (s *pgStore) InTransaction() bool {
	return s.inTx
}

// Transaction runs fn inside a database transaction, passing a store scoped
// to it
func (s *pgStore) Transaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if s.inTx {
		// already transactional, reuse the scope
		return fn(ctx, s)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &pgStore{db: tx, inTx: true})
	})
}
