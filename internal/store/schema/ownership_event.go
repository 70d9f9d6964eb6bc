package schema

import (
	"time"

	"github.com/6529-collections/xtdh-engine/internal/domain"
)

// OwnershipEvent represents the ownership_events table - the append-only
// record of token ownership changes the allocation engine replays each run.
// Rows are never updated or deleted by this module.
type OwnershipEvent struct {
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	// Partition identifies the collection/contract the token belongs to
	Partition string `gorm:"column:partition;not null;type:text;index:idx_ownership_events_token,priority:1"`
	// TokenID identifies the token within the partition
	TokenID string `gorm:"column:token_id;not null;type:text;index:idx_ownership_events_token,priority:2"`
	// Owner is the address that acquired the token
	Owner string `gorm:"column:owner;not null;type:text"`
	// SinceTime is when the ownership began
	SinceTime time.Time `gorm:"column:since_time;not null;type:timestamptz"`
	// SinceBlock orders events that share the same timestamp
	SinceBlock uint64 `gorm:"column:since_block;not null"`
	// LogIndex orders events within the same block
	LogIndex uint64 `gorm:"column:log_index;not null"`
	// AcquiredAsSale marks transfers that reset the holding window
	AcquiredAsSale bool `gorm:"column:acquired_as_sale;not null"`
}

// TableName specifies the table name for the OwnershipEvent model
func (OwnershipEvent) TableName() string {
	return "ownership_events"
}

// Domain converts the row to its engine value type
func (e OwnershipEvent) Domain() domain.OwnershipEvent {
	return domain.OwnershipEvent{
		Partition:      e.Partition,
		TokenID:        e.TokenID,
		Owner:          e.Owner,
		SinceTime:      e.SinceTime,
		SinceBlock:     e.SinceBlock,
		LogIndex:       e.LogIndex,
		AcquiredAsSale: e.AcquiredAsSale,
	}
}
