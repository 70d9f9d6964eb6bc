package schema

import (
	"time"

	"github.com/6529-collections/xtdh-engine/internal/domain"
)

// XTdhStatsMeta represents the single-row xtdh_stats_meta table telling
// readers which stats slot is live. The materializer fills the inactive slot
// and flips ActiveSlot as its last write.
type XTdhStatsMeta struct {
	// ID is always 1
	ID int `gorm:"column:id;primaryKey"`
	// ActiveSlot is the slot readers should query ("a" or "b")
	ActiveSlot domain.StatsSlot `gorm:"column:active_slot;not null;type:text"`
	// AsOfMidnight is the UTC-midnight cutoff the active slot was built for
	AsOfMidnight time.Time `gorm:"column:as_of_midnight;not null;type:timestamptz"`
	// LastUpdatedAt is when the active slot was flipped
	LastUpdatedAt time.Time `gorm:"column:last_updated_at;not null;type:timestamptz"`
}

// TableName specifies the table name for the XTdhStatsMeta model
func (XTdhStatsMeta) TableName() string {
	return "xtdh_stats_meta"
}
