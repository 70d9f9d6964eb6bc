package schema

import "github.com/6529-collections/xtdh-engine/internal/domain"

// Collection represents the collections table - the registered partitions the
// engine produces xTDH for, with their base accrual parameters
type Collection struct {
	// Partition is the collection/contract identifier
	Partition string `gorm:"column:partition;primaryKey;type:text"`
	// TotalSupply is the number of tokens in the collection
	TotalSupply int64 `gorm:"column:total_supply;not null"`
	// HodlRate is the per-token daily accrual rate for holders
	HodlRate float64 `gorm:"column:hodl_rate;not null;type:double precision"`
}

// TableName specifies the table name for the Collection model
func (Collection) TableName() string {
	return "collections"
}

// Domain converts the row to its engine value type
func (c Collection) Domain() domain.Collection {
	return domain.Collection{
		Partition:   c.Partition,
		TotalSupply: c.TotalSupply,
		HodlRate:    c.HodlRate,
	}
}
