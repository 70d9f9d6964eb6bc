package schema

import "time"

// Identity represents the identities table - one row per consolidation key,
// carrying the engine-maintained xTDH balances
type Identity struct {
	// ID is the identity identifier (uuid)
	ID string `gorm:"column:id;primaryKey;type:text"`
	// ConsolidationKey links the identity to its address group
	ConsolidationKey string `gorm:"column:consolidation_key;not null;uniqueIndex:uq_identities_ck;type:text"`
	// ProducedXTdh is the total xTDH the identity produced up to the cutoff
	ProducedXTdh float64 `gorm:"column:produced_xtdh;not null;default:0;type:double precision"`
	// GrantedXTdh is the portion of produced xTDH given away through grants
	GrantedXTdh float64 `gorm:"column:granted_xtdh;not null;default:0;type:double precision"`
	// XTdh is the spendable balance: received through grants plus retained remainder
	XTdh float64 `gorm:"column:xtdh;not null;default:0;type:double precision"`
	// XTdhRate is the identity's current daily accrual rate
	XTdhRate float64 `gorm:"column:xtdh_rate;not null;default:0;type:double precision"`
	// CreatedAt is the timestamp when this identity was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp when this identity was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the Identity model
func (Identity) TableName() string {
	return "identities"
}
