package schema

import (
	"time"

	"github.com/6529-collections/xtdh-engine/internal/domain"
)

// XTdhGrant represents the xtdh_grants table - a promise by one identity to
// redirect part of the xTDH it produces to the holders of specific tokens
type XTdhGrant struct {
	// ID is the grant identifier (uuid for user-created grants, ulid for replacements)
	ID string `gorm:"column:id;primaryKey;type:text"`
	// ReplacedGrantID references the grant this one superseded during rate re-review
	ReplacedGrantID *string `gorm:"column:replaced_grant_id;type:text"`
	// GrantorID is the identity id of the grantor
	GrantorID string `gorm:"column:grantor_id;not null;type:text;index:idx_xtdh_grants_grantor"`
	// TargetPartition identifies the collection/contract scope of the grant
	TargetPartition string `gorm:"column:target_partition;not null;type:text;index:idx_xtdh_grants_partition"`
	// TokenMode is ALL (whole collection) or INCLUDE (enumerated token set)
	TokenMode domain.TokenMode `gorm:"column:token_mode;not null;type:text"`
	// TDHRate is the daily rate the grant redirects, spread over its denominator
	TDHRate float64 `gorm:"column:tdh_rate;not null;type:double precision"`
	// ValidFrom is the start of the grant's validity window
	ValidFrom time.Time `gorm:"column:valid_from;not null;type:timestamptz"`
	// ValidTo is the end of the validity window; NULL means open-ended
	ValidTo *time.Time `gorm:"column:valid_to;type:timestamptz"`
	// Status is the lifecycle state; only GRANTED grants participate in recomputation
	Status domain.GrantStatus `gorm:"column:status;not null;type:text;index:idx_xtdh_grants_status"`
	// Error carries the reason a grant was failed or disabled
	Error *string `gorm:"column:error;type:text"`
	// CreatedAt is the timestamp when this grant was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp when this grant was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the XTdhGrant model
func (XTdhGrant) TableName() string {
	return "xtdh_grants"
}

// Domain converts the row to its engine value type
func (g XTdhGrant) Domain() domain.Grant {
	return domain.Grant{
		ID:              g.ID,
		GrantorID:       g.GrantorID,
		TargetPartition: g.TargetPartition,
		TokenMode:       g.TokenMode,
		TDHRate:         g.TDHRate,
		ValidFrom:       g.ValidFrom,
		ValidTo:         g.ValidTo,
		Status:          g.Status,
	}
}
