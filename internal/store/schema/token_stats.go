package schema

import "github.com/6529-collections/xtdh-engine/internal/domain"

// XTdhTokenStat is a row of the double-buffered per-token rollup tables
// (xtdh_token_stats_a / xtdh_token_stats_b), aggregating all grants touching
// one token.
type XTdhTokenStat struct {
	// Partition identifies the token's collection
	Partition string `gorm:"column:partition;primaryKey;type:text"`
	// TokenID identifies the token within the partition
	TokenID string `gorm:"column:token_id;primaryKey;type:text"`
	// Owner is the token's owner at the cutoff; zero address when never owned
	Owner string `gorm:"column:owner;not null;type:text"`
	// XTdhTotal is the total accumulated contribution across all grants
	XTdhTotal float64 `gorm:"column:xtdh_total;not null;type:double precision"`
	// XTdhRateDaily is the total matured daily rate across all grants
	XTdhRateDaily float64 `gorm:"column:xtdh_rate_daily;not null;type:double precision"`
	// GrantCount is the number of distinct grants contributing to the token
	GrantCount int64 `gorm:"column:grant_count;not null"`
	// TotalContributorCount is the number of distinct grantors that ever
	// contributed to the token
	TotalContributorCount int64 `gorm:"column:total_contributor_count;not null"`
	// ActiveContributorCount is the number of distinct grantors whose grants
	// still contributed at the last midnight
	ActiveContributorCount int64 `gorm:"column:active_contributor_count;not null"`
}

// TokenStatsTable returns the physical table backing the given stats slot
func TokenStatsTable(slot domain.StatsSlot) string {
	return "xtdh_token_stats_" + string(slot)
}
