package schema

import "github.com/6529-collections/xtdh-engine/internal/domain"

// XTdhTokenGrantStat is a row of the double-buffered per-grant-token stats
// tables (xtdh_token_grant_stats_a / xtdh_token_grant_stats_b). Each row
// describes how much xTDH one grant has accumulated on one token's current
// holding run. Only rows with a positive total are materialized.
type XTdhTokenGrantStat struct {
	// GrantID references the grant the stat belongs to
	GrantID string `gorm:"column:grant_id;primaryKey;type:text"`
	// Partition identifies the token's collection
	Partition string `gorm:"column:partition;primaryKey;type:text"`
	// TokenID identifies the token within the partition
	TokenID string `gorm:"column:token_id;primaryKey;type:text"`
	// XTdhTotal is the accumulated contribution of the grant to this token
	XTdhTotal float64 `gorm:"column:xtdh_total;not null;type:double precision"`
	// XTdhRateDaily is the matured daily rate; zero until the holding matures
	XTdhRateDaily float64 `gorm:"column:xtdh_rate_daily;not null;type:double precision"`
}

// GrantStatsTable returns the physical table backing the given stats slot
func GrantStatsTable(slot domain.StatsSlot) string {
	return "xtdh_token_grant_stats_" + string(slot)
}
