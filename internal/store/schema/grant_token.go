package schema

// XTdhGrantToken represents the xtdh_grant_tokens table - the explicit token
// set of an INCLUDE-mode grant. ALL-mode grants have no rows here.
type XTdhGrantToken struct {
	// GrantID references the owning grant
	GrantID string `gorm:"column:grant_id;primaryKey;type:text"`
	// TokenID is a token included in the grant's scope
	TokenID string `gorm:"column:token_id;primaryKey;type:text"`
}

// TableName specifies the table name for the XTdhGrantToken model
func (XTdhGrantToken) TableName() string {
	return "xtdh_grant_tokens"
}
