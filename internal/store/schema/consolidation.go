package schema

// AddressConsolidation represents the address_consolidations table - the
// mapping from on-chain addresses to the consolidation key that groups them
// into a single identity for accrual purposes
type AddressConsolidation struct {
	// Address is the on-chain address, lowercased
	Address string `gorm:"column:address;primaryKey;type:text"`
	// ConsolidationKey groups addresses belonging to the same identity
	ConsolidationKey string `gorm:"column:consolidation_key;not null;type:text;index:idx_address_consolidations_ck"`
}

// TableName specifies the table name for the AddressConsolidation model
func (AddressConsolidation) TableName() string {
	return "address_consolidations"
}
