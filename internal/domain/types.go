package domain

import "time"

// TokenMode determines how a grant's token scope is resolved
type TokenMode string

const (
	// TokenModeAll spreads the grant over every token of the target partition
	TokenModeAll TokenMode = "ALL"
	// TokenModeInclude spreads the grant over an explicitly enumerated token set
	TokenModeInclude TokenMode = "INCLUDE"
)

// GrantStatus represents the lifecycle state of a grant
type GrantStatus string

const (
	// GrantStatusPending indicates a grant awaiting review
	GrantStatusPending GrantStatus = "PENDING"
	// GrantStatusGranted indicates an active grant that participates in recomputation
	GrantStatusGranted GrantStatus = "GRANTED"
	// GrantStatusFailed indicates a grant rejected by review
	GrantStatusFailed GrantStatus = "FAILED"
	// GrantStatusDisabled indicates a grant superseded by a replacement
	GrantStatusDisabled GrantStatus = "DISABLED"
)

// StatsSlot identifies one of the two alternating stats storage areas
type StatsSlot string

const (
	// StatsSlotA is the first stats slot
	StatsSlotA StatsSlot = "a"
	// StatsSlotB is the second stats slot
	StatsSlotB StatsSlot = "b"
)

// Other returns the opposite slot
func (s StatsSlot) Other() StatsSlot {
	if s == StatsSlotA {
		return StatsSlotB
	}
	return StatsSlotA
}

// Valid reports whether the slot is one of the two known values
func (s StatsSlot) Valid() bool {
	return s == StatsSlotA || s == StatsSlotB
}

// Grant is a time-bounded promise by one identity to redirect part of the
// xTDH it produces to whoever holds the tokens in its scope
type Grant struct {
	ID              string
	GrantorID       string
	TargetPartition string
	TokenMode       TokenMode
	TDHRate         float64
	ValidFrom       time.Time
	ValidTo         *time.Time
	Status          GrantStatus
}

// OwnershipEvent is one observed change of custody of one token.
// The feed is append-only and read-only to this engine.
type OwnershipEvent struct {
	Partition      string
	TokenID        string
	Owner          string
	SinceTime      time.Time
	SinceBlock     uint64
	LogIndex       uint64
	AcquiredAsSale bool
}

// Collection holds the metadata of one indexed partition
type Collection struct {
	Partition   string
	TotalSupply int64
	// HodlRate is the base daily xTDH production rate of one token in this collection
	HodlRate float64
}

// StatsTrigger asks the stats worker to rebuild and activate the inactive
// stats slot for the given cutoff
type StatsTrigger struct {
	Cutoff time.Time `json:"cutoff"`
}

// IdentityBalance is the full recomputed balance of one identity
type IdentityBalance struct {
	IdentityID string
	Produced   float64
	GrantedOut float64
	XTdh       float64
	XTdhRate   float64
}
