package domain

const (
	// EthereumZeroAddress is the owner recorded for tokens with no resolvable holder
	EthereumZeroAddress = "0x0000000000000000000000000000000000000000"

	// EpochDateLayout is the wire format of the engine epoch date (UTC midnight)
	EpochDateLayout = "02-01-2006"
)
