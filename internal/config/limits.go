package config

const (
	// MaxAccountIDLength bounds account identifiers accepted by the ledger.
	MaxAccountIDLength = 64

	// MaxTransferAmount bounds a single transfer, well below the BIGINT range
	// so credits cannot overflow a balance.
	MaxTransferAmount = 1_000_000_000
)
