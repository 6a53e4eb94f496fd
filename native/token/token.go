package token

import (
	"math/big"

	"chatten/core/types"
)

// Token configuration for the COMPUTE divisible multi-class token.
const (
	Symbol   = "COMPUTE"
	Name     = "Chatten Compute Token"
	Decimals = 8

	// MinQualityScore is the lowest quality score eligible for minting.
	MinQualityScore = 50
	// MaxQualityScore caps the quality score range.
	MaxQualityScore = 100
)

// OneToken is the base-unit scale of the token (10^Decimals).
var OneToken = big.NewInt(100_000_000)

// ClassMetadata describes one registered model class. Records are created
// lazily on the first mint or the first oracle price update.
type ClassMetadata struct {
	Name      string
	Quality   uint8
	CreatedAt uint64
}

// Receiver is the typed capability a caller supplies when the transfer
// recipient is contract-capable. The callback runs synchronously inside the
// transfer invocation; an error aborts the whole transfer.
type Receiver interface {
	OnTokenPayment(from types.Address, amount *big.Int, class types.ClassID, payload []byte) error
}

// CollateralView exposes the locked amount per (owner, class) so the ledger
// can compute spendable balances.
type CollateralView interface {
	LockedBalance(owner types.Address, class types.ClassID) (*big.Int, error)
}
