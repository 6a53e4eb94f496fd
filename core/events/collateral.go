package events

import (
	"math/big"

	"chatten/core/types"
)

const (
	// TypeLocked is emitted when COMPUTE is locked as collateral.
	TypeLocked = "collateral.locked"
	// TypeUnlocked is emitted when a matured lock is released.
	TypeUnlocked = "collateral.unlocked"
)

type Locked struct {
	Owner        types.Address
	Class        types.ClassID
	Amount       *big.Int
	UnlockHeight uint64
}

func (Locked) EventType() string { return TypeLocked }

func (e Locked) Event() *types.Event {
	return &types.Event{Type: TypeLocked, Attributes: map[string]string{
		"owner":        types.FormatAddress(e.Owner),
		"class":        types.FormatClassID(e.Class),
		"amount":       formatAmount(e.Amount),
		"unlockHeight": formatHeight(e.UnlockHeight),
	}}
}

type Unlocked struct {
	Owner  types.Address
	Class  types.ClassID
	Amount *big.Int
}

func (Unlocked) EventType() string { return TypeUnlocked }

func (e Unlocked) Event() *types.Event {
	return &types.Event{Type: TypeUnlocked, Attributes: map[string]string{
		"owner":  types.FormatAddress(e.Owner),
		"class":  types.FormatClassID(e.Class),
		"amount": formatAmount(e.Amount),
	}}
}
