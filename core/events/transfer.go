package events

import (
	"math/big"

	"chatten/core/types"
)

const (
	// TypeTransfer is emitted for every COMPUTE balance movement. Mints and
	// burns use the zero address as the from/to sentinel respectively.
	TypeTransfer = "transfer.compute"
)

type Transfer struct {
	From   types.Address
	To     types.Address
	Amount *big.Int
	Class  types.ClassID
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	return &types.Event{Type: TypeTransfer, Attributes: map[string]string{
		"from":   types.FormatAddress(e.From),
		"to":     types.FormatAddress(e.To),
		"amount": formatAmount(e.Amount),
		"class":  types.FormatClassID(e.Class),
	}}
}
