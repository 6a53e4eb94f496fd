package events

import (
	"math/big"

	"chatten/core/types"
)

const (
	// TypePriceUpdated is emitted when an oracle pushes a new spot price.
	TypePriceUpdated = "price.updated"
	// TypePriceFloor is emitted when the admin adjusts or removes a floor.
	TypePriceFloor = "price.floor"
)

type PriceUpdated struct {
	Class  types.ClassID
	Price  *big.Int
	Oracle types.Address
	Height uint64
}

func (PriceUpdated) EventType() string { return TypePriceUpdated }

func (e PriceUpdated) Event() *types.Event {
	return &types.Event{Type: TypePriceUpdated, Attributes: map[string]string{
		"class":  types.FormatClassID(e.Class),
		"price":  formatAmount(e.Price),
		"oracle": types.FormatAddress(e.Oracle),
		"height": formatHeight(e.Height),
	}}
}

type PriceFloor struct {
	Class types.ClassID
	Floor *big.Int
}

func (PriceFloor) EventType() string { return TypePriceFloor }

func (e PriceFloor) Event() *types.Event {
	return &types.Event{Type: TypePriceFloor, Attributes: map[string]string{
		"class": types.FormatClassID(e.Class),
		"floor": formatAmount(e.Floor),
	}}
}
