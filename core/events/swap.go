package events

import (
	"math/big"

	"chatten/core/types"
)

const (
	// TypeSwapBuy is emitted when GAS is converted into COMPUTE.
	TypeSwapBuy = "swap.buy"
	// TypeSwapSell is emitted when COMPUTE is converted back into GAS.
	TypeSwapSell = "swap.sell"
	// TypeSwapFee is emitted when the admin updates the swap fee.
	TypeSwapFee = "swap.fee"
	// TypeReserveDeposit is emitted when GAS arrives in the reserve outside
	// of a buy, e.g. a direct top-up.
	TypeReserveDeposit = "reserve.deposit"
	// TypeReserveWithdraw is emitted when the admin withdraws reserve GAS.
	TypeReserveWithdraw = "reserve.withdraw"
)

type SwapBuy struct {
	Buyer  types.Address
	Class  types.ClassID
	GasIn  *big.Int
	Fee    *big.Int
	Minted *big.Int
}

func (SwapBuy) EventType() string { return TypeSwapBuy }

func (e SwapBuy) Event() *types.Event {
	return &types.Event{Type: TypeSwapBuy, Attributes: map[string]string{
		"buyer":  types.FormatAddress(e.Buyer),
		"class":  types.FormatClassID(e.Class),
		"gasIn":  formatAmount(e.GasIn),
		"fee":    formatAmount(e.Fee),
		"minted": formatAmount(e.Minted),
	}}
}

type SwapSell struct {
	Seller    types.Address
	Class     types.ClassID
	ComputeIn *big.Int
	Fee       *big.Int
	GasOut    *big.Int
}

func (SwapSell) EventType() string { return TypeSwapSell }

func (e SwapSell) Event() *types.Event {
	return &types.Event{Type: TypeSwapSell, Attributes: map[string]string{
		"seller":    types.FormatAddress(e.Seller),
		"class":     types.FormatClassID(e.Class),
		"computeIn": formatAmount(e.ComputeIn),
		"fee":       formatAmount(e.Fee),
		"gasOut":    formatAmount(e.GasOut),
	}}
}

type SwapFee struct {
	FeeBps uint32
}

func (SwapFee) EventType() string { return TypeSwapFee }

func (e SwapFee) Event() *types.Event {
	return &types.Event{Type: TypeSwapFee, Attributes: map[string]string{
		"feeBps": formatHeight(uint64(e.FeeBps)),
	}}
}

type ReserveDeposit struct {
	From   types.Address
	Amount *big.Int
}

func (ReserveDeposit) EventType() string { return TypeReserveDeposit }

func (e ReserveDeposit) Event() *types.Event {
	return &types.Event{Type: TypeReserveDeposit, Attributes: map[string]string{
		"from":   types.FormatAddress(e.From),
		"amount": formatAmount(e.Amount),
	}}
}

type ReserveWithdraw struct {
	To     types.Address
	Amount *big.Int
}

func (ReserveWithdraw) EventType() string { return TypeReserveWithdraw }

func (e ReserveWithdraw) Event() *types.Event {
	return &types.Event{Type: TypeReserveWithdraw, Attributes: map[string]string{
		"to":     types.FormatAddress(e.To),
		"amount": formatAmount(e.Amount),
	}}
}
