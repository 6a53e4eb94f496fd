package market

import (
	"errors"
	"fmt"
	"math/big"

	"chatten/core/events"
	"chatten/core/types"
	"chatten/native/token"
)

// Swap configuration. Fees are charged in basis points on the GAS leg of
// every conversion.
const (
	DefaultSwapFeeBps = 30
	MaxSwapFeeBps     = 500
	BpsDenominator    = 10_000
)

// MinSwapAmount is the dust guard applied to swap inputs in both directions:
// 0.01 units in base-unit terms.
var MinSwapAmount = big.NewInt(1_000_000)

var (
	// ErrPriceUnset marks swaps against a class with no oracle price.
	ErrPriceUnset = errors.New("market: price unset")
	// ErrBelowMinimum marks swap inputs under the dust guard.
	ErrBelowMinimum = errors.New("market: amount below minimum swap size")
	// ErrDust marks swaps whose output truncates to zero.
	ErrDust = errors.New("market: swap output rounds to zero")
	// ErrInsufficientReserve marks payouts exceeding the GAS reserve.
	ErrInsufficientReserve = errors.New("market: insufficient gas reserve")
	// ErrFeeOutOfRange marks fee configurations above MaxSwapFeeBps.
	ErrFeeOutOfRange = errors.New("market: fee out of range")
	// ErrInvalidAmount marks zero or negative swap inputs.
	ErrInvalidAmount = errors.New("market: invalid amount")
	errNilState      = errors.New("market: state not configured")
	errNilPayer      = errors.New("market: reserve payer not configured")
)

// state abstracts the subset of state manager functionality required by the
// swap engine.
type state interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// ledger is the slice of the token engine used for issuance during buys and
// destruction during sells.
type ledger interface {
	MintUnits(to types.Address, class types.ClassID, amount *big.Int, height uint64) error
	BurnUnits(owner types.Address, class types.ClassID, amount *big.Int) error
	AvailableBalance(owner types.Address, class types.ClassID) (*big.Int, error)
	SpendAllowance(owner, spender types.Address, class types.ClassID, amount *big.Int) error
}

// oracle is the slice of the pricing engine the swap engine quotes against.
type oracle interface {
	CurrentPrice(class types.ClassID) (*big.Int, error)
}

type authority interface {
	Guard() error
	RequireAdmin(caller types.Address) error
	EnterSwap() error
	ExitSwap() error
}

// ReservePayer is the capability used to move GAS out of the contract for
// sell payouts and admin withdrawals. It is supplied by the transaction
// context, never guessed at runtime.
type ReservePayer interface {
	PayGas(to types.Address, amount *big.Int) error
}

var (
	reserveKey = []byte("market/reserve/gas")
	feeKey     = []byte("market/fee/bps")
)

// Engine composes the ledger, the pricing oracle and the global GAS reserve
// into the embedded two-sided swap.
type Engine struct {
	state   state
	ledger  ledger
	oracle  oracle
	auth    authority
	emitter events.Emitter
}

// NewEngine constructs a swap engine bound to the provided backends.
func NewEngine(st state, ledger ledger, oracle oracle, auth authority) *Engine {
	return &Engine{state: st, ledger: ledger, oracle: oracle, auth: auth, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(event)
}

// GasReserve returns the current reserve balance. Missing reads as zero.
func (e *Engine) GasReserve() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	reserve := new(big.Int)
	ok, err := e.state.KVGet(reserveKey, reserve)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return reserve, nil
}

// SwapFeeBps returns the configured fee, falling back to the protocol default
// when none has been stored.
func (e *Engine) SwapFeeBps() (uint32, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	var fee uint32
	ok, err := e.state.KVGet(feeKey, &fee)
	if err != nil {
		return 0, err
	}
	if !ok {
		return DefaultSwapFeeBps, nil
	}
	return fee, nil
}

// SetSwapFee configures the swap fee. Admin only, bounded by MaxSwapFeeBps.
func (e *Engine) SetSwapFee(caller types.Address, feeBps uint32) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.auth.Guard(); err != nil {
		return err
	}
	if err := e.auth.RequireAdmin(caller); err != nil {
		return err
	}
	if feeBps > MaxSwapFeeBps {
		return ErrFeeOutOfRange
	}
	if err := e.state.KVPut(feeKey, feeBps); err != nil {
		return err
	}
	e.emit(events.SwapFee{FeeBps: feeBps})
	return nil
}

// BuyQuote previews the COMPUTE minted for gasIn. Zero when the price is
// unset or the input is under the dust guard. Quote and execution share one
// arithmetic path, so previews always match the amounts actually produced.
func (e *Engine) BuyQuote(class types.ClassID, gasIn *big.Int) (*big.Int, error) {
	if e == nil || e.oracle == nil {
		return nil, errNilState
	}
	if gasIn == nil || gasIn.Cmp(MinSwapAmount) < 0 {
		return big.NewInt(0), nil
	}
	price, err := e.oracle.CurrentPrice(class)
	if err != nil {
		return nil, err
	}
	if price.Sign() == 0 {
		return big.NewInt(0), nil
	}
	feeBps, err := e.SwapFeeBps()
	if err != nil {
		return nil, err
	}
	minted, _ := buyAmounts(gasIn, price, feeBps)
	return minted, nil
}

// SellQuote previews the GAS paid out for computeIn. Zero when the price is
// unset or the input is under the dust guard.
func (e *Engine) SellQuote(class types.ClassID, computeIn *big.Int) (*big.Int, error) {
	if e == nil || e.oracle == nil {
		return nil, errNilState
	}
	if computeIn == nil || computeIn.Cmp(MinSwapAmount) < 0 {
		return big.NewInt(0), nil
	}
	price, err := e.oracle.CurrentPrice(class)
	if err != nil {
		return nil, err
	}
	if price.Sign() == 0 {
		return big.NewInt(0), nil
	}
	feeBps, err := e.SwapFeeBps()
	if err != nil {
		return nil, err
	}
	net, _ := sellAmounts(computeIn, price, feeBps)
	return net, nil
}

// Buy converts gasIn reserve units into freshly minted COMPUTE for the buyer.
// The full input, fee included, is credited to the reserve; truncation always
// rounds in the protocol's favour. Returns the minted amount.
func (e *Engine) Buy(buyer types.Address, class types.ClassID, gasIn *big.Int, height uint64) (*big.Int, error) {
	if e == nil || e.state == nil || e.ledger == nil {
		return nil, errNilState
	}
	if err := e.auth.Guard(); err != nil {
		return nil, err
	}
	if err := e.auth.EnterSwap(); err != nil {
		return nil, err
	}
	if buyer == types.ZeroAddress {
		return nil, fmt.Errorf("market: buyer must not be the zero address")
	}
	if gasIn == nil || gasIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if gasIn.Cmp(MinSwapAmount) < 0 {
		return nil, ErrBelowMinimum
	}
	price, err := e.oracle.CurrentPrice(class)
	if err != nil {
		return nil, err
	}
	if price.Sign() == 0 {
		return nil, ErrPriceUnset
	}
	feeBps, err := e.SwapFeeBps()
	if err != nil {
		return nil, err
	}
	minted, fee := buyAmounts(gasIn, price, feeBps)
	if minted.Sign() == 0 {
		return nil, ErrDust
	}
	if err := e.ledger.MintUnits(buyer, class, minted, height); err != nil {
		return nil, err
	}
	if err := e.adjustReserve(gasIn); err != nil {
		return nil, err
	}
	if err := e.auth.ExitSwap(); err != nil {
		return nil, err
	}
	e.emit(events.SwapBuy{Buyer: buyer, Class: class, GasIn: new(big.Int).Set(gasIn), Fee: fee, Minted: new(big.Int).Set(minted)})
	return minted, nil
}

// Sell converts computeIn into a GAS payout for the seller. A caller other
// than the seller spends a standing approval, mirroring transfer delegation.
// The burn and the reserve debit land before the external payout so internal
// state already reflects the completed swap when the first externally
// observable side effect occurs, and the reentrancy flag stays raised until
// the payout returns. Returns the net payout.
func (e *Engine) Sell(caller, seller types.Address, class types.ClassID, computeIn *big.Int, payer ReservePayer) (*big.Int, error) {
	if e == nil || e.state == nil || e.ledger == nil {
		return nil, errNilState
	}
	if err := e.auth.Guard(); err != nil {
		return nil, err
	}
	if err := e.auth.EnterSwap(); err != nil {
		return nil, err
	}
	if payer == nil {
		return nil, errNilPayer
	}
	if computeIn == nil || computeIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if computeIn.Cmp(MinSwapAmount) < 0 {
		return nil, ErrBelowMinimum
	}
	if caller != seller {
		if err := e.ledger.SpendAllowance(seller, caller, class, computeIn); err != nil {
			return nil, err
		}
	}
	available, err := e.ledger.AvailableBalance(seller, class)
	if err != nil {
		return nil, err
	}
	if available.Cmp(computeIn) < 0 {
		return nil, token.ErrInsufficientBalance
	}
	price, err := e.oracle.CurrentPrice(class)
	if err != nil {
		return nil, err
	}
	if price.Sign() == 0 {
		return nil, ErrPriceUnset
	}
	feeBps, err := e.SwapFeeBps()
	if err != nil {
		return nil, err
	}
	net, fee := sellAmounts(computeIn, price, feeBps)
	if net.Sign() == 0 {
		return nil, ErrDust
	}
	reserve, err := e.GasReserve()
	if err != nil {
		return nil, err
	}
	if reserve.Cmp(net) < 0 {
		return nil, ErrInsufficientReserve
	}
	if err := e.ledger.BurnUnits(seller, class, computeIn); err != nil {
		return nil, err
	}
	if err := e.adjustReserve(new(big.Int).Neg(net)); err != nil {
		return nil, err
	}
	if err := payer.PayGas(seller, new(big.Int).Set(net)); err != nil {
		return nil, fmt.Errorf("market: gas payout failed: %w", err)
	}
	if err := e.auth.ExitSwap(); err != nil {
		return nil, err
	}
	e.emit(events.SwapSell{Seller: seller, Class: class, ComputeIn: new(big.Int).Set(computeIn), Fee: fee, GasOut: new(big.Int).Set(net)})
	return net, nil
}

// DepositReserve credits GAS arriving outside of a buy, e.g. a direct
// reserve top-up through the payment callback.
func (e *Engine) DepositReserve(from types.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := e.adjustReserve(amount); err != nil {
		return err
	}
	e.emit(events.ReserveDeposit{From: from, Amount: new(big.Int).Set(amount)})
	return nil
}

// WithdrawReserve moves accumulated fee revenue out of the reserve. Admin
// only; the reserve debit lands before the external payout, mirroring Sell.
func (e *Engine) WithdrawReserve(caller, to types.Address, amount *big.Int, payer ReservePayer) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.auth.Guard(); err != nil {
		return err
	}
	if err := e.auth.RequireAdmin(caller); err != nil {
		return err
	}
	if payer == nil {
		return errNilPayer
	}
	if to == types.ZeroAddress {
		return fmt.Errorf("market: withdrawal target must not be the zero address")
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	reserve, err := e.GasReserve()
	if err != nil {
		return err
	}
	if reserve.Cmp(amount) < 0 {
		return ErrInsufficientReserve
	}
	if err := e.adjustReserve(new(big.Int).Neg(amount)); err != nil {
		return err
	}
	if err := payer.PayGas(to, new(big.Int).Set(amount)); err != nil {
		return fmt.Errorf("market: gas payout failed: %w", err)
	}
	e.emit(events.ReserveWithdraw{To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

func (e *Engine) adjustReserve(delta *big.Int) error {
	reserve, err := e.GasReserve()
	if err != nil {
		return err
	}
	reserve.Add(reserve, delta)
	if reserve.Sign() < 0 {
		return ErrInsufficientReserve
	}
	if reserve.Sign() == 0 {
		return e.state.KVDelete(reserveKey)
	}
	return e.state.KVPut(reserveKey, reserve)
}

// buyAmounts computes (minted, fee) for a buy: fee is charged on the GAS
// input, the remainder divided by the spot price at token scale. Integer
// division truncates toward the protocol on both steps.
func buyAmounts(gasIn, price *big.Int, feeBps uint32) (*big.Int, *big.Int) {
	fee := new(big.Int).Mul(gasIn, new(big.Int).SetUint64(uint64(feeBps)))
	fee.Quo(fee, big.NewInt(BpsDenominator))
	net := new(big.Int).Sub(gasIn, fee)
	minted := new(big.Int).Mul(net, token.OneToken)
	minted.Quo(minted, price)
	return minted, fee
}

// sellAmounts computes (net, fee) for a sell: the gross GAS value at the
// spot price, minus the fee charged on that gross.
func sellAmounts(computeIn, price *big.Int, feeBps uint32) (*big.Int, *big.Int) {
	gross := new(big.Int).Mul(computeIn, price)
	gross.Quo(gross, token.OneToken)
	fee := new(big.Int).Mul(gross, new(big.Int).SetUint64(uint64(feeBps)))
	fee.Quo(fee, big.NewInt(BpsDenominator))
	net := new(big.Int).Sub(gross, fee)
	return net, fee
}
