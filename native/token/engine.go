package token

import (
	"errors"
	"fmt"
	"math/big"

	"chatten/core/events"
	"chatten/core/types"
	"chatten/native/access"
)

var (
	// ErrInsufficientBalance marks debits exceeding the spendable balance
	// (balance minus locked collateral).
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	// ErrInvalidAmount marks zero or negative amounts.
	ErrInvalidAmount = errors.New("token: invalid amount")
	// ErrQualityScore marks mint requests outside the accepted score range.
	ErrQualityScore = errors.New("token: quality score out of range")
	errNilState     = errors.New("token: state not configured")
)

// authority is the slice of the access controller consulted by ledger
// operations.
type authority interface {
	Guard() error
	RequireMinter(caller types.Address) error
}

// Engine owns balances, per-class supply, total supply, approvals and the
// owner index. All mutation is routed through its typed accessors so the
// sparse-storage and index-sync invariants hold everywhere.
type Engine struct {
	state      state
	auth       authority
	collateral CollateralView
	emitter    events.Emitter
}

// NewEngine constructs a ledger engine bound to the provided state backend
// and access controller.
func NewEngine(st state, auth authority) *Engine {
	return &Engine{state: st, auth: auth, emitter: events.NoopEmitter{}}
}

// SetCollateral wires the collateral view consulted for spendable balances.
// Without one every balance is treated as fully spendable.
func (e *Engine) SetCollateral(view CollateralView) { e.collateral = view }

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

// --- Reads ---

// BalanceOfToken returns the balance held for one class. Missing records read
// as zero.
func (e *Engine) BalanceOfToken(owner types.Address, class types.ClassID) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.readAmount(balanceKey(owner, class))
}

// BalanceOf returns the aggregate balance across every class the owner holds.
func (e *Engine) BalanceOf(owner types.Address) (*big.Int, error) {
	classes, err := e.TokensOf(owner)
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, class := range classes {
		balance, err := e.BalanceOfToken(owner, class)
		if err != nil {
			return nil, err
		}
		total.Add(total, balance)
	}
	return total, nil
}

// TokensOf lists the classes with a nonzero balance for the owner.
func (e *Engine) TokensOf(owner types.Address) ([]types.ClassID, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var raw [][]byte
	if err := e.state.KVGetList(accountIndexKey(owner), &raw); err != nil {
		return nil, err
	}
	classes := make([]types.ClassID, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != 32 {
			return nil, fmt.Errorf("token: malformed class id in owner index")
		}
		var class types.ClassID
		copy(class[:], entry)
		classes = append(classes, class)
	}
	return classes, nil
}

// TokenSupply returns the minted-minus-burned supply of one class.
func (e *Engine) TokenSupply(class types.ClassID) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.readAmount(supplyKey(class))
}

// TotalSupply returns the supply summed across all classes.
func (e *Engine) TotalSupply() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.readAmount(totalSupplyKey)
}

// Allowance returns the remaining approval for the spender. Missing records
// read as zero.
func (e *Engine) Allowance(owner types.Address, spender types.Address, class types.ClassID) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.readAmount(approvalKey(owner, class, spender))
}

// SpendAllowance consumes part of a standing approval on behalf of another
// engine acting for the spender. Fails with access.ErrUnauthorized when the
// remaining approval falls short.
func (e *Engine) SpendAllowance(owner, spender types.Address, class types.ClassID, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return e.spendAllowance(owner, spender, amount, class)
}

// LockedBalance returns the collateral currently locked for (owner, class).
func (e *Engine) LockedBalance(owner types.Address, class types.ClassID) (*big.Int, error) {
	if e == nil {
		return nil, errNilState
	}
	if e.collateral == nil {
		return big.NewInt(0), nil
	}
	return e.collateral.LockedBalance(owner, class)
}

// AvailableBalance returns balance minus locked collateral, floored at zero.
func (e *Engine) AvailableBalance(owner types.Address, class types.ClassID) (*big.Int, error) {
	balance, err := e.BalanceOfToken(owner, class)
	if err != nil {
		return nil, err
	}
	locked, err := e.LockedBalance(owner, class)
	if err != nil {
		return nil, err
	}
	available := new(big.Int).Sub(balance, locked)
	if available.Sign() < 0 {
		available.SetInt64(0)
	}
	return available, nil
}

// Class returns the lazily-registered metadata for a class, when present.
func (e *Engine) Class(class types.ClassID) (*ClassMetadata, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	var meta ClassMetadata
	ok, err := e.state.KVGet(classKey(class), &meta)
	if err != nil || !ok {
		return nil, false, err
	}
	return &meta, true, nil
}

// Classes lists every registered class id.
func (e *Engine) Classes() ([]types.ClassID, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var raw [][]byte
	if err := e.state.KVGetList(classIndexKey, &raw); err != nil {
		return nil, err
	}
	classes := make([]types.ClassID, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != 32 {
			return nil, fmt.Errorf("token: malformed class id in class index")
		}
		var class types.ClassID
		copy(class[:], entry)
		classes = append(classes, class)
	}
	return classes, nil
}

// --- Mutations ---

// Approve grants the spender an allowance over the owner's holdings of one
// class. A zero amount clears the record.
func (e *Engine) Approve(owner, spender types.Address, amount *big.Int, class types.ClassID) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.auth.Guard(); err != nil {
		return err
	}
	if spender == types.ZeroAddress {
		return fmt.Errorf("token: spender must not be the zero address")
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return e.writeAmount(approvalKey(owner, class, spender), amount)
}

// Transfer moves amount of class from one owner to another. The caller must
// be the sender (witnessed upstream) or hold a sufficient allowance. When the
// recipient is contract-capable the supplied receiver capability is invoked
// synchronously; its failure aborts the transfer.
func (e *Engine) Transfer(caller, from, to types.Address, amount *big.Int, class types.ClassID, payload []byte, receiver Receiver) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.auth.Guard(); err != nil {
		return err
	}
	if to == types.ZeroAddress {
		return fmt.Errorf("token: recipient must not be the zero address")
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if caller != from {
		if err := e.spendAllowance(from, caller, amount, class); err != nil {
			return err
		}
	}
	available, err := e.AvailableBalance(from, class)
	if err != nil {
		return err
	}
	if available.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := e.debit(from, class, amount); err != nil {
		return err
	}
	if err := e.credit(to, class, amount); err != nil {
		return err
	}
	e.emit(events.Transfer{From: from, To: to, Amount: new(big.Int).Set(amount), Class: class})
	if receiver != nil {
		if err := receiver.OnTokenPayment(from, new(big.Int).Set(amount), class, payload); err != nil {
			return fmt.Errorf("token: payment callback rejected: %w", err)
		}
	}
	return nil
}

// Mint issues new COMPUTE for a model whose oracle-verified quality score
// clears the minting threshold. The minted amount scales the compute units by
// score/100, truncating in the protocol's favour. Returns the class id and
// the minted amount.
func (e *Engine) Mint(caller, to types.Address, modelName string, qScore uint64, computeUnits *big.Int, height uint64) (types.ClassID, *big.Int, error) {
	if e == nil || e.state == nil {
		return types.ClassID{}, nil, errNilState
	}
	if err := e.auth.Guard(); err != nil {
		return types.ClassID{}, nil, err
	}
	if err := e.auth.RequireMinter(caller); err != nil {
		return types.ClassID{}, nil, err
	}
	if to == types.ZeroAddress {
		return types.ClassID{}, nil, fmt.Errorf("token: mint recipient must not be the zero address")
	}
	if qScore < MinQualityScore || qScore > MaxQualityScore {
		return types.ClassID{}, nil, ErrQualityScore
	}
	if computeUnits == nil || computeUnits.Sign() <= 0 {
		return types.ClassID{}, nil, ErrInvalidAmount
	}
	amount := new(big.Int).Mul(computeUnits, new(big.Int).SetUint64(qScore))
	amount.Quo(amount, big.NewInt(100))
	if amount.Sign() == 0 {
		return types.ClassID{}, nil, ErrInvalidAmount
	}
	class := types.ClassIDForModel(modelName)
	if err := e.registerClass(class, modelName, uint8(qScore), height); err != nil {
		return types.ClassID{}, nil, err
	}
	if err := e.MintUnits(to, class, amount, height); err != nil {
		return types.ClassID{}, nil, err
	}
	return class, amount, nil
}

// Burn destroys amount of class held by owner. Witnessing (caller == owner)
// is enforced here; locked collateral is never burnable.
func (e *Engine) Burn(caller, owner types.Address, class types.ClassID, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.auth.Guard(); err != nil {
		return err
	}
	if caller != owner {
		return access.ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return e.BurnUnits(owner, class, amount)
}

// MintUnits is the issuance primitive shared with the swap engine and the
// provider registry. Role checks belong to the callers; this primitive only
// maintains the balance, supply and index invariants as one unit. The
// transfer event carries the zero-address sender sentinel.
func (e *Engine) MintUnits(to types.Address, class types.ClassID, amount *big.Int, height uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := e.ensureClass(class, height); err != nil {
		return err
	}
	if err := e.credit(to, class, amount); err != nil {
		return err
	}
	if err := e.adjustSupply(class, amount); err != nil {
		return err
	}
	e.emit(events.Transfer{From: types.ZeroAddress, To: to, Amount: new(big.Int).Set(amount), Class: class})
	return nil
}

// BurnUnits is the destruction primitive shared with the swap engine. It
// refuses to consume locked collateral and emits the zero-address recipient
// sentinel.
func (e *Engine) BurnUnits(owner types.Address, class types.ClassID, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	available, err := e.AvailableBalance(owner, class)
	if err != nil {
		return err
	}
	if available.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := e.debit(owner, class, amount); err != nil {
		return err
	}
	if err := e.adjustSupply(class, new(big.Int).Neg(amount)); err != nil {
		return err
	}
	e.emit(events.Transfer{From: owner, To: types.ZeroAddress, Amount: new(big.Int).Set(amount), Class: class})
	return nil
}

// --- Internals ---

func (e *Engine) spendAllowance(owner, spender types.Address, amount *big.Int, class types.ClassID) error {
	allowance, err := e.Allowance(owner, spender, class)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return access.ErrUnauthorized
	}
	remaining := new(big.Int).Sub(allowance, amount)
	return e.writeAmount(approvalKey(owner, class, spender), remaining)
}

func (e *Engine) credit(owner types.Address, class types.ClassID, amount *big.Int) error {
	key := balanceKey(owner, class)
	balance, err := e.readAmount(key)
	if err != nil {
		return err
	}
	hadBalance := balance.Sign() > 0
	balance.Add(balance, amount)
	if err := e.writeAmount(key, balance); err != nil {
		return err
	}
	if !hadBalance {
		return e.state.KVAppend(accountIndexKey(owner), class[:])
	}
	return nil
}

func (e *Engine) debit(owner types.Address, class types.ClassID, amount *big.Int) error {
	key := balanceKey(owner, class)
	balance, err := e.readAmount(key)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	balance.Sub(balance, amount)
	if err := e.writeAmount(key, balance); err != nil {
		return err
	}
	if balance.Sign() == 0 {
		return e.state.KVRemove(accountIndexKey(owner), class[:])
	}
	return nil
}

func (e *Engine) adjustSupply(class types.ClassID, delta *big.Int) error {
	supply, err := e.readAmount(supplyKey(class))
	if err != nil {
		return err
	}
	supply.Add(supply, delta)
	if supply.Sign() < 0 {
		return fmt.Errorf("token: class supply underflow")
	}
	if err := e.writeAmount(supplyKey(class), supply); err != nil {
		return err
	}
	total, err := e.readAmount(totalSupplyKey)
	if err != nil {
		return err
	}
	total.Add(total, delta)
	if total.Sign() < 0 {
		return fmt.Errorf("token: total supply underflow")
	}
	return e.writeAmount(totalSupplyKey, total)
}

func (e *Engine) registerClass(class types.ClassID, name string, quality uint8, height uint64) error {
	var existing ClassMetadata
	ok, err := e.state.KVGet(classKey(class), &existing)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	meta := ClassMetadata{Name: name, Quality: quality, CreatedAt: height}
	if meta.Name == "" {
		meta.Name = "model-" + types.FormatClassID(class)[:10]
	}
	if meta.Quality == 0 {
		meta.Quality = MinQualityScore
	}
	if err := e.state.KVPut(classKey(class), &meta); err != nil {
		return err
	}
	return e.state.KVAppend(classIndexKey, class[:])
}

// EnsureClass lazily registers metadata for a class whose first sighting is a
// price update rather than a mint.
func (e *Engine) EnsureClass(class types.ClassID, height uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.ensureClass(class, height)
}

func (e *Engine) ensureClass(class types.ClassID, height uint64) error {
	return e.registerClass(class, "", MinQualityScore, height)
}
