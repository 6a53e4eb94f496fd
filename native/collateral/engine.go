package collateral

import (
	"errors"
	"math/big"

	"chatten/core/events"
	"chatten/core/types"
	"chatten/native/access"
)

// Lock duration bounds, expressed in blocks. The upper bound is roughly one
// year of Neo-style 15 second blocks.
const (
	MinLockBlocks = 100
	MaxLockBlocks = 2_102_400
)

var (
	// ErrLockDuration marks durations outside [MinLockBlocks, MaxLockBlocks].
	ErrLockDuration = errors.New("collateral: lock duration out of range")
	// ErrLockNotExpired marks unlock attempts before the unlock height.
	ErrLockNotExpired = errors.New("collateral: lock not expired")
	// ErrNoActiveLock marks unlock attempts without a lock in place.
	ErrNoActiveLock = errors.New("collateral: no active lock")
	// ErrInsufficientBalance marks lock requests exceeding the spendable
	// balance.
	ErrInsufficientBalance = errors.New("collateral: insufficient available balance")
	// ErrInvalidAmount marks zero or negative lock amounts.
	ErrInvalidAmount = errors.New("collateral: invalid amount")
	errNilState      = errors.New("collateral: state not configured")
)

// state abstracts the subset of state manager functionality required by the
// collateral engine.
type state interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// ledger is the slice of the token engine the collateral engine reads
// balances through.
type ledger interface {
	BalanceOfToken(owner types.Address, class types.ClassID) (*big.Int, error)
}

type authority interface {
	Guard() error
}

var lockPrefix = []byte("collateral/lock/")

func lockKey(owner types.Address, class types.ClassID) []byte {
	key := make([]byte, 0, len(lockPrefix)+len(owner)+len(class))
	key = append(key, lockPrefix...)
	key = append(key, owner[:]...)
	key = append(key, class[:]...)
	return key
}

// Lock is the single escrow record per (owner, class). Re-locking extends it
// additively; there are never parallel locks for the same pair.
type Lock struct {
	Amount       *big.Int
	UnlockHeight uint64
	CreatedAt    uint64
}

// Engine owns the time-locked collateral records. It reads ledger balances to
// compute availability and is itself the CollateralView the ledger consults
// for spendable balances.
type Engine struct {
	state   state
	ledger  ledger
	auth    authority
	emitter events.Emitter
}

// NewEngine constructs a collateral engine bound to the provided backends.
func NewEngine(st state, ledger ledger, auth authority) *Engine {
	return &Engine{state: st, ledger: ledger, auth: auth, emitter: events.NoopEmitter{}}
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

// LockedBalance returns the locked amount for (owner, class). Missing records
// read as zero.
func (e *Engine) LockedBalance(owner types.Address, class types.ClassID) (*big.Int, error) {
	lock, ok, err := e.lockRecord(owner, class)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(lock.Amount), nil
}

// AvailableBalance returns balance minus locked amount, floored at zero.
func (e *Engine) AvailableBalance(owner types.Address, class types.ClassID) (*big.Int, error) {
	if e == nil || e.ledger == nil {
		return nil, errNilState
	}
	balance, err := e.ledger.BalanceOfToken(owner, class)
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

// LockInfo returns the full lock record when one exists.
func (e *Engine) LockInfo(owner types.Address, class types.ClassID) (*Lock, bool, error) {
	return e.lockRecord(owner, class)
}

// LockCollateral escrows amount of (owner, class) for durationBlocks. An
// existing lock grows additively and its unlock height only ever extends.
func (e *Engine) LockCollateral(caller, owner types.Address, class types.ClassID, amount *big.Int, durationBlocks, height uint64) (*Lock, error) {
	if e == nil || e.state == nil || e.ledger == nil {
		return nil, errNilState
	}
	if err := e.auth.Guard(); err != nil {
		return nil, err
	}
	if caller != owner {
		return nil, access.ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if durationBlocks < MinLockBlocks || durationBlocks > MaxLockBlocks {
		return nil, ErrLockDuration
	}
	available, err := e.AvailableBalance(owner, class)
	if err != nil {
		return nil, err
	}
	if available.Cmp(amount) < 0 {
		return nil, ErrInsufficientBalance
	}
	candidate := height + durationBlocks
	lock, ok, err := e.lockRecord(owner, class)
	if err != nil {
		return nil, err
	}
	if !ok {
		lock = &Lock{Amount: big.NewInt(0), CreatedAt: height}
	}
	lock.Amount = new(big.Int).Add(lock.Amount, amount)
	if candidate > lock.UnlockHeight {
		lock.UnlockHeight = candidate
	}
	if err := e.state.KVPut(lockKey(owner, class), lock); err != nil {
		return nil, err
	}
	e.emit(events.Locked{Owner: owner, Class: class, Amount: new(big.Int).Set(amount), UnlockHeight: lock.UnlockHeight})
	return lock, nil
}

// UnlockCollateral releases the entire locked amount once the unlock height
// is reached and deletes the record. Partial unlocks do not exist.
func (e *Engine) UnlockCollateral(caller, owner types.Address, class types.ClassID, height uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.auth.Guard(); err != nil {
		return nil, err
	}
	if caller != owner {
		return nil, access.ErrUnauthorized
	}
	lock, ok, err := e.lockRecord(owner, class)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoActiveLock
	}
	if height < lock.UnlockHeight {
		return nil, ErrLockNotExpired
	}
	if err := e.state.KVDelete(lockKey(owner, class)); err != nil {
		return nil, err
	}
	released := new(big.Int).Set(lock.Amount)
	e.emit(events.Unlocked{Owner: owner, Class: class, Amount: released})
	return released, nil
}

func (e *Engine) lockRecord(owner types.Address, class types.ClassID) (*Lock, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	var lock Lock
	ok, err := e.state.KVGet(lockKey(owner, class), &lock)
	if err != nil || !ok {
		return nil, false, err
	}
	if lock.Amount == nil {
		lock.Amount = big.NewInt(0)
	}
	return &lock, true, nil
}
