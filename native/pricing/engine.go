package pricing

import (
	"encoding/binary"
	"errors"
	"math/big"

	"chatten/core/events"
	"chatten/core/types"
)

var (
	// ErrInvalidPrice marks zero or negative price submissions.
	ErrInvalidPrice = errors.New("pricing: price must be positive")
	// ErrBelowFloor marks oracle updates beneath an active floor.
	ErrBelowFloor = errors.New("pricing: price below floor")
	// ErrInvalidFloor marks negative floor submissions.
	ErrInvalidFloor = errors.New("pricing: floor must not be negative")
	errNilState     = errors.New("pricing: state not configured")
)

// state abstracts the subset of state manager functionality required by the
// pricing engine.
type state interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type authority interface {
	Guard() error
	RequireOracle(caller types.Address) error
	RequireAdmin(caller types.Address) error
}

// classRegistry is the slice of the token engine used for lazy model
// registration: pushing the first price for a class is how listing happens.
type classRegistry interface {
	EnsureClass(class types.ClassID, height uint64) error
}

var (
	pricePrefix   = []byte("market/price/")
	historyPrefix = []byte("market/price/history/")
)

func priceKey(class types.ClassID) []byte {
	key := make([]byte, 0, len(pricePrefix)+len(class))
	key = append(key, pricePrefix...)
	key = append(key, class[:]...)
	return key
}

func historyKey(class types.ClassID, height uint64) []byte {
	key := make([]byte, 0, len(historyPrefix)+len(class)+8)
	key = append(key, historyPrefix...)
	key = append(key, class[:]...)
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], height)
	key = append(key, h[:]...)
	return key
}

// PriceRecord is the persisted spot price state for one class. A zero floor
// means no floor is active.
type PriceRecord struct {
	Price     *big.Int
	Floor     *big.Int
	Oracle    types.Address
	UpdatedAt uint64
}

// PriceInfo is the aggregate read returned for display and audit.
type PriceInfo struct {
	Class     types.ClassID
	Price     *big.Int
	Floor     *big.Int
	Oracle    types.Address
	UpdatedAt uint64
}

// Engine owns the spot price, optional floor, last-updating oracle and the
// append-only price history per class.
type Engine struct {
	state   state
	auth    authority
	classes classRegistry
	emitter events.Emitter
}

// NewEngine constructs a pricing engine bound to the provided backends.
func NewEngine(st state, auth authority) *Engine {
	return &Engine{state: st, auth: auth, emitter: events.NoopEmitter{}}
}

// SetClassRegistry wires the ledger hook used for lazy model registration.
func (e *Engine) SetClassRegistry(classes classRegistry) { e.classes = classes }

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

func (e *Engine) record(class types.ClassID) (*PriceRecord, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	var record PriceRecord
	ok, err := e.state.KVGet(priceKey(class), &record)
	if err != nil || !ok {
		return nil, false, err
	}
	if record.Price == nil {
		record.Price = big.NewInt(0)
	}
	if record.Floor == nil {
		record.Floor = big.NewInt(0)
	}
	return &record, true, nil
}

// CurrentPrice returns the spot price for a class, zero when unset. Reads
// never fail on absence.
func (e *Engine) CurrentPrice(class types.ClassID) (*big.Int, error) {
	record, ok, err := e.record(class)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(record.Price), nil
}

// PriceAt returns the historical price recorded at the given height, zero
// when no entry exists.
func (e *Engine) PriceAt(class types.ClassID, height uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	price := new(big.Int)
	ok, err := e.state.KVGet(historyKey(class, height), price)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return price, nil
}

// Info returns the aggregate price view for a class.
func (e *Engine) Info(class types.ClassID) (*PriceInfo, bool, error) {
	record, ok, err := e.record(class)
	if err != nil || !ok {
		return nil, false, err
	}
	return &PriceInfo{
		Class:     class,
		Price:     record.Price,
		Floor:     record.Floor,
		Oracle:    record.Oracle,
		UpdatedAt: record.UpdatedAt,
	}, true, nil
}

// UpdatePrice stores a new spot price pushed by an oracle. All validation
// runs strictly before any write: role, pause, sign and floor checks precede
// the price write, the history append and the lazy class registration.
func (e *Engine) UpdatePrice(caller types.Address, class types.ClassID, price *big.Int, height uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.auth.Guard(); err != nil {
		return err
	}
	if err := e.auth.RequireOracle(caller); err != nil {
		return err
	}
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	record, ok, err := e.record(class)
	if err != nil {
		return err
	}
	if !ok {
		record = &PriceRecord{Price: big.NewInt(0), Floor: big.NewInt(0)}
	}
	if record.Floor.Sign() > 0 && price.Cmp(record.Floor) < 0 {
		return ErrBelowFloor
	}
	record.Price = new(big.Int).Set(price)
	record.Oracle = caller
	record.UpdatedAt = height
	if err := e.state.KVPut(priceKey(class), record); err != nil {
		return err
	}
	if err := e.state.KVPut(historyKey(class, height), price); err != nil {
		return err
	}
	if e.classes != nil {
		if err := e.classes.EnsureClass(class, height); err != nil {
			return err
		}
	}
	e.emit(events.PriceUpdated{Class: class, Price: new(big.Int).Set(price), Oracle: caller, Height: height})
	return nil
}

// SetFloor configures the minimum oracle price for a class. A zero floor
// removes the constraint. Admin only. Floors never apply retroactively: they
// constrain future updates, not quotes already priced.
func (e *Engine) SetFloor(caller types.Address, class types.ClassID, floor *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.auth.Guard(); err != nil {
		return err
	}
	if err := e.auth.RequireAdmin(caller); err != nil {
		return err
	}
	if floor == nil || floor.Sign() < 0 {
		return ErrInvalidFloor
	}
	record, ok, err := e.record(class)
	if err != nil {
		return err
	}
	if !ok {
		record = &PriceRecord{Price: big.NewInt(0), Floor: big.NewInt(0)}
	}
	record.Floor = new(big.Int).Set(floor)
	if err := e.state.KVPut(priceKey(class), record); err != nil {
		return err
	}
	e.emit(events.PriceFloor{Class: class, Floor: new(big.Int).Set(floor)})
	return nil
}
