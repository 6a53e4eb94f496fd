package access

import (
	"errors"
	"fmt"

	"chatten/core/events"
	"chatten/core/types"
)

// Role labels persisted alongside membership records and surfaced in events.
const (
	RoleAdmin      = "admin"
	RoleGovernance = "governance"
	RoleOracle     = "oracle"
	RoleMinter     = "minter"
)

var (
	// ErrUnauthorized marks role or witness checks that failed.
	ErrUnauthorized = errors.New("access: unauthorized")
	// ErrPaused is returned by mutating operations while the pause flag is set.
	ErrPaused = errors.New("access: paused")
	// ErrReentrancy marks a nested swap invocation detected mid-flight.
	ErrReentrancy = errors.New("access: reentrant call")
	// ErrNotInitialised marks operations attempted before genesis ran.
	ErrNotInitialised = errors.New("access: admin not configured")
	errNilState       = errors.New("access: state not configured")
)

// state abstracts the subset of state manager functionality required by the
// access controller.
type state interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVRemove(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

var (
	adminKey      = []byte("access/role/admin")
	governanceKey = []byte("access/role/governance")
	oracleSetKey  = []byte("access/role/oracle")
	minterSetKey  = []byte("access/role/minter")
	pausedKey     = []byte("access/paused")
	reentrancyKey = []byte("access/reentrancy")
)

// Controller owns the role sets, the pause flag and the reentrancy flag.
// Every mutating operation in the other engines consults it first. The
// reentrancy flag lives in staged state so an aborted invocation rolls it
// back together with everything else.
type Controller struct {
	state   state
	emitter events.Emitter
}

// NewController constructs a controller bound to the provided state backend.
func NewController(st state) *Controller {
	return &Controller{state: st, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (c *Controller) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		c.emitter = events.NoopEmitter{}
		return
	}
	c.emitter = emitter
}

func (c *Controller) emit(event events.Event) {
	if c == nil || c.emitter == nil {
		return
	}
	c.emitter.Emit(event)
}

func (c *Controller) readAddress(key []byte) (types.Address, bool, error) {
	var addr types.Address
	if c == nil || c.state == nil {
		return addr, false, errNilState
	}
	ok, err := c.state.KVGet(key, &addr)
	if err != nil {
		return types.Address{}, false, err
	}
	return addr, ok, nil
}

// InitGenesis configures the initial admin and governance addresses. It may
// run only once, against an empty role store.
func (c *Controller) InitGenesis(admin, governance types.Address) error {
	if c == nil || c.state == nil {
		return errNilState
	}
	if admin == types.ZeroAddress {
		return fmt.Errorf("access: genesis admin required")
	}
	if _, ok, err := c.readAddress(adminKey); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("access: already initialised")
	}
	if err := c.state.KVPut(adminKey, admin); err != nil {
		return err
	}
	if governance != types.ZeroAddress {
		if err := c.state.KVPut(governanceKey, governance); err != nil {
			return err
		}
	}
	return nil
}

// Admin returns the configured admin address.
func (c *Controller) Admin() (types.Address, bool, error) {
	return c.readAddress(adminKey)
}

// Governance returns the configured governance address.
func (c *Controller) Governance() (types.Address, bool, error) {
	return c.readAddress(governanceKey)
}

// UpdateAdmin hands the admin role to a new address. Only the current admin
// may do so.
func (c *Controller) UpdateAdmin(caller, next types.Address) error {
	if err := c.RequireAdmin(caller); err != nil {
		return err
	}
	if next == types.ZeroAddress {
		return fmt.Errorf("access: admin must not be the zero address")
	}
	if err := c.state.KVPut(adminKey, next); err != nil {
		return err
	}
	c.emit(events.RoleChanged{Role: RoleAdmin, Address: next, Granted: true})
	return nil
}

// SetGovernance configures the governance address. Admin only.
func (c *Controller) SetGovernance(caller, governance types.Address) error {
	if err := c.RequireAdmin(caller); err != nil {
		return err
	}
	if governance == types.ZeroAddress {
		if err := c.state.KVDelete(governanceKey); err != nil {
			return err
		}
		c.emit(events.RoleChanged{Role: RoleGovernance, Address: governance, Granted: false})
		return nil
	}
	if err := c.state.KVPut(governanceKey, governance); err != nil {
		return err
	}
	c.emit(events.RoleChanged{Role: RoleGovernance, Address: governance, Granted: true})
	return nil
}

// SetOracle grants or revokes oracle membership. Admin only.
func (c *Controller) SetOracle(caller, oracle types.Address, enabled bool) error {
	return c.setMember(caller, oracleSetKey, RoleOracle, oracle, enabled)
}

// SetMinter grants or revokes minter membership. Admin only.
func (c *Controller) SetMinter(caller, minter types.Address, enabled bool) error {
	return c.setMember(caller, minterSetKey, RoleMinter, minter, enabled)
}

func (c *Controller) setMember(caller types.Address, key []byte, role string, member types.Address, enabled bool) error {
	if err := c.RequireAdmin(caller); err != nil {
		return err
	}
	if member == types.ZeroAddress {
		return fmt.Errorf("access: %s must not be the zero address", role)
	}
	if enabled {
		if err := c.state.KVAppend(key, member[:]); err != nil {
			return err
		}
	} else {
		if err := c.state.KVRemove(key, member[:]); err != nil {
			return err
		}
	}
	c.emit(events.RoleChanged{Role: role, Address: member, Granted: enabled})
	return nil
}

func (c *Controller) isMember(key []byte, addr types.Address) (bool, error) {
	if c == nil || c.state == nil {
		return false, errNilState
	}
	var members [][]byte
	if err := c.state.KVGetList(key, &members); err != nil {
		return false, err
	}
	for _, member := range members {
		if len(member) == len(addr) && string(member) == string(addr[:]) {
			return true, nil
		}
	}
	return false, nil
}

// IsOracle reports whether the address holds the oracle role.
func (c *Controller) IsOracle(addr types.Address) (bool, error) {
	return c.isMember(oracleSetKey, addr)
}

// IsMinter reports whether the address holds the minter role.
func (c *Controller) IsMinter(addr types.Address) (bool, error) {
	return c.isMember(minterSetKey, addr)
}

// Paused reports whether the global pause flag is set.
func (c *Controller) Paused() (bool, error) {
	if c == nil || c.state == nil {
		return false, errNilState
	}
	var paused bool
	ok, err := c.state.KVGet(pausedKey, &paused)
	if err != nil {
		return false, err
	}
	return ok && paused, nil
}

// Pause suspends every mutating operation. Admin or governance only.
func (c *Controller) Pause(caller types.Address) error {
	if err := c.RequireAdminOrGovernance(caller); err != nil {
		return err
	}
	if err := c.state.KVPut(pausedKey, true); err != nil {
		return err
	}
	c.emit(events.Paused{By: caller})
	return nil
}

// Resume clears the pause flag. Admin or governance only.
func (c *Controller) Resume(caller types.Address) error {
	if err := c.RequireAdminOrGovernance(caller); err != nil {
		return err
	}
	if err := c.state.KVDelete(pausedKey); err != nil {
		return err
	}
	c.emit(events.Resumed{By: caller})
	return nil
}

// Guard rejects the operation while the pause flag is set.
func (c *Controller) Guard() error {
	paused, err := c.Paused()
	if err != nil {
		return err
	}
	if paused {
		return ErrPaused
	}
	return nil
}

// RequireAdmin enforces that the caller is the configured admin.
func (c *Controller) RequireAdmin(caller types.Address) error {
	admin, ok, err := c.Admin()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotInitialised
	}
	if admin != caller {
		return ErrUnauthorized
	}
	return nil
}

// RequireAdminOrGovernance enforces that the caller is admin or governance.
func (c *Controller) RequireAdminOrGovernance(caller types.Address) error {
	if err := c.RequireAdmin(caller); err == nil {
		return nil
	} else if !errors.Is(err, ErrUnauthorized) {
		return err
	}
	governance, ok, err := c.Governance()
	if err != nil {
		return err
	}
	if ok && governance == caller {
		return nil
	}
	return ErrUnauthorized
}

// RequireOracle enforces oracle membership.
func (c *Controller) RequireOracle(caller types.Address) error {
	ok, err := c.IsOracle(caller)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

// RequireMinter enforces minter membership.
func (c *Controller) RequireMinter(caller types.Address) error {
	ok, err := c.IsMinter(caller)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

// RequireOracleOrGovernance enforces oracle membership or the governance seat.
func (c *Controller) RequireOracleOrGovernance(caller types.Address) error {
	ok, err := c.IsOracle(caller)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	governance, found, err := c.Governance()
	if err != nil {
		return err
	}
	if found && governance == caller {
		return nil
	}
	return ErrUnauthorized
}

// EnterSwap sets the reentrancy flag for the duration of one swap invocation.
// A nested call observing the flag fails here; the abort that follows rolls
// the flag itself back with the rest of the overlay.
func (c *Controller) EnterSwap() error {
	if c == nil || c.state == nil {
		return errNilState
	}
	var inFlight bool
	ok, err := c.state.KVGet(reentrancyKey, &inFlight)
	if err != nil {
		return err
	}
	if ok && inFlight {
		return ErrReentrancy
	}
	return c.state.KVPut(reentrancyKey, true)
}

// ExitSwap clears the reentrancy flag on the successful path.
func (c *Controller) ExitSwap() error {
	if c == nil || c.state == nil {
		return errNilState
	}
	return c.state.KVDelete(reentrancyKey)
}
