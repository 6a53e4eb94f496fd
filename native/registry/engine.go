package registry

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"chatten/core/events"
	"chatten/core/types"
	"chatten/native/access"
)

// DefaultReputation is the score assigned to every freshly registered
// provider; trusted roles move it from there.
const DefaultReputation = 50

// MaxReputation caps the reputation scale.
const MaxReputation = 100

var (
	// ErrNotRegistered marks provider operations attempted before
	// registration.
	ErrNotRegistered = errors.New("registry: provider not registered")
	// ErrInvalidProfile marks registrations with missing required fields.
	ErrInvalidProfile = errors.New("registry: invalid provider profile")
	errNilState       = errors.New("registry: state not configured")
)

// state abstracts the subset of state manager functionality required by the
// provider registry.
type state interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// ledger is the slice of the token engine used to mint provider rewards.
type ledger interface {
	MintUnits(to types.Address, class types.ClassID, amount *big.Int, height uint64) error
}

type authority interface {
	Guard() error
	RequireMinter(caller types.Address) error
	RequireOracleOrGovernance(caller types.Address) error
	RequireAdmin(caller types.Address) error
}

var (
	providerPrefix   = []byte("provider/profile/")
	providerIndexKey = []byte("provider/index")
)

func providerKey(addr types.Address) []byte {
	key := make([]byte, 0, len(providerPrefix)+len(addr))
	key = append(key, providerPrefix...)
	key = append(key, addr[:]...)
	return key
}

// Provider is the profile stored for one compute supplier. Profiles are
// soft-deactivated, never deleted.
type Provider struct {
	Name         string
	Endpoint     string
	Region       string
	Type         string
	Reputation   uint8
	TotalEarned  *big.Int
	Active       bool
	RegisteredAt uint64
}

// Clone returns a deep copy so callers can mutate freely.
func (p *Provider) Clone() *Provider {
	if p == nil {
		return nil
	}
	clone := *p
	if p.TotalEarned != nil {
		clone.TotalEarned = new(big.Int).Set(p.TotalEarned)
	} else {
		clone.TotalEarned = big.NewInt(0)
	}
	return &clone
}

// Engine owns the provider profile store and composes the ledger for reward
// issuance.
type Engine struct {
	state   state
	ledger  ledger
	auth    authority
	emitter events.Emitter
}

// NewEngine constructs a registry engine bound to the provided backends.
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

// Provider returns the stored profile for an address.
func (e *Engine) Provider(addr types.Address) (*Provider, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	var profile Provider
	ok, err := e.state.KVGet(providerKey(addr), &profile)
	if err != nil || !ok {
		return nil, false, err
	}
	if profile.TotalEarned == nil {
		profile.TotalEarned = big.NewInt(0)
	}
	return &profile, true, nil
}

// Providers lists every registered provider address.
func (e *Engine) Providers() ([]types.Address, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var raw [][]byte
	if err := e.state.KVGetList(providerIndexKey, &raw); err != nil {
		return nil, err
	}
	providers := make([]types.Address, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != 20 {
			return nil, fmt.Errorf("registry: malformed address in provider index")
		}
		var addr types.Address
		copy(addr[:], entry)
		providers = append(providers, addr)
	}
	return providers, nil
}

// Register creates or overwrites the caller's provider profile. Registration
// is witnessed: only the provider registers itself. Re-registration keeps the
// earned total and the original registration height.
func (e *Engine) Register(caller, provider types.Address, name, endpoint, region, providerType string, height uint64) (*Provider, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.auth.Guard(); err != nil {
		return nil, err
	}
	if caller != provider {
		return nil, access.ErrUnauthorized
	}
	trimmedName := strings.TrimSpace(name)
	if trimmedName == "" || strings.TrimSpace(endpoint) == "" {
		return nil, ErrInvalidProfile
	}
	profile := &Provider{
		Name:         trimmedName,
		Endpoint:     strings.TrimSpace(endpoint),
		Region:       strings.TrimSpace(region),
		Type:         strings.TrimSpace(providerType),
		Reputation:   DefaultReputation,
		TotalEarned:  big.NewInt(0),
		Active:       true,
		RegisteredAt: height,
	}
	if existing, ok, err := e.Provider(provider); err != nil {
		return nil, err
	} else if ok {
		profile.TotalEarned = existing.TotalEarned
		profile.RegisteredAt = existing.RegisteredAt
	}
	if err := e.state.KVPut(providerKey(provider), profile); err != nil {
		return nil, err
	}
	if err := e.state.KVAppend(providerIndexKey, provider[:]); err != nil {
		return nil, err
	}
	e.emit(events.ProviderRegistered{Provider: provider, Name: profile.Name, Region: profile.Region})
	return profile.Clone(), nil
}

// MintRewards issues COMPUTE to a registered provider and tracks the earned
// total. Minter role only.
func (e *Engine) MintRewards(caller, provider types.Address, class types.ClassID, amount *big.Int, height uint64) error {
	if e == nil || e.state == nil || e.ledger == nil {
		return errNilState
	}
	if err := e.auth.Guard(); err != nil {
		return err
	}
	if err := e.auth.RequireMinter(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("registry: reward amount must be positive")
	}
	profile, ok, err := e.Provider(provider)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotRegistered
	}
	if err := e.ledger.MintUnits(provider, class, amount, height); err != nil {
		return err
	}
	profile.TotalEarned = new(big.Int).Add(profile.TotalEarned, amount)
	if err := e.state.KVPut(providerKey(provider), profile); err != nil {
		return err
	}
	e.emit(events.ProviderReward{Provider: provider, Class: class, Amount: new(big.Int).Set(amount)})
	return nil
}

// UpdateReputation sets a provider's reputation score, clamped to
// [0, MaxReputation]. Oracle or governance only.
func (e *Engine) UpdateReputation(caller, provider types.Address, score int64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.auth.Guard(); err != nil {
		return err
	}
	if err := e.auth.RequireOracleOrGovernance(caller); err != nil {
		return err
	}
	profile, ok, err := e.Provider(provider)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotRegistered
	}
	clamped := score
	if clamped < 0 {
		clamped = 0
	}
	if clamped > MaxReputation {
		clamped = MaxReputation
	}
	profile.Reputation = uint8(clamped)
	if err := e.state.KVPut(providerKey(provider), profile); err != nil {
		return err
	}
	e.emit(events.ProviderReputation{Provider: provider, Score: profile.Reputation})
	return nil
}

// Deactivate soft-disables a provider profile. The provider itself or the
// admin may do so; the record is never deleted.
func (e *Engine) Deactivate(caller, provider types.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.auth.Guard(); err != nil {
		return err
	}
	if caller != provider {
		if err := e.auth.RequireAdmin(caller); err != nil {
			return err
		}
	}
	profile, ok, err := e.Provider(provider)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotRegistered
	}
	profile.Active = false
	return e.state.KVPut(providerKey(provider), profile)
}
