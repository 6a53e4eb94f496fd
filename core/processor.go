package core

import (
	"math/big"
	"time"

	"chatten/core/events"
	"chatten/core/state"
	"chatten/core/types"
	"chatten/native/access"
	"chatten/native/collateral"
	"chatten/native/market"
	"chatten/native/pricing"
	"chatten/native/registry"
	"chatten/native/token"
	"chatten/observability"
	"chatten/storage"
)

// Context carries the per-invocation facts supplied by the external
// sequencer: the witnessed calling identity and the current block height.
type Context struct {
	Caller types.Address
	Height uint64
}

// Processor is the single-writer invocation layer. Every public mutation runs
// as one atomic unit against the staged state overlay: either every write
// commits and the buffered events flush downstream, or the overlay and the
// events are discarded together. Invocations are strictly serialized; the
// processor never admits intra-invocation parallelism.
type Processor struct {
	manager    *state.Manager
	access     *access.Controller
	ledger     *token.Engine
	collateral *collateral.Engine
	pricing    *pricing.Engine
	market     *market.Engine
	registry   *registry.Engine

	emitter events.Emitter
	buffer  *eventBuffer

	// inFlight marks an invocation in progress. A callback that re-enters
	// the processor would share the outer overlay, so run rejects nesting
	// before a nested commit or discard can touch the outer writes.
	inFlight bool
}

// NewProcessor wires the engine graph over the provided database. The emitter
// receives events only for committed invocations; pass nil to discard them.
func NewProcessor(db storage.Database, emitter events.Emitter) *Processor {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	manager := state.NewManager(db)
	buffer := &eventBuffer{}

	controller := access.NewController(manager)
	controller.SetEmitter(buffer)

	ledger := token.NewEngine(manager, controller)
	ledger.SetEmitter(buffer)

	locks := collateral.NewEngine(manager, ledger, controller)
	locks.SetEmitter(buffer)
	ledger.SetCollateral(locks)

	prices := pricing.NewEngine(manager, controller)
	prices.SetEmitter(buffer)
	prices.SetClassRegistry(ledger)

	dex := market.NewEngine(manager, ledger, prices, controller)
	dex.SetEmitter(buffer)

	providers := registry.NewEngine(manager, ledger, controller)
	providers.SetEmitter(buffer)

	return &Processor{
		manager:    manager,
		access:     controller,
		ledger:     ledger,
		collateral: locks,
		pricing:    prices,
		market:     dex,
		registry:   providers,
		emitter:    emitter,
		buffer:     buffer,
	}
}

// eventBuffer collects engine events during an invocation so aborted
// invocations never leak events downstream.
type eventBuffer struct {
	pending []events.Event
}

func (b *eventBuffer) Emit(event events.Event) {
	b.pending = append(b.pending, event)
}

func (b *eventBuffer) reset() {
	b.pending = b.pending[:0]
}

func (b *eventBuffer) flush(emitter events.Emitter) {
	for _, event := range b.pending {
		emitter.Emit(event)
	}
	b.pending = b.pending[:0]
}

// run executes one mutating invocation to completion: commit on success,
// full rollback on any error. Nested invocations fail without touching the
// overlay or the event buffer.
func (p *Processor) run(op string, fn func() error) error {
	if p.inFlight {
		return access.ErrReentrancy
	}
	p.inFlight = true
	defer func() { p.inFlight = false }()
	start := time.Now()
	err := fn()
	if err != nil {
		p.manager.Discard()
		p.buffer.reset()
		observability.ObserveInvocation(op, "error", time.Since(start))
		return err
	}
	if err := p.manager.Commit(); err != nil {
		p.manager.Discard()
		p.buffer.reset()
		observability.ObserveInvocation(op, "commit_error", time.Since(start))
		return err
	}
	p.buffer.flush(p.emitter)
	observability.ObserveInvocation(op, "ok", time.Since(start))
	return nil
}

// --- Genesis ---

// Genesis describes the state installed on first deployment.
type Genesis struct {
	Admin      types.Address
	Governance types.Address
	FeeBps     uint32
	Oracles    []types.Address
	Minters    []types.Address
}

// InitGenesis installs roles and singleton config on an empty store.
func (p *Processor) InitGenesis(genesis Genesis) error {
	return p.run("init_genesis", func() error {
		if err := p.access.InitGenesis(genesis.Admin, genesis.Governance); err != nil {
			return err
		}
		for _, oracle := range genesis.Oracles {
			if err := p.access.SetOracle(genesis.Admin, oracle, true); err != nil {
				return err
			}
		}
		for _, minter := range genesis.Minters {
			if err := p.access.SetMinter(genesis.Admin, minter, true); err != nil {
				return err
			}
		}
		if genesis.FeeBps > 0 {
			if err := p.market.SetSwapFee(genesis.Admin, genesis.FeeBps); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- Ledger ---

// Transfer moves COMPUTE between accounts with the pay-and-execute callback
// semantics: the optional receiver capability runs inside the invocation and
// its failure aborts the whole transfer.
func (p *Processor) Transfer(ctx Context, from, to types.Address, amount *big.Int, class types.ClassID, payload []byte, receiver token.Receiver) error {
	return p.run("transfer", func() error {
		return p.ledger.Transfer(ctx.Caller, from, to, amount, class, payload, receiver)
	})
}

// Approve grants a spender allowance over the caller's holdings of a class.
func (p *Processor) Approve(ctx Context, spender types.Address, amount *big.Int, class types.ClassID) error {
	return p.run("approve", func() error {
		return p.ledger.Approve(ctx.Caller, spender, amount, class)
	})
}

// Mint issues COMPUTE for an oracle-scored model. Minter role only.
func (p *Processor) Mint(ctx Context, to types.Address, modelName string, qScore uint64, computeUnits *big.Int) (types.ClassID, *big.Int, error) {
	var class types.ClassID
	var minted *big.Int
	err := p.run("mint", func() error {
		var err error
		class, minted, err = p.ledger.Mint(ctx.Caller, to, modelName, qScore, computeUnits, ctx.Height)
		return err
	})
	if err != nil {
		return types.ClassID{}, nil, err
	}
	return class, minted, nil
}

// Burn destroys the caller's own holdings of a class.
func (p *Processor) Burn(ctx Context, class types.ClassID, amount *big.Int) error {
	return p.run("burn", func() error {
		return p.ledger.Burn(ctx.Caller, ctx.Caller, class, amount)
	})
}

// BalanceOf returns the caller-independent aggregate balance of an owner.
func (p *Processor) BalanceOf(owner types.Address) (*big.Int, error) {
	return p.ledger.BalanceOf(owner)
}

// BalanceOfToken returns one class balance.
func (p *Processor) BalanceOfToken(owner types.Address, class types.ClassID) (*big.Int, error) {
	return p.ledger.BalanceOfToken(owner, class)
}

// TokensOf lists the classes an owner holds.
func (p *Processor) TokensOf(owner types.Address) ([]types.ClassID, error) {
	return p.ledger.TokensOf(owner)
}

// TokenSupply returns the supply of one class.
func (p *Processor) TokenSupply(class types.ClassID) (*big.Int, error) {
	return p.ledger.TokenSupply(class)
}

// TotalSupply returns the supply across all classes.
func (p *Processor) TotalSupply() (*big.Int, error) {
	return p.ledger.TotalSupply()
}

// Allowance returns the remaining approval for a spender.
func (p *Processor) Allowance(owner, spender types.Address, class types.ClassID) (*big.Int, error) {
	return p.ledger.Allowance(owner, spender, class)
}

// Class returns lazily-registered class metadata.
func (p *Processor) Class(class types.ClassID) (*token.ClassMetadata, bool, error) {
	return p.ledger.Class(class)
}

// Classes lists every registered class.
func (p *Processor) Classes() ([]types.ClassID, error) {
	return p.ledger.Classes()
}

// --- Pricing ---

// UpdatePrice pushes a new oracle spot price for a class.
func (p *Processor) UpdatePrice(ctx Context, class types.ClassID, price *big.Int) error {
	return p.run("update_price", func() error {
		return p.pricing.UpdatePrice(ctx.Caller, class, price, ctx.Height)
	})
}

// SetPriceFloor configures the admin floor for a class; zero removes it.
func (p *Processor) SetPriceFloor(ctx Context, class types.ClassID, floor *big.Int) error {
	return p.run("set_price_floor", func() error {
		return p.pricing.SetFloor(ctx.Caller, class, floor)
	})
}

// CurrentPrice returns the spot price, zero when unset.
func (p *Processor) CurrentPrice(class types.ClassID) (*big.Int, error) {
	return p.pricing.CurrentPrice(class)
}

// PriceAt returns the historical price at a height, zero when absent.
func (p *Processor) PriceAt(class types.ClassID, height uint64) (*big.Int, error) {
	return p.pricing.PriceAt(class, height)
}

// PriceInfo returns the aggregate price view for a class.
func (p *Processor) PriceInfo(class types.ClassID) (*pricing.PriceInfo, bool, error) {
	return p.pricing.Info(class)
}

// --- Swap ---

// BuyCompute converts the caller's GAS payment into freshly minted COMPUTE.
// The GAS transfer itself is witnessed by the transaction context before the
// invocation is admitted.
func (p *Processor) BuyCompute(ctx Context, class types.ClassID, gasIn *big.Int) (*big.Int, error) {
	var minted *big.Int
	err := p.run("buy", func() error {
		var err error
		minted, err = p.market.Buy(ctx.Caller, class, gasIn, ctx.Height)
		return err
	})
	if err != nil {
		return nil, err
	}
	return minted, nil
}

// SellCompute burns the caller's COMPUTE and pays out GAS through the
// supplied reserve payer capability.
func (p *Processor) SellCompute(ctx Context, class types.ClassID, computeIn *big.Int, payer market.ReservePayer) (*big.Int, error) {
	var net *big.Int
	err := p.run("sell", func() error {
		var err error
		net, err = p.market.Sell(ctx.Caller, ctx.Caller, class, computeIn, payer)
		return err
	})
	if err != nil {
		return nil, err
	}
	return net, nil
}

// SellComputeFrom burns computeIn from seller under a standing approval held
// by the caller and pays the GAS out to the seller.
func (p *Processor) SellComputeFrom(ctx Context, seller types.Address, class types.ClassID, computeIn *big.Int, payer market.ReservePayer) (*big.Int, error) {
	var net *big.Int
	err := p.run("sell", func() error {
		var err error
		net, err = p.market.Sell(ctx.Caller, seller, class, computeIn, payer)
		return err
	})
	if err != nil {
		return nil, err
	}
	return net, nil
}

// GetBuyQuote previews a buy without mutating state.
func (p *Processor) GetBuyQuote(class types.ClassID, gasIn *big.Int) (*big.Int, error) {
	return p.market.BuyQuote(class, gasIn)
}

// GetSellQuote previews a sell without mutating state.
func (p *Processor) GetSellQuote(class types.ClassID, computeIn *big.Int) (*big.Int, error) {
	return p.market.SellQuote(class, computeIn)
}

// GasReserve returns the reserve balance.
func (p *Processor) GasReserve() (*big.Int, error) {
	return p.market.GasReserve()
}

// SwapFeeBps returns the active fee configuration.
func (p *Processor) SwapFeeBps() (uint32, error) {
	return p.market.SwapFeeBps()
}

// SetSwapFee configures the swap fee. Admin only.
func (p *Processor) SetSwapFee(ctx Context, feeBps uint32) error {
	return p.run("set_swap_fee", func() error {
		return p.market.SetSwapFee(ctx.Caller, feeBps)
	})
}

// OnGasPayment credits a direct GAS deposit to the reserve.
func (p *Processor) OnGasPayment(ctx Context, amount *big.Int) error {
	return p.run("gas_payment", func() error {
		return p.market.DepositReserve(ctx.Caller, amount)
	})
}

// WithdrawReserve pays accumulated fee revenue out of the reserve. Admin
// only.
func (p *Processor) WithdrawReserve(ctx Context, to types.Address, amount *big.Int, payer market.ReservePayer) error {
	return p.run("withdraw_reserve", func() error {
		return p.market.WithdrawReserve(ctx.Caller, to, amount, payer)
	})
}

// --- Collateral ---

// Lock escrows the caller's COMPUTE for a block-bounded duration.
func (p *Processor) Lock(ctx Context, class types.ClassID, amount *big.Int, durationBlocks uint64) (*collateral.Lock, error) {
	var lock *collateral.Lock
	err := p.run("lock", func() error {
		var err error
		lock, err = p.collateral.LockCollateral(ctx.Caller, ctx.Caller, class, amount, durationBlocks, ctx.Height)
		return err
	})
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// Unlock releases the caller's matured lock in full.
func (p *Processor) Unlock(ctx Context, class types.ClassID) (*big.Int, error) {
	var released *big.Int
	err := p.run("unlock", func() error {
		var err error
		released, err = p.collateral.UnlockCollateral(ctx.Caller, ctx.Caller, class, ctx.Height)
		return err
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

// LockedBalanceOf returns the locked amount for (owner, class).
func (p *Processor) LockedBalanceOf(owner types.Address, class types.ClassID) (*big.Int, error) {
	return p.collateral.LockedBalance(owner, class)
}

// AvailableBalanceOf returns balance minus locked amount.
func (p *Processor) AvailableBalanceOf(owner types.Address, class types.ClassID) (*big.Int, error) {
	return p.collateral.AvailableBalance(owner, class)
}

// LockInfo returns the full lock record for (owner, class).
func (p *Processor) LockInfo(owner types.Address, class types.ClassID) (*collateral.Lock, bool, error) {
	return p.collateral.LockInfo(owner, class)
}

// --- Providers ---

// RegisterProvider stores the caller's provider profile.
func (p *Processor) RegisterProvider(ctx Context, name, endpoint, region, providerType string) (*registry.Provider, error) {
	var profile *registry.Provider
	err := p.run("register_provider", func() error {
		var err error
		profile, err = p.registry.Register(ctx.Caller, ctx.Caller, name, endpoint, region, providerType, ctx.Height)
		return err
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// MintRewards issues COMPUTE rewards to a registered provider. Minter only.
func (p *Processor) MintRewards(ctx Context, provider types.Address, class types.ClassID, amount *big.Int) error {
	return p.run("mint_rewards", func() error {
		return p.registry.MintRewards(ctx.Caller, provider, class, amount, ctx.Height)
	})
}

// UpdateReputation adjusts a provider's score. Oracle or governance only.
func (p *Processor) UpdateReputation(ctx Context, provider types.Address, score int64) error {
	return p.run("update_reputation", func() error {
		return p.registry.UpdateReputation(ctx.Caller, provider, score)
	})
}

// DeactivateProvider soft-disables a provider profile.
func (p *Processor) DeactivateProvider(ctx Context, provider types.Address) error {
	return p.run("deactivate_provider", func() error {
		return p.registry.Deactivate(ctx.Caller, provider)
	})
}

// Provider returns a stored provider profile.
func (p *Processor) Provider(addr types.Address) (*registry.Provider, bool, error) {
	return p.registry.Provider(addr)
}

// Providers lists registered provider addresses.
func (p *Processor) Providers() ([]types.Address, error) {
	return p.registry.Providers()
}

// --- Access ---

// Pause suspends every mutating operation.
func (p *Processor) Pause(ctx Context) error {
	return p.run("pause", func() error {
		return p.access.Pause(ctx.Caller)
	})
}

// Resume clears the pause flag.
func (p *Processor) Resume(ctx Context) error {
	return p.run("resume", func() error {
		return p.access.Resume(ctx.Caller)
	})
}

// IsPaused reports the pause flag.
func (p *Processor) IsPaused() (bool, error) {
	return p.access.Paused()
}

// UpdateAdmin hands the admin seat to a new address.
func (p *Processor) UpdateAdmin(ctx Context, next types.Address) error {
	return p.run("update_admin", func() error {
		return p.access.UpdateAdmin(ctx.Caller, next)
	})
}

// SetGovernance configures the governance seat.
func (p *Processor) SetGovernance(ctx Context, governance types.Address) error {
	return p.run("set_governance", func() error {
		return p.access.SetGovernance(ctx.Caller, governance)
	})
}

// SetOracle grants or revokes the oracle role.
func (p *Processor) SetOracle(ctx Context, oracle types.Address, enabled bool) error {
	return p.run("set_oracle", func() error {
		return p.access.SetOracle(ctx.Caller, oracle, enabled)
	})
}

// SetMinter grants or revokes the minter role.
func (p *Processor) SetMinter(ctx Context, minter types.Address, enabled bool) error {
	return p.run("set_minter", func() error {
		return p.access.SetMinter(ctx.Caller, minter, enabled)
	})
}

// Admin returns the configured admin address.
func (p *Processor) Admin() (types.Address, bool, error) {
	return p.access.Admin()
}

// IsOracle reports oracle membership.
func (p *Processor) IsOracle(addr types.Address) (bool, error) {
	return p.access.IsOracle(addr)
}

// IsMinter reports minter membership.
func (p *Processor) IsMinter(addr types.Address) (bool, error) {
	return p.access.IsMinter(addr)
}
