package core

import (
	"errors"
	"math/big"
	"testing"

	"chatten/core/events"
	"chatten/core/types"
	"chatten/native/access"
	"chatten/native/market"
	"chatten/native/token"
	"chatten/storage"
)

var (
	adminAddr    = types.Address{0x01}
	govAddr      = types.Address{0x02}
	oracleAddr   = types.Address{0x03}
	minterAddr   = types.Address{0x04}
	aliceAddr    = types.Address{0x05}
	strangerAddr = types.Address{0x06}
	testClass    = types.ClassIDForModel("gpt-x")
)

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(event events.Event) {
	c.events = append(c.events, event)
}

func (c *capturingEmitter) reset() { c.events = nil }

func newTestProcessor(t *testing.T) (*Processor, *capturingEmitter) {
	t.Helper()
	emitter := &capturingEmitter{}
	processor := NewProcessor(storage.NewMemDB(), emitter)
	genesis := Genesis{
		Admin:      adminAddr,
		Governance: govAddr,
		Oracles:    []types.Address{oracleAddr},
		Minters:    []types.Address{minterAddr},
	}
	if err := processor.InitGenesis(genesis); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	emitter.reset()
	return processor, emitter
}

func seedBalance(t *testing.T, processor *Processor, to types.Address, units int64) {
	t.Helper()
	ctx := Context{Caller: minterAddr, Height: 10}
	if _, _, err := processor.Mint(ctx, to, "gpt-x", token.MaxQualityScore, big.NewInt(units)); err != nil {
		t.Fatalf("seed mint: %v", err)
	}
}

func seedPrice(t *testing.T, processor *Processor, price int64) {
	t.Helper()
	ctx := Context{Caller: oracleAddr, Height: 10}
	if err := processor.UpdatePrice(ctx, testClass, big.NewInt(price)); err != nil {
		t.Fatalf("seed price: %v", err)
	}
}

func TestGenesisAssignsRoles(t *testing.T) {
	processor, _ := newTestProcessor(t)
	admin, ok, err := processor.Admin()
	if err != nil || !ok {
		t.Fatalf("admin: ok=%v err=%v", ok, err)
	}
	if admin != adminAddr {
		t.Fatalf("unexpected admin")
	}
	if ok, _ := processor.IsOracle(oracleAddr); !ok {
		t.Fatalf("expected oracle role from genesis")
	}
	if ok, _ := processor.IsMinter(minterAddr); !ok {
		t.Fatalf("expected minter role from genesis")
	}
	if err := processor.InitGenesis(Genesis{Admin: strangerAddr}); err == nil {
		t.Fatalf("expected repeated genesis to fail")
	}
}

func TestCommittedInvocationEmitsEvents(t *testing.T) {
	processor, emitter := newTestProcessor(t)
	seedBalance(t, processor, aliceAddr, 1_000)
	if len(emitter.events) != 1 {
		t.Fatalf("expected one transfer event, got %d", len(emitter.events))
	}
	if emitter.events[0].EventType() != events.TypeTransfer {
		t.Fatalf("unexpected event type %s", emitter.events[0].EventType())
	}
}

type rejectingReceiver struct{}

func (rejectingReceiver) OnTokenPayment(from types.Address, amount *big.Int, class types.ClassID, payload []byte) error {
	return errors.New("job rejected")
}

func TestFailedInvocationLeavesNoTrace(t *testing.T) {
	processor, emitter := newTestProcessor(t)
	seedBalance(t, processor, aliceAddr, 1_000)
	emitter.reset()

	before, err := processor.BalanceOfToken(aliceAddr, testClass)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	ctx := Context{Caller: aliceAddr, Height: 20}
	err = processor.Transfer(ctx, aliceAddr, strangerAddr, big.NewInt(400), testClass, []byte("job"), rejectingReceiver{})
	if err == nil {
		t.Fatalf("expected receiver rejection to abort")
	}
	after, err := processor.BalanceOfToken(aliceAddr, testClass)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if after.Cmp(before) != 0 {
		t.Fatalf("aborted transfer must roll back: before %s after %s", before, after)
	}
	if recipient, _ := processor.BalanceOfToken(strangerAddr, testClass); recipient.Sign() != 0 {
		t.Fatalf("aborted transfer leaked %s to recipient", recipient)
	}
	if len(emitter.events) != 0 {
		t.Fatalf("aborted invocation leaked %d events", len(emitter.events))
	}
}

type failingPayer struct{}

func (failingPayer) PayGas(to types.Address, amount *big.Int) error {
	return errors.New("gas transfer failed")
}

type okPayer struct{}

func (okPayer) PayGas(to types.Address, amount *big.Int) error { return nil }

func TestFailedSellRollsBackSwapState(t *testing.T) {
	processor, emitter := newTestProcessor(t)
	seedPrice(t, processor, 50_000_000)
	buyCtx := Context{Caller: aliceAddr, Height: 20}
	minted, err := processor.BuyCompute(buyCtx, testClass, big.NewInt(100_000_000))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	reserveBefore, _ := processor.GasReserve()
	supplyBefore, _ := processor.TokenSupply(testClass)
	emitter.reset()

	if _, err := processor.SellCompute(buyCtx, testClass, minted, failingPayer{}); err == nil {
		t.Fatalf("expected failing payout to abort the sell")
	}
	reserveAfter, _ := processor.GasReserve()
	supplyAfter, _ := processor.TokenSupply(testClass)
	if reserveAfter.Cmp(reserveBefore) != 0 {
		t.Fatalf("aborted sell must restore the reserve: %s vs %s", reserveBefore, reserveAfter)
	}
	if supplyAfter.Cmp(supplyBefore) != 0 {
		t.Fatalf("aborted sell must restore the supply: %s vs %s", supplyBefore, supplyAfter)
	}
	if len(emitter.events) != 0 {
		t.Fatalf("aborted sell leaked %d events", len(emitter.events))
	}

	// The reentrancy flag was staged by the aborted invocation; a clean
	// rollback lets the retry through.
	if _, err := processor.SellCompute(buyCtx, testClass, minted, okPayer{}); err != nil {
		t.Fatalf("retry after rollback: %v", err)
	}
}

func TestBuySellRoundTripThroughProcessor(t *testing.T) {
	processor, _ := newTestProcessor(t)
	seedPrice(t, processor, 50_000_000)
	ctx := Context{Caller: aliceAddr, Height: 30}

	quote, err := processor.GetBuyQuote(testClass, big.NewInt(100_000_000))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	minted, err := processor.BuyCompute(ctx, testClass, big.NewInt(100_000_000))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if minted.Cmp(quote) != 0 {
		t.Fatalf("quote %s must match execution %s", quote, minted)
	}
	if want := big.NewInt(199_400_000); minted.Cmp(want) != 0 {
		t.Fatalf("expected %s minted, got %s", want, minted)
	}
	net, err := processor.SellCompute(ctx, testClass, minted, okPayer{})
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if net.Cmp(big.NewInt(100_000_000)) >= 0 {
		t.Fatalf("round trip must pay the fee twice, got %s back", net)
	}
	balance, err := processor.BalanceOfToken(aliceAddr, testClass)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("expected drained position, got %s", balance)
	}
}

func TestPauseBlocksMutationsNotReads(t *testing.T) {
	processor, _ := newTestProcessor(t)
	seedBalance(t, processor, aliceAddr, 1_000)
	if err := processor.Pause(Context{Caller: govAddr}); err != nil {
		t.Fatalf("pause: %v", err)
	}
	ctx := Context{Caller: aliceAddr, Height: 40}
	if err := processor.Transfer(ctx, aliceAddr, strangerAddr, big.NewInt(10), testClass, nil, nil); !errors.Is(err, access.ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	if _, err := processor.BalanceOfToken(aliceAddr, testClass); err != nil {
		t.Fatalf("reads must survive a pause: %v", err)
	}
	if err := processor.Resume(Context{Caller: adminAddr}); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := processor.Transfer(ctx, aliceAddr, strangerAddr, big.NewInt(10), testClass, nil, nil); err != nil {
		t.Fatalf("transfer after resume: %v", err)
	}
}

func TestLockUnlockLifecycle(t *testing.T) {
	processor, _ := newTestProcessor(t)
	seedBalance(t, processor, aliceAddr, 10_000)
	ctx := Context{Caller: aliceAddr, Height: 100}
	lock, err := processor.Lock(ctx, testClass, big.NewInt(6_000), 200)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if lock.UnlockHeight != 300 {
		t.Fatalf("expected unlock at 300, got %d", lock.UnlockHeight)
	}
	if err := processor.Transfer(ctx, aliceAddr, strangerAddr, big.NewInt(5_000), testClass, nil, nil); !errors.Is(err, token.ErrInsufficientBalance) {
		t.Fatalf("locked funds must not transfer, got %v", err)
	}
	if _, err := processor.Unlock(Context{Caller: aliceAddr, Height: 299}, testClass); err == nil {
		t.Fatalf("expected early unlock to fail")
	}
	released, err := processor.Unlock(Context{Caller: aliceAddr, Height: 300}, testClass)
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if released.Cmp(big.NewInt(6_000)) != 0 {
		t.Fatalf("expected full release, got %s", released)
	}
	available, err := processor.AvailableBalanceOf(aliceAddr, testClass)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if available.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("expected restored availability, got %s", available)
	}
}

func TestProviderRewardFlow(t *testing.T) {
	processor, _ := newTestProcessor(t)
	seedPrice(t, processor, 50_000_000)
	providerCtx := Context{Caller: strangerAddr, Height: 50}
	if _, err := processor.RegisterProvider(providerCtx, "gpu-farm", "https://farm.example", "eu-west", "gpu"); err != nil {
		t.Fatalf("register: %v", err)
	}
	minterCtx := Context{Caller: minterAddr, Height: 60}
	if err := processor.MintRewards(minterCtx, strangerAddr, testClass, big.NewInt(500)); err != nil {
		t.Fatalf("rewards: %v", err)
	}
	profile, ok, err := processor.Provider(strangerAddr)
	if err != nil || !ok {
		t.Fatalf("provider: ok=%v err=%v", ok, err)
	}
	if profile.TotalEarned.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected earned 500, got %s", profile.TotalEarned)
	}
	balance, err := processor.BalanceOfToken(strangerAddr, testClass)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected reward balance 500, got %s", balance)
	}
	if err := processor.UpdateReputation(Context{Caller: oracleAddr}, strangerAddr, 90); err != nil {
		t.Fatalf("reputation: %v", err)
	}
	if err := processor.MintRewards(Context{Caller: strangerAddr}, strangerAddr, testClass, big.NewInt(1)); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("expected minter-only rewards, got %v", err)
	}
}

func TestGasPaymentTopsUpReserve(t *testing.T) {
	processor, _ := newTestProcessor(t)
	if err := processor.OnGasPayment(Context{Caller: strangerAddr}, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	reserve, err := processor.GasReserve()
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if reserve.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("expected reserve 1000000, got %s", reserve)
	}
	if err := processor.WithdrawReserve(Context{Caller: adminAddr}, govAddr, big.NewInt(400_000), okPayer{}); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	reserve, _ = processor.GasReserve()
	if reserve.Cmp(big.NewInt(600_000)) != 0 {
		t.Fatalf("expected reserve 600000, got %s", reserve)
	}
	if _, err := processor.SwapFeeBps(); err != nil {
		t.Fatalf("fee read: %v", err)
	}
}

func TestSetSwapFeeAffectsQuotes(t *testing.T) {
	processor, _ := newTestProcessor(t)
	seedPrice(t, processor, 50_000_000)
	if err := processor.SetSwapFee(Context{Caller: strangerAddr}, 100); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("expected admin-only fee, got %v", err)
	}
	if err := processor.SetSwapFee(Context{Caller: adminAddr}, 100); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	quote, err := processor.GetBuyQuote(testClass, big.NewInt(100_000_000))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if want := big.NewInt(198_000_000); quote.Cmp(want) != 0 {
		t.Fatalf("expected %s at 100 bps, got %s", want, quote)
	}
	if err := processor.SetSwapFee(Context{Caller: adminAddr}, market.MaxSwapFeeBps+1); !errors.Is(err, market.ErrFeeOutOfRange) {
		t.Fatalf("expected ErrFeeOutOfRange, got %v", err)
	}
}

// reenteringSeller starts a second sell from inside the payout window and
// surfaces the nested result to the outer invocation.
type reenteringSeller struct {
	processor *Processor
	ctx       Context
	nested    error
}

func (p *reenteringSeller) PayGas(to types.Address, amount *big.Int) error {
	_, p.nested = p.processor.SellCompute(p.ctx, testClass, market.MinSwapAmount, okPayer{})
	return p.nested
}

func TestNestedSellDuringPayoutFails(t *testing.T) {
	processor, emitter := newTestProcessor(t)
	seedPrice(t, processor, 50_000_000)
	ctx := Context{Caller: aliceAddr, Height: 20}
	minted, err := processor.BuyCompute(ctx, testClass, big.NewInt(100_000_000))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	reserveBefore, _ := processor.GasReserve()
	supplyBefore, _ := processor.TokenSupply(testClass)
	emitter.reset()

	payer := &reenteringSeller{processor: processor, ctx: ctx}
	if _, err := processor.SellCompute(ctx, testClass, minted, payer); err == nil {
		t.Fatalf("expected nested payout callback to abort the sell")
	}
	if !errors.Is(payer.nested, access.ErrReentrancy) {
		t.Fatalf("nested sell during payout must fail reentrancy, got %v", payer.nested)
	}
	reserveAfter, _ := processor.GasReserve()
	supplyAfter, _ := processor.TokenSupply(testClass)
	if reserveAfter.Cmp(reserveBefore) != 0 || supplyAfter.Cmp(supplyBefore) != 0 {
		t.Fatalf("aborted sell must leave reserve and supply untouched")
	}
	if len(emitter.events) != 0 {
		t.Fatalf("aborted sell leaked %d events", len(emitter.events))
	}
}

// depositingPayer slips a reserve deposit in during the payout window and
// then declines, so the outer sell aborts afterwards.
type depositingPayer struct {
	processor *Processor
	nested    error
}

func (p *depositingPayer) PayGas(to types.Address, amount *big.Int) error {
	p.nested = p.processor.OnGasPayment(Context{Caller: to, Height: 40}, big.NewInt(1_000_000))
	return errors.New("payout declined")
}

func TestNestedInvocationCannotCommitOuterWrites(t *testing.T) {
	processor, emitter := newTestProcessor(t)
	seedPrice(t, processor, 50_000_000)
	ctx := Context{Caller: aliceAddr, Height: 20}
	minted, err := processor.BuyCompute(ctx, testClass, big.NewInt(100_000_000))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	reserveBefore, _ := processor.GasReserve()
	supplyBefore, _ := processor.TokenSupply(testClass)
	emitter.reset()

	payer := &depositingPayer{processor: processor}
	if _, err := processor.SellCompute(ctx, testClass, minted, payer); err == nil {
		t.Fatalf("expected declined payout to abort the sell")
	}
	if !errors.Is(payer.nested, access.ErrReentrancy) {
		t.Fatalf("nested deposit must be rejected, got %v", payer.nested)
	}
	reserveAfter, _ := processor.GasReserve()
	supplyAfter, _ := processor.TokenSupply(testClass)
	if supplyAfter.Cmp(supplyBefore) != 0 {
		t.Fatalf("aborted sell leaked committed writes: supply %s -> %s", supplyBefore, supplyAfter)
	}
	if reserveAfter.Cmp(reserveBefore) != 0 {
		t.Fatalf("aborted sell leaked committed writes: reserve %s -> %s", reserveBefore, reserveAfter)
	}
	if len(emitter.events) != 0 {
		t.Fatalf("aborted sell leaked %d events", len(emitter.events))
	}
}

func TestSellComputeFromSpendsAllowance(t *testing.T) {
	processor, _ := newTestProcessor(t)
	seedPrice(t, processor, 50_000_000)
	aliceCtx := Context{Caller: aliceAddr, Height: 20}
	minted, err := processor.BuyCompute(aliceCtx, testClass, big.NewInt(100_000_000))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	strangerCtx := Context{Caller: strangerAddr, Height: 21}
	if _, err := processor.SellComputeFrom(strangerCtx, aliceAddr, testClass, minted, okPayer{}); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("expected missing approval rejected, got %v", err)
	}
	if err := processor.Approve(aliceCtx, strangerAddr, minted, testClass); err != nil {
		t.Fatalf("approve: %v", err)
	}
	net, err := processor.SellComputeFrom(strangerCtx, aliceAddr, testClass, minted, okPayer{})
	if err != nil {
		t.Fatalf("delegated sell: %v", err)
	}
	if net.Sign() <= 0 {
		t.Fatalf("expected positive payout, got %s", net)
	}
	remaining, err := processor.Allowance(aliceAddr, strangerAddr, testClass)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if remaining.Sign() != 0 {
		t.Fatalf("expected approval fully spent, got %s", remaining)
	}
	balance, err := processor.BalanceOfToken(aliceAddr, testClass)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("expected seller position drained, got %s", balance)
	}
}
