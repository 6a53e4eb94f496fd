package pricing

import (
	"errors"
	"math/big"
	"testing"

	corestate "chatten/core/state"
	"chatten/core/types"
	"chatten/native/access"
	"chatten/storage"
)

var (
	oracleAddr   = types.Address{0x01}
	adminAddr    = types.Address{0x02}
	strangerAddr = types.Address{0x03}
	testClass    = types.ClassIDForModel("gpt-x")
)

type stubAuthority struct {
	paused bool
}

func (a *stubAuthority) Guard() error {
	if a.paused {
		return access.ErrPaused
	}
	return nil
}

func (a *stubAuthority) RequireOracle(caller types.Address) error {
	if caller != oracleAddr {
		return access.ErrUnauthorized
	}
	return nil
}

func (a *stubAuthority) RequireAdmin(caller types.Address) error {
	if caller != adminAddr {
		return access.ErrUnauthorized
	}
	return nil
}

type recordingRegistry struct {
	classes []types.ClassID
}

func (r *recordingRegistry) EnsureClass(class types.ClassID, height uint64) error {
	r.classes = append(r.classes, class)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *stubAuthority, *recordingRegistry) {
	t.Helper()
	auth := &stubAuthority{}
	registry := &recordingRegistry{}
	engine := NewEngine(corestate.NewManager(storage.NewMemDB()), auth)
	engine.SetClassRegistry(registry)
	return engine, auth, registry
}

func TestUpdatePriceStoresSpotAndHistory(t *testing.T) {
	engine, _, registry := newTestEngine(t)
	if err := engine.UpdatePrice(oracleAddr, testClass, big.NewInt(50_000_000), 120); err != nil {
		t.Fatalf("update: %v", err)
	}
	price, err := engine.CurrentPrice(testClass)
	if err != nil {
		t.Fatalf("current price: %v", err)
	}
	if price.Cmp(big.NewInt(50_000_000)) != 0 {
		t.Fatalf("expected 50000000, got %s", price)
	}
	historical, err := engine.PriceAt(testClass, 120)
	if err != nil {
		t.Fatalf("price at: %v", err)
	}
	if historical.Cmp(price) != 0 {
		t.Fatalf("expected history entry to match spot, got %s", historical)
	}
	if missing, err := engine.PriceAt(testClass, 119); err != nil || missing.Sign() != 0 {
		t.Fatalf("expected zero for unrecorded height, got %s err=%v", missing, err)
	}
	if len(registry.classes) != 1 || registry.classes[0] != testClass {
		t.Fatalf("expected lazy class registration on first price")
	}
	info, ok, err := engine.Info(testClass)
	if err != nil || !ok {
		t.Fatalf("info: ok=%v err=%v", ok, err)
	}
	if info.Oracle != oracleAddr || info.UpdatedAt != 120 {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestUpdatePriceRequiresOracle(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	if err := engine.UpdatePrice(strangerAddr, testClass, big.NewInt(1), 1); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := engine.UpdatePrice(oracleAddr, testClass, big.NewInt(0), 1); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
	if price, err := engine.CurrentPrice(testClass); err != nil || price.Sign() != 0 {
		t.Fatalf("expected unset price to read zero, got %s err=%v", price, err)
	}
}

func TestFloorConstrainsFutureUpdates(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	if err := engine.UpdatePrice(oracleAddr, testClass, big.NewInt(1_000), 1); err != nil {
		t.Fatalf("seed price: %v", err)
	}
	if err := engine.SetFloor(strangerAddr, testClass, big.NewInt(500)); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized floor, got %v", err)
	}
	if err := engine.SetFloor(adminAddr, testClass, big.NewInt(500)); err != nil {
		t.Fatalf("set floor: %v", err)
	}
	if err := engine.UpdatePrice(oracleAddr, testClass, big.NewInt(499), 2); !errors.Is(err, ErrBelowFloor) {
		t.Fatalf("expected ErrBelowFloor, got %v", err)
	}
	if err := engine.UpdatePrice(oracleAddr, testClass, big.NewInt(500), 2); err != nil {
		t.Fatalf("update at floor: %v", err)
	}
	// A zero floor removes the constraint.
	if err := engine.SetFloor(adminAddr, testClass, big.NewInt(0)); err != nil {
		t.Fatalf("clear floor: %v", err)
	}
	if err := engine.UpdatePrice(oracleAddr, testClass, big.NewInt(1), 3); err != nil {
		t.Fatalf("update after clearing floor: %v", err)
	}
}

func TestFloorDoesNotRewriteSpot(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	if err := engine.UpdatePrice(oracleAddr, testClass, big.NewInt(400), 1); err != nil {
		t.Fatalf("seed price: %v", err)
	}
	if err := engine.SetFloor(adminAddr, testClass, big.NewInt(600)); err != nil {
		t.Fatalf("set floor: %v", err)
	}
	price, err := engine.CurrentPrice(testClass)
	if err != nil {
		t.Fatalf("current price: %v", err)
	}
	if price.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("floor must not rewrite the standing spot price, got %s", price)
	}
}
