package orderstore_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"

	"PerpExchange/internal/fixedpoint"
	"PerpExchange/internal/orderstore"
)

const (
	maker  = "maker-1"
	market = "vETH"
)

func zeroSnapshot() orderstore.GrowthSnapshot {
	return orderstore.GrowthSnapshot{
		FeeGrowthInsideX128:                  new(uint256.Int),
		TwPremiumGrowthInsideX96:             new(big.Int),
		TwPremiumGrowthBelowX96:              new(big.Int),
		TwPremiumDivSqrtPriceGrowthInsideX96: new(big.Int),
	}
}

// ============================================================================
// Test: identifiers
// ============================================================================

func TestOrderID_Deterministic(t *testing.T) {
	a := orderstore.OrderID(maker, market, -60, 60)
	b := orderstore.OrderID(maker, market, -60, 60)
	if a != b {
		t.Error("same key must derive the same id")
	}
	if a == orderstore.OrderID(maker, market, -120, 60) {
		t.Error("different ranges must derive different ids")
	}
	if a == orderstore.OrderID("maker-2", market, -60, 60) {
		t.Error("different owners must derive different ids")
	}
}

// ============================================================================
// Test: Upsert
// ============================================================================

func TestStore_CreateOrder(t *testing.T) {
	s := orderstore.New(10)

	fee, removed, err := s.Upsert(maker, market, -60, 60, big.NewInt(1000), zeroSnapshot())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !fee.IsZero() {
		t.Errorf("creation fee: got %s, want 0", fee.Dec())
	}
	if removed {
		t.Error("creation should not report removal")
	}

	order, err := s.GetByRange(maker, market, -60, 60)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if order.Liquidity.Uint64() != 1000 {
		t.Errorf("liquidity: got %s, want 1000", order.Liquidity.Dec())
	}
	if s.Count(maker, market) != 1 {
		t.Errorf("count: got %d, want 1", s.Count(maker, market))
	}
}

func TestStore_CreateRequiresPositiveDelta(t *testing.T) {
	s := orderstore.New(10)

	_, _, err := s.Upsert(maker, market, -60, 60, big.NewInt(-100), zeroSnapshot())
	if !errors.Is(err, orderstore.ErrOrderNotFound) {
		t.Errorf("negative delta on absent order: got %v, want ErrOrderNotFound", err)
	}
}

func TestStore_CapEnforced(t *testing.T) {
	s := orderstore.New(2)

	for i, r := range [][2]int{{-60, 60}, {-120, 120}} {
		if _, _, err := s.Upsert(maker, market, r[0], r[1], big.NewInt(100), zeroSnapshot()); err != nil {
			t.Fatalf("order %d: %v", i, err)
		}
	}
	_, _, err := s.Upsert(maker, market, -180, 180, big.NewInt(100), zeroSnapshot())
	if !errors.Is(err, orderstore.ErrOrdersExceeded) {
		t.Errorf("got %v, want ErrOrdersExceeded", err)
	}

	// Growing an existing order is not bounded by the cap.
	if _, _, err := s.Upsert(maker, market, -60, 60, big.NewInt(50), zeroSnapshot()); err != nil {
		t.Errorf("grow existing at cap: %v", err)
	}

	// The cap is per (owner, market); other makers are unaffected.
	if _, _, err := s.Upsert("maker-2", market, -60, 60, big.NewInt(100), zeroSnapshot()); err != nil {
		t.Errorf("other maker at cap: %v", err)
	}
}

func TestStore_UpsertRealizesFee(t *testing.T) {
	s := orderstore.New(10)

	liq := big.NewInt(1_000_000)
	if _, _, err := s.Upsert(maker, market, -60, 60, liq, zeroSnapshot()); err != nil {
		t.Fatal(err)
	}

	// Growth of exactly Q128 per unit of liquidity realizes one token per
	// unit: fee = growthDelta * L / 2^128 = L.
	fresh := zeroSnapshot()
	fresh.FeeGrowthInsideX128 = new(uint256.Int).Set(fixedpoint.Q128)
	fee, removed, err := s.Upsert(maker, market, -60, 60, big.NewInt(0), fresh)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if fee.ToBig().Cmp(liq) != 0 {
		t.Errorf("fee: got %s, want %s", fee.Dec(), liq)
	}
	if removed {
		t.Error("zero delta should not remove the order")
	}

	// The snapshot advanced; settling again at the same growth owes nothing.
	fee, _, err = s.Upsert(maker, market, -60, 60, big.NewInt(0), fresh)
	if err != nil {
		t.Fatal(err)
	}
	if !fee.IsZero() {
		t.Errorf("second settle: got %s, want 0", fee.Dec())
	}
}

func TestStore_UpsertWrappedGrowth(t *testing.T) {
	s := orderstore.New(10)
	if _, _, err := s.Upsert(maker, market, -60, 60, big.NewInt(1_000_000), zeroSnapshot()); err != nil {
		t.Fatal(err)
	}

	// Move the snapshot near the top of the accumulator range, then wrap.
	maxU256 := new(uint256.Int).Not(new(uint256.Int))
	high := zeroSnapshot()
	high.FeeGrowthInsideX128 = new(uint256.Int).Sub(maxU256, fixedpoint.Q128)
	if _, _, err := s.Upsert(maker, market, -60, 60, big.NewInt(0), high); err != nil {
		t.Fatal(err)
	}

	// Advance by exactly 2*Q128; the accumulator wraps past zero.
	wrapped := zeroSnapshot()
	wrapped.FeeGrowthInsideX128 = new(uint256.Int).Add(
		high.FeeGrowthInsideX128,
		new(uint256.Int).Lsh(fixedpoint.Q128, 1),
	)
	fee, _, err := s.Upsert(maker, market, -60, 60, big.NewInt(0), wrapped)
	if err != nil {
		t.Fatal(err)
	}
	if fee.Uint64() != 2_000_000 {
		t.Errorf("wrapped fee: got %s, want 2000000", fee.Dec())
	}
}

func TestStore_RemoveToZeroDeletes(t *testing.T) {
	s := orderstore.New(10)
	if _, _, err := s.Upsert(maker, market, -60, 60, big.NewInt(1000), zeroSnapshot()); err != nil {
		t.Fatal(err)
	}

	_, removed, err := s.Upsert(maker, market, -60, 60, big.NewInt(-1000), zeroSnapshot())
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !removed {
		t.Error("full removal should report deletion")
	}
	if s.Count(maker, market) != 0 {
		t.Errorf("count after removal: got %d, want 0", s.Count(maker, market))
	}
	if _, err := s.GetByRange(maker, market, -60, 60); !errors.Is(err, orderstore.ErrOrderNotFound) {
		t.Errorf("get after removal: got %v, want ErrOrderNotFound", err)
	}
}

func TestStore_RemoveBeyondLiquidityFails(t *testing.T) {
	s := orderstore.New(10)
	if _, _, err := s.Upsert(maker, market, -60, 60, big.NewInt(1000), zeroSnapshot()); err != nil {
		t.Fatal(err)
	}

	_, _, err := s.Upsert(maker, market, -60, 60, big.NewInt(-1001), zeroSnapshot())
	if !errors.Is(err, orderstore.ErrInsufficientLiquidity) {
		t.Errorf("got %v, want ErrInsufficientLiquidity", err)
	}
}

// ============================================================================
// Test: index
// ============================================================================

func TestStore_IDsAreACopy(t *testing.T) {
	s := orderstore.New(10)
	if _, _, err := s.Upsert(maker, market, -60, 60, big.NewInt(100), zeroSnapshot()); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Upsert(maker, market, -120, 120, big.NewInt(100), zeroSnapshot()); err != nil {
		t.Fatal(err)
	}

	ids := s.IDs(maker, market)
	if len(ids) != 2 {
		t.Fatalf("ids: got %d, want 2", len(ids))
	}
	ids[0] = ids[1]
	fresh := s.IDs(maker, market)
	if fresh[0] == fresh[1] {
		t.Error("mutating the returned slice must not affect the index")
	}
}

func TestStore_Remove(t *testing.T) {
	s := orderstore.New(10)
	if _, _, err := s.Upsert(maker, market, -60, 60, big.NewInt(100), zeroSnapshot()); err != nil {
		t.Fatal(err)
	}

	if err := s.Remove(maker, market, -60, 60); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.Remove(maker, market, -60, 60); !errors.Is(err, orderstore.ErrOrderNotFound) {
		t.Errorf("second remove: got %v, want ErrOrderNotFound", err)
	}
}

// ============================================================================
// Test: funding snapshots
// ============================================================================

func TestStore_RefreshFundingSnapshots(t *testing.T) {
	s := orderstore.New(10)
	if _, _, err := s.Upsert(maker, market, -60, 60, big.NewInt(100), zeroSnapshot()); err != nil {
		t.Fatal(err)
	}
	id := orderstore.OrderID(maker, market, -60, 60)

	fresh := zeroSnapshot()
	fresh.TwPremiumGrowthInsideX96 = big.NewInt(123)
	fresh.TwPremiumGrowthBelowX96 = big.NewInt(456)
	fresh.TwPremiumDivSqrtPriceGrowthInsideX96 = big.NewInt(789)
	if err := s.RefreshFundingSnapshots(id, fresh); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	order, err := s.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if order.LastTwPremiumGrowthInsideX96.Int64() != 123 ||
		order.LastTwPremiumGrowthBelowX96.Int64() != 456 ||
		order.LastTwPremiumDivSqrtPriceGrowthInsideX96.Int64() != 789 {
		t.Error("funding snapshots not refreshed")
	}

	err = s.RefreshFundingSnapshots(orderstore.OrderID("nobody", market, 0, 60), fresh)
	if !errors.Is(err, orderstore.ErrOrderNotFound) {
		t.Errorf("unknown order: got %v, want ErrOrderNotFound", err)
	}
}

// ============================================================================
// Test: snapshot round trip
// ============================================================================

func TestStore_SnapshotRestore(t *testing.T) {
	s := orderstore.New(10)
	snapIn := orderstore.GrowthSnapshot{
		FeeGrowthInsideX128:                  uint256.NewInt(42),
		TwPremiumGrowthInsideX96:             big.NewInt(-7),
		TwPremiumGrowthBelowX96:              big.NewInt(11),
		TwPremiumDivSqrtPriceGrowthInsideX96: big.NewInt(-13),
	}
	if _, _, err := s.Upsert(maker, market, -60, 60, big.NewInt(5000), snapIn); err != nil {
		t.Fatal(err)
	}

	snaps := s.Snapshot()
	if len(snaps) != 1 {
		t.Fatalf("snapshot count: got %d, want 1", len(snaps))
	}

	restored := orderstore.New(10)
	if err := restored.Restore(snaps[0]); err != nil {
		t.Fatalf("restore: %v", err)
	}

	order, err := restored.GetByRange(maker, market, -60, 60)
	if err != nil {
		t.Fatalf("get restored: %v", err)
	}
	if order.Liquidity.Uint64() != 5000 {
		t.Errorf("liquidity: got %s, want 5000", order.Liquidity.Dec())
	}
	if order.LastFeeGrowthInsideX128.Uint64() != 42 {
		t.Errorf("fee snapshot: got %s, want 42", order.LastFeeGrowthInsideX128.Dec())
	}
	if order.LastTwPremiumGrowthInsideX96.Int64() != -7 {
		t.Errorf("premium snapshot: got %s, want -7", order.LastTwPremiumGrowthInsideX96)
	}
	if restored.Count(maker, market) != 1 {
		t.Errorf("restored count: got %d, want 1", restored.Count(maker, market))
	}

	if err := restored.Restore(snaps[0]); err == nil {
		t.Error("duplicate restore should fail")
	}
}
