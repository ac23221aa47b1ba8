package fixedpoint_test

import (
	"testing"

	"github.com/holiman/uint256"

	"PerpExchange/internal/fixedpoint"
)

// ============================================================================
// Test: SqrtRatioAtTick
// ============================================================================

func TestSqrtRatioAtTick_ZeroIsQ96(t *testing.T) {
	got, err := fixedpoint.SqrtRatioAtTick(0)
	if err != nil {
		t.Fatalf("SqrtRatioAtTick(0): %v", err)
	}
	if !got.Eq(fixedpoint.Q96) {
		t.Errorf("got %s, want %s", got.Dec(), fixedpoint.Q96.Dec())
	}
}

func TestSqrtRatioAtTick_MinTick(t *testing.T) {
	got, err := fixedpoint.SqrtRatioAtTick(fixedpoint.MinTick)
	if err != nil {
		t.Fatalf("SqrtRatioAtTick(MinTick): %v", err)
	}
	if !got.Eq(fixedpoint.MinSqrtRatio) {
		t.Errorf("got %s, want %s", got.Dec(), fixedpoint.MinSqrtRatio.Dec())
	}
}

func TestSqrtRatioAtTick_MaxTick(t *testing.T) {
	got, err := fixedpoint.SqrtRatioAtTick(fixedpoint.MaxTick)
	if err != nil {
		t.Fatalf("SqrtRatioAtTick(MaxTick): %v", err)
	}
	if !got.Eq(fixedpoint.MaxSqrtRatio) {
		t.Errorf("got %s, want %s", got.Dec(), fixedpoint.MaxSqrtRatio.Dec())
	}
}

func TestSqrtRatioAtTick_OutOfRange(t *testing.T) {
	if _, err := fixedpoint.SqrtRatioAtTick(fixedpoint.MinTick - 1); err == nil {
		t.Error("expected error below MinTick")
	}
	if _, err := fixedpoint.SqrtRatioAtTick(fixedpoint.MaxTick + 1); err == nil {
		t.Error("expected error above MaxTick")
	}
}

func TestSqrtRatioAtTick_Monotonic(t *testing.T) {
	ticks := []int{-887272, -100000, -60, -1, 0, 1, 60, 100000, 887272}
	prev, err := fixedpoint.SqrtRatioAtTick(ticks[0])
	if err != nil {
		t.Fatal(err)
	}
	for _, tick := range ticks[1:] {
		cur, err := fixedpoint.SqrtRatioAtTick(tick)
		if err != nil {
			t.Fatalf("SqrtRatioAtTick(%d): %v", tick, err)
		}
		if !prev.Lt(cur) {
			t.Errorf("ratio at tick %d not greater than previous: %s <= %s", tick, cur.Dec(), prev.Dec())
		}
		prev = cur
	}
}

// ============================================================================
// Test: TickAtSqrtRatio
// ============================================================================

func TestTickAtSqrtRatio_RoundTrip(t *testing.T) {
	ticks := []int{fixedpoint.MinTick, -100000, -12345, -60, 0, 60, 12345, 100000, fixedpoint.MaxTick - 1}
	for _, tick := range ticks {
		ratio, err := fixedpoint.SqrtRatioAtTick(tick)
		if err != nil {
			t.Fatalf("SqrtRatioAtTick(%d): %v", tick, err)
		}
		got, err := fixedpoint.TickAtSqrtRatio(ratio)
		if err != nil {
			t.Fatalf("TickAtSqrtRatio at tick %d: %v", tick, err)
		}
		if got != tick {
			t.Errorf("round trip tick %d: got %d", tick, got)
		}
	}
}

func TestTickAtSqrtRatio_Bounds(t *testing.T) {
	if _, err := fixedpoint.TickAtSqrtRatio(new(uint256.Int).SubUint64(fixedpoint.MinSqrtRatio, 1)); err == nil {
		t.Error("expected error below MinSqrtRatio")
	}
	// MaxSqrtRatio itself is exclusive.
	if _, err := fixedpoint.TickAtSqrtRatio(fixedpoint.MaxSqrtRatio); err == nil {
		t.Error("expected error at MaxSqrtRatio")
	}
	got, err := fixedpoint.TickAtSqrtRatio(fixedpoint.MinSqrtRatio)
	if err != nil {
		t.Fatalf("TickAtSqrtRatio(MinSqrtRatio): %v", err)
	}
	if got != fixedpoint.MinTick {
		t.Errorf("got %d, want %d", got, fixedpoint.MinTick)
	}
}

// ============================================================================
// Test: MulDiv family
// ============================================================================

func TestMulDiv_Floor(t *testing.T) {
	got := fixedpoint.MulDiv(uint256.NewInt(7), uint256.NewInt(3), uint256.NewInt(2))
	if got.Uint64() != 10 {
		t.Errorf("floor(7*3/2): got %d, want 10", got.Uint64())
	}
}

func TestMulDiv_NoIntermediateOverflow(t *testing.T) {
	// a * b overflows 256 bits; the quotient does not.
	a := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	b := new(uint256.Int).Lsh(uint256.NewInt(1), 100)
	denom := new(uint256.Int).Lsh(uint256.NewInt(1), 150)
	got := fixedpoint.MulDiv(a, b, denom)
	want := new(uint256.Int).Lsh(uint256.NewInt(1), 150)
	if !got.Eq(want) {
		t.Errorf("got %s, want %s", got.Dec(), want.Dec())
	}
}

func TestMulDivRoundingUp(t *testing.T) {
	got := fixedpoint.MulDivRoundingUp(uint256.NewInt(7), uint256.NewInt(3), uint256.NewInt(2))
	if got.Uint64() != 11 {
		t.Errorf("ceil(7*3/2): got %d, want 11", got.Uint64())
	}
	exact := fixedpoint.MulDivRoundingUp(uint256.NewInt(4), uint256.NewInt(3), uint256.NewInt(2))
	if exact.Uint64() != 6 {
		t.Errorf("ceil(4*3/2): got %d, want 6", exact.Uint64())
	}
}

func TestDivRoundingUp(t *testing.T) {
	if got := fixedpoint.DivRoundingUp(uint256.NewInt(10), uint256.NewInt(3)); got.Uint64() != 4 {
		t.Errorf("ceil(10/3): got %d, want 4", got.Uint64())
	}
	if got := fixedpoint.DivRoundingUp(uint256.NewInt(9), uint256.NewInt(3)); got.Uint64() != 3 {
		t.Errorf("ceil(9/3): got %d, want 3", got.Uint64())
	}
}

func TestWrappingSub_Wraps(t *testing.T) {
	// 1 - 2 wraps to 2^256 - 1.
	got := fixedpoint.WrappingSub(uint256.NewInt(1), uint256.NewInt(2))
	maxU256 := new(uint256.Int).Not(new(uint256.Int))
	if !got.Eq(maxU256) {
		t.Errorf("1 - 2: got %s, want 2^256-1", got.Dec())
	}

	// Delta across a wrap recovers the true growth: old near max, new
	// wrapped past zero.
	old := new(uint256.Int).SubUint64(maxU256, 4)
	fresh := uint256.NewInt(5)
	delta := fixedpoint.WrappingSub(fresh, old)
	if delta.Uint64() != 10 {
		t.Errorf("wrapped delta: got %s, want 10", delta.Dec())
	}
}

// ============================================================================
// Test: fee ratio helpers
// ============================================================================

func TestMulFeePPM(t *testing.T) {
	// 1_000_000 at 3000 ppm = 3000.
	got := fixedpoint.MulFeePPM(uint256.NewInt(1_000_000), 3000)
	if got.Uint64() != 3000 {
		t.Errorf("got %d, want 3000", got.Uint64())
	}
	// Floor: 1 at 3000 ppm = 0.
	if got := fixedpoint.MulFeePPM(uint256.NewInt(1), 3000); !got.IsZero() {
		t.Errorf("floor fee on 1 wei: got %d, want 0", got.Uint64())
	}
}

func TestMulFeePPMRoundingUp(t *testing.T) {
	// Ceil: 1 at 3000 ppm = 1.
	got := fixedpoint.MulFeePPMRoundingUp(uint256.NewInt(1), 3000)
	if got.Uint64() != 1 {
		t.Errorf("ceil fee on 1 wei: got %d, want 1", got.Uint64())
	}
	if got := fixedpoint.MulFeePPMRoundingUp(uint256.NewInt(1_000_000), 3000); got.Uint64() != 3000 {
		t.Errorf("got %d, want 3000", got.Uint64())
	}
}
