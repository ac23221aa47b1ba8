package fixedpoint

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// Tick bounds of the log-1.0001 price grid. A tick t corresponds to
// sqrtPrice = sqrt(1.0001^t) * 2^96; price is primary, tick is derived.
const (
	MinTick = -887272
	MaxTick = 887272
)

var (
	// MinSqrtRatio is sqrt(1.0001^MinTick) * 2^96.
	MinSqrtRatio = uint256.NewInt(4295128739)

	// MaxSqrtRatio is sqrt(1.0001^MaxTick) * 2^96.
	MaxSqrtRatio = uint256.MustFromDecimal("1461446703485210103287273052203988822378723970342")
)

// sqrtRatioMagics[i] = sqrt(1.0001^-(2^i)) in Q128, the product table used
// to build sqrt(1.0001^tick) one bit of |tick| at a time.
var sqrtRatioMagics = [20]*big.Int{
	hexBig("fffcb933bd6fad37aa2d162d1a594001"),
	hexBig("fff97272373d413259a46990580e213a"),
	hexBig("fff2e50f5f656932ef12357cf3c7fdcc"),
	hexBig("ffe5caca7e10e4e61c3624eaa0941cd0"),
	hexBig("ffcb9843d60f6159c9db58835c926644"),
	hexBig("ff973b41fa98c081472e6896dfb254c0"),
	hexBig("ff2ea16466c96a3843ec78b326b52861"),
	hexBig("fe5dee046a99a2a811c461f1969c3053"),
	hexBig("fcbe86c7900a88aedcffc83b479aa3a4"),
	hexBig("f987a7253ac413176f2b074cf7815e54"),
	hexBig("f3392b0822b70005940c7a398e4b70f3"),
	hexBig("e7159475a2c29b7443b29c7fa6e889d9"),
	hexBig("d097f3bdfd2022b8845ad8f792aa5825"),
	hexBig("a9f746462d870fdf8a65dc1f90e061e5"),
	hexBig("70d869a156d2a1b890bb3df62baf32f7"),
	hexBig("31be135f97d08fd981231505542fcfa6"),
	hexBig("9aa508b5b7a84e1c677de54f3e99bc9"),
	hexBig("5d6af8dedb81196699c329225ee604"),
	hexBig("2216e584f5fa1ea926041bedfe98"),
	hexBig("48a170391f7dc42444e8fa2"),
}

var maxUint256Big = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func hexBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("FATAL: bad tick ratio constant " + s)
	}
	return v
}

// SqrtRatioAtTick returns sqrt(1.0001^tick) * 2^96 as a Q64.96 value.
func SqrtRatioAtTick(tick int) (*uint256.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, fmt.Errorf("tick %d out of range [%d, %d]", tick, MinTick, MaxTick)
	}

	absTick := tick
	if absTick < 0 {
		absTick = -absTick
	}

	ratio := new(big.Int).Lsh(big.NewInt(1), 128)
	for i := 0; i < len(sqrtRatioMagics); i++ {
		if absTick&(1<<i) != 0 {
			ratio.Mul(ratio, sqrtRatioMagics[i])
			ratio.Rsh(ratio, 128)
		}
	}

	if tick > 0 {
		ratio.Div(maxUint256Big, ratio)
	}

	// Q128 -> Q96, rounding up so that TickAtSqrtRatio(SqrtRatioAtTick(t)) == t.
	rem := new(big.Int).And(ratio, big.NewInt((1<<32)-1))
	ratio.Rsh(ratio, 32)
	if rem.Sign() != 0 {
		ratio.Add(ratio, big.NewInt(1))
	}

	out, _ := uint256.FromBig(ratio)
	return out, nil
}

// TickAtSqrtRatio returns the largest tick whose sqrt ratio is <= the given
// sqrt price, by binary search over SqrtRatioAtTick.
func TickAtSqrtRatio(sqrtPriceX96 *uint256.Int) (int, error) {
	if sqrtPriceX96.Lt(MinSqrtRatio) || !sqrtPriceX96.Lt(MaxSqrtRatio) {
		return 0, fmt.Errorf("sqrt price %s out of range", sqrtPriceX96)
	}

	lo, hi := MinTick, MaxTick
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		ratio, err := SqrtRatioAtTick(mid)
		if err != nil {
			return 0, err
		}
		if ratio.Gt(sqrtPriceX96) {
			hi = mid - 1
		} else {
			lo = mid
		}
	}
	return lo, nil
}
