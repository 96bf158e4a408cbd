package vesting

import (
	"math"

	"github.com/holiman/uint256"
)

func checkedAdd(left uint64, right uint64) (uint64, error) {
	sum, overflow := new(uint256.Int).AddOverflow(uint256.NewInt(left), uint256.NewInt(right))
	if overflow || !sum.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return sum.Uint64(), nil
}

func checkedSub(left uint64, right uint64) (uint64, error) {
	if right > left {
		return 0, ErrArithmeticOverflow
	}
	return left - right, nil
}

// mulDiv returns floor(value * numerator / denominator) using a 256-bit
// intermediate product.
func mulDiv(value uint64, numerator uint64, denominator uint64) (uint64, error) {
	if denominator == 0 {
		return 0, ErrArithmeticOverflow
	}
	quotient, overflow := new(uint256.Int).MulDivOverflow(
		uint256.NewInt(value),
		uint256.NewInt(numerator),
		uint256.NewInt(denominator),
	)
	if overflow || !quotient.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return quotient.Uint64(), nil
}

func checkedAddNanos(base int64, delta int64) (int64, error) {
	if delta > 0 && base > math.MaxInt64-delta {
		return 0, ErrArithmeticOverflow
	}
	if delta < 0 && base < math.MinInt64-delta {
		return 0, ErrArithmeticOverflow
	}
	return base + delta, nil
}
