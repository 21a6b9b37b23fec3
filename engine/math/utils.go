package math

import (
	"math/bits"

	"golang.org/x/exp/constraints"
)

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// DivRoundUp returns ceil(n / d), the usual dispatch group count.
func DivRoundUp[T constraints.Unsigned](n, d T) T {
	if d == 0 {
		return 0
	}
	return (n + d - 1) / d
}

// MipCount returns the length of a full mip chain for a width x height image.
func MipCount(width, height uint32) uint32 {
	largest := Max(width, height)
	if largest == 0 {
		return 1
	}
	return uint32(bits.Len32(largest))
}
