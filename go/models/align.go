package models

import (
	"golang.org/x/exp/constraints"
)

// PageSize is the firmware page granularity.
const PageSize = 0x1000

// AlignUp rounds n up to a multiple of align, which must be a power of two.
func AlignUp[T constraints.Unsigned](n, align T) T {
	return (n + align - 1) &^ (align - 1)
}

// AlignDown rounds n down to a multiple of align, which must be a power of two.
func AlignDown[T constraints.Unsigned](n, align T) T {
	return n &^ (align - 1)
}
