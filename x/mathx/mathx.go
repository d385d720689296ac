// Package mathx has the few generic integer helpers the capsules share.
package mathx

import "golang.org/x/exp/constraints"

func Min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// Clamp limits v to [lo, hi].
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	return Max(lo, Min(v, hi))
}

// CeilDiv returns ceil(a/b). b == 0 yields 0.
func CeilDiv[T constraints.Unsigned](a, b T) T {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// InRange reports whether the span [off, off+n) fits inside [0, size).
// It is overflow safe.
func InRange[T constraints.Integer](off, n, size T) bool {
	return off >= 0 && n >= 0 && off <= size && n <= size-off
}
