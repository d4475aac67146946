// Package pad implements alignment helpers used by the image formats.
package pad

import (
	"bytes"

	"golang.org/x/exp/constraints"
)

// Up rounds n up to the next multiple of boundary. Values already on a
// boundary are returned unchanged.
func Up[T constraints.Integer](n, boundary T) T {
	if rem := n % boundary; rem != 0 {
		return n + boundary - rem
	}
	return n
}

// Sectors returns the number of boundary-sized units needed to hold n.
func Sectors[T constraints.Integer](n, boundary T) T {
	return Up(n, boundary) / boundary
}

// To returns a copy of b extended with fill bytes up to length size. b must
// not be longer than size.
func To(b []byte, size int, fill byte) []byte {
	res := make([]byte, 0, size)
	res = append(res, b...)
	return append(res, bytes.Repeat([]byte{fill}, size-len(b))...)
}

// Align returns a copy of b extended with fill bytes up to the next multiple
// of boundary.
func Align(b []byte, boundary int, fill byte) []byte {
	return To(b, Up(len(b), boundary), fill)
}
