package sample

import (
	"fmt"
	"io"

	"MPC_SESSION/pkg/math/curve"
)

const maxIterations = 255

var ErrMaxIterations = fmt.Errorf("sample: failed to generate after %d iterations", maxIterations)

func mustReadBits(rand io.Reader, buf []byte) {
	for i := 0; i < maxIterations; i++ {
		if _, err := io.ReadFull(rand, buf); err == nil {
			return
		}
	}
	panic(ErrMaxIterations)
}

// Bytes returns n bytes read from rand.
func Bytes(rand io.Reader, n int) []byte {
	buf := make([]byte, n)
	mustReadBits(rand, buf)
	return buf
}

// Scalar returns a new *curve.Scalar by reading bytes from rand.
// The secp256k1 order is within 2¹²⁸ of 2²⁵⁶, so reducing 32 random bytes is close to uniform.
func Scalar(rand io.Reader) *curve.Scalar {
	return curve.ScalarFromHash(Bytes(rand, curve.ScalarBytes))
}

// ScalarUnit returns a new non-zero *curve.Scalar by reading bytes from rand.
func ScalarUnit(rand io.Reader) *curve.Scalar {
	for i := 0; i < maxIterations; i++ {
		s := Scalar(rand)
		if !s.IsZero() {
			return s
		}
	}
	panic(ErrMaxIterations)
}

// ScalarPointPair returns a new *curve.Scalar/*curve.Point tuple (x,X) by reading bytes from rand.
// The tuple satisfies X = x⋅G where G is the base point of the curve.
func ScalarPointPair(rand io.Reader) (*curve.Scalar, *curve.Point) {
	s := ScalarUnit(rand)
	return s, s.ActOnBase()
}
