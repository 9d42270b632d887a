package sample

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScalarPointPair(t *testing.T) {
	x, X := ScalarPointPair(rand.Reader)
	assert.False(t, x.IsZero())
	assert.True(t, x.ActOnBase().Equal(X))
}

func TestScalar_Deterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, 64)
	a := Scalar(bytes.NewReader(seed))
	b := Scalar(bytes.NewReader(seed))
	assert.True(t, a.Equal(b))
}

func TestMustReadBits_Panics(t *testing.T) {
	assert.PanicsWithValue(t, ErrMaxIterations, func() {
		Bytes(bytes.NewReader(nil), 4)
	})
}
