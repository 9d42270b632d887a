// Copyright © 2023 Antalpha
//
// This file is part of Antalpha. The full Antalpha copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package curve

import (
	"errors"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v3"
)

// ScalarBytes is the length of an encoded scalar.
const ScalarBytes = 32

// PointBytes is the length of a compressed point.
const PointBytes = 33

// Scalar is an element of ℤₙ, n the order of secp256k1.
type Scalar struct {
	value secp256k1.ModNScalar
}

// NewScalar returns the scalar 0.
func NewScalar() *Scalar {
	return new(Scalar)
}

// ScalarFromUint returns the scalar x.
func ScalarFromUint(x uint32) *Scalar {
	var s Scalar
	s.value.SetInt(x)
	return &s
}

// ScalarFromHash reduces a digest modulo n.
func ScalarFromHash(digest []byte) *Scalar {
	var s Scalar
	s.value.SetByteSlice(digest)
	return &s
}

// Set sets s = x and returns s.
func (s *Scalar) Set(x *Scalar) *Scalar {
	s.value.Set(&x.value)
	return s
}

// Add sets s = s + x and returns s.
func (s *Scalar) Add(x *Scalar) *Scalar {
	s.value.Add(&x.value)
	return s
}

// Mul sets s = s • x and returns s.
func (s *Scalar) Mul(x *Scalar) *Scalar {
	s.value.Mul(&x.value)
	return s
}

// Negate sets s = -s and returns s.
func (s *Scalar) Negate() *Scalar {
	s.value.Negate()
	return s
}

// Invert sets s = s⁻¹ and returns s.
func (s *Scalar) Invert() *Scalar {
	s.value.InverseNonConst()
	return s
}

// Clone returns a copy of s.
func (s *Scalar) Clone() *Scalar {
	return new(Scalar).Set(s)
}

func (s *Scalar) Equal(x *Scalar) bool {
	return s.value.Equals(&x.value)
}

func (s *Scalar) IsZero() bool {
	return s.value.IsZero()
}

// ActOnBase returns s•G.
func (s *Scalar) ActOnBase() *Point {
	var p Point
	secp256k1.ScalarBaseMultNonConst(&s.value, &p.value)
	return &p
}

// Act returns s•p.
func (s *Scalar) Act(p *Point) *Point {
	var out Point
	secp256k1.ScalarMultNonConst(&s.value, &p.value, &out.value)
	return &out
}

// Bytes returns the 32 byte big-endian encoding of s.
func (s *Scalar) Bytes() []byte {
	b := s.value.Bytes()
	return b[:]
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s *Scalar) MarshalBinary() ([]byte, error) {
	return s.Bytes(), nil
}

// UnmarshalBinary decodes a canonical 32 byte encoding, rejecting values ≥ n.
func (s *Scalar) UnmarshalBinary(data []byte) error {
	if len(data) != ScalarBytes {
		return errors.New("curve: invalid scalar length")
	}
	var v secp256k1.ModNScalar
	v.SetByteSlice(data)
	b := v.Bytes()
	for i := range b {
		if b[i] != data[i] {
			return errors.New("curve: scalar overflows group order")
		}
	}
	s.value = v
	return nil
}

// WriteTo implements io.WriterTo.
func (s *Scalar) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(s.Bytes())
	return int64(n), err
}

// Domain implements hash.WriterToWithDomain.
func (*Scalar) Domain() string {
	return "Secp256k1 Scalar"
}

// Point is a point on secp256k1, possibly the identity.
type Point struct {
	value secp256k1.JacobianPoint
}

// NewIdentity returns the point at infinity.
func NewIdentity() *Point {
	return new(Point)
}

// Generator returns G.
func Generator() *Point {
	return ScalarFromUint(1).ActOnBase()
}

// Add returns p + q.
func (p *Point) Add(q *Point) *Point {
	var out Point
	secp256k1.AddNonConst(&p.value, &q.value, &out.value)
	return &out
}

// affine returns a normalized copy of p.
func (p *Point) affine() secp256k1.JacobianPoint {
	a := p.value
	a.ToAffine()
	return a
}

func (p *Point) IsIdentity() bool {
	return (p.value.X.IsZero() && p.value.Y.IsZero()) || p.value.Z.IsZero()
}

func (p *Point) Equal(q *Point) bool {
	if p.IsIdentity() || q.IsIdentity() {
		return p.IsIdentity() && q.IsIdentity()
	}
	a, b := p.affine(), q.affine()
	return a.X.Equals(&b.X) && a.Y.Equals(&b.Y)
}

// XBytes returns the 32 byte big-endian x coordinate.
func (p *Point) XBytes() []byte {
	a := p.affine()
	b := a.X.Bytes()
	return b[:]
}

// HasOddY reports whether the y coordinate is odd.
func (p *Point) HasOddY() bool {
	a := p.affine()
	return a.Y.IsOdd()
}

// MarshalBinary returns the compressed SEC1 encoding. The identity cannot be encoded.
func (p *Point) MarshalBinary() ([]byte, error) {
	if p.IsIdentity() {
		return nil, errors.New("curve: cannot marshal the identity")
	}
	a := p.affine()
	return secp256k1.NewPublicKey(&a.X, &a.Y).SerializeCompressed(), nil
}

// UnmarshalBinary parses a compressed or uncompressed SEC1 encoding.
func (p *Point) UnmarshalBinary(data []byte) error {
	pk, err := secp256k1.ParsePubKey(data)
	if err != nil {
		return err
	}
	var v secp256k1.JacobianPoint
	v.X.SetByteSlice(pk.X().Bytes())
	v.Y.SetByteSlice(pk.Y().Bytes())
	v.Z.SetInt(1)
	p.value = v
	return nil
}

// Uncompressed returns the 65 byte SEC1 encoding.
func (p *Point) Uncompressed() ([]byte, error) {
	if p.IsIdentity() {
		return nil, errors.New("curve: cannot marshal the identity")
	}
	a := p.affine()
	return secp256k1.NewPublicKey(&a.X, &a.Y).SerializeUncompressed(), nil
}

// WriteTo implements io.WriterTo.
func (p *Point) WriteTo(w io.Writer) (int64, error) {
	data, err := p.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// Domain implements hash.WriterToWithDomain.
func (*Point) Domain() string {
	return "Secp256k1 Point"
}
