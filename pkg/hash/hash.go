// Copyright © 2023 Antalpha
//
// This file is part of Antalpha. The full Antalpha copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package hash

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"MPC_SESSION/pkg/math/sample"
	"github.com/zeebo/blake3"
)

// DigestLengthBytes is the output length of Sum.
const DigestLengthBytes = 32

// WriterToWithDomain is a value that writes itself into a hash under a domain separator.
type WriterToWithDomain interface {
	io.WriterTo
	// Domain returns a context string, separating different types.
	Domain() string
}

// BytesWithDomain is a byte slice with an explicit domain.
type BytesWithDomain struct {
	TheDomain string
	Bytes     []byte
}

func (b BytesWithDomain) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(b.Bytes)
	return int64(n), err
}

func (b BytesWithDomain) Domain() string {
	return b.TheDomain
}

// Hash is a domain separated blake3 hash.
// Every value is written as its domain and its length-prefixed encoding, so
// concatenations of different values cannot collide.
type Hash struct {
	h *blake3.Hasher
}

// New creates a Hash and writes the optional initial data.
func New(initialData ...WriterToWithDomain) *Hash {
	h := &Hash{h: blake3.New()}
	for _, data := range initialData {
		_ = h.WriteAny(data)
	}
	return h
}

// WriteAny writes each value to the hash.
// Supported types are []byte, string, uint64 and WriterToWithDomain.
func (hash *Hash) WriteAny(data ...interface{}) error {
	for _, d := range data {
		var toBeWritten WriterToWithDomain
		switch t := d.(type) {
		case []byte:
			toBeWritten = BytesWithDomain{"[]byte", t}
		case string:
			toBeWritten = BytesWithDomain{"string", []byte(t)}
		case uint64:
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], t)
			toBeWritten = BytesWithDomain{"uint64", buf[:]}
		case WriterToWithDomain:
			toBeWritten = t
		default:
			return fmt.Errorf("hash.WriteAny: invalid type %T", d)
		}
		if err := hash.write(toBeWritten); err != nil {
			return err
		}
	}
	return nil
}

func (hash *Hash) write(v WriterToWithDomain) error {
	var body writeBuffer
	if _, err := v.WriteTo(&body); err != nil {
		return fmt.Errorf("hash.WriteAny: %s: %w", v.Domain(), err)
	}
	domain := []byte(v.Domain())
	var prefix [8]byte
	binary.BigEndian.PutUint64(prefix[:], uint64(len(domain)))
	_, _ = hash.h.Write(prefix[:])
	_, _ = hash.h.Write(domain)
	binary.BigEndian.PutUint64(prefix[:], uint64(len(body)))
	_, _ = hash.h.Write(prefix[:])
	_, _ = hash.h.Write(body)
	return nil
}

// Sum returns the digest of everything written so far. The hash can keep being written to.
func (hash *Hash) Sum() []byte {
	return hash.h.Sum(nil)
}

type writeBuffer []byte

func (b *writeBuffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}

// Commitment binds a party to values without revealing them.
type Commitment []byte

// Decommitment is the randomness opening a Commitment.
type Decommitment []byte

// Commit returns a commitment to data together with its random opening.
func Commit(rand io.Reader, data ...interface{}) (Commitment, Decommitment, error) {
	decommitment := Decommitment(sample.Bytes(rand, DigestLengthBytes))
	h := New()
	if err := h.WriteAny(data...); err != nil {
		return nil, nil, err
	}
	if err := h.WriteAny([]byte(decommitment)); err != nil {
		return nil, nil, err
	}
	return h.Sum(), decommitment, nil
}

// ErrDecommit is returned when a decommitment does not open its commitment.
var ErrDecommit = errors.New("hash: decommitment does not match commitment")

// Decommit verifies that decommitment opens c to data.
func Decommit(c Commitment, decommitment Decommitment, data ...interface{}) error {
	if len(c) != DigestLengthBytes || len(decommitment) != DigestLengthBytes {
		return ErrDecommit
	}
	h := New()
	if err := h.WriteAny(data...); err != nil {
		return err
	}
	if err := h.WriteAny([]byte(decommitment)); err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(h.Sum(), c) != 1 {
		return ErrDecommit
	}
	return nil
}
