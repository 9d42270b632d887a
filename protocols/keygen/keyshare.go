package keygen

import (
	"encoding/hex"
	"errors"
	"fmt"

	"MPC_SESSION/internal/round"
	"MPC_SESSION/pkg/math/curve"
	"MPC_SESSION/pkg/math/polynomial"
	"MPC_SESSION/pkg/party"
	"golang.org/x/crypto/sha3"
)

// KeyShare is the artifact of a keygen session. It contains secret key material and
// should be safely stored.
type KeyShare struct {
	Parameters round.Parameters
	// Index is the keygen index of the holder, used as its evaluation point.
	Index party.Index
	// Secret is the local key share xᵢ.
	Secret []byte
	// PublicKey is the compressed group public key.
	PublicKey []byte
	// Address is the Ethereum-style address of PublicKey.
	Address string
	// PublicShares[j] = xⱼ•G, compressed.
	PublicShares map[party.Index][]byte
}

// SecretScalar decodes xᵢ.
func (k *KeyShare) SecretScalar() (*curve.Scalar, error) {
	var x curve.Scalar
	if err := x.UnmarshalBinary(k.Secret); err != nil {
		return nil, fmt.Errorf("keygen: secret share: %w", err)
	}
	return &x, nil
}

// PublicPoint decodes the group public key.
func (k *KeyShare) PublicPoint() (*curve.Point, error) {
	var p curve.Point
	if err := p.UnmarshalBinary(k.PublicKey); err != nil {
		return nil, fmt.Errorf("keygen: public key: %w", err)
	}
	return &p, nil
}

// PublicShare decodes xⱼ•G.
func (k *KeyShare) PublicShare(j party.Index) (*curve.Point, error) {
	data, ok := k.PublicShares[j]
	if !ok {
		return nil, fmt.Errorf("keygen: no public share for party %d", j)
	}
	var p curve.Point
	if err := p.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("keygen: public share %d: %w", j, err)
	}
	return &p, nil
}

// Validate checks that the share is consistent: xᵢ•G matches the public share of
// the holder and any threshold+1 public shares interpolate to the public key.
func (k *KeyShare) Validate() error {
	if err := k.Parameters.Validate(); err != nil {
		return err
	}
	if len(k.PublicShares) != k.Parameters.Parties {
		return errors.New("keygen: missing public shares")
	}
	x, err := k.SecretScalar()
	if err != nil {
		return err
	}
	own, err := k.PublicShare(k.Index)
	if err != nil {
		return err
	}
	if !x.ActOnBase().Equal(own) {
		return errors.New("keygen: secret share does not match public share")
	}
	pub, err := k.PublicPoint()
	if err != nil {
		return err
	}
	quorum := party.Range(k.Parameters.Signers())
	lagrange := polynomial.Lagrange(quorum)
	sum := curve.NewIdentity()
	for _, j := range quorum {
		X, err := k.PublicShare(j)
		if err != nil {
			return err
		}
		sum = sum.Add(lagrange[j].Act(X))
	}
	if !sum.Equal(pub) {
		return errors.New("keygen: public shares do not interpolate to the public key")
	}
	if Address(pub) != k.Address {
		return errors.New("keygen: address does not match public key")
	}
	return nil
}

// Address returns the Ethereum-style address of a public key:
// the last 20 bytes of the Keccak-256 of its uncompressed coordinates.
func Address(pub *curve.Point) string {
	data, err := pub.Uncompressed()
	if err != nil {
		return ""
	}
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(data[1:])
	sum := h.Sum(nil)
	return "0x" + hex.EncodeToString(sum[len(sum)-20:])
}
