package sign

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"MPC_SESSION/internal/round"
	"MPC_SESSION/pkg/hash"
	"MPC_SESSION/pkg/math/curve"
	"MPC_SESSION/pkg/math/polynomial"
	"MPC_SESSION/pkg/math/sample"
	"MPC_SESSION/pkg/party"
	"MPC_SESSION/pkg/protocol"
	"MPC_SESSION/protocols/keygen"
	"github.com/fxamacker/cbor/v2"
	"github.com/hashicorp/go-multierror"
)

// Local is an in-process Capability producing threshold Schnorr signatures over secp256k1.
//
//   - round 1: sample kᵢ, broadcast the keygen index and a commitment to Rᵢ = kᵢ•G
//   - round 2: broadcast Rᵢ and the decommitment
//   - round 3: R = Σ Rⱼ, e = H(R, X, m), broadcast sᵢ = kᵢ + e⋅λᵢ⋅xᵢ
//   - finalize: check sⱼ•G = Rⱼ + e⋅λⱼ•Xⱼ, s = Σ sⱼ
type Local struct {
	// Rand is the source of randomness, crypto/rand when nil.
	Rand io.Reader
}

var _ Capability = (*Local)(nil)

type localState struct {
	Key          *keygen.KeyShare
	Digest       []byte
	Nonce        []byte
	NoncePoint   []byte
	Decommitment []byte

	// session index → keygen index of every other signer, from round 2 on
	KeyIndices  map[party.Index]party.Index
	Commitments map[party.Index][]byte
	// from round 3 on
	NoncePoints map[party.Index][]byte
	Partial     []byte
}

type commitmentBody struct {
	KeyIndex   party.Index
	Commitment []byte
}

type decommitmentBody struct {
	NoncePoint   []byte
	Decommitment []byte
}

type partialBody struct {
	S []byte
}

func (l *Local) rand() io.Reader {
	if l.Rand == nil {
		return rand.Reader
	}
	return l.Rand
}

// Round1 implements Capability.
func (l *Local) Round1(ctx context.Context, info round.Info, key *keygen.KeyShare, digest []byte) (*round.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := key.SecretScalar(); err != nil {
		return nil, err
	}
	nonce, noncePoint := sample.ScalarPointPair(l.rand())
	R, err := noncePoint.MarshalBinary()
	if err != nil {
		return nil, err
	}
	commitment, decommitment, err := hash.Commit(l.rand(), info.SessionID, key.Index, R)
	if err != nil {
		return nil, err
	}
	return entry(&localState{
		Key:          key,
		Digest:       digest,
		Nonce:        nonce.Bytes(),
		NoncePoint:   R,
		Decommitment: decommitment,
	}, &commitmentBody{KeyIndex: key.Index, Commitment: commitment})
}

// Round2 implements Capability.
func (l *Local) Round2(ctx context.Context, info round.Info, prev []byte, answer []*round.Message) (*round.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	state, err := decodeState(prev)
	if err != nil {
		return nil, err
	}
	state.KeyIndices = make(map[party.Index]party.Index, len(answer))
	state.Commitments = make(map[party.Index][]byte, len(answer))
	used := map[party.Index]party.Index{state.Key.Index: info.Self}
	for _, msg := range answer {
		var body commitmentBody
		if err := cbor.Unmarshal(msg.Body, &body); err != nil || len(body.Commitment) != hash.DigestLengthBytes {
			return nil, protocol.Blame(errors.New("sign: malformed commitment"), msg.Sender)
		}
		if _, ok := state.Key.PublicShares[body.KeyIndex]; !ok {
			return nil, protocol.Blame(fmt.Errorf("sign: unknown key index %d", body.KeyIndex), msg.Sender)
		}
		if other, ok := used[body.KeyIndex]; ok {
			return nil, protocol.Blame(fmt.Errorf("sign: key index %d used twice", body.KeyIndex), msg.Sender, other)
		}
		used[body.KeyIndex] = msg.Sender
		state.KeyIndices[msg.Sender] = body.KeyIndex
		state.Commitments[msg.Sender] = body.Commitment
	}
	return entry(state, &decommitmentBody{NoncePoint: state.NoncePoint, Decommitment: state.Decommitment})
}

// Round3 implements Capability.
func (l *Local) Round3(ctx context.Context, info round.Info, prev []byte, answer []*round.Message) (*round.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	state, err := decodeState(prev)
	if err != nil {
		return nil, err
	}

	var (
		errs     *multierror.Error
		culprits []party.Index
	)
	state.NoncePoints = make(map[party.Index][]byte, len(answer))
	for _, msg := range answer {
		var body decommitmentBody
		if err := cbor.Unmarshal(msg.Body, &body); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("party %d: %w", msg.Sender, err))
			culprits = append(culprits, msg.Sender)
			continue
		}
		err := hash.Decommit(state.Commitments[msg.Sender], body.Decommitment, info.SessionID, state.KeyIndices[msg.Sender], body.NoncePoint)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("party %d: %w", msg.Sender, err))
			culprits = append(culprits, msg.Sender)
			continue
		}
		state.NoncePoints[msg.Sender] = body.NoncePoint
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, protocol.Blame(err, culprits...)
	}

	R, e, err := state.challenge()
	if err != nil {
		return nil, err
	}
	if R.IsIdentity() {
		return nil, errors.New("sign: nonce point is the identity")
	}

	x, err := state.Key.SecretScalar()
	if err != nil {
		return nil, err
	}
	var k curve.Scalar
	if err := k.UnmarshalBinary(state.Nonce); err != nil {
		return nil, err
	}
	// sᵢ = kᵢ + e⋅λᵢ⋅xᵢ
	lambda := polynomial.LagrangeSingle(state.quorum(), state.Key.Index)
	s := e.Clone().Mul(lambda).Mul(x).Add(&k)
	state.Partial = s.Bytes()
	return entry(state, &partialBody{S: state.Partial})
}

// Finalize implements Capability.
func (l *Local) Finalize(ctx context.Context, info round.Info, prev []byte, answer []*round.Message) (*Signature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	state, err := decodeState(prev)
	if err != nil {
		return nil, err
	}
	R, e, err := state.challenge()
	if err != nil {
		return nil, err
	}
	quorum := state.quorum()
	lagrange := polynomial.Lagrange(quorum)

	s := curve.NewScalar()
	if err := s.UnmarshalBinary(state.Partial); err != nil {
		return nil, err
	}
	var (
		errs     *multierror.Error
		culprits []party.Index
	)
	for _, msg := range answer {
		partial, err := state.verifyPartial(msg, e, lagrange)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("party %d: %w", msg.Sender, err))
			culprits = append(culprits, msg.Sender)
			continue
		}
		s.Add(partial)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, protocol.Blame(err, culprits...)
	}

	sig := &Signature{R: R.XBytes(), S: s.Bytes()}
	if R.HasOddY() {
		sig.RecoveryID = 1
	}
	if !Verify(state.Key.PublicKey, state.Digest, sig) {
		return nil, errors.New("sign: aggregate signature does not verify")
	}
	return sig, nil
}

func (state *localState) verifyPartial(msg *round.Message, e *curve.Scalar, lagrange map[party.Index]*curve.Scalar) (*curve.Scalar, error) {
	var body partialBody
	if err := cbor.Unmarshal(msg.Body, &body); err != nil {
		return nil, err
	}
	var s curve.Scalar
	if err := s.UnmarshalBinary(body.S); err != nil {
		return nil, err
	}
	keyIndex := state.KeyIndices[msg.Sender]
	X, err := state.Key.PublicShare(keyIndex)
	if err != nil {
		return nil, err
	}
	var Rj curve.Point
	if err := Rj.UnmarshalBinary(state.NoncePoints[msg.Sender]); err != nil {
		return nil, err
	}
	// sⱼ•G = Rⱼ + e⋅λⱼ•Xⱼ
	expected := Rj.Add(e.Clone().Mul(lagrange[keyIndex]).Act(X))
	if !s.ActOnBase().Equal(expected) {
		return nil, errors.New("partial signature does not verify")
	}
	return &s, nil
}

// quorum returns the keygen indices of all signers.
func (state *localState) quorum() party.IndexSlice {
	indices := []party.Index{state.Key.Index}
	for _, i := range state.KeyIndices {
		indices = append(indices, i)
	}
	return party.NewIndexSlice(indices)
}

// challenge returns R = Σ Rⱼ and e = H(R, X, m).
func (state *localState) challenge() (*curve.Point, *curve.Scalar, error) {
	var R curve.Point
	if err := R.UnmarshalBinary(state.NoncePoint); err != nil {
		return nil, nil, err
	}
	sum := &R
	for _, data := range state.NoncePoints {
		var Rj curve.Point
		if err := Rj.UnmarshalBinary(data); err != nil {
			return nil, nil, err
		}
		sum = sum.Add(&Rj)
	}
	X, err := state.Key.PublicPoint()
	if err != nil {
		return nil, nil, err
	}
	e, err := challenge(sum, X, state.Digest)
	if err != nil {
		return nil, nil, err
	}
	return sum, e, nil
}

func challenge(R, X *curve.Point, digest []byte) (*curve.Scalar, error) {
	h := hash.New()
	if err := h.WriteAny(R, X, digest); err != nil {
		return nil, err
	}
	return curve.ScalarFromHash(h.Sum()), nil
}

// Verify checks sig on digest under the compressed public key.
func Verify(publicKey, digest []byte, sig *Signature) bool {
	if sig == nil || len(sig.R) != curve.ScalarBytes || sig.RecoveryID > 1 {
		return false
	}
	var X curve.Point
	if err := X.UnmarshalBinary(publicKey); err != nil {
		return false
	}
	// lift R from its x coordinate and the parity of y
	compressed := append([]byte{0x02 + sig.RecoveryID}, sig.R...)
	var R curve.Point
	if err := R.UnmarshalBinary(compressed); err != nil {
		return false
	}
	var s curve.Scalar
	if err := s.UnmarshalBinary(sig.S); err != nil {
		return false
	}
	e, err := challenge(&R, &X, digest)
	if err != nil {
		return false
	}
	// s•G = R + e•X
	return s.ActOnBase().Equal(R.Add(e.Act(&X)))
}

func decodeState(prev []byte) (*localState, error) {
	var state localState
	if err := cbor.Unmarshal(prev, &state); err != nil {
		return nil, fmt.Errorf("sign: corrupt round state: %w", err)
	}
	if state.Key == nil {
		return nil, errors.New("sign: round state without key share")
	}
	return &state, nil
}

func entry(state *localState, broadcast interface{}) (*round.Entry, error) {
	encoded, err := cbor.Marshal(state)
	if err != nil {
		return nil, err
	}
	body, err := cbor.Marshal(broadcast)
	if err != nil {
		return nil, err
	}
	return &round.Entry{State: encoded, Broadcast: body}, nil
}
