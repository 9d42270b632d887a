package keygen

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
	"github.com/fxamacker/cbor/v2"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// Local is an in-process Capability running Feldman verifiable secret sharing over secp256k1.
//
//   - round 1: sample fᵢ(X) of degree t, broadcast a commitment to Fᵢ(X) = fᵢ(X)•G
//   - round 2: broadcast Fᵢ(X) and the decommitment
//   - round 3: check every Fⱼ against its commitment, send fᵢ(j) to party j
//   - finalize: check fⱼ(i)•G = Fⱼ(i), xᵢ = Σⱼ fⱼ(i), X = Σⱼ Fⱼ(0)
type Local struct {
	// Rand is the source of randomness, crypto/rand when nil.
	Rand io.Reader
	// UseMnemonic derives the constant term fᵢ(0) from a fresh BIP-39 mnemonic.
	UseMnemonic bool
}

var _ Capability = (*Local)(nil)

// localState is the opaque state threaded between rounds.
type localState struct {
	// Shares[j] = fᵢ(j) for every party, own share included
	Shares       map[party.Index][]byte
	Exponent     [][]byte
	Decommitment []byte
	// Commitments of the other parties, from round 2 on
	Commitments map[party.Index][]byte
	// Exponents of the other parties, from round 3 on
	Exponents map[party.Index][][]byte
}

type commitmentBody struct {
	Commitment []byte
}

type decommitmentBody struct {
	Exponent     [][]byte
	Decommitment []byte
}

type shareBody struct {
	Share []byte
}

func (l *Local) rand() io.Reader {
	if l.Rand == nil {
		return rand.Reader
	}
	return l.Rand
}

// Round1 implements Capability.
func (l *Local) Round1(ctx context.Context, info round.Info) (*round.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var constant *curve.Scalar
	if l.UseMnemonic {
		var err error
		if constant, err = generateMnemonic(); err != nil {
			return nil, err
		}
		log.Debugf("party %d: keygen constant derived from a mnemonic", info.Self)
	} else {
		constant = sample.Scalar(l.rand())
	}
	// fᵢ(X) with deg(fᵢ) = t
	secret := polynomial.NewPolynomial(l.rand(), info.Parameters.Threshold, constant)
	exponent, err := secret.Exponent().Points()
	if err != nil {
		return nil, err
	}

	shares := make(map[party.Index][]byte, info.Participants())
	for _, j := range info.Indices() {
		shares[j] = secret.EvaluateAt(j).Bytes()
	}

	commitment, decommitment, err := hash.Commit(l.rand(), commitmentData(info, info.Self, exponent)...)
	if err != nil {
		return nil, err
	}
	return entry(&localState{
		Shares:       shares,
		Exponent:     exponent,
		Decommitment: decommitment,
	}, &commitmentBody{Commitment: commitment}, nil)
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
	state.Commitments = make(map[party.Index][]byte, len(answer))
	for _, msg := range answer {
		var body commitmentBody
		if err := cbor.Unmarshal(msg.Body, &body); err != nil || len(body.Commitment) != hash.DigestLengthBytes {
			return nil, protocol.Blame(errors.New("keygen: malformed commitment"), msg.Sender)
		}
		state.Commitments[msg.Sender] = body.Commitment
	}
	return entry(state, &decommitmentBody{Exponent: state.Exponent, Decommitment: state.Decommitment}, nil)
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
	state.Exponents = make(map[party.Index][][]byte, len(answer))
	for _, msg := range answer {
		if err := verifyDecommitment(info, state, msg); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("party %d: %w", msg.Sender, err))
			culprits = append(culprits, msg.Sender)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, protocol.Blame(err, culprits...)
	}

	direct := make(map[party.Index][]byte, len(answer))
	for _, j := range info.Others() {
		body, err := cbor.Marshal(&shareBody{Share: state.Shares[j]})
		if err != nil {
			return nil, err
		}
		direct[j] = body
	}
	return entry(state, nil, direct)
}

func verifyDecommitment(info round.Info, state *localState, msg *round.Message) error {
	var body decommitmentBody
	if err := cbor.Unmarshal(msg.Body, &body); err != nil {
		return err
	}
	if err := hash.Decommit(state.Commitments[msg.Sender], body.Decommitment, commitmentData(info, msg.Sender, body.Exponent)...); err != nil {
		return err
	}
	exponent, err := polynomial.NewExponent(body.Exponent)
	if err != nil {
		return err
	}
	if exponent.Degree() != info.Parameters.Threshold {
		return fmt.Errorf("polynomial of degree %d, want %d", exponent.Degree(), info.Parameters.Threshold)
	}
	state.Exponents[msg.Sender] = body.Exponent
	return nil
}

// Finalize implements Capability.
func (l *Local) Finalize(ctx context.Context, info round.Info, prev []byte, answer []*round.Message) (*KeyShare, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	state, err := decodeState(prev)
	if err != nil {
		return nil, err
	}

	own, err := polynomial.NewExponent(state.Exponent)
	if err != nil {
		return nil, err
	}
	exponents := []*polynomial.Exponent{own}
	secret := curve.NewScalar()
	if err := secret.UnmarshalBinary(state.Shares[info.Self]); err != nil {
		return nil, err
	}

	var (
		errs     *multierror.Error
		culprits []party.Index
	)
	for _, msg := range answer {
		share, exponent, err := verifyShare(info, state, msg)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("party %d: %w", msg.Sender, err))
			culprits = append(culprits, msg.Sender)
			continue
		}
		secret.Add(share)
		exponents = append(exponents, exponent)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, protocol.Blame(err, culprits...)
	}

	sum, err := polynomial.Sum(exponents...)
	if err != nil {
		return nil, err
	}
	public := sum.Constant()
	if public.IsIdentity() {
		return nil, errors.New("keygen: public key is the identity")
	}
	publicKey, err := public.MarshalBinary()
	if err != nil {
		return nil, err
	}
	publicShares := make(map[party.Index][]byte, info.Participants())
	for _, j := range info.Indices() {
		if publicShares[j], err = sum.EvaluateAt(j).MarshalBinary(); err != nil {
			return nil, err
		}
	}
	if !secret.ActOnBase().Equal(sum.EvaluateAt(info.Self)) {
		return nil, errors.New("keygen: local share inconsistent with public shares")
	}

	return &KeyShare{
		Parameters:   info.Parameters,
		Index:        info.Self,
		Secret:       secret.Bytes(),
		PublicKey:    publicKey,
		Address:      Address(public),
		PublicShares: publicShares,
	}, nil
}

func verifyShare(info round.Info, state *localState, msg *round.Message) (*curve.Scalar, *polynomial.Exponent, error) {
	var body shareBody
	if err := cbor.Unmarshal(msg.Body, &body); err != nil {
		return nil, nil, err
	}
	share := curve.NewScalar()
	if err := share.UnmarshalBinary(body.Share); err != nil {
		return nil, nil, err
	}
	exponent, err := polynomial.NewExponent(state.Exponents[msg.Sender])
	if err != nil {
		return nil, nil, err
	}
	// fⱼ(i)•G = Fⱼ(i)
	if !share.ActOnBase().Equal(exponent.EvaluateAt(info.Self)) {
		return nil, nil, errors.New("share does not match the committed polynomial")
	}
	return share, exponent, nil
}

func commitmentData(info round.Info, sender party.Index, exponent [][]byte) []interface{} {
	data := make([]interface{}, 0, 2+len(exponent))
	data = append(data, info.SessionID, sender)
	for _, p := range exponent {
		data = append(data, p)
	}
	return data
}

func decodeState(prev []byte) (*localState, error) {
	var state localState
	if err := cbor.Unmarshal(prev, &state); err != nil {
		return nil, fmt.Errorf("keygen: corrupt round state: %w", err)
	}
	return &state, nil
}

// entry encodes the state and the outgoing bodies of a round.
func entry(state interface{}, broadcast interface{}, direct map[party.Index][]byte) (*round.Entry, error) {
	encoded, err := cbor.Marshal(state)
	if err != nil {
		return nil, err
	}
	e := &round.Entry{State: encoded, Direct: direct}
	if broadcast != nil {
		if e.Broadcast, err = cbor.Marshal(broadcast); err != nil {
			return nil, err
		}
	}
	return e, nil
}
