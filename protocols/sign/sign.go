// Package sign implements threshold signing as a fixed list of rounds driven by
// protocol.Engine. Threshold+1 holders of a keygen.KeyShare take part.
package sign

import (
	"context"
	"errors"
	"fmt"

	"MPC_SESSION/internal/round"
	"MPC_SESSION/pkg/protocol"
	"MPC_SESSION/protocols/keygen"
	"golang.org/x/crypto/sha3"
)

// ProtocolID identifies signing sessions.
const ProtocolID = "threshold/sign"

// Rounds represents the number of rounds, the finalizer included.
const Rounds round.Number = 4

// Round names, in order.
const (
	RoundCommit   = "SIGN_ROUND_1"
	RoundReveal   = "SIGN_ROUND_2"
	RoundPartial  = "SIGN_ROUND_3"
	RoundFinalize = "SIGN_FINALIZE"
)

// Capability computes the cryptographic part of each signing round.
type Capability interface {
	Round1(ctx context.Context, info round.Info, key *keygen.KeyShare, digest []byte) (*round.Entry, error)
	Round2(ctx context.Context, info round.Info, prev []byte, answer []*round.Message) (*round.Entry, error)
	Round3(ctx context.Context, info round.Info, prev []byte, answer []*round.Message) (*round.Entry, error)
	Finalize(ctx context.Context, info round.Info, prev []byte, answer []*round.Message) (*Signature, error)
}

// Signature is the artifact of a signing session.
type Signature struct {
	// R is the x coordinate of the nonce point.
	R []byte
	S []byte
	// RecoveryID is the parity of the y coordinate of the nonce point.
	RecoveryID byte
}

// Digest returns the Keccak-256 hash of message, the value signing sessions sign.
func Digest(message []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(message)
	return h.Sum(nil)
}

// Definition is the signing round list. The session has threshold+1 participants and
// every round after the first consumes one message from each of the threshold others.
func Definition(info round.Info, c Capability, key *keygen.KeyShare, digest []byte) (*protocol.Definition[*protocol.State, *Signature], error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	if key == nil {
		return nil, errors.New("sign: missing key share")
	}
	if key.Parameters != info.Parameters {
		return nil, fmt.Errorf("sign: key share for %+v used in a %+v session", key.Parameters, info.Parameters)
	}
	if info.Participants() != info.Parameters.Signers() {
		return nil, fmt.Errorf("sign: %d signers required, got %d", info.Parameters.Signers(), info.Participants())
	}
	if len(digest) == 0 {
		return nil, errors.New("sign: message is nil")
	}
	expected := info.Parameters.Threshold
	first := func(ctx context.Context, info round.Info, _ []byte, _ []*round.Message) (*round.Entry, error) {
		return c.Round1(ctx, info, key, digest)
	}
	return &protocol.Definition[*protocol.State, *Signature]{
		ProtocolID: ProtocolID,
		Rounds: []protocol.Round[*protocol.State]{
			{Name: RoundCommit, Expected: 0, Transition: protocol.Delegate(first)},
			{Name: RoundReveal, Expected: expected, Transition: protocol.Delegate(c.Round2)},
			{Name: RoundPartial, Expected: expected, Transition: protocol.Delegate(c.Round3)},
		},
		Final: protocol.Final[*protocol.State, *Signature]{
			Name:     RoundFinalize,
			Expected: expected,
			Finalize: protocol.DelegateFinal[*Signature](c.Finalize),
		},
	}, nil
}

// Start returns the round list and the initial state of a signing session.
// info.Size is set to threshold+1.
func Start(info round.Info, c Capability, key *keygen.KeyShare, digest []byte) (*protocol.Definition[*protocol.State, *Signature], *protocol.State, error) {
	info.ProtocolID = ProtocolID
	info.Size = info.Parameters.Signers()
	def, err := Definition(info, c, key, digest)
	if err != nil {
		return nil, nil, err
	}
	return def, &protocol.State{Info: info}, nil
}
