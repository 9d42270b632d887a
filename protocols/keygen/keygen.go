// Package keygen implements distributed key generation as a fixed list of rounds
// driven by protocol.Engine. The cryptography is supplied by a Capability.
package keygen

import (
	"context"
	"fmt"

	"MPC_SESSION/internal/round"
	"MPC_SESSION/pkg/protocol"
)

// ProtocolID identifies keygen sessions.
const ProtocolID = "threshold/keygen"

// Rounds represents the number of rounds, the finalizer included.
const Rounds round.Number = 4

// Round names, in order.
const (
	RoundCommit   = "KEYGEN_ROUND_1"
	RoundReveal   = "KEYGEN_ROUND_2"
	RoundShare    = "KEYGEN_ROUND_3"
	RoundFinalize = "KEYGEN_FINALIZE"
)

// Capability computes the cryptographic part of each keygen round.
// Every call receives the session context, the opaque state returned by the previous call
// and the answer of the round ordered by sender.
type Capability interface {
	Round1(ctx context.Context, info round.Info) (*round.Entry, error)
	Round2(ctx context.Context, info round.Info, prev []byte, answer []*round.Message) (*round.Entry, error)
	Round3(ctx context.Context, info round.Info, prev []byte, answer []*round.Message) (*round.Entry, error)
	Finalize(ctx context.Context, info round.Info, prev []byte, answer []*round.Message) (*KeyShare, error)
}

// Definition is the keygen round list for a session of info.Participants() parties.
// Every round after the first consumes one message from each other party.
func Definition(info round.Info, c Capability) (*protocol.Definition[*protocol.State, *KeyShare], error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	if info.Participants() != info.Parameters.Parties {
		return nil, fmt.Errorf("keygen: all %d parties must take part, got %d", info.Parameters.Parties, info.Participants())
	}
	peers := info.Participants() - 1
	first := func(ctx context.Context, info round.Info, _ []byte, _ []*round.Message) (*round.Entry, error) {
		return c.Round1(ctx, info)
	}
	return &protocol.Definition[*protocol.State, *KeyShare]{
		ProtocolID: ProtocolID,
		Rounds: []protocol.Round[*protocol.State]{
			{Name: RoundCommit, Expected: 0, Transition: protocol.Delegate(first)},
			{Name: RoundReveal, Expected: peers, Transition: protocol.Delegate(c.Round2)},
			{Name: RoundShare, Expected: peers, Transition: protocol.Delegate(c.Round3)},
		},
		Final: protocol.Final[*protocol.State, *KeyShare]{
			Name:     RoundFinalize,
			Expected: peers,
			Finalize: protocol.DelegateFinal[*KeyShare](c.Finalize),
		},
	}, nil
}

// Start returns the round list and the initial state of a keygen session.
func Start(info round.Info, c Capability) (*protocol.Definition[*protocol.State, *KeyShare], *protocol.State, error) {
	info.ProtocolID = ProtocolID
	def, err := Definition(info, c)
	if err != nil {
		return nil, nil, err
	}
	return def, &protocol.State{Info: info}, nil
}
