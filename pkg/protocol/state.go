package protocol

import (
	"context"

	"MPC_SESSION/internal/round"
)

// State is the round state of protocols whose rounds are computed by an external capability.
// The capability output is kept opaque in Entry.State.
type State struct {
	Info  round.Info
	Entry *round.Entry
}

// Opaque returns the capability state of the previous round, nil before round 1.
func (s *State) Opaque() []byte {
	if s == nil || s.Entry == nil {
		return nil
	}
	return s.Entry.State
}

// Step is one call into a capability.
type Step func(ctx context.Context, info round.Info, prev []byte, answer []*round.Message) (*round.Entry, error)

// FinalStep is the terminal call into a capability.
type FinalStep[A any] func(ctx context.Context, info round.Info, prev []byte, answer []*round.Message) (A, error)

// Delegate turns a capability call into a Transition. The returned entry becomes the next
// state and its bodies the outgoing messages.
func Delegate(step Step) Transition[*State] {
	return func(ctx context.Context, prev *State, answer []*round.Message) (*State, []*round.Message, error) {
		entry, err := step(ctx, prev.Info, prev.Opaque(), answer)
		if err != nil {
			return nil, nil, err
		}
		if entry == nil {
			entry = &round.Entry{}
		}
		return &State{Info: prev.Info, Entry: entry}, entry.Messages(), nil
	}
}

// DelegateFinal turns a terminal capability call into a Finalize.
func DelegateFinal[A any](step FinalStep[A]) Finalize[*State, A] {
	return func(ctx context.Context, prev *State, answer []*round.Message) (A, error) {
		return step(ctx, prev.Info, prev.Opaque(), answer)
	}
}
