package test

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"MPC_SESSION/internal/round"
	"MPC_SESSION/pkg/party"
	"MPC_SESSION/pkg/protocol"
	"MPC_SESSION/protocols"
	"MPC_SESSION/protocols/keygen"
	"MPC_SESSION/protocols/sign"
)

// Info returns the session context of party self.
func Info(session string, params round.Parameters, self party.Index) round.Info {
	return round.Info{
		GroupID:    "test",
		SessionID:  session,
		Parameters: params,
		Self:       self,
	}
}

// HandlerLoop runs h until it settles and stores its result under its index.
func HandlerLoop[A any](ctx context.Context, h *protocol.Handler[*protocol.State, A], initial *protocol.State, results *Results[A]) error {
	out, err := h.Run(ctx, initial)
	results.set(h.Self(), out, err)
	if err != nil {
		return fmt.Errorf("party %d: %w", h.Self(), err)
	}
	return nil
}

// Results collects the outcome of every party of a session.
type Results[A any] struct {
	mtx    sync.Mutex
	Output map[party.Index]A
	Errors map[party.Index]error
}

func newResults[A any]() *Results[A] {
	return &Results[A]{
		Output: make(map[party.Index]A),
		Errors: make(map[party.Index]error),
	}
}

func (r *Results[A]) set(id party.Index, out A, err error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if err != nil {
		r.Errors[id] = err
		return
	}
	r.Output[id] = out
}

// Keygen runs a keygen session between all parties of params over n.
// The error is the first failure of any party; the results of all parties are returned regardless.
func Keygen(ctx context.Context, n *Network, session string, params round.Parameters, newCapability func(party.Index) keygen.Capability) (*Results[*keygen.KeyShare], error) {
	handlers := make([]*protocols.KeygenHandler, 0, params.Parties)
	initial := make([]*protocol.State, 0, params.Parties)
	for _, id := range party.Range(params.Parties) {
		h, state, err := protocols.Keygen(Info(session, params, id), newCapability(id), n, protocol.Options{})
		if err != nil {
			return nil, err
		}
		n.Register(session, id, h)
		handlers = append(handlers, h)
		initial = append(initial, state)
	}
	return runAll(ctx, handlers, initial)
}

// Sign runs a signing session between the holders of shares over n.
// The i-th share signs as session party i+1.
func Sign(ctx context.Context, n *Network, session string, shares []*keygen.KeyShare, digest []byte, newCapability func(party.Index) sign.Capability) (*Results[*sign.Signature], error) {
	if len(shares) == 0 {
		return nil, fmt.Errorf("test: no signers")
	}
	handlers := make([]*protocols.SignHandler, 0, len(shares))
	initial := make([]*protocol.State, 0, len(shares))
	for i, share := range shares {
		id := party.Index(i + 1)
		h, state, err := protocols.Sign(Info(session, share.Parameters, id), newCapability(id), share, digest, n, protocol.Options{})
		if err != nil {
			return nil, err
		}
		n.Register(session, id, h)
		handlers = append(handlers, h)
		initial = append(initial, state)
	}
	return runAll(ctx, handlers, initial)
}

func runAll[A any](ctx context.Context, handlers []*protocol.Handler[*protocol.State, A], initial []*protocol.State) (*Results[A], error) {
	results := newResults[A]()
	// the first failure aborts the parties still waiting for its messages
	eg, ctx := errgroup.WithContext(ctx)
	for i := range handlers {
		h, state := handlers[i], initial[i]
		eg.Go(func() error {
			return HandlerLoop(ctx, h, state, results)
		})
	}
	err := eg.Wait()
	return results, err
}
