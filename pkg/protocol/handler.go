// Copyright © 2023 Antalpha
//
// This file is part of Antalpha. The full Antalpha copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"MPC_SESSION/internal/round"
	"MPC_SESSION/pkg/party"
)

// Deliverer accepts inbound protocol messages.
type Deliverer interface {
	// Accept hands a message to the session. It may be called concurrently from
	// network goroutines.
	Accept(msg *round.Message) error
}

// Handler represents an execution of a given protocol.
// It owns the engine and the aggregator of one session and drives the engine round by
// round: open the aggregator for the current round, wait for its answer, advance.
type Handler[S, A any] struct {
	info   round.Info
	def    *Definition[S, A]
	engine *Engine[S, A]
	agg    *Aggregator
	opts   Options

	mtx sync.Mutex
	// current is the round whose aggregator is open, zero before the first one.
	current round.Number
	// pending holds messages that arrived before their round was opened.
	pending map[round.Number][]*round.Message
	faults  []*Error
}

// NewHandler creates a handler for the session described by info.
// It fails if the round list or the session context is invalid.
func NewHandler[S, A any](info round.Info, def *Definition[S, A], send Sender, opts Options) (*Handler[S, A], error) {
	engine, err := NewEngine(info, def, send, opts)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to create session: %w", err)
	}
	return &Handler[S, A]{
		info:    info,
		def:     def,
		engine:  engine,
		agg:     NewAggregator(info.SessionID),
		opts:    opts,
		pending: make(map[round.Number][]*round.Message),
	}, nil
}

// Run starts the session with the initial state and blocks until the finalizer has run,
// the session failed, or ctx is done. Cancelling ctx aborts the session.
func (h *Handler[S, A]) Run(ctx context.Context, initial S) (A, error) {
	var zero A
	log.Infof("party %d: %s session %s starting with %d parties", h.info.Self, h.def.ProtocolID, h.info.SessionID, h.info.Participants())
	if err := h.engine.Start(ctx, initial); err != nil {
		return zero, err
	}

	for number := round.Number(2); number <= h.def.FinalRound(); number++ {
		ready, err := h.open(number)
		if err != nil {
			h.engine.Abort(err)
			return h.engine.Result()
		}

		select {
		case answer := <-ready:
			if err := h.engine.Advance(ctx, answer); err != nil {
				return zero, err
			}
		case <-h.engine.Done():
			// a delivery fault failed the session while we were waiting
			return h.engine.Result()
		case <-ctx.Done():
			h.engine.Abort(newError(FaultUsage, number, fmt.Errorf("%w: %v", ErrAborted, ctx.Err())))
			return h.engine.Result()
		}
	}
	return h.engine.Result()
}

// open opens the aggregator for round number and replays the messages that were buffered for it.
func (h *Handler[S, A]) open(number round.Number) (<-chan []*round.Message, error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	ready, err := h.agg.Open(number, h.def.Expected(number))
	if err != nil {
		return nil, err
	}
	h.current = number

	buffered := h.pending[number]
	delete(h.pending, number)
	for _, msg := range buffered {
		if err := h.agg.Add(msg); err != nil {
			return nil, err
		}
	}
	log.Debugf("party %d: round %d (%s) open, expecting %d messages, %d buffered",
		h.info.Self, number, h.def.Name(number), h.def.Expected(number), len(buffered))
	return ready, nil
}

// CanAccept returns true if the message is designated for this protocol execution.
func (h *Handler[S, A]) CanAccept(msg *round.Message) bool {
	return h.check(msg) == nil
}

func (h *Handler[S, A]) check(msg *round.Message) error {
	if msg == nil {
		return newError(FaultConsistency, 0, errors.New("protocol: nil message"))
	}
	// same session
	if msg.Session != h.info.SessionID {
		return newError(FaultConsistency, msg.Round, ErrForeignSession, msg.Sender)
	}
	// are we the intended recipient
	if !msg.IsFor(h.info.Self) {
		return newError(FaultConsistency, msg.Round, ErrNotForUs, msg.Sender)
	}
	// do we know the sender
	if !h.info.Indices().Contains(msg.Sender) {
		return newError(FaultConsistency, msg.Round, ErrUnknownSender, msg.Sender)
	}
	// rounds that consume messages are 2..final
	if msg.Round < 2 || msg.Round > h.def.FinalRound() {
		return newError(FaultConsistency, msg.Round, ErrUnexpectedRound, msg.Sender)
	}
	return nil
}

// Accept tries to process the given message.
//
// Messages of other sessions, or not addressed to us, are rejected without touching the session.
// Messages for a round that is not open yet are buffered, up to the count the round expects.
// Messages for a completed round are reported as faults and dropped; after a failure they are
// only rejected. Any other inconsistency fails the session.
//
// This function may be called concurrently from different goroutines.
func (h *Handler[S, A]) Accept(msg *round.Message) error {
	if err := h.check(msg); err != nil {
		var perr *Error
		if errors.As(err, &perr) && errors.Is(perr.Err, ErrUnexpectedRound) {
			h.engine.Abort(perr)
		}
		return err
	}

	h.mtx.Lock()
	defer h.mtx.Unlock()

	switch h.engine.Status() {
	case StatusCompleted:
		err := newError(FaultConsistency, msg.Round, ErrLateMessage, msg.Sender)
		h.reportLocked(err)
		return err
	case StatusFailed:
		log.Debugf("party %d: session %s: dropping %v after failure", h.info.Self, h.info.SessionID, msg)
		return newError(FaultConsistency, msg.Round, ErrSessionFailed, msg.Sender)
	}

	if msg.Round > h.current {
		if err := h.bufferLocked(msg); err != nil {
			h.engine.Abort(err)
			return err
		}
		return nil
	}

	// the aggregator tells a retransmission from a sender the round never expected
	if err := h.agg.Add(msg); err != nil {
		var perr *Error
		if errors.As(err, &perr) && errors.Is(perr.Err, ErrLateMessage) {
			h.reportLocked(perr)
			return err
		}
		h.engine.Abort(err)
		return err
	}
	return nil
}

// bufferLocked holds msg until its round opens. A round never holds more than it
// expects, nor two messages from one sender. Callers hold h.mtx.
func (h *Handler[S, A]) bufferLocked(msg *round.Message) error {
	held := h.pending[msg.Round]
	for _, other := range held {
		if other.Sender == msg.Sender {
			return newError(FaultConsistency, msg.Round, ErrDuplicateSender, msg.Sender)
		}
	}
	if len(held) >= h.def.Expected(msg.Round) {
		return newError(FaultConsistency, msg.Round, ErrTooManyMessages, msg.Sender)
	}
	h.pending[msg.Round] = append(held, msg)
	return nil
}

// reportLocked records a fault that does not end the session. Callers hold h.mtx.
func (h *Handler[S, A]) reportLocked(err *Error) {
	if err.RoundName == "" {
		err.RoundName = h.def.Name(err.Round)
	}
	log.Warnf("party %d: session %s: %v", h.info.Self, h.info.SessionID, err)
	h.faults = append(h.faults, err)
	if h.opts.OnFault != nil {
		h.opts.OnFault(err)
	}
}

// Faults returns the faults reported without failing the session.
func (h *Handler[S, A]) Faults() []*Error {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	out := make([]*Error, len(h.faults))
	copy(out, h.faults)
	return out
}

// Stop aborts the protocol execution.
func (h *Handler[S, A]) Stop() {
	h.engine.Abort(ErrAborted)
}

// Result returns the protocol result if the protocol completed successfully.
func (h *Handler[S, A]) Result() (A, error) {
	return h.engine.Result()
}

// Done is closed when the session settles.
func (h *Handler[S, A]) Done() <-chan struct{} {
	return h.engine.Done()
}

// Engine returns the engine driven by the handler.
func (h *Handler[S, A]) Engine() *Engine[S, A] {
	return h.engine
}

// Info returns the session context.
func (h *Handler[S, A]) Info() round.Info {
	return h.info
}

// Self returns the index of this party.
func (h *Handler[S, A]) Self() party.Index {
	return h.info.Self
}

func (h *Handler[S, A]) String() string {
	return fmt.Sprintf("%s session %s party %d (%s, round %d)",
		h.def.ProtocolID, h.info.SessionID, h.info.Self, h.engine.Status(), h.engine.Round())
}
