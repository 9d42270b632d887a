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

	"MPC_SESSION/internal/round"
	log "github.com/sirupsen/logrus"
)

// Transition runs one round: it receives the state committed by the previous round and the
// canonically ordered answer of the current round, and returns the next state together with
// the messages to send. The engine never looks inside S.
type Transition[S any] func(ctx context.Context, prev S, answer []*round.Message) (S, []*round.Message, error)

// Finalize consumes the answer of the last round and produces the artifact of the session.
type Finalize[S, A any] func(ctx context.Context, prev S, answer []*round.Message) (A, error)

// Round is one named step of a protocol.
type Round[S any] struct {
	Name string
	// Expected is the number of peer messages the round consumes.
	// The first round always runs on an empty answer.
	Expected   int
	Transition Transition[S]
}

// Final is the terminal step of a protocol.
type Final[S, A any] struct {
	Name     string
	Expected int
	Finalize Finalize[S, A]
}

// Definition is the fixed, ordered list of rounds of a protocol.
// Rounds[i] is round i+1 and the finalizer is round len(Rounds)+1.
type Definition[S, A any] struct {
	ProtocolID string
	Rounds     []Round[S]
	Final      Final[S, A]
}

// Validate rejects definitions that cannot reach a finalizer.
func (d *Definition[S, A]) Validate() error {
	if d == nil || len(d.Rounds) == 0 {
		return newError(FaultUsage, 0, ErrNoRounds)
	}
	if d.Final.Finalize == nil {
		return newError(FaultUsage, 0, ErrNoFinalizer)
	}
	if d.Final.Expected < 0 {
		return newError(FaultUsage, d.FinalRound(), ErrAnswerSize)
	}
	for i, r := range d.Rounds {
		number := round.Number(i + 1)
		if r.Transition == nil {
			return newError(FaultUsage, number, fmt.Errorf("protocol: round %q has no transition", r.Name))
		}
		if r.Expected < 0 || (i == 0 && r.Expected != 0) {
			return newError(FaultUsage, number, ErrAnswerSize)
		}
	}
	return nil
}

// FinalRound is the number of the finalizer.
func (d *Definition[S, A]) FinalRound() round.Number {
	return round.Number(len(d.Rounds) + 1)
}

// Name returns the name of round number, or "" if it does not exist.
func (d *Definition[S, A]) Name(number round.Number) string {
	switch {
	case number == 0 || number > d.FinalRound():
		return ""
	case number == d.FinalRound():
		return d.Final.Name
	default:
		return d.Rounds[number-1].Name
	}
}

// Expected returns the number of peer messages round number consumes.
func (d *Definition[S, A]) Expected(number round.Number) int {
	switch {
	case number == 0 || number > d.FinalRound():
		return 0
	case number == d.FinalRound():
		return d.Final.Expected
	default:
		return d.Rounds[number-1].Expected
	}
}

// Sender publishes outgoing protocol messages.
type Sender interface {
	Send(ctx context.Context, msg *round.Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg *round.Message) error

func (f SenderFunc) Send(ctx context.Context, msg *round.Message) error {
	return f(ctx, msg)
}

// Status of an engine.
type Status uint8

const (
	StatusIdle Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is passed to the observer after a round has been committed.
// Next is zero once the finalizer has run.
type Event struct {
	Finished     round.Number
	FinishedName string
	Next         round.Number
	NextName     string
}

// Options tune an engine or a handler.
type Options struct {
	// Observer is called after every committed round, outside of any lock.
	Observer func(Event)
	// OnFault receives faults that are reported without failing the session,
	// such as late deliveries.
	OnFault func(*Error)
}

// Engine drives one session through the rounds of a Definition exactly once each, in order.
//
// At most one transition is in flight at any time. Calling Start or Advance while a
// transition is running fails the session with ErrReentrantAdvance and leaves the last
// committed output untouched.
type Engine[S, A any] struct {
	info round.Info
	def  *Definition[S, A]
	send Sender
	opts Options

	mtx           sync.Mutex
	status        Status
	next          round.Number
	transitioning bool
	output        S
	artifact      A
	err           error
	done          chan struct{}
}

// NewEngine validates the session context and the round list.
func NewEngine[S, A any](info round.Info, def *Definition[S, A], send Sender, opts Options) (*Engine[S, A], error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if err := info.Validate(); err != nil {
		return nil, newError(FaultUsage, 0, err)
	}
	if send == nil {
		return nil, newError(FaultUsage, 0, fmt.Errorf("protocol: nil sender"))
	}
	return &Engine[S, A]{
		info: info,
		def:  def,
		send: send,
		opts: opts,
		done: make(chan struct{}),
	}, nil
}

// Start runs round 1 with the initial state.
func (e *Engine[S, A]) Start(ctx context.Context, initial S) error {
	e.mtx.Lock()
	if e.status != StatusIdle {
		if e.transitioning {
			err := newError(FaultUsage, e.next, ErrReentrantAdvance)
			e.failLocked(err)
			e.mtx.Unlock()
			return err
		}
		e.mtx.Unlock()
		return newError(FaultUsage, 0, ErrAlreadyStarted)
	}
	e.status = StatusRunning
	e.next = 1
	e.output = initial
	e.transitioning = true
	e.mtx.Unlock()

	return e.run(ctx, 1, initial, nil)
}

// Advance runs the current round on answer, which must hold exactly the number of
// messages the round expects, ordered by sender.
func (e *Engine[S, A]) Advance(ctx context.Context, answer []*round.Message) error {
	e.mtx.Lock()
	switch e.status {
	case StatusIdle:
		e.mtx.Unlock()
		return newError(FaultUsage, 0, ErrNotStarted)
	case StatusCompleted:
		e.mtx.Unlock()
		return newError(FaultUsage, e.def.FinalRound(), ErrSessionComplete)
	case StatusFailed:
		err := e.err
		e.mtx.Unlock()
		return err
	}
	number := e.next
	if e.transitioning {
		err := newError(FaultUsage, number, ErrReentrantAdvance)
		e.failLocked(err)
		e.mtx.Unlock()
		return err
	}
	if len(answer) != e.def.Expected(number) {
		err := newError(FaultUsage, number, fmt.Errorf("%w: got %d, want %d", ErrAnswerSize, len(answer), e.def.Expected(number)))
		e.failLocked(err)
		e.mtx.Unlock()
		return err
	}
	e.transitioning = true
	prev := e.output
	e.mtx.Unlock()

	return e.run(ctx, number, prev, answer)
}

// run executes round number. The caller has set e.transitioning.
func (e *Engine[S, A]) run(ctx context.Context, number round.Number, prev S, answer []*round.Message) error {
	name := e.def.Name(number)
	log.Debugf("party %d: %s round %d (%s) starting", e.info.Self, e.info.ProtocolID, number, name)

	if number == e.def.FinalRound() {
		artifact, err := e.def.Final.Finalize(ctx, prev, answer)
		if err != nil {
			return e.fail(wrap(FaultComputation, number, name, err))
		}
		e.mtx.Lock()
		if e.status != StatusRunning {
			err = e.err
			e.mtx.Unlock()
			return err
		}
		e.artifact = artifact
		e.status = StatusCompleted
		e.transitioning = false
		e.next = number + 1
		close(e.done)
		e.mtx.Unlock()

		log.Infof("party %d: %s session %s completed", e.info.Self, e.info.ProtocolID, e.info.SessionID)
		e.notify(Event{Finished: number, FinishedName: name})
		return nil
	}

	next, out, err := e.def.Rounds[number-1].Transition(ctx, prev, answer)
	if err != nil {
		return e.fail(wrap(FaultComputation, number, name, err))
	}

	e.mtx.Lock()
	if e.status != StatusRunning {
		// a reentrant call or an abort failed the session meanwhile; the result is dropped
		err = e.err
		e.mtx.Unlock()
		return err
	}
	e.output = next
	e.next = number + 1
	e.mtx.Unlock()

	for _, msg := range out {
		msg.Session = e.info.SessionID
		msg.Sender = e.info.Self
		msg.Round = number + 1
		if err := e.send.Send(ctx, msg); err != nil {
			return e.fail(wrap(FaultTransport, number, name, err))
		}
	}

	e.mtx.Lock()
	if e.status != StatusRunning {
		err = e.err
		e.mtx.Unlock()
		return err
	}
	e.transitioning = false
	e.mtx.Unlock()

	e.notify(Event{
		Finished:     number,
		FinishedName: name,
		Next:         number + 1,
		NextName:     e.def.Name(number + 1),
	})
	return nil
}

// Abort fails a running session with err. It has no effect on a finished session.
func (e *Engine[S, A]) Abort(err error) {
	if err == nil {
		err = ErrAborted
	}
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.status == StatusCompleted || e.status == StatusFailed {
		return
	}
	var perr *Error
	if !errors.As(err, &perr) {
		perr = newError(FaultUsage, e.next, err)
	}
	e.failLocked(perr)
}

func (e *Engine[S, A]) fail(err *Error) error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.status != StatusRunning {
		return e.err
	}
	e.failLocked(err)
	return err
}

// failLocked moves the engine to StatusFailed. Callers hold e.mtx.
func (e *Engine[S, A]) failLocked(err *Error) {
	if e.status == StatusCompleted || e.status == StatusFailed {
		return
	}
	if err.RoundName == "" {
		err.RoundName = e.def.Name(err.Round)
	}
	log.Errorf("party %d: %s session %s failed: %v", e.info.Self, e.info.ProtocolID, e.info.SessionID, err)
	e.status = StatusFailed
	e.err = err
	close(e.done)
}

func (e *Engine[S, A]) notify(ev Event) {
	if e.opts.Observer != nil {
		e.opts.Observer(ev)
	}
}

// Info returns the session context.
func (e *Engine[S, A]) Info() round.Info {
	return e.info
}

// Definition returns the round list the engine runs.
func (e *Engine[S, A]) Definition() *Definition[S, A] {
	return e.def
}

// Status returns the current state of the engine.
func (e *Engine[S, A]) Status() Status {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.status
}

// Round returns the number of the round the next call to Advance runs.
// It is zero before Start.
func (e *Engine[S, A]) Round() round.Number {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.next
}

// Transitioning reports whether a transition is in flight.
func (e *Engine[S, A]) Transitioning() bool {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.transitioning
}

// Output returns the last committed round state.
func (e *Engine[S, A]) Output() S {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.output
}

// Done is closed when the session completes or fails.
func (e *Engine[S, A]) Done() <-chan struct{} {
	return e.done
}

// Result returns the artifact of a completed session, the error of a failed one,
// or ErrNotFinished.
func (e *Engine[S, A]) Result() (A, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	var zero A
	switch e.status {
	case StatusCompleted:
		return e.artifact, nil
	case StatusFailed:
		return zero, e.err
	default:
		return zero, ErrNotFinished
	}
}

// Wait blocks until the session settles or ctx is done.
func (e *Engine[S, A]) Wait(ctx context.Context) (A, error) {
	select {
	case <-e.done:
		return e.Result()
	case <-ctx.Done():
		var zero A
		return zero, ctx.Err()
	}
}
