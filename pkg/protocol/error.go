// Copyright © 2023 Antalpha
//
// This file is part of Antalpha. The full Antalpha copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package protocol

import (
	"errors"
	"fmt"

	"MPC_SESSION/internal/round"
	"MPC_SESSION/pkg/party"
)

// Fault classifies why a session failed.
type Fault uint8

const (
	// FaultUsage is a programming error in the caller: reentrant advance,
	// advance after completion or a misconfigured round list.
	FaultUsage Fault = iota + 1
	// FaultConsistency means the peer set is out of sync: too many messages,
	// a message for a round that is not open, a stale or duplicate delivery.
	FaultConsistency
	// FaultComputation is returned by the cryptographic capability.
	FaultComputation
	// FaultTransport is a failure to send outgoing messages.
	FaultTransport
)

func (f Fault) String() string {
	switch f {
	case FaultUsage:
		return "usage"
	case FaultConsistency:
		return "consistency"
	case FaultComputation:
		return "computation"
	case FaultTransport:
		return "transport"
	default:
		return "unknown"
	}
}

var (
	ErrNotFinished      = errors.New("protocol: not finished")
	ErrNotStarted       = errors.New("protocol: session not started")
	ErrAlreadyStarted   = errors.New("protocol: session already started")
	ErrReentrantAdvance = errors.New("protocol: cannot proceed whilst a transition is running")
	ErrSessionComplete  = errors.New("protocol: session already completed")
	ErrSessionFailed    = errors.New("protocol: session already failed")
	ErrAnswerSize       = errors.New("protocol: answer does not match the expected count")
	ErrNoRounds         = errors.New("protocol: no rounds configured")
	ErrNoFinalizer      = errors.New("protocol: missing finalizer")
	ErrRoundOpen        = errors.New("protocol: previous round still collecting")
	ErrRoundOrder       = errors.New("protocol: rounds must be opened in increasing order")
	ErrForeignSession   = errors.New("protocol: message belongs to another session")
	ErrNotForUs         = errors.New("protocol: message not addressed to this party")
	ErrUnknownSender    = errors.New("protocol: unknown sender")
	ErrUnexpectedRound  = errors.New("protocol: message for a round that is not open")
	ErrLateMessage      = errors.New("protocol: message for a completed round")
	ErrDuplicateSender  = errors.New("protocol: duplicate message from sender")
	ErrTooManyMessages  = errors.New("protocol: more messages than expected")
	ErrAborted          = errors.New("protocol: session aborted")
)

// Error is a custom error for protocols which contains information about the responsible round in which it occurred,
// and the parties responsible.
type Error struct {
	Kind Fault
	// Round is zero when the fault is not tied to a round.
	Round     round.Number
	RoundName string
	// Culprits is empty if the identity of the misbehaving party cannot be known.
	Culprits []party.Index
	// Err is the underlying error.
	Err error
}

// Error implement error.
func (e Error) Error() string {
	prefix := e.Kind.String()
	if e.Round != 0 {
		if e.RoundName != "" {
			prefix = fmt.Sprintf("%s: round %d (%s)", prefix, e.Round, e.RoundName)
		} else {
			prefix = fmt.Sprintf("%s: round %d", prefix, e.Round)
		}
	}
	if len(e.Culprits) == 0 {
		return fmt.Sprintf("%s: %s", prefix, e.Err)
	}
	return fmt.Sprintf("%s: culprits: %v: %s", prefix, e.Culprits, e.Err)
}

// Unwrap implement errors.Wrapper.
func (e Error) Unwrap() error {
	return e.Err
}

// Blame attaches the parties responsible for err.
// The engine keeps the culprits when it wraps the error for the session caller.
func Blame(err error, culprits ...party.Index) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: FaultComputation, Culprits: culprits, Err: err}
}

// Culprits returns the parties blamed anywhere in err's chain.
func Culprits(err error) []party.Index {
	var e *Error
	if errors.As(err, &e) {
		return e.Culprits
	}
	return nil
}

// KindOf returns the fault class of err, or zero if err did not come from a session.
func KindOf(err error) Fault {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func newError(kind Fault, number round.Number, err error, culprits ...party.Index) *Error {
	return &Error{Kind: kind, Round: number, Err: err, Culprits: culprits}
}

// wrap classifies err as a fault of the given kind in round number,
// keeping the culprits of an inner *Error.
func wrap(kind Fault, number round.Number, name string, err error) *Error {
	var inner *Error
	if errors.As(err, &inner) {
		if inner.Round != 0 {
			return inner
		}
		return &Error{Kind: kind, Round: number, RoundName: name, Culprits: inner.Culprits, Err: inner.Err}
	}
	return &Error{Kind: kind, Round: number, RoundName: name, Err: err}
}
