// Copyright © 2023 Antalpha
//
// This file is part of Antalpha. The full Antalpha copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package protocol

import (
	"sync"

	"MPC_SESSION/internal/round"
	"MPC_SESSION/pkg/party"
)

// Aggregator collects the peer messages of one round at a time.
//
// A round is opened with the number of messages it expects. Once exactly that many
// messages from distinct senders have been added, the answer is emitted once on the
// channel returned by Open, ordered by ascending sender, and the buffer is cleared.
// Nothing is carried over to the next round.
type Aggregator struct {
	session string

	mtx      sync.Mutex
	open     round.Number
	expected int
	received []*round.Message
	senders  map[party.Index]struct{}
	ready    chan []*round.Message

	// closed is the last round that emitted its answer.
	closed round.Number
	// history holds the senders of every emitted round.
	history map[round.Number]map[party.Index]struct{}
}

// NewAggregator returns an aggregator accepting messages of the given session only.
func NewAggregator(session string) *Aggregator {
	return &Aggregator{
		session: session,
		history: make(map[round.Number]map[party.Index]struct{}),
	}
}

// Open starts collecting messages for round number.
// The returned channel receives the answer exactly once and is then closed.
// Opening a round while the previous one is still collecting is a usage fault.
func (a *Aggregator) Open(number round.Number, expected int) (<-chan []*round.Message, error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	if a.open != 0 {
		return nil, newError(FaultUsage, number, ErrRoundOpen)
	}
	if number <= a.closed {
		return nil, newError(FaultUsage, number, ErrRoundOrder)
	}
	if expected < 0 {
		return nil, newError(FaultUsage, number, ErrAnswerSize)
	}

	ready := make(chan []*round.Message, 1)
	a.open = number
	a.expected = expected
	a.received = make([]*round.Message, 0, expected)
	a.senders = make(map[party.Index]struct{}, expected)
	a.ready = ready
	if expected == 0 {
		a.emit()
	}
	return ready, nil
}

// Add appends msg to the open round.
// It returns a consistency fault if msg cannot belong to the open round; the buffer is
// left unchanged in that case.
func (a *Aggregator) Add(msg *round.Message) error {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	if msg.Session != a.session {
		return newError(FaultConsistency, msg.Round, ErrForeignSession, msg.Sender)
	}

	if a.open == 0 || msg.Round != a.open {
		senders, emitted := a.history[msg.Round]
		switch {
		case emitted:
			if _, ok := senders[msg.Sender]; ok {
				return newError(FaultConsistency, msg.Round, ErrLateMessage, msg.Sender)
			}
			// a sender the round never heard from arrives after it filled up
			return newError(FaultConsistency, msg.Round, ErrTooManyMessages, msg.Sender)
		case msg.Round < a.closed:
			return newError(FaultConsistency, msg.Round, ErrLateMessage, msg.Sender)
		default:
			return newError(FaultConsistency, msg.Round, ErrUnexpectedRound, msg.Sender)
		}
	}

	if _, ok := a.senders[msg.Sender]; ok {
		return newError(FaultConsistency, msg.Round, ErrDuplicateSender, msg.Sender)
	}
	if len(a.received) >= a.expected {
		return newError(FaultConsistency, msg.Round, ErrTooManyMessages, msg.Sender)
	}

	a.received = append(a.received, msg)
	a.senders[msg.Sender] = struct{}{}
	if len(a.received) == a.expected {
		a.emit()
	}
	return nil
}

// Round returns the round currently collecting, or zero.
func (a *Aggregator) Round() round.Number {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.open
}

// Pending returns the number of messages held for the open round.
func (a *Aggregator) Pending() int {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return len(a.received)
}

// emit sends the canonical answer and resets the buffer. Callers hold a.mtx.
func (a *Aggregator) emit() {
	answer := a.received
	round.SortBySender(answer)

	a.closed = a.open
	a.history[a.open] = a.senders
	a.open = 0
	a.expected = 0
	a.received = nil
	a.senders = nil

	a.ready <- answer
	close(a.ready)
	a.ready = nil
}
