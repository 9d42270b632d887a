package protocol

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"MPC_SESSION/internal/round"
	"MPC_SESSION/pkg/party"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// loopback delivers messages between handlers of any number of sessions,
// each delivery on its own goroutine.
type loopback struct {
	mtx      sync.Mutex
	handlers map[string]map[party.Index]Deliverer
}

func newLoopback() *loopback {
	return &loopback{handlers: map[string]map[party.Index]Deliverer{}}
}

func (l *loopback) register(session string, self party.Index, d Deliverer) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if l.handlers[session] == nil {
		l.handlers[session] = map[party.Index]Deliverer{}
	}
	l.handlers[session][self] = d
}

func (l *loopback) sender() Sender {
	return SenderFunc(func(_ context.Context, msg *round.Message) error {
		l.mtx.Lock()
		defer l.mtx.Unlock()
		for id, d := range l.handlers[msg.Session] {
			if msg.IsFor(id) {
				go func(d Deliverer) { _ = d.Accept(msg) }(d)
			}
		}
		return nil
	})
}

// tagged checks that every message it consumes carries its session in the body.
func tagged(session string) *Definition[[]string, string] {
	check := func(answer []*round.Message) error {
		for _, msg := range answer {
			if !strings.HasPrefix(string(msg.Body), session+":") {
				return fmt.Errorf("foreign body %q", msg.Body)
			}
		}
		return nil
	}
	step := func(name string) Transition[[]string] {
		return func(_ context.Context, prev []string, answer []*round.Message) ([]string, []*round.Message, error) {
			if err := check(answer); err != nil {
				return nil, nil, err
			}
			return append(prev, name), []*round.Message{{Body: []byte(session + ":" + name)}}, nil
		}
	}
	return &Definition[[]string, string]{
		ProtocolID: "test/tagged",
		Rounds: []Round[[]string]{
			{Name: names[0], Transition: step(names[0])},
			{Name: names[1], Expected: 2, Transition: step(names[1])},
			{Name: names[2], Expected: 2, Transition: step(names[2])},
		},
		Final: Final[[]string, string]{
			Name:     names[3],
			Expected: 2,
			Finalize: func(_ context.Context, prev []string, answer []*round.Message) (string, error) {
				if err := check(answer); err != nil {
					return "", err
				}
				return session + ":" + strings.Join(prev, ","), nil
			},
		},
	}
}

func TestHandler_SessionIsolation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	net := newLoopback()
	sessions := []string{"a", "b"}
	var handlers []*Handler[[]string, string]
	for _, session := range sessions {
		for _, self := range party.Range(3) {
			h, err := NewHandler(testInfo(session, self), tagged(session), net.sender(), Options{})
			require.NoError(t, err)
			net.register(session, self, h)
			handlers = append(handlers, h)
		}
	}

	var g errgroup.Group
	results := make([]string, len(handlers))
	for i, h := range handlers {
		i, h := i, h
		g.Go(func() error {
			out, err := h.Run(ctx, nil)
			results[i] = out
			return err
		})
	}
	require.NoError(t, g.Wait())
	for i, out := range results {
		assert.Equal(t, sessions[i/3]+":ROUND_1,ROUND_2,ROUND_3", out)
	}
}

func TestHandler_Rejects(t *testing.T) {
	h, err := NewHandler(testInfo("a", 1), tagged("a"), &recorder{}, Options{})
	require.NoError(t, err)

	assert.ErrorIs(t, h.Accept(msgFrom("b", 2, 2)), ErrForeignSession)
	assert.ErrorIs(t, h.Accept(&round.Message{Session: "a", Round: 2, Sender: 2, Receiver: 3}), ErrNotForUs)
	assert.ErrorIs(t, h.Accept(msgFrom("a", 2, 7)), ErrUnknownSender)
	assert.False(t, h.CanAccept(msgFrom("a", 2, 1)))
	assert.True(t, h.CanAccept(msgFrom("a", 2, 2)))
	assert.Equal(t, StatusIdle, h.Engine().Status())

	// a round past the finalizer means the peers run something else
	assert.ErrorIs(t, h.Accept(msgFrom("a", 9, 2)), ErrUnexpectedRound)
	assert.Equal(t, StatusFailed, h.Engine().Status())

	// once failed, messages are rejected without being mistaken for late ones
	err = h.Accept(taggedFrom("a", 2, 2))
	assert.ErrorIs(t, err, ErrSessionFailed)
	assert.NotErrorIs(t, err, ErrLateMessage)
	assert.Empty(t, h.Faults())
}

func TestHandler_BufferBounds(t *testing.T) {
	info := testInfo("a", 1)
	info.Parameters = round.Parameters{Parties: 4, Threshold: 2}

	tests := []struct {
		name    string
		senders []party.Index
		want    error
	}{
		{"within expected", []party.Index{2, 3}, nil},
		{"duplicate sender", []party.Index{2, 2}, ErrDuplicateSender},
		{"more than expected", []party.Index{2, 3, 4}, ErrTooManyMessages},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewHandler(info, tagged("a"), &recorder{}, Options{})
			require.NoError(t, err)

			last := len(tt.senders) - 1
			for _, sender := range tt.senders[:last] {
				require.NoError(t, h.Accept(taggedFrom("a", 3, sender)))
			}
			err = h.Accept(taggedFrom("a", 3, tt.senders[last]))
			if tt.want == nil {
				require.NoError(t, err)
				assert.Equal(t, StatusIdle, h.Engine().Status())
				return
			}
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, FaultConsistency, KindOf(err))
			assert.Equal(t, StatusFailed, h.Engine().Status())
		})
	}
}

func taggedFrom(session string, number round.Number, sender party.Index) *round.Message {
	msg := msgFrom(session, number, sender)
	msg.Body = []byte(session + ":" + names[number-2])
	return msg
}

func TestHandler_EarlyAndLateArrivals(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var faults []*Error
	var mtx sync.Mutex
	h, err := NewHandler(testInfo("a", 1), tagged("a"), &recorder{}, Options{
		OnFault: func(e *Error) {
			mtx.Lock()
			faults = append(faults, e)
			mtx.Unlock()
		},
	})
	require.NoError(t, err)

	// round 3 arrives before round 2 and is held back
	require.NoError(t, h.Accept(taggedFrom("a", 3, 3)))
	require.NoError(t, h.Accept(taggedFrom("a", 3, 2)))

	done := make(chan error, 1)
	go func() {
		_, err := h.Run(ctx, nil)
		done <- err
	}()

	require.NoError(t, h.Accept(taggedFrom("a", 2, 2)))
	require.NoError(t, h.Accept(taggedFrom("a", 2, 3)))
	require.Eventually(t, func() bool { return h.Engine().Round() == 4 }, 5*time.Second, time.Millisecond)

	// a retransmission of round 2 is reported, never merged
	assert.ErrorIs(t, h.Accept(taggedFrom("a", 2, 2)), ErrLateMessage)
	assert.Equal(t, StatusRunning, h.Engine().Status())

	require.NoError(t, h.Accept(taggedFrom("a", 4, 2)))
	require.NoError(t, h.Accept(taggedFrom("a", 4, 3)))
	require.NoError(t, <-done)

	out, err := h.Result()
	require.NoError(t, err)
	assert.Equal(t, "a:ROUND_1,ROUND_2,ROUND_3", out)

	// nothing is valid after the finalizer
	assert.ErrorIs(t, h.Accept(taggedFrom("a", 4, 2)), ErrLateMessage)
	assert.Len(t, h.Faults(), 2)
	mtx.Lock()
	assert.Len(t, faults, 2)
	mtx.Unlock()
}

func TestHandler_OverflowFailsSession(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	info := testInfo("a", 1)
	info.Parameters = round.Parameters{Parties: 4, Threshold: 2}
	// the round list expects two peers although the session has three
	h, err := NewHandler(info, tagged("a"), &recorder{}, Options{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := h.Run(ctx, nil)
		done <- err
	}()
	require.NoError(t, h.Accept(taggedFrom("a", 2, 2)))
	require.NoError(t, h.Accept(taggedFrom("a", 2, 3)))
	require.Eventually(t, func() bool { return h.Engine().Round() == 3 }, 5*time.Second, time.Millisecond)

	err = h.Accept(taggedFrom("a", 2, 4))
	assert.ErrorIs(t, err, ErrTooManyMessages)
	assert.ErrorIs(t, <-done, ErrTooManyMessages)
	assert.Equal(t, StatusFailed, h.Engine().Status())
}

func TestHandler_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h, err := NewHandler(testInfo("a", 1), tagged("a"), &recorder{}, Options{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := h.Run(ctx, nil)
		done <- err
	}()
	cancel()
	assert.ErrorIs(t, <-done, ErrAborted)
}
