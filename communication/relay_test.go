package communication

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"MPC_SESSION/internal/round"
	"MPC_SESSION/pkg/party"
	"MPC_SESSION/pkg/protocol"
	"MPC_SESSION/protocols"
	"MPC_SESSION/protocols/keygen"
	"MPC_SESSION/protocols/sign"
)

var testGroups = map[string]round.Parameters{
	"treasury": {Parties: 3, Threshold: 1},
}

// startRelay serves a relay on a random local port until the test ends.
func startRelay(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewRelay(testGroups).Serve(ctx, l) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return l.Addr().String()
}

func dial(t *testing.T, addr string) *Client {
	c, err := Dial(context.Background(), &LocalConfig{RelayAddr: addr, GroupID: "treasury", TimeOutSecond: 5})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_Parameters(t *testing.T) {
	addr := startRelay(t)
	c := dial(t, addr)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	params, err := c.Parameters(ctx, "treasury")
	require.NoError(t, err)
	assert.Equal(t, testGroups["treasury"], params)

	_, err = c.Parameters(ctx, "unknown")
	assert.Error(t, err)

	err = c.Request(ctx, "nonsense", nil, nil)
	assert.Error(t, err)
	assert.Zero(t, c.PendingRequests())
}

func TestClient_Correlation(t *testing.T) {
	addr := startRelay(t)
	c := dial(t, addr)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// concurrent requests each get their own reply
	var eg errgroup.Group
	for i := 0; i < 16; i++ {
		eg.Go(func() error {
			var reply ParametersReply
			if err := c.Request(ctx, KindParameters, &parametersRequest{Group: "treasury"}, &reply); err != nil {
				return err
			}
			if reply.Parameters != testGroups["treasury"] {
				return assert.AnError
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	assert.Zero(t, c.PendingRequests())
}

func TestClient_RequestCancelled(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	c := NewClient(client)
	defer c.Close()

	// the peer reads the request but never answers
	go func() { _, _ = readFrame(server) }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Request(ctx, KindParameters, &parametersRequest{Group: "treasury"}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, c.PendingRequests())
}

func TestClient_Closed(t *testing.T) {
	server, client := net.Pipe()
	c := NewClient(client)

	errs := make(chan error, 1)
	go func() {
		errs <- c.Request(context.Background(), KindParameters, &parametersRequest{Group: "treasury"}, nil)
	}()
	_, err := readFrame(server)
	require.NoError(t, err)
	require.NoError(t, server.Close())

	assert.ErrorIs(t, <-errs, ErrClosed)
	<-c.Done()
	assert.Error(t, c.Err())
	assert.ErrorIs(t, c.Notify(KindPeerRelay, nil), ErrClosed)
}

func TestRelay_Signup(t *testing.T) {
	addr := startRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clients := []*Client{dial(t, addr), dial(t, addr), dial(t, addr)}
	seen := map[party.Index]bool{}
	var session string
	for _, c := range clients[:2] {
		signup, err := c.Signup(ctx, "treasury", "", 2)
		require.NoError(t, err)
		if session == "" {
			session = signup.Session
		}
		assert.Equal(t, session, signup.Session)
		assert.Equal(t, 2, signup.Size)
		seen[signup.Number] = true
	}
	assert.Equal(t, map[party.Index]bool{1: true, 2: true}, seen)

	// the session is full, a new one is opened
	signup, err := clients[2].Signup(ctx, "treasury", "", 2)
	require.NoError(t, err)
	assert.NotEqual(t, session, signup.Session)
	assert.Equal(t, party.Index(1), signup.Number)

	// explicit full session
	_, err = clients[2].Signup(ctx, "treasury", session, 2)
	assert.Error(t, err)
	// size mismatch
	_, err = clients[2].Signup(ctx, "treasury", signup.Session, 3)
	assert.Error(t, err)
	// size outside the group
	_, err = clients[2].Signup(ctx, "treasury", "x", 4)
	assert.Error(t, err)
}

type inbox struct {
	mtx  sync.Mutex
	msgs []*round.Message
	got  chan struct{}
}

func newInbox() *inbox {
	return &inbox{got: make(chan struct{}, 16)}
}

func (i *inbox) Accept(msg *round.Message) error {
	i.mtx.Lock()
	i.msgs = append(i.msgs, msg)
	i.mtx.Unlock()
	i.got <- struct{}{}
	return nil
}

func TestRelay_PeerRelay(t *testing.T) {
	addr := startRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, b := dial(t, addr), dial(t, addr)
	infoA, err := a.Bootstrap(ctx, "treasury", "relay", 2)
	require.NoError(t, err)

	// a broadcasts before b signed up; b gets it on signup, routed once it subscribes
	send := a.Sender()
	require.NoError(t, send.Send(ctx, &round.Message{Session: "relay", Round: 2, Sender: infoA.Self, Body: []byte("hi")}))

	infoB, err := b.Bootstrap(ctx, "treasury", "relay", 2)
	require.NoError(t, err)
	assert.Equal(t, party.Index(2), infoB.Self)

	box := newInbox()
	unsubscribe := b.Subscribe("relay", box)
	defer unsubscribe()
	select {
	case <-box.got:
	case <-ctx.Done():
		t.Fatal("broadcast not relayed")
	}

	require.NoError(t, send.Send(ctx, &round.Message{Session: "relay", Round: 3, Sender: 1, Receiver: 2, Body: []byte("direct")}))
	select {
	case <-box.got:
	case <-ctx.Done():
		t.Fatal("direct message not relayed")
	}

	box.mtx.Lock()
	defer box.mtx.Unlock()
	require.Len(t, box.msgs, 2)
	assert.Equal(t, []byte("hi"), box.msgs[0].Body)
	assert.True(t, box.msgs[0].Broadcast())
	assert.Equal(t, party.Index(2), box.msgs[1].Receiver)
}

func TestRelay_RejectsSpoofedSender(t *testing.T) {
	addr := startRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, b := dial(t, addr), dial(t, addr)
	_, err := a.Bootstrap(ctx, "treasury", "spoof", 2)
	require.NoError(t, err)
	_, err = b.Bootstrap(ctx, "treasury", "spoof", 2)
	require.NoError(t, err)

	// a claims to be party 2
	err = a.Request(ctx, KindPeerRelay, &round.Message{Session: "spoof", Round: 2, Sender: 2}, nil)
	assert.Error(t, err)
	err = a.Request(ctx, KindPeerRelay, &round.Message{Session: "other", Round: 2, Sender: 1}, nil)
	assert.Error(t, err)
}

func TestRelay_KeygenAndSign(t *testing.T) {
	addr := startRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	params := testGroups["treasury"]
	shares := make([]*keygen.KeyShare, params.Parties)
	var eg errgroup.Group
	for i := 0; i < params.Parties; i++ {
		i := i
		c := dial(t, addr)
		eg.Go(func() error {
			info, err := c.Bootstrap(ctx, "treasury", "keygen", 0)
			if err != nil {
				return err
			}
			h, initial, err := protocols.Keygen(info, &keygen.Local{}, c.Sender(), protocol.Options{})
			if err != nil {
				return err
			}
			defer c.Subscribe(info.SessionID, h)()
			share, err := h.Run(ctx, initial)
			shares[i] = share
			return err
		})
	}
	require.NoError(t, eg.Wait())
	for _, share := range shares {
		require.NoError(t, share.Validate())
		assert.Equal(t, shares[0].PublicKey, share.PublicKey)
	}

	digest := sign.Digest([]byte("relayed"))
	sigs := make([]*sign.Signature, params.Signers())
	for i := 0; i < params.Signers(); i++ {
		i := i
		c := dial(t, addr)
		eg.Go(func() error {
			info, err := c.Bootstrap(ctx, "treasury", "sign", params.Signers())
			if err != nil {
				return err
			}
			h, initial, err := protocols.Sign(info, &sign.Local{}, shares[2-i], digest, c.Sender(), protocol.Options{})
			if err != nil {
				return err
			}
			defer c.Subscribe(info.SessionID, h)()
			sigs[i], err = h.Run(ctx, initial)
			return err
		})
	}
	require.NoError(t, eg.Wait())
	for _, sig := range sigs {
		assert.True(t, sign.Verify(shares[0].PublicKey, digest, sig))
	}
}

// pipe registers one end of an in-memory connection with r and returns the other.
func pipe(t *testing.T, r *Relay) (*relayConn, net.Conn) {
	near, far := net.Pipe()
	t.Cleanup(func() { _ = far.Close() })
	return r.register(near), far
}

func isClosed(c *relayConn) bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func TestRelay_StalledPeer(t *testing.T) {
	r := NewRelay(testGroups)
	t.Cleanup(r.closeAll)

	// nobody ever reads the far end of the first party
	stalled, _ := pipe(t, r)
	sender, _ := pipe(t, r)
	first, err := r.signup(stalled, &signupRequest{Group: "treasury", Size: 2})
	require.NoError(t, err)
	_, err = r.signup(sender, &signupRequest{Group: "treasury", Session: first.Session, Size: 2})
	require.NoError(t, err)

	msg := &round.Message{Session: first.Session, Round: 2, Sender: 2, Body: []byte{2}}
	require.NoError(t, r.relay(sender, msg))

	// unrelated connections keep being served
	registered := make(chan struct{})
	go func() {
		defer close(registered)
		near, far := net.Pipe()
		defer far.Close()
		r.register(near)
	}()
	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("relay blocked behind a peer that does not read")
	}

	// the queue overflows and the stalled peer is dropped, the sender is not
	for i := 0; i < maxOutbound+1; i++ {
		require.NoError(t, r.relay(sender, msg))
	}
	require.Eventually(t, func() bool { return isClosed(stalled) }, 2*time.Second, time.Millisecond)
	assert.False(t, isClosed(sender))
}

func TestRelay_LogDroppedWhenFull(t *testing.T) {
	r := NewRelay(testGroups)
	t.Cleanup(r.closeAll)

	c1, _ := pipe(t, r)
	c2, _ := pipe(t, r)
	c3, far3 := pipe(t, r)

	first, err := r.signup(c1, &signupRequest{Group: "treasury", Size: 3})
	require.NoError(t, err)
	_, err = r.signup(c2, &signupRequest{Group: "treasury", Session: first.Session, Size: 3})
	require.NoError(t, err)

	msg := &round.Message{Session: first.Session, Round: 2, Sender: 1, Body: []byte{1}}
	require.NoError(t, r.relay(c1, msg))
	r.mtx.Lock()
	assert.Len(t, r.sessions[first.Session].log, 1)
	r.mtx.Unlock()

	replayed := make(chan *round.Message, 1)
	go func() {
		payload, err := readFrame(far3)
		if err != nil {
			return
		}
		var resp Response
		var m round.Message
		if json.Unmarshal(payload, &resp) == nil && json.Unmarshal(resp.Data, &m) == nil {
			replayed <- &m
		}
	}()
	third, err := r.signup(c3, &signupRequest{Group: "treasury", Session: first.Session, Size: 3})
	require.NoError(t, err)
	assert.Equal(t, party.Index(3), third.Number)

	select {
	case m := <-replayed:
		assert.Equal(t, msg.Body, m.Body)
		assert.Equal(t, party.Index(1), m.Sender)
	case <-time.After(2 * time.Second):
		t.Fatal("late party did not get the replayed message")
	}

	// a full session takes no more signups, so nothing is kept for replay
	r.mtx.Lock()
	assert.Nil(t, r.sessions[first.Session].log)
	r.mtx.Unlock()
	require.NoError(t, r.relay(c2, &round.Message{Session: first.Session, Round: 2, Sender: 2, Body: []byte{2}}))
	r.mtx.Lock()
	assert.Nil(t, r.sessions[first.Session].log)
	r.mtx.Unlock()
}
