// Copyright © 2023 Antalpha
//
// This file is part of Antalpha. The full Antalpha copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package communication

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"

	"MPC_SESSION/internal/round"
	"MPC_SESSION/pkg/party"
)

// Relay is the server parties bootstrap through and exchange protocol messages over.
//
// It knows the parameters of a static set of groups, assigns party indices 1..size per
// session and forwards peer_relay messages to their receiver, or to every other party of
// the session for broadcasts. Messages for parties that have not signed up yet are
// delivered when they do.
type Relay struct {
	groups map[string]round.Parameters

	mtx      sync.Mutex
	nextConn uint64
	conns    map[uint64]*relayConn
	sessions map[string]*relaySession
	// filling is the session handed out to signups without a session id, per group and size.
	filling map[string]string
}

// maxOutbound bounds the responses queued for one connection. A peer that falls this far
// behind is disconnected.
const maxOutbound = 1024

type relayConn struct {
	id   uint64
	conn net.Conn
	out  chan *Response

	once sync.Once
	done chan struct{}
}

func newRelayConn(id uint64, conn net.Conn) *relayConn {
	c := &relayConn{
		id:   id,
		conn: conn,
		out:  make(chan *Response, maxOutbound),
		done: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// writeLoop is the only writer of c.conn.
func (c *relayConn) writeLoop() {
	for {
		select {
		case resp := <-c.out:
			payload, err := json.Marshal(resp)
			if err != nil {
				log.Errorf("relay: encode response for conn=%d: %v", c.id, err)
				continue
			}
			if err := writeFrame(c.conn, payload); err != nil {
				log.Warnf("relay: write to conn=%d: %v", c.id, err)
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// send queues resp without blocking. A full queue closes the connection.
func (c *relayConn) send(resp *Response) error {
	select {
	case <-c.done:
		return net.ErrClosed
	default:
	}
	select {
	case c.out <- resp:
		return nil
	default:
		c.close()
		return fmt.Errorf("conn %d: %d responses pending", c.id, maxOutbound)
	}
}

func (c *relayConn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

type relaySession struct {
	group   string
	size    int
	parties map[party.Index]*relayConn
	// log holds every relayed message for parties that sign up later, until the session is full
	log []*round.Message
}

func (s *relaySession) full() bool {
	return len(s.parties) >= s.size
}

// NewRelay returns a relay serving groups.
func NewRelay(groups map[string]round.Parameters) *Relay {
	return &Relay{
		groups:   groups,
		conns:    make(map[uint64]*relayConn),
		sessions: make(map[string]*relaySession),
		filling:  make(map[string]string),
	}
}

// ListenAndServe listens on addr, with TLS when tlsConfig is not nil, and serves until ctx is done.
func (r *Relay) ListenAndServe(ctx context.Context, addr string, tlsConfig *tls.Config) error {
	var (
		l   net.Listener
		err error
	)
	if tlsConfig != nil {
		l, err = tls.Listen("tcp", addr, tlsConfig)
	} else {
		l, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("relay: listen %s: %w", addr, err)
	}
	return r.Serve(ctx, l)
}

// Serve accepts connections on l until ctx is done. It closes l.
func (r *Relay) Serve(ctx context.Context, l net.Listener) error {
	log.Infof("relay listening on %s with %d groups", l.Addr(), len(r.groups))
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				r.closeAll()
				return nil
			}
			return fmt.Errorf("relay: accept: %w", err)
		}
		c := r.register(conn)
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.serveConn(c)
		}()
	}
}

func (r *Relay) register(conn net.Conn) *relayConn {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.nextConn++
	c := newRelayConn(r.nextConn, conn)
	r.conns[c.id] = c
	log.Infof("relay: connected (conn=%d, %s)", c.id, conn.RemoteAddr())
	return c
}

func (r *Relay) closeAll() {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	for _, c := range r.conns {
		c.close()
	}
}

func (r *Relay) serveConn(c *relayConn) {
	defer r.disconnect(c)
	for {
		payload, err := readFrame(c.conn)
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(payload, &req); err != nil {
			log.Warnf("relay: malformed request (conn=%d): %v", c.id, err)
			continue
		}
		data, err := r.handle(c, &req)
		if req.ID == 0 {
			if err != nil {
				log.Warnf("relay: %s notification (conn=%d): %v", req.Kind, c.id, err)
			}
			continue
		}
		resp := &Response{ID: req.ID}
		if err != nil {
			resp.Error = err.Error()
		} else if data != nil {
			if resp.Data, err = json.Marshal(data); err != nil {
				resp.Error = err.Error()
			}
		}
		if err := c.send(resp); err != nil {
			log.Warnf("relay: reply to conn=%d: %v", c.id, err)
			return
		}
	}
}

func (r *Relay) handle(c *relayConn, req *Request) (interface{}, error) {
	switch req.Kind {
	case KindParameters:
		var body parametersRequest
		if err := json.Unmarshal(req.Data, &body); err != nil {
			return nil, err
		}
		params, ok := r.groups[body.Group]
		if !ok {
			return nil, fmt.Errorf("unknown group %q", body.Group)
		}
		return &ParametersReply{Parameters: params, ConnID: c.id}, nil
	case KindPartySignup:
		var body signupRequest
		if err := json.Unmarshal(req.Data, &body); err != nil {
			return nil, err
		}
		return r.signup(c, &body)
	case KindPeerRelay:
		var msg round.Message
		if err := json.Unmarshal(req.Data, &msg); err != nil {
			return nil, err
		}
		return nil, r.relay(c, &msg)
	default:
		return nil, fmt.Errorf("unknown request kind %q", req.Kind)
	}
}

func (r *Relay) signup(c *relayConn, req *signupRequest) (*PartySignup, error) {
	params, ok := r.groups[req.Group]
	if !ok {
		return nil, fmt.Errorf("unknown group %q", req.Group)
	}
	if req.Size < 2 || req.Size > params.Parties {
		return nil, fmt.Errorf("session size %d outside [2, %d]", req.Size, params.Parties)
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()

	id := req.Session
	if id == "" {
		key := fmt.Sprintf("%s/%d", req.Group, req.Size)
		id = r.filling[key]
		if s, ok := r.sessions[id]; id == "" || !ok || s.full() {
			var err error
			if id, err = newSessionID(); err != nil {
				return nil, err
			}
			r.filling[key] = id
		}
	}

	s, ok := r.sessions[id]
	if !ok {
		s = &relaySession{group: req.Group, size: req.Size, parties: make(map[party.Index]*relayConn, req.Size)}
		r.sessions[id] = s
	}
	if s.group != req.Group || s.size != req.Size {
		return nil, fmt.Errorf("session %s belongs to group %q with %d parties", id, s.group, s.size)
	}
	if s.full() {
		return nil, fmt.Errorf("session %s is full", id)
	}
	number := party.Index(len(s.parties) + 1)
	s.parties[number] = c
	log.Infof("relay: conn=%d signed up as party %d of session %s (%d/%d)", c.id, number, id, len(s.parties), s.size)

	// replay what was sent before this party arrived
	for _, msg := range s.log {
		if msg.Sender != number && (msg.Broadcast() || msg.Receiver == number) {
			r.forward(c, msg)
		}
	}
	if s.full() {
		s.log = nil
	}
	return &PartySignup{Number: number, Session: id, Size: s.size}, nil
}

func (r *Relay) relay(c *relayConn, msg *round.Message) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	s, ok := r.sessions[msg.Session]
	if !ok {
		return fmt.Errorf("unknown session %q", msg.Session)
	}
	if s.parties[msg.Sender] != c {
		return fmt.Errorf("conn %d is not party %d of session %s", c.id, msg.Sender, msg.Session)
	}
	if !msg.Broadcast() && (!msg.Receiver.Valid() || int(msg.Receiver) > s.size) {
		return fmt.Errorf("receiver %d outside session %s", msg.Receiver, msg.Session)
	}
	if !s.full() {
		s.log = append(s.log, msg)
	}

	for id, peer := range s.parties {
		if id == msg.Sender {
			continue
		}
		if msg.Broadcast() || msg.Receiver == id {
			r.forward(peer, msg)
		}
	}
	return nil
}

// forward queues msg for c. It never blocks, so callers may hold r.mtx.
func (r *Relay) forward(c *relayConn, msg *round.Message) {
	if c == closedConn {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("relay: encode %v: %v", msg, err)
		return
	}
	if err := c.send(&Response{Kind: KindPeerRelay, Data: data}); err != nil {
		log.Warnf("relay: forward %v to conn=%d: %v", msg, c.id, err)
	}
}

func (r *Relay) disconnect(c *relayConn) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	c.close()
	delete(r.conns, c.id)
	for id, s := range r.sessions {
		for number, peer := range s.parties {
			// the index stays taken so the session cannot be refilled
			if peer == c {
				s.parties[number] = closedConn
			}
		}
		if s.abandoned() {
			delete(r.sessions, id)
		}
	}
	log.Infof("relay: disconnected (conn=%d)", c.id)
}

// closedConn marks a party whose connection is gone.
var closedConn = &relayConn{}

func (s *relaySession) abandoned() bool {
	for _, c := range s.parties {
		if c != closedConn {
			return false
		}
	}
	return true
}

// Sessions returns the number of live sessions.
func (r *Relay) Sessions() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return len(r.sessions)
}

func newSessionID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", errors.New("relay: no randomness for session id")
	}
	return hex.EncodeToString(buf[:]), nil
}
