// Copyright © 2023 Antalpha
//
// This file is part of Antalpha. The full Antalpha copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package communication

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"

	"MPC_SESSION/internal/round"
	"MPC_SESSION/pkg/protocol"
)

var (
	// ErrClosed is returned for requests on a closed connection.
	ErrClosed = errors.New("communication: connection closed")
)

// Client is a party's connection to the relay.
//
// Requests are correlated with their reply by id. Replies without a pending request are
// dropped. Broadcasts of kind peer_relay are routed to the subscribed session, any other
// broadcast goes to OnBroadcast.
type Client struct {
	conn   net.Conn
	router *Router

	// OnBroadcast receives broadcasts of unknown kinds. Set it before the first message arrives.
	OnBroadcast func(*Response)

	wmtx sync.Mutex

	mtx     sync.Mutex
	nextID  uint64
	pending map[uint64]chan *Response
	err     error
	done    chan struct{}
}

// Dial connects to the relay in cfg, with mutual TLS when configured.
func Dial(ctx context.Context, cfg *LocalConfig) (*Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()

	var dialer interface {
		DialContext(ctx context.Context, network, addr string) (net.Conn, error)
	} = &net.Dialer{}
	if cfg.TLSEnabled() {
		tlsConfig, err := LoadTLSConfig(cfg.CaPath, cfg.ClientCertPath, cfg.ClientKeyPath)
		if err != nil {
			return nil, err
		}
		dialer = &tls.Dialer{Config: tlsConfig}
	}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.RelayAddr)
	if err != nil {
		return nil, fmt.Errorf("communication: dial %s: %w", cfg.RelayAddr, err)
	}
	log.Infof("connected to relay %s", cfg.RelayAddr)
	return NewClient(conn), nil
}

// NewClient starts reading from conn.
func NewClient(conn net.Conn) *Client {
	c := &Client{
		conn:    conn,
		router:  NewRouter(),
		pending: make(map[uint64]chan *Response),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	var err error
	for {
		var payload []byte
		if payload, err = readFrame(c.conn); err != nil {
			break
		}
		var resp Response
		if jerr := json.Unmarshal(payload, &resp); jerr != nil {
			log.Warnf("client: malformed response: %v", jerr)
			continue
		}
		c.dispatch(&resp)
	}
	c.shutdown(err)
}

func (c *Client) dispatch(resp *Response) {
	if resp.ID != 0 {
		c.mtx.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mtx.Unlock()
		if !ok {
			log.Debugf("client: reply %d without a pending request", resp.ID)
			return
		}
		ch <- resp
		return
	}

	switch resp.Kind {
	case KindPeerRelay:
		var msg round.Message
		if err := json.Unmarshal(resp.Data, &msg); err != nil {
			log.Warnf("client: malformed peer message: %v", err)
			return
		}
		c.router.Route(&msg)
	default:
		if c.OnBroadcast != nil {
			c.OnBroadcast(resp)
			return
		}
		log.Warnf("client: unhandled broadcast %q", resp.Kind)
	}
}

func (c *Client) shutdown(err error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.err != nil {
		return
	}
	if err == nil {
		err = ErrClosed
	}
	c.err = err
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	close(c.done)
	_ = c.conn.Close()
}

func (c *Client) write(req *Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	c.wmtx.Lock()
	defer c.wmtx.Unlock()
	return writeFrame(c.conn, payload)
}

// Request sends a request of kind with data and decodes the reply data into out, if not nil.
// The pending entry is removed on reply, on ctx cancellation and when the connection closes.
func (c *Client) Request(ctx context.Context, kind string, data, out interface{}) error {
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}

	c.mtx.Lock()
	if c.err != nil {
		c.mtx.Unlock()
		return ErrClosed
	}
	c.nextID++
	id := c.nextID
	ch := make(chan *Response, 1)
	c.pending[id] = ch
	c.mtx.Unlock()

	if err := c.write(&Request{ID: id, Kind: kind, Data: body}); err != nil {
		c.forget(id)
		return fmt.Errorf("communication: %s: %w", kind, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return ErrClosed
		}
		if resp.Error != "" {
			return fmt.Errorf("communication: %s: %s", kind, resp.Error)
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(resp.Data, out)
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	}
}

func (c *Client) forget(id uint64) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	delete(c.pending, id)
}

// Notify sends a request that gets no reply.
func (c *Client) Notify(kind string, data interface{}) error {
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	return c.write(&Request{Kind: kind, Data: body})
}

// PendingRequests returns the number of requests awaiting a reply.
func (c *Client) PendingRequests() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return len(c.pending)
}

// Parameters runs the handshake for group.
func (c *Client) Parameters(ctx context.Context, group string) (round.Parameters, error) {
	var reply ParametersReply
	if err := c.Request(ctx, KindParameters, &parametersRequest{Group: group}, &reply); err != nil {
		return round.Parameters{}, err
	}
	if err := reply.Parameters.Validate(); err != nil {
		return round.Parameters{}, err
	}
	return reply.Parameters, nil
}

// Signup asks for a party index in a session of size parties. An empty session joins the
// session the relay is currently filling for the group.
func (c *Client) Signup(ctx context.Context, group, session string, size int) (*PartySignup, error) {
	var signup PartySignup
	if err := c.Request(ctx, KindPartySignup, &signupRequest{Group: group, Session: session, Size: size}, &signup); err != nil {
		return nil, err
	}
	if !signup.Number.Valid() || signup.Session == "" {
		return nil, fmt.Errorf("communication: invalid signup %+v", signup)
	}
	return &signup, nil
}

// Bootstrap runs the handshake and the signup and returns the session context.
// A zero size means every party of the group.
func (c *Client) Bootstrap(ctx context.Context, group, session string, size int) (round.Info, error) {
	params, err := c.Parameters(ctx, group)
	if err != nil {
		return round.Info{}, err
	}
	if size == 0 {
		size = params.Parties
	}
	signup, err := c.Signup(ctx, group, session, size)
	if err != nil {
		return round.Info{}, err
	}
	info := round.Info{
		GroupID:    group,
		SessionID:  signup.Session,
		Parameters: params,
		Self:       signup.Number,
		Size:       signup.Size,
	}
	log.Infof("party %d signed up for session %s (%d parties, threshold %d)", info.Self, info.SessionID, info.Participants(), params.Threshold)
	return info, info.Validate()
}

// Sender returns a protocol.Sender relaying messages through the relay.
func (c *Client) Sender() protocol.Sender {
	return protocol.SenderFunc(func(_ context.Context, msg *round.Message) error {
		return c.Notify(KindPeerRelay, msg)
	})
}

// Subscribe routes the peer messages of session to d.
func (c *Client) Subscribe(session string, d protocol.Deliverer) func() {
	return c.router.Subscribe(session, d)
}

// Done is closed when the connection is lost.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection was lost.
func (c *Client) Err() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.err
}

// Close closes the connection and fails all pending requests.
func (c *Client) Close() error {
	c.shutdown(ErrClosed)
	return nil
}

func (c *Client) String() string {
	return fmt.Sprintf("client %s", c.conn.LocalAddr())
}
