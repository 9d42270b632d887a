package test

import (
	"context"
	"fmt"
	mrand "math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"MPC_SESSION/internal/round"
	"MPC_SESSION/pkg/party"
	"MPC_SESSION/pkg/protocol"
)

// Delivery identifies the messages of one sender to one receiver in a round.
type Delivery struct {
	Session  string
	Round    round.Number
	Sender   party.Index
	Receiver party.Index
}

// Network simulates a point-to-point network between parties of any number of sessions.
// Messages are delivered asynchronously and in random order. A broadcast reaches every
// registered party of the session except its sender.
// Network implements protocol.Sender and can be shared by all parties.
type Network struct {
	mtx     sync.Mutex
	parties map[string]map[party.Index]protocol.Deliverer
	// backlog holds messages for parties that are not registered yet
	backlog map[string][]*round.Message
	counts  map[Delivery]int
	rule    Rule
	rand    *mrand.Rand
	jitter  time.Duration
	wg      sync.WaitGroup
}

// NewNetwork returns an empty network. seed fixes the delivery order shuffling.
func NewNetwork(seed int64) *Network {
	return &Network{
		parties: make(map[string]map[party.Index]protocol.Deliverer),
		backlog: make(map[string][]*round.Message),
		counts:  make(map[Delivery]int),
		rand:    mrand.New(mrand.NewSource(seed)),
		jitter:  200 * time.Microsecond,
	}
}

// SetJitter bounds the random delay added before each delivery. Zero delivers
// without sleeping, for timing runs.
func (n *Network) SetJitter(d time.Duration) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	n.jitter = d
}

// SetRule installs a hook applied to every message before delivery.
func (n *Network) SetRule(rule Rule) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	n.rule = rule
}

// Register attaches the party with index self of session to the network.
// Messages already sent to it are delivered.
func (n *Network) Register(session string, self party.Index, d protocol.Deliverer) {
	n.mtx.Lock()
	defer n.mtx.Unlock()

	if n.parties[session] == nil {
		n.parties[session] = make(map[party.Index]protocol.Deliverer)
	}
	n.parties[session][self] = d

	kept := n.backlog[session][:0]
	for _, msg := range n.backlog[session] {
		if msg.Receiver == self {
			n.deliverLocked(d, msg)
			continue
		}
		kept = append(kept, msg)
	}
	n.backlog[session] = kept
}

// Send implements protocol.Sender.
func (n *Network) Send(ctx context.Context, msg *round.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mtx.Lock()
	defer n.mtx.Unlock()

	registered := n.parties[msg.Session]
	if !msg.Broadcast() {
		d, ok := registered[msg.Receiver]
		if !ok {
			n.backlog[msg.Session] = append(n.backlog[msg.Session], msg)
			return nil
		}
		n.deliverLocked(d, msg)
		return nil
	}
	for id, d := range registered {
		if id == msg.Sender {
			continue
		}
		m := *msg
		m.Receiver = id
		n.deliverLocked(d, &m)
	}
	return nil
}

func (n *Network) deliverLocked(d protocol.Deliverer, msg *round.Message) {
	if n.rule != nil {
		if msg = n.rule.ModifyMessage(msg); msg == nil {
			return
		}
	}
	n.counts[Delivery{Session: msg.Session, Round: msg.Round, Sender: msg.Sender, Receiver: msg.Receiver}]++
	var delay time.Duration
	if n.jitter > 0 {
		delay = time.Duration(n.rand.Int63n(int64(n.jitter) + 1))
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if delay > 0 {
			time.Sleep(delay)
		}
		if err := d.Accept(msg); err != nil {
			log.Debugf("network: %v rejected: %v", msg, err)
		}
	}()
}

// Deliveries returns how many messages of round number reached receiver in session.
func (n *Network) Deliveries(session string, number round.Number, receiver party.Index) int {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	total := 0
	for k, c := range n.counts {
		if k.Session == session && k.Round == number && k.Receiver == receiver {
			total += c
		}
	}
	return total
}

// Count returns the number of deliveries matching d exactly.
func (n *Network) Count(d Delivery) int {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return n.counts[d]
}

// Wait blocks until every message handed to the network has been accepted or rejected.
func (n *Network) Wait() {
	n.wg.Wait()
}

func (n *Network) String() string {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return fmt.Sprintf("network with %d sessions", len(n.parties))
}
