package communication

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"MPC_SESSION/internal/round"
	"MPC_SESSION/pkg/protocol"
)

// maxBacklog bounds the messages held for a session nobody subscribed to yet.
const maxBacklog = 4096

// Router dispatches inbound protocol messages to the session they belong to.
// Messages for sessions without a subscriber are held and replayed on Subscribe.
type Router struct {
	mtx      sync.Mutex
	sessions map[string]protocol.Deliverer
	backlog  map[string][]*round.Message
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{
		sessions: make(map[string]protocol.Deliverer),
		backlog:  make(map[string][]*round.Message),
	}
}

// Subscribe attaches d to session and replays the messages held for it.
// The returned function detaches it.
func (r *Router) Subscribe(session string, d protocol.Deliverer) func() {
	r.mtx.Lock()
	r.sessions[session] = d
	held := r.backlog[session]
	delete(r.backlog, session)
	r.mtx.Unlock()

	for _, msg := range held {
		r.deliver(d, msg)
	}
	return func() {
		r.mtx.Lock()
		defer r.mtx.Unlock()
		if r.sessions[session] == d {
			delete(r.sessions, session)
		}
	}
}

// Route hands msg to the subscriber of its session.
func (r *Router) Route(msg *round.Message) {
	r.mtx.Lock()
	d, ok := r.sessions[msg.Session]
	if !ok {
		if len(r.backlog[msg.Session]) >= maxBacklog {
			r.mtx.Unlock()
			log.Warnf("router: backlog of session %s full, dropping %v", msg.Session, msg)
			return
		}
		r.backlog[msg.Session] = append(r.backlog[msg.Session], msg)
		r.mtx.Unlock()
		return
	}
	r.mtx.Unlock()
	r.deliver(d, msg)
}

// Pending returns the number of messages held for session.
func (r *Router) Pending(session string) int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return len(r.backlog[session])
}

func (r *Router) deliver(d protocol.Deliverer, msg *round.Message) {
	if err := d.Accept(msg); err != nil {
		log.Debugf("router: %v rejected: %v", msg, err)
	}
}
