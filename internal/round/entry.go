package round

import (
	"sort"

	"MPC_SESSION/pkg/party"
)

// Entry is what a cryptographic capability returns for one round.
// State is opaque and only handed back to the capability in the next round.
type Entry struct {
	State     []byte
	Broadcast []byte
	Direct    map[party.Index][]byte
}

// Messages returns the outgoing messages of the entry: the broadcast first,
// then direct messages by ascending receiver.
// Session, sender and round are filled in by the engine.
func (e *Entry) Messages() []*Message {
	if e == nil {
		return nil
	}
	out := make([]*Message, 0, 1+len(e.Direct))
	if e.Broadcast != nil {
		out = append(out, &Message{Receiver: party.Broadcast, Body: e.Broadcast})
	}
	receivers := make(party.IndexSlice, 0, len(e.Direct))
	for to := range e.Direct {
		receivers = append(receivers, to)
	}
	sort.Sort(receivers)
	for _, to := range receivers {
		out = append(out, &Message{Receiver: to, Body: e.Direct[to]})
	}
	return out
}
