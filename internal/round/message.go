// Copyright © 2023 Antalpha
//
// This file is part of Antalpha. The full Antalpha copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package round

import (
	"fmt"
	"sort"

	"MPC_SESSION/pkg/party"
	"github.com/fxamacker/cbor/v2"
)

// Message is a protocol message exchanged between the participants of a session.
// It must not be modified after it has been sent.
type Message struct {
	Session string      `json:"session"`
	Round   Number      `json:"round"`
	Sender  party.Index `json:"sender"`
	// Receiver is party.Broadcast for messages to every other participant.
	Receiver party.Index `json:"receiver,omitempty"`
	Body     []byte      `json:"body"`
}

// Broadcast reports whether m is addressed to every other participant.
func (m *Message) Broadcast() bool {
	return m.Receiver == party.Broadcast
}

// IsFor returns true if the message is intended for the designated party.
func (m *Message) IsFor(id party.Index) bool {
	if m.Sender == id {
		return false
	}
	return m.Receiver == party.Broadcast || m.Receiver == id
}

func (m *Message) String() string {
	to := "all"
	if !m.Broadcast() {
		to = m.Receiver.String()
	}
	return fmt.Sprintf("session %s round %d: %d -> %s (%d bytes)", m.Session, m.Round, m.Sender, to, len(m.Body))
}

// MarshalBinary function serializes the message object into binary format.
func (m *Message) MarshalBinary() ([]byte, error) {
	return cbor.Marshal((*rawMessage)(m))
}

// UnmarshalBinary function deserializes binary data into a message object.
func (m *Message) UnmarshalBinary(data []byte) error {
	var raw rawMessage
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message(raw)
	return nil
}

type rawMessage Message

// SortBySender orders msgs by ascending sender in place.
func SortBySender(msgs []*Message) {
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Sender < msgs[j].Sender })
}

// Senders returns the senders of msgs in order.
func Senders(msgs []*Message) []party.Index {
	out := make([]party.Index, len(msgs))
	for i, m := range msgs {
		out[i] = m.Sender
	}
	return out
}
