package communication

import (
	"encoding/json"

	"MPC_SESSION/internal/round"
	"MPC_SESSION/pkg/party"
)

// Request and notification kinds.
const (
	// KindParameters is the handshake returning the parameters of a group.
	KindParameters = "parameters"
	// KindPartySignup assigns a party index in a session.
	KindPartySignup = "party_signup"
	// KindPeerRelay carries a protocol message between the parties of a session.
	KindPeerRelay = "peer_relay"
)

// Request is sent by a client. A request without ID is a notification and gets no reply.
type Request struct {
	ID   uint64          `json:"id,omitempty"`
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response is sent by the relay. A response without ID is a broadcast, dispatched by Kind.
type Response struct {
	ID    uint64          `json:"id,omitempty"`
	Kind  string          `json:"kind,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

type parametersRequest struct {
	Group string `json:"group"`
}

// ParametersReply is the answer to the parameters handshake.
type ParametersReply struct {
	round.Parameters
	// ConnID identifies the connection on the relay.
	ConnID uint64 `json:"conn_id"`
}

type signupRequest struct {
	Group   string `json:"group"`
	Session string `json:"session,omitempty"`
	Size    int    `json:"size"`
}

// PartySignup is the index assigned to a party in a session.
type PartySignup struct {
	Number  party.Index `json:"number"`
	Session string      `json:"uuid"`
	Size    int         `json:"size"`
}
