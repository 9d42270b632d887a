// Copyright © 2023 Antalpha
//
// This file is part of Antalpha. The full Antalpha copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package round

import (
	"errors"
	"fmt"

	"MPC_SESSION/pkg/party"
)

// Number is the position of a round in a protocol, starting at 1.
type Number uint16

// Parameters are the group settings returned by the bootstrap handshake.
// They are fixed for the lifetime of a session.
type Parameters struct {
	// Parties is the number of key holders in the group.
	Parties int `json:"parties"`
	// Threshold is the highest number of parties that learn nothing about the key.
	// Signing requires Threshold+1 participants.
	Threshold int `json:"threshold"`
}

// Validate checks parties ≥ 2 and 1 ≤ threshold < parties.
func (p Parameters) Validate() error {
	if p.Parties < 2 {
		return fmt.Errorf("round: parties must be at least 2, got %d", p.Parties)
	}
	if p.Threshold < 1 || p.Threshold >= p.Parties {
		return fmt.Errorf("round: threshold %d outside [1, %d)", p.Threshold, p.Parties)
	}
	if p.Parties > int(^party.Index(0)) {
		return fmt.Errorf("round: too many parties (%d)", p.Parties)
	}
	return nil
}

// Signers returns the number of participants a signing session needs.
func (p Parameters) Signers() int {
	return p.Threshold + 1
}

// Info is the immutable context of a single session.
type Info struct {
	// ProtocolID identifies the protocol the session runs.
	ProtocolID string
	// GroupID identifies the group of key holders.
	GroupID string
	// SessionID separates concurrent executions; messages are matched on it.
	SessionID string
	// Parameters of the group.
	Parameters Parameters
	// Self is this party's index in the session.
	Self party.Index
	// Size is the number of participants in the session.
	// Zero means Parameters.Parties.
	Size int
}

// Participants returns the number of parties taking part in the session.
func (i Info) Participants() int {
	if i.Size == 0 {
		return i.Parameters.Parties
	}
	return i.Size
}

// Indices returns the indices of all session participants.
func (i Info) Indices() party.IndexSlice {
	return party.Range(i.Participants())
}

// Others returns the indices of all participants except Self.
func (i Info) Others() party.IndexSlice {
	return i.Indices().Remove(i.Self)
}

// Validate checks the session context before any round runs.
func (i Info) Validate() error {
	if i.SessionID == "" {
		return errors.New("round: empty session id")
	}
	if err := i.Parameters.Validate(); err != nil {
		return err
	}
	n := i.Participants()
	if n < 2 || n > i.Parameters.Parties {
		return fmt.Errorf("round: session size %d outside [2, %d]", n, i.Parameters.Parties)
	}
	if !i.Self.Valid() || int(i.Self) > n {
		return fmt.Errorf("round: party index %d outside [1, %d]", i.Self, n)
	}
	return nil
}
