// Copyright © 2023 Antalpha
//
// This file is part of Antalpha. The full Antalpha copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package protocols

import (
	"MPC_SESSION/internal/round"
	"MPC_SESSION/pkg/protocol"
	"MPC_SESSION/protocols/keygen"
	"MPC_SESSION/protocols/sign"
)

// KeygenHandler drives one keygen session.
type KeygenHandler = protocol.Handler[*protocol.State, *keygen.KeyShare]

// SignHandler drives one signing session.
type SignHandler = protocol.Handler[*protocol.State, *sign.Signature]

// Keygen generates a new shared key between all parties of info.Parameters. After a successful
// execution every participant holds a unique share of the key.
// The returned state is passed to Handler.Run.
func Keygen(info round.Info, c keygen.Capability, send protocol.Sender, opts protocol.Options) (*KeygenHandler, *protocol.State, error) {
	def, initial, err := keygen.Start(info, c)
	if err != nil {
		return nil, nil, err
	}
	h, err := protocol.NewHandler(initial.Info, def, send, opts)
	if err != nil {
		return nil, nil, err
	}
	return h, initial, nil
}

// Sign generates a signature on digest with a key share produced by Keygen.
// info.Self is the index of the party among the threshold+1 signers, which need not match
// its keygen index.
func Sign(info round.Info, c sign.Capability, key *keygen.KeyShare, digest []byte, send protocol.Sender, opts protocol.Options) (*SignHandler, *protocol.State, error) {
	def, initial, err := sign.Start(info, c, key, digest)
	if err != nil {
		return nil, nil, err
	}
	h, err := protocol.NewHandler(initial.Info, def, send, opts)
	if err != nil {
		return nil, nil, err
	}
	return h, initial, nil
}
