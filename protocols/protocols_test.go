// Copyright © 2023 Antalpha
//
// This file is part of Antalpha. The full Antalpha copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package protocols_test

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"MPC_SESSION/internal/round"
	"MPC_SESSION/internal/test"
	"MPC_SESSION/pkg/party"
	"MPC_SESSION/pkg/protocol"
	"MPC_SESSION/protocols"
	"MPC_SESSION/protocols/keygen"
	"MPC_SESSION/protocols/sign"
)

// TestAllStage runs keygen, then two signing sessions over the same network at once.
func TestAllStage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n := test.NewNetwork(42)
	params := round.Parameters{Parties: 4, Threshold: 1}

	var (
		mtx    sync.Mutex
		events []protocol.Event
	)
	opts := protocol.Options{Observer: func(ev protocol.Event) {
		mtx.Lock()
		defer mtx.Unlock()
		events = append(events, ev)
	}}

	shares := make(map[party.Index]*keygen.KeyShare, params.Parties)
	var eg errgroup.Group
	var results sync.Map
	for _, id := range party.Range(params.Parties) {
		h, initial, err := protocols.Keygen(test.Info("keygen", params, id), &keygen.Local{}, n, opts)
		require.NoError(t, err)
		n.Register("keygen", id, h)
		eg.Go(func() error {
			share, err := h.Run(ctx, initial)
			if err != nil {
				return err
			}
			results.Store(h.Self(), share)
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	results.Range(func(k, v interface{}) bool {
		shares[k.(party.Index)] = v.(*keygen.KeyShare)
		return true
	})
	require.Len(t, shares, params.Parties)
	// every party observes rounds 1..3 and the finalizer
	assert.Len(t, events, params.Parties*int(keygen.Rounds))

	quorums := [][]party.Index{{1, 2}, {3, 4}}
	for i, quorum := range quorums {
		session := fmt.Sprintf("sign-%d", i)
		digest := sign.Digest([]byte(session))
		for j, keyIndex := range quorum {
			self := party.Index(j + 1)
			info := test.Info(session, params, self)
			h, initial, err := protocols.Sign(info, &sign.Local{}, shares[keyIndex], digest, n, protocol.Options{})
			require.NoError(t, err)
			n.Register(session, self, h)
			eg.Go(func() error {
				sig, err := h.Run(ctx, initial)
				if err != nil {
					return err
				}
				if !sign.Verify(shares[1].PublicKey, digest, sig) {
					return fmt.Errorf("%s: invalid signature", h)
				}
				return nil
			})
		}
	}
	require.NoError(t, eg.Wait())
}

func TestSign_SelfOutsideQuorum(t *testing.T) {
	params := round.Parameters{Parties: 3, Threshold: 1}
	shares, err := test.GenerateKeyShares(params, rand.Reader)
	require.NoError(t, err)

	// a signing session has threshold+1 participants
	_, _, err = protocols.Sign(test.Info("s", params, 3), &sign.Local{}, shares[3], sign.Digest(nil), test.NewNetwork(0), protocol.Options{})
	assert.Error(t, err)
}
