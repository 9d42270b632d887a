package keygen_test

import (
	"context"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MPC_SESSION/internal/round"
	"MPC_SESSION/internal/test"
	"MPC_SESSION/pkg/math/curve"
	"MPC_SESSION/pkg/math/polynomial"
	"MPC_SESSION/pkg/party"
	"MPC_SESSION/pkg/protocol"
	"MPC_SESSION/protocols/keygen"
)

func local(party.Index) keygen.Capability {
	return &keygen.Local{}
}

func TestKeygen(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	const session = "keygen-ok"
	n := test.NewNetwork(1)
	params := round.Parameters{Parties: 3, Threshold: 1}
	results, err := test.Keygen(ctx, n, session, params, local)
	require.NoError(t, err)
	require.Len(t, results.Output, 3)
	n.Wait()

	first := results.Output[1]
	for id, share := range results.Output {
		require.NoError(t, share.Validate(), "party %d", id)
		assert.Equal(t, id, share.Index)
		assert.Equal(t, params, share.Parameters)
		assert.Equal(t, first.PublicKey, share.PublicKey)
		assert.Equal(t, first.Address, share.Address)
		assert.Equal(t, first.PublicShares, share.PublicShares)

		// one broadcast from each peer in the first two rounds, one direct share in the last
		for _, number := range []round.Number{2, 3, 4} {
			assert.Equal(t, 2, n.Deliveries(session, number, id), "party %d round %d", id, number)
		}
	}
	assert.Regexp(t, "^0x[0-9a-f]{40}$", first.Address)

	// any threshold+1 shares reconstruct the secret key
	pub, err := first.PublicPoint()
	require.NoError(t, err)
	for _, quorum := range []party.IndexSlice{{1, 2}, {1, 3}, {2, 3}} {
		lagrange := polynomial.Lagrange(quorum)
		secret := curve.NewScalar()
		for _, j := range quorum {
			x, err := results.Output[j].SecretScalar()
			require.NoError(t, err)
			secret.Add(x.Mul(lagrange[j]))
		}
		assert.True(t, secret.ActOnBase().Equal(pub), "quorum %v", quorum)
	}
}

func TestKeygen_Mnemonic(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	n := test.NewNetwork(2)
	params := round.Parameters{Parties: 2, Threshold: 1}
	results, err := test.Keygen(ctx, n, "keygen-mnemonic", params, func(party.Index) keygen.Capability {
		return &keygen.Local{UseMnemonic: true}
	})
	require.NoError(t, err)
	require.Len(t, results.Output, 2)
	for _, share := range results.Output {
		assert.NoError(t, share.Validate())
	}
	assert.Equal(t, results.Output[1].PublicKey, results.Output[2].PublicKey)
}

func TestKeygen_BadShare(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	n := test.NewNetwork(3)
	// party 2 sends shares that do not match its committed polynomial
	n.SetRule(test.Tamper(keygen.Rounds, 2, func([]byte) []byte {
		body, err := cbor.Marshal(struct{ Share []byte }{Share: curve.ScalarFromUint(7).Bytes()})
		require.NoError(t, err)
		return body
	}))
	params := round.Parameters{Parties: 3, Threshold: 1}
	_, err := test.Keygen(ctx, n, "keygen-bad-share", params, local)
	require.Error(t, err)

	assert.Equal(t, []party.Index{2}, protocol.Culprits(err))
	assert.Equal(t, protocol.FaultComputation, protocol.KindOf(err))
	var perr *protocol.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, keygen.Rounds, perr.Round)
	assert.Equal(t, keygen.RoundFinalize, perr.RoundName)
}

func TestKeygen_BadCommitment(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	n := test.NewNetwork(4)
	// party 3 reveals a polynomial other than the one it committed to
	n.SetRule(test.Tamper(3, 3, func(body []byte) []byte {
		var reveal struct {
			Exponent     [][]byte
			Decommitment []byte
		}
		require.NoError(t, cbor.Unmarshal(body, &reveal))
		p, err := curve.Generator().MarshalBinary()
		require.NoError(t, err)
		reveal.Exponent[0] = p
		out, err := cbor.Marshal(reveal)
		require.NoError(t, err)
		return out
	}))
	params := round.Parameters{Parties: 3, Threshold: 1}
	_, err := test.Keygen(ctx, n, "keygen-bad-commitment", params, local)
	require.Error(t, err)
	assert.Equal(t, []party.Index{3}, protocol.Culprits(err))
}

func TestDefinition(t *testing.T) {
	params := round.Parameters{Parties: 3, Threshold: 1}

	def, err := keygen.Definition(test.Info("s", params, 1), &keygen.Local{})
	require.NoError(t, err)
	assert.Equal(t, keygen.Rounds, def.FinalRound())
	assert.Equal(t, 0, def.Expected(1))
	for number := round.Number(2); number <= keygen.Rounds; number++ {
		assert.Equal(t, 2, def.Expected(number))
	}
	assert.Equal(t, keygen.RoundCommit, def.Name(1))
	assert.Equal(t, keygen.RoundFinalize, def.Name(keygen.Rounds))

	partial := test.Info("s", params, 1)
	partial.Size = 2
	_, err = keygen.Definition(partial, &keygen.Local{})
	assert.Error(t, err)

	_, err = keygen.Definition(test.Info("", params, 1), &keygen.Local{})
	assert.Error(t, err)
}
