package test

import (
	"io"

	"MPC_SESSION/internal/round"
	"MPC_SESSION/pkg/math/polynomial"
	"MPC_SESSION/pkg/math/sample"
	"MPC_SESSION/pkg/party"
	"MPC_SESSION/protocols/keygen"
)

// GenerateKeyShares deals key shares for params from a single random polynomial, without running keygen.
func GenerateKeyShares(params round.Parameters, source io.Reader) (map[party.Index]*keygen.KeyShare, error) {
	f := polynomial.NewPolynomial(source, params.Threshold, sample.Scalar(source))
	public := f.Exponent()
	publicKey, err := public.Constant().MarshalBinary()
	if err != nil {
		return nil, err
	}

	ids := party.Range(params.Parties)
	publicShares := make(map[party.Index][]byte, len(ids))
	for _, id := range ids {
		if publicShares[id], err = public.EvaluateAt(id).MarshalBinary(); err != nil {
			return nil, err
		}
	}

	shares := make(map[party.Index]*keygen.KeyShare, len(ids))
	for _, id := range ids {
		shares[id] = &keygen.KeyShare{
			Parameters:   params,
			Index:        id,
			Secret:       f.EvaluateAt(id).Bytes(),
			PublicKey:    publicKey,
			Address:      keygen.Address(public.Constant()),
			PublicShares: publicShares,
		}
	}
	return shares, nil
}
