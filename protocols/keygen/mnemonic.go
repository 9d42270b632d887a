package keygen

import (
	"fmt"

	"MPC_SESSION/pkg/math/curve"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// generateMnemonic derives a secret from a fresh BIP-39 mnemonic through its BIP-32 master key.
func generateMnemonic() (*curve.Scalar, error) {
	// Generate a random entropy of 256 bits
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return nil, fmt.Errorf("keygen: entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("keygen: mnemonic: %w", err)
	}
	return secretFromMnemonic(mnemonic, "")
}

// secretFromMnemonic returns the master key of the seed of mnemonic as a scalar.
func secretFromMnemonic(mnemonic, password string) (*curve.Scalar, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, password)
	if err != nil {
		return nil, fmt.Errorf("keygen: seed: %w", err)
	}
	masterKey, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("keygen: master key: %w", err)
	}
	return curve.ScalarFromHash(masterKey.Key), nil
}
