// Copyright © 2023 Antalpha
//
// This file is part of Antalpha. The full Antalpha copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package save

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"MPC_SESSION/pkg/party"
	"MPC_SESSION/protocols/keygen"
)

const keyShareFileFormat = "keyshare_%d.data"

// KeyShareFile returns the file name of the share of party index in dir.
func KeyShareFile(dir string, index party.Index) string {
	return filepath.Join(dir, fmt.Sprintf(keyShareFileFormat, index))
}

// SaveKeyShare writes share to path, cbor encoded.
func SaveKeyShare(path string, share *keygen.KeyShare) error {
	data, err := cbor.Marshal(share)
	if err != nil {
		return errors.Wrapf(err, "could not marshal key share of party %d", share.Index)
	}
	return WriteFixtureFile(path, data)
}

// LoadKeyShare reads and validates the share stored at path.
func LoadKeyShare(path string) (*keygen.KeyShare, error) {
	data, err := ReadFixtureFile(path)
	if err != nil {
		return nil, err
	}
	var share keygen.KeyShare
	if err := cbor.Unmarshal(data, &share); err != nil {
		return nil, errors.Wrapf(err, "could not unmarshal key share located at: %s", path)
	}
	if err := share.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid key share located at: %s", path)
	}
	return &share, nil
}

// SaveKeyShares writes every share to dir, one file per party.
func SaveKeyShares(dir string, shares map[party.Index]*keygen.KeyShare) error {
	for index, share := range shares {
		if err := SaveKeyShare(KeyShareFile(dir, index), share); err != nil {
			return err
		}
	}
	return nil
}

// LoadKeyShares reads every share saved in dir by SaveKeyShares.
func LoadKeyShares(dir string) (map[party.Index]*keygen.KeyShare, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "could not list key shares in %s", dir)
	}
	shares := make(map[party.Index]*keygen.KeyShare)
	for _, entry := range entries {
		index, ok := IndexWithEntryName(entry.Name())
		if !ok {
			continue
		}
		share, err := LoadKeyShare(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if share.Index != index {
			return nil, errors.Errorf("key share of party %d stored as party %d", share.Index, index)
		}
		shares[index] = share
	}
	return shares, nil
}

// IndexWithEntryName parses the party index out of a file name written by SaveKeyShares.
func IndexWithEntryName(entryName string) (party.Index, bool) {
	if !strings.HasPrefix(entryName, "keyshare_") || !strings.HasSuffix(entryName, ".data") {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(entryName, "keyshare_"), ".data"), 10, 16)
	if err != nil || n == 0 {
		return 0, false
	}
	return party.Index(n), true
}

// WriteFixtureFile writes data to path, creating its directory. Key material is only
// readable by its owner.
func WriteFixtureFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "unable to create directory for %s", path)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrapf(err, "unable to write save file %s", path)
	}
	log.Infof("done wrote save file %s", path)
	return nil
}

// ReadFixtureFile reads the whole file at path.
func ReadFixtureFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open save file %s for reading", path)
	}
	log.Debugf("done read save file %s", path)
	return data, nil
}
