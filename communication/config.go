// Copyright © 2023 Antalpha
//
// This file is part of Antalpha. The full Antalpha copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package communication

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"MPC_SESSION/internal/round"
)

const defaultTimeout = 30 * time.Second

// LocalConfig struct represents the local configuration of a party.
type LocalConfig struct {
	// Address of the relay server.
	RelayAddr string `json:"relayAddr"`
	// Group of key holders to join.
	GroupID string `json:"groupID"`
	// Session to sign up for. Empty lets the relay assign one.
	SessionID string `json:"sessionID"`

	// Represents the file path to the certificate authority (CA) file.
	// TLS is disabled when empty.
	CaPath string `json:"caPath"`
	// Represents the file path to the client certificate file.
	ClientCertPath string `json:"clientCertPath"`
	// Represents the file path to the client private key file.
	ClientKeyPath string `json:"clientKeyPath"`
	// Represents the timeout duration in seconds for dialing and bootstrap requests.
	TimeOutSecond int `json:"timeOutSecond"`

	// keygen config
	// Indicates whether mnemonic phrases are used for key generation.
	UseMnemonic bool `json:"useMnemonic"`
	// Where the key share is written after keygen and read from before signing.
	KeySharePath string `json:"keySharePath"`

	// sign config
	// Represents the message that needs to be signed.
	MessageToSign string `json:"messageToSign"`
}

// Timeout returns the configured network timeout.
func (c *LocalConfig) Timeout() time.Duration {
	if c.TimeOutSecond <= 0 {
		return defaultTimeout
	}
	return time.Duration(c.TimeOutSecond) * time.Second
}

// TLSEnabled reports whether connections to the relay use mutual TLS.
func (c *LocalConfig) TLSEnabled() bool {
	return c.CaPath != ""
}

// RelayConfig is the configuration of the relay server.
type RelayConfig struct {
	ListenAddr string `json:"listenAddr"`
	// Groups maps every group id to its parameters.
	Groups map[string]round.Parameters `json:"groups"`

	CaPath         string `json:"caPath"`
	ServerCertPath string `json:"serverCertPath"`
	ServerKeyPath  string `json:"serverKeyPath"`
}

// Validate checks the parameters of every group.
func (c *RelayConfig) Validate() error {
	if len(c.Groups) == 0 {
		return errors.New("relay config: no groups")
	}
	for id, params := range c.Groups {
		if err := params.Validate(); err != nil {
			return errors.Wrapf(err, "relay config: group %q", id)
		}
	}
	return nil
}

// LoadConfig reads a party configuration file.
func LoadConfig(path string) (*LocalConfig, error) {
	var cfg LocalConfig
	if err := loadJSON(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.RelayAddr == "" {
		return nil, errors.Errorf("config %s: missing relayAddr", path)
	}
	if cfg.GroupID == "" {
		return nil, errors.Errorf("config %s: missing groupID", path)
	}
	return &cfg, nil
}

// LoadRelayConfig reads a relay configuration file.
func LoadRelayConfig(path string) (*RelayConfig, error) {
	var cfg RelayConfig
	if err := loadJSON(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return &cfg, nil
}

func loadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "could not open config file %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "could not unmarshal config file %s", path)
	}
	log.Debugf("loaded config %s", path)
	return nil
}
