package communication

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MPC_SESSION/internal/round"
)

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeFile(t, "conn.json", `{
		"relayAddr": "127.0.0.1:9000",
		"groupID": "treasury",
		"timeOutSecond": 5,
		"useMnemonic": true,
		"messageToSign": "hello"
	}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.RelayAddr)
	assert.Equal(t, "treasury", cfg.GroupID)
	assert.Equal(t, 5*time.Second, cfg.Timeout())
	assert.True(t, cfg.UseMnemonic)
	assert.False(t, cfg.TLSEnabled())
	assert.Equal(t, "hello", cfg.MessageToSign)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed", `{"relayAddr": `},
		{"no relay", `{"groupID": "g"}`},
		{"no group", `{"relayAddr": "127.0.0.1:1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, "conn.json", tt.content))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLocalConfig_DefaultTimeout(t *testing.T) {
	var cfg LocalConfig
	assert.Equal(t, defaultTimeout, cfg.Timeout())
}

func TestLoadRelayConfig(t *testing.T) {
	path := writeFile(t, "relay.json", `{
		"listenAddr": ":9000",
		"groups": {"treasury": {"parties": 3, "threshold": 1}}
	}`)
	cfg, err := LoadRelayConfig(path)
	require.NoError(t, err)
	assert.Equal(t, round.Parameters{Parties: 3, Threshold: 1}, cfg.Groups["treasury"])

	_, err = LoadRelayConfig(writeFile(t, "bad.json", `{"groups": {"g": {"parties": 3, "threshold": 3}}}`))
	assert.Error(t, err)
	_, err = LoadRelayConfig(writeFile(t, "empty.json", `{}`))
	assert.Error(t, err)
}

func TestLoadTLSConfig_Missing(t *testing.T) {
	_, err := LoadTLSConfig(filepath.Join(t.TempDir(), "ca.pem"), "cert.pem", "key.pem")
	assert.Error(t, err)

	_, err = LoadCertPool(writeFile(t, "ca.pem", "not a certificate"))
	assert.Error(t, err)
}
