package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
[session]
app_name = "Flick lights"
endpoint = "127.0.0.1:500"
request_timeout = "250ms"
retry_attempts = 5

[transport]
heartbeat_interval = "10s"
rate_limit = 100
rate_burst = 10

[discovery]
kind = "static"

[discovery.static]
simulator = ["10.0.0.1:500", "10.0.0.2:500"]

[log]
level = "debug"

[mockhost]
register = true
lease_ttl = 30
`

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysDefinedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simlink.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Flick lights", cfg.Session.AppName)
	assert.Equal(t, "127.0.0.1:500", cfg.Session.Endpoint)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.RequestTimeout)
	assert.Equal(t, 5, cfg.Session.RetryAttempts)
	assert.Equal(t, 10*time.Second, cfg.Transport.HeartbeatInterval)
	assert.Equal(t, 100.0, cfg.Transport.RateLimit)
	assert.Equal(t, 10, cfg.Transport.RateBurst)
	assert.Equal(t, []string{"10.0.0.1:500", "10.0.0.2:500"}, cfg.Discovery.Static["simulator"])
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.MockHost.Register)
	assert.Equal(t, int64(30), cfg.MockHost.LeaseTTL)

	// Untouched keys keep their defaults.
	def := Default()
	assert.Equal(t, def.Session.ConnectTimeout, cfg.Session.ConnectTimeout)
	assert.Equal(t, def.Transport.MaxBodySize, cfg.Transport.MaxBodySize)
	assert.Equal(t, def.MockHost.ListenAddr, cfg.MockHost.ListenAddr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestDecodeRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"bad duration":   "[session]\nrequest_timeout = \"soon\"\n",
		"unknown key":    "[session]\ncolour = \"red\"\n",
		"zero timeout":   "[session]\nrequest_timeout = \"0s\"\n",
		"bad balancer":   "[session]\nbalancer = \"random\"\n",
		"etcd no hosts":  "[discovery]\nkind = \"etcd\"\n",
		"unknown kind":   "[discovery]\nkind = \"consul\"\n",
		"bad log level":  "[log]\nlevel = \"loud\"\n",
		"burst required": "[transport]\nrate_limit = 5\nrate_burst = 0\n",
		"no host at all": "[session]\nhost_name = \"\"\n",
	}
	for name, data := range cases {
		_, err := Decode(data)
		assert.Error(t, err, name)
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.Session.AppName = ""
	cfg.Discovery.Kind = "consul"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session.app_name")
	assert.Contains(t, err.Error(), "discovery.kind")
}
