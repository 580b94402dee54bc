package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("SIGNALING_BACKEND", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendFirestore, cfg.Signaling.Backend)
	assert.Equal(t, 10, cfg.Signaling.CandidatePoolSize)
	assert.Equal(t, 10*time.Second, cfg.Signaling.RecencyWindow)
	assert.Zero(t, cfg.Signaling.RingTimeout)
	assert.Equal(t, DefaultSTUNServers, cfg.Signaling.STUNServers)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("SIGNALING_BACKEND", BackendRedis)
	t.Setenv("STUN_SERVERS", "stun:a.example.com:3478, stun:b.example.com:3478")
	t.Setenv("RING_TIMEOUT", "45s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.Signaling.Backend)
	assert.Equal(t, []string{"stun:a.example.com:3478", "stun:b.example.com:3478"}, cfg.Signaling.STUNServers)
	assert.Equal(t, 45*time.Second, cfg.Signaling.RingTimeout)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:    ServerConfig{Environment: "production"},
			Signaling: SignalingConfig{Backend: BackendFirestore, CandidatePoolSize: 10, RecencyWindow: 10 * time.Second},
			JWT:       JWTConfig{Secret: strings.Repeat("k", 32)},
			Push:      PushConfig{Provider: "fcm"},
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(c *Config){
		"unknown backend":     func(c *Config) { c.Signaling.Backend = "carrier-pigeon" },
		"pool too large":      func(c *Config) { c.Signaling.CandidatePoolSize = 256 },
		"zero recency window": func(c *Config) { c.Signaling.RecencyWindow = 0 },
		"negative ring":       func(c *Config) { c.Signaling.RingTimeout = -time.Second },
		"short secret":        func(c *Config) { c.JWT.Secret = "short" },
		"memory in prod":      func(c *Config) { c.Signaling.Backend = BackendMemory },
		"mock push in prod":   func(c *Config) { c.Push.Provider = "mock" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
