package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty server address", func(c *Config) { c.Server.Address = "" }},
		{"empty redis address", func(c *Config) { c.Redis.Address = "" }},
		{"zero ping interval", func(c *Config) { c.Signaling.PingInterval = 0 }},
		{"inverted port range", func(c *Config) {
			c.WebRTC.PortRange.Min = 20000
			c.WebRTC.PortRange.Max = 10000
		}},
		{"zero capture size", func(c *Config) { c.Capture.Width = 0 }},
		{"zero reconnect delay", func(c *Config) { c.Call.ReconnectDelay = 0 }},
		{"negative reconnect attempts", func(c *Config) { c.Call.ReconnectMaxAttempts = -1 }},
		{"zero history limit", func(c *Config) { c.Chat.HistoryLimit = 0 }},
		{"zero roster ttl", func(c *Config) { c.Presence.RosterTTL = 0 }},
		{"empty jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"bad sample rate", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.SampleRate = 1.5
		}},
		{"rate limit without rps", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.HTTP.RequestsPerSecond = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_ParsesYAML(t *testing.T) {
	yamlBody := `
server:
  address: ":9000"
  read_timeout: 5s
  write_timeout: 5s
  shutdown_timeout: 3s
redis:
  address: "redis:6379"
call:
  reconnect_delay: 4s
  reconnect_max_attempts: 2
capture:
  width: 320
  height: 240
  video_bitrate: 400000
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, "redis:6379", cfg.Redis.Address)
	assert.Equal(t, 4*time.Second, cfg.Call.ReconnectDelay)
	assert.Equal(t, 2, cfg.Call.ReconnectMaxAttempts)
	// Defaults survive for sections the file omits.
	assert.Equal(t, 200, cfg.Chat.HistoryLimit)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	yamlBody := `
server:
  address: ""
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
