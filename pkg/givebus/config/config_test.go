package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessors(t *testing.T) {
	c := New(map[string]any{
		"name":    "givebus",
		"count":   3,
		"ratio":   2.0,
		"enabled": true,
		"wait":    "250ms",
		"seconds": 5,
		"nested":  map[string]any{"inner": "value"},
	})

	assert.Equal(t, "givebus", c.String("name", "fallback"))
	assert.Equal(t, "fallback", c.String("missing", "fallback"))
	assert.Equal(t, 3, c.Int("count", 0))
	assert.Equal(t, 2, c.Int("ratio", 0))
	assert.True(t, c.Bool("enabled", false))
	assert.Equal(t, 250*time.Millisecond, c.Duration("wait", 0))
	assert.Equal(t, 5*time.Second, c.Duration("seconds", 0))
	assert.Equal(t, "value", c.Sub("nested").String("inner", ""))
	assert.Equal(t, "none", c.Sub("missing").String("inner", "none"))
	assert.True(t, c.Has("name"))
	assert.False(t, c.Has("missing"))
}

func TestFromYAML(t *testing.T) {
	raw := []byte(`
clientId: proc-1
store:
  driver: sqlite
  path: /var/lib/givebus/events.db
  maxBatch: 100
stream:
  enabled: true
  addr: redis:6379
breaker:
  threshold: 3
  resetTimeout: 10s
`)
	c, err := FromYAML(raw)
	require.NoError(t, err)

	s := LoadSettings(c)
	assert.Equal(t, "proc-1", s.ClientID)
	assert.Equal(t, "sqlite", s.Store.Driver)
	assert.Equal(t, "/var/lib/givebus/events.db", s.Store.Path)
	assert.Equal(t, 100, s.Store.MaxBatch)
	assert.True(t, s.Stream.Enabled)
	assert.Equal(t, "redis:6379", s.Stream.Addr)
	assert.Equal(t, 3, s.Breaker.Threshold)
	assert.Equal(t, 10*time.Second, s.Breaker.ResetTimeout)
	// Untouched sections keep their defaults.
	assert.Equal(t, 2, s.Breaker.HalfOpenAttempts)
	assert.Equal(t, 5*time.Minute, s.Idempotency.ProcessingTTL)
	require.NoError(t, s.Validate())
}

func TestFromJSON(t *testing.T) {
	raw := []byte(`{"clientId": "proc-2", "trigger": {"enabled": true, "url": "http://localhost:9000/invoke"}}`)
	c, err := FromJSON(raw)
	require.NoError(t, err)

	s := LoadSettings(c)
	assert.Equal(t, "proc-2", s.ClientID)
	assert.True(t, s.Trigger.Enabled)
	assert.Equal(t, "http://localhost:9000/invoke", s.Trigger.URL)
	assert.Equal(t, "process-event", s.Trigger.Function)
	require.NoError(t, s.Validate())
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "givebus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("clientId: from-file\n"), 0o644))

	c, err := FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", c.String("clientId", ""))

	_, err = FromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(bad, []byte(""), 0o644))
	_, err = FromFile(bad)
	assert.ErrorContains(t, err, "unsupported config file extension")
}

func TestSettingsFromFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "givebus.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
clientId: proc-3
store:
  driver: memory
`), 0o644))

	s, err := SettingsFromFile(good)
	require.NoError(t, err)
	assert.Equal(t, "proc-3", s.ClientID)
	assert.Equal(t, "memory", s.Store.Driver)

	// A file that parses but fails validation is rejected with the path.
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("store:\n  driver: postgres\n"), 0o644))
	_, err = SettingsFromFile(bad)
	assert.ErrorContains(t, err, "bad.yaml")
	assert.ErrorContains(t, err, "store.driver")
}

func TestSettingsValidate(t *testing.T) {
	s := LoadSettings(New(nil))
	require.NoError(t, s.Validate())

	s.Store.Driver = "postgres"
	assert.Error(t, s.Validate())

	s = LoadSettings(New(nil))
	s.Store.Driver = "sqlite"
	assert.ErrorContains(t, s.Validate(), "store.path")

	s = LoadSettings(New(nil))
	s.Trigger.Enabled = true
	assert.ErrorContains(t, s.Validate(), "trigger.url")

	s = LoadSettings(New(nil))
	s.Breaker.Threshold = 0
	assert.ErrorContains(t, s.Validate(), "breaker.threshold")
}
