package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jsb.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.True(t, cfg.Engine.Console)
	assert.True(t, cfg.Wasm.Enabled)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, defaultAwaitTimeout, cfg.REPL.AwaitTimeout.Duration)
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
preload = ["lib/prelude.js", "/abs/setup.js"]

[engine]
max_call_stack_size = 500
console = false

[log]
level = "debug"
development = true

[wasm]
enabled = false
wasi = true
memory_limit_pages = 16

[repl]
timing = true
await_timeout = "1m30s"
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)

	dir, err := filepath.Abs(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Dir)
	assert.Equal(t, []string{filepath.Join(dir, "lib", "prelude.js"), "/abs/setup.js"}, cfg.Preload)
	assert.Equal(t, 500, cfg.Engine.MaxCallStackSize)
	assert.False(t, cfg.Engine.Console)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Development)
	assert.False(t, cfg.Wasm.Enabled)
	assert.True(t, cfg.Wasm.WASI)
	assert.Equal(t, uint32(16), cfg.Wasm.MemoryLimitPages)
	assert.True(t, cfg.REPL.Timing)
	assert.Equal(t, 90*time.Second, cfg.REPL.AwaitTimeout.Duration)
}

func TestLoadConfigKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, "[log]\nlevel = \"error\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.True(t, cfg.Engine.Console)
	assert.Equal(t, defaultAwaitTimeout, cfg.REPL.AwaitTimeout.Duration)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "cannot read")

	_, err = loadConfig(writeConfig(t, "[repl]\nawait_timeout = \"soon\"\n"))
	assert.ErrorContains(t, err, "invalid duration")

	_, err = loadConfig(writeConfig(t, "[engine\n"))
	assert.ErrorContains(t, err, "parse error")
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(LogConfig{Level: "info"})
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = newLogger(LogConfig{Level: "loud"})
	assert.ErrorContains(t, err, "invalid log level")
}
