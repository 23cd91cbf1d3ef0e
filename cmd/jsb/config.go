package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the jsb.toml file.
type Config struct {
	Engine  EngineConfig `toml:"engine"`
	Log     LogConfig    `toml:"log"`
	Wasm    WasmConfig   `toml:"wasm"`
	REPL    REPLConfig   `toml:"repl"`
	Preload []string     `toml:"preload"`

	// Dir is the directory containing the config file (set at load time).
	Dir string `toml:"-"`
}

// EngineConfig configures the script engine.
type EngineConfig struct {
	MaxCallStackSize int  `toml:"max_call_stack_size"`
	Console          bool `toml:"console"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// WasmConfig configures the wasm global.
type WasmConfig struct {
	Enabled          bool   `toml:"enabled"`
	WASI             bool   `toml:"wasi"`
	MemoryLimitPages uint32 `toml:"memory_limit_pages"`
}

// REPLConfig configures the interactive prompt.
type REPLConfig struct {
	HistoryFile string `toml:"history_file"`
	Timing      bool   `toml:"timing"`
	// AwaitTimeout bounds how long a promise result is awaited, e.g. "30s".
	AwaitTimeout duration `toml:"await_timeout"`
}

const defaultAwaitTimeout = 30 * time.Second

// duration reads TOML strings such as "1m30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", text)
	}
	d.Duration = v
	return nil
}

func defaultConfig() *Config {
	cfg := &Config{
		Engine: EngineConfig{Console: true},
		Log:    LogConfig{Level: "warn"},
		Wasm:   WasmConfig{Enabled: true},
	}
	cfg.REPL.AwaitTimeout.Duration = defaultAwaitTimeout
	if home, err := os.UserHomeDir(); err == nil {
		cfg.REPL.HistoryFile = filepath.Join(home, ".jsb_history")
	}
	return cfg
}

// loadConfig reads path over the defaults. An empty path returns the
// defaults.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read %s", path)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse error in %s", path)
	}

	cfg.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot resolve path %s", path)
	}
	for i, p := range cfg.Preload {
		if !filepath.IsAbs(p) {
			cfg.Preload[i] = filepath.Join(cfg.Dir, p)
		}
	}
	if cfg.REPL.AwaitTimeout.Duration <= 0 {
		cfg.REPL.AwaitTimeout.Duration = defaultAwaitTimeout
	}
	return cfg, nil
}

// newLogger builds the process logger from the [log] table.
func newLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", cfg.Level)
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
