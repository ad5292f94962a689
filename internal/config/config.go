// Package config reads host configuration from HOTRELOAD_* environment
// variables.
package config

import (
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/docker/go-units"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/hotreload/errors"
)

// Log formats accepted by HOTRELOAD_LOG_FORMAT.
const (
	FormatAuto    = "auto"
	FormatConsole = "console"
	FormatJSON    = "json"
)

// ByteSize is a 32-bit byte count parsed from human sizes like "64KiB".
type ByteSize uint32

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	n, err := units.RAMInBytes(string(text))
	if err != nil {
		return err
	}
	if n < 0 || n > math.MaxUint32 {
		return fmt.Errorf("size %q out of 32-bit range", text)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) String() string {
	return units.BytesSize(float64(b))
}

// Config is the host configuration.
type Config struct {
	// ArenaBase must sit above the guest's data, stack and heap. With the
	// default 64KiB a reactor has to be linked with a small stack (wasm-ld
	// -z stack-size) and must not use the libc allocator.
	ArenaBase     ByteSize      `env:"HOTRELOAD_ARENA_BASE" envDefault:"64KiB"`
	ArenaCapacity ByteSize      `env:"HOTRELOAD_ARENA_CAPACITY" envDefault:"1MiB"`
	Tick          time.Duration `env:"HOTRELOAD_TICK" envDefault:"16ms"`
	LogLevel      zapcore.Level `env:"HOTRELOAD_LOG_LEVEL" envDefault:"info"`
	LogFormat     string        `env:"HOTRELOAD_LOG_FORMAT" envDefault:"auto"`
	MetricsFile   string        `env:"HOTRELOAD_METRICS_FILE"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the host configuration.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env parsing cannot.
func (c Config) Validate() error {
	switch {
	case c.ArenaBase == 0:
		return errors.InvalidInput(errors.PhaseConfig, "HOTRELOAD_ARENA_BASE must be greater than zero")
	case c.ArenaCapacity == 0:
		return errors.InvalidInput(errors.PhaseConfig, "HOTRELOAD_ARENA_CAPACITY must be greater than zero")
	case uint64(c.ArenaBase)+uint64(c.ArenaCapacity) > 1<<32:
		return errors.InvalidInput(errors.PhaseConfig,
			fmt.Sprintf("arena %s + %s exceeds the 4GiB address space", c.ArenaBase, c.ArenaCapacity))
	case c.Tick < 0:
		return errors.InvalidInput(errors.PhaseConfig, "HOTRELOAD_TICK must not be negative")
	}
	switch c.LogFormat {
	case FormatAuto, FormatConsole, FormatJSON:
	default:
		return errors.InvalidInput(errors.PhaseConfig,
			fmt.Sprintf("HOTRELOAD_LOG_FORMAT %q: want auto, console or json", c.LogFormat))
	}
	return nil
}

// Format resolves FormatAuto: console when w is a terminal, JSON otherwise.
func (c Config) Format(w io.Writer) string {
	if c.LogFormat != FormatAuto {
		return c.LogFormat
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return FormatConsole
	}
	return FormatJSON
}

// NewLogger builds the root logger writing to w.
func (c Config) NewLogger(w io.Writer) *zap.Logger {
	var enc zapcore.Encoder
	if c.Format(w) == FormatConsole {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		ec.EncodeTime = zapcore.TimeEncoderOfLayout(time.TimeOnly)
		enc = zapcore.NewConsoleEncoder(ec)
	} else {
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}
	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), c.LogLevel)
	return zap.New(core)
}
