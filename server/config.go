package server

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/momentics/hioload-stomp/internal/broker"
	"github.com/momentics/hioload-stomp/protocol"
)

// Mode selects the dispatch engine.
type Mode string

const (
	// ModeThreadPerConnection serves each connection on its own goroutine.
	ModeThreadPerConnection Mode = "tpc"
	// ModeReactor multiplexes connections over epoll loops and a worker pool.
	ModeReactor Mode = "reactor"
)

// ParseMode validates a mode selector.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeThreadPerConnection, ModeReactor:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q (want %q or %q)", ErrUnknownMode, s, ModeThreadPerConnection, ModeReactor)
	}
}

// Config holds all server-side configuration parameters.
type Config struct {
	Host    string `env:"STOMP_HOST" envDefault:"stomp.cs.bgu.ac.il"` // CONNECT host header must match
	Version string `env:"STOMP_VERSION" envDefault:"1.2"`             // CONNECT accept-version must match

	ListenAddr string `env:"STOMP_LISTEN_ADDR" envDefault:":7777"` // TCP bind address
	Mode       string `env:"STOMP_MODE" envDefault:"tpc"`          // tpc | reactor

	Workers        int `env:"STOMP_WORKERS" envDefault:"0"`          // reactor worker pool size, 0 = NumCPU
	Loops          int `env:"STOMP_REACTOR_LOOPS" envDefault:"1"`    // epoll event loops
	ReadBufferSize int `env:"STOMP_READ_BUFFER" envDefault:"4096"`   // bytes per socket read
	MaxFrameSize   int `env:"STOMP_MAX_FRAME" envDefault:"1048576"`  // inbound frame limit, 0 = unlimited
	PasswordCost   int `env:"STOMP_PASSWORD_COST" envDefault:"10"`   // bcrypt cost

	WSAddr    string `env:"STOMP_WS_ADDR"`    // optional STOMP-over-WebSocket listener
	AdminAddr string `env:"STOMP_ADMIN_ADDR"` // optional admin HTTP listener

	ShutdownTimeout time.Duration `env:"STOMP_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// DefaultConfig returns sensible defaults, identical to the env defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:            broker.DefaultHost,
		Version:         broker.DefaultVersion,
		ListenAddr:      ":7777",
		Mode:            string(ModeThreadPerConnection),
		Workers:         0,
		Loops:           1,
		ReadBufferSize:  4096,
		MaxFrameSize:    protocol.DefaultMaxFrameSize,
		PasswordCost:    bcrypt.DefaultCost,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if _, err := ParseMode(c.Mode); err != nil {
		return err
	}
	switch {
	case c.Host == "":
		return fmt.Errorf("%w: host is empty", ErrInvalidConfig)
	case c.Version == "":
		return fmt.Errorf("%w: version is empty", ErrInvalidConfig)
	case c.ListenAddr == "":
		return fmt.Errorf("%w: listen address is empty", ErrInvalidConfig)
	case c.Workers < 0:
		return fmt.Errorf("%w: workers must be >= 0, got %d", ErrInvalidConfig, c.Workers)
	case c.Loops < 1:
		return fmt.Errorf("%w: reactor loops must be >= 1, got %d", ErrInvalidConfig, c.Loops)
	case c.ReadBufferSize < 1:
		return fmt.Errorf("%w: read buffer must be >= 1, got %d", ErrInvalidConfig, c.ReadBufferSize)
	case c.MaxFrameSize < 0:
		return fmt.Errorf("%w: max frame size must be >= 0, got %d", ErrInvalidConfig, c.MaxFrameSize)
	case c.PasswordCost < bcrypt.MinCost || c.PasswordCost > bcrypt.MaxCost:
		return fmt.Errorf("%w: password cost must be in [%d, %d], got %d",
			ErrInvalidConfig, bcrypt.MinCost, bcrypt.MaxCost, c.PasswordCost)
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("%w: shutdown timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// Snapshot flattens the configuration for the admin config endpoint.
func (c *Config) Snapshot() map[string]any {
	return map[string]any{
		"host":             c.Host,
		"version":          c.Version,
		"listen_addr":      c.ListenAddr,
		"mode":             c.Mode,
		"workers":          c.Workers,
		"loops":            c.Loops,
		"read_buffer":      c.ReadBufferSize,
		"max_frame":        c.MaxFrameSize,
		"ws_addr":          c.WSAddr,
		"admin_addr":       c.AdminAddr,
		"shutdown_timeout": c.ShutdownTimeout.String(),
		"log.level":        c.LogLevel,
		"log.format":       c.LogFormat,
	}
}
