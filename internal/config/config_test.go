package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-stomp/internal/config"
)

type sample struct {
	Name     string        `env:"CFGTEST_NAME" envDefault:"none"`
	Port     int           `env:"CFGTEST_PORT" envDefault:"1"`
	Override string        `env:"CFGTEST_OVERRIDE"`
	Timeout  time.Duration `env:"CFGTEST_TIMEOUT" envDefault:"3s"`
}

func TestLoad_DefaultsAndFile(t *testing.T) {
	t.Setenv("CFGTEST_OVERRIDE", "environment")
	t.Cleanup(func() {
		os.Unsetenv("CFGTEST_NAME")
		os.Unsetenv("CFGTEST_PORT")
	})

	var cfg sample
	require.NoError(t, config.Load(&cfg, "testdata/.env.test"))
	assert.Equal(t, "from-file", cfg.Name)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "environment", cfg.Override, "process environment wins over .env")
	assert.Equal(t, 3*time.Second, cfg.Timeout)
}

func TestLoad_MissingFileIsIgnored(t *testing.T) {
	t.Setenv("CFGTEST_NAME", "env-only")
	var cfg sample
	require.NoError(t, config.Load(&cfg, "testdata/does-not-exist.env"))
	assert.Equal(t, "env-only", cfg.Name)
}

func TestLoad_ParseError(t *testing.T) {
	t.Setenv("CFGTEST_PORT", "not-a-number")
	var cfg sample
	err := config.Load(&cfg, "testdata/does-not-exist.env")
	assert.ErrorIs(t, err, config.ErrParsingConfig)
}

func TestLoad_NilPointer(t *testing.T) {
	assert.ErrorIs(t, config.Load[sample](nil), config.ErrNilPointer)
}
