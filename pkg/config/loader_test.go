package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/config"
)

type drainConfig struct {
	Interval time.Duration `env:"TEST_DRAIN_INTERVAL" envDefault:"1m"`
	BatchMax int           `env:"TEST_DRAIN_BATCH" envDefault:"50"`
}

type requiredConfig struct {
	Token string `env:"TEST_REQUIRED_TOKEN,required"`
}

func TestLoad(t *testing.T) {
	t.Run("defaults and overrides", func(t *testing.T) {
		config.Reset()
		t.Setenv("TEST_DRAIN_BATCH", "10")

		var cfg drainConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, time.Minute, cfg.Interval)
		assert.Equal(t, 10, cfg.BatchMax)
	})

	t.Run("cached per type", func(t *testing.T) {
		config.Reset()
		t.Setenv("TEST_DRAIN_BATCH", "10")

		var first drainConfig
		require.NoError(t, config.Load(&first))

		t.Setenv("TEST_DRAIN_BATCH", "99")
		var second drainConfig
		require.NoError(t, config.Load(&second))
		assert.Equal(t, 10, second.BatchMax)
	})

	t.Run("missing required", func(t *testing.T) {
		config.Reset()
		os.Unsetenv("TEST_REQUIRED_TOKEN")

		var cfg requiredConfig
		err := config.Load(&cfg)
		assert.ErrorIs(t, err, config.ErrParsingConfig)
		assert.Panics(t, func() { config.MustLoad(&cfg) })
	})

	t.Run("nil pointer", func(t *testing.T) {
		assert.ErrorIs(t, config.Load[drainConfig](nil), config.ErrNilPointer)
	})
}

func TestLoadEnvFiles(t *testing.T) {
	config.Reset()
	os.Unsetenv("TEST_REQUIRED_TOKEN")
	t.Cleanup(func() { os.Unsetenv("TEST_REQUIRED_TOKEN") })

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("TEST_REQUIRED_TOKEN=from-file\n"), 0o600))

	require.NoError(t, config.LoadEnvFiles(path))

	var cfg requiredConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "from-file", cfg.Token)

	assert.ErrorIs(t, config.LoadEnvFiles(filepath.Join(t.TempDir(), "missing.env")), config.ErrLoadingEnvFile)
}
