package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, DefaultConfig().Save(path))

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config, loadErr error) {
		require.NoError(t, loadErr)
		reloaded <- cfg
	})
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	updated := DefaultConfig()
	updated.Service.Port = 9999
	require.NoError(t, updated.Save(path))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 9999, cfg.Service.Port)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestWatcher_ReportsLoadErrorOnMalformedWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, DefaultConfig().Save(path))

	results := make(chan error, 1)
	w, err := NewWatcher(path, func(cfg *Config, loadErr error) {
		results <- loadErr
	})
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("not valid toml {{{"), 0644))

	select {
	case err := <-results:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload callback")
	}
}
