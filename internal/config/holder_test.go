package config

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHolder(t *testing.T) {
	cfg := DefaultConfig()
	h := NewHolder(cfg, "/etc/scrybble/config.toml")

	require.NotNil(t, h)
	assert.Equal(t, cfg, h.Config())
	assert.Equal(t, "/etc/scrybble/config.toml", h.Path())
}

func TestHolder_Update(t *testing.T) {
	cfg1 := DefaultConfig()
	h := NewHolder(cfg1, "/tmp/config.toml")

	cfg2 := DefaultConfig()
	cfg2.SyncFolder = "remarkable"

	h.Update(cfg2)

	got := h.Config()
	assert.Equal(t, "remarkable", got.SyncFolder)
	assert.Same(t, cfg2, got)
}

func TestHolder_ConcurrentReadWrite(t *testing.T) {
	h := NewHolder(DefaultConfig(), "/tmp/config.toml")

	var wg sync.WaitGroup

	for range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range 100 {
				assert.NotNil(t, h.Config())
				_ = h.Path()
			}
		}()
	}

	for range 5 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range 20 {
				h.Update(DefaultConfig())
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, "/tmp/config.toml", h.Path())
}
