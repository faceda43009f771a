package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "papertrade-go/config"
)

// recordingApplier 记录收到的配置
type recordingApplier struct {
	mu      sync.Mutex
	applied []appconfig.AppConfig
}

func (r *recordingApplier) apply(cfg appconfig.AppConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, cfg)
	return nil
}

func (r *recordingApplier) last() (appconfig.AppConfig, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.applied) == 0 {
		return appconfig.AppConfig{}, 0
	}
	return r.applied[len(r.applied)-1], len(r.applied)
}

const baseYAML = `
env: dev
backend:
  baseURL: http://127.0.0.1:8000
store:
  driver: sqlite
  path: paper.db
search:
  debounceMs: %d
trade:
  onConflict: %s
`

func writeConfig(t *testing.T, path string, debounce int, conflict string) {
	t.Helper()
	content := []byte(fmt.Sprintf(baseYAML, debounce, conflict))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func newReloader(t *testing.T) (*HotReloader, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, 300, "queue")
	r, err := NewHotReloader(path, HotReloadConfig{Enabled: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Stop() })
	return r, path
}

func TestHotReloader_ReloadAppliesAllCategories(t *testing.T) {
	r, path := newReloader(t)
	search := &recordingApplier{}
	trade := &recordingApplier{}
	r.Register("search", SearchSection(search.apply))
	r.Register("trade", TradeSection(trade.apply))

	writeConfig(t, path, 120, "reject")
	require.NoError(t, r.Reload())

	cfg, n := search.last()
	assert.Equal(t, 1, n)
	assert.Equal(t, 120, cfg.Search.DebounceMs)
	cfg, _ = trade.last()
	assert.Equal(t, "reject", cfg.Trade.OnConflict)
	assert.False(t, r.LastReload().IsZero())
}

func TestHotReloader_InvalidCategoryBlocksAll(t *testing.T) {
	r, _ := newReloader(t)
	search := &recordingApplier{}
	trade := &recordingApplier{}
	r.Register("search", SearchSection(search.apply))
	r.Register("trade", Section{Apply: trade.apply})
	r.load = func(string) (appconfig.AppConfig, error) {
		cfg := appconfig.Default()
		cfg.Search.MaxResults = 0
		return cfg, nil
	}

	err := r.Reload()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search")
	_, n := search.last()
	assert.Zero(t, n)
	_, n = trade.last()
	assert.Zero(t, n)
}

func TestHotReloader_LoadError(t *testing.T) {
	r, _ := newReloader(t)
	r.load = func(string) (appconfig.AppConfig, error) { return appconfig.AppConfig{}, errors.New("broken yaml") }
	r.Register("search", Section{Apply: func(appconfig.AppConfig) error {
		t.Fatal("must not apply on load error")
		return nil
	}})
	assert.Error(t, r.Reload())
}

func TestHotReloader_WatchesFileWrites(t *testing.T) {
	r, path := newReloader(t)
	search := &recordingApplier{}
	r.Register("search", SearchSection(search.apply))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))

	writeConfig(t, path, 80, "queue")
	require.Eventually(t, func() bool {
		cfg, n := search.last()
		return n > 0 && cfg.Search.DebounceMs == 80
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHotReloader_Disabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, 300, "queue")
	r, err := NewHotReloader(path, HotReloadConfig{Enabled: false}, nil)
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	assert.NoError(t, r.Stop())
}

func TestHotReloader_PollMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, 300, "queue")
	r, err := NewHotReloader(path, HotReloadConfig{Enabled: true, Poll: true, PollInterval: 10 * time.Millisecond}, nil)
	require.NoError(t, err)

	trade := &recordingApplier{}
	r.Register("trade", TradeSection(trade.apply))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))

	require.Eventually(t, func() bool {
		_, n := trade.last()
		return n > 0
	}, 2*time.Second, 10*time.Millisecond, "first poll applies the current file")

	time.Sleep(20 * time.Millisecond)
	writeConfig(t, path, 300, "reject")
	require.Eventually(t, func() bool {
		cfg, _ := trade.last()
		return cfg.Trade.OnConflict == "reject"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, r.Stop())
}

func TestHotReloader_StartTwice(t *testing.T) {
	r, _ := newReloader(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))
	assert.Error(t, r.Start(ctx))
	require.NoError(t, r.Stop())
	assert.True(t, r.LastReload().IsZero())
}
