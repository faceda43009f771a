package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherStopsOnCancel(t *testing.T) {
	w := Watcher{Path: "noop", Interval: 10 * time.Millisecond,
		stat: func(string) (fingerprint, error) { return fingerprint{}, errors.New("boom") }}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Start(ctx, nil), context.Canceled)
}

func TestWatcherReloadsOnlyOnChange(t *testing.T) {
	path := writeTempConfig(t, remoteYAML+`
search:
  debounceMs: 150
`)
	base := time.Now()
	polls := 0
	// 1,2 同一指纹；3 起大小变化
	stat := func(string) (fingerprint, error) {
		polls++
		if polls < 3 {
			return fingerprint{mod: base, size: 10}, nil
		}
		return fingerprint{mod: base, size: 11}, nil
	}

	updates := make(chan AppConfig, 8)
	w := Watcher{Path: path, Interval: 5 * time.Millisecond, stat: stat}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx, func(cfg AppConfig) { updates <- cfg }) }()

	for i := 0; i < 2; i++ {
		select {
		case cfg := <-updates:
			assert.Equal(t, 150, cfg.Search.DebounceMs)
		case <-time.After(time.Second):
			t.Fatalf("expected update %d", i+1)
		}
	}
	// 之后指纹不变，不再触发
	select {
	case <-updates:
		t.Fatal("unchanged file must not reload")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatcherReportsInvalidConfig(t *testing.T) {
	path := writeTempConfig(t, `
env: dev
trade:
  onConflict: maybe
store:
  driver: sqlite
  path: x.db
`)
	errs := make(chan error, 1)
	w := Watcher{
		Path:     path,
		Interval: 5 * time.Millisecond,
		OnError: func(err error) {
			select {
			case errs <- err:
			default:
			}
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = w.Start(ctx, func(AppConfig) { t.Errorf("invalid config must not be applied") })
	}()

	select {
	case err := <-errs:
		var inv ErrInvalid
		require.True(t, errors.As(err, &inv), "got %T %v", err, err)
	case <-time.After(time.Second):
		t.Fatal("expected error callback")
	}
}

func TestStatFingerprint(t *testing.T) {
	path := writeTempConfig(t, remoteYAML)
	fp, err := statFingerprint(path)
	require.NoError(t, err)
	assert.Positive(t, fp.size)

	_, err = statFingerprint(path + ".missing")
	assert.Error(t, err)
}
