package server

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uffizio/snap/errors"
	"github.com/uffizio/snap/health"
)

func TestRelevantEvent(t *testing.T) {
	files := map[string]bool{"/etc/app/app.cfg": true}
	dirs := map[string]bool{"/etc/app/snaplets": true}

	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"watched file write", fsnotify.Event{Name: "/etc/app/app.cfg", Op: fsnotify.Write}, true},
		{"watched file create", fsnotify.Event{Name: "/etc/app/app.cfg", Op: fsnotify.Create}, true},
		{"watched file rename", fsnotify.Event{Name: "/etc/app/app.cfg", Op: fsnotify.Rename}, true},
		{"chmod alone ignored", fsnotify.Event{Name: "/etc/app/app.cfg", Op: fsnotify.Chmod}, false},
		{"sibling file ignored", fsnotify.Event{Name: "/etc/app/other.cfg", Op: fsnotify.Write}, false},
		{"file under watched dir", fsnotify.Event{Name: "/etc/app/snaplets/kv.cfg", Op: fsnotify.Write}, true},
		{"watched dir itself ignored", fsnotify.Event{Name: "/etc/app/snaplets", Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, relevantEvent(tt.ev, files, dirs))
		})
	}
}

func TestConfigWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "app.cfg")
	require.NoError(t, os.WriteFile(cfgPath, []byte("greeting = before\n"), 0o644))

	var fired atomic.Int32
	monitor := health.NewMonitor()
	cw := &configWatcher{
		paths:    []string{cfgPath},
		debounce: 20 * time.Millisecond,
		reload: func(context.Context) (string, error) {
			fired.Add(1)
			return "Initializing app @ /", nil
		},
		logger:  testLogger(),
		monitor: monitor,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- cw.run(ctx) }()

	// Let the watcher register before touching the file.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(cfgPath, []byte("greeting = after\n"), 0o644))

	require.Eventually(t, func() bool {
		status, ok := monitor.Get("reload")
		return ok && status.IsHealthy()
	}, 3*time.Second, 20*time.Millisecond, "watcher never triggered a reload")
	assert.GreaterOrEqual(t, fired.Load(), int32(1))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after context cancellation")
	}
}

func TestConfigWatcherCoalescesBursts(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "app.cfg")
	require.NoError(t, os.WriteFile(cfgPath, []byte("n = 0\n"), 0o644))

	var fired atomic.Int32
	cw := &configWatcher{
		paths:    []string{cfgPath},
		debounce: 150 * time.Millisecond,
		reload: func(context.Context) (string, error) {
			fired.Add(1)
			return "", nil
		},
		logger: testLogger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = cw.run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(cfgPath, []byte("n = 1\n"), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return fired.Load() >= 1 },
		3*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Less(t, fired.Load(), int32(5), "burst of writes should coalesce into few reloads")
}

func TestConfigWatcherKeepsRunningAfterFailedReload(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "app.cfg")
	require.NoError(t, os.WriteFile(cfgPath, []byte("n = 0\n"), 0o644))

	var fired atomic.Int32
	monitor := health.NewMonitor()
	cw := &configWatcher{
		paths:    []string{cfgPath},
		debounce: 20 * time.Millisecond,
		reload: func(context.Context) (string, error) {
			fired.Add(1)
			return "", errors.New("bad config")
		},
		logger:  testLogger(),
		monitor: monitor,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = cw.run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(cfgPath, []byte("n = 1\n"), 0o644))

	require.Eventually(t, func() bool {
		status, ok := monitor.Get("reload")
		return ok && status.IsUnhealthy()
	}, 3*time.Second, 20*time.Millisecond)

	// Another change must still reach the reload hook.
	before := fired.Load()
	require.NoError(t, os.WriteFile(cfgPath, []byte("n = 2\n"), 0o644))
	require.Eventually(t, func() bool { return fired.Load() > before },
		3*time.Second, 20*time.Millisecond)
}

func TestConfigWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "app.cfg")
	require.NoError(t, os.WriteFile(cfgPath, []byte("n = 0\n"), 0o644))

	var fired atomic.Int32
	cw := &configWatcher{
		paths:    []string{cfgPath},
		debounce: 20 * time.Millisecond,
		reload: func(context.Context) (string, error) {
			fired.Add(1)
			return "", nil
		},
		logger: testLogger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = cw.run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o644))

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load(), "sibling files must not trigger reloads")
}

func TestConfigWatcherRejectsMissingPath(t *testing.T) {
	cw := &configWatcher{
		paths:    []string{filepath.Join(t.TempDir(), "missing", "app.cfg")},
		debounce: 20 * time.Millisecond,
		reload:   func(context.Context) (string, error) { return "", nil },
		logger:   testLogger(),
	}

	err := cw.run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsInit(err))
}
