package snaplet

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uffizio/snap/config"
	"github.com/uffizio/snap/errors"
)

// eventLog records lifecycle events from bootstraps, hooks and unload
// actions across initialization attempts.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (e *eventLog) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, s)
}

func (e *eventLog) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.events))
	copy(out, e.events)
	return out
}

type flakyState struct {
	tag string
}

type runApp struct {
	Echo  *Snaplet[echoState]
	Flaky *Snaplet[flakyState]
}

var runEchoFocus = Focus[runApp, echoState]{
	Get: func(a *runApp) *Snaplet[echoState] { return a.Echo },
	Set: func(a *runApp, s *Snaplet[echoState]) { a.Echo = s },
}

var runFlakyFocus = Focus[runApp, flakyState]{
	Get: func(a *runApp) *Snaplet[flakyState] { return a.Flaky },
	Set: func(a *runApp, s *Snaplet[flakyState]) { a.Flaky = s },
}

// newFlaky fails its bootstrap when the "fail" config key is true and
// records its unload actions, tagged by the "tag" config key.
func newFlaky[B any](events *eventLog) Bootstrap[B, flakyState] {
	return Make[B, flakyState]("flaky", "fails on demand", nil,
		func(in *Init[B, flakyState]) (flakyState, error) {
			tag := in.UserConfig().GetString("tag", "untagged")
			in.OnUnload(func() error {
				events.add("unload:" + tag)
				return nil
			})
			if in.UserConfig().GetBool("fail", false) {
				return flakyState{}, errors.New("configured to fail")
			}
			return flakyState{tag: tag}, nil
		})
}

func newRunApp(events *eventLog) Bootstrap[runApp, runApp] {
	return Make[runApp, runApp]("app", "run test application", nil,
		func(in *Init[runApp, runApp]) (runApp, error) {
			var app runApp
			echo, err := Nest(in, "a", runEchoFocus, newEcho[runApp]("hi"))
			if err != nil {
				return app, err
			}
			app.Echo = echo
			flaky, err := Nest(in, "", runFlakyFocus, newFlaky[runApp](events))
			if err != nil {
				return app, err
			}
			app.Flaky = flaky
			return app, nil
		})
}

func writeAppConfig(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.AppConfigName), []byte(body), 0o644))
}

func TestRunServesTree(t *testing.T) {
	dir := t.TempDir()
	writeAppConfig(t, dir, `{"echo": {"greeting": "bonjour"}, "flaky": {"tag": "live"}}`)
	events := &eventLog{}

	h, err := Run(context.Background(), newRunApp(events),
		WithRootDir(dir), WithLogger(testLogger()))
	require.NoError(t, err)
	defer func() { _ = h.Cleanup() }()

	rec := get(t, h.Handler(), "/a/hello")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bonjour from echo", rec.Body.String())

	assert.Equal(t, uint64(1), h.Generation())
	require.NotNil(t, h.Snapshot())
	assert.Equal(t, "flaky", h.Snapshot().Value.Flaky.Config().Name())

	log := h.InitLog()
	wantOrder := []string{
		"Initializing app @ /",
		"Initializing echo @ /a",
		"Initializing flaky @ /",
	}
	last := -1
	for _, line := range wantOrder {
		idx := strings.Index(log, line)
		require.GreaterOrEqual(t, idx, 0, "log missing %q:\n%s", line, log)
		assert.Greater(t, idx, last, "log out of order:\n%s", log)
		last = idx
	}
}

func TestRunFailureUnwindsCleanups(t *testing.T) {
	dir := t.TempDir()
	writeAppConfig(t, dir, `{"flaky": {"tag": "doomed", "fail": true}}`)
	events := &eventLog{}

	h, err := Run(context.Background(), newRunApp(events),
		WithRootDir(dir), WithLogger(testLogger()))
	require.Error(t, err)
	assert.Nil(t, h)

	var initErr *InitError
	require.True(t, errors.As(err, &initErr))
	assert.Contains(t, initErr.Log, "Initializing app @ /")
	assert.Contains(t, err.Error(), "configured to fail")

	// The unload action registered before the failure ran immediately.
	assert.Equal(t, []string{"unload:doomed"}, events.list())
}

func TestReloadSwapsState(t *testing.T) {
	dir := t.TempDir()
	writeAppConfig(t, dir, `{"echo": {"greeting": "bonjour"}}`)
	events := &eventLog{}

	h, err := Run(context.Background(), newRunApp(events),
		WithRootDir(dir), WithLogger(testLogger()))
	require.NoError(t, err)
	defer func() { _ = h.Cleanup() }()

	before := h.Snapshot()
	assert.Equal(t, "bonjour from echo", get(t, h.Handler(), "/a/hello").Body.String())

	writeAppConfig(t, dir, `{"echo": {"greeting": "hola"}}`)
	log, err := h.Reload(context.Background())
	require.NoError(t, err)
	assert.Contains(t, log, "Initializing echo @ /a")

	assert.Equal(t, "hola from echo", get(t, h.Handler(), "/a/hello").Body.String())
	assert.Equal(t, uint64(2), h.Generation())
	assert.NotSame(t, before, h.Snapshot())
	assert.Equal(t, log, h.InitLog())
}

func TestReloadFailureKeepsStateUntouched(t *testing.T) {
	dir := t.TempDir()
	writeAppConfig(t, dir, `{"echo": {"greeting": "bonjour"}, "flaky": {"tag": "gen1"}}`)
	events := &eventLog{}

	h, err := Run(context.Background(), newRunApp(events),
		WithRootDir(dir), WithLogger(testLogger()))
	require.NoError(t, err)
	defer func() { _ = h.Cleanup() }()

	before := h.Snapshot()

	writeAppConfig(t, dir, `{"echo": {"greeting": "broken"}, "flaky": {"tag": "gen2", "fail": true}}`)
	log, err := h.Reload(context.Background())
	require.Error(t, err)
	assert.Contains(t, log, "Initializing echo @ /a", "failed attempt's log shows progress")

	assert.Same(t, before, h.Snapshot(), "failed reload must not touch the live tree")
	assert.Equal(t, "bonjour from echo", get(t, h.Handler(), "/a/hello").Body.String())
	assert.Equal(t, uint64(1), h.Generation())

	// Only the failed attempt's unload ran; the live tree's is still
	// pending until Cleanup.
	assert.Equal(t, []string{"unload:gen2"}, events.list())

	require.NoError(t, h.Cleanup())
	assert.Equal(t, []string{"unload:gen2", "unload:gen1"}, events.list())
}

func TestPostInitHooks(t *testing.T) {
	dir := t.TempDir()
	events := &eventLog{}

	root := Make[testApp, testApp]("app", "root", nil,
		func(in *Init[testApp, testApp]) (testApp, error) {
			var app testApp

			in.AddPostInitHook(func(*testApp) error {
				events.add("hook:root-early")
				return nil
			})

			uppercase := Make[testApp, echoState]("echo", "uppercased", nil,
				func(cin *Init[testApp, echoState]) (echoState, error) {
					cin.AddPostInitHook(func(st *echoState) error {
						events.add("hook:child")
						st.greeting = strings.ToUpper(st.greeting)
						return nil
					})
					return echoState{greeting: cin.UserConfig().GetString("greeting", "quiet")}, nil
				})
			sn, err := Nest(in, "a", firstFocus, uppercase)
			if err != nil {
				return app, err
			}
			app.First = sn

			in.AddPostInitHookBase(func(root *Snaplet[testApp]) error {
				events.add("hook:base")
				if root.Value.First == nil {
					return errors.New("tree not assembled")
				}
				return nil
			})
			return app, nil
		})

	h, err := Run(context.Background(), root,
		WithRootDir(dir), WithAppConfig(config.Empty()), WithLogger(testLogger()))
	require.NoError(t, err)
	defer func() { _ = h.Cleanup() }()

	assert.Equal(t, []string{"hook:root-early", "hook:child", "hook:base"}, events.list())
	assert.Equal(t, "QUIET", h.Snapshot().Value.First.Value.greeting,
		"hook mutations land in the live tree")
}

func TestPostInitHookFailureAbortsRun(t *testing.T) {
	dir := t.TempDir()
	events := &eventLog{}

	root := Make[testApp, testApp]("app", "root", nil,
		func(in *Init[testApp, testApp]) (testApp, error) {
			in.OnUnload(func() error {
				events.add("unload:root")
				return nil
			})
			in.AddPostInitHook(func(*testApp) error {
				return errors.New("hook rejected the tree")
			})
			return testApp{}, nil
		})

	_, err := Run(context.Background(), root,
		WithRootDir(dir), WithAppConfig(config.Empty()), WithLogger(testLogger()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hook rejected the tree")
	assert.Equal(t, []string{"unload:root"}, events.list())
}

func TestCleanupRunsInRegistrationOrder(t *testing.T) {
	dir := t.TempDir()
	events := &eventLog{}

	root := Make[testApp, testApp]("app", "root", nil,
		func(in *Init[testApp, testApp]) (testApp, error) {
			var app testApp
			in.OnUnload(func() error { events.add("unload:1-root"); return nil })

			child := Make[testApp, echoState]("echo", "child", nil,
				func(cin *Init[testApp, echoState]) (echoState, error) {
					cin.OnUnload(func() error { events.add("unload:2-child"); return nil })
					return echoState{}, nil
				})
			sn, err := Nest(in, "a", firstFocus, child)
			if err != nil {
				return app, err
			}
			app.First = sn

			in.OnUnload(func() error { events.add("unload:3-root"); return nil })
			return app, nil
		})

	h, err := Run(context.Background(), root,
		WithRootDir(dir), WithAppConfig(config.Empty()), WithLogger(testLogger()))
	require.NoError(t, err)

	require.NoError(t, h.Cleanup())
	assert.Equal(t, []string{"unload:1-root", "unload:2-child", "unload:3-root"}, events.list())

	// Cleanup is idempotent.
	require.NoError(t, h.Cleanup())
	assert.Len(t, events.list(), 3)
}

func TestInFlightRequestKeepsItsSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeAppConfig(t, dir, `{"echo": {"greeting": "old"}}`)

	started := make(chan struct{})
	release := make(chan struct{})
	var startOnce sync.Once

	slow := Make[runApp, echoState]("echo", "slow reader", nil,
		func(in *Init[runApp, echoState]) (echoState, error) {
			st := echoState{greeting: in.UserConfig().GetString("greeting", "")}
			in.AddRoutes([]Route[echoState]{
				{Path: "slow", Fn: func(w http.ResponseWriter, _ *http.Request, sn *Snaplet[echoState]) {
					first := sn.Value.greeting
					startOnce.Do(func() { close(started) })
					<-release
					fmt.Fprintf(w, "%s|%s", first, sn.Value.greeting)
				}},
			})
			return st, nil
		})

	root := Make[runApp, runApp]("app", "root", nil,
		func(in *Init[runApp, runApp]) (runApp, error) {
			var app runApp
			sn, err := Nest(in, "a", runEchoFocus, slow)
			if err != nil {
				return app, err
			}
			app.Echo = sn
			return app, nil
		})

	h, err := Run(context.Background(), root, WithRootDir(dir), WithLogger(testLogger()))
	require.NoError(t, err)
	defer func() { _ = h.Cleanup() }()

	type result struct{ body string }
	done := make(chan result, 1)
	go func() {
		rec := get(t, h.Handler(), "/a/slow")
		done <- result{body: rec.Body.String()}
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the handler")
	}

	writeAppConfig(t, dir, `{"echo": {"greeting": "new"}}`)
	_, err = h.Reload(context.Background())
	require.NoError(t, err)

	close(release)
	select {
	case res := <-done:
		assert.Equal(t, "old|old", res.body, "in-flight request must keep its snapshot")
	case <-time.After(5 * time.Second):
		t.Fatal("request never finished")
	}

	assert.Equal(t, "new|new", func() string {
		rec := get(t, h.Handler(), "/a/slow")
		return rec.Body.String()
	}(), "new requests see the new snapshot")
}

func TestReloadsAreSerialized(t *testing.T) {
	dir := t.TempDir()

	var inFlight atomic.Int32
	var maxInFlight atomic.Int32

	root := Make[runApp, runApp]("app", "root", nil,
		func(*Init[runApp, runApp]) (runApp, error) {
			cur := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				prev := maxInFlight.Load()
				if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			return runApp{}, nil
		})

	h, err := Run(context.Background(), root,
		WithRootDir(dir), WithAppConfig(config.Empty()), WithLogger(testLogger()))
	require.NoError(t, err)
	defer func() { _ = h.Cleanup() }()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Reload(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load(), "initialization walks must never overlap")
	assert.Equal(t, uint64(5), h.Generation())
}

func TestReloadDuringFirstRunIsRejected(t *testing.T) {
	dir := t.TempDir()

	var reloadErr error
	root := Make[runApp, runApp]("app", "root", nil,
		func(in *Init[runApp, runApp]) (runApp, error) {
			_, reloadErr = in.Reloader()(context.Background())
			return runApp{}, nil
		})

	_, err := Run(context.Background(), root,
		WithRootDir(dir), WithAppConfig(config.Empty()), WithLogger(testLogger()))
	require.NoError(t, err)

	require.Error(t, reloadErr)
	assert.True(t, errors.Is(reloadErr, errors.ErrNotServing))
}

func TestRunEnvironmentOverlayAndEnvVars(t *testing.T) {
	dir := t.TempDir()
	writeAppConfig(t, dir, `{"echo": {"greeting": "base", "volume": 1}}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.staging.cfg"),
		[]byte(`{"echo": {"greeting": "staged"}}`), 0o644))

	var probe scopeProbe
	root := Make[runApp, runApp]("app", "root", nil,
		func(in *Init[runApp, runApp]) (runApp, error) {
			var app runApp
			sn, err := Nest(in, "a", runEchoFocus, newProbe[runApp](&probe))
			if err != nil {
				return app, err
			}
			app.Echo = sn
			return app, nil
		})

	t.Run("environment overlay", func(t *testing.T) {
		h, err := Run(context.Background(), root,
			WithRootDir(dir), WithEnvironment("staging"), WithLogger(testLogger()))
		require.NoError(t, err)
		defer func() { _ = h.Cleanup() }()

		assert.Equal(t, "staged", probe.greeting)
		assert.Equal(t, 1, probe.volume, "keys absent from the overlay survive")
		assert.Equal(t, "staging", probe.environment)
	})

	t.Run("env vars win", func(t *testing.T) {
		t.Setenv("SNAPRUNTEST_ECHO_GREETING", "env-wins")
		h, err := Run(context.Background(), root,
			WithRootDir(dir), WithEnvironment("staging"), WithEnvPrefix("SNAPRUNTEST"),
			WithLogger(testLogger()))
		require.NoError(t, err)
		defer func() { _ = h.Cleanup() }()

		assert.Equal(t, "env-wins", probe.greeting)
	})
}

func TestRunWithExplicitAppConfig(t *testing.T) {
	cfg := config.New(map[string]any{
		"echo": map[string]any{"greeting": "direct"},
	})

	var probe scopeProbe
	root := Make[runApp, runApp]("app", "root", nil,
		func(in *Init[runApp, runApp]) (runApp, error) {
			var app runApp
			sn, err := Nest(in, "", runEchoFocus, newProbe[runApp](&probe))
			if err != nil {
				return app, err
			}
			app.Echo = sn
			return app, nil
		})

	h, err := Run(context.Background(), root,
		WithRootDir(t.TempDir()), WithAppConfig(cfg), WithLogger(testLogger()))
	require.NoError(t, err)
	defer func() { _ = h.Cleanup() }()

	assert.Equal(t, "direct", probe.greeting)
}

func TestNestWiresChildThroughFocus(t *testing.T) {
	root := Make[runApp, runApp]("app", "forgetful parent", nil,
		func(in *Init[runApp, runApp]) (runApp, error) {
			// Drops the returned Snaplet on purpose.
			if _, err := Nest(in, "a", runEchoFocus, newEcho[runApp]("hi")); err != nil {
				return runApp{}, err
			}
			return runApp{}, nil
		})

	h, err := Run(context.Background(), root,
		WithRootDir(t.TempDir()), WithLogger(testLogger()))
	require.NoError(t, err)
	defer func() { _ = h.Cleanup() }()

	require.NotNil(t, h.Snapshot().Value.Echo, "child must be reachable through the focus")
	rec := get(t, h.Handler(), "/a/hello")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hi from echo", rec.Body.String())
}
