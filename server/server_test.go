package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/uffizio/snap/errors"
	"github.com/uffizio/snap/health"
	"github.com/uffizio/snap/metric"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSite struct {
	handler    http.Handler
	reloadErr  error
	reloads    atomic.Int32
	generation atomic.Uint64
	cleaned    atomic.Bool
}

func newFakeSite() *fakeSite {
	f := &fakeSite{}
	f.generation.Store(1)
	f.handler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "site body")
	})
	return f
}

func (f *fakeSite) Handler() http.Handler { return f.handler }

func (f *fakeSite) Reload(context.Context) (string, error) {
	f.reloads.Add(1)
	if f.reloadErr != nil {
		return "Initializing app @ /", f.reloadErr
	}
	f.generation.Add(1)
	return "Initializing app @ /", nil
}

func (f *fakeSite) Generation() uint64 { return f.generation.Load() }
func (f *fakeSite) InitLog() string    { return "Initializing app @ /" }

func (f *fakeSite) Cleanup() error {
	f.cleaned.Store(true)
	return nil
}

func defaultOptions() options {
	return options{
		addr:            ":8000",
		logger:          testLogger(),
		shutdownTimeout: time.Second,
		metricsPath:     "/metrics",
		debounce:        20 * time.Millisecond,
	}
}

func TestMuxServesSite(t *testing.T) {
	site := newFakeSite()
	o := defaultOptions()
	mux := buildMux(site, &o, health.NewMonitor(), time.Now())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/anything", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "site body", rec.Body.String())
}

func TestHealthEndpoint(t *testing.T) {
	site := newFakeSite()
	o := defaultOptions()
	o.healthPath = "/healthz"
	monitor := health.NewMonitor()
	monitor.Update("tree", health.NewHealthy("tree", "serving"))
	mux := buildMux(site, &o, monitor, time.Now())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status health.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	require.NotNil(t, status.Metrics)
	assert.Equal(t, uint64(1), status.Metrics.Generation)

	monitor.Update("reload", health.NewUnhealthy("reload", "bad config"))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestReloadEndpoint(t *testing.T) {
	site := newFakeSite()
	o := defaultOptions()
	o.reloadPath = "/admin/reload"
	monitor := health.NewMonitor()
	mux := buildMux(site, &o, monitor, time.Now())

	t.Run("rejects GET", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/reload", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, int32(0), site.reloads.Load())
	})

	t.Run("rejects non-loopback", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/admin/reload", nil)
		req.RemoteAddr = "192.0.2.1:4711"
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, int32(0), site.reloads.Load())
	})

	t.Run("loopback succeeds", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/admin/reload", nil)
		req.RemoteAddr = "127.0.0.1:4711"
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, true, body["ok"])
		assert.Equal(t, float64(2), body["generation"])
		assert.Contains(t, body["log"], "Initializing")

		got, ok := monitor.Get("reload")
		require.True(t, ok)
		assert.True(t, got.IsHealthy())
	})

	t.Run("failure reports log and marks health", func(t *testing.T) {
		site.reloadErr = errors.New("component exploded")
		req := httptest.NewRequest(http.MethodPost, "/admin/reload", nil)
		req.RemoteAddr = "127.0.0.1:4711"
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		require.Equal(t, http.StatusInternalServerError, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, false, body["ok"])
		assert.Contains(t, body["error"], "component exploded")

		got, ok := monitor.Get("reload")
		require.True(t, ok)
		assert.True(t, got.IsUnhealthy())
	})
}

func TestRateLimit(t *testing.T) {
	site := newFakeSite()
	o := defaultOptions()
	o.rateLimit = rate.Limit(1)
	o.rateBurst = 1
	o.healthPath = "/healthz"
	mux := buildMux(site, &o, health.NewMonitor(), time.Now())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/page", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/page", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Admin endpoints bypass the limiter.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsMiddlewareAndEndpoint(t *testing.T) {
	site := newFakeSite()
	m := metric.New()
	o := defaultOptions()
	o.metrics = m
	mux := buildMux(site, &o, health.NewMonitor(), time.Now())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/page", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "snap_http_requests_total")
}

func TestIsLoopback(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:1234", true},
		{"[::1]:1234", true},
		{"192.0.2.1:1234", false},
		{"10.0.0.1:80", false},
		{"not-an-addr", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isLoopback(tt.addr), "isLoopback(%q)", tt.addr)
	}
}

func TestServeShutsDownGracefully(t *testing.T) {
	site := newFakeSite()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, site, WithAddr("127.0.0.1:0"), WithLogger(testLogger()))
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
	assert.True(t, site.cleaned.Load(), "Serve must run the site's teardown")
}
