package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "facesynth_test_steps_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)
	return reg
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	return cfg
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":9091", cfg.Addr)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
}

func TestHandler(t *testing.T) {
	h := handler(testRegistry(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "facesynth_test_steps_total 3")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestManager_StartAndShutdown(t *testing.T) {
	m := NewManager(testRegistry(t), testConfig(), zap.NewNop())

	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	addr := m.ListenAddr()
	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "facesynth_test_steps_total")

	require.NoError(t, m.Shutdown(context.Background()))
	_, err = http.Get("http://" + addr + "/metrics")
	assert.Error(t, err)
}

func TestManager_DoubleStart(t *testing.T) {
	m := NewManager(nil, testConfig(), nil)
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	assert.Error(t, m.Start())
}

func TestManager_ShutdownIdempotent(t *testing.T) {
	m := NewManager(nil, testConfig(), zap.NewNop())
	require.NoError(t, m.Start())

	assert.NoError(t, m.Shutdown(context.Background()))
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_StartAfterShutdown(t *testing.T) {
	m := NewManager(nil, testConfig(), zap.NewNop())
	require.NoError(t, m.Shutdown(context.Background()))

	assert.Error(t, m.Start())
}

func TestManager_ListenAddrBeforeStart(t *testing.T) {
	m := NewManager(nil, testConfig(), zap.NewNop())
	assert.Equal(t, "127.0.0.1:0", m.ListenAddr())
	assert.NotNil(t, m.Errors())
}

func TestManager_ServeFailureReported(t *testing.T) {
	m := NewManager(nil, testConfig(), zap.NewNop())
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	// 绕过 Shutdown 直接关闭监听，Serve 以非 ErrServerClosed 退出
	m.mu.RLock()
	require.NoError(t, m.listener.Close())
	m.mu.RUnlock()

	select {
	case err := <-m.Errors():
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve failure was not reported")
	}
}

func TestManager_ShutdownReportsNothing(t *testing.T) {
	m := NewManager(nil, testConfig(), zap.NewNop())
	require.NoError(t, m.Start())
	require.NoError(t, m.Shutdown(context.Background()))

	select {
	case err := <-m.Errors():
		t.Fatalf("unexpected error after shutdown: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}
