package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/marben/dist_fractal/render"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestWebServerRoutes(t *testing.T) {
	cfg := defaultServerConfig()
	srv := httptest.NewServer(newWebServer(cfg, render.Renderer{}, zaptest.NewLogger(t)))
	defer srv.Close()

	code, body := get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, body = get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "fractal_worker_connections")

	code, _ = get(t, srv.URL+"/ws")
	assert.NotEqual(t, http.StatusOK, code, "plain GET is not a websocket upgrade")
}

func TestLoadServerConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker:\n  addr: \":9000\"\n  queue_size: 2\nmetrics_addr: \":9100\"\n"), 0o644))

	cfg, err := loadServerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Worker.Addr)
	assert.Equal(t, "/ws", cfg.Worker.Path)
	assert.Equal(t, 2, cfg.Worker.QueueSize)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
	assert.Equal(t, "/metrics", cfg.MetricsPath)

	_, err = loadServerConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
