package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/vox-studio/voxserve/internal/config"
)

var metricsSeq atomic.Int64

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.MetricsNamespace = fmt.Sprintf("voxserve_app_test_%d", metricsSeq.Add(1))
	cfg.Engine.Provider = "mock"
	cfg.Engine.SampleRate = 16000
	cfg.Storage.VoicesDir = t.TempDir()
	cfg.Storage.OutputsDir = t.TempDir()
	cfg.Storage.TempDir = t.TempDir()
	return cfg
}

func TestBuildWiresMockStack(t *testing.T) {
	cfg := testConfig(t)

	res, err := Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = res.Cleanup() })

	if res.Broker.EngineName() != "mock" {
		t.Fatalf("engine = %q, want mock", res.Broker.EngineName())
	}

	ts := httptest.NewServer(res.API.Router())
	t.Cleanup(ts.Close)
	hres, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer hres.Body.Close()
	if hres.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", hres.StatusCode)
	}
}

func TestBuildRejectsUnusableVoicesDir(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker file: %v", err)
	}
	cfg.Storage.VoicesDir = filepath.Join(blocker, "voices")

	if _, err := Build(context.Background(), cfg, nil); err == nil {
		t.Fatal("Build accepted a voices dir under a regular file")
	}
}
