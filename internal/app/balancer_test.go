package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/brightloom/waypoint/internal/config"
	"github.com/brightloom/waypoint/internal/logger"
	"github.com/brightloom/waypoint/theme"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testStyledLogger() *logger.StyledLogger {
	base := slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	return logger.NewStyledLogger(base, theme.GetTheme("default"))
}

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	return port
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestNew_BuildsBalancerFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.UseSmartBalancing = false
	cfg.Workers = []config.WorkerConfig{{Port: 9001}}
	cfg.Logging.PrettyLogs = false

	bal, err := New(cfg, testStyledLogger())
	if err != nil {
		t.Fatalf("unexpected error building balancer: %v", err)
	}
	if bal.registry.Count() != 1 || !bal.registry.Has(9001) {
		t.Fatal("expected the configured worker to be registered")
	}
}

func TestBalancer_EndToEnd_NonSmartDispatch(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "backend-ok")
	}))
	defer backend.Close()

	cfg := config.DefaultConfig()
	cfg.UseSmartBalancing = false
	cfg.Workers = []config.WorkerConfig{{Port: serverPort(t, backend)}}
	cfg.SourcePort = freePort(t)
	cfg.Logging.PrettyLogs = false
	cfg.ShutdownTimeout = 2 * time.Second

	bal, err := New(cfg, testStyledLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := bal.Start(ctx); err != nil {
		t.Fatalf("unexpected error starting balancer: %v", err)
	}
	defer bal.Stop(context.Background())

	// Give the listener goroutine a moment to bind.
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/anything", cfg.SourcePort))
	if err != nil {
		t.Fatalf("request to balancer failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "backend-ok" {
		t.Fatalf("expected the request to be proxied to the single registered worker, got %q", string(body))
	}
}

func TestBalancer_Errors_EmptyBeforeStart(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.UseSmartBalancing = false
	cfg.Logging.PrettyLogs = false

	bal, err := New(cfg, testStyledLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-bal.Errors():
		t.Fatal("expected no errors on a freshly constructed, unstarted balancer")
	default:
	}
}
