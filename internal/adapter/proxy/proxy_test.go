package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/brightloom/waypoint/internal/core/domain"
	"github.com/brightloom/waypoint/internal/logger"
	"github.com/brightloom/waypoint/theme"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLog() *logger.StyledLogger {
	base := slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	return logger.NewStyledLogger(base, theme.GetTheme("default"))
}

func backendPort(t *testing.T, srv *httptest.Server) int {
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

func TestServeHTTP_StreamsResponseAndHeaders(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Worker", "8001")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, "hello from backend")
	}))
	defer backend.Close()

	p := New(testLog())
	target := domain.Target{Host: "127.0.0.1", Port: backendPort(t, backend)}

	req := httptest.NewRequest(http.MethodGet, "/anything?q=1", nil)
	rec := httptest.NewRecorder()

	if err := p.ServeHTTP(rec, req, target, "req-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, rec.Code)
	}
	if rec.Header().Get("X-Worker") != "8001" {
		t.Fatal("expected backend response header to be forwarded")
	}
	if rec.Body.String() != "hello from backend" {
		t.Fatalf("expected body to be streamed through, got %q", rec.Body.String())
	}
}

func TestServeHTTP_UnreachableTarget_ReturnsProxyError(t *testing.T) {
	p := New(testLog())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close() // nothing listening now

	target := domain.Target{Host: "127.0.0.1", Port: port}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	err = p.ServeHTTP(rec, req, target, "req-2")
	if err == nil {
		t.Fatal("expected an error dialing an unreachable backend")
	}
	var proxyErr *domain.ProxyError
	if !errors.As(err, &proxyErr) {
		t.Fatalf("expected a *domain.ProxyError, got %T: %v", err, err)
	}
}

func TestAppendForwardedHeaders(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.5:1234"

	proxyReq, _ := http.NewRequest(http.MethodGet, "http://example/", nil)
	appendForwardedHeaders(proxyReq, r)

	if proxyReq.Header.Get("X-Forwarded-For") != "10.0.0.5" {
		t.Fatalf("expected X-Forwarded-For 10.0.0.5, got %q", proxyReq.Header.Get("X-Forwarded-For"))
	}
	if proxyReq.Header.Get("X-Real-IP") != "10.0.0.5" {
		t.Fatalf("expected X-Real-IP 10.0.0.5, got %q", proxyReq.Header.Get("X-Real-IP"))
	}
	if proxyReq.Header.Get("X-Forwarded-Proto") != "http" {
		t.Fatalf("expected X-Forwarded-Proto http, got %q", proxyReq.Header.Get("X-Forwarded-Proto"))
	}
}

func TestAppendForwardedHeaders_AppendsToExistingXFF(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.5:1234"

	proxyReq, _ := http.NewRequest(http.MethodGet, "http://example/", nil)
	proxyReq.Header.Set("X-Forwarded-For", "203.0.113.1")
	appendForwardedHeaders(proxyReq, r)

	want := "203.0.113.1, 10.0.0.5"
	if proxyReq.Header.Get("X-Forwarded-For") != want {
		t.Fatalf("expected chained X-Forwarded-For %q, got %q", want, proxyReq.Header.Get("X-Forwarded-For"))
	}
}

func TestIsBenignTransportError(t *testing.T) {
	cases := []struct {
		err    error
		benign bool
	}{
		{errors.New("read ECONNRESET"), true},
		{errors.New("socket hang up"), true},
		{errors.New("connection reset by peer"), true},
		{context.Canceled, true},
		{errors.New("some other failure"), false},
		{nil, false},
	}
	for _, c := range cases {
		if got := isBenignTransportError(c.err); got != c.benign {
			t.Errorf("isBenignTransportError(%v) = %v, want %v", c.err, got, c.benign)
		}
	}
}
