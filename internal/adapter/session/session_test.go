package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func newRequestWithQuery(t *testing.T, rawQuery string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/?"+rawQuery, nil)
	return req
}

func TestParsePort_QueryStringHit(t *testing.T) {
	req := newRequestWithQuery(t, "sid=abc_8042_x_rest")

	port, ok := New().ParsePort(req)
	if !ok || port != 8042 {
		t.Fatalf("expected port 8042, got %d, ok=%v", port, ok)
	}
}

func TestParsePort_SsidVariant(t *testing.T) {
	req := newRequestWithQuery(t, "ssid=abc_9001_x_rest")

	port, ok := New().ParsePort(req)
	if !ok || port != 9001 {
		t.Fatalf("expected port 9001, got %d, ok=%v", port, ok)
	}
}

func TestParsePort_FallsBackToCookieHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Cookie", "other=1; sid=abc_7777_x_rest")

	port, ok := New().ParsePort(req)
	if !ok || port != 7777 {
		t.Fatalf("expected port 7777 from Cookie header, got %d, ok=%v", port, ok)
	}
}

func TestParsePort_NoSessionAtAll(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, ok := New().ParsePort(req)
	if ok {
		t.Fatal("expected no session to yield none")
	}
}

func TestParsePort_MissingThirdUnderscore_YieldsNone(t *testing.T) {
	req := newRequestWithQuery(t, "sid=abc_8042")

	_, ok := New().ParsePort(req)
	if ok {
		t.Fatal("expected a session value without three underscore-separated tokens to yield none")
	}
}

func TestParsePort_ZeroPort_YieldsNone(t *testing.T) {
	req := newRequestWithQuery(t, "sid=abc_0_x_rest")

	_, ok := New().ParsePort(req)
	if ok {
		t.Fatal("expected a zero port to be treated as absent")
	}
}

func TestParsePort_NonIntegerPort_YieldsNone(t *testing.T) {
	req := newRequestWithQuery(t, "sid=abc_notanumber_x_rest")

	_, ok := New().ParsePort(req)
	if ok {
		t.Fatal("expected a non-integer second token to yield none")
	}
}

func TestParsePort_NegativePort_YieldsNone(t *testing.T) {
	req := newRequestWithQuery(t, "sid=abc_-5_x_rest")

	_, ok := New().ParsePort(req)
	if ok {
		t.Fatal("expected a negative port to be treated as absent")
	}
}
