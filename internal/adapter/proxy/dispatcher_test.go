package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/brightloom/waypoint/internal/core/domain"
)

type fakeRegistry struct {
	ports []int
	has   map[int]bool
}

func (f fakeRegistry) SetWorkers(ports []int) {}
func (f fakeRegistry) Ports() []int            { return f.ports }
func (f fakeRegistry) Has(port int) bool       { return f.has[port] }
func (f fakeRegistry) Count() int              { return len(f.ports) }

type fixedHasher struct {
	port int
	ok   bool
}

func (f fixedHasher) ChoosePort(r *http.Request, ports []int) (int, bool) { return f.port, f.ok }

type fixedSession struct {
	port int
	ok   bool
}

func (f fixedSession) ParsePort(r *http.Request) (int, bool) { return f.port, f.ok }

type fixedQuota struct {
	targetPort, randomPort int
	targetOK, randomOK     bool
}

func (f fixedQuota) ChooseTargetPort() (int, bool)                             { return f.targetPort, f.targetOK }
func (f fixedQuota) RandomPort() (int, bool)                                   { return f.randomPort, f.randomOK }
func (f fixedQuota) Rebuild(statuses []domain.WorkerStatus, balancerCount int) {}

func TestResolveTarget_NonSmart_UsesHasher(t *testing.T) {
	d := NewDispatcher(Config{
		Registry:          fakeRegistry{ports: []int{8001, 8002}},
		Hasher:            fixedHasher{port: 8002, ok: true},
		UseSmartBalancing: false,
	})

	target, ok := d.resolveTarget(httptest.NewRequest(http.MethodGet, "/", nil), false)
	if !ok || target.Port != 8002 || target.Host != loopbackHost {
		t.Fatalf("expected {%s 8002}, got %+v ok=%v", loopbackHost, target, ok)
	}
}

func TestResolveTarget_NonSmart_EmptyRegistry_NoTarget(t *testing.T) {
	d := NewDispatcher(Config{
		Registry:          fakeRegistry{},
		Hasher:            fixedHasher{ok: false},
		UseSmartBalancing: false,
	})

	_, ok := d.resolveTarget(httptest.NewRequest(http.MethodGet, "/", nil), false)
	if ok {
		t.Fatal("expected no target when the hasher reports none")
	}
}

func TestResolveTarget_Smart_SessionHit(t *testing.T) {
	d := NewDispatcher(Config{
		Registry:          fakeRegistry{ports: []int{8042}, has: map[int]bool{8042: true}},
		Session:           fixedSession{port: 8042, ok: true},
		Quota:             fixedQuota{},
		UseSmartBalancing: true,
	})

	target, ok := d.resolveTarget(httptest.NewRequest(http.MethodGet, "/", nil), false)
	if !ok || target.Port != 8042 {
		t.Fatalf("expected the session's port 8042, got %+v ok=%v", target, ok)
	}
}

func TestResolveTarget_Smart_SessionMiss_HTTP_UsesQuota(t *testing.T) {
	d := NewDispatcher(Config{
		Registry:          fakeRegistry{ports: []int{8001, 8002}, has: map[int]bool{8001: true, 8002: true}},
		Session:           fixedSession{port: 9999, ok: true}, // not in registry
		Quota:             fixedQuota{targetPort: 8002, targetOK: true, randomPort: 8001, randomOK: true},
		UseSmartBalancing: true,
	})

	target, ok := d.resolveTarget(httptest.NewRequest(http.MethodGet, "/", nil), false)
	if !ok || target.Port != 8002 {
		t.Fatalf("expected HTTP session-miss to use ChooseTargetPort (8002), got %+v ok=%v", target, ok)
	}
}

func TestResolveTarget_Smart_SessionMiss_Upgrade_UsesRandomPort(t *testing.T) {
	d := NewDispatcher(Config{
		Registry:          fakeRegistry{ports: []int{8001, 8002}, has: map[int]bool{8001: true, 8002: true}},
		Session:           fixedSession{port: 9999, ok: true}, // not in registry
		Quota:             fixedQuota{targetPort: 8002, targetOK: true, randomPort: 8001, randomOK: true},
		UseSmartBalancing: true,
	})

	target, ok := d.resolveTarget(httptest.NewRequest(http.MethodGet, "/", nil), true)
	if !ok || target.Port != 8001 {
		t.Fatalf("expected a WebSocket session-miss to use RandomPort (8001), got %+v ok=%v", target, ok)
	}
}

func TestResolveTarget_Smart_NoSession_UsesQuota(t *testing.T) {
	d := NewDispatcher(Config{
		Registry:          fakeRegistry{ports: []int{8001, 8002}},
		Session:           fixedSession{ok: false},
		Quota:             fixedQuota{targetPort: 8001, targetOK: true},
		UseSmartBalancing: true,
	})

	target, ok := d.resolveTarget(httptest.NewRequest(http.MethodGet, "/", nil), false)
	if !ok || target.Port != 8001 {
		t.Fatalf("expected no-session dispatch to use ChooseTargetPort (8001), got %+v ok=%v", target, ok)
	}
}

func TestResolveTarget_Smart_NoSession_Upgrade_UsesQuotaNotRandom(t *testing.T) {
	d := NewDispatcher(Config{
		Registry:          fakeRegistry{ports: []int{8001, 8002}},
		Session:           fixedSession{ok: false},
		Quota:             fixedQuota{targetPort: 8002, targetOK: true, randomPort: 8001, randomOK: true},
		UseSmartBalancing: true,
	})

	target, ok := d.resolveTarget(httptest.NewRequest(http.MethodGet, "/", nil), true)
	if !ok || target.Port != 8002 {
		t.Fatalf("expected a sessionless WebSocket upgrade to use ChooseTargetPort (8002), not RandomPort, got %+v ok=%v", target, ok)
	}
}

func TestWriteProxyError_FormatsExactDiagnosticBody(t *testing.T) {
	d := NewDispatcher(Config{})
	rec := httptest.NewRecorder()

	d.writeProxyError(rec, "boom")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, rec.Code)
	}
	if rec.Header().Get("Content-Type") != "text/html" {
		t.Fatalf("expected Content-Type text/html, got %q", rec.Header().Get("Content-Type"))
	}
	if rec.Body.String() != "Proxy error - boom" {
		t.Fatalf("expected exact diagnostic body, got %q", rec.Body.String())
	}
}
