package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/brightloom/waypoint/internal/logger"
	"github.com/brightloom/waypoint/theme"
)

func newTestStyledLogger() *logger.StyledLogger {
	base := slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	return logger.NewStyledLogger(base, theme.GetTheme("default"))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestLogging_StampsRequestIDAndNeverHalts(t *testing.T) {
	mw := Logging(newTestStyledLogger(), false, nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	if ok := mw(w, r); !ok {
		t.Fatal("Logging must never halt the chain")
	}
}

func TestStatusRecorder_CapturesStatus(t *testing.T) {
	w := httptest.NewRecorder()
	rec := NewStatusRecorder(w)

	if rec.Status() != http.StatusOK {
		t.Fatalf("expected default status %d, got %d", http.StatusOK, rec.Status())
	}

	rec.WriteHeader(http.StatusNotFound)
	if rec.Status() != http.StatusNotFound {
		t.Fatalf("expected status %d after WriteHeader, got %d", http.StatusNotFound, rec.Status())
	}
}

func TestStatusRecorder_Done_RunsCompletionCallback(t *testing.T) {
	w := httptest.NewRecorder()
	rec := NewStatusRecorder(w)

	called := false
	rec.onComplete = func() { called = true }
	rec.Done()

	if !called {
		t.Fatal("expected Done to invoke the completion callback")
	}
}

func TestStatusRecorder_Done_NoopWithoutCallback(t *testing.T) {
	rec := NewStatusRecorder(httptest.NewRecorder())
	rec.Done() // must not panic
}
