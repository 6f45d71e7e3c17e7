package middleware

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/brightloom/waypoint/internal/logger"
	"github.com/brightloom/waypoint/internal/util"
)

type requestIDKey struct{}

// RequestIDFromContext returns the request ID stamped by Logging, or "" if
// the request never passed through it.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Logging stamps every request with a correlation ID, logs its arrival and,
// via a deferred hook on the response writer, its completion and duration.
// It never halts the chain.
func Logging(log *logger.StyledLogger, trustProxyHeaders bool, trustedCIDRs []*net.IPNet) func(http.ResponseWriter, *http.Request) bool {
	return func(w http.ResponseWriter, r *http.Request) bool {
		id := util.GenerateRequestID()
		*r = *r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

		clientIP := util.GetClientIP(r, trustProxyHeaders, trustedCIDRs)
		start := time.Now()

		log.Info("request received",
			"requestId", id,
			"method", r.Method,
			"path", r.URL.Path,
			"clientIp", clientIP,
		)

		if rec, ok := w.(*StatusRecorder); ok {
			rec.onComplete = func() {
				log.Info("request completed",
					"requestId", id,
					"status", rec.status,
					"duration", time.Since(start).String(),
				)
			}
		}
		return true
	}
}

// StatusRecorder wraps a ResponseWriter to capture the status code actually
// written, so completion logging can report it. The Dispatcher allocates one
// for every request before running the middleware chain.
type StatusRecorder struct {
	http.ResponseWriter
	status     int
	onComplete func()
}

// NewStatusRecorder wraps w for status-code capture.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (s *StatusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Flush flushes the underlying writer if it supports it. It does not run the
// completion hook; Done does.
func (s *StatusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Done runs the completion callback. The Dispatcher calls this once the
// proxy call has returned.
func (s *StatusRecorder) Done() {
	if s.onComplete != nil {
		s.onComplete()
	}
}

// Status returns the status code written so far (http.StatusOK if none has
// been written yet).
func (s *StatusRecorder) Status() int {
	return s.status
}

// Hijack passes through to the underlying ResponseWriter's Hijacker, so a
// StatusRecorder never blocks the WebSocket upgrade path.
func (s *StatusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	return hijacker.Hijack()
}
