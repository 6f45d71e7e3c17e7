// Package proxy implements the streaming reverse proxy: a single shared,
// TCP-tuned http.Transport for the HTTP path and a raw hijack-and-copy
// tunnel for the WebSocket upgrade path, following the connection-reuse and
// buffer-pooling design of a hand-rolled reverse proxy built for long-lived
// streaming responses.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brightloom/waypoint/internal/core/domain"
	"github.com/brightloom/waypoint/internal/logger"
	"github.com/brightloom/waypoint/pkg/pool"
)

const (
	DefaultStreamBufferSize = 8 * 1024

	DefaultDialTimeout  = 10 * time.Second
	DefaultKeepAlive    = 60 * time.Second
	DefaultSetNoDelay   = true
	DefaultMaxIdleConns = 20
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
)

// Proxy streams a request through to a resolved domain.Target over a single
// shared, connection-reusing transport.
type Proxy struct {
	transport  *http.Transport
	bufferPool *pool.Pool[*[]byte]
	log        *logger.StyledLogger
}

// New builds a Proxy with TCP tuning appropriate for many small, possibly
// long-lived connections to loopback workers.
func New(log *logger.StyledLogger) *Proxy {
	bufferPool := pool.NewLitePool(func() *[]byte {
		buf := make([]byte, DefaultStreamBufferSize)
		return &buf
	})

	transport := &http.Transport{
		MaxIdleConns:        DefaultMaxIdleConns,
		IdleConnTimeout:     DefaultIdleConnTimeout,
		TLSHandshakeTimeout: DefaultTLSHandshakeTimeout,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: DefaultDialTimeout, KeepAlive: DefaultKeepAlive}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				if terr := tcpConn.SetNoDelay(DefaultSetNoDelay); terr != nil {
					log.Warn("failed to set NoDelay", "err", terr)
				}
			}
			return conn, nil
		},
	}

	return &Proxy{transport: transport, bufferPool: bufferPool, log: log}
}

// ServeHTTP forwards r to target and streams the response back to w. It
// returns an error classified per the spec's taxonomy: a nil error means
// success; a non-nil error before any bytes were written to w means the
// caller should emit the 500 diagnostic page; after that point the
// connection is simply closed.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request, target domain.Target, requestID string) error {
	targetURL := fmt.Sprintf("http://%s:%d%s", target.Host, target.Port, r.URL.Path)
	if r.URL.RawQuery != "" {
		targetURL += "?" + r.URL.RawQuery
	}

	start := time.Now()

	proxyReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, r.Body)
	if err != nil {
		return domain.NewProxyError(requestID, targetURL, r.Method, r.URL.Path, time.Since(start), err)
	}
	copyHeaders(proxyReq, r)
	appendForwardedHeaders(proxyReq, r)

	resp, err := p.transport.RoundTrip(proxyReq)
	if err != nil {
		return domain.NewProxyError(requestID, targetURL, r.Method, r.URL.Path, time.Since(start), err)
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	buffer := p.bufferPool.Get()
	defer p.bufferPool.Put(buffer)

	if _, err := io.CopyBuffer(flushWriter{w}, resp.Body, *buffer); err != nil && !isBenignTransportError(err) {
		// Headers are already sent; the caller must treat this as a silent
		// close, not a diagnostic response.
		return domain.NewProxyError(requestID, targetURL, r.Method, r.URL.Path, time.Since(start), err)
	}
	return nil
}

// flushWriter flushes after every write when the underlying writer supports
// it, so streamed chunks reach the client without buffering delay.
type flushWriter struct {
	w http.ResponseWriter
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if f, ok := fw.w.(http.Flusher); ok {
		f.Flush()
	}
	return n, err
}

func copyHeaders(dst *http.Request, src *http.Request) {
	for key, values := range src.Header {
		for _, v := range values {
			dst.Header.Add(key, v)
		}
	}
}

// appendForwardedHeaders adds the standard forwarded-for chain the HTTP path
// is required to append, independent of whether the balancer itself trusts
// any inbound forwarded headers for its own routing decisions.
func appendForwardedHeaders(proxyReq *http.Request, r *http.Request) {
	clientIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		clientIP = host
	}
	if prior := proxyReq.Header.Get("X-Forwarded-For"); prior != "" {
		proxyReq.Header.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		proxyReq.Header.Set("X-Forwarded-For", clientIP)
	}
	if proxyReq.Header.Get("X-Real-IP") == "" {
		proxyReq.Header.Set("X-Real-IP", clientIP)
	}
	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}
	proxyReq.Header.Set("X-Forwarded-Proto", proto)
	proxyReq.Header.Set("X-Forwarded-Host", r.Host)
}

// isBenignTransportError filters the handful of transport errors that are
// expected whenever a client disconnects mid-stream; these must never reach
// the error sink.
func isBenignTransportError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "read ECONNRESET") ||
		strings.Contains(msg, "socket hang up") ||
		strings.Contains(msg, "connection reset by peer") ||
		errors.Is(err, context.Canceled)
}

// ServeWebSocket hijacks the client connection and tunnels it to target over
// a raw TCP connection, forwarding the original upgrade request first.
func (p *Proxy) ServeWebSocket(w http.ResponseWriter, r *http.Request, target domain.Target) error {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		return errors.New("response writer does not support hijacking")
	}

	addr := net.JoinHostPort(target.Host, strconv.Itoa(target.Port))
	backend, err := net.DialTimeout("tcp", addr, DefaultDialTimeout)
	if err != nil {
		return err
	}
	defer backend.Close()

	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		return err
	}
	defer clientConn.Close()

	if err := r.Write(backend); err != nil {
		return err
	}

	done := make(chan struct{}, 2)
	pipe := func(dst io.Writer, src io.Reader) {
		io.Copy(dst, src) //nolint:errcheck
		done <- struct{}{}
	}
	go pipe(backend, clientConn)
	go pipe(clientConn, backend)
	<-done

	return nil
}
