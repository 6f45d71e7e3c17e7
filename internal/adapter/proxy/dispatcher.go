package proxy

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/brightloom/waypoint/internal/adapter/middleware"
	"github.com/brightloom/waypoint/internal/core/domain"
	"github.com/brightloom/waypoint/internal/core/ports"
	"github.com/brightloom/waypoint/internal/logger"
)

const loopbackHost = "127.0.0.1"

// Dispatcher is the per-request orchestrator: it runs the configured
// middleware chain, resolves a target per the active balancing strategy,
// and hands off to the streaming proxy.
type Dispatcher struct {
	requestChain *middleware.Chain
	upgradeChain *middleware.Chain

	registry ports.WorkerRegistry
	hasher   ports.IPHasher
	session  ports.SessionParser
	quota    ports.QuotaSelector

	useSmartBalancing bool

	proxy   *Proxy
	log     *logger.StyledLogger
	errSink ports.ErrorSink
}

// Config bundles the Dispatcher's collaborators.
type Config struct {
	Registry          ports.WorkerRegistry
	Hasher            ports.IPHasher
	Session           ports.SessionParser
	Quota             ports.QuotaSelector
	UseSmartBalancing bool
	Proxy             *Proxy
	Log               *logger.StyledLogger
	ErrSink           ports.ErrorSink
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	return &Dispatcher{
		requestChain:      middleware.NewChain(),
		upgradeChain:      middleware.NewChain(),
		registry:          cfg.Registry,
		hasher:            cfg.Hasher,
		session:           cfg.Session,
		quota:             cfg.Quota,
		useSmartBalancing: cfg.UseSmartBalancing,
		proxy:             cfg.Proxy,
		log:               cfg.Log,
		errSink:           cfg.ErrSink,
	}
}

// AddMiddleware registers a handler on the named phase's chain. Order is
// preserved: handlers run in the order they were added.
func (d *Dispatcher) AddMiddleware(phase middleware.Phase, h ports.MiddlewareHandler) {
	switch phase {
	case middleware.PhaseRequest:
		d.requestChain.Use(h)
	case middleware.PhaseUpgrade:
		d.upgradeChain.Use(h)
	}
}

// ServeHTTP is the Listener's single entry point for both ordinary requests
// and upgrade handshakes.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	isUpgrade := websocket.IsWebSocketUpgrade(r)

	rec := middleware.NewStatusRecorder(w)

	var chain *middleware.Chain
	if isUpgrade {
		chain = d.upgradeChain
	} else {
		chain = d.requestChain
	}
	if !chain.Run(rec, r) {
		return // middleware halted the chain; it owns any response/error reporting
	}

	target, ok := d.resolveTarget(r, isUpgrade)
	if !ok {
		d.writeProxyError(rec, "no worker available")
		return
	}

	requestID := middleware.RequestIDFromContext(r.Context())

	var err error
	if isUpgrade {
		err = d.proxy.ServeWebSocket(rec, r, target)
	} else {
		err = d.proxy.ServeHTTP(rec, r, target, requestID)
	}
	rec.Done()

	if err == nil {
		return
	}
	if isBenignTransportError(err) {
		return
	}
	// Headers may already have been written by the time the proxy returns an
	// error (e.g. a mid-stream copy failure); in that case the connection is
	// simply closed rather than double-writing a response.
	if rec.Status() == http.StatusOK {
		d.writeProxyError(rec, err.Error())
	}
	if d.errSink != nil {
		d.errSink(err)
	}
}

// resolveTarget implements spec's dispatch decision tree: smart mode tries
// the session parser first. A session naming an unregistered port falls back
// to the quota selector for HTTP or uniform random for WebSocket upgrades
// (the single documented asymmetry); no session at all always falls back to
// the quota selector, HTTP or WS alike. Non-smart mode always uses the IP
// hasher.
func (d *Dispatcher) resolveTarget(r *http.Request, isUpgrade bool) (domain.Target, bool) {
	if !d.useSmartBalancing {
		port, ok := d.hasher.ChoosePort(r, d.registry.Ports())
		if !ok {
			return domain.Target{}, false
		}
		return domain.Target{Host: loopbackHost, Port: port}, true
	}

	sessionPort, hasSession := d.session.ParsePort(r)
	if hasSession && d.registry.Has(sessionPort) {
		return domain.Target{Host: loopbackHost, Port: sessionPort}, true
	}

	var port int
	var ok bool
	if hasSession && isUpgrade {
		port, ok = d.quota.RandomPort()
	} else {
		port, ok = d.quota.ChooseTargetPort()
	}
	if !ok {
		return domain.Target{}, false
	}
	return domain.Target{Host: loopbackHost, Port: port}, true
}

func (d *Dispatcher) writeProxyError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusInternalServerError)
	fmt.Fprintf(w, "Proxy error - %s", message)
}
