// Package app wires the adapter packages into a running balancer process:
// the worker registry, selection strategies, status poller, middleware
// chains and the HTTP(S) listener that serves both ordinary requests and
// WebSocket upgrades through a single Dispatcher.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/pterm/pterm"

	"github.com/brightloom/waypoint/internal/adapter/hash"
	"github.com/brightloom/waypoint/internal/adapter/middleware"
	"github.com/brightloom/waypoint/internal/adapter/poller"
	"github.com/brightloom/waypoint/internal/adapter/proxy"
	"github.com/brightloom/waypoint/internal/adapter/quota"
	"github.com/brightloom/waypoint/internal/adapter/registry"
	"github.com/brightloom/waypoint/internal/adapter/session"
	"github.com/brightloom/waypoint/internal/config"
	"github.com/brightloom/waypoint/internal/core/ports"
	"github.com/brightloom/waypoint/internal/logger"
	"github.com/brightloom/waypoint/internal/util"
)

// Balancer owns the full set of collaborators and the listening server.
type Balancer struct {
	cfg *config.Config
	log *logger.StyledLogger

	registry   *registry.Registry
	poller     *poller.Poller
	dispatcher *proxy.Dispatcher
	rateLimit  *middleware.RateLimiter

	server *http.Server
	errCh  chan error
}

// New builds a Balancer from cfg. The registry, selectors and poller are all
// constructed here, the logging (and, when configured, rate-limit)
// middleware is registered, and the configured workers are set.
// AddMiddleware and SetWorkers remain available to callers before Start.
func New(cfg *config.Config, log *logger.StyledLogger) (*Balancer, error) {
	trustedCIDRs, err := util.ParseTrustedCIDRs(cfg.Security.TrustedCIDRs)
	if err != nil {
		return nil, fmt.Errorf("parsing trustedCIDRs: %w", err)
	}

	reg := registry.New()
	quotaSelector := quota.New()
	sessionParser := session.New()
	ipHasher := hash.New()
	streamingProxy := proxy.New(log)

	errCh := make(chan error, 8)
	errSink := func(err error) {
		select {
		case errCh <- err:
		default:
			log.Warn("error sink full, dropping error", "error", err.Error())
		}
	}

	b := &Balancer{
		cfg:     cfg,
		log:     log,
		registry: reg,
		errCh:   errCh,
	}

	b.dispatcher = proxy.NewDispatcher(proxy.Config{
		Registry:          reg,
		Hasher:            ipHasher,
		Session:           sessionParser,
		Quota:             quotaSelector,
		UseSmartBalancing: cfg.UseSmartBalancing,
		Proxy:             streamingProxy,
		Log:               log,
		ErrSink:           ports.ErrorSink(errSink),
	})

	b.poller = poller.New(reg, quotaSelector, log, errSink, poller.Config{
		Interval:      cfg.StatusCheckInterval,
		CheckTimeout:  cfg.CheckStatusTimeout,
		StatusURL:     cfg.StatusURL,
		DataKey:       cfg.DataKey,
		BalancerCount: cfg.BalancerCount,
	})

	b.dispatcher.AddMiddleware(middleware.PhaseRequest, middleware.Logging(log, cfg.Security.TrustProxyHeaders, trustedCIDRs))
	b.dispatcher.AddMiddleware(middleware.PhaseUpgrade, middleware.Logging(log, cfg.Security.TrustProxyHeaders, trustedCIDRs))

	if cfg.Security.RateLimit.PerIPRequestsPerSecond > 0 || cfg.Security.RateLimit.GlobalRequestsPerSecond > 0 {
		b.rateLimit = middleware.NewRateLimiter(
			cfg.Security.RateLimit.GlobalRequestsPerSecond,
			cfg.Security.RateLimit.PerIPRequestsPerSecond,
			cfg.Security.RateLimit.Burst,
			cfg.Security.TrustProxyHeaders,
			trustedCIDRs,
		)
		b.dispatcher.AddMiddleware(middleware.PhaseRequest, b.rateLimit.Handler())
	}

	workerPorts := make([]int, 0, len(cfg.Workers))
	for _, w := range cfg.Workers {
		workerPorts = append(workerPorts, w.Port)
	}
	b.SetWorkers(workerPorts)

	return b, nil
}

// AddMiddleware exposes the Dispatcher's chain registration to callers of
// the Balancer.
func (b *Balancer) AddMiddleware(phase middleware.Phase, h ports.MiddlewareHandler) {
	b.dispatcher.AddMiddleware(phase, h)
}

// SetWorkers bulk-replaces the registered worker ports and logs a refreshed
// startup table.
func (b *Balancer) SetWorkers(workerPorts []int) {
	b.registry.SetWorkers(workerPorts)
	b.logWorkerTable(workerPorts)
}

// Errors returns the channel errors reported to the internal error sink are
// delivered on, for a caller that wants to log or react to them.
func (b *Balancer) Errors() <-chan error {
	return b.errCh
}

// Start begins serving on the configured protocol/port and starts the
// status poller. It returns once the listener goroutine has been launched;
// async failures surface on Errors().
func (b *Balancer) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", b.cfg.SourcePort)
	b.server = &http.Server{
		Addr:    addr,
		Handler: b.dispatcher,
	}

	b.poller.Start(ctx)

	go func() {
		var err error
		if b.cfg.Protocol == "https" {
			err = b.server.ListenAndServeTLS(b.cfg.ProtocolOptions.CertFile, b.cfg.ProtocolOptions.KeyFile)
		} else {
			err = b.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case b.errCh <- err:
			default:
			}
		}
	}()

	b.log.Info("balancer listening", "protocol", b.cfg.Protocol, "port", b.cfg.SourcePort, "smartBalancing", b.cfg.UseSmartBalancing)
	return nil
}

// Stop drains in-flight connections up to shutdownTimeout, then stops the
// poller and the rate limiter's cleanup goroutine.
func (b *Balancer) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, b.cfg.ShutdownTimeout)
	defer cancel()

	var shutdownErr error
	if b.server != nil {
		shutdownErr = b.server.Shutdown(shutdownCtx)
	}

	b.poller.Stop()
	if b.rateLimit != nil {
		b.rateLimit.Stop()
	}

	if shutdownErr != nil {
		return fmt.Errorf("listener shutdown: %w", shutdownErr)
	}
	return nil
}

func (b *Balancer) logWorkerTable(workerPorts []int) {
	if len(workerPorts) == 0 {
		return
	}
	sorted := make([]int, len(workerPorts))
	copy(sorted, workerPorts)
	sort.Ints(sorted)

	tableData := [][]string{{"WORKER", "HOST"}}
	for _, p := range sorted {
		tableData = append(tableData, []string{fmt.Sprintf(":%d", p), b.cfg.Host})
	}

	b.log.Info("registered workers", "count", len(sorted))
	tableString, _ := pterm.DefaultTable.WithHasHeader().WithData(tableData).Srender()
	fmt.Print(tableString)
}
