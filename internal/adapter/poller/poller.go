// Package poller implements the Status Poller: a fixed-interval task that
// probes every registered worker's status endpoint in parallel, stores the
// result, and rebuilds the quota table the Quota Selector drains from.
package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/brightloom/waypoint/internal/core/domain"
	"github.com/brightloom/waypoint/internal/logger"
	"github.com/brightloom/waypoint/internal/util"
)

// Registry is the subset of the worker registry the poller needs: the
// current list of ports to probe.
type Registry interface {
	Ports() []int
}

// QuotaRebuilder is the subset of the quota selector the poller drives.
type QuotaRebuilder interface {
	Rebuild(statuses []domain.WorkerStatus, balancerCount int)
}

// Poller runs the periodic status-probe cycle.
type Poller struct {
	registry      Registry
	quota         QuotaRebuilder
	log           *logger.StyledLogger
	errSink       func(error)
	client        *http.Client
	interval      time.Duration
	checkTimeout  time.Duration
	statusURL     string
	dataKey       string
	balancerCount int

	statuses *xsync.Map[int, domain.WorkerStatus]

	cancel context.CancelFunc
	done   chan struct{}
}

// Config carries the poller's tunables, matching spec.md §6's keys.
type Config struct {
	Interval      time.Duration
	CheckTimeout  time.Duration
	StatusURL     string
	DataKey       string
	BalancerCount int
}

// New builds a Poller. errSink receives non-fatal per-cycle aggregate
// failures for logging/telemetry; individual worker failures never abort a
// cycle.
func New(registry Registry, quota QuotaRebuilder, log *logger.StyledLogger, errSink func(error), cfg Config) *Poller {
	return &Poller{
		registry:      registry,
		quota:         quota,
		log:           log,
		errSink:       errSink,
		client:        &http.Client{Timeout: cfg.CheckTimeout},
		interval:      cfg.Interval,
		checkTimeout:  cfg.CheckTimeout,
		statusURL:     cfg.StatusURL,
		dataKey:       cfg.DataKey,
		balancerCount: cfg.BalancerCount,
		statuses:      xsync.NewMap[int, domain.WorkerStatus](),
	}
}

// Start runs the poll loop in a background goroutine until Stop is called
// or ctx is cancelled. The first cycle runs immediately.
func (p *Poller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		p.runCycle(ctx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.runCycle(ctx)
			}
		}
	}()
}

// Stop halts the poll loop and waits for the in-flight cycle to finish.
func (p *Poller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// Statuses returns a snapshot of the most recently observed worker statuses.
func (p *Poller) Statuses() []domain.WorkerStatus {
	out := make([]domain.WorkerStatus, 0)
	p.statuses.Range(func(port int, st domain.WorkerStatus) bool {
		out = append(out, st)
		return true
	})
	return out
}

// pruneStale evicts any stored status for a port no longer present in the
// registry, so a worker removed via SetWorkers stops contributing quota
// entries the moment the next poll cycle runs.
func (p *Poller) pruneStale(currentPorts []int) {
	live := make(map[int]struct{}, len(currentPorts))
	for _, port := range currentPorts {
		live[port] = struct{}{}
	}
	p.statuses.Range(func(port int, _ domain.WorkerStatus) bool {
		if _, ok := live[port]; !ok {
			p.statuses.Delete(port)
		}
		return true
	})
}

func (p *Poller) runCycle(ctx context.Context) {
	ports := p.registry.Ports()
	p.pruneStale(ports)

	var (
		g        errgroup.Group
		mu       sync.Mutex
		cycleErr error
	)
	for _, port := range ports {
		port := port
		g.Go(func() error {
			st, err := p.probe(ctx, port)
			p.statuses.Store(port, st)
			if err != nil {
				mu.Lock()
				cycleErr = multierr.Append(cycleErr, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if cycleErr != nil && p.errSink != nil {
		p.errSink(fmt.Errorf("status poll cycle: %w", cycleErr))
	}

	p.quota.Rebuild(p.Statuses(), p.balancerCount)
}

// probe issues the single-worker status POST. A non-nil error always pairs
// with an unknown WorkerStatus; runCycle combines the errors of individual
// workers with multierr, and they are never fatal to the cycle.
func (p *Poller) probe(ctx context.Context, port int) (domain.WorkerStatus, error) {
	url := util.JoinURLPath(fmt.Sprintf("http://localhost:%d", port), p.statusURL)

	body, err := json.Marshal(map[string]string{"dataKey": p.dataKey})
	if err != nil {
		return domain.WorkerStatus{Port: port, ClientCount: domain.UnknownClientCount}, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.checkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.WorkerStatus{Port: port, ClientCount: domain.UnknownClientCount}, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.WorkerStatus{Port: port, ClientCount: domain.UnknownClientCount},
			multierr.Append(nil, domain.NewStatusPollError(port, url, err))
	}
	defer resp.Body.Close()

	var payload struct {
		ClientCount int `json:"clientCount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.WorkerStatus{Port: port, ClientCount: domain.UnknownClientCount},
			multierr.Append(nil, domain.NewStatusPollError(port, url, err))
	}

	return domain.WorkerStatus{Port: port, ClientCount: payload.ClientCount}, nil
}
