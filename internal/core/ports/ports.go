// Package ports declares the small interfaces that let the core balancing
// logic (registry, hasher, session parser, quota selector, poller,
// dispatcher) be composed and tested independently of their concrete
// adapters.
package ports

import (
	"context"
	"net/http"

	"github.com/brightloom/waypoint/internal/core/domain"
)

// ErrorSink receives asynchronous errors from the Dispatcher's proxy path and
// the poller. Implementations must not block.
type ErrorSink func(error)

// WorkerRegistry holds the current set of dispatchable workers. SetWorkers
// is the single bulk-replace operation; there is no incremental add/remove.
type WorkerRegistry interface {
	SetWorkers(ports []int)
	Ports() []int
	Has(port int) bool
	Count() int
}

// IPHasher deterministically maps a request's client IP to one of the
// currently registered worker ports.
type IPHasher interface {
	ChoosePort(r *http.Request, ports []int) (int, bool)
}

// SessionParser extracts the destination port embedded in a request's
// session token, if any.
type SessionParser interface {
	ParsePort(r *http.Request) (int, bool)
}

// QuotaSelector picks a worker port under the smart-balancing quota rules.
type QuotaSelector interface {
	ChooseTargetPort() (int, bool)
	RandomPort() (int, bool)
	Rebuild(statuses []domain.WorkerStatus, balancerCount int)
}

// StatusPoller runs the periodic per-worker status probe cycle.
type StatusPoller interface {
	Start(ctx context.Context)
	Stop()
}

// MiddlewareHandler runs one link of a request or upgrade chain. Returning
// false halts the chain; the handler is responsible for writing any error
// response or invoking the error sink before doing so.
type MiddlewareHandler func(w http.ResponseWriter, r *http.Request) bool
