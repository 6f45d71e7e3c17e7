// Package quota implements the Quota Selector: the smart-balancing
// destination picker that drains a quota table rebuilt each status-poll
// cycle, falling back to a uniformly random worker once it is exhausted.
package quota

import (
	"math/rand"
	"sync"

	"go.uber.org/atomic"

	"github.com/brightloom/waypoint/internal/core/domain"
)

// Selector holds the live QuotaTable plus the registry ports used for its
// random-fallback paths. Rebuild and the two selection operations all take
// the same lock, making the decrement-and-pop a single critical section as
// the concurrency model requires.
type Selector struct {
	mu    sync.Mutex
	table *domain.QuotaTable
	ports []int

	draws atomic.Int64 // total quota units spent; incremented here and not read elsewhere
}

// New returns an empty Selector; call Rebuild once worker status is known.
func New() *Selector {
	return &Selector{table: domain.NewQuotaTable(nil)}
}

// Rebuild computes each worker's target quota from its last known client
// count and replaces the live table atomically. maxClients is the largest
// clientCount among workers with a known status (0 if none are known);
// unknown workers are excluded from that maximum but still receive a
// targetQuota computed against it, which is typically <= 0 and so dropped.
func (s *Selector) Rebuild(statuses []domain.WorkerStatus, balancerCount int) {
	if balancerCount < 1 {
		balancerCount = 1
	}

	maxClients := 0
	for _, st := range statuses {
		if st.Known() && st.ClientCount > maxClients {
			maxClients = st.ClientCount
		}
	}

	entries := make([]domain.QuotaEntry, 0, len(statuses))
	ports := make([]int, 0, len(statuses))
	for _, st := range statuses {
		ports = append(ports, st.Port)
		clientCount := st.ClientCount
		if !st.Known() {
			clientCount = maxClients // contributes zero or negative quota, never wins a slot
		}
		targetQuota := roundDiv(maxClients-clientCount, balancerCount)
		if targetQuota > 0 {
			entries = append(entries, domain.QuotaEntry{Port: st.Port, Quota: targetQuota})
		}
	}

	s.mu.Lock()
	s.table = domain.NewQuotaTable(entries)
	s.ports = ports
	s.mu.Unlock()
}

// ChooseTargetPort drains the quota table's tail entry, falling back to a
// uniformly random registered port when the table is empty. Used for HTTP
// requests.
func (s *Selector) ChooseTargetPort() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if port, ok := s.table.PopTail(); ok {
		s.draws.Inc()
		return port, true
	}
	return s.randomPortLocked()
}

// RandomPort returns a uniformly random registered worker port, ignoring
// quota entirely. Used for the WebSocket session-miss fallback, which never
// weights by quota (spec asymmetry, preserved intentionally).
func (s *Selector) RandomPort() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.randomPortLocked()
}

func (s *Selector) randomPortLocked() (int, bool) {
	if len(s.ports) == 0 {
		return 0, false
	}
	return s.ports[rand.Intn(len(s.ports))], true
}

// roundDiv performs the spec's round((maxClients-clientCount)/balancerCount)
// with round-half-away-from-zero semantics on integers.
func roundDiv(numerator, denominator int) int {
	if denominator == 0 {
		return 0
	}
	neg := (numerator < 0) != (denominator < 0)
	if numerator < 0 {
		numerator = -numerator
	}
	if denominator < 0 {
		denominator = -denominator
	}
	q := (2*numerator + denominator) / (2 * denominator)
	if neg {
		return -q
	}
	return q
}
