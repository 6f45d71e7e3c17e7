// Package middleware implements the two ordered handler chains (request,
// upgrade) the Dispatcher runs before resolving a target.
package middleware

import (
	"net/http"

	"github.com/brightloom/waypoint/internal/core/ports"
)

// Phase names the two chains the Dispatcher maintains.
type Phase string

const (
	PhaseRequest Phase = "request"
	PhaseUpgrade Phase = "upgrade"
)

// Chain is an ordered, append-only sequence of handlers run in series. A
// handler returning false halts the chain; the request is considered
// abandoned (spec.md §7's middleware-error terminal state).
type Chain struct {
	handlers []ports.MiddlewareHandler
}

// NewChain returns an empty chain.
func NewChain() *Chain {
	return &Chain{}
}

// Use appends a handler to the chain. Order is preserved across invocations.
func (c *Chain) Use(h ports.MiddlewareHandler) {
	c.handlers = append(c.handlers, h)
}

// Run executes every handler in order, stopping at the first one that
// returns false. Returns true if the full chain completed.
func (c *Chain) Run(w http.ResponseWriter, r *http.Request) bool {
	for _, h := range c.handlers {
		if !h(w, r) {
			return false
		}
	}
	return true
}
