// Package ratelimit bounds how much simulation work MCP clients can request.
// Work is metered in units: one unit is one PDP evaluating one event.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Limiter implements a per-key token bucket metered in work units.
// It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64          // units per second
	burst   float64          // bucket capacity, also the initial balance
	nowFunc func() time.Time // injectable clock for testing
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// NewLimiter creates a limiter refilling rate units per second up to burst.
func NewLimiter(rate, burst float64) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		nowFunc: time.Now,
	}
}

// Allow spends one unit.
func (l *Limiter) Allow(key string) bool { return l.AllowN(key, 1) }

// AllowN spends n units for key if the bucket holds them. A request larger
// than the burst never succeeds.
func (l *Limiter) AllowN(key string, n float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, lastCheck: now}
		l.buckets[key] = b
	}

	if elapsed := now.Sub(b.lastCheck).Seconds(); elapsed > 0 {
		b.tokens = min(l.burst, b.tokens+l.rate*elapsed)
		b.lastCheck = now
	}

	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// Work budgets of the simulate tool.
const (
	SimulateBurst     = 2_000_000
	SimulatePerMinute = 2_000_000
)

// ToolLimiters maps tool names to their limiters.
type ToolLimiters map[string]*Limiter

// NewToolLimiters creates the default per-tool limiters. Simulation is
// metered by work; the cheap tools by call.
func NewToolLimiters() ToolLimiters {
	return ToolLimiters{
		"pdpsim_simulate": NewLimiter(SimulatePerMinute/60.0, SimulateBurst),
		"pdpsim_evaluate": NewLimiter(2.0, 20), // 120/minute, burst 20
		"pdpsim_history":  NewLimiter(1.0, 10), // 60/minute, burst 10
	}
}

// CheckLimit spends cost units of toolName's budget.
// Tools without a configured limiter are always allowed.
func CheckLimit(limiters ToolLimiters, toolName string, cost float64) error {
	limiter, ok := limiters[toolName]
	if !ok {
		return nil
	}
	if cost > limiter.burst {
		return fmt.Errorf("%s request of %.0f work units exceeds the limit of %.0f", toolName, cost, limiter.burst)
	}
	if !limiter.AllowN(toolName, cost) {
		return fmt.Errorf("rate limit exceeded for %s, please try again shortly", toolName)
	}
	return nil
}
