// Package breaker implements the global halt logic: reject-rate, cancel-burst,
// and cumulative error counters, any one of which stops the run.
//
// Grounded on pmm.strategy.circuit_breaker.CircuitBreaker from the reference
// implementation (CircuitConfig.from_env, CircuitState, record_place/
// record_cancel/record_error/should_halt).
package breaker

import (
	"fmt"
	"sync"
	"time"
)

// Config holds the trip thresholds.
type Config struct {
	MaxRejectRate    float64
	WindowSec        int
	MaxCancelsPerMin int
	MaxErrors        int64
}

// PaperConfig mirrors Config with the paper-mode default loosened cancel cap
// (10,000/min) so simulated re-quoting never self-trips.
func PaperConfig(maxRejectRate float64, windowSec, maxErrors int) Config {
	return Config{
		MaxRejectRate:    maxRejectRate,
		WindowSec:        windowSec,
		MaxCancelsPerMin: 10000,
		MaxErrors:        int64(maxErrors),
	}
}

// Breaker accumulates placement/rejection/cancel/error counters across the
// life of a process and decides when to halt the run.
type Breaker struct {
	mu           sync.Mutex
	cfg          Config
	placed       int64
	rejected     int64
	errors       int64
	cancelEvents []int64 // unix seconds, trimmed to the last 60s
	nowFn        func() time.Time
}

// New creates a Breaker with the given thresholds.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, nowFn: time.Now}
}

// RecordPlace records a non-SKIP placement attempt. success=false counts the
// attempt as rejected.
func (b *Breaker) RecordPlace(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.placed++
	if !success {
		b.rejected++
	}
}

// RecordCancel appends a cancel event timestamp and trims the deque to the
// last 60 seconds.
func (b *Breaker) RecordCancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.nowFn().Unix()
	b.cancelEvents = append(b.cancelEvents, now)
	b.trimLocked(now)
}

// RecordError increments the cumulative error counter.
func (b *Breaker) RecordError() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errors++
}

func (b *Breaker) trimLocked(now int64) {
	cutoff := now - 60
	i := 0
	for ; i < len(b.cancelEvents); i++ {
		if b.cancelEvents[i] >= cutoff {
			break
		}
	}
	b.cancelEvents = b.cancelEvents[i:]
}

// CancelBurst returns the number of cancel events within the trailing 60s window.
func (b *Breaker) CancelBurst() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trimLocked(b.nowFn().Unix())
	return len(b.cancelEvents)
}

// Snapshot returns the current cumulative counters.
func (b *Breaker) Snapshot() (placed, rejected, errs int64, cancelBurst int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trimLocked(b.nowFn().Unix())
	return b.placed, b.rejected, b.errors, len(b.cancelEvents)
}

// ShouldHalt evaluates the three independent trip conditions. The returned
// string names the reason (containing "reject_rate", "cancel_burst", or
// "errors") when halted=true.
func (b *Breaker) ShouldHalt() (halted bool, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trimLocked(b.nowFn().Unix())

	if b.placed >= 20 {
		rate := float64(b.rejected) / float64(maxInt64(1, b.placed))
		if rate >= b.cfg.MaxRejectRate {
			return true, fmt.Sprintf("reject_rate %.3f >= %.3f (placed=%d rejected=%d)", rate, b.cfg.MaxRejectRate, b.placed, b.rejected)
		}
	}
	if len(b.cancelEvents) > b.cfg.MaxCancelsPerMin {
		return true, fmt.Sprintf("cancel_burst %d > %d", len(b.cancelEvents), b.cfg.MaxCancelsPerMin)
	}
	if b.errors >= b.cfg.MaxErrors {
		return true, fmt.Sprintf("errors %d >= %d", b.errors, b.cfg.MaxErrors)
	}
	return false, ""
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
