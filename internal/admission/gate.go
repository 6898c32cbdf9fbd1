package admission

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/veldt-lab/veldt/internal/core/clock"
)

const (
	defaultThreshold  = 5
	defaultWindowSize = 15 * time.Minute
	cleanupEvery      = 5 * time.Minute
)

// Decision is the outcome of a limit check. Denial is an expected policy
// outcome, not an error: callers branch on Allowed.
type Decision struct {
	Allowed bool
	// RetryAfter is how long until the window rolls over, set when denied.
	RetryAfter time.Duration
}

// RetryAfterSeconds returns the denial delay rounded up, so a caller
// honoring it never retries inside the still-closed window.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed || d.RetryAfter <= 0 {
		return 0
	}
	return int((d.RetryAfter + time.Second - 1) / time.Second)
}

type failureWindow struct {
	start    time.Time
	failures int
}

// Gate throttles repeated failed authentication attempts per opaque client
// identity using a fixed window. Counters live in memory only: a process
// restart resets them, which fails open by design.
type Gate struct {
	mu      sync.Mutex
	windows map[string]*failureWindow

	threshold  int
	windowSize time.Duration
	clk        clock.Clock
}

// NewGate creates a gate denying an identity after threshold failures
// within one window.
func NewGate(threshold int, windowSize time.Duration, clk clock.Clock) *Gate {
	if clk == nil {
		panic("admission: clock must not be nil")
	}
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	if windowSize <= 0 {
		windowSize = defaultWindowSize
	}
	return &Gate{
		windows:    make(map[string]*failureWindow),
		threshold:  threshold,
		windowSize: windowSize,
		clk:        clk,
	}
}

// CheckLimit reports whether the identity may attempt authentication now.
// Checking never counts as an attempt.
func (g *Gate) CheckLimit(identity string) Decision {
	now := g.clk.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.windows[identity]
	if !ok {
		return Decision{Allowed: true}
	}

	if now.Sub(w.start) >= g.windowSize {
		// Window rolled over; the boundary instant belongs to the next
		// window, so every denial carries a positive RetryAfter.
		delete(g.windows, identity)
		return Decision{Allowed: true}
	}

	if w.failures >= g.threshold {
		return Decision{
			Allowed:    false,
			RetryAfter: w.start.Add(g.windowSize).Sub(now),
		}
	}

	return Decision{Allowed: true}
}

// RecordFailure counts one failed authentication attempt in the identity's
// current window, creating the window lazily. Successful attempts must
// never be recorded here.
func (g *Gate) RecordFailure(identity string) {
	now := g.clk.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.windows[identity]
	if !ok || now.Sub(w.start) >= g.windowSize {
		g.windows[identity] = &failureWindow{start: now, failures: 1}
		return
	}

	w.failures++
	if w.failures == g.threshold {
		slog.Warn("[Admission] Identity reached failure threshold",
			"identity", identity,
			"failures", w.failures,
			"window", g.windowSize,
		)
	}
}

// RecordSuccess clears the identity's window after a successful
// authentication.
func (g *Gate) RecordSuccess(identity string) {
	g.mu.Lock()
	delete(g.windows, identity)
	g.mu.Unlock()
}

// Cleanup drops windows that have rolled over, bounding the map.
func (g *Gate) Cleanup() {
	now := g.clk.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	for identity, w := range g.windows {
		if now.Sub(w.start) >= g.windowSize {
			delete(g.windows, identity)
		}
	}
}

// Run periodically cleans up expired windows until ctx is cancelled.
func (g *Gate) Run(ctx context.Context) error {
	ticker := time.NewTicker(cleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.Cleanup()
		case <-ctx.Done():
			return nil
		}
	}
}
