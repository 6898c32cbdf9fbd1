package admission

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	httperr "github.com/veldt-lab/veldt/internal/core/errors"
)

// Throttle is a per-identity token-bucket limiter for the collect endpoint.
// Unlike the Gate it meters request volume, not authentication failures;
// both share the fail-open philosophy.
type Throttle struct {
	mu      sync.Mutex
	entries map[string]*throttleEntry

	rps     rate.Limit
	burst   int
	idleTTL time.Duration
}

type throttleEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewThrottle creates a throttle allowing rps sustained requests with the
// given burst per identity. Idle identities are forgotten after idleTTL.
func NewThrottle(rps float64, burst int, idleTTL time.Duration) *Throttle {
	if rps <= 0 {
		rps = 50
	}
	if burst <= 0 {
		burst = 100
	}
	if idleTTL <= 0 {
		idleTTL = 15 * time.Minute
	}
	return &Throttle{
		entries: make(map[string]*throttleEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
	}
}

// Allow reports whether the identity may proceed now.
func (t *Throttle) Allow(identity string) bool {
	return t.limiterFor(identity).Allow()
}

func (t *Throttle) limiterFor(identity string) *rate.Limiter {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if ent, ok := t.entries[identity]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(t.rps, t.burst)
	t.entries[identity] = &throttleEntry{lim: lim, lastSeen: now}
	return lim
}

// Cleanup forgets identities idle longer than the TTL.
func (t *Throttle) Cleanup() {
	cutoff := time.Now().Add(-t.idleTTL)

	t.mu.Lock()
	defer t.mu.Unlock()

	for identity, ent := range t.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(t.entries, identity)
		}
	}
}

// Middleware rejects over-limit producers with 429 before the handler runs.
func (t *Throttle) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !t.Allow(IdentityFor(c.Request)) {
			c.Header("Retry-After", strconv.Itoa(1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, httperr.ErrorResponse{
				ErrorType: httperr.HttpRateLimitedError,
				Message:   "Too many requests",
			})
			return
		}
		c.Next()
	}
}
