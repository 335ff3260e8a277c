package scope

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/emergent-company/emergent.graph/pkg/apperror"
)

// idleLimiterTTL is how long an unused project limiter is kept.
const idleLimiterTTL = 10 * time.Minute

// WriteLimiter is a token bucket per project applied to mutating requests.
type WriteLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[uuid.UUID]*entry
	lastGC   time.Time
	now      func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewWriteLimiter allows rps sustained writes per project with the given burst.
// A non-positive rps disables limiting.
func NewWriteLimiter(rps float64, burst int) *WriteLimiter {
	if burst < 1 {
		burst = 1
	}
	return &WriteLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[uuid.UUID]*entry),
		now:      time.Now,
	}
}

// Allow consumes one token for project.
func (l *WriteLimiter) Allow(project uuid.UUID) bool {
	if l.rps <= 0 {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastGC) > idleLimiterTTL {
		for id, e := range l.limiters {
			if now.Sub(e.lastSeen) > idleLimiterTTL {
				delete(l.limiters, id)
			}
		}
		l.lastGC = now
	}

	e, ok := l.limiters[project]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[project] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Middleware limits writes of the project set by RequireProject. Reads pass through.
func (l *WriteLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !isWrite(c.Request().Method) {
				return next(c)
			}
			if !l.Allow(ProjectID(c)) {
				retry := time.Second
				if l.rps > 0 {
					retry = time.Duration(float64(time.Second) / float64(l.rps))
				}
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds()+0.999)))
				return apperror.ErrTooManyRequests
			}
			return next(c)
		}
	}
}
