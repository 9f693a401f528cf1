package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// IdleTTL drops limiters for keys not seen for this long.
	IdleTTL time.Duration
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
		IdleTTL:           10 * time.Minute,
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiterStore holds one limiter per client key.
type rateLimiterStore struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	config    RateLimitConfig
	now       func() time.Time
	lastSweep time.Time
}

func newRateLimiterStore(cfg RateLimitConfig) *rateLimiterStore {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultRateLimitConfig().IdleTTL
	}
	return &rateLimiterStore{
		limiters: make(map[string]*limiterEntry),
		config:   cfg,
		now:      time.Now,
	}
}

func (s *rateLimiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) > s.config.IdleTTL {
		for k, e := range s.limiters {
			if now.Sub(e.lastSeen) > s.config.IdleTTL {
				delete(s.limiters, k)
			}
		}
		s.lastSweep = now
	}

	e, ok := s.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(s.config.RequestsPerSecond), s.config.BurstSize)}
		s.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

func (s *rateLimiterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// RateLimit returns a per-client rate limiting middleware. Clients are keyed
// by tenant and IP.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newRateLimiterStore(cfg)
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.RealIP()
			if tenantID, ok := c.Get("jwt_tenant_id").(string); ok && tenantID != "" {
				key = tenantID + ":" + key
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)

			lim := store.get(key)
			r := lim.Reserve()
			if delay := r.Delay(); !r.OK() || delay > 0 {
				r.Cancel()
				h.Set("Retry-After", strconv.Itoa(retryAfterSeconds(r.OK(), delay)))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			h.Set("X-RateLimit-Remaining", strconv.Itoa(int(math.Max(0, math.Floor(lim.Tokens())))))
			return next(c)
		}
	}
}

func retryAfterSeconds(ok bool, delay time.Duration) int {
	if !ok || delay <= 0 {
		return 1
	}
	return int(math.Ceil(delay.Seconds()))
}
