package middleware

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"contact_flow_app_go/services"

	"github.com/labstack/echo/v4"
)

// RateLimitConfig defines the configuration for rate limiting
type RateLimitConfig struct {
	// Name prefixes the store keys so limiters sharing a store stay apart
	Name string
	// Requests is the maximum number of requests allowed within the window
	Requests int
	// Window is the time window for rate limiting
	Window time.Duration
	// KeyFunc is a function that returns a unique key for rate limiting (defaults to IP)
	KeyFunc func(c echo.Context) string
	// Message is the error message returned when rate limit is exceeded
	Message string
}

// RateLimiter is a fixed window limiter over a throttle store
type RateLimiter struct {
	config RateLimitConfig
	store  services.ThrottleStore
}

// NewRateLimiter creates a new rate limiter with the given configuration
func NewRateLimiter(store services.ThrottleStore, config RateLimitConfig) *RateLimiter {
	if config.KeyFunc == nil {
		config.KeyFunc = func(c echo.Context) string {
			return c.RealIP()
		}
	}
	if config.Name == "" {
		config.Name = "ratelimit"
	}
	if config.Message == "" {
		config.Message = "Too many requests. Please try again later."
	}
	return &RateLimiter{config: config, store: store}
}

// Middleware returns the rate limiting middleware
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := services.HashedKey(rl.config.Name, rl.config.KeyFunc(c))

			count, expiresAt, err := rl.store.Hit(key, rl.config.Window)
			if err != nil {
				// A broken store must not take the site down
				log.Printf("[WARNING] Rate limiter %s unavailable: %v", rl.config.Name, err)
				return next(c)
			}

			if count > rl.config.Requests {
				throttled := &services.ThrottledError{RetryAfter: time.Until(expiresAt), Message: rl.config.Message}
				c.Response().Header().Set("Retry-After", strconv.Itoa(throttled.RetryAfterSeconds()))
				return echo.NewHTTPError(http.StatusTooManyRequests, rl.config.Message)
			}
			return next(c)
		}
	}
}

// Pre-configured rate limiters for common use cases

// NewLoginRateLimiter limits login attempts to 10 per minute per IP, on top
// of the per-client lockout
func NewLoginRateLimiter(store services.ThrottleStore) *RateLimiter {
	return NewRateLimiter(store, RateLimitConfig{
		Name:     "ratelimit:login",
		Requests: 10,
		Window:   1 * time.Minute,
		Message:  "Too many login attempts. Please wait a minute before trying again.",
	})
}

// NewAccessRateLimiter limits token checks to 20 per minute per IP
func NewAccessRateLimiter(store services.ThrottleStore) *RateLimiter {
	return NewRateLimiter(store, RateLimitConfig{
		Name:     "ratelimit:access",
		Requests: 20,
		Window:   1 * time.Minute,
		Message:  "Too many access attempts. Please wait before trying again.",
	})
}

// NewAPIRateLimiter limits general requests to 120 per minute per IP
func NewAPIRateLimiter(store services.ThrottleStore) *RateLimiter {
	return NewRateLimiter(store, RateLimitConfig{
		Name:     "ratelimit:api",
		Requests: 120,
		Window:   1 * time.Minute,
		Message:  "Rate limit exceeded. Please slow down your requests.",
	})
}
