package web

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ipLimiter holds a rate limiter and the last time it was seen.
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter provides IP-based rate limiting for a route group.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rate     rate.Limit
	burst    int
	done     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new per-IP rate limiter. Call Stop when the
// limiter is no longer needed to end its cleanup goroutine.
func NewRateLimiter(requestsPerSecond rate.Limit, burst int) *RateLimiter {
	rateLimiter := &RateLimiter{
		limiters: make(map[string]*ipLimiter),
		rate:     requestsPerSecond,
		burst:    burst,
		done:     make(chan struct{}),
	}
	go rateLimiter.cleanupLoop()
	return rateLimiter
}

// Stop ends the cleanup goroutine. Safe to call more than once.
func (rateLimiter *RateLimiter) Stop() {
	rateLimiter.stopOnce.Do(func() { close(rateLimiter.done) })
}

func (rateLimiter *RateLimiter) getLimiter(clientIP string) *rate.Limiter {
	rateLimiter.mu.Lock()
	defer rateLimiter.mu.Unlock()

	if existing, exists := rateLimiter.limiters[clientIP]; exists {
		existing.lastSeen = time.Now()
		return existing.limiter
	}

	limiter := rate.NewLimiter(rateLimiter.rate, rateLimiter.burst)
	rateLimiter.limiters[clientIP] = &ipLimiter{limiter: limiter, lastSeen: time.Now()}
	return limiter
}

// cleanupLoop removes stale entries every 3 minutes.
func (rateLimiter *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(3 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rateLimiter.done:
			return
		case <-ticker.C:
			rateLimiter.mu.Lock()
			for clientIP, entry := range rateLimiter.limiters {
				if time.Since(entry.lastSeen) > 5*time.Minute {
					delete(rateLimiter.limiters, clientIP)
				}
			}
			rateLimiter.mu.Unlock()
		}
	}
}

// Middleware returns a gin middleware that enforces the rate limit.
func (rateLimiter *RateLimiter) Middleware() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		limiter := rateLimiter.getLimiter(contextGin.ClientIP())
		if !limiter.Allow() {
			retryAfter := int(1.0 / float64(rateLimiter.rate))
			if retryAfter < 1 {
				retryAfter = 1
			}
			contextGin.Header("Retry-After", strconv.Itoa(retryAfter))
			contextGin.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			return
		}
		contextGin.Next()
	}
}

// RequestIDHeader carries the per-request identifier.
const RequestIDHeader = "X-Request-Id"

// RequestID assigns each request an identifier, honoring one supplied
// by an upstream proxy.
func RequestID() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		requestID := contextGin.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		contextGin.Set("request_id", requestID)
		contextGin.Header(RequestIDHeader, requestID)
		contextGin.Next()
	}
}
