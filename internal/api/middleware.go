package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RequestID attaches a request identifier to each request
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}

// RequestLogger logs HTTP requests
func RequestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		// Process request
		c.Next()

		// Log request details
		latency := time.Since(start)
		clientIP := c.ClientIP()
		method := c.Request.Method
		statusCode := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		logger.WithFields(logrus.Fields{
			"status":     statusCode,
			"latency_ms": latency.Milliseconds(),
			"client_ip":  clientIP,
			"method":     method,
			"path":       path,
			"request_id": c.GetString("request_id"),
		}).Info("HTTP Request")
	}
}

// CORS enables cross-origin requests
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Max-Age", "300")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// rateLimiter is a simple in-memory per-IP request counter. Requests
// arrive on concurrent goroutines, so every map access holds the lock.
// TODO: back this with the Redis cache so limits hold across replicas
type rateLimiter struct {
	mu      sync.Mutex
	limit   int
	clients map[string]*rateLimitClient
	swept   time.Time
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	return &rateLimiter{
		limit:   requestsPerMinute,
		clients: make(map[string]*rateLimitClient),
	}
}

// allow reports whether the client may proceed, with the retry delay
// in seconds when it may not.
func (l *rateLimiter) allow(clientIP string, now time.Time) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Drop clients whose window has lapsed so the map stays bounded
	// by the set of recently active IPs.
	if now.Sub(l.swept) > time.Minute {
		for ip, client := range l.clients {
			if now.Sub(client.lastReset) > time.Minute {
				delete(l.clients, ip)
			}
		}
		l.swept = now
	}

	client, exists := l.clients[clientIP]
	if !exists || now.Sub(client.lastReset) > time.Minute {
		l.clients[clientIP] = &rateLimitClient{
			lastReset: now,
			requests:  1,
		}
		return true, 0
	}

	if client.requests >= l.limit {
		return false, 60 - int(now.Sub(client.lastReset).Seconds())
	}

	client.requests++
	return true, 0
}

// RateLimiter implements rate limiting for API endpoints
func RateLimiter(requestsPerMinute int) gin.HandlerFunc {
	limiter := newRateLimiter(requestsPerMinute)

	return func(c *gin.Context) {
		ok, retryAfter := limiter.allow(c.ClientIP(), time.Now())
		if !ok {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": retryAfter,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

type rateLimitClient struct {
	lastReset time.Time
	requests  int
}

// Recovery handles panics and prevents server crashes
func Recovery(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.WithFields(logrus.Fields{
					"error":  err,
					"path":   c.Request.URL.Path,
					"method": c.Request.Method,
				}).Error("Panic recovered")

				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "internal server error",
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}
