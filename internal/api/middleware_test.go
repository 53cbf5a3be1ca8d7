package api

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterEnforcesLimit(t *testing.T) {
	limiter := newRateLimiter(3)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		ok, _ := limiter.allow("10.0.0.1", now)
		assert.True(t, ok)
	}

	ok, retryAfter := limiter.allow("10.0.0.1", now.Add(10*time.Second))
	assert.False(t, ok)
	assert.Equal(t, 50, retryAfter)

	// Other clients are unaffected.
	ok, _ = limiter.allow("10.0.0.2", now)
	assert.True(t, ok)
}

func TestRateLimiterWindowReset(t *testing.T) {
	limiter := newRateLimiter(1)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ok, _ := limiter.allow("10.0.0.1", now)
	assert.True(t, ok)
	ok, _ = limiter.allow("10.0.0.1", now.Add(30*time.Second))
	assert.False(t, ok)

	ok, _ = limiter.allow("10.0.0.1", now.Add(61*time.Second))
	assert.True(t, ok, "a lapsed window starts a fresh count")
}

func TestRateLimiterEvictsExpiredClients(t *testing.T) {
	limiter := newRateLimiter(10)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	limiter.allow("10.0.0.1", now)
	limiter.allow("10.0.0.2", now)

	limiter.allow("10.0.0.3", now.Add(2*time.Minute))

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.Len(t, limiter.clients, 1, "lapsed entries are dropped on the next sweep")
	assert.Contains(t, limiter.clients, "10.0.0.3")
}

func TestRateLimiterConcurrentClients(t *testing.T) {
	limiter := newRateLimiter(1000)
	now := time.Now()

	// First-time and repeat clients hammering the limiter at once must
	// be safe; run with -race.
	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				ip := fmt.Sprintf("10.0.0.%d", (worker+i)%4)
				limiter.allow(ip, now.Add(time.Duration(i)*time.Second))
			}
		}(worker)
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		ok, _ := limiter.allow(fmt.Sprintf("10.0.0.%d", i), now.Add(2*time.Hour))
		assert.True(t, ok)
	}
}
