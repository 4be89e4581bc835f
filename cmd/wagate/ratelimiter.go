package main

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter bounds outbound sends per chatbot
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(messagesPerMinute, burst int) *rateLimiter {
	return &rateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(float64(messagesPerMinute) / 60.0),
		burst:    burst,
	}
}

// allow reports whether the chatbot may send another message now
func (rl *rateLimiter) allow(chatbotID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[chatbotID]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[chatbotID] = v
	}
	v.lastSeen = time.Now()

	return v.limiter.Allow()
}

// startCleanup periodically drops limiters for idle chatbots
func (rl *rateLimiter) startCleanup(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				rl.cleanupStale(10 * time.Minute)
			}
		}
	}()
}

func (rl *rateLimiter) cleanupStale(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for id, v := range rl.visitors {
		if time.Since(v.lastSeen) > maxIdle {
			delete(rl.visitors, id)
		}
	}
}
