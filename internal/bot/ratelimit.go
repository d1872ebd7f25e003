package bot

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
}

func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = 5
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 30
	}
	return &RateLimiter{
		tokens:   float64(maxBurst),
		max:      float64(maxBurst),
		rate:     ratePerMinute / 60.0,
		lastTime: time.Now(),
	}
}

// Wait takes one token, blocking until one is available or ctx is done.
// throttled reports whether the caller had to wait.
func (rl *RateLimiter) Wait(ctx context.Context) (throttled bool, err error) {
	for {
		rl.mu.Lock()
		now := time.Now()
		rl.tokens += now.Sub(rl.lastTime).Seconds() * rl.rate
		if rl.tokens > rl.max {
			rl.tokens = rl.max
		}
		rl.lastTime = now

		if rl.tokens >= 1.0 {
			rl.tokens -= 1.0
			rl.mu.Unlock()
			return throttled, nil
		}

		waitSec := (1.0 - rl.tokens) / rl.rate
		rl.mu.Unlock()
		throttled = true

		timer := time.NewTimer(time.Duration(waitSec * float64(time.Second)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return throttled, ctx.Err()
		case <-timer.C:
		}
	}
}

// senderLimits hands out one bucket per sender.
type senderLimits struct {
	mu            sync.Mutex
	buckets       map[string]*RateLimiter
	burst         int
	ratePerMinute float64
}

func newSenderLimits(burst int, ratePerMinute float64) *senderLimits {
	return &senderLimits{
		buckets:       make(map[string]*RateLimiter),
		burst:         burst,
		ratePerMinute: ratePerMinute,
	}
}

func (s *senderLimits) get(key string) *RateLimiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	rl, ok := s.buckets[key]
	if !ok {
		rl = NewRateLimiter(s.burst, s.ratePerMinute)
		s.buckets[key] = rl
	}
	return rl
}
