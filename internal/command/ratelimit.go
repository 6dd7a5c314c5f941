// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/storyengine/internal/clock"
)

// Default rate limiting values.
const (
	// DefaultBurstCapacity is how many messages a sender may send in a burst.
	DefaultBurstCapacity = 10

	// DefaultSustainedRate is the token refill rate in messages per second.
	DefaultSustainedRate = 2.0

	// MinSustainedRate keeps the refill rate positive.
	MinSustainedRate = 0.1

	// DefaultCleanupInterval is how often idle senders are dropped.
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultSenderMaxAge is how long a sender may stay idle before cleanup
	// removes its bucket.
	DefaultSenderMaxAge = time.Hour
)

// RateLimiterConfig configures the rate limiter. Zero values use the
// defaults.
type RateLimiterConfig struct {
	BurstCapacity   int
	SustainedRate   float64
	CleanupInterval time.Duration
	SenderMaxAge    time.Duration
	Clock           clock.Clock
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// RateLimiter is a per-sender token bucket. It is safe for concurrent use.
//
// A background goroutine drops idle senders. Call Close to stop it.
type RateLimiter struct {
	mu            sync.Mutex
	buckets       map[string]*bucket
	burstCapacity int
	sustainedRate float64
	maxAge        time.Duration
	clock         clock.Clock

	stopChan chan struct{}
	wg       sync.WaitGroup

	senderGauge prometheus.Gauge
}

// NewRateLimiter creates a rate limiter and starts its cleanup goroutine.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return newRateLimiter(cfg, nil)
}

// NewRateLimiterWithRegistry also registers a tracked-sender gauge with reg.
func NewRateLimiterWithRegistry(cfg RateLimiterConfig, reg prometheus.Registerer) *RateLimiter {
	return newRateLimiter(cfg, reg)
}

func newRateLimiter(cfg RateLimiterConfig, reg prometheus.Registerer) *RateLimiter {
	if cfg.BurstCapacity <= 0 {
		cfg.BurstCapacity = DefaultBurstCapacity
	}
	if cfg.SustainedRate <= 0 {
		cfg.SustainedRate = DefaultSustainedRate
	}
	if cfg.SustainedRate < MinSustainedRate {
		cfg.SustainedRate = MinSustainedRate
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.SenderMaxAge <= 0 {
		cfg.SenderMaxAge = DefaultSenderMaxAge
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}

	rl := &RateLimiter{
		buckets:       make(map[string]*bucket),
		burstCapacity: cfg.BurstCapacity,
		sustainedRate: cfg.SustainedRate,
		maxAge:        cfg.SenderMaxAge,
		clock:         cfg.Clock,
		stopChan:      make(chan struct{}),
	}
	if reg != nil {
		rl.senderGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storyengine_ratelimiter_senders",
			Help: "Current number of tracked rate limiter senders",
		})
		reg.MustRegister(rl.senderGauge)
	}

	rl.wg.Add(1)
	go rl.cleanupLoop(cfg.CleanupInterval)
	return rl
}

// Allow consumes one token for key. It returns false with the milliseconds
// until the next token when the bucket is empty.
func (rl *RateLimiter) Allow(key string) (allowed bool, cooldownMs int64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rl.burstCapacity), lastCheck: now}
		rl.buckets[key] = b
	}

	b.tokens += now.Sub(b.lastCheck).Seconds() * rl.sustainedRate
	if b.tokens > float64(rl.burstCapacity) {
		b.tokens = float64(rl.burstCapacity)
	}
	b.lastCheck = now

	if b.tokens >= 1.0 {
		b.tokens--
		return true, 0
	}
	deficit := 1.0 - b.tokens
	return false, int64(deficit / rl.sustainedRate * 1000)
}

// Senders returns the number of tracked senders.
func (rl *RateLimiter) Senders() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Cleanup drops senders idle for longer than maxAge.
func (rl *RateLimiter) Cleanup(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	threshold := rl.clock.Now().Add(-maxAge)
	for key, b := range rl.buckets {
		if b.lastCheck.Before(threshold) {
			delete(rl.buckets, key)
		}
	}
	if rl.senderGauge != nil {
		rl.senderGauge.Set(float64(len(rl.buckets)))
	}
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	defer rl.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.Cleanup(rl.maxAge)
		}
	}
}

// Close stops the cleanup goroutine and waits for it.
func (rl *RateLimiter) Close() {
	close(rl.stopChan)
	rl.wg.Wait()
}
