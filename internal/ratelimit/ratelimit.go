package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a token bucket: tokens refill continuously at rate per second up
// to burst, and each allowed event spends one.
type Limiter struct {
	mu       sync.Mutex
	rate     float64
	burst    float64
	tokens   float64
	lastFill time.Time
}

func NewLimiter(rate float64, burst int) *Limiter {
	return &Limiter{
		rate:     rate,
		burst:    float64(burst),
		tokens:   float64(burst),
		lastFill: time.Now(),
	}
}

func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.tokens += now.Sub(l.lastFill).Seconds() * l.rate
	l.lastFill = now
	if l.tokens > l.burst {
		l.tokens = l.burst
	}

	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}

type keyedLimiter struct {
	limiter  *Limiter
	lastSeen time.Time
}

// KeyedLimiters hands out one Limiter per key (remote address, connection id)
// and evicts entries that have been idle long enough to have refilled anyway.
type KeyedLimiters struct {
	mu       sync.Mutex
	limiters map[string]*keyedLimiter
	rate     float64
	burst    int
	maxIdle  time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

func NewKeyedLimiters(rate float64, burst int) *KeyedLimiters {
	kl := &KeyedLimiters{
		limiters: make(map[string]*keyedLimiter),
		rate:     rate,
		burst:    burst,
		maxIdle:  10 * time.Minute,
		stop:     make(chan struct{}),
	}
	go kl.evictLoop()
	return kl
}

func (kl *KeyedLimiters) Get(key string) *Limiter {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	entry, ok := kl.limiters[key]
	if !ok {
		entry = &keyedLimiter{limiter: NewLimiter(kl.rate, kl.burst)}
		kl.limiters[key] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

func (kl *KeyedLimiters) Allow(key string) bool {
	return kl.Get(key).Allow()
}

func (kl *KeyedLimiters) Stop() {
	kl.stopOnce.Do(func() { close(kl.stop) })
}

func (kl *KeyedLimiters) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-kl.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-kl.maxIdle)
			kl.mu.Lock()
			for key, entry := range kl.limiters {
				if entry.lastSeen.Before(cutoff) {
					delete(kl.limiters, key)
				}
			}
			kl.mu.Unlock()
		}
	}
}
