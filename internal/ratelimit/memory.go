package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Housekeeping for the bucket table. A pipeline run fans out into several
// model calls, so run endpoints see low request volume per user; idle users
// are dropped during Allow calls instead of by a background goroutine.
const (
	idleEviction  = 15 * time.Minute
	sweepInterval = 5 * time.Minute
)

// bucket tracks the remaining request budget for one key.
type bucket struct {
	remaining float64
	seenAt    time.Time
}

// MemoryLimiter is a per-key token bucket held entirely in process memory.
// Keys idle past idleEviction are swept opportunistically on the next Allow.
type MemoryLimiter struct {
	perSecond float64 // refill rate
	capacity  float64 // burst ceiling

	mu        sync.Mutex
	buckets   map[string]*bucket
	nextSweep time.Time
}

// NewMemoryLimiter builds a limiter that refills perSecond tokens per key up
// to a ceiling of burst.
func NewMemoryLimiter(perSecond float64, burst int) *MemoryLimiter {
	return &MemoryLimiter{
		perSecond: perSecond,
		capacity:  float64(burst),
		buckets:   make(map[string]*bucket),
		nextSweep: time.Now().Add(sweepInterval),
	}
}

// Allow spends one token for key. A key not seen before starts with a full
// bucket; a known key refills by the time elapsed since its last request.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if now.After(m.nextSweep) {
		m.sweep(now)
		m.nextSweep = now.Add(sweepInterval)
	}

	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{remaining: m.capacity, seenAt: now}
		m.buckets[key] = b
	} else {
		b.remaining += now.Sub(b.seenAt).Seconds() * m.perSecond
		if b.remaining > m.capacity {
			b.remaining = m.capacity
		}
		b.seenAt = now
	}

	if b.remaining < 1 {
		return false, nil
	}
	b.remaining--
	return true, nil
}

// Close implements Limiter. The limiter holds nothing beyond the bucket map.
func (m *MemoryLimiter) Close() error { return nil }

// sweep drops keys idle past idleEviction. Caller holds mu.
func (m *MemoryLimiter) sweep(now time.Time) {
	for key, b := range m.buckets {
		if now.Sub(b.seenAt) > idleEviction {
			delete(m.buckets, key)
		}
	}
}
