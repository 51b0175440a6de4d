package safety

import (
	"sort"
	"sync"
	"time"
)

// RateLimiter is a token bucket refilled once per whole elapsed second.
// Partial seconds carry over to the next refill.
type RateLimiter struct {
	mu sync.Mutex

	name       string
	capacity   int
	refillRate int
	tokens     int
	lastRefill time.Time
	now        func() time.Time
}

// RateLimiterStats is a point-in-time view of one bucket.
type RateLimiterStats struct {
	Name       string
	Capacity   int
	Tokens     int
	RefillRate int
	LastRefill time.Time
}

// NewRateLimiter returns a full bucket. A nil clock means time.Now.
func NewRateLimiter(name string, capacity, refillRate int, clock func() time.Time) *RateLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &RateLimiter{
		name:       name,
		capacity:   capacity,
		refillRate: refillRate,
		tokens:     capacity,
		lastRefill: clock(),
		now:        clock,
	}
}

func (rl *RateLimiter) Allow() bool { return rl.AllowN(1) }

// AllowN takes n tokens or none.
func (rl *RateLimiter) AllowN(n int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens < n {
		return false
	}
	rl.tokens -= n
	return true
}

func (rl *RateLimiter) GetStats() RateLimiterStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	return RateLimiterStats{
		Name:       rl.name,
		Capacity:   rl.capacity,
		Tokens:     rl.tokens,
		RefillRate: rl.refillRate,
		LastRefill: rl.lastRefill,
	}
}

// caller holds mu
func (rl *RateLimiter) refill() {
	whole := int(rl.now().Sub(rl.lastRefill) / time.Second)
	if whole <= 0 {
		return
	}
	rl.tokens = min(rl.capacity, rl.tokens+whole*rl.refillRate)
	rl.lastRefill = rl.lastRefill.Add(time.Duration(whole) * time.Second)
}

// RateLimiterManager hands out one bucket per strategy, created on first use.
type RateLimiterManager struct {
	mu         sync.RWMutex
	buckets    map[string]*RateLimiter
	capacity   int
	refillRate int
	now        func() time.Time
}

func NewRateLimiterManager(capacity, refillRate int, clock func() time.Time) *RateLimiterManager {
	return &RateLimiterManager{
		buckets:    make(map[string]*RateLimiter),
		capacity:   capacity,
		refillRate: refillRate,
		now:        clock,
	}
}

// GetOrCreate returns the bucket for key.
func (m *RateLimiterManager) GetOrCreate(key string) *RateLimiter {
	m.mu.RLock()
	rl, found := m.buckets[key]
	m.mu.RUnlock()
	if found {
		return rl
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if rl, found = m.buckets[key]; !found {
		rl = NewRateLimiter(key, m.capacity, m.refillRate, m.now)
		m.buckets[key] = rl
	}
	return rl
}

// GetStats returns every bucket ordered by name.
func (m *RateLimiterManager) GetStats() []RateLimiterStats {
	m.mu.RLock()
	stats := make([]RateLimiterStats, 0, len(m.buckets))
	for _, rl := range m.buckets {
		stats = append(stats, rl.GetStats())
	}
	m.mu.RUnlock()

	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}
