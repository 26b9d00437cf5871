// Package ratelimit paces outbound exchange API calls so a run with many
// accounts sharing one credential set stays inside the published limits.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter gates one endpoint class.
type Limiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	Remaining() int
}

// SlidingWindow allows at most limit requests per window.
type SlidingWindow struct {
	limit  int
	window time.Duration

	mu       sync.Mutex
	requests []time.Time
}

func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{limit: limit, window: window}
}

func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.evict(time.Now())
	if len(sw.requests) >= sw.limit {
		return false
	}
	sw.requests = append(sw.requests, time.Now())
	return true
}

// evict drops timestamps that fell out of the window. Caller holds mu.
func (sw *SlidingWindow) evict(now time.Time) {
	cutoff := now.Add(-sw.window)
	kept := sw.requests[:0]
	for _, t := range sw.requests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	sw.requests = kept
}

func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		if sw.Allow() {
			return nil
		}

		sw.mu.Lock()
		wait := 100 * time.Millisecond
		if len(sw.requests) > 0 {
			if until := sw.window - time.Since(sw.requests[0]); until > 0 {
				wait = until
			}
		}
		sw.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (sw *SlidingWindow) Remaining() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.evict(time.Now())
	if n := sw.limit - len(sw.requests); n > 0 {
		return n
	}
	return 0
}

// Manager maps endpoint names to their limiters. Unknown endpoints share a
// conservative default.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]Limiter
	fallback Limiter
}

func NewManager() *Manager {
	return &Manager{
		limiters: make(map[string]Limiter),
		fallback: NewSlidingWindow(5, time.Second),
	}
}

// NewOKXManager carries the documented OKX v5 funding-endpoint limits.
func NewOKXManager() *Manager {
	m := NewManager()
	m.Set("asset/currencies", NewSlidingWindow(6, time.Second))
	m.Set("asset/balances", NewSlidingWindow(6, time.Second))
	m.Set("asset/withdrawal", NewSlidingWindow(6, time.Second))
	m.Set("asset/withdrawal-history", NewSlidingWindow(6, time.Second))
	return m
}

// NewBitgetManager carries the documented Bitget v2 spot endpoint limits.
func NewBitgetManager() *Manager {
	m := NewManager()
	m.Set("spot/public/coins", NewSlidingWindow(10, time.Second))
	m.Set("spot/account/assets", NewSlidingWindow(10, time.Second))
	m.Set("spot/wallet/withdrawal", NewSlidingWindow(5, time.Second))
	m.Set("spot/wallet/withdrawal-records", NewSlidingWindow(10, time.Second))
	return m
}

func (m *Manager) Set(endpoint string, l Limiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[endpoint] = l
}

func (m *Manager) limiter(endpoint string) Limiter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l, ok := m.limiters[endpoint]; ok {
		return l
	}
	return m.fallback
}

// Wait blocks until the endpoint's limiter admits one request.
func (m *Manager) Wait(ctx context.Context, endpoint string) error {
	return m.limiter(endpoint).Wait(ctx)
}

func (m *Manager) Allow(endpoint string) bool {
	return m.limiter(endpoint).Allow()
}

func (m *Manager) Remaining(endpoint string) int {
	return m.limiter(endpoint).Remaining()
}
