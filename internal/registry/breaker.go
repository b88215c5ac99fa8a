package registry

import (
	"sync"
	"time"
)

// BreakerState represents the current state of a circuit breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // Healthy, allowing requests
	BreakerOpen                         // Tripped, rejecting requests
	BreakerHalfOpen                     // Allowing a single probe request
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	FailThreshold int           // Consecutive failures before opening
	OpenDuration  time.Duration // How long to stay open before a half-open probe
}

// DefaultBreakerConfig opens after 5 consecutive failures for 30 seconds.
var DefaultBreakerConfig = BreakerConfig{FailThreshold: 5, OpenDuration: 30 * time.Second}

type breakerEntry struct {
	state    BreakerState
	failures int
	openedAt time.Time
}

// Breaker tracks circuit state per upstream endpoint label.
type Breaker struct {
	mu      sync.Mutex
	cfg     BreakerConfig
	entries map[string]*breakerEntry
	now     func() time.Time
}

// NewBreaker creates a circuit breaker with the given settings.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailThreshold <= 0 {
		cfg.FailThreshold = DefaultBreakerConfig.FailThreshold
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = DefaultBreakerConfig.OpenDuration
	}
	return &Breaker{
		cfg:     cfg,
		entries: make(map[string]*breakerEntry),
		now:     time.Now,
	}
}

// Allow reports whether the label's circuit permits a request. An open
// circuit lets exactly one probe through once OpenDuration has elapsed.
func (b *Breaker) Allow(label string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.getOrCreate(label)

	switch e.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(e.openedAt) >= b.cfg.OpenDuration {
			e.state = BreakerHalfOpen
			return true
		}
		return false
	}
	return false
}

// RecordSuccess closes the circuit.
func (b *Breaker) RecordSuccess(label string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.getOrCreate(label)
	e.failures = 0
	e.state = BreakerClosed
}

// RecordFailure counts a failure and opens the circuit at the threshold or
// when a half-open probe fails.
func (b *Breaker) RecordFailure(label string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.getOrCreate(label)
	e.failures++

	if e.state == BreakerHalfOpen || e.failures >= b.cfg.FailThreshold {
		e.state = BreakerOpen
		e.openedAt = b.now()
	}
}

// State returns the current circuit state for a label.
func (b *Breaker) State(label string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[label]
	if !ok {
		return BreakerClosed
	}
	return e.state
}

// Reset clears all circuit state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = make(map[string]*breakerEntry)
}

func (b *Breaker) getOrCreate(label string) *breakerEntry {
	e, ok := b.entries[label]
	if !ok {
		e = &breakerEntry{state: BreakerClosed}
		b.entries[label] = e
	}
	return e
}
