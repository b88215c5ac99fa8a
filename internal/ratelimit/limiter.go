package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agent-smit/marketplace-mcp/internal/kv"
)

const (
	keyPrefix = "ratelimit:"

	HourWindow = time.Hour
	DayWindow  = 24 * time.Hour
)

// Scope names the window that rejected a request.
type Scope string

const (
	ScopeNone   Scope = ""
	ScopeHourly Scope = "hourly"
	ScopeDaily  Scope = "daily"
)

// Limits configures the per-client quotas. A zero limit means unlimited and
// disables bookkeeping for that window.
type Limits struct {
	Hourly int
	Daily  int
}

// Entry is the persisted counter for one client and window.
type Entry struct {
	Count           int   `json:"count"`
	ResetAt         int64 `json:"resetTime"`    // unix milliseconds
	WindowStartedAt int64 `json:"firstRequest"` // unix milliseconds
}

// Result is the outcome of CheckAndConsume.
type Result struct {
	Allowed   bool
	Scope     Scope
	Remaining int
	Limit     int // 0 when every window is unlimited
	ResetAt   time.Time
}

// Unlimited reports whether no window applied to the request.
func (r Result) Unlimited() bool { return r.Limit == 0 }

// WindowUsage reports consumption of a single window.
type WindowUsage struct {
	Used      int       `json:"used"`
	Limit     int       `json:"limit"` // 0 = unlimited
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetTime"`
}

// Usage reports consumption of both windows for a client.
type Usage struct {
	Client string      `json:"client"`
	Hourly WindowUsage `json:"hourly"`
	Daily  WindowUsage `json:"daily"`
}

// RateLimiter enforces fixed hourly and daily windows per client identity.
// Counters live in a kv.Store; there is no cross-key transaction, so
// concurrent requests from one client may be over- or under-counted by the
// degree of overlap.
type RateLimiter struct {
	store  kv.Store
	limits Limits
	logger *zap.Logger
	now    func() time.Time
}

// NewRateLimiter creates a KV-backed rate limiter.
func NewRateLimiter(store kv.Store, limits Limits, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		store:  store,
		limits: limits,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (rl *RateLimiter) SetClock(now func() time.Time) { rl.now = now }

// Limits returns the configured quotas.
func (rl *RateLimiter) Limits() Limits { return rl.limits }

func windowKey(scope Scope, client string) string {
	return keyPrefix + string(scope) + ":" + client
}

type window struct {
	scope  Scope
	limit  int
	length time.Duration
	key    string
	entry  Entry
}

// CheckAndConsume checks the hourly window, then the daily window, and
// rejects on the first one that is exhausted without incrementing anything.
// On acceptance both limited windows are incremented by exactly one.
func (rl *RateLimiter) CheckAndConsume(ctx context.Context, client string) (Result, error) {
	now := rl.now()

	windows := make([]*window, 0, 2)
	if rl.limits.Hourly > 0 {
		windows = append(windows, &window{scope: ScopeHourly, limit: rl.limits.Hourly, length: HourWindow, key: windowKey(ScopeHourly, client)})
	}
	if rl.limits.Daily > 0 {
		windows = append(windows, &window{scope: ScopeDaily, limit: rl.limits.Daily, length: DayWindow, key: windowKey(ScopeDaily, client)})
	}

	if len(windows) == 0 {
		return Result{Allowed: true, ResetAt: now.Add(HourWindow)}, nil
	}

	for _, w := range windows {
		entry, err := rl.load(ctx, w.key, w.length, now)
		if err != nil {
			return Result{}, err
		}
		w.entry = entry

		if entry.Count >= w.limit {
			return Result{
				Allowed:   false,
				Scope:     w.scope,
				Remaining: 0,
				Limit:     w.limit,
				ResetAt:   time.UnixMilli(entry.ResetAt),
			}, nil
		}
	}

	for _, w := range windows {
		w.entry.Count++
		raw, err := json.Marshal(w.entry)
		if err != nil {
			return Result{}, fmt.Errorf("marshal rate limit entry: %w", err)
		}
		if err := rl.store.Set(ctx, w.key, raw, w.length); err != nil {
			return Result{}, fmt.Errorf("persist %s counter: %w", w.scope, err)
		}
	}

	// Report the window closest to exhaustion; hourly wins ties.
	tightest := windows[0]
	for _, w := range windows[1:] {
		if w.limit-w.entry.Count < tightest.limit-tightest.entry.Count {
			tightest = w
		}
	}
	return Result{
		Allowed:   true,
		Scope:     ScopeNone,
		Remaining: tightest.limit - tightest.entry.Count,
		Limit:     tightest.limit,
		ResetAt:   time.UnixMilli(tightest.entry.ResetAt),
	}, nil
}

// load reads a window entry, starting a fresh window when none is stored or
// when the stored one has reached its reset time.
func (rl *RateLimiter) load(ctx context.Context, key string, length time.Duration, now time.Time) (Entry, error) {
	fresh := Entry{
		Count:           0,
		ResetAt:         now.Add(length).UnixMilli(),
		WindowStartedAt: now.UnixMilli(),
	}

	raw, err := rl.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return fresh, nil
		}
		return Entry{}, fmt.Errorf("load rate limit entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		rl.logger.Warn("discarding corrupt rate limit entry", zap.String("key", key), zap.Error(err))
		return fresh, nil
	}
	if now.UnixMilli() >= entry.ResetAt {
		return fresh, nil
	}
	return entry, nil
}

// Usage reports the client's consumption of both windows without consuming.
func (rl *RateLimiter) Usage(ctx context.Context, client string) (Usage, error) {
	now := rl.now()
	u := Usage{Client: client}

	hourly, err := rl.load(ctx, windowKey(ScopeHourly, client), HourWindow, now)
	if err != nil {
		return Usage{}, err
	}
	daily, err := rl.load(ctx, windowKey(ScopeDaily, client), DayWindow, now)
	if err != nil {
		return Usage{}, err
	}

	u.Hourly = windowUsage(hourly, rl.limits.Hourly)
	u.Daily = windowUsage(daily, rl.limits.Daily)
	return u, nil
}

func windowUsage(e Entry, limit int) WindowUsage {
	wu := WindowUsage{Used: e.Count, Limit: limit, ResetAt: time.UnixMilli(e.ResetAt).UTC()}
	if limit > 0 {
		wu.Remaining = max(0, limit-e.Count)
	} else {
		wu.Remaining = -1
	}
	return wu
}

// ClientIdentity derives the client key from, in order: CF-Connecting-IP,
// the first hop of X-Forwarded-For, X-Real-IP, and finally 127.0.0.1.
func ClientIdentity(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return "127.0.0.1"
}

// Admit consumes one request for the caller and writes the rate limit
// headers. When the request is rejected it writes a 429 response and returns
// false. Storage failures fail open.
func (rl *RateLimiter) Admit(w http.ResponseWriter, r *http.Request) bool {
	client := ClientIdentity(r)
	res, err := rl.CheckAndConsume(r.Context(), client)
	if err != nil {
		rl.logger.Warn("rate limiter unavailable, admitting request", zap.String("client", client), zap.Error(err))
		return true
	}
	if res.Unlimited() {
		return true
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.UnixMilli(), 10))

	if res.Allowed {
		return true
	}

	retryAfter := int(math.Ceil(res.ResetAt.Sub(rl.now()).Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	resetTime := res.ResetAt.UTC().Format(time.RFC3339)

	var message string
	if res.Scope == ScopeHourly {
		message = fmt.Sprintf("Rate limit exceeded. You can make %d requests per hour. Try again after %s.", res.Limit, resetTime)
	} else {
		message = fmt.Sprintf("Daily rate limit exceeded. You can make %d requests per day. Try again after %s.", res.Limit, resetTime)
	}

	rl.logger.Info("rate limit exceeded",
		zap.String("client", client),
		zap.String("scope", string(res.Scope)),
		zap.Int("limit", res.Limit),
	)

	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":          "Rate limit exceeded",
		"message":        message,
		"scope":          res.Scope,
		"resetTime":      resetTime,
		"limit":          res.Limit,
		"upgradeMessage": "For unlimited access, deploy your own instance of this server.",
	})
	return false
}
