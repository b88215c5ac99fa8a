// Package usage records per-request accounting after responses are sent:
// daily aggregates, sampled event records and abuse alerts, all kept in the
// KV store.
package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agent-smit/marketplace-mcp/internal/kv"
)

const (
	statsPrefix   = "daily_stats:"
	clientsPrefix = "daily_stats:clients:"
	eventPrefix   = "usage:"
	hourlyPrefix  = "hourly_count:"

	StatsTTL  = 25 * time.Hour
	EventTTL  = 7 * 24 * time.Hour
	hourlyTTL = time.Hour

	// AbuseThreshold is the hourly request count above which a client is
	// reported.
	AbuseThreshold = 200

	SummaryDays = 7
)

// Event is one completed request.
type Event struct {
	ID           string        `json:"id"`
	Timestamp    time.Time     `json:"timestamp"`
	Client       string        `json:"client"`
	Method       string        `json:"method"`
	Endpoint     string        `json:"endpoint"`
	UserAgent    string        `json:"userAgent,omitempty"`
	Origin       string        `json:"origin,omitempty"`
	RPCMethod    string        `json:"rpcMethod,omitempty"`
	Tool         string        `json:"tool,omitempty"`
	Success      bool          `json:"success"`
	StatusCode   int           `json:"statusCode"`
	ErrorCode    int           `json:"errorCode,omitempty"`
	ResponseTime time.Duration `json:"responseTimeNs"`
}

// Tracker is what request handlers use to report events.
type Tracker interface {
	Track(ev Event)
}

// Config holds monitor configuration.
type Config struct {
	Workers      int
	QueueSize    int
	SampleRate   float64
	EventTimeout time.Duration
	// Tools lists the tool names counted in DailyStats.ToolCalls. When empty
	// every tool name is counted.
	Tools []string
}

// Monitor processes usage events on a worker pool. Track never blocks and
// no event is dropped while the monitor is running: when the queue is full
// the event is processed on its own goroutine.
type Monitor struct {
	store   kv.Store
	logger  *zap.Logger
	cfg     Config
	events  chan Event
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool

	// statsMu serializes read-modify-write of the daily aggregates within
	// this process.
	statsMu sync.Mutex

	now    func() time.Time
	sample func() float64
}

// NewMonitor creates a Monitor. Call Start to launch the workers.
func NewMonitor(store kv.Store, cfg Config, logger *zap.Logger) *Monitor {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		store:  store,
		logger: logger.With(zap.String("component", "usage")),
		cfg:    cfg,
		events: make(chan Event, cfg.QueueSize),
		now:    time.Now,
		sample: rand.Float64,
	}
}

// SetClock replaces the time source. Intended for tests.
func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

// Start launches worker goroutines that consume from the event queue.
func (m *Monitor) Start() {
	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
}

// Stop stops accepting events and processes everything already queued.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	close(m.events)
	m.mu.Unlock()

	m.wg.Wait()
	for ev := range m.events {
		m.process(ev)
	}
}

// Track queues ev for processing.
func (m *Monitor) Track(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = m.now()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stopped {
		m.logger.Debug("monitor stopped, event discarded", zap.String("endpoint", ev.Endpoint))
		return
	}

	select {
	case m.events <- ev:
	default:
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.process(ev)
		}()
	}
}

func (m *Monitor) worker() {
	defer m.wg.Done()
	for ev := range m.events {
		m.process(ev)
	}
}

func (m *Monitor) process(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.EventTimeout)
	defer cancel()

	m.safely("daily stats", func() error { return m.updateDailyStats(ctx, ev) })
	if m.cfg.SampleRate > 0 && m.sample() < m.cfg.SampleRate {
		m.safely("store event", func() error { return m.storeEvent(ctx, ev) })
	}
	m.safely("alerts", func() error { return m.checkAlerts(ctx, ev) })
}

func (m *Monitor) safely(step string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("usage step panicked", zap.String("step", step), zap.Any("panic", rec))
		}
	}()
	if err := fn(); err != nil {
		m.logger.Error("usage step failed", zap.String("step", step), zap.Error(err))
	}
}

func dateKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func (m *Monitor) updateDailyStats(ctx context.Context, ev Event) error {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()

	date := dateKey(ev.Timestamp)
	stats, err := m.loadStats(ctx, date)
	if err != nil {
		return err
	}
	if stats == nil {
		s := newDailyStats(date, m.cfg.Tools)
		stats = &s
	}
	if stats.ToolCalls == nil {
		stats.ToolCalls = make(map[string]int64)
	}

	stats.TotalRequests++
	if !ev.Success {
		stats.Errors++
	}
	if ms := float64(ev.ResponseTime) / float64(time.Millisecond); ms > 0 {
		n := float64(stats.TotalRequests)
		stats.AvgResponseTimeMs = (stats.AvgResponseTimeMs*(n-1) + ms) / n
	}
	if ev.Tool != "" {
		if _, known := stats.ToolCalls[ev.Tool]; known || len(m.cfg.Tools) == 0 {
			stats.ToolCalls[ev.Tool]++
		}
	}

	if ev.Client != "" {
		count, err := m.addClient(ctx, date, ev.Client)
		if err != nil {
			return err
		}
		stats.UniqueClients = count
	}

	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling daily stats: %w", err)
	}
	return m.store.Set(ctx, statsPrefix+date, raw, StatsTTL)
}

// addClient records client in the day's set and returns the set size.
func (m *Monitor) addClient(ctx context.Context, date, client string) (int, error) {
	key := clientsPrefix + date
	var clients []string
	raw, err := m.store.Get(ctx, key)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &clients); err != nil {
			m.logger.Warn("discarding corrupt client set", zap.String("key", key), zap.Error(err))
			clients = nil
		}
	case !errors.Is(err, kv.ErrNotFound):
		return 0, fmt.Errorf("loading client set: %w", err)
	}

	for _, c := range clients {
		if c == client {
			return len(clients), nil
		}
	}
	clients = append(clients, client)
	raw, err = json.Marshal(clients)
	if err != nil {
		return 0, fmt.Errorf("marshaling client set: %w", err)
	}
	if err := m.store.Set(ctx, key, raw, StatsTTL); err != nil {
		return 0, fmt.Errorf("storing client set: %w", err)
	}
	return len(clients), nil
}

func (m *Monitor) storeEvent(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	key := fmt.Sprintf("%s%d:%s", eventPrefix, ev.Timestamp.UnixMilli(), ev.ID)
	return m.store.Set(ctx, key, raw, EventTTL)
}

func (m *Monitor) checkAlerts(ctx context.Context, ev Event) error {
	if ev.Client != "" {
		hour := ev.Timestamp.Unix() / 3600
		key := fmt.Sprintf("%s%s:%d", hourlyPrefix, ev.Client, hour)

		var count int64
		raw, err := m.store.Get(ctx, key)
		switch {
		case err == nil:
			count, _ = strconv.ParseInt(string(raw), 10, 64)
		case !errors.Is(err, kv.ErrNotFound):
			return fmt.Errorf("loading hourly count: %w", err)
		}
		count++
		if err := m.store.Set(ctx, key, []byte(strconv.FormatInt(count, 10)), hourlyTTL); err != nil {
			return fmt.Errorf("storing hourly count: %w", err)
		}

		if count > AbuseThreshold {
			m.logger.Warn("high usage alert",
				zap.String("client", ev.Client),
				zap.Int64("requests_this_hour", count),
			)
		}
	}

	if !ev.Success && ev.StatusCode >= 500 {
		m.logger.Error("server error alert",
			zap.Int("status", ev.StatusCode),
			zap.String("endpoint", ev.Endpoint),
			zap.String("client", ev.Client),
		)
	}
	return nil
}

func (m *Monitor) loadStats(ctx context.Context, date string) (*DailyStats, error) {
	raw, err := m.store.Get(ctx, statsPrefix+date)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading daily stats %s: %w", date, err)
	}
	var stats DailyStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		m.logger.Warn("discarding corrupt daily stats", zap.String("date", date), zap.Error(err))
		return nil, nil
	}
	return &stats, nil
}

// DailyStats returns the aggregate for date (YYYY-MM-DD), or nil when none
// was recorded.
func (m *Monitor) DailyStats(ctx context.Context, date string) (*DailyStats, error) {
	return m.loadStats(ctx, date)
}

// Recent returns the recorded days among the last n, oldest first.
func (m *Monitor) Recent(ctx context.Context, n int) ([]DailyStats, error) {
	today := m.now().UTC()
	loaded := make([]*DailyStats, n)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		date := dateKey(today.AddDate(0, 0, -i))
		g.Go(func() error {
			stats, err := m.loadStats(ctx, date)
			if err != nil {
				return err
			}
			loaded[n-1-i] = stats
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	days := make([]DailyStats, 0, n)
	for _, s := range loaded {
		if s != nil {
			days = append(days, *s)
		}
	}
	return days, nil
}

// Summary reports today, the last seven days and a monthly cost estimate.
func (m *Monitor) Summary(ctx context.Context) (*Summary, error) {
	days, err := m.Recent(ctx, SummaryDays)
	if err != nil {
		return nil, err
	}

	today := newDailyStats(dateKey(m.now()), m.cfg.Tools)
	if len(days) > 0 && days[len(days)-1].Date == today.Date {
		today = days[len(days)-1]
	}

	week := summarize(days)
	return &Summary{
		Today:        today,
		Last7Days:    week,
		CostEstimate: EstimateCost(week.TotalRequests, week.AvgResponseTimeMs),
	}, nil
}
