package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/agent-smit/marketplace-mcp/internal/telemetry"
)

const (
	DefaultBaseURL   = "https://registry.npmjs.org"
	DefaultSearchURL = "https://registry.npmjs.org/-/v1/search"
	UserAgent        = "directus-marketplace-search-mcp/1.0.0"

	maxResponseSize = 16 << 20

	labelSearch  = "search"
	labelPackage = "package"
)

var (
	// ErrNotFound is returned when the registry has no such package.
	ErrNotFound = errors.New("package not found")
	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = errors.New("registry circuit open")
)

// StatusError reports a non-success response from the registry.
type StatusError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("npm registry API error: %s", e.Status)
}

// Config configures the registry client.
type Config struct {
	BaseURL   string
	SearchURL string
	Timeout   time.Duration
	// RPS bounds outbound calls per second; zero disables throttling.
	RPS     float64
	Burst   int
	Breaker BreakerConfig
}

// Client talks to the npm registry.
type Client struct {
	http      *http.Client
	baseURL   string
	searchURL string
	limiter   *rate.Limiter
	breaker   *Breaker
	logger    *zap.Logger
}

// NewClient creates a registry client. Redirects are not followed.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.SearchURL == "" {
		cfg.SearchURL = DefaultSearchURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = max(1, int(cfg.RPS))
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	return &Client{
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		searchURL: cfg.SearchURL,
		limiter:   limiter,
		breaker:   NewBreaker(cfg.Breaker),
		logger:    logger.With(zap.String("component", "registry")),
	}
}

// Breaker exposes the client's circuit breaker.
func (c *Client) Breaker() *Breaker { return c.breaker }

// Search runs a registry text search.
func (c *Client) Search(ctx context.Context, q SearchQuery) (*SearchResponse, error) {
	u, err := url.Parse(c.searchURL)
	if err != nil {
		return nil, fmt.Errorf("parse search url: %w", err)
	}
	v := u.Query()
	v.Set("text", q.Text)
	v.Set("size", strconv.Itoa(q.Size))
	v.Set("from", strconv.Itoa(q.From))
	setWeight(v, "quality", q.Quality)
	setWeight(v, "popularity", q.Popularity)
	setWeight(v, "maintenance", q.Maintenance)
	u.RawQuery = v.Encode()

	var out SearchResponse
	if err := c.getJSON(ctx, labelSearch, u.String(), &out); err != nil {
		return nil, err
	}
	if out.Objects == nil {
		out.Objects = []SearchObject{}
	}
	return &out, nil
}

// Package fetches the package document for name. A 404 yields ErrNotFound.
func (c *Client) Package(ctx context.Context, name string) (*Packument, error) {
	var out Packument
	err := c.getJSON(ctx, labelPackage, c.baseURL+"/"+url.PathEscape(name), &out)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	return &out, nil
}

func setWeight(v url.Values, key string, w float64) {
	if w > 0 {
		v.Set(key, strconv.FormatFloat(w, 'f', -1, 64))
	}
}

func (c *Client) getJSON(ctx context.Context, label, target string, out interface{}) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "registry."+label,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.url", target)),
	)
	defer span.End()
	defer func() { telemetry.RecordError(span, err) }()

	if !c.breaker.Allow(label) {
		return ErrCircuitOpen
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("registry throttle: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure(label)
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	c.logger.Debug("registry call",
		zap.String("op", label),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			c.breaker.RecordFailure(label)
		} else {
			c.breaker.RecordSuccess(label)
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, URL: target}
	}
	c.breaker.RecordSuccess(label)

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
