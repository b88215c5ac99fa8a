// Package extensions implements marketplace search and detail lookups over
// the npm registry, fronted by the KV cache.
package extensions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/agent-smit/marketplace-mcp/internal/cache"
	"github.com/agent-smit/marketplace-mcp/internal/registry"
)

const (
	SearchTTL  = 5 * time.Minute
	DetailsTTL = time.Hour

	// sharedCallTimeout bounds an upstream call that outlives the caller
	// which started it.
	sharedCallTimeout = 30 * time.Second
)

// ErrNotFound is returned by Details for unknown packages.
var ErrNotFound = errors.New("extension not found")

// Registry is the upstream the service reads from.
type Registry interface {
	Search(ctx context.Context, q registry.SearchQuery) (*registry.SearchResponse, error)
	Package(ctx context.Context, name string) (*registry.Packument, error)
}

// Service answers search and detail queries with cache-aside semantics.
// Concurrent misses for the same key share one upstream call.
type Service struct {
	registry Registry
	cache    *cache.Cache
	group    singleflight.Group
	logger   *zap.Logger
}

// NewService creates a Service.
func NewService(reg Registry, c *cache.Cache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		registry: reg,
		cache:    c,
		logger:   logger.With(zap.String("component", "extensions")),
	}
}

// SearchKey returns the cache key for already-normalized params.
func SearchKey(p SearchParams) string {
	var category any
	if p.Category != "" {
		category = string(p.Category)
	}
	return cache.Key("search", map[string]any{
		"query":    p.Query,
		"category": category,
		"limit":    p.Limit,
		"offset":   p.Offset,
		"sort":     string(p.Sort),
	})
}

// DetailsKey returns the cache key for a package name.
func DetailsKey(name string) string {
	return "extension:" + name
}

// BuildQuery translates search params into a registry query.
func BuildQuery(p SearchParams) registry.SearchQuery {
	text := "keywords:directus-extension " + p.Query
	if kw := p.Category.Keyword(); kw != "" {
		text += " keywords:" + kw
	}

	q := registry.SearchQuery{Text: text, Size: p.Limit, From: p.Offset}
	switch p.Sort {
	case SortDownloads:
		q.Popularity, q.Quality, q.Maintenance = 1.0, 0.1, 0.1
	case SortUpdated:
		q.Maintenance, q.Quality, q.Popularity = 1.0, 0.1, 0.1
	default:
		q.Quality, q.Popularity, q.Maintenance = 0.65, 0.98, 0.5
	}
	return q
}

// Search validates params and returns matching extensions.
func (s *Service) Search(ctx context.Context, params SearchParams) (*registry.SearchResponse, error) {
	p, err := params.Validate()
	if err != nil {
		return nil, err
	}

	key := SearchKey(p)
	if cached, ok := cache.Get[registry.SearchResponse](ctx, s.cache, key); ok {
		return &cached, nil
	}

	v, err := s.shared(ctx, key, func(ctx context.Context) (interface{}, error) {
		resp, err := s.registry.Search(ctx, BuildQuery(p))
		if err != nil {
			return nil, err
		}

		filtered := *resp
		filtered.Objects = make([]registry.SearchObject, 0, len(resp.Objects))
		for _, obj := range resp.Objects {
			if IsExtension(obj.Package) {
				filtered.Objects = append(filtered.Objects, obj)
			}
		}

		cache.Set(ctx, s.cache, key, filtered, SearchTTL)
		return &filtered, nil
	})
	if err != nil {
		s.logger.Warn("search failed", zap.String("query", p.Query), zap.Error(err))
		return nil, fmt.Errorf("failed to search extensions: %w", err)
	}
	return v.(*registry.SearchResponse), nil
}

// Details returns the latest published record for name.
func (s *Service) Details(ctx context.Context, name string) (*Extension, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	key := DetailsKey(name)
	if cached, ok := cache.Get[Extension](ctx, s.cache, key); ok {
		return &cached, nil
	}

	v, err := s.shared(ctx, key, func(ctx context.Context) (interface{}, error) {
		doc, err := s.registry.Package(ctx, name)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				return nil, fmt.Errorf("%w: '%s'", ErrNotFound, name)
			}
			return nil, err
		}

		ext, ok := fromPackument(doc)
		if !ok {
			return nil, fmt.Errorf("no valid version found for '%s'", name)
		}

		cache.Set(ctx, s.cache, key, *ext, DetailsTTL)
		return ext, nil
	})
	if err != nil {
		s.logger.Warn("details lookup failed", zap.String("name", name), zap.Error(err))
		return nil, fmt.Errorf("failed to get extension details: %w", err)
	}
	return v.(*Extension), nil
}

// shared runs fn once per key across concurrent callers. fn runs on a context
// detached from the starting caller's cancellation; each caller stops waiting
// when its own ctx is done.
func (s *Service) shared(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	ch := s.group.DoChan(key, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedCallTimeout)
		defer cancel()
		return fn(callCtx)
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
