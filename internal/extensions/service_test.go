package extensions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-smit/marketplace-mcp/internal/cache"
	"github.com/agent-smit/marketplace-mcp/internal/kv"
	"github.com/agent-smit/marketplace-mcp/internal/registry"
)

type fakeRegistry struct {
	searchCalls  atomic.Int32
	packageCalls atomic.Int32
	lastQuery    registry.SearchQuery
	mu           sync.Mutex

	searchResp *registry.SearchResponse
	searchErr  error
	docs       map[string]*registry.Packument
	packageErr error
	gate       chan struct{}
	docGate    chan struct{}
}

func (f *fakeRegistry) Search(ctx context.Context, q registry.SearchQuery) (*registry.SearchResponse, error) {
	f.searchCalls.Add(1)
	f.mu.Lock()
	f.lastQuery = q
	f.mu.Unlock()
	if err := wait(ctx, f.gate); err != nil {
		return nil, err
	}
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.searchResp, nil
}

func (f *fakeRegistry) Package(ctx context.Context, name string) (*registry.Packument, error) {
	f.packageCalls.Add(1)
	if err := wait(ctx, f.docGate); err != nil {
		return nil, err
	}
	if f.packageErr != nil {
		return nil, f.packageErr
	}
	doc, ok := f.docs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", registry.ErrNotFound, name)
	}
	return doc, nil
}

// wait blocks until gate is closed or ctx is done, like a slow upstream.
func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newTestService(reg Registry) (*Service, *kv.Memory, *time.Time) {
	store := kv.NewMemory()
	now := time.UnixMilli(1_700_000_000_000)
	store.SetClock(func() time.Time { return now })
	c := cache.New(store, nil)
	c.SetClock(func() time.Time { return now })
	return NewService(reg, c, nil), store, &now
}

func pkg(name string, keywords ...string) registry.SearchObject {
	return registry.SearchObject{Package: registry.PackageSummary{Name: name, Keywords: keywords}}
}

func TestSearchFiltersAndCaches(t *testing.T) {
	reg := &fakeRegistry{searchResp: &registry.SearchResponse{
		Objects: []registry.SearchObject{
			pkg("directus-extension-map", "directus-extension"),
			pkg("left-pad", "string"),
			pkg("directus-interface-color"),
		},
		Total: 3,
	}}
	svc, _, now := newTestService(reg)
	ctx := context.Background()

	resp, err := svc.Search(ctx, SearchParams{Query: "map"})
	require.NoError(t, err)
	require.Len(t, resp.Objects, 2)
	assert.Equal(t, "directus-extension-map", resp.Objects[0].Package.Name)
	assert.Equal(t, "directus-interface-color", resp.Objects[1].Package.Name)

	_, err = svc.Search(ctx, SearchParams{Query: "map", Limit: 10, Sort: SortRelevance})
	require.NoError(t, err)
	assert.EqualValues(t, 1, reg.searchCalls.Load(), "equivalent params must hit the cache")

	*now = now.Add(SearchTTL + time.Millisecond)
	_, err = svc.Search(ctx, SearchParams{Query: "map"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, reg.searchCalls.Load(), "expired entry must go upstream")
}

func TestSearchBuildsQuery(t *testing.T) {
	reg := &fakeRegistry{searchResp: &registry.SearchResponse{}}
	svc, _, _ := newTestService(reg)

	_, err := svc.Search(context.Background(), SearchParams{Query: "chart", Category: CategoryPanels, Limit: 5, Offset: 20, Sort: SortDownloads})
	require.NoError(t, err)

	q := reg.lastQuery
	assert.Equal(t, "keywords:directus-extension chart keywords:directus-custom-panel", q.Text)
	assert.Equal(t, 5, q.Size)
	assert.Equal(t, 20, q.From)
	assert.Equal(t, 1.0, q.Popularity)
	assert.Equal(t, 0.1, q.Quality)
}

func TestBuildQueryWeights(t *testing.T) {
	tests := []struct {
		sort                             Sort
		quality, popularity, maintenance float64
	}{
		{SortRelevance, 0.65, 0.98, 0.5},
		{SortCreated, 0.65, 0.98, 0.5},
		{SortDownloads, 0.1, 1.0, 0.1},
		{SortUpdated, 0.1, 0.1, 1.0},
	}
	for _, tc := range tests {
		t.Run(string(tc.sort), func(t *testing.T) {
			q := BuildQuery(SearchParams{Query: "x", Sort: tc.sort, Limit: 10})
			assert.Equal(t, tc.quality, q.Quality)
			assert.Equal(t, tc.popularity, q.Popularity)
			assert.Equal(t, tc.maintenance, q.Maintenance)
			assert.Equal(t, "keywords:directus-extension x", q.Text)
		})
	}
}

func TestSearchInvalidParams(t *testing.T) {
	reg := &fakeRegistry{}
	svc, _, _ := newTestService(reg)

	_, err := svc.Search(context.Background(), SearchParams{Query: "", Limit: 99})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Issues, 2)
	assert.Zero(t, reg.searchCalls.Load())
}

func TestSearchUpstreamFailureNotCached(t *testing.T) {
	reg := &fakeRegistry{searchErr: &registry.StatusError{StatusCode: 503, Status: "503 Service Unavailable"}}
	svc, store, _ := newTestService(reg)

	_, err := svc.Search(context.Background(), SearchParams{Query: "map"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to search extensions")
	var se *registry.StatusError
	assert.ErrorAs(t, err, &se)
	assert.Zero(t, store.Len())
}

func TestSearchCoalescesConcurrentMisses(t *testing.T) {
	reg := &fakeRegistry{
		searchResp: &registry.SearchResponse{Objects: []registry.SearchObject{pkg("directus-extension-a", "directus-extension")}},
		gate:       make(chan struct{}),
	}
	svc, _, _ := newTestService(reg)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := svc.Search(context.Background(), SearchParams{Query: "a"})
			assert.NoError(t, err)
			assert.Len(t, resp.Objects, 1)
		}()
	}

	require.Eventually(t, func() bool { return reg.searchCalls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(reg.gate)
	wg.Wait()

	assert.LessOrEqual(t, reg.searchCalls.Load(), int32(8))
	assert.GreaterOrEqual(t, reg.searchCalls.Load(), int32(1))
}

func TestSearchSharedCallSurvivesCancelledCaller(t *testing.T) {
	reg := &fakeRegistry{
		searchResp: &registry.SearchResponse{Objects: []registry.SearchObject{pkg("directus-extension-a", "directus-extension")}},
		gate:       make(chan struct{}),
	}
	svc, _, _ := newTestService(reg)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := svc.Search(ctxA, SearchParams{Query: "a"})
		errA <- err
	}()
	require.Eventually(t, func() bool { return reg.searchCalls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		resp *registry.SearchResponse
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		resp, err := svc.Search(context.Background(), SearchParams{Query: "a"})
		resB <- result{resp, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(reg.gate)
	select {
	case r := <-resB:
		require.NoError(t, r.err)
		assert.Len(t, r.resp.Objects, 1)
	case <-time.After(time.Second):
		t.Fatal("second caller did not return")
	}

	// The shared call completed and filled the cache for later callers.
	_, err := svc.Search(context.Background(), SearchParams{Query: "a"})
	require.NoError(t, err)
	assert.LessOrEqual(t, reg.searchCalls.Load(), int32(2))
}

func TestDetailsSharedCallSurvivesCancelledCaller(t *testing.T) {
	reg := &fakeRegistry{
		docs: map[string]*registry.Packument{"directus-extension-map": {
			Name:     "directus-extension-map",
			DistTags: map[string]string{"latest": "1.0.0"},
			Versions: map[string]registry.Version{"1.0.0": {}},
		}},
		docGate: make(chan struct{}),
	}
	svc, _, _ := newTestService(reg)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := svc.Details(ctxA, "directus-extension-map")
		errA <- err
	}()
	require.Eventually(t, func() bool { return reg.packageCalls.Load() == 1 }, time.Second, time.Millisecond)

	errB := make(chan error, 1)
	go func() {
		_, err := svc.Details(context.Background(), "directus-extension-map")
		errB <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(reg.docGate)
	select {
	case err := <-errB:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second caller did not return")
	}
}

func TestDetails(t *testing.T) {
	reg := &fakeRegistry{docs: map[string]*registry.Packument{
		"directus-extension-map": {
			Name:        "directus-extension-map",
			Description: "fallback description",
			DistTags:    map[string]string{"latest": "1.0.0"},
			Versions: map[string]registry.Version{
				"1.0.0": {Keywords: registry.Keywords{"directus-extension"}, License: "MIT", Repository: "https://github.com/x/map"},
			},
			Maintainers: []registry.Person{{Name: "jane", Email: "jane@example.com"}, {Name: "bob"}},
			Time:        map[string]string{"created": "2025-01-01", "1.0.0": "2025-06-01"},
			Homepage:    "https://map.example.com",
		},
	}}
	svc, _, _ := newTestService(reg)
	ctx := context.Background()

	ext, err := svc.Details(ctx, "directus-extension-map")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", ext.Version)
	assert.Equal(t, "fallback description", ext.Description)
	assert.Equal(t, "MIT", ext.License)
	assert.Equal(t, "2025-06-01", ext.Date)
	assert.Equal(t, Maintainer{Username: "jane", Email: "jane@example.com"}, ext.Publisher)
	assert.Len(t, ext.Maintainers, 2)
	assert.Equal(t, "https://map.example.com", ext.Links.Homepage)
	assert.Equal(t, "https://github.com/x/map", ext.Links.Repository)
	assert.Equal(t, "https://www.npmjs.com/package/directus-extension-map", ext.Links.NPM)

	_, err = svc.Details(ctx, "directus-extension-map")
	require.NoError(t, err)
	assert.EqualValues(t, 1, reg.packageCalls.Load())
}

func TestDetailsNotFound(t *testing.T) {
	svc, _, _ := newTestService(&fakeRegistry{})
	_, err := svc.Details(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDetailsNoLatestVersion(t *testing.T) {
	reg := &fakeRegistry{docs: map[string]*registry.Packument{
		"broken": {Name: "broken", DistTags: map[string]string{}},
	}}
	svc, _, _ := newTestService(reg)
	_, err := svc.Details(context.Background(), "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no valid version")
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestDetailsInvalidName(t *testing.T) {
	reg := &fakeRegistry{}
	svc, _, _ := newTestService(reg)
	_, err := svc.Details(context.Background(), "../etc/passwd;rm")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Zero(t, reg.packageCalls.Load())
}

func TestIsExtension(t *testing.T) {
	tests := []struct {
		name     string
		keywords []string
		want     bool
	}{
		{"anything", []string{"directus-extension-interface"}, true},
		{"anything", []string{"directus-custom-panel"}, true},
		{"anything", []string{"directus-theme"}, true},
		{"directus-hook-audit", nil, true},
		{"@acme/directus-layout-board", nil, true},
		{"directus-sdk", []string{"directus"}, false},
		{"left-pad", nil, false},
		{"extension-kit", nil, false},
	}
	for _, tc := range tests {
		got := IsExtension(registry.PackageSummary{Name: tc.name, Keywords: tc.keywords})
		assert.Equal(t, tc.want, got, "%s %v", tc.name, tc.keywords)
	}
}
