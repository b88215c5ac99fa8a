package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/agent-smit/marketplace-mcp/internal/extensions"
	"github.com/agent-smit/marketplace-mcp/internal/mcp"
	"github.com/agent-smit/marketplace-mcp/internal/registry"
	"github.com/agent-smit/marketplace-mcp/internal/telemetry"
)

// Service is the part of the extensions service the tools call into.
type Service interface {
	Search(ctx context.Context, params extensions.SearchParams) (*registry.SearchResponse, error)
	Details(ctx context.Context, name string) (*extensions.Extension, error)
}

type toolFunc func(ctx context.Context, args json.RawMessage) (interface{}, error)

type tool struct {
	schema  *gojsonschema.Schema
	run     toolFunc
	failure string
}

// Executor validates tool arguments and runs the matching tool.
type Executor struct {
	svc    Service
	tools  map[string]tool
	logger *zap.Logger
}

// NewExecutor compiles the catalog schemas and binds each tool to svc.
func NewExecutor(svc Service, logger *zap.Logger) (*Executor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		svc:    svc,
		tools:  make(map[string]tool, len(catalog)),
		logger: logger.With(zap.String("component", "tools")),
	}

	runs := map[string]struct {
		run     toolFunc
		failure string
	}{
		SearchExtensions:       {e.search, "Search failed"},
		GetExtensionDetails:    {e.details, "Failed to get extension details"},
		GetExtensionCategories: {e.categories, "Failed to get categories"},
	}

	for _, def := range catalog {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(def.InputSchema))
		if err != nil {
			return nil, fmt.Errorf("invalid input schema for %s: %w", def.Name, err)
		}
		r, ok := runs[def.Name]
		if !ok {
			return nil, fmt.Errorf("no implementation for tool %s", def.Name)
		}
		e.tools[def.Name] = tool{schema: schema, run: r.run, failure: r.failure}
	}
	return e, nil
}

// Definitions returns the tool catalog.
func (e *Executor) Definitions() []mcp.ToolDefinition {
	return Catalog()
}

// Call runs the named tool. Unknown names yield MethodNotFound; argument and
// service failures yield InternalError with the cause in data.
func (e *Executor) Call(ctx context.Context, name string, args json.RawMessage) (*mcp.ToolResult, *mcp.JSONRPCError) {
	t, ok := e.tools[name]
	if !ok {
		return nil, mcp.NewMethodNotFound("Unknown tool: " + name)
	}

	ctx, span := telemetry.StartSpan(ctx, "tools.call",
		trace.WithAttributes(attribute.String("tool.name", name)))
	defer span.End()

	if trimmed := bytes.TrimSpace(args); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		args = json.RawMessage("{}")
	}

	out, err := e.run(ctx, t, args)
	if err != nil {
		telemetry.RecordError(span, err)
		e.logger.Warn("tool call failed", zap.String("tool", name), zap.Error(err))
		return nil, mcp.NewInternalError(t.failure + ": " + err.Error()).WithData(err.Error())
	}

	if text, ok := out.(string); ok {
		return mcp.TextResult(text), nil
	}
	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, mcp.NewInternalError(t.failure + ": failed to encode result").WithData(err.Error())
	}
	return mcp.TextResult(string(raw)), nil
}

func (e *Executor) run(ctx context.Context, t tool, args json.RawMessage) (interface{}, error) {
	if err := validate(t.schema, args); err != nil {
		return nil, err
	}
	return t.run(ctx, args)
}

func validate(schema *gojsonschema.Schema, args json.RawMessage) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if result.Valid() {
		return nil
	}
	var msgs []string
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("schema validation failed: %s", strings.Join(msgs, "; "))
}

// SearchResult is the payload of search_extensions.
type SearchResult struct {
	Query      string             `json:"query"`
	Category   string             `json:"category,omitempty"`
	Total      int                `json:"total"`
	Count      int                `json:"count"`
	Extensions []ExtensionSummary `json:"extensions"`
}

// ExtensionSummary is one search hit.
type ExtensionSummary struct {
	Name             string `json:"name"`
	Version          string `json:"version"`
	Description      string `json:"description"`
	MonthlyDownloads int64  `json:"monthlyDownloads"`
	Popularity       string `json:"popularity,omitempty"`
	Link             string `json:"link,omitempty"`
}

func (e *Executor) search(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var params extensions.SearchParams
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	resp, err := e.svc.Search(ctx, params)
	if err != nil {
		return nil, err
	}

	out := SearchResult{
		Query:      params.Query,
		Category:   string(params.Category),
		Total:      resp.Total,
		Count:      len(resp.Objects),
		Extensions: make([]ExtensionSummary, 0, len(resp.Objects)),
	}
	for _, obj := range resp.Objects {
		pkg := obj.Package
		out.Extensions = append(out.Extensions, ExtensionSummary{
			Name:             pkg.Name,
			Version:          pkg.Version,
			Description:      pkg.Description,
			MonthlyDownloads: obj.Downloads.Monthly,
			Popularity:       Popularity(obj.Downloads.Monthly),
			Link:             PreferredLink(pkg.Links.Repository, pkg.Links.NPM),
		})
	}
	return out, nil
}

func (e *Executor) details(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var in struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	ext, err := e.svc.Details(ctx, in.Name)
	if errors.Is(err, extensions.ErrNotFound) {
		return fmt.Sprintf("Extension %q not found in the Directus marketplace.", in.Name), nil
	}
	if err != nil {
		return nil, err
	}
	return ext, nil
}

// CategoriesResult is the payload of get_extension_categories.
type CategoriesResult struct {
	Categories []extensions.CategoryInfo `json:"categories"`
}

func (e *Executor) categories(context.Context, json.RawMessage) (interface{}, error) {
	return CategoriesResult{Categories: extensions.Categories()}, nil
}

// Popularity buckets monthly downloads.
func Popularity(monthly int64) string {
	switch {
	case monthly > 1000:
		return "very popular"
	case monthly > 500:
		return "popular"
	case monthly > 100:
		return "moderately popular"
	}
	return ""
}

// PreferredLink returns a browsable repository URL, falling back to npm.
func PreferredLink(repository, npm string) string {
	if repository != "" {
		link := strings.TrimPrefix(repository, "git+")
		return strings.TrimSuffix(link, ".git")
	}
	return npm
}
