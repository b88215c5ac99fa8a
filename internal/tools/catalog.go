// Package tools holds the static tool catalog and runs tool calls against
// the extensions service.
package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agent-smit/marketplace-mcp/internal/extensions"
	"github.com/agent-smit/marketplace-mcp/internal/mcp"
)

// Tool names.
const (
	SearchExtensions       = "search_extensions"
	GetExtensionDetails    = "get_extension_details"
	GetExtensionCategories = "get_extension_categories"
)

func quoted(vals []string) string {
	q := make([]string, len(vals))
	for i, v := range vals {
		q[i] = `"` + v + `"`
	}
	return strings.Join(q, ", ")
}

var searchSchema = fmt.Sprintf(`{
  "type": "object",
  "properties": {
    "query": {
      "type": "string",
      "description": "Search query for extension name, description, or keywords",
      "minLength": 1,
      "maxLength": %d
    },
    "category": {
      "type": "string",
      "enum": [%s],
      "description": "Filter by extension category"
    },
    "limit": {
      "type": "integer",
      "minimum": 1,
      "maximum": %d,
      "default": %d,
      "description": "Maximum number of results to return"
    },
    "offset": {
      "type": "integer",
      "minimum": 0,
      "default": 0,
      "description": "Number of results to skip for pagination"
    },
    "sort": {
      "type": "string",
      "enum": [%s],
      "default": "relevance",
      "description": "Sort order for results"
    }
  },
  "required": ["query"]
}`, extensions.MaxQueryLength, quoted(extensions.CategoryNames()), extensions.MaxLimit, extensions.DefaultLimit, quoted(extensions.SortNames))

var detailsSchema = fmt.Sprintf(`{
  "type": "object",
  "properties": {
    "name": {
      "type": "string",
      "description": "Extension package name (e.g., directus-extension-display-link)",
      "minLength": 1,
      "maxLength": %d
    }
  },
  "required": ["name"]
}`, extensions.MaxNameLength)

const categoriesSchema = `{"type": "object", "properties": {}}`

var catalog = []mcp.ToolDefinition{
	{
		Name:        SearchExtensions,
		Description: "Search Directus marketplace extensions by query, category, and other filters. Returns a list with extension names, descriptions, popularity indicators, and GitHub/NPM links.",
		InputSchema: json.RawMessage(searchSchema),
	},
	{
		Name:        GetExtensionDetails,
		Description: "Get detailed information about a specific Directus extension including name, version, description, author, and links to GitHub/NPM.",
		InputSchema: json.RawMessage(detailsSchema),
	},
	{
		Name:        GetExtensionCategories,
		Description: "Get a list of all available Directus extension categories with brief descriptions.",
		InputSchema: json.RawMessage(categoriesSchema),
	},
}

// Catalog returns the tool descriptors in a fixed order. The slice is a copy.
func Catalog() []mcp.ToolDefinition {
	out := make([]mcp.ToolDefinition, len(catalog))
	copy(out, catalog)
	return out
}

// Names returns the tool names in catalog order.
func Names() []string {
	out := make([]string, len(catalog))
	for i, t := range catalog {
		out[i] = t.Name
	}
	return out
}
