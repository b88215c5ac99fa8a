package extensions

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDefaults(t *testing.T) {
	p, err := SearchParams{Query: "  maps  "}.Validate()
	require.NoError(t, err)
	assert.Equal(t, "maps", p.Query)
	assert.Equal(t, DefaultLimit, p.Limit)
	assert.Equal(t, 0, p.Offset)
	assert.Equal(t, SortRelevance, p.Sort)
}

func TestValidateIssues(t *testing.T) {
	tests := []struct {
		name   string
		params SearchParams
		want   string
	}{
		{"empty query", SearchParams{}, "Query cannot be empty"},
		{"long query", SearchParams{Query: strings.Repeat("a", 101)}, "Query too long"},
		{"only metacharacters", SearchParams{Query: "<$()>"}, "empty after sanitization"},
		{"bad category", SearchParams{Query: "x", Category: "widgets"}, "Unknown category"},
		{"negative limit", SearchParams{Query: "x", Limit: -1}, "at least 1"},
		{"large limit", SearchParams{Query: "x", Limit: 51}, "cannot exceed 50"},
		{"negative offset", SearchParams{Query: "x", Offset: -5}, "Offset cannot be negative"},
		{"bad sort", SearchParams{Query: "x", Sort: "stars"}, "Unknown sort"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.params.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
			assert.Contains(t, err.Error(), "invalid search parameters")
		})
	}
}

func TestSanitizeQuery(t *testing.T) {
	assert.Equal(t, "scriptalert1/script", SanitizeQuery(`<script>alert(1)</script>`))
	assert.Equal(t, "rm -rf HOME", SanitizeQuery("; rm -rf `$HOME`"))
	assert.Equal(t, "a b", SanitizeQuery(` "a" 'b' `))
	assert.Equal(t, "pipesand", SanitizeQuery(`pipes|&and[]{}\`))
}

func TestValidateName(t *testing.T) {
	valid := []string{"directus-extension-map", "@acme/directus-extension-x", "a.b_c-1"}
	for _, n := range valid {
		assert.NoError(t, ValidateName(n), n)
	}
	invalid := []string{"", "has space", "semi;colon", strings.Repeat("a", 101)}
	for _, n := range invalid {
		assert.Error(t, ValidateName(n), n)
	}
}

func TestCategories(t *testing.T) {
	cats := Categories()
	require.Len(t, cats, 9)
	assert.Equal(t, CategoryInterfaces, cats[0].Name)
	assert.Equal(t, "directus-theme", CategoryThemes.Keyword())
	assert.True(t, CategoryHooks.Valid())
	assert.False(t, Category("widgets").Valid())

	cats[0].Name = "mutated"
	assert.Equal(t, CategoryInterfaces, Categories()[0].Name, "catalog must not be mutable through the copy")
	assert.Len(t, CategoryNames(), 9)
}
