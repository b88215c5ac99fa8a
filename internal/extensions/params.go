package extensions

import (
	"fmt"
	"regexp"
	"strings"
)

// Sort selects the registry scoring profile.
type Sort string

const (
	SortRelevance Sort = "relevance"
	SortDownloads Sort = "downloads"
	SortUpdated   Sort = "updated"
	SortCreated   Sort = "created"
)

// SortNames lists the accepted sort values.
var SortNames = []string{string(SortRelevance), string(SortDownloads), string(SortUpdated), string(SortCreated)}

const (
	DefaultLimit   = 10
	MaxLimit       = 50
	MaxQueryLength = 100
	MaxNameLength  = 100
)

// SearchParams are the inputs of a marketplace search. Zero Limit and empty
// Sort take their defaults during validation.
type SearchParams struct {
	Query    string   `json:"query"`
	Category Category `json:"category,omitempty"`
	Limit    int      `json:"limit,omitempty"`
	Offset   int      `json:"offset,omitempty"`
	Sort     Sort     `json:"sort,omitempty"`
}

// ValidationError lists every problem found in a set of inputs.
type ValidationError struct {
	Subject string
	Issues  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Subject, strings.Join(e.Issues, ", "))
}

var unsafeQueryChars = strings.NewReplacer(
	"<", "", ">", "",
	";", "", "&", "", "|", "", "`", "", "$", "",
	"(", "", ")", "", "{", "", "}", "", "[", "", "]", "", `\`, "",
	"'", "", `"`, "",
)

// SanitizeQuery strips markup, shell metacharacters and quotes.
func SanitizeQuery(q string) string {
	return strings.TrimSpace(unsafeQueryChars.Replace(q))
}

// Validate checks p, applies defaults, and returns the normalized params.
func (p SearchParams) Validate() (SearchParams, error) {
	var issues []string

	switch n := len([]rune(p.Query)); {
	case n == 0:
		issues = append(issues, "Query cannot be empty")
	case n > MaxQueryLength:
		issues = append(issues, "Query too long")
	default:
		p.Query = SanitizeQuery(p.Query)
		if p.Query == "" {
			issues = append(issues, "Query is empty after sanitization")
		}
	}

	if p.Category != "" && !p.Category.Valid() {
		issues = append(issues, fmt.Sprintf("Unknown category %q", p.Category))
	}

	if p.Limit == 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit < 1 {
		issues = append(issues, "Limit must be at least 1")
	} else if p.Limit > MaxLimit {
		issues = append(issues, "Limit cannot exceed 50")
	}

	if p.Offset < 0 {
		issues = append(issues, "Offset cannot be negative")
	}

	switch p.Sort {
	case "":
		p.Sort = SortRelevance
	case SortRelevance, SortDownloads, SortUpdated, SortCreated:
	default:
		issues = append(issues, fmt.Sprintf("Unknown sort %q", p.Sort))
	}

	if len(issues) > 0 {
		return SearchParams{}, &ValidationError{Subject: "search parameters", Issues: issues}
	}
	return p, nil
}

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9\-_.@/]+$`)

// ValidateName checks a package name before it is used in a registry URL.
func ValidateName(name string) error {
	var issues []string
	switch {
	case name == "":
		issues = append(issues, "Extension name cannot be empty")
	case len(name) > MaxNameLength:
		issues = append(issues, "Extension name too long")
	case !namePattern.MatchString(name):
		issues = append(issues, "Invalid extension name format")
	}
	if len(issues) > 0 {
		return &ValidationError{Subject: "extension name", Issues: issues}
	}
	return nil
}
