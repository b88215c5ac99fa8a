package extensions

import (
	"strings"

	"github.com/agent-smit/marketplace-mcp/internal/registry"
)

// Extension is the normalized detail record for one marketplace extension.
type Extension struct {
	Name        string       `json:"name"`
	Version     string       `json:"version"`
	Description string       `json:"description"`
	Keywords    []string     `json:"keywords"`
	Publisher   Maintainer   `json:"publisher"`
	Maintainers []Maintainer `json:"maintainers"`
	License     string       `json:"license"`
	Date        string       `json:"date"`
	Links       Links        `json:"links"`
}

type Maintainer struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type Links struct {
	Homepage   string `json:"homepage,omitempty"`
	Repository string `json:"repository,omitempty"`
	Bugs       string `json:"bugs,omitempty"`
	NPM        string `json:"npm"`
}

var nameMarkers = []string{"extension", "interface", "display", "layout", "panel", "module", "hook", "theme"}

// IsExtension reports whether a registry package belongs to the
// marketplace: it carries a directus extension keyword, or its name mentions
// directus together with an extension type.
func IsExtension(pkg registry.PackageSummary) bool {
	for _, kw := range pkg.Keywords {
		if strings.Contains(kw, "directus-extension") ||
			strings.Contains(kw, "directus-custom") ||
			strings.Contains(kw, "directus-theme") {
			return true
		}
	}

	if !strings.Contains(pkg.Name, "directus") {
		return false
	}
	for _, m := range nameMarkers {
		if strings.Contains(pkg.Name, m) {
			return true
		}
	}
	return false
}

// fromPackument maps the latest version of a package document. ok is false
// when no "latest" version is published.
func fromPackument(doc *registry.Packument) (*Extension, bool) {
	version, v, ok := doc.Latest()
	if !ok {
		return nil, false
	}

	ext := &Extension{
		Name:        doc.Name,
		Version:     version,
		Description: firstNonEmpty(v.Description, doc.Description),
		Keywords:    []string(v.Keywords),
		Maintainers: make([]Maintainer, 0, len(doc.Maintainers)),
		License:     firstNonEmpty(string(v.License), string(doc.License)),
		Date:        firstNonEmpty(doc.Time[version], doc.Time["created"]),
		Links: Links{
			Homepage:   firstNonEmpty(v.Homepage, doc.Homepage),
			Repository: firstNonEmpty(string(v.Repository), string(doc.Repository)),
			Bugs:       firstNonEmpty(string(v.Bugs), string(doc.Bugs)),
			NPM:        "https://www.npmjs.com/package/" + doc.Name,
		},
	}
	if ext.Keywords == nil {
		ext.Keywords = []string{}
	}
	for _, m := range doc.Maintainers {
		ext.Maintainers = append(ext.Maintainers, Maintainer{Username: m.Handle(), Email: m.Email})
	}
	if len(ext.Maintainers) > 0 {
		ext.Publisher = ext.Maintainers[0]
	}
	return ext, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
