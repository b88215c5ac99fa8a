package registry

import (
	"bytes"
	"encoding/json"
)

// SearchQuery is a request to the registry search endpoint. The weights are
// the registry's scoring knobs; zero weights are omitted.
type SearchQuery struct {
	Text        string
	Size        int
	From        int
	Quality     float64
	Popularity  float64
	Maintenance float64
}

// SearchResponse mirrors the registry's /-/v1/search document.
type SearchResponse struct {
	Objects []SearchObject `json:"objects"`
	Total   int            `json:"total"`
	Time    string         `json:"time"`
}

type SearchObject struct {
	Downloads   Downloads       `json:"downloads"`
	Dependents  json.RawMessage `json:"dependents,omitempty"`
	Updated     string          `json:"updated,omitempty"`
	SearchScore float64         `json:"searchScore"`
	Package     PackageSummary  `json:"package"`
}

type Downloads struct {
	Monthly int64 `json:"monthly"`
	Weekly  int64 `json:"weekly"`
}

type PackageSummary struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description,omitempty"`
	Keywords    Keywords `json:"keywords,omitempty"`
	Date        string   `json:"date,omitempty"`
	Links       Links    `json:"links"`
	Publisher   Person   `json:"publisher"`
	Maintainers []Person `json:"maintainers,omitempty"`
	License     string   `json:"license,omitempty"`
}

type Links struct {
	Homepage   string `json:"homepage,omitempty"`
	Repository string `json:"repository,omitempty"`
	Bugs       string `json:"bugs,omitempty"`
	NPM        string `json:"npm,omitempty"`
}

// Person is a publisher or maintainer. Search results call the handle
// "username" while package documents call it "name"; both decode here.
type Person struct {
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Handle returns the username, falling back to name.
func (p Person) Handle() string {
	if p.Username != "" {
		return p.Username
	}
	return p.Name
}

// Packument is the subset of a registry package document used here.
type Packument struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	DistTags    map[string]string  `json:"dist-tags"`
	Versions    map[string]Version `json:"versions"`
	Maintainers []Person           `json:"maintainers"`
	Time        map[string]string  `json:"time"`
	License     License            `json:"license"`
	Homepage    string             `json:"homepage"`
	Repository  URLField           `json:"repository"`
	Bugs        URLField           `json:"bugs"`
}

// Latest returns the version tagged "latest".
func (p *Packument) Latest() (string, Version, bool) {
	tag := p.DistTags["latest"]
	if tag == "" {
		return "", Version{}, false
	}
	v, ok := p.Versions[tag]
	return tag, v, ok
}

type Version struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Keywords    Keywords `json:"keywords"`
	License     License  `json:"license"`
	Homepage    string   `json:"homepage"`
	Repository  URLField `json:"repository"`
	Bugs        URLField `json:"bugs"`
}

// Keywords accepts either a JSON array of strings or a single string, both
// of which occur in published manifests.
type Keywords []string

func (k *Keywords) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*k = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*k = Keywords{s}
		return nil
	}
	var list []interface{}
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	out := make(Keywords, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	*k = out
	return nil
}

// License accepts "MIT" or the legacy {"type":"MIT"} form.
type License string

func (l *License) UnmarshalJSON(data []byte) error {
	s, err := stringOrField(data, "type")
	*l = License(s)
	return err
}

// URLField accepts "https://..." or {"type":"git","url":"https://..."}.
type URLField string

func (u *URLField) UnmarshalJSON(data []byte) error {
	s, err := stringOrField(data, "url")
	*u = URLField(s)
	return err
}

func stringOrField(data []byte, field string) (string, error) {
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", nil
	}
	switch data[0] {
	case '"':
		var s string
		err := json.Unmarshal(data, &s)
		return s, err
	case '{':
		var obj map[string]interface{}
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", err
		}
		s, _ := obj[field].(string)
		return s, nil
	}
	// Arrays and other shapes carry nothing usable.
	return "", nil
}
