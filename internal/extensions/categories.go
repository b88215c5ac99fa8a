package extensions

// Category is a marketplace extension type.
type Category string

const (
	CategoryInterfaces Category = "interfaces"
	CategoryDisplays   Category = "displays"
	CategoryLayouts    Category = "layouts"
	CategoryPanels     Category = "panels"
	CategoryModules    Category = "modules"
	CategoryHooks      Category = "hooks"
	CategoryEndpoints  Category = "endpoints"
	CategoryOperations Category = "operations"
	CategoryThemes     Category = "themes"
)

// CategoryInfo describes one category and the registry keyword that tags it.
type CategoryInfo struct {
	Name        Category `json:"name"`
	Description string   `json:"description"`
	Keyword     string   `json:"keyword"`
}

var categories = []CategoryInfo{
	{CategoryInterfaces, "Custom field interfaces for data input", "directus-custom-interface"},
	{CategoryDisplays, "Custom field displays for data presentation", "directus-custom-display"},
	{CategoryLayouts, "Custom collection layout views", "directus-custom-layout"},
	{CategoryPanels, "Dashboard panels and widgets", "directus-custom-panel"},
	{CategoryModules, "Full-page application modules", "directus-custom-module"},
	{CategoryHooks, "Server-side event hooks", "directus-custom-hook"},
	{CategoryEndpoints, "Custom API endpoints", "directus-custom-endpoint"},
	{CategoryOperations, "Flow operation nodes", "directus-custom-operation"},
	{CategoryThemes, "Custom themes and styling", "directus-theme"},
}

// Categories returns the fixed category catalog in display order.
func Categories() []CategoryInfo {
	out := make([]CategoryInfo, len(categories))
	copy(out, categories)
	return out
}

// CategoryNames returns the category identifiers in display order.
func CategoryNames() []string {
	out := make([]string, len(categories))
	for i, c := range categories {
		out[i] = string(c.Name)
	}
	return out
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	return c.Keyword() != ""
}

// Keyword returns the registry keyword for c, or "" when unknown.
func (c Category) Keyword() string {
	for _, info := range categories {
		if info.Name == c {
			return info.Keyword
		}
	}
	return ""
}
