package taxonomy

import (
	"fmt"
	"strings"
)

// CategoryValidator validates transaction categories against the taxonomy.
type CategoryValidator struct {
	categories    map[string]bool            // Set of valid category names
	subcategories map[string]map[string]bool // Map of category -> set of valid subcategories
}

// NewCategoryValidator creates a validator from the taxonomy.
func NewCategoryValidator(t *Taxonomy) *CategoryValidator {
	v := &CategoryValidator{
		categories:    make(map[string]bool, len(t.Categories)),
		subcategories: make(map[string]map[string]bool, len(t.Categories)),
	}

	for _, c := range t.Categories {
		cat := normalizeCategory(c.Name)
		v.categories[cat] = true
		subs := make(map[string]bool, len(c.Subcategories))
		for _, s := range c.Subcategories {
			subs[normalizeCategory(s.Name)] = true
		}
		v.subcategories[cat] = subs
	}
	return v
}

// ValidateCategory checks if a category and subcategory are valid.
// Returns nil if valid, error if invalid.
func (v *CategoryValidator) ValidateCategory(category, subcategory string) error {
	normCat := normalizeCategory(category)
	normSubcat := normalizeCategory(subcategory)

	if !v.categories[normCat] {
		return fmt.Errorf("invalid category: %q (normalized: %q)", category, normCat)
	}

	if subcats := v.subcategories[normCat]; len(subcats) > 0 && !subcats[normSubcat] {
		return fmt.Errorf("invalid subcategory %q for category %q", subcategory, category)
	}

	return nil
}

// normalizeCategory normalizes a category name for comparison.
// Converts to uppercase and trims whitespace for case-insensitive comparison.
func normalizeCategory(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
