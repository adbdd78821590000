package model

import "fmt"

// DimensionOption is one organizational bucket (for example one city) that
// tasks point at through the classification field.
type DimensionOption struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
	Title string `json:"title,omitempty"`
	Href  string `json:"href,omitempty"`
}

// ReferenceHref returns the href tasks use to link to this option. Options
// without an explicit href are addressed by their custom option id.
func (o *DimensionOption) ReferenceHref() string {
	if o.Href != "" {
		return o.Href
	}
	if o.ID != "" {
		return fmt.Sprintf("/api/v3/custom_options/%s", o.ID)
	}
	return ""
}

// Normalize backfills a missing Name from Value, then Title. It reports
// false when no display label is available.
func (o *DimensionOption) Normalize() bool {
	if o.Name != "" {
		return true
	}
	switch {
	case o.Value != "":
		o.Name = o.Value
	case o.Title != "":
		o.Name = o.Title
	default:
		return false
	}
	return true
}
