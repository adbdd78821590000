package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alfredjeanlab/opreport/internal/model"
)

// DefaultDimensionField is the custom field that carries a task's dimension.
const DefaultDimensionField = "customField1"

// workPackage is the subset of the HAL work package representation the
// engine reads. Links are kept raw so the classification field can be picked
// by name and decoded in whatever shape it arrives.
type workPackage struct {
	ID          int                        `json:"id"`
	Subject     *string                    `json:"subject"`
	PercentDone *int                       `json:"percentageDone"`
	CreatedAt   *time.Time                 `json:"createdAt"`
	UpdatedAt   *time.Time                 `json:"updatedAt"`
	Links       map[string]json.RawMessage `json:"_links"`
}

// workPackageCollection is a HAL collection of work packages.
type workPackageCollection struct {
	Total    int `json:"total"`
	Count    int `json:"count"`
	Embedded struct {
		Elements []json.RawMessage `json:"elements"`
	} `json:"_embedded"`
}

// decodeTask converts one raw work package into a model.Task. field names the
// classification custom field; it is read from _links first and then from
// the top-level properties.
func decodeTask(data []byte, field string) (*model.Task, error) {
	var wp workPackage
	if err := json.Unmarshal(data, &wp); err != nil {
		return nil, fmt.Errorf("decoding work package: %w", err)
	}
	t := &model.Task{
		ID:        wp.ID,
		CreatedAt: wp.CreatedAt,
		UpdatedAt: wp.UpdatedAt,
		Dimension: model.FieldValue{Kind: model.FieldNone},
	}
	if wp.Subject != nil {
		t.Subject = *wp.Subject
	}
	if wp.PercentDone != nil {
		t.PercentDone = *wp.PercentDone
	}

	if raw, ok := wp.Links["status"]; ok {
		t.Status = decodeOptionalLink(raw)
	}
	if raw, ok := wp.Links["parent"]; ok {
		t.Parent = decodeOptionalLink(raw)
	}
	if raw, ok := wp.Links["children"]; ok {
		var children []model.Link
		if json.Unmarshal(raw, &children) == nil {
			t.Children = children
		}
	}

	if raw, ok := wp.Links[field]; ok {
		fv, err := model.ParseFieldValue(raw)
		if err == nil {
			t.Dimension = fv
		}
	}
	if t.Dimension.IsZero() {
		var props map[string]json.RawMessage
		if json.Unmarshal(data, &props) == nil {
			if raw, ok := props[field]; ok {
				if fv, err := model.ParseFieldValue(raw); err == nil {
					t.Dimension = fv
				}
			}
		}
	}
	return t, nil
}

// decodeOptionalLink returns nil for null or non-object link values.
func decodeOptionalLink(raw json.RawMessage) *model.Link {
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var l model.Link
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil
	}
	return &l
}

// allowedValue is one entry of a schema's allowed values, either embedded
// as a custom option resource or linked.
type allowedValue struct {
	ID    json.RawMessage `json:"id"`
	Value string          `json:"value"`
	Name  string          `json:"name"`
	Href  string          `json:"href"`
	Title string          `json:"title"`
	Links struct {
		Self struct {
			Href string `json:"href"`
		} `json:"self"`
	} `json:"_links"`
}

// fieldSchema is the per-field schema within a work package form.
type fieldSchema struct {
	Embedded struct {
		AllowedValues []allowedValue `json:"allowedValues"`
	} `json:"_embedded"`
	Links struct {
		AllowedValues []allowedValue `json:"allowedValues"`
	} `json:"_links"`
}

// workPackageForm is the response of the work package form endpoint.
type workPackageForm struct {
	Embedded struct {
		Schema map[string]json.RawMessage `json:"schema"`
	} `json:"_embedded"`
}

// optionsFromForm extracts dimension options for field from a form response.
func optionsFromForm(form *workPackageForm, field string) []*model.DimensionOption {
	raw, ok := form.Embedded.Schema[field]
	if !ok {
		return nil
	}
	var schema fieldSchema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil
	}

	var opts []*model.DimensionOption
	for _, v := range schema.Embedded.AllowedValues {
		opt := &model.DimensionOption{
			ID:    linkID(v.ID),
			Value: v.Value,
			Name:  v.Name,
			Title: v.Title,
			Href:  v.Links.Self.Href,
		}
		if opt.Href == "" {
			opt.Href = v.Href
		}
		opts = append(opts, opt)
	}
	if len(opts) > 0 {
		return opts
	}
	for _, v := range schema.Links.AllowedValues {
		if v.Href == "" || v.Title == "" {
			continue
		}
		opt := &model.DimensionOption{
			Value: v.Title,
			Href:  v.Href,
		}
		if id, err := model.IDFromHref(v.Href); err == nil {
			opt.ID = fmt.Sprintf("%d", id)
		}
		opts = append(opts, opt)
	}
	return opts
}

// optionsFromTasks harvests distinct options referenced by tasks' dimension
// fields. Only links that carry both an href and a title are used.
func optionsFromTasks(tasks []*model.Task) []*model.DimensionOption {
	seen := make(map[string]bool)
	var opts []*model.DimensionOption
	for _, t := range tasks {
		if t.Dimension.Kind != model.FieldSingle && t.Dimension.Kind != model.FieldList {
			continue
		}
		for _, l := range t.Dimension.Links {
			if l.Href == "" || l.Title == "" || seen[l.Href] {
				continue
			}
			seen[l.Href] = true
			opt := &model.DimensionOption{Name: l.Title, Href: l.Href}
			if id, err := model.IDFromHref(l.Href); err == nil {
				opt.ID = fmt.Sprintf("%d", id)
			}
			opts = append(opts, opt)
		}
	}
	return opts
}

func linkID(raw json.RawMessage) string {
	var l model.Link
	if len(raw) == 0 {
		return ""
	}
	_ = json.Unmarshal([]byte(`{"id":`+string(raw)+`}`), &l)
	return l.ID
}
