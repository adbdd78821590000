package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Link is a single HAL link object as returned by the tracking service.
// Only Href is structurally meaningful; the display fields vary by resource.
type Link struct {
	Href  string `json:"href,omitempty"`
	Title string `json:"title,omitempty"`
	Name  string `json:"name,omitempty"`
	Value string `json:"value,omitempty"`
	ID    string `json:"id,omitempty"`
}

// UnmarshalJSON accepts numeric and string ids.
func (l *Link) UnmarshalJSON(data []byte) error {
	var raw struct {
		Href  *string         `json:"href"`
		Title string          `json:"title"`
		Name  string          `json:"name"`
		Value string          `json:"value"`
		ID    json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*l = Link{Title: raw.Title, Name: raw.Name, Value: raw.Value}
	if raw.Href != nil {
		l.Href = *raw.Href
	}
	l.ID = rawID(raw.ID)
	return nil
}

// DisplayLabels returns the non-empty title, name and value fields in that order.
func (l Link) DisplayLabels() []string {
	var out []string
	for _, s := range []string{l.Title, l.Name, l.Value} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func rawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// FieldKind identifies which encoding a classification field arrived in.
type FieldKind string

const (
	FieldNone   FieldKind = "none"
	FieldSingle FieldKind = "single"
	FieldList   FieldKind = "list"
	FieldText   FieldKind = "text"
)

// FieldValue is the canonical form of a link-valued custom field. The remote
// service encodes the same logical field as a link object, a list of link
// objects, a plain string, or not at all.
type FieldValue struct {
	Kind  FieldKind `json:"kind"`
	Links []Link    `json:"links,omitempty"`
	Text  string    `json:"text,omitempty"`
}

// IsZero reports whether the field carries no value.
func (f FieldValue) IsZero() bool {
	return f.Kind == "" || f.Kind == FieldNone
}

// Single returns the link of a single-encoded field.
func (f FieldValue) Single() (Link, bool) {
	if f.Kind != FieldSingle || len(f.Links) == 0 {
		return Link{}, false
	}
	return f.Links[0], true
}

// ParseFieldValue decodes any of the known field encodings. Elements of a
// list that are not objects are ignored.
func ParseFieldValue(data []byte) (FieldValue, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return FieldValue{Kind: FieldNone}, nil
	}
	switch data[0] {
	case '{':
		var l Link
		if err := json.Unmarshal(data, &l); err != nil {
			return FieldValue{}, fmt.Errorf("decoding link: %w", err)
		}
		return FieldValue{Kind: FieldSingle, Links: []Link{l}}, nil
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(data, &elems); err != nil {
			return FieldValue{}, fmt.Errorf("decoding link list: %w", err)
		}
		fv := FieldValue{Kind: FieldList}
		for _, e := range elems {
			e = bytes.TrimSpace(e)
			if len(e) == 0 || e[0] != '{' {
				continue
			}
			var l Link
			if err := json.Unmarshal(e, &l); err != nil {
				continue
			}
			fv.Links = append(fv.Links, l)
		}
		return fv, nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return FieldValue{}, fmt.Errorf("decoding text: %w", err)
		}
		if s == "" {
			return FieldValue{Kind: FieldNone}, nil
		}
		return FieldValue{Kind: FieldText, Text: s}, nil
	default:
		// Numbers and booleans are kept as text so they can still match by name.
		return FieldValue{Kind: FieldText, Text: string(data)}, nil
	}
}

// UnmarshalJSON implements json.Unmarshaler for both the canonical form and
// the raw remote encodings.
func (f *FieldValue) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var probe struct {
			Kind *FieldKind `json:"kind"`
		}
		if json.Unmarshal(trimmed, &probe) == nil && probe.Kind != nil {
			type canonical FieldValue
			var c canonical
			if err := json.Unmarshal(trimmed, &c); err != nil {
				return err
			}
			*f = FieldValue(c)
			return nil
		}
	}
	v, err := ParseFieldValue(trimmed)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// IDFromHref extracts the trailing numeric id of an href such as
// "/api/v3/work_packages/42".
func IDFromHref(href string) (int, error) {
	if href == "" {
		return 0, fmt.Errorf("empty href")
	}
	id, err := strconv.Atoi(href[strings.LastIndex(href, "/")+1:])
	if err != nil {
		return 0, fmt.Errorf("href %q: %w", href, err)
	}
	return id, nil
}
