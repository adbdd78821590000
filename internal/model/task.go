package model

import "time"

// Task is one work item of the remote tracking service, already normalized
// from its wire encoding.
type Task struct {
	ID          int        `json:"id"`
	Subject     string     `json:"subject"`
	Status      *Link      `json:"status,omitempty"`
	Parent      *Link      `json:"parent,omitempty"`
	Children    []Link     `json:"children,omitempty"`
	Dimension   FieldValue `json:"dimension"`
	PercentDone int        `json:"percent_done,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// Complete reports whether the task's status link is well formed, i.e.
// carries both a machine href and a display title. Incomplete tasks are
// re-fetched individually by the reconciler.
func (t *Task) Complete() bool {
	return t.Status != nil && t.Status.Href != "" && t.Status.Title != ""
}

// StatusLabel returns the display title of the task's status, or "" when unset.
func (t *Task) StatusLabel() string {
	if t.Status == nil {
		return ""
	}
	return t.Status.Title
}

// ParentID returns the id referenced by the parent link.
// ok is false when there is no parent; err is set when the href is malformed.
func (t *Task) ParentID() (id int, ok bool, err error) {
	if t.Parent == nil || t.Parent.Href == "" {
		return 0, false, nil
	}
	id, err = IDFromHref(t.Parent.Href)
	if err != nil {
		return 0, true, err
	}
	return id, true, nil
}
