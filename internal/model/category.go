package model

// Category is the rolled-up status of a task within one dimension.
type Category string

const (
	CategoryNotStarted Category = "not-started"
	CategoryInProgress Category = "in-progress"
	CategoryCompleted  Category = "completed"
	CategoryOnHold     Category = "on-hold"
	CategoryRejected   Category = "rejected"
)

// Status labels used by the tracking service.
const (
	StatusNew        = "New"
	StatusInProgress = "In progress"
	StatusClosed     = "Closed"
	StatusOnHold     = "On hold"
	StatusRejected   = "Rejected"
)

// String returns the string representation of the category.
func (c Category) String() string {
	return string(c)
}

// IsValid checks whether the category is a known value.
func (c Category) IsValid() bool {
	switch c {
	case CategoryNotStarted, CategoryInProgress, CategoryCompleted, CategoryOnHold, CategoryRejected:
		return true
	}
	return false
}

// CategoryFor maps a status label to its category. The match is exact and
// case sensitive; unset and unrecognized labels are not-started.
func CategoryFor(label string) Category {
	switch label {
	case StatusInProgress:
		return CategoryInProgress
	case StatusClosed:
		return CategoryCompleted
	case StatusOnHold:
		return CategoryOnHold
	case StatusRejected:
		return CategoryRejected
	default:
		return CategoryNotStarted
	}
}

// Categories lists every category in display order.
func Categories() []Category {
	return []Category{
		CategoryNotStarted,
		CategoryInProgress,
		CategoryCompleted,
		CategoryOnHold,
		CategoryRejected,
	}
}
