// Package store defines persistence for report run history.
package store

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/opreport/internal/model"
)

// ErrNotConfigured is returned by callers that need history when no store
// was set up.
var ErrNotConfigured = errors.New("history store not configured")

// DefaultListLimit bounds ListRuns when the caller passes a non-positive limit.
const DefaultListLimit = 20

// Store records one summary row per computed report.
type Store interface {
	SaveRun(ctx context.Context, run *model.ReportRun) error
	// ListRuns returns the most recent runs of a project, newest first.
	ListRuns(ctx context.Context, projectID string, limit int) ([]*model.ReportRun, error)

	Close() error
}
