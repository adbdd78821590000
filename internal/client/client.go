// Package client provides the TaskRepository contract the report engine
// consumes and an HTTP implementation that talks to the OpenProject v3 API.
package client

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/opreport/internal/model"
)

// ErrNotFound is returned by GetTask when the remote task does not exist.
var ErrNotFound = errors.New("not found")

// TaskRepository is the minimal contract the engine needs from the remote
// tracking service. Implementations must be safe for concurrent use; the
// reconciler issues GetTask calls in parallel.
type TaskRepository interface {
	// ListTasks returns one page (1-based) of a project's tasks together with
	// the total number of tasks the service reports for the project.
	ListTasks(ctx context.Context, projectID string, page, pageSize int) ([]*model.Task, int, error)

	// GetTask fetches one task by id.
	GetTask(ctx context.Context, id int) (*model.Task, error)

	// ListDimensionOptions returns the options of the classification field.
	ListDimensionOptions(ctx context.Context, projectID string) ([]*model.DimensionOption, error)

	// Close releases transport resources.
	Close() error
}
