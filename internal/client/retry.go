package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/opreport/internal/model"
)

// RetryPolicy bounds how often a repository call is attempted.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

// DefaultRetryPolicy makes 3 attempts with exponential backoff starting at
// 500ms and capped at 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: ExponentialBackoff(500*time.Millisecond, 5*time.Second)}
}

// ExponentialBackoff returns base*2^attempt, capped at max. attempt is 0-based.
func ExponentialBackoff(base, max time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := base
		for i := 0; i < attempt; i++ {
			d *= 2
			if d >= max {
				return max
			}
		}
		return d
	}
}

// errEmptyOptions marks an empty dimension option listing so it is retried.
var errEmptyOptions = errors.New("no dimension options returned")

// Retryable reports whether err is worth another attempt: transport
// failures, HTTP 429 and 5xx responses.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, errEmptyOptions) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	if errors.Is(err, ErrNotFound) {
		return false
	}
	// Remaining errors come from the transport or from decoding a
	// truncated body.
	return true
}

// RetryingRepository applies a RetryPolicy to every call of the wrapped
// TaskRepository.
type RetryingRepository struct {
	next   TaskRepository
	policy RetryPolicy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetryingRepository wraps next. A zero MaxAttempts means one attempt.
func NewRetryingRepository(next TaskRepository, policy RetryPolicy, logger *slog.Logger) *RetryingRepository {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Backoff == nil {
		policy.Backoff = func(int) time.Duration { return 0 }
	}
	return &RetryingRepository{next: next, policy: policy, logger: logger, sleep: sleepCtx}
}

var _ TaskRepository = (*RetryingRepository)(nil)

func (r *RetryingRepository) ListTasks(ctx context.Context, projectID string, page, pageSize int) ([]*model.Task, int, error) {
	var (
		tasks []*model.Task
		total int
	)
	err := r.do(ctx, "list tasks", func() error {
		var err error
		tasks, total, err = r.next.ListTasks(ctx, projectID, page, pageSize)
		return err
	})
	return tasks, total, err
}

func (r *RetryingRepository) GetTask(ctx context.Context, id int) (*model.Task, error) {
	var task *model.Task
	err := r.do(ctx, fmt.Sprintf("get task %d", id), func() error {
		var err error
		task, err = r.next.GetTask(ctx, id)
		return err
	})
	return task, err
}

// ListDimensionOptions retries an empty option list as well as failures.
// When every attempt comes back empty the empty list is returned without error.
func (r *RetryingRepository) ListDimensionOptions(ctx context.Context, projectID string) ([]*model.DimensionOption, error) {
	var opts []*model.DimensionOption
	err := r.do(ctx, "list dimension options", func() error {
		var err error
		opts, err = r.next.ListDimensionOptions(ctx, projectID)
		if err == nil && len(opts) == 0 {
			return errEmptyOptions
		}
		return err
	})
	if errors.Is(err, errEmptyOptions) {
		return nil, nil
	}
	return opts, err
}

func (r *RetryingRepository) Close() error { return r.next.Close() }

func (r *RetryingRepository) do(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := r.policy.Backoff(attempt - 1)
			r.logger.Debug("retrying repository call", "op", op, "attempt", attempt+1, "wait", wait, "err", err)
			if serr := r.sleep(ctx, wait); serr != nil {
				return fmt.Errorf("%s: %w (last error: %v)", op, serr, err)
			}
		}
		err = fn()
		if err == nil || !Retryable(err) {
			return err
		}
	}
	r.logger.Warn("repository call failed after retries", "op", op, "attempts", r.policy.MaxAttempts, "err", err)
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
