package edit

import (
	"context"
	"fmt"
	"time"
)

// Dispatcher hands a freshly created job to whatever runs Process.
// Dispatch must not block on the edit itself.
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task) error
}

// JobEvent describes one persisted transition.
type JobEvent struct {
	JobID          string    `json:"job_id"`
	Status         JobStatus `json:"status"`
	EditedImageURL *string   `json:"edited_image_url"`
	ErrorMessage   *string   `json:"error_message"`
	At             time.Time `json:"at"`
}

// Notifier receives every transition after it is stored. Failures are
// logged by the Service and never affect the job.
type Notifier interface {
	Notify(ctx context.Context, ev JobEvent) error
}

// goDispatcher runs each task on its own goroutine, detached from the
// request context so a finished HTTP call does not cancel the edit.
type goDispatcher struct {
	s *Service
}

func (d *goDispatcher) Dispatch(ctx context.Context, task Task) error {
	bg := context.WithoutCancel(ctx)

	d.s.wg.Add(1)
	go func() {
		defer d.s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.s.log.Error().Str("job_id", task.JobID).Interface("panic", r).Msg("job processing panicked")
				_ = d.s.fail(bg, task.JobID, fmt.Errorf("panic: %v", r))
			}
		}()

		if err := d.s.Process(bg, task); err != nil {
			d.s.log.Error().Err(err).Str("job_id", task.JobID).Msg("job left without terminal state")
		}
	}()
	return nil
}
