package edit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/image-edit/internal/ai"
)

const defaultMaxUploadBytes = 10 << 20

var errInterrupted = errors.New("interrupted before completion")

// ImageUpload is a raw image submitted with a job.
type ImageUpload struct {
	Data        []byte
	ContentType string
}

// CreateJobInput carries exactly one image source: Image or ImageURL.
type CreateJobInput struct {
	Prompt   string
	ImageURL string
	Image    *ImageUpload
}

type Service struct {
	store          JobStore
	editor         ai.Editor
	dispatcher     Dispatcher
	notifier       Notifier
	log            zerolog.Logger
	maxUploadBytes int64

	wg sync.WaitGroup
}

type Option func(*Service)

// WithDispatcher replaces the in-process goroutine dispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithMaxUploadBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

func NewService(store JobStore, editor ai.Editor, opts ...Option) *Service {
	s := &Service{
		store:          store,
		editor:         editor,
		log:            zerolog.Nop(),
		maxUploadBytes: defaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dispatcher == nil {
		s.dispatcher = &goDispatcher{s: s}
	}
	return s
}

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// CreateJob resolves the source image, stores a pending job and dispatches
// it. It returns as soon as the job is dispatched.
func (s *Service) CreateJob(ctx context.Context, in CreateJobInput) (*Job, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return nil, validationErr("prompt is required")
	}

	imageURL := strings.TrimSpace(in.ImageURL)
	switch {
	case imageURL == "" && in.Image == nil:
		return nil, validationErr("either image or image_url is required")
	case imageURL != "" && in.Image != nil:
		return nil, validationErr("provide either image or image_url, not both")
	}

	if imageURL != "" {
		if err := validateImageURL(imageURL); err != nil {
			return nil, err
		}
	} else {
		contentType, err := s.imageContentType(in.Image)
		if err != nil {
			return nil, err
		}

		t0 := time.Now()
		imageURL, err = s.editor.Upload(ctx, in.Image.Data, contentType)
		if err != nil {
			if !errors.Is(err, ai.ErrUpload) {
				err = fmt.Errorf("%w: %w", ai.ErrUpload, err)
			}
			return nil, err
		}
		s.log.Debug().Int("bytes", len(in.Image.Data)).Str("content_type", contentType).
			Dur("cost", time.Since(t0)).Msg("source image uploaded")
	}

	job, err := s.store.CreateJob(ctx, in.Prompt, imageURL)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, job.ID, JobPending, nil, nil)

	task := Task{JobID: job.ID, ImageURL: job.OriginalImageURL, Prompt: job.Prompt}
	if err := s.dispatcher.Dispatch(ctx, task); err != nil {
		// never leave a job pending that nothing will pick up
		if ferr := s.fail(context.WithoutCancel(ctx), job.ID, fmt.Errorf("dispatch failed: %w", err)); ferr != nil {
			s.log.Error().Err(ferr).Str("job_id", job.ID).Msg("mark undispatched job failed")
		}
		return nil, fmt.Errorf("%w: %w", ErrDispatch, err)
	}

	s.log.Info().Str("job_id", job.ID).Msg("job created")
	return job, nil
}

func validateImageURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return validationErr("image_url is not a valid url")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return validationErr("image_url must be an absolute http(s) url")
	}
	return nil
}

// imageContentType trusts the declared type unless it is missing or
// generic, in which case the bytes are sniffed.
func (s *Service) imageContentType(img *ImageUpload) (string, error) {
	if len(img.Data) == 0 {
		return "", validationErr("image is empty")
	}
	if int64(len(img.Data)) > s.maxUploadBytes {
		return "", validationErr("image exceeds %d bytes", s.maxUploadBytes)
	}

	ct := mediaType(img.ContentType)
	if ct == "" || ct == "application/octet-stream" {
		ct = mediaType(mimetype.Detect(img.Data).String())
	}
	if !strings.HasPrefix(ct, "image/") {
		return "", validationErr("file must be an image")
	}
	return ct, nil
}

func mediaType(v string) string {
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = v[:i]
	}
	return strings.ToLower(strings.TrimSpace(v))
}

// Process runs one edit attempt for task and drives the job to a terminal
// state. It returns an error only when no terminal state could be stored.
func (s *Service) Process(ctx context.Context, task Task) error {
	jobStart := time.Now()
	log := s.log.With().Str("job_id", task.JobID).Logger()

	moved, err := s.store.MarkJobProcessing(ctx, task.JobID)
	if err != nil {
		return s.fail(ctx, task.JobID, err)
	}
	if !moved {
		j, err := s.store.GetJobByID(ctx, task.JobID)
		if err != nil {
			return err
		}
		if task.Redelivered && j.Status == JobProcessing {
			// the attempt that moved it died before acking
			log.Warn().Msg("redelivered job still processing, failing it")
			return s.fail(ctx, task.JobID, errInterrupted)
		}
		// duplicate delivery: the attempt that moved it owns the outcome
		log.Warn().Str("status", string(j.Status)).Msg("job not pending, skipping")
		return nil
	}
	s.notify(ctx, task.JobID, JobProcessing, nil, nil)

	t0 := time.Now()
	editedURL, err := s.editor.Edit(ctx, task.ImageURL, task.Prompt)
	editCost := time.Since(t0)
	if err != nil {
		log.Info().Err(err).Dur("edit", editCost).Dur("total", time.Since(jobStart)).Msg("job failed")
		return s.fail(ctx, task.JobID, err)
	}

	done, err := s.store.MarkJobCompleted(ctx, task.JobID, editedURL)
	if err != nil {
		return s.fail(ctx, task.JobID, err)
	}
	if !done {
		log.Warn().Dur("edit", editCost).Msg("job already terminal, edit result dropped")
		return nil
	}
	s.notify(ctx, task.JobID, JobCompleted, &editedURL, nil)

	log.Info().Dur("edit", editCost).Dur("total", time.Since(jobStart)).Msg("job completed")
	return nil
}

// fail records cause as the job's terminal error.
func (s *Service) fail(ctx context.Context, jobID string, cause error) error {
	msg := cause.Error()
	done, err := s.store.MarkJobFailed(ctx, jobID, msg)
	if err != nil {
		s.log.Error().Err(err).Str("job_id", jobID).Str("cause", msg).Msg("mark job failed")
		return fmt.Errorf("mark job %s failed: %w", jobID, err)
	}
	if done {
		s.notify(ctx, jobID, JobFailed, nil, &msg)
	}
	return nil
}

func (s *Service) notify(ctx context.Context, jobID string, status JobStatus, editedURL, errMsg *string) {
	if s.notifier == nil {
		return
	}
	ev := JobEvent{
		JobID:          jobID,
		Status:         status,
		EditedImageURL: editedURL,
		ErrorMessage:   errMsg,
		At:             time.Now().UTC(),
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("job_id", jobID).Str("status", string(status)).Msg("job event not published")
	}
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, ErrNotFound
	}
	return s.store.GetJobByID(ctx, jobID)
}

func (s *Service) ListJobs(ctx context.Context, limit, offset int) ([]Job, int64, error) {
	if limit < 0 {
		return nil, 0, validationErr("limit must not be negative")
	}
	if offset < 0 {
		return nil, 0, validationErr("offset must not be negative")
	}
	return s.store.ListJobs(ctx, limit, offset)
}

// ResumeInterrupted recovers jobs orphaned by a restart of an in-process
// dispatcher: pending jobs are dispatched again, processing jobs had their
// single attempt cut short and are failed.
func (s *Service) ResumeInterrupted(ctx context.Context) (resumed, failed int, err error) {
	jobs, err := s.store.ListJobsByStatus(ctx, JobPending, JobProcessing)
	if err != nil {
		return 0, 0, err
	}

	for _, j := range jobs {
		switch j.Status {
		case JobPending:
			task := Task{JobID: j.ID, ImageURL: j.OriginalImageURL, Prompt: j.Prompt}
			if derr := s.dispatcher.Dispatch(ctx, task); derr != nil {
				if ferr := s.fail(ctx, j.ID, fmt.Errorf("dispatch failed: %w", derr)); ferr != nil {
					return resumed, failed, ferr
				}
				failed++
				continue
			}
			resumed++
		case JobProcessing:
			if ferr := s.fail(ctx, j.ID, errInterrupted); ferr != nil {
				return resumed, failed, ferr
			}
			failed++
		}
	}
	return resumed, failed, nil
}

// Wait blocks until every in-process task has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}
