package handlers

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/image-edit/internal/edit"
)

const (
	defaultStreamPoll      = 2 * time.Second
	defaultStreamHeartbeat = 15 * time.Second
)

// EventSource delivers job events as they are published. The redis store
// satisfies it; nil means streams rely on polling alone.
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan edit.JobEvent, error)
}

type Handler struct {
	Jobs           *edit.Service
	Events         EventSource
	Log            zerolog.Logger
	MaxUploadBytes int64

	StreamPoll      time.Duration
	StreamHeartbeat time.Duration
}

func NewHandler(jobs *edit.Service, events EventSource, maxUploadBytes int64, log zerolog.Logger) *Handler {
	return &Handler{
		Jobs:            jobs,
		Events:          events,
		Log:             log,
		MaxUploadBytes:  maxUploadBytes,
		StreamPoll:      defaultStreamPoll,
		StreamHeartbeat: defaultStreamHeartbeat,
	}
}
