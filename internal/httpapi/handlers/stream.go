package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/image-edit/internal/edit"
)

// StreamJob pushes the job's status as server-sent events until it reaches
// a terminal state or the client goes away.
func (h *Handler) StreamJob(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	job, err := h.Jobs.GetJob(ctx, id)
	if err != nil {
		h.failJob(c, err)
		return
	}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		fmt.Fprintf(c.Writer, "event: error\ndata: flusher not supported\n\n")
		return
	}

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, b)
		flusher.Flush()
	}

	writeJSON("status", toJobResponse(job))
	if job.Status.Terminal() {
		return
	}

	var wake <-chan edit.JobEvent
	if h.Events != nil {
		if ch, err := h.Events.Subscribe(ctx); err != nil {
			h.Log.Warn().Err(err).Str("job_id", id).Msg("job events unavailable, polling only")
		} else {
			wake = ch
		}
	}

	poll := time.NewTicker(durationOr(h.StreamPoll, defaultStreamPoll))
	defer poll.Stop()
	heartbeat := time.NewTicker(durationOr(h.StreamHeartbeat, defaultStreamHeartbeat))
	defer heartbeat.Stop()

	last := job.Status
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeJSON("ping", gin.H{"type": "ping", "ts": time.Now().Unix()})
			continue
		case ev, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
			if ev.JobID != id {
				continue
			}
		case <-poll.C:
		}

		job, err = h.Jobs.GetJob(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			writeJSON("error", gin.H{"type": "error", "message": "failed to load job"})
			return
		}
		if job.Status != last {
			last = job.Status
			writeJSON("status", toJobResponse(job))
		}
		if job.Status.Terminal() {
			return
		}
	}
}

func durationOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
