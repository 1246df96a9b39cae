package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/image-edit/internal/ai"
	"github.com/suPer8Hu/image-edit/internal/common"
	"github.com/suPer8Hu/image-edit/internal/edit"
	"github.com/suPer8Hu/image-edit/internal/httpapi/middleware"
)

const defaultListLimit = 100

// room for the prompt and multipart framing on top of the image itself
const formOverheadBytes = 1 << 20

type jobResponse struct {
	ID               string         `json:"id"`
	Prompt           string         `json:"prompt"`
	Status           edit.JobStatus `json:"status"`
	OriginalImageURL string         `json:"original_image_url"`
	EditedImageURL   *string        `json:"edited_image_url"`
	ErrorMessage     *string        `json:"error_message"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

type listJobsResponse struct {
	Jobs  []jobResponse `json:"jobs"`
	Total int64         `json:"total"`
}

func toJobResponse(j *edit.Job) jobResponse {
	return jobResponse{
		ID:               j.ID,
		Prompt:           j.Prompt,
		Status:           j.Status,
		OriginalImageURL: j.OriginalImageURL,
		EditedImageURL:   j.EditedImageURL,
		ErrorMessage:     j.ErrorMessage,
		CreatedAt:        j.CreatedAt.UTC(),
		UpdatedAt:        j.UpdatedAt.UTC(),
	}
}

// CreateJob accepts multipart/form-data with a prompt and either an image
// file or an image_url. The job is returned still pending.
func (h *Handler) CreateJob(c *gin.Context) {
	if h.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes+formOverheadBytes)
	}

	in := edit.CreateJobInput{
		Prompt:   c.PostForm("prompt"),
		ImageURL: c.PostForm("image_url"),
	}

	fh, err := c.FormFile("image")
	switch {
	case err == nil:
		img, rerr := h.readImage(fh)
		if rerr != nil {
			h.failJob(c, rerr)
			return
		}
		in.Image = img
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			common.Fail(c, http.StatusBadRequest, 10002, "request body too large")
			return
		}
		common.Fail(c, http.StatusBadRequest, 10001, "invalid multipart form")
		return
	}

	job, err := h.Jobs.CreateJob(c.Request.Context(), in)
	if err != nil {
		h.failJob(c, err)
		return
	}
	common.OK(c, http.StatusCreated, toJobResponse(job))
}

func (h *Handler) readImage(fh *multipart.FileHeader) (*edit.ImageUpload, error) {
	if h.MaxUploadBytes > 0 && fh.Size > h.MaxUploadBytes {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", edit.ErrValidation, h.MaxUploadBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable image", edit.ErrValidation)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable image", edit.ErrValidation)
	}
	return &edit.ImageUpload{
		Data:        data,
		ContentType: fh.Header.Get("Content-Type"),
	}, nil
}

func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.Jobs.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.failJob(c, err)
		return
	}
	common.OK(c, http.StatusOK, toJobResponse(job))
}

func (h *Handler) ListJobs(c *gin.Context) {
	limit, ok := queryInt(c, "limit", defaultListLimit)
	if !ok {
		common.Fail(c, http.StatusBadRequest, 10001, "limit must be a non-negative integer")
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		common.Fail(c, http.StatusBadRequest, 10001, "offset must be a non-negative integer")
		return
	}

	jobs, total, err := h.Jobs.ListJobs(c.Request.Context(), limit, offset)
	if err != nil {
		h.failJob(c, err)
		return
	}

	resp := listJobsResponse{Jobs: make([]jobResponse, 0, len(jobs)), Total: total}
	for i := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(&jobs[i]))
	}
	common.OK(c, http.StatusOK, resp)
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (h *Handler) failJob(c *gin.Context, err error) {
	switch {
	case errors.Is(err, edit.ErrValidation):
		msg := strings.TrimPrefix(err.Error(), edit.ErrValidation.Error()+": ")
		common.Fail(c, http.StatusBadRequest, 10001, msg)
	case errors.Is(err, edit.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "job not found")
	case errors.Is(err, ai.ErrUpload):
		h.logErr(c, err, "image upload failed")
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to upload image")
	case errors.Is(err, edit.ErrDispatch):
		h.logErr(c, err, "job dispatch failed")
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to enqueue job")
	default:
		h.logErr(c, err, "request failed")
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}

func (h *Handler) logErr(c *gin.Context, err error, msg string) {
	h.Log.Error().Err(err).
		Str("path", c.Request.URL.Path).
		Str("request_id", c.GetString(middleware.RequestIDKey)).
		Msg(msg)
}
