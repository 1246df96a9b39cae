package edit

import (
	"context"
	"errors"
	"fmt"

	"github.com/suPer8Hu/image-edit/internal/common"
	"gorm.io/gorm"
)

// JobStore is the persistence contract the Service relies on. Every call
// touches a single row; no multi-row transactions are needed.
type JobStore interface {
	CreateJob(ctx context.Context, prompt, originalImageURL string) (*Job, error)
	GetJobByID(ctx context.Context, id string) (*Job, error)
	MarkJobProcessing(ctx context.Context, id string) (bool, error)
	MarkJobCompleted(ctx context.Context, id, editedImageURL string) (bool, error)
	MarkJobFailed(ctx context.Context, id, errMsg string) (bool, error)
	ListJobs(ctx context.Context, limit, offset int) ([]Job, int64, error)
	ListJobsByStatus(ctx context.Context, statuses ...JobStatus) ([]Job, error)
}

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

func (r *Repo) CreateJob(ctx context.Context, prompt, originalImageURL string) (*Job, error) {
	id, err := common.NewULID()
	if err != nil {
		return nil, fmt.Errorf("%w: new id: %w", ErrPersistence, err)
	}
	j := &Job{
		ID:               id,
		Prompt:           prompt,
		Status:           JobPending,
		OriginalImageURL: originalImageURL,
	}
	if err := r.db.WithContext(ctx).Create(j).Error; err != nil {
		return nil, storeErr(err)
	}
	return j, nil
}

func (r *Repo) GetJobByID(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, storeErr(err)
	}
	return &j, nil
}

// Transitions are guarded in the WHERE clause so terminal rows are never
// rewritten. The bool reports whether this call moved the row.

func (r *Repo) MarkJobProcessing(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", id, JobPending).
		Update("status", JobProcessing)
	if res.Error != nil {
		return false, storeErr(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *Repo) MarkJobCompleted(ctx context.Context, id, editedImageURL string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status IN ?", id, []JobStatus{JobPending, JobProcessing}).
		Updates(map[string]any{
			"status":           JobCompleted,
			"edited_image_url": editedImageURL,
			"error_message":    nil,
		})
	if res.Error != nil {
		return false, storeErr(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *Repo) MarkJobFailed(ctx context.Context, id, errMsg string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status IN ?", id, []JobStatus{JobPending, JobProcessing}).
		Updates(map[string]any{
			"status":           JobFailed,
			"error_message":    errMsg,
			"edited_image_url": nil,
		})
	if res.Error != nil {
		return false, storeErr(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListJobs returns one page, newest first, plus the total row count.
func (r *Repo) ListJobs(ctx context.Context, limit, offset int) ([]Job, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&Job{}).Count(&total).Error; err != nil {
		return nil, 0, storeErr(err)
	}

	jobs := []Job{}
	if limit == 0 || int64(offset) >= total {
		return jobs, total, nil
	}
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&jobs).Error; err != nil {
		return nil, 0, storeErr(err)
	}
	return jobs, total, nil
}

// ListJobsByStatus returns matching jobs oldest first.
func (r *Repo) ListJobsByStatus(ctx context.Context, statuses ...JobStatus) ([]Job, error) {
	var jobs []Job
	if len(statuses) == 0 {
		return jobs, nil
	}
	if err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("created_at ASC").
		Order("id ASC").
		Find(&jobs).Error; err != nil {
		return nil, storeErr(err)
	}
	return jobs, nil
}
