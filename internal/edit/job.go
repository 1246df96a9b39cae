package edit

import "time"

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition may leave s.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

type Job struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	Prompt           string    `gorm:"type:text;not null"`
	Status           JobStatus `gorm:"type:varchar(16);index;not null"`
	OriginalImageURL string    `gorm:"type:text;not null"`

	// Filled when completed
	EditedImageURL *string `gorm:"type:text"`

	// Filled when failed
	ErrorMessage *string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

func (Job) TableName() string { return "image_edit_jobs" }

// Task is the unit handed to a Dispatcher: everything Process needs
// without another read of the job row.
type Task struct {
	JobID    string `json:"job_id"`
	ImageURL string `json:"image_url"`
	Prompt   string `json:"prompt"`

	// Redelivered is set by queue consumers when the broker hands the
	// message out again after an unacked attempt.
	Redelivered bool `json:"-"`
}
