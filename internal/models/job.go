package models

import (
	"time"
)

// JobStatus 任务状态
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobError      JobStatus = "error"
)

// RetentionPeriod is how long job records and their artifacts are kept.
const RetentionPeriod = 7 * 24 * time.Hour

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobError
}

// Job 后台报告任务
type Job struct {
	ID        string    `json:"id"`
	Status    JobStatus `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	OutputKey string    `json:"outputKey,omitempty"`
	Files     []string  `json:"files,omitempty"`
	Pages     int       `json:"pages,omitempty"`
	Paid      bool      `json:"paid"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy so store backends never share slices with callers.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Files != nil {
		c.Files = append([]string(nil), j.Files...)
	}
	return &c
}

// JobUpdate describes a requested transition. Nil fields are left unchanged.
type JobUpdate struct {
	Status    *JobStatus
	Progress  *int
	Message   *string
	OutputKey *string
	Pages     *int
}

// Apply applies u to j. Status, progress, message and output are frozen once j
// is terminal; progress never moves backwards while j is running, except for
// the transition into JobError which resets it to 0. It reports whether
// anything changed.
func (j *Job) Apply(u JobUpdate) bool {
	if j.Status.Terminal() {
		return false
	}
	changed := false
	if u.Status != nil && *u.Status != j.Status {
		j.Status = *u.Status
		changed = true
	}
	switch {
	case j.Status == JobError:
		if j.Progress != 0 {
			j.Progress = 0
			changed = true
		}
	case j.Status == JobCompleted:
		if j.Progress != 100 {
			j.Progress = 100
			changed = true
		}
	case u.Progress != nil:
		p := clampProgress(*u.Progress)
		if p > j.Progress {
			j.Progress = p
			changed = true
		}
	}
	if u.Message != nil && *u.Message != j.Message {
		j.Message = *u.Message
		changed = true
	}
	if u.OutputKey != nil && *u.OutputKey != j.OutputKey {
		j.OutputKey = *u.OutputKey
		changed = true
	}
	if u.Pages != nil && *u.Pages != j.Pages {
		j.Pages = *u.Pages
		changed = true
	}
	return changed
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Ready reports whether the job has a downloadable output.
func (j *Job) Ready() bool {
	return j.Status == JobCompleted && j.OutputKey != ""
}
