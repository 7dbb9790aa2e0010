package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wpdocker/wp-docker/pkg/constants"
)

const (
	// JobTypeBackup is the type of jobs taking a website backup
	JobTypeBackup = "backup"

	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"
)

type (
	// Job is a scheduled job
	Job struct {
		ID          string     `json:"id"`
		JobType     string     `json:"job_type"`
		Schedule    string     `json:"schedule"`
		TargetID    string     `json:"target_id"`
		Parameters  Parameters `json:"parameters"`
		Enabled     bool       `json:"enabled"`
		CreatedAt   string     `json:"created_at,omitempty"`
		LastRun     string     `json:"last_run,omitempty"`
		LastStatus  string     `json:"last_status,omitempty"`
		Description string     `json:"description,omitempty"`
	}

	// Parameters of a job
	Parameters struct {
		Provider       string `json:"provider,omitempty"`
		RetentionCount int    `json:"retention_count,omitempty"`
		// LastDay restricts a job running on days 28-31 to the last day of the month
		LastDay bool `json:"last_day,omitempty"`
	}

	// JobResult is the outcome of one job execution
	JobResult struct {
		JobID     string   `json:"job_id"`
		Status    string   `json:"status"`
		StartTime string   `json:"start_time"`
		EndTime   string   `json:"end_time,omitempty"`
		Details   Details  `json:"details,omitempty"`
		Logs      []string `json:"logs,omitempty"`
		Error     string   `json:"error,omitempty"`

		now func() time.Time
	}

	// Details carries job type specific result data
	Details struct {
		Path    string   `json:"path,omitempty"`
		Deleted []string `json:"deleted,omitempty"`
	}
)

// NewJobID returns a new random job id
func NewJobID() string {
	return "job_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func newResult(job *Job, now func() time.Time) *JobResult {
	return &JobResult{
		JobID:     job.ID,
		Status:    StatusRunning,
		StartTime: now().Format(constants.DisplayTimeFormat),
		now:       now,
	}
}

// AddLog appends a timestamped line to the result log
func (r *JobResult) AddLog(format string, args ...any) {
	r.Logs = append(r.Logs, fmt.Sprintf("[%s] %s", r.now().Format(constants.DisplayTimeFormat), fmt.Sprintf(format, args...)))
}

// Complete marks the result as finished
func (r *JobResult) Complete(status string, err error) {
	r.Status = status
	r.EndTime = r.now().Format(constants.DisplayTimeFormat)
	if err != nil {
		r.Error = err.Error()
	}
}
