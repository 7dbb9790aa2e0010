package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wpdocker/wp-docker/cmd/internal/metrics"
	"github.com/wpdocker/wp-docker/pkg/constants"
	"go.uber.org/zap"
)

const defaultProvider = "local"

// BackupService creates backups and applies retention
type BackupService interface {
	CreateBackup(ctx context.Context, website, providerName string) (string, error)
	CleanupBackups(ctx context.Context, website, providerName string, keep int) ([]string, error)
}

// Runner executes jobs
type Runner struct {
	log     *zap.SugaredLogger
	store   *Store
	backups BackupService
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewRunner returns a job runner
func NewRunner(log *zap.SugaredLogger, store *Store, backups BackupService, m *metrics.Metrics) *Runner {
	return &Runner{
		log:     log,
		store:   store,
		backups: backups,
		metrics: m,
		now:     time.Now,
	}
}

// RunByID executes the stored job with the given id
func (r *Runner) RunByID(ctx context.Context, id string) (*JobResult, error) {
	job, err := r.store.Get(id)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, job), nil
}

// Run executes a job and records its status
func (r *Runner) Run(ctx context.Context, job *Job) *JobResult {
	result := newResult(job, r.now)

	if job.Parameters.LastDay && !isLastDayOfMonth(r.now()) {
		result.AddLog("skipping run, today is not the last day of the month")
		result.Complete(StatusSkipped, nil)
		r.log.Debugw("skipping job, not the last day of the month", "job", job.ID)
		return result
	}

	r.log.Infow("running job", "job", job.ID, "type", job.JobType, "target", job.TargetID)

	var err error
	switch job.JobType {
	case JobTypeBackup:
		err = r.runBackup(ctx, job, result)
	default:
		err = fmt.Errorf("unsupported job type %q", job.JobType)
	}

	status := StatusSuccess
	if err != nil {
		status = StatusFailure
		result.AddLog("error executing %s job: %s", job.JobType, err)
		r.log.Errorw("job failed", "job", job.ID, "target", job.TargetID, "error", err)
	} else {
		result.AddLog("%s job completed successfully", job.JobType)
		r.log.Infow("job finished", "job", job.ID, "target", job.TargetID)
	}
	result.Complete(status, err)

	if r.metrics != nil {
		r.metrics.CountJobRun(job.JobType, status)
	}

	if serr := r.store.UpdateStatus(job.ID, status); serr != nil {
		var notFound JobNotFoundError
		if !errors.As(serr, &notFound) {
			r.log.Errorw("could not record job status", "job", job.ID, "error", serr)
		}
	}

	return result
}

func (r *Runner) runBackup(ctx context.Context, job *Job, result *JobResult) error {
	provider := job.Parameters.Provider
	if provider == "" {
		provider = defaultProvider
	}

	result.AddLog("creating backup of website %s using provider %s", job.TargetID, provider)

	path, err := r.backups.CreateBackup(ctx, job.TargetID, provider)
	if err != nil {
		return fmt.Errorf("backup operation failed: %w", err)
	}
	result.Details.Path = path
	result.AddLog("stored backup at %s", path)

	keep := job.Parameters.RetentionCount
	if keep == 0 {
		keep = constants.DefaultRetentionCount
	}
	if keep < 0 {
		return nil
	}

	deleted, err := r.backups.CleanupBackups(ctx, job.TargetID, provider, keep)
	result.Details.Deleted = deleted
	if err != nil {
		return fmt.Errorf("retention cleanup failed: %w", err)
	}
	if len(deleted) > 0 {
		result.AddLog("removed %d backups exceeding the retention count of %d", len(deleted), keep)
	}

	return nil
}

func isLastDayOfMonth(t time.Time) bool {
	return t.AddDate(0, 0, 1).Month() != t.Month()
}
