package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wpdocker/wp-docker/cmd/internal/metrics"
	"github.com/wpdocker/wp-docker/pkg/constants"
	"go.uber.org/zap/zaptest"
)

type fakeBackups struct {
	createErr  error
	cleanupErr error

	created []string
	cleaned []int
}

func (f *fakeBackups) CreateBackup(_ context.Context, website, providerName string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, website+"@"+providerName)
	return "/backups/" + website + "/backup.tar.gz", nil
}

func (f *fakeBackups) CleanupBackups(_ context.Context, _, _ string, keep int) ([]string, error) {
	f.cleaned = append(f.cleaned, keep)
	if f.cleanupErr != nil {
		return nil, f.cleanupErr
	}
	return []string{"old.tar.gz"}, nil
}

func newTestStore(t *testing.T) *Store {
	return NewStore(zaptest.NewLogger(t).Sugar(), afero.NewMemMapFs(), constants.CronJobsFile)
}

func TestStore(t *testing.T) {
	s := newTestStore(t)
	s.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }

	jobs, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, jobs)

	id, err := s.AddJob(&Job{JobType: JobTypeBackup, Schedule: "30 3 * * 5", TargetID: "b.com", Enabled: true, Parameters: Parameters{Provider: "local", RetentionCount: 3}})
	require.NoError(t, err)
	assert.Regexp(t, `^job_[0-9a-f]{8}$`, id)

	other, err := s.AddJob(&Job{JobType: JobTypeBackup, Schedule: "0 1 * * *", TargetID: "a.com"})
	require.NoError(t, err)
	assert.NotEqual(t, id, other)

	t.Run("invalid jobs are rejected", func(t *testing.T) {
		_, err := s.AddJob(&Job{JobType: JobTypeBackup, Schedule: "every day", TargetID: "a.com"})
		require.ErrorContains(t, err, "invalid schedule")

		_, err = s.AddJob(&Job{JobType: JobTypeBackup, Schedule: "* * * * *"})
		require.Error(t, err)

		_, err = s.AddJob(nil)
		require.Error(t, err)
	})

	t.Run("get and list", func(t *testing.T) {
		job, err := s.Get(id)
		require.NoError(t, err)
		assert.Equal(t, &Job{
			ID:         id,
			JobType:    JobTypeBackup,
			Schedule:   "30 3 * * 5",
			TargetID:   "b.com",
			Parameters: Parameters{Provider: "local", RetentionCount: 3},
			Enabled:    true,
			CreatedAt:  "2024-05-06 07:08:09",
		}, job)

		jobs, err := s.List()
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, "a.com", jobs[0].TargetID)
		assert.Equal(t, "b.com", jobs[1].TargetID)
	})

	t.Run("status and enabled flag", func(t *testing.T) {
		require.NoError(t, s.UpdateStatus(id, StatusSuccess))
		require.NoError(t, s.SetEnabled(id, false))

		job, err := s.Get(id)
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, job.LastStatus)
		assert.Equal(t, "2024-05-06 07:08:09", job.LastRun)
		assert.False(t, job.Enabled)
	})

	t.Run("persisted as a document keyed by id", func(t *testing.T) {
		raw, err := afero.ReadFile(s.fs, constants.CronJobsFile)
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"`+id+`": {`)
		assert.Contains(t, string(raw), `"job_type": "backup"`)
	})

	t.Run("remove", func(t *testing.T) {
		require.NoError(t, s.RemoveJob(id))
		require.ErrorAs(t, s.RemoveJob(id), &JobNotFoundError{})

		_, err := s.Get(id)
		require.ErrorAs(t, err, &JobNotFoundError{})
	})
}

func TestRunner(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T, backups *fakeBackups, params Parameters) (*Runner, *Store, *metrics.Metrics, string) {
		store := newTestStore(t)
		id, err := store.AddJob(&Job{JobType: JobTypeBackup, Schedule: "0 2 * * *", TargetID: "example.com", Enabled: true, Parameters: params})
		require.NoError(t, err)

		m := metrics.New()
		r := NewRunner(zaptest.NewLogger(t).Sugar(), store, backups, m)
		r.now = func() time.Time { return time.Date(2024, 2, 29, 2, 0, 0, 0, time.UTC) }
		return r, store, m, id
	}

	t.Run("backup with retention", func(t *testing.T) {
		backups := &fakeBackups{}
		r, store, _, id := setup(t, backups, Parameters{Provider: "remote:gdrive", RetentionCount: 5})

		result, err := r.RunByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, result.Status)
		assert.Equal(t, "/backups/example.com/backup.tar.gz", result.Details.Path)
		assert.Equal(t, []string{"old.tar.gz"}, result.Details.Deleted)
		assert.Equal(t, "2024-02-29 02:00:00", result.StartTime)
		assert.Equal(t, "2024-02-29 02:00:00", result.EndTime)
		assert.NotEmpty(t, result.Logs)
		assert.Empty(t, result.Error)

		assert.Equal(t, []string{"example.com@remote:gdrive"}, backups.created)
		assert.Equal(t, []int{5}, backups.cleaned)

		job, err := store.Get(id)
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, job.LastStatus)
		assert.NotEmpty(t, job.LastRun)
	})

	t.Run("defaults", func(t *testing.T) {
		backups := &fakeBackups{}
		r, _, _, id := setup(t, backups, Parameters{})

		_, err := r.RunByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []string{"example.com@local"}, backups.created)
		assert.Equal(t, []int{constants.DefaultRetentionCount}, backups.cleaned)
	})

	t.Run("negative retention disables cleanup", func(t *testing.T) {
		backups := &fakeBackups{}
		r, _, _, id := setup(t, backups, Parameters{RetentionCount: -1})

		result, err := r.RunByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, result.Status)
		assert.Empty(t, backups.cleaned)
	})

	t.Run("failing backup", func(t *testing.T) {
		backups := &fakeBackups{createErr: errors.New("provider \"nope\" is not registered")}
		r, store, _, id := setup(t, backups, Parameters{Provider: "nope"})

		result, err := r.RunByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusFailure, result.Status)
		assert.Contains(t, result.Error, "nope")
		assert.Empty(t, backups.cleaned)

		job, err := store.Get(id)
		require.NoError(t, err)
		assert.Equal(t, StatusFailure, job.LastStatus)
	})

	t.Run("failing cleanup", func(t *testing.T) {
		backups := &fakeBackups{cleanupErr: errors.New("delete failed")}
		r, _, _, id := setup(t, backups, Parameters{})

		result, err := r.RunByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusFailure, result.Status)
		assert.Contains(t, result.Error, "retention")
	})

	t.Run("last day of month", func(t *testing.T) {
		backups := &fakeBackups{}
		r, store, _, id := setup(t, backups, Parameters{LastDay: true})

		result, err := r.RunByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, result.Status)

		r.now = func() time.Time { return time.Date(2024, 2, 28, 2, 0, 0, 0, time.UTC) }
		result, err = r.RunByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusSkipped, result.Status)
		assert.Len(t, backups.created, 1)

		job, err := store.Get(id)
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, job.LastStatus)
	})

	t.Run("unsupported job type", func(t *testing.T) {
		store := newTestStore(t)
		r := NewRunner(zaptest.NewLogger(t).Sugar(), store, &fakeBackups{}, nil)

		result := r.Run(ctx, &Job{ID: "job_00000000", JobType: "sync", TargetID: "example.com"})
		assert.Equal(t, StatusFailure, result.Status)
		assert.Contains(t, result.Error, "unsupported job type")
	})

	t.Run("unknown job", func(t *testing.T) {
		r, _, _, _ := setup(t, &fakeBackups{}, Parameters{})
		_, err := r.RunByID(ctx, "job_ffffffff")
		require.ErrorAs(t, err, &JobNotFoundError{})
	})
}

func TestIsLastDayOfMonth(t *testing.T) {
	assert.True(t, isLastDayOfMonth(time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC)))
	assert.False(t, isLastDayOfMonth(time.Date(2023, 2, 28, 12, 0, 0, 0, time.UTC).AddDate(0, 0, -1)))
	assert.True(t, isLastDayOfMonth(time.Date(2023, 2, 28, 12, 0, 0, 0, time.UTC)))
	assert.True(t, isLastDayOfMonth(time.Date(2024, 4, 30, 23, 59, 0, 0, time.UTC)))
	assert.True(t, isLastDayOfMonth(time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)))
	assert.False(t, isLastDayOfMonth(time.Date(2024, 1, 30, 0, 0, 0, 0, time.UTC)))
}

func TestDaemonReload(t *testing.T) {
	var (
		ctx   = context.Background()
		log   = zaptest.NewLogger(t).Sugar()
		store = newTestStore(t)
	)

	enabled, err := store.AddJob(&Job{JobType: JobTypeBackup, Schedule: "0 2 * * *", TargetID: "a.com", Enabled: true})
	require.NoError(t, err)
	disabled, err := store.AddJob(&Job{JobType: JobTypeBackup, Schedule: "0 3 * * *", TargetID: "b.com"})
	require.NoError(t, err)

	d := NewDaemon(log, store, NewRunner(log, store, &fakeBackups{}, nil), DaemonConfig{})

	require.NoError(t, d.Reload(ctx))
	assert.ElementsMatch(t, []string{enabled}, d.Scheduled())
	firstEntry := d.entries[enabled].id

	require.NoError(t, store.SetEnabled(disabled, true))
	require.NoError(t, d.Reload(ctx))
	assert.ElementsMatch(t, []string{enabled, disabled}, d.Scheduled())
	assert.Equal(t, firstEntry, d.entries[enabled].id)

	require.NoError(t, store.Update(enabled, func(job *Job) error {
		job.Schedule = "15 2 * * *"
		return nil
	}))
	require.NoError(t, d.Reload(ctx))
	assert.NotEqual(t, firstEntry, d.entries[enabled].id)
	assert.Equal(t, "15 2 * * *", d.entries[enabled].schedule)

	require.NoError(t, store.RemoveJob(disabled))
	require.NoError(t, d.Reload(ctx))
	assert.ElementsMatch(t, []string{enabled}, d.Scheduled())
	assert.Len(t, d.cron.Entries(), 1)
}

func TestDaemonReloadHook(t *testing.T) {
	var (
		ctx   = context.Background()
		log   = zaptest.NewLogger(t).Sugar()
		store = newTestStore(t)
		calls int
	)

	id, err := store.AddJob(&Job{JobType: JobTypeBackup, Schedule: "0 2 * * *", TargetID: "a.com", Enabled: true})
	require.NoError(t, err)

	d := NewDaemon(log, store, NewRunner(log, store, &fakeBackups{}, nil), DaemonConfig{
		OnReload: func(context.Context) error {
			calls++
			if calls > 1 {
				return errors.New("rclone container did not come up")
			}
			return nil
		},
	})

	require.NoError(t, d.Reload(ctx))
	assert.Equal(t, 1, calls)
	assert.ElementsMatch(t, []string{id}, d.Scheduled())

	require.NoError(t, d.Reload(ctx), "a failing hook must not stop the jobs from being scheduled")
	assert.Equal(t, 2, calls)
	assert.ElementsMatch(t, []string{id}, d.Scheduled())
}
