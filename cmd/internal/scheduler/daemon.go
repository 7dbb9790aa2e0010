package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const defaultReloadInterval = time.Minute

type scheduledEntry struct {
	id       cron.EntryID
	schedule string
}

// Daemon runs all enabled jobs of the store on their schedule
type Daemon struct {
	log      *zap.SugaredLogger
	store    *Store
	runner   *Runner
	cron     *cron.Cron
	interval time.Duration
	onReload func(ctx context.Context) error
	entries  map[string]scheduledEntry
}

// DaemonConfig provides configuration for the Daemon
type DaemonConfig struct {
	// ReloadInterval is the interval in which the job store is read again
	ReloadInterval time.Duration
	// OnReload is called before every reload, jobs are scheduled even if it fails
	OnReload func(ctx context.Context) error
}

// NewDaemon returns a scheduler daemon
func NewDaemon(log *zap.SugaredLogger, store *Store, runner *Runner, config DaemonConfig) *Daemon {
	if config.ReloadInterval <= 0 {
		config.ReloadInterval = defaultReloadInterval
	}

	logger := cronLogger{log: log}

	return &Daemon{
		log:      log,
		store:    store,
		runner:   runner,
		cron:     cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		interval: config.ReloadInterval,
		onReload: config.OnReload,
		entries:  map[string]scheduledEntry{},
	}
}

// Start schedules the jobs and blocks until the context is done
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.Reload(ctx); err != nil {
		return err
	}

	d.cron.Start()
	d.log.Infow("scheduler started", "jobs", len(d.entries))

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("stopping scheduler, waiting for running jobs")
			<-d.cron.Stop().Done()
			return nil
		case <-ticker.C:
			if err := d.Reload(ctx); err != nil {
				d.log.Errorw("could not reload jobs", "error", err)
			}
		}
	}
}

// Reload synchronizes the scheduled entries with the enabled jobs of the store
func (d *Daemon) Reload(ctx context.Context) error {
	if d.onReload != nil {
		if err := d.onReload(ctx); err != nil {
			d.log.Warnw("reload hook failed", "error", err)
		}
	}

	jobs, err := d.store.List()
	if err != nil {
		return err
	}

	wanted := map[string]*Job{}
	for _, j := range jobs {
		if j.Enabled {
			wanted[j.ID] = j
		}
	}

	for id, e := range d.entries {
		j, ok := wanted[id]
		if ok && j.Schedule == e.schedule {
			continue
		}
		d.cron.Remove(e.id)
		delete(d.entries, id)
		d.log.Infow("unscheduled job", "job", id)
	}

	for id, j := range wanted {
		if _, ok := d.entries[id]; ok {
			continue
		}

		jobID := id
		entryID, err := d.cron.AddFunc(j.Schedule, func() {
			result, err := d.runner.RunByID(ctx, jobID)
			if err != nil {
				d.log.Errorw("could not run job", "job", jobID, "error", err)
				return
			}
			d.log.Infow("job run finished", "job", jobID, "status", result.Status)
		})
		if err != nil {
			d.log.Errorw("could not schedule job", "job", id, "schedule", j.Schedule, "error", err)
			continue
		}

		d.entries[id] = scheduledEntry{id: entryID, schedule: j.Schedule}
		d.log.Infow("scheduled job", "job", id, "target", j.TargetID, "schedule", j.Schedule, "next", d.cron.Entry(entryID).Next.String())
	}

	return nil
}

// Scheduled returns the ids of all scheduled jobs
func (d *Daemon) Scheduled() []string {
	var ids []string
	for id := range d.entries {
		ids = append(ids, id)
	}
	return ids
}

type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
