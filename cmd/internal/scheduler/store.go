package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	iofs "io/fs"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
	"github.com/wpdocker/wp-docker/pkg/constants"
	"go.uber.org/zap"
)

// JobNotFoundError is returned for operations on an unknown job id
type JobNotFoundError struct {
	ID string
}

func (e JobNotFoundError) Error() string {
	return fmt.Sprintf("job %q not found", e.ID)
}

// Store persists jobs as a json document keyed by job id
type Store struct {
	log  *zap.SugaredLogger
	fs   afero.Fs
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewStore returns a job store backed by the json document at path
func NewStore(log *zap.SugaredLogger, fs afero.Fs, path string) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if path == "" {
		path = constants.CronJobsFile
	}
	return &Store{
		log:  log,
		fs:   fs,
		path: path,
		now:  time.Now,
	}
}

// AddJob validates and persists a job and returns its id
func (s *Store) AddJob(job *Job) (string, error) {
	if job == nil {
		return "", errors.New("job must not be nil")
	}
	if job.JobType == "" {
		return "", errors.New("job type must not be empty")
	}
	if job.TargetID == "" {
		return "", errors.New("job target must not be empty")
	}
	if _, err := cron.ParseStandard(job.Schedule); err != nil {
		return "", fmt.Errorf("invalid schedule %q: %w", job.Schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.load()
	if err != nil {
		return "", err
	}

	if job.ID == "" {
		job.ID = NewJobID()
		for jobs[job.ID] != nil {
			job.ID = NewJobID()
		}
	}
	if job.CreatedAt == "" {
		job.CreatedAt = s.now().Format(constants.DisplayTimeFormat)
	}

	jobs[job.ID] = job

	if err := s.save(jobs); err != nil {
		return "", err
	}

	s.log.Infow("added job", "job", job.ID, "type", job.JobType, "target", job.TargetID, "schedule", job.Schedule)

	return job.ID, nil
}

// RemoveJob deletes a job
func (s *Store) RemoveJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := jobs[id]; !ok {
		return JobNotFoundError{ID: id}
	}
	delete(jobs, id)

	if err := s.save(jobs); err != nil {
		return err
	}

	s.log.Infow("removed job", "job", id)

	return nil
}

// Get returns a job by id
func (s *Store) Get(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.load()
	if err != nil {
		return nil, err
	}
	job, ok := jobs[id]
	if !ok {
		return nil, JobNotFoundError{ID: id}
	}
	return job, nil
}

// List returns all jobs ordered by target and id
func (s *Store) List() ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.load()
	if err != nil {
		return nil, err
	}

	result := make([]*Job, 0, len(jobs))
	for _, j := range jobs {
		result = append(result, j)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].TargetID != result[j].TargetID {
			return result[i].TargetID < result[j].TargetID
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// Update applies fn to a job under the store lock and persists the result
func (s *Store) Update(id string, fn func(job *Job) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.load()
	if err != nil {
		return err
	}
	job, ok := jobs[id]
	if !ok {
		return JobNotFoundError{ID: id}
	}
	if err := fn(job); err != nil {
		return err
	}

	return s.save(jobs)
}

// SetEnabled enables or disables a job
func (s *Store) SetEnabled(id string, enabled bool) error {
	return s.Update(id, func(job *Job) error {
		job.Enabled = enabled
		return nil
	})
}

// UpdateStatus records the outcome of the last run of a job
func (s *Store) UpdateStatus(id, status string) error {
	return s.Update(id, func(job *Job) error {
		job.LastStatus = status
		job.LastRun = s.now().Format(constants.DisplayTimeFormat)
		return nil
	})
}

func (s *Store) load() (map[string]*Job, error) {
	jobs := map[string]*Job{}

	raw, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return jobs, nil
		}
		return nil, fmt.Errorf("unable to read jobs file %q: %w", s.path, err)
	}
	if len(raw) == 0 {
		return jobs, nil
	}

	if err := json.Unmarshal(raw, &jobs); err != nil {
		return nil, fmt.Errorf("unable to parse jobs file %q: %w", s.path, err)
	}

	for id, j := range jobs {
		if j == nil {
			delete(jobs, id)
			continue
		}
		if j.ID == "" {
			j.ID = id
		}
	}

	return jobs, nil
}

func (s *Store) save(jobs map[string]*Job) error {
	raw, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return err
	}

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("unable to create directory of jobs file: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, raw, 0600); err != nil {
		return fmt.Errorf("unable to write jobs file: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("unable to replace jobs file: %w", err)
	}

	return nil
}
