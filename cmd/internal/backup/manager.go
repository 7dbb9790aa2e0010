package backup

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
	backuperrors "github.com/wpdocker/wp-docker/cmd/internal/backup/errors"
	"github.com/wpdocker/wp-docker/cmd/internal/backup/providers"
	"github.com/wpdocker/wp-docker/cmd/internal/backup/providers/common"
	"github.com/wpdocker/wp-docker/cmd/internal/backup/providers/remote"
	"github.com/wpdocker/wp-docker/cmd/internal/encryption"
	"github.com/wpdocker/wp-docker/cmd/internal/metrics"
	"github.com/wpdocker/wp-docker/cmd/internal/scheduler"
	"github.com/wpdocker/wp-docker/cmd/internal/siteconfig"
	"github.com/wpdocker/wp-docker/cmd/internal/utils"
	"github.com/wpdocker/wp-docker/pkg/constants"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// LatestBackup can be given as backup name to restore the newest backup of a website
const LatestBackup = "latest"

// Creator produces the local artifact of a website backup
type Creator interface {
	Run(ctx context.Context, website string) (string, error)
	Folders(website string) ([]*Folder, error)
}

// ContentRestorer restores a local backup file into a website
type ContentRestorer interface {
	Restore(ctx context.Context, website, file string) (providers.EntryType, error)
}

// JobScheduler persists scheduled jobs
type JobScheduler interface {
	AddJob(job *scheduler.Job) (string, error)
	RemoveJob(id string) error
}

// Manager coordinates all backup operations across the registered storage providers
type Manager struct {
	log       *zap.SugaredLogger
	fs        afero.Fs
	workflow  Creator
	restorer  ContentRestorer
	jobs      JobScheduler
	sites     SiteStore
	encrypter *encryption.Encrypter
	metrics   *metrics.Metrics
	tempDir   string

	mu        sync.RWMutex
	providers map[string]providers.StorageProvider
}

// ManagerConfig provides the collaborators of the Manager
type ManagerConfig struct {
	Workflow Creator
	Restorer ContentRestorer
	Jobs     JobScheduler
	Sites    SiteStore
	// Encrypter is optional, if set artifacts are encrypted before they are stored
	Encrypter *encryption.Encrypter
	Metrics   *metrics.Metrics
	// TempDir holds the scratch space of store and restore operations
	TempDir string
	FS      afero.Fs
}

// NewManager returns a backup manager without any registered provider
func NewManager(log *zap.SugaredLogger, config *ManagerConfig) (*Manager, error) {
	if config == nil {
		return nil, errors.New("backup manager requires a config")
	}
	if config.Workflow == nil || config.Restorer == nil || config.Sites == nil {
		return nil, errors.New("backup manager requires a workflow, a restorer and a site store")
	}
	if config.TempDir == "" {
		config.TempDir = filepath.Join(constants.BackupDir, constants.TempDirName)
	}
	if config.FS == nil {
		config.FS = afero.NewOsFs()
	}
	if config.Metrics == nil {
		config.Metrics = metrics.New()
	}

	return &Manager{
		log:       log,
		fs:        config.FS,
		workflow:  config.Workflow,
		restorer:  config.Restorer,
		jobs:      config.Jobs,
		sites:     config.Sites,
		encrypter: config.Encrypter,
		metrics:   config.Metrics,
		tempDir:   config.TempDir,
		providers: map[string]providers.StorageProvider{},
	}, nil
}

// Register adds a storage provider under its name, an existing provider of the same name is replaced
func (m *Manager) Register(p providers.StorageProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := p.ProviderName()
	if _, ok := m.providers[name]; ok {
		m.log.Warnw("replacing already registered storage provider", "provider", name)
	}
	m.providers[name] = p

	m.log.Debugw("registered storage provider", "provider", name)
}

// Provider returns the registered provider of the given name
func (m *Manager) Provider(name string) (providers.StorageProvider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.providers[name]
	if !ok {
		return nil, backuperrors.ProviderNotFoundError{Name: name}
	}
	return p, nil
}

// Providers returns the names of all registered providers
func (m *Manager) Providers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) snapshot() []providers.StorageProvider {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]providers.StorageProvider, 0, len(m.providers))
	for _, p := range m.providers {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ProviderName() < result[j].ProviderName()
	})
	return result
}

func (m *Manager) scratchDir(prefix string) (string, error) {
	if err := m.fs.MkdirAll(m.tempDir, 0755); err != nil {
		return "", fmt.Errorf("could not create temp directory %q: %w", m.tempDir, err)
	}
	dir, err := afero.TempDir(m.fs, m.tempDir, prefix)
	if err != nil {
		return "", fmt.Errorf("could not create scratch directory: %w", err)
	}
	return dir, nil
}

func (m *Manager) removeScratch(dir string) {
	if err := m.fs.RemoveAll(dir); err != nil {
		m.log.Warnw("could not remove scratch directory", "path", dir, "error", err)
	}
}

// CreateBackup takes a backup of the website and stores it at the named provider
func (m *Manager) CreateBackup(ctx context.Context, website, providerName string) (string, error) {
	p, err := m.Provider(providerName)
	if err != nil {
		return "", err
	}

	m.log.Infow("creating backup", "website", website, "provider", providerName)

	archive, err := m.workflow.Run(ctx, website)
	if err != nil {
		m.metrics.CountError("create")
		return "", err
	}

	if _, err := utils.VerifyFile(m.fs, archive); err != nil {
		m.metrics.CountError("create")
		return "", fmt.Errorf("backup of website %q is not usable: %w", website, err)
	}

	scratch, err := m.scratchDir("store-")
	if err != nil {
		m.metrics.CountError("store")
		return "", err
	}
	defer m.removeScratch(scratch)

	// every run names its archive wordpress.tar.gz, the stored copy is named after the backup directory
	artifact := filepath.Join(scratch, filepath.Base(filepath.Dir(archive))+constants.ArchiveExtension)
	if err := utils.Copy(m.fs, archive, artifact); err != nil {
		m.metrics.CountError("store")
		return "", fmt.Errorf("could not stage backup of website %q: %w", website, err)
	}

	if m.encrypter != nil {
		artifact, err = m.encrypter.EncryptFile(artifact, scratch)
		if err != nil {
			m.metrics.CountError("encrypt")
			return "", fmt.Errorf("could not encrypt backup of website %q: %w", website, err)
		}
	}

	info, err := m.fs.Stat(artifact)
	if err != nil {
		m.metrics.CountError("store")
		return "", err
	}

	stored, err := p.StoreBackup(ctx, website, artifact)
	if err != nil {
		m.metrics.CountError("store")
		return "", err
	}

	m.metrics.CountBackup(providerName, info.Size())

	m.log.Infow("stored backup", "website", website, "provider", providerName, "path", stored)

	return stored, nil
}

// RestoreBackup retrieves the named backup from the provider and restores it into the website
func (m *Manager) RestoreBackup(ctx context.Context, website, backupName, providerName string) error {
	p, err := m.Provider(providerName)
	if err != nil {
		return err
	}

	if backupName == LatestBackup {
		backupName, err = m.latestBackup(ctx, p, website)
		if err != nil {
			return err
		}
	}

	scratch, err := m.scratchDir("restore-")
	if err != nil {
		return err
	}
	defer m.removeScratch(scratch)

	m.log.Infow("restoring backup", "website", website, "backup", backupName, "provider", providerName)

	file, err := p.RetrieveBackup(ctx, website, backupName, filepath.Join(scratch, filepath.Base(backupName)))
	if err != nil {
		m.metrics.CountError("download")
		return err
	}

	if encryption.IsEncrypted(file) {
		if m.encrypter == nil {
			return fmt.Errorf("backup %q of website %q is encrypted but no encryption key is configured", backupName, website)
		}
		file, err = m.encrypter.DecryptFile(file, scratch)
		if err != nil {
			m.metrics.CountError("decrypt")
			return fmt.Errorf("could not decrypt backup %q of website %q: %w", backupName, website, err)
		}
	}

	kind, err := m.restorer.Restore(ctx, website, file)
	if err != nil {
		m.metrics.CountError("restore")
		return err
	}

	m.metrics.CountRestore(string(kind))

	m.log.Infow("restored backup", "website", website, "backup", backupName, "provider", providerName)

	return nil
}

func (m *Manager) latestBackup(ctx context.Context, p providers.StorageProvider, website string) (string, error) {
	entries, err := p.ListBackups(ctx, website)
	if err != nil {
		return "", fmt.Errorf("could not list backups of website %q: %w", website, err)
	}

	latest := common.Latest(entries)
	if latest == nil {
		return "", backuperrors.NoBackupsAvailableError{Website: website}
	}

	m.log.Infow("resolved latest backup", "website", website, "backup", latest.Name, "provider", p.ProviderName())

	return latest.Name, nil
}

// ListBackups lists the backups of a website, or of all websites if website is empty.
//
// Without a provider name all registered providers are listed, failing providers are skipped.
func (m *Manager) ListBackups(ctx context.Context, website, providerName string) ([]*providers.Entry, error) {
	if providerName != "" {
		p, err := m.Provider(providerName)
		if err != nil {
			return nil, err
		}
		entries, err := p.ListBackups(ctx, website)
		if err != nil {
			return nil, err
		}
		common.Sort(entries)
		return entries, nil
	}

	all := m.snapshot()
	results := make([][]*providers.Entry, len(all))

	var g errgroup.Group
	for i, p := range all {
		g.Go(func() error {
			entries, err := p.ListBackups(ctx, website)
			if err != nil {
				m.log.Warnw("could not list backups of provider", "provider", p.ProviderName(), "website", website, "error", err)
				return nil
			}
			results[i] = entries
			return nil
		})
	}
	_ = g.Wait()

	entries := []*providers.Entry{}
	for _, r := range results {
		entries = append(entries, r...)
	}
	common.Sort(entries)

	return entries, nil
}

// DeleteBackup deletes the named backup of the website at the provider
func (m *Manager) DeleteBackup(ctx context.Context, website, backupName, providerName string) error {
	p, err := m.Provider(providerName)
	if err != nil {
		return err
	}

	if err := p.DeleteBackup(ctx, website, backupName); err != nil {
		m.metrics.CountError("delete")
		return err
	}

	m.log.Infow("deleted backup", "website", website, "backup", backupName, "provider", providerName)

	return nil
}

// CleanupBackups deletes all but the keep newest backups of the website at the provider and returns the deleted names
func (m *Manager) CleanupBackups(ctx context.Context, website, providerName string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, fmt.Errorf("retention count must be positive, got %d", keep)
	}

	p, err := m.Provider(providerName)
	if err != nil {
		return nil, err
	}

	entries, err := p.ListBackups(ctx, website)
	if err != nil {
		return nil, err
	}
	common.Sort(entries)

	if len(entries) <= keep {
		return nil, nil
	}

	var (
		deleted []string
		errs    []error
	)
	for _, e := range entries[keep:] {
		if err := p.DeleteBackup(ctx, e.Website, e.Name); err != nil {
			m.metrics.CountError("cleanup")
			errs = append(errs, err)
			continue
		}
		deleted = append(deleted, e.Name)
	}

	m.log.Infow("cleaned up backups", "website", website, "provider", providerName, "keep", keep, "deleted", len(deleted))

	return deleted, errors.Join(errs...)
}

// Folders lists the local backup directories of a website
func (m *Manager) Folders(website string) ([]*Folder, error) {
	return m.workflow.Folders(website)
}

// ScheduleBackup enables or disables the scheduled backup of a website and returns the id of the scheduled job
func (m *Manager) ScheduleBackup(_ context.Context, website string, schedule *siteconfig.BackupSchedule, providerName string) (string, error) {
	if m.jobs == nil {
		return "", errors.New("no job scheduler configured")
	}
	if schedule == nil {
		return "", errors.New("schedule must not be nil")
	}

	config, err := m.sites.Get(website)
	if err != nil {
		return "", err
	}

	previous := ""
	if config.Backup != nil {
		previous = config.Backup.JobID
	}

	if !schedule.Enabled {
		if err := m.removeJob(previous); err != nil {
			return "", err
		}

		err := m.sites.Update(website, func(existing *siteconfig.SiteConfig) (*siteconfig.SiteConfig, error) {
			if existing == nil {
				return nil, backuperrors.SiteNotFoundError{Website: website}
			}
			if existing.Backup == nil {
				existing.Backup = &siteconfig.SiteBackup{}
			}
			if existing.Backup.Schedule != nil {
				existing.Backup.Schedule.Enabled = false
			}
			existing.Backup.JobID = ""
			return existing, nil
		})
		if err != nil {
			return "", err
		}

		m.log.Infow("disabled scheduled backup", "website", website)
		return "", nil
	}

	if _, err := m.Provider(providerName); err != nil {
		return "", err
	}

	expr, err := Recurrence(schedule)
	if err != nil {
		return "", err
	}

	if err := m.removeJob(previous); err != nil {
		return "", err
	}

	retention := schedule.RetentionCount
	if retention == 0 {
		retention = constants.DefaultRetentionCount
	}

	id, err := m.jobs.AddJob(&scheduler.Job{
		JobType:  scheduler.JobTypeBackup,
		Schedule: expr,
		TargetID: website,
		Parameters: scheduler.Parameters{
			Provider:       providerName,
			RetentionCount: retention,
			LastDay:        RunsOnLastDay(schedule),
		},
		Enabled:     true,
		Description: fmt.Sprintf("%s backup of %s to %s", schedule.ScheduleType, website, providerName),
	})
	if err != nil {
		return "", fmt.Errorf("could not schedule backup of website %q: %w", website, err)
	}

	stored := *schedule
	stored.RetentionCount = retention
	remoteName, isRemote := strings.CutPrefix(providerName, remote.ProviderPrefix)
	stored.CloudSync = isRemote

	err = m.sites.Update(website, func(existing *siteconfig.SiteConfig) (*siteconfig.SiteConfig, error) {
		if existing == nil {
			return nil, backuperrors.SiteNotFoundError{Website: website}
		}
		if existing.Backup == nil {
			existing.Backup = &siteconfig.SiteBackup{}
		}
		existing.Backup.Schedule = &stored
		existing.Backup.JobID = id
		if isRemote {
			existing.Backup.CloudConfig = &siteconfig.CloudConfig{
				Provider:   "rclone",
				RemoteName: remoteName,
				RemotePath: constants.RemoteBackupRoot + "/" + website,
				Enabled:    true,
			}
		}
		return existing, nil
	})
	if err != nil {
		if rerr := m.jobs.RemoveJob(id); rerr != nil {
			m.log.Errorw("could not remove job after failing to persist it", "job", id, "error", rerr)
		}
		return "", fmt.Errorf("could not persist schedule of website %q: %w", website, err)
	}

	m.log.Infow("scheduled backup", "website", website, "provider", providerName, "schedule", expr, "job", id)

	return id, nil
}

func (m *Manager) removeJob(id string) error {
	if id == "" {
		return nil
	}
	err := m.jobs.RemoveJob(id)
	if err == nil {
		return nil
	}
	var notFound scheduler.JobNotFoundError
	if errors.As(err, &notFound) {
		m.log.Warnw("scheduled job of website was already removed", "job", id)
		return nil
	}
	return fmt.Errorf("could not remove scheduled job %q: %w", id, err)
}
