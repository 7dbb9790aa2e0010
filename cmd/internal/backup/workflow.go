package backup

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/wpdocker/wp-docker/cmd/internal/backup/providers/common"
	"github.com/wpdocker/wp-docker/cmd/internal/compress"
	"github.com/wpdocker/wp-docker/cmd/internal/database"
	"github.com/wpdocker/wp-docker/cmd/internal/siteconfig"
	"github.com/wpdocker/wp-docker/cmd/internal/utils"
	"github.com/wpdocker/wp-docker/pkg/constants"
	"go.uber.org/zap"
)

// SiteStore reads and writes site configurations
type SiteStore interface {
	Get(website string) (*siteconfig.SiteConfig, error)
	Update(website string, fn func(existing *siteconfig.SiteConfig) (*siteconfig.SiteConfig, error)) error
}

// Workflow produces the local artifacts of a website backup
type Workflow struct {
	log        *zap.SugaredLogger
	fs         afero.Fs
	sites      SiteStore
	db         database.DatabaseExporter
	compressor compress.Compressor
	sitesDir   string
	timeout    time.Duration
	now        func() time.Time
}

// WorkflowConfig provides configuration for the Workflow
type WorkflowConfig struct {
	SitesDir    string
	ExecTimeout time.Duration
	FS          afero.Fs
}

// runState is the transient state of one workflow invocation
type runState struct {
	website   string
	backupDir string
	dbDump    string
	archive   string

	previous       *siteconfig.BackupInfo
	pointerWritten bool
}

type stage struct {
	name string
	fn   func(ctx context.Context, state *runState) error
}

// NewWorkflow returns a backup workflow
func NewWorkflow(log *zap.SugaredLogger, sites SiteStore, db database.DatabaseExporter, compressor compress.Compressor, config *WorkflowConfig) (*Workflow, error) {
	if sites == nil || db == nil || compressor == nil {
		return nil, errors.New("backup workflow requires a site store, a database exporter and a compressor")
	}
	if config == nil {
		config = &WorkflowConfig{}
	}
	if config.SitesDir == "" {
		config.SitesDir = constants.SitesDir
	}
	if config.ExecTimeout == 0 {
		config.ExecTimeout = constants.DefaultExecTimeout
	}
	if config.FS == nil {
		config.FS = afero.NewOsFs()
	}

	return &Workflow{
		log:        log,
		fs:         config.FS,
		sites:      sites,
		db:         db,
		compressor: compressor,
		sitesDir:   config.SitesDir,
		timeout:    config.ExecTimeout,
		now:        time.Now,
	}, nil
}

func (w *Workflow) backupRoot(website string) string {
	return filepath.Join(w.sitesDir, website, "backups")
}

// Run takes a backup of the website and returns the path of the files archive.
//
// A failing run leaves neither a backup directory nor a changed last backup pointer behind.
func (w *Workflow) Run(ctx context.Context, website string) (result string, err error) {
	state := &runState{website: website}

	defer func() {
		if err != nil {
			w.log.Errorw("backup failed, rolling back", "website", website, "error", err)
			w.rollback(state)
		}
	}()

	stages := []stage{
		{name: "create structure", fn: w.createStructure},
		{name: "backup database", fn: w.backupDatabase},
		{name: "backup files", fn: w.backupFiles},
		{name: "update metadata", fn: w.updateMetadata},
	}

	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		w.log.Debugw("running backup stage", "website", website, "stage", s.name)

		if err := s.fn(ctx, state); err != nil {
			return "", fmt.Errorf("backup of website %q failed in stage %q: %w", website, s.name, err)
		}
	}

	result = w.finalize(state)

	if result == "" {
		return "", fmt.Errorf("backup of website %q produced no archive", website)
	}
	if _, err := utils.VerifyFile(w.fs, result); err != nil {
		return "", fmt.Errorf("backup of website %q produced an invalid archive: %w", website, err)
	}

	return result, nil
}

func (w *Workflow) createStructure(_ context.Context, state *runState) error {
	config, err := w.sites.Get(state.website)
	if err != nil {
		return err
	}
	if config.Backup != nil && config.Backup.LastBackup != nil {
		previous := *config.Backup.LastBackup
		state.previous = &previous
	}

	root := w.backupRoot(state.website)
	if err := w.fs.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("could not create backup root %q: %w", root, err)
	}

	dir := filepath.Join(root, constants.BackupDirPrefix+w.now().Format(constants.BackupDirTimeFormat))

	if _, err := w.fs.Stat(dir); err == nil {
		return fmt.Errorf("backup directory %q already exists", dir)
	}

	if err := w.fs.Mkdir(dir, 0755); err != nil {
		return fmt.Errorf("could not create backup directory %q: %w", dir, err)
	}

	state.backupDir = dir

	w.log.Infow("created backup directory", "website", state.website, "path", dir)

	return nil
}

func (w *Workflow) backupDatabase(ctx context.Context, state *runState) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	dump, err := w.db.ExportDatabase(ctx, state.website, state.backupDir)
	if err != nil {
		return err
	}

	state.dbDump = dump

	w.log.Infow("backed up database", "website", state.website, "path", dump)

	return nil
}

func (w *Workflow) backupFiles(ctx context.Context, state *runState) error {
	source := filepath.Join(w.sitesDir, state.website, constants.WordpressDirName)

	info, err := w.fs.Stat(source)
	if err != nil {
		return fmt.Errorf("could not access website files %q: %w", source, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("website files %q are not a directory", source)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	archive := filepath.Join(state.backupDir, constants.WordpressArchiveName)

	if err := w.compressor.Compress(ctx, source, archive); err != nil {
		return fmt.Errorf("could not archive website files: %w", err)
	}

	state.archive = archive

	if info, err := w.fs.Stat(archive); err == nil {
		w.log.Infow("archived website files", "website", state.website, "path", archive, "size", common.FormatSize(info.Size()))
	}

	return nil
}

func (w *Workflow) updateMetadata(_ context.Context, state *runState) error {
	infos, err := afero.ReadDir(w.fs, state.backupDir)
	if err != nil {
		return fmt.Errorf("could not read backup directory %q: %w", state.backupDir, err)
	}

	var newest iofs.FileInfo
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".sql") {
			continue
		}
		if newest == nil || info.ModTime().After(newest.ModTime()) {
			newest = info
		}
	}

	databaseFile := ""
	if newest != nil {
		databaseFile = filepath.Join(state.backupDir, newest.Name())
	}

	info := &siteconfig.BackupInfo{
		Time:     w.now().Format(constants.DisplayTimeFormat),
		File:     state.archive,
		Database: databaseFile,
	}

	err = w.sites.Update(state.website, func(existing *siteconfig.SiteConfig) (*siteconfig.SiteConfig, error) {
		if existing == nil {
			return nil, fmt.Errorf("no configuration found for website %q", state.website)
		}
		if existing.Backup == nil {
			existing.Backup = &siteconfig.SiteBackup{}
		}
		existing.Backup.LastBackup = info
		return existing, nil
	})
	if err != nil {
		return fmt.Errorf("could not update last backup of website %q: %w", state.website, err)
	}

	state.pointerWritten = true

	w.log.Infow("updated last backup", "website", state.website, "archive", info.File, "database", info.Database)

	return nil
}

func (w *Workflow) finalize(state *runState) string {
	w.log.Infow("backup finished", "website", state.website, "path", state.backupDir, "archive", state.archive)
	return state.archive
}

func (w *Workflow) rollback(state *runState) {
	if state.backupDir != "" {
		if err := w.fs.RemoveAll(state.backupDir); err != nil {
			w.log.Errorw("could not remove incomplete backup directory", "website", state.website, "path", state.backupDir, "error", err)
		} else {
			w.log.Infow("removed incomplete backup directory", "website", state.website, "path", state.backupDir)
		}
	}

	if !state.pointerWritten {
		return
	}

	err := w.sites.Update(state.website, func(existing *siteconfig.SiteConfig) (*siteconfig.SiteConfig, error) {
		if existing == nil || existing.Backup == nil {
			return existing, nil
		}
		existing.Backup.LastBackup = state.previous
		return existing, nil
	})
	if err != nil {
		w.log.Errorw("could not restore last backup pointer", "website", state.website, "error", err)
	}
}

// Folder describes one backup directory of a website
type Folder struct {
	Name        string    `json:"folder"`
	Path        string    `json:"path"`
	Time        time.Time `json:"time"`
	Size        int64     `json:"size_bytes"`
	ArchiveFile string    `json:"archive_file,omitempty"`
	SQLFile     string    `json:"sql_file,omitempty"`
	IsLatest    bool      `json:"is_latest"`
}

// Folders lists the backup directories of a website, newest first
func (w *Workflow) Folders(website string) ([]*Folder, error) {
	root := w.backupRoot(website)

	infos, err := afero.ReadDir(w.fs, root)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return []*Folder{}, nil
		}
		return nil, fmt.Errorf("could not read backup directory of website %q: %w", website, err)
	}

	latest := ""
	if config, err := w.sites.Get(website); err == nil && config.Backup != nil && config.Backup.LastBackup != nil && config.Backup.LastBackup.File != "" {
		latest = filepath.Dir(config.Backup.LastBackup.File)
	}

	folders := []*Folder{}
	for _, info := range infos {
		if !info.IsDir() || !strings.HasPrefix(info.Name(), constants.BackupDirPrefix) {
			continue
		}

		dir := filepath.Join(root, info.Name())

		size, err := utils.DirSize(w.fs, dir)
		if err != nil {
			w.log.Warnw("could not determine size of backup folder", "website", website, "path", dir, "error", err)
		}

		folder := &Folder{
			Name:     info.Name(),
			Path:     dir,
			Time:     info.ModTime(),
			Size:     size,
			IsLatest: latest == dir,
		}

		files, err := afero.ReadDir(w.fs, dir)
		if err == nil {
			for _, f := range files {
				switch {
				case folder.ArchiveFile == "" && strings.HasSuffix(f.Name(), ".tar.gz"):
					folder.ArchiveFile = filepath.Join(dir, f.Name())
				case folder.SQLFile == "" && strings.HasSuffix(f.Name(), ".sql"):
					folder.SQLFile = filepath.Join(dir, f.Name())
				}
			}
		}

		folders = append(folders, folder)
	}

	sort.SliceStable(folders, func(i, j int) bool {
		if !folders[i].Time.Equal(folders[j].Time) {
			return folders[i].Time.After(folders[j].Time)
		}
		return folders[i].Name > folders[j].Name
	})

	return folders, nil
}
