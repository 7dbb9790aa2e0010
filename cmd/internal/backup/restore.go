package backup

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	backuperrors "github.com/wpdocker/wp-docker/cmd/internal/backup/errors"
	"github.com/wpdocker/wp-docker/cmd/internal/backup/providers"
	"github.com/wpdocker/wp-docker/cmd/internal/compress"
	internalconstants "github.com/wpdocker/wp-docker/cmd/internal/constants"
	"github.com/wpdocker/wp-docker/cmd/internal/database"
	"github.com/wpdocker/wp-docker/cmd/internal/docker"
	"github.com/wpdocker/wp-docker/cmd/internal/utils"
	"github.com/wpdocker/wp-docker/pkg/constants"
	"go.uber.org/zap"
)

// Restorer restores database dumps and file archives of a website
type Restorer struct {
	log        *zap.SugaredLogger
	fs         afero.Fs
	db         database.DatabaseImporter
	compressor compress.Compressor
	runtime    docker.Runtime
	sitesDir   string
	timeout    time.Duration
}

// RestorerConfig provides configuration for the Restorer
type RestorerConfig struct {
	SitesDir    string
	ExecTimeout time.Duration
	FS          afero.Fs
}

// NewRestorer returns a restorer
func NewRestorer(log *zap.SugaredLogger, db database.DatabaseImporter, compressor compress.Compressor, runtime docker.Runtime, config *RestorerConfig) (*Restorer, error) {
	if db == nil || compressor == nil || runtime == nil {
		return nil, errors.New("restorer requires a database importer, a compressor and a container runtime")
	}
	if config == nil {
		config = &RestorerConfig{}
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

	return &Restorer{
		log:        log,
		fs:         config.FS,
		db:         db,
		compressor: compressor,
		runtime:    runtime,
		sitesDir:   config.SitesDir,
		timeout:    config.ExecTimeout,
	}, nil
}

// Classify returns the kind of restore a backup file needs
func Classify(file string) (providers.EntryType, error) {
	name := strings.ToLower(filepath.Base(file))
	switch {
	case strings.HasSuffix(name, ".sql"):
		return providers.EntryTypeDatabase, nil
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return providers.EntryTypeFull, nil
	default:
		return "", backuperrors.UnknownBackupTypeError{Name: filepath.Base(file)}
	}
}

// Restore restores the given local backup file into the website and restarts the website afterwards
func (r *Restorer) Restore(ctx context.Context, website, file string) (providers.EntryType, error) {
	kind, err := Classify(file)
	if err != nil {
		return "", err
	}

	restoreCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	switch kind {
	case providers.EntryTypeDatabase:
		r.log.Infow("restoring database", "website", website, "path", file)
		if err := r.db.ImportDatabase(restoreCtx, website, file, true); err != nil {
			return "", fmt.Errorf("could not restore database of website %q: %w", website, err)
		}
	case providers.EntryTypeFull:
		r.log.Infow("restoring website files", "website", website, "path", file)
		if err := r.restoreFiles(restoreCtx, website, file); err != nil {
			return "", fmt.Errorf("could not restore files of website %q: %w", website, err)
		}
	}

	r.restart(ctx, website)

	return kind, nil
}

func (r *Restorer) restoreFiles(ctx context.Context, website, archive string) error {
	siteDir := filepath.Join(r.sitesDir, website)
	extractDir := filepath.Join(siteDir, internalconstants.ExtractDirName)
	target := filepath.Join(siteDir, constants.WordpressDirName)

	if err := r.fs.RemoveAll(extractDir); err != nil {
		return fmt.Errorf("could not clean extraction directory: %w", err)
	}
	if err := r.fs.MkdirAll(extractDir, 0755); err != nil {
		return fmt.Errorf("could not create extraction directory: %w", err)
	}
	defer func() {
		if err := r.fs.RemoveAll(extractDir); err != nil {
			r.log.Warnw("could not remove extraction directory", "website", website, "path", extractDir, "error", err)
		}
	}()

	if err := r.compressor.Decompress(ctx, archive, extractDir); err != nil {
		return fmt.Errorf("could not extract archive %q: %w", filepath.Base(archive), err)
	}

	extracted := filepath.Join(extractDir, constants.WordpressDirName)
	info, err := r.fs.Stat(extracted)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("archive %q does not contain a %s directory", filepath.Base(archive), constants.WordpressDirName)
	}
	empty, err := utils.IsEmpty(r.fs, extracted)
	if err != nil {
		return fmt.Errorf("could not read extracted website files: %w", err)
	}
	if empty {
		return fmt.Errorf("archive %q contains an empty %s directory", filepath.Base(archive), constants.WordpressDirName)
	}

	if err := r.fs.RemoveAll(target); err != nil {
		return fmt.Errorf("could not remove current website files: %w", err)
	}
	if err := r.fs.Rename(extracted, target); err != nil {
		return fmt.Errorf("could not move restored website files into place: %w", err)
	}

	r.setPermissions(ctx, website)

	return nil
}

func (r *Restorer) setPermissions(ctx context.Context, website string) {
	container := website + internalconstants.PHPContainerSuffix

	running, err := r.runtime.IsRunning(ctx, container)
	if err != nil || !running {
		r.log.Warnw("php container is not running, skipping permission fix", "website", website, "container", container, "error", err)
		return
	}

	_, err = r.runtime.Exec(ctx, container, []string{"chown", "-R", internalconstants.WebOwner, internalconstants.WebRootInContainer}, docker.ExecOptions{User: "root"})
	if err != nil {
		r.log.Warnw("could not fix permissions of restored files", "website", website, "container", container, "error", err)
		return
	}

	r.log.Infow("fixed permissions of restored files", "website", website, "container", container)
}

func (r *Restorer) restart(ctx context.Context, website string) {
	composeFile := filepath.Join(r.sitesDir, website, internalconstants.ComposeDirName, internalconstants.ComposeFileName)

	if err := r.runtime.RestartCompose(ctx, composeFile); err != nil {
		r.log.Warnw("content was restored but the website could not be restarted", "website", website, "compose_file", composeFile, "error", err)
		return
	}

	r.log.Infow("restarted website", "website", website)
}
