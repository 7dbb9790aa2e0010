package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"
	backuperrors "github.com/wpdocker/wp-docker/cmd/internal/backup/errors"
	"github.com/wpdocker/wp-docker/cmd/internal/backup/providers"
	"github.com/wpdocker/wp-docker/cmd/internal/backup/providers/common"
	"github.com/wpdocker/wp-docker/cmd/internal/utils"
	"github.com/wpdocker/wp-docker/pkg/constants"
)

// ProviderPrefix prefixes the registry name of every remote provider
const ProviderPrefix = "remote:"

// BackupProviderRemote stores backups on an rclone remote
type BackupProviderRemote struct {
	log    *slog.Logger
	fs     afero.Fs
	rclone *Rclone
	mapper *PathMapper
	now    func() time.Time
	config *BackupProviderConfigRemote
}

// BackupProviderConfigRemote provides configuration for the BackupProviderRemote
type BackupProviderConfigRemote struct {
	RemoteName   string
	PathMappings []PathMapping
	FS           afero.Fs
}

func (c *BackupProviderConfigRemote) validate() error {
	if c.RemoteName == "" {
		return errors.New("remote name must not be empty")
	}
	return nil
}

// New returns a remote backup provider for one rclone remote
func New(log *slog.Logger, rclone *Rclone, config *BackupProviderConfigRemote) (*BackupProviderRemote, error) {
	if config == nil {
		return nil, errors.New("remote backup provider requires a provider config")
	}
	if rclone == nil {
		return nil, errors.New("remote backup provider requires an rclone runner")
	}

	if config.PathMappings == nil {
		config.PathMappings = DefaultPathMappings()
	}
	if config.FS == nil {
		config.FS = afero.NewOsFs()
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &BackupProviderRemote{
		log:    log,
		fs:     config.FS,
		rclone: rclone,
		mapper: NewPathMapper(config.PathMappings),
		now:    time.Now,
		config: config,
	}, nil
}

// ProviderName returns the name of the provider
func (b *BackupProviderRemote) ProviderName() string {
	return ProviderPrefix + b.config.RemoteName
}

func (b *BackupProviderRemote) remotePath(elem ...string) string {
	return b.config.RemoteName + ":" + path.Join(append([]string{constants.RemoteBackupRoot}, elem...)...)
}

// StoreBackup uploads the given file to backups/<website>/<file> on the remote
func (b *BackupProviderRemote) StoreBackup(ctx context.Context, website, localFilePath string) (string, error) {
	if err := common.ValidateName("website", website); err != nil {
		return "", err
	}

	if _, err := utils.VerifyFile(b.fs, localFilePath); err != nil {
		return "", fmt.Errorf("could not store backup of website %q: %w", website, err)
	}

	source, err := b.mapper.ToContainer(localFilePath)
	if err != nil {
		return "", err
	}

	if err := b.rclone.EnsureRunning(ctx); err != nil {
		return "", err
	}

	if err := b.rclone.Mkdir(ctx, b.config.RemoteName, constants.RemoteBackupRoot, website); err != nil {
		return "", err
	}

	destination := b.remotePath(website, filepath.Base(localFilePath))

	b.log.Info("uploading backup", "website", website, "source", localFilePath, "destination", destination)

	if _, err := b.rclone.Run(ctx, "copyto", source, destination); err != nil {
		return "", fmt.Errorf("could not upload backup %q of website %q: %w", filepath.Base(localFilePath), website, err)
	}

	return destination, nil
}

// RetrieveBackup downloads the named backup to the destination path
func (b *BackupProviderRemote) RetrieveBackup(ctx context.Context, website, backupName, destinationPath string) (string, error) {
	if err := common.ValidateName("website", website); err != nil {
		return "", err
	}
	if err := common.ValidateName("backup name", backupName); err != nil {
		return "", err
	}

	destination, err := b.mapper.ToContainer(destinationPath)
	if err != nil {
		return "", err
	}

	if err := b.rclone.EnsureRunning(ctx); err != nil {
		return "", err
	}

	source := b.remotePath(website, backupName)

	items, err := b.rclone.List(ctx, source, "--files-only")
	if err != nil {
		return "", fmt.Errorf("could not check backup %q of website %q: %w", backupName, website, err)
	}
	if len(items) == 0 {
		return "", backuperrors.BackupNotFoundError{Website: website, Name: backupName}
	}

	if err := b.fs.MkdirAll(filepath.Dir(destinationPath), 0755); err != nil {
		return "", fmt.Errorf("could not create download directory: %w", err)
	}

	b.log.Info("downloading backup", "website", website, "source", source, "destination", destinationPath)

	if _, err := b.rclone.Run(ctx, "copyto", source, destination); err != nil {
		return "", fmt.Errorf("could not download backup %q of website %q: %w", backupName, website, err)
	}

	if _, err := utils.VerifyFile(b.fs, destinationPath); err != nil {
		return "", fmt.Errorf("download of backup %q of website %q is invalid: %w", backupName, website, err)
	}

	return destinationPath, nil
}

// ListBackups lists the backups of the given website or of all websites if website is empty
func (b *BackupProviderRemote) ListBackups(ctx context.Context, website string) ([]*providers.Entry, error) {
	if website != "" {
		if err := common.ValidateName("website", website); err != nil {
			return nil, err
		}
	}

	if err := b.rclone.EnsureRunning(ctx); err != nil {
		return nil, err
	}

	var websites []string
	if website != "" {
		websites = []string{website}
	} else {
		dirs, err := b.rclone.List(ctx, b.remotePath(), "--dirs-only")
		if err != nil {
			return nil, fmt.Errorf("could not list websites on remote %q: %w", b.config.RemoteName, err)
		}
		for _, d := range dirs {
			websites = append(websites, d.Name)
		}
		sort.Strings(websites)
	}

	entries := []*providers.Entry{}
	for _, w := range websites {
		items, err := b.rclone.List(ctx, b.remotePath(w), "--files-only")
		if err != nil {
			return nil, fmt.Errorf("could not list backups of website %q on remote %q: %w", w, b.config.RemoteName, err)
		}

		for _, item := range items {
			if item.IsDir {
				continue
			}
			entries = append(entries, common.NewEntry(w, b.remotePath(w, item.Name), item.Size, parseModTime(item.ModTime, b.now), b.ProviderName()))
		}
	}

	common.Sort(entries)

	return entries, nil
}

// DeleteBackup deletes the named backup of the website from the remote
func (b *BackupProviderRemote) DeleteBackup(ctx context.Context, website, backupName string) error {
	if err := common.ValidateName("website", website); err != nil {
		return err
	}
	if err := common.ValidateName("backup name", backupName); err != nil {
		return err
	}

	if err := b.rclone.EnsureRunning(ctx); err != nil {
		return err
	}

	target := b.remotePath(website, backupName)

	items, err := b.rclone.List(ctx, target, "--files-only")
	if err != nil {
		return fmt.Errorf("could not check backup %q of website %q: %w", backupName, website, err)
	}
	if len(items) == 0 {
		return backuperrors.BackupNotFoundError{Website: website, Name: backupName}
	}

	b.log.Info("deleting backup", "website", website, "backup", backupName, "provider", b.ProviderName())

	if _, err := b.rclone.Run(ctx, "deletefile", target); err != nil {
		return fmt.Errorf("could not delete backup %q of website %q: %w", backupName, website, err)
	}

	return nil
}
