package local

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
	backuperrors "github.com/wpdocker/wp-docker/cmd/internal/backup/errors"
	"github.com/wpdocker/wp-docker/cmd/internal/backup/providers"
	"github.com/wpdocker/wp-docker/cmd/internal/backup/providers/common"
	"github.com/wpdocker/wp-docker/cmd/internal/utils"
	"github.com/wpdocker/wp-docker/pkg/constants"
)

// ProviderName is the registry name of the local storage provider
const ProviderName = "local"

// BackupProviderLocal implements the storage provider interface on the local filesystem
type BackupProviderLocal struct {
	fs     afero.Fs
	log    *slog.Logger
	config *BackupProviderConfigLocal
}

// BackupProviderConfigLocal provides configuration for the BackupProviderLocal
type BackupProviderConfigLocal struct {
	LocalBackupPath string
	FS              afero.Fs
}

func (c *BackupProviderConfigLocal) validate() error {
	if !filepath.IsAbs(c.LocalBackupPath) {
		return fmt.Errorf("local backup path %q must be absolute", c.LocalBackupPath)
	}
	return nil
}

// New returns a Local backup provider
func New(log *slog.Logger, config *BackupProviderConfigLocal) (*BackupProviderLocal, error) {
	if config == nil {
		return nil, errors.New("local backup provider requires a provider config")
	}

	if config.LocalBackupPath == "" {
		config.LocalBackupPath = constants.BackupDir
	}
	if config.FS == nil {
		config.FS = afero.NewOsFs()
	}

	err := config.validate()
	if err != nil {
		return nil, err
	}

	return &BackupProviderLocal{
		config: config,
		log:    log,
		fs:     config.FS,
	}, nil
}

// ProviderName returns the name of the provider
func (b *BackupProviderLocal) ProviderName() string {
	return ProviderName
}

func (b *BackupProviderLocal) websiteDir(website string) string {
	return filepath.Join(b.config.LocalBackupPath, website)
}

// StoreBackup copies the given file into the backup directory of the website
func (b *BackupProviderLocal) StoreBackup(_ context.Context, website, localFilePath string) (string, error) {
	if err := common.ValidateName("website", website); err != nil {
		return "", err
	}

	destination := filepath.Join(b.websiteDir(website), filepath.Base(localFilePath))

	b.log.Info("storing backup", "website", website, "source", localFilePath, "destination", destination)

	if filepath.Clean(localFilePath) == destination {
		return destination, nil
	}

	if err := b.fs.MkdirAll(b.websiteDir(website), 0755); err != nil {
		return "", fmt.Errorf("could not create backup directory for website %q: %w", website, err)
	}

	if err := utils.Copy(b.fs, localFilePath, destination); err != nil {
		return "", fmt.Errorf("could not store backup %q of website %q: %w", filepath.Base(localFilePath), website, err)
	}

	return destination, nil
}

// RetrieveBackup copies the named backup to the destination path
func (b *BackupProviderLocal) RetrieveBackup(_ context.Context, website, backupName, destinationPath string) (string, error) {
	if err := common.ValidateName("website", website); err != nil {
		return "", err
	}
	if err := common.ValidateName("backup name", backupName); err != nil {
		return "", err
	}

	source := filepath.Join(b.websiteDir(website), backupName)

	b.log.Info("retrieving backup", "website", website, "backup", backupName, "destination", destinationPath)

	if _, err := b.fs.Stat(source); err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return "", backuperrors.BackupNotFoundError{Website: website, Name: backupName}
		}
		return "", fmt.Errorf("could not access backup %q of website %q: %w", backupName, website, err)
	}

	if err := utils.Copy(b.fs, source, destinationPath); err != nil {
		return "", fmt.Errorf("could not retrieve backup %q of website %q: %w", backupName, website, err)
	}

	return destinationPath, nil
}

// ListBackups lists the backups of the given website or of all websites if website is empty
func (b *BackupProviderLocal) ListBackups(_ context.Context, website string) ([]*providers.Entry, error) {
	var websites []string
	if website != "" {
		if err := common.ValidateName("website", website); err != nil {
			return nil, err
		}
		websites = []string{website}
	} else {
		infos, err := afero.ReadDir(b.fs, b.config.LocalBackupPath)
		if err != nil {
			if errors.Is(err, iofs.ErrNotExist) {
				return []*providers.Entry{}, nil
			}
			return nil, fmt.Errorf("could not read backup directory %q: %w", b.config.LocalBackupPath, err)
		}
		for _, info := range infos {
			if info.IsDir() && info.Name() != constants.TempDirName {
				websites = append(websites, info.Name())
			}
		}
		sort.Strings(websites)
	}

	entries := []*providers.Entry{}
	for _, w := range websites {
		infos, err := afero.ReadDir(b.fs, b.websiteDir(w))
		if err != nil {
			if errors.Is(err, iofs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("could not list backups of website %q: %w", w, err)
		}

		for _, info := range infos {
			if info.IsDir() || !common.IsBackupFile(info.Name()) {
				continue
			}
			entries = append(entries, common.NewEntry(w, filepath.Join(b.websiteDir(w), info.Name()), info.Size(), info.ModTime(), ProviderName))
		}
	}

	common.Sort(entries)

	return entries, nil
}

// DeleteBackup deletes the named backup of the website
func (b *BackupProviderLocal) DeleteBackup(_ context.Context, website, backupName string) error {
	if err := common.ValidateName("website", website); err != nil {
		return err
	}
	if err := common.ValidateName("backup name", backupName); err != nil {
		return err
	}

	target := filepath.Join(b.websiteDir(website), backupName)

	if _, err := b.fs.Stat(target); err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return backuperrors.BackupNotFoundError{Website: website, Name: backupName}
		}
		return fmt.Errorf("could not access backup %q of website %q: %w", backupName, website, err)
	}

	b.log.Info("deleting backup", "website", website, "backup", backupName)

	if err := b.fs.RemoveAll(target); err != nil {
		return fmt.Errorf("could not delete backup %q of website %q: %w", backupName, website, err)
	}

	return nil
}
