package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/spf13/afero"
	backuperrors "github.com/wpdocker/wp-docker/cmd/internal/backup/errors"
	"github.com/wpdocker/wp-docker/cmd/internal/backup/providers"
	"github.com/wpdocker/wp-docker/cmd/internal/backup/providers/common"
	"github.com/wpdocker/wp-docker/cmd/internal/utils"
	"github.com/wpdocker/wp-docker/pkg/constants"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// ProviderPrefix prefixes the registry name of every gcp provider
const ProviderPrefix = "gcp:"

// BackupProviderGCP implements the storage provider interface for GCP
type BackupProviderGCP struct {
	fs     afero.Fs
	log    *slog.Logger
	c      *storage.Client
	config *BackupProviderConfigGCP
}

// BackupProviderConfigGCP provides configuration for the BackupProviderGCP
type BackupProviderConfigGCP struct {
	BucketName     string
	BucketLocation string
	ObjectPrefix   string
	ProjectID      string
	FS             afero.Fs
	ClientOpts     []option.ClientOption
}

func (c *BackupProviderConfigGCP) validate() error {
	if c.BucketName == "" {
		return errors.New("gcp bucket name must not be empty")
	}
	if c.ProjectID == "" {
		return errors.New("gcp project id must not be empty")
	}
	for _, opt := range c.ClientOpts {
		if opt == nil {
			return errors.New("option can not be nil")
		}
	}

	return nil
}

// New returns a GCP backup provider
func New(ctx context.Context, log *slog.Logger, config *BackupProviderConfigGCP) (*BackupProviderGCP, error) {
	if config == nil {
		return nil, errors.New("gcp backup provider requires a provider config")
	}

	if config.FS == nil {
		config.FS = afero.NewOsFs()
	}

	err := config.validate()
	if err != nil {
		return nil, err
	}

	client, err := storage.NewClient(ctx, config.ClientOpts...)
	if err != nil {
		return nil, err
	}

	return &BackupProviderGCP{
		c:      client,
		config: config,
		log:    log,
		fs:     config.FS,
	}, nil
}

// ProviderName returns the name of the provider
func (b *BackupProviderGCP) ProviderName() string {
	return ProviderPrefix + b.config.BucketName
}

func (b *BackupProviderGCP) object(elem ...string) string {
	return path.Join(append([]string{b.config.ObjectPrefix, constants.RemoteBackupRoot}, elem...)...)
}

// EnsureBucket creates the backup bucket if it does not exist yet
func (b *BackupProviderGCP) EnsureBucket(ctx context.Context) error {
	bucket := b.c.Bucket(b.config.BucketName)

	attrs := &storage.BucketAttrs{
		Location: b.config.BucketLocation,
	}

	if err := bucket.Create(ctx, b.config.ProjectID, attrs); err != nil {
		var googleErr *googleapi.Error
		if errors.As(err, &googleErr) && googleErr.Code == http.StatusConflict {
			return nil
		}
		return fmt.Errorf("could not create bucket %q: %w", b.config.BucketName, err)
	}

	b.log.Info("created backup bucket", "bucket", b.config.BucketName)

	return nil
}

// StoreBackup uploads the given file to backups/<website>/<file> below the object prefix
func (b *BackupProviderGCP) StoreBackup(ctx context.Context, website, localFilePath string) (string, error) {
	if err := common.ValidateName("website", website); err != nil {
		return "", err
	}

	r, err := b.fs.Open(localFilePath)
	if err != nil {
		return "", fmt.Errorf("could not open backup %q: %w", localFilePath, err)
	}
	defer r.Close()

	destination := b.object(website, filepath.Base(localFilePath))

	b.log.Info("uploading object", "website", website, "src", localFilePath, "dest", destination)

	w := b.c.Bucket(b.config.BucketName).Object(destination).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("could not upload backup %q of website %q: %w", filepath.Base(localFilePath), website, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("could not upload backup %q of website %q: %w", filepath.Base(localFilePath), website, err)
	}

	return destination, nil
}

// RetrieveBackup downloads the named backup to the destination path
func (b *BackupProviderGCP) RetrieveBackup(ctx context.Context, website, backupName, destinationPath string) (string, error) {
	if err := common.ValidateName("website", website); err != nil {
		return "", err
	}
	if err := common.ValidateName("backup name", backupName); err != nil {
		return "", err
	}

	obj := b.c.Bucket(b.config.BucketName).Object(b.object(website, backupName))

	if err := b.exists(ctx, obj, website, backupName); err != nil {
		return "", err
	}

	if err := b.fs.MkdirAll(filepath.Dir(destinationPath), 0755); err != nil {
		return "", fmt.Errorf("could not create download directory: %w", err)
	}

	b.log.Info("downloading object", "website", website, "object", obj.ObjectName(), "destination", destinationPath)

	r, err := obj.NewReader(ctx)
	if err != nil {
		return "", fmt.Errorf("could not download backup %q of website %q: %w", backupName, website, err)
	}
	defer r.Close()

	f, err := b.fs.Create(destinationPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return "", fmt.Errorf("error writing file from gcp to filesystem: %w", err)
	}

	if _, err := utils.VerifyFile(b.fs, destinationPath); err != nil {
		return "", fmt.Errorf("download of backup %q of website %q is invalid: %w", backupName, website, err)
	}

	return destinationPath, nil
}

func (b *BackupProviderGCP) exists(ctx context.Context, obj *storage.ObjectHandle, website, backupName string) error {
	if _, err := obj.Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return backuperrors.BackupNotFoundError{Website: website, Name: backupName}
		}
		return fmt.Errorf("could not check backup %q of website %q: %w", backupName, website, err)
	}
	return nil
}

// ListBackups lists the backups of the given website or of all websites if website is empty
func (b *BackupProviderGCP) ListBackups(ctx context.Context, website string) ([]*providers.Entry, error) {
	root := b.object() + "/"
	query := &storage.Query{Prefix: root}
	if website != "" {
		if err := common.ValidateName("website", website); err != nil {
			return nil, err
		}
		query.Prefix = b.object(website) + "/"
	}

	it := b.c.Bucket(b.config.BucketName).Objects(ctx, query)

	entries := []*providers.Entry{}
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			if errors.Is(err, storage.ErrBucketNotExist) {
				return entries, nil
			}
			return nil, fmt.Errorf("could not list objects in bucket %q: %w", b.config.BucketName, err)
		}

		w, name, ok := strings.Cut(strings.TrimPrefix(attrs.Name, root), "/")
		if !ok || name == "" || strings.Contains(name, "/") {
			continue
		}

		entries = append(entries, common.NewEntry(w, attrs.Name, attrs.Size, attrs.Updated, b.ProviderName()))
	}

	common.Sort(entries)

	return entries, nil
}

// DeleteBackup deletes the named backup of the website
func (b *BackupProviderGCP) DeleteBackup(ctx context.Context, website, backupName string) error {
	if err := common.ValidateName("website", website); err != nil {
		return err
	}
	if err := common.ValidateName("backup name", backupName); err != nil {
		return err
	}

	obj := b.c.Bucket(b.config.BucketName).Object(b.object(website, backupName))

	if err := b.exists(ctx, obj, website, backupName); err != nil {
		return err
	}

	b.log.Info("deleting object", "website", website, "object", obj.ObjectName())

	if err := obj.Delete(ctx); err != nil {
		return fmt.Errorf("could not delete backup %q of website %q: %w", backupName, website, err)
	}

	return nil
}

// Close releases the underlying storage client
func (b *BackupProviderGCP) Close() error {
	return b.c.Close()
}
