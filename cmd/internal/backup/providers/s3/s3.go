package s3

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/spf13/afero"
	backuperrors "github.com/wpdocker/wp-docker/cmd/internal/backup/errors"
	"github.com/wpdocker/wp-docker/cmd/internal/backup/providers"
	"github.com/wpdocker/wp-docker/cmd/internal/backup/providers/common"
	"github.com/wpdocker/wp-docker/cmd/internal/utils"
	"github.com/wpdocker/wp-docker/pkg/constants"
)

// ProviderPrefix prefixes the registry name of every s3 provider
const ProviderPrefix = "s3:"

// BackupProviderS3 implements the storage provider interface for S3
type BackupProviderS3 struct {
	fs     afero.Fs
	log    *slog.Logger
	c      *s3.Client
	config *BackupProviderConfigS3
}

// BackupProviderConfigS3 provides configuration for the BackupProviderS3
type BackupProviderConfigS3 struct {
	BucketName   string
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	ObjectPrefix string
	FS           afero.Fs
}

func (c *BackupProviderConfigS3) validate() error {
	if c.BucketName == "" {
		return errors.New("s3 bucket name must not be empty")
	}
	if c.AccessKey == "" {
		return errors.New("s3 accesskey must not be empty")
	}
	if c.SecretKey == "" {
		return errors.New("s3 secretkey must not be empty")
	}

	return nil
}

// New returns a S3 backup provider
func New(ctx context.Context, log *slog.Logger, cfg *BackupProviderConfigS3) (*BackupProviderS3, error) {
	if cfg == nil {
		return nil, errors.New("s3 backup provider requires a provider config")
	}

	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.FS == nil {
		cfg.FS = afero.NewOsFs()
	}

	err := cfg.validate()
	if err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("could not load s3 client config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &BackupProviderS3{
		c:      client,
		config: cfg,
		log:    log,
		fs:     cfg.FS,
	}, nil
}

// ProviderName returns the name of the provider
func (b *BackupProviderS3) ProviderName() string {
	return ProviderPrefix + b.config.BucketName
}

func (b *BackupProviderS3) key(elem ...string) string {
	return path.Join(append([]string{b.config.ObjectPrefix, constants.RemoteBackupRoot}, elem...)...)
}

// EnsureBucket creates the backup bucket if it does not exist yet
func (b *BackupProviderS3) EnsureBucket(ctx context.Context) error {
	_, err := b.c.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(b.config.BucketName),
	})
	if err != nil {
		var (
			alreadyExists *types.BucketAlreadyExists
			alreadyOwned  *types.BucketAlreadyOwnedByYou
		)
		if errors.As(err, &alreadyExists) || errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("could not create bucket %q: %w", b.config.BucketName, err)
	}

	b.log.Info("created backup bucket", "bucket", b.config.BucketName)

	return nil
}

// StoreBackup uploads the given file to backups/<website>/<file> below the object prefix
func (b *BackupProviderS3) StoreBackup(ctx context.Context, website, localFilePath string) (string, error) {
	if err := common.ValidateName("website", website); err != nil {
		return "", err
	}

	r, err := b.fs.Open(localFilePath)
	if err != nil {
		return "", fmt.Errorf("could not open backup %q: %w", localFilePath, err)
	}
	defer r.Close()

	destination := b.key(website, filepath.Base(localFilePath))

	b.log.Info("uploading object", "website", website, "src", localFilePath, "dest", destination)

	uploader := manager.NewUploader(b.c)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.config.BucketName),
		Key:    aws.String(destination),
		Body:   r,
	})
	if err != nil {
		return "", fmt.Errorf("could not upload backup %q of website %q: %w", filepath.Base(localFilePath), website, err)
	}

	return destination, nil
}

// RetrieveBackup downloads the named backup to the destination path
func (b *BackupProviderS3) RetrieveBackup(ctx context.Context, website, backupName, destinationPath string) (string, error) {
	if err := common.ValidateName("website", website); err != nil {
		return "", err
	}
	if err := common.ValidateName("backup name", backupName); err != nil {
		return "", err
	}

	key := b.key(website, backupName)

	if err := b.exists(ctx, website, backupName, key); err != nil {
		return "", err
	}

	if err := b.fs.MkdirAll(filepath.Dir(destinationPath), 0755); err != nil {
		return "", fmt.Errorf("could not create download directory: %w", err)
	}

	f, err := b.fs.Create(destinationPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	b.log.Info("downloading object", "website", website, "key", key, "destination", destinationPath)

	downloader := manager.NewDownloader(b.c, func(d *manager.Downloader) {
		d.Concurrency = 1
	})

	_, err = downloader.Download(ctx, utils.NewSequentialWriterAt(f), &s3.GetObjectInput{
		Bucket: aws.String(b.config.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("could not download backup %q of website %q: %w", backupName, website, err)
	}

	if _, err := utils.VerifyFile(b.fs, destinationPath); err != nil {
		return "", fmt.Errorf("download of backup %q of website %q is invalid: %w", backupName, website, err)
	}

	return destinationPath, nil
}

func (b *BackupProviderS3) exists(ctx context.Context, website, backupName, key string) error {
	_, err := b.c.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.config.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return backuperrors.BackupNotFoundError{Website: website, Name: backupName}
		}
		return fmt.Errorf("could not check backup %q of website %q: %w", backupName, website, err)
	}
	return nil
}

// ListBackups lists the backups of the given website or of all websites if website is empty
func (b *BackupProviderS3) ListBackups(ctx context.Context, website string) ([]*providers.Entry, error) {
	prefix := b.key() + "/"
	if website != "" {
		if err := common.ValidateName("website", website); err != nil {
			return nil, err
		}
		prefix = b.key(website) + "/"
	}

	paginator := s3.NewListObjectsV2Paginator(b.c, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.config.BucketName),
		Prefix: aws.String(prefix),
	})

	entries := []*providers.Entry{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			var noBucket *types.NoSuchBucket
			if errors.As(err, &noBucket) {
				return entries, nil
			}
			return nil, fmt.Errorf("could not list objects in bucket %q: %w", b.config.BucketName, err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			w, name, ok := strings.Cut(strings.TrimPrefix(key, b.key()+"/"), "/")
			if !ok || name == "" || strings.Contains(name, "/") {
				continue
			}

			modified := time.Now()
			if obj.LastModified != nil {
				modified = *obj.LastModified
			}

			entries = append(entries, common.NewEntry(w, key, aws.ToInt64(obj.Size), modified, b.ProviderName()))
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	common.Sort(entries)

	return entries, nil
}

// DeleteBackup deletes the named backup of the website
func (b *BackupProviderS3) DeleteBackup(ctx context.Context, website, backupName string) error {
	if err := common.ValidateName("website", website); err != nil {
		return err
	}
	if err := common.ValidateName("backup name", backupName); err != nil {
		return err
	}

	key := b.key(website, backupName)

	if err := b.exists(ctx, website, backupName, key); err != nil {
		return err
	}

	b.log.Info("deleting object", "website", website, "key", key)

	_, err := b.c.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.config.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("could not delete backup %q of website %q: %w", backupName, website, err)
	}

	return nil
}
