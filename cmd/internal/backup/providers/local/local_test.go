package local

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"log/slog"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	backuperrors "github.com/wpdocker/wp-docker/cmd/internal/backup/errors"
	"github.com/wpdocker/wp-docker/cmd/internal/backup/providers"
	"github.com/wpdocker/wp-docker/pkg/constants"
)

func Test_BackupProviderLocal(t *testing.T) {
	var (
		ctx                     = context.Background()
		localProviderBackupPath = constants.BackupDir
		log                     = slog.Default()
		website                 = "example.com"
		uploadDir               = "/upload"
	)

	for _, backupAmount := range []int{0, 1, 5} {
		t.Run(fmt.Sprintf("testing with %d backups", backupAmount), func(t *testing.T) {
			fs := afero.NewMemMapFs()

			p, err := New(log, &BackupProviderConfigLocal{
				FS: fs,
			})
			require.NoError(t, err)
			require.NotNil(t, p)
			assert.Equal(t, "local", p.ProviderName())

			t.Run("list without namespace", func(t *testing.T) {
				entries, err := p.ListBackups(ctx, website)
				require.NoError(t, err)
				assert.Empty(t, entries)

				entries, err = p.ListBackups(ctx, "")
				require.NoError(t, err)
				assert.Empty(t, entries)
			})

			t.Run("verify store", func(t *testing.T) {
				for i := range backupAmount {
					backupName := fmt.Sprintf("backup_2024010%d_120000.tar.gz", i)
					backupPath := path.Join(uploadDir, backupName)
					backupContent := fmt.Sprintf("precious data %d", i)

					err = afero.WriteFile(fs, backupPath, []byte(backupContent), 0600)
					require.NoError(t, err)

					destination, err := p.StoreBackup(ctx, website, backupPath)
					require.NoError(t, err)

					localPath := path.Join(localProviderBackupPath, website, backupName)
					assert.Equal(t, localPath, destination)

					backupFiles, err := afero.ReadDir(fs, path.Join(localProviderBackupPath, website))
					require.NoError(t, err)
					require.Len(t, backupFiles, i+1)

					backedupContent, err := afero.ReadFile(fs, localPath)
					require.NoError(t, err)
					require.Equal(t, backupContent, string(backedupContent))

					// storing the same file again yields the same content
					_, err = p.StoreBackup(ctx, website, backupPath)
					require.NoError(t, err)
					backedupContent, err = afero.ReadFile(fs, localPath)
					require.NoError(t, err)
					require.Equal(t, backupContent, string(backedupContent))

					mod := time.Now().Add(time.Duration(i) * time.Hour)
					require.NoError(t, fs.Chtimes(localPath, mod, mod))

					// cleaning up after test
					err = fs.Remove(backupPath)
					require.NoError(t, err)
				}
			})

			if t.Failed() {
				return
			}

			if backupAmount <= 0 {
				return
			}

			t.Run("list backups", func(t *testing.T) {
				entries, err := p.ListBackups(ctx, website)
				require.NoError(t, err)
				require.Len(t, entries, backupAmount)

				for i, e := range entries {
					assert.True(t, strings.HasSuffix(e.Name, ".tar.gz"))
					assert.Equal(t, website, e.Website)
					assert.Equal(t, "local", e.Provider)
					assert.Equal(t, providers.EntryTypeFull, e.Type)
					assert.Equal(t, int64(len("precious data 0")), e.Size)

					if i == 0 {
						continue
					}
					assert.Less(t, e.Modified, entries[i-1].Modified)
				}

				all, err := p.ListBackups(ctx, "")
				require.NoError(t, err)
				assert.Equal(t, entries, all)
			})

			if t.Failed() {
				return
			}

			t.Run("verify retrieve", func(t *testing.T) {
				entries, err := p.ListBackups(ctx, website)
				require.NoError(t, err)
				latest := entries[0]

				downloadPath := path.Join("/restore", latest.Name)
				got, err := p.RetrieveBackup(ctx, website, latest.Name, downloadPath)
				require.NoError(t, err)
				assert.Equal(t, downloadPath, got)

				gotContent, err := afero.ReadFile(fs, downloadPath)
				require.NoError(t, err)

				require.Equal(t, fmt.Sprintf("precious data %d", backupAmount-1), string(gotContent))

				_, err = p.RetrieveBackup(ctx, website, "missing.tar.gz", downloadPath)
				var notFound backuperrors.BackupNotFoundError
				require.True(t, errors.As(err, &notFound))

				// cleaning up after test
				err = fs.RemoveAll("/restore")
				require.NoError(t, err)
			})

			if t.Failed() {
				return
			}

			t.Run("verify delete", func(t *testing.T) {
				entries, err := p.ListBackups(ctx, website)
				require.NoError(t, err)

				err = p.DeleteBackup(ctx, website, entries[0].Name)
				require.NoError(t, err)

				after, err := p.ListBackups(ctx, website)
				require.NoError(t, err)
				require.Len(t, after, backupAmount-1)

				err = p.DeleteBackup(ctx, website, entries[0].Name)
				require.ErrorContains(t, err, entries[0].Name)
			})

			if t.Failed() {
				return
			}

			err = afero.Walk(fs, "/", func(path string, info iofs.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if info.IsDir() {
					return nil
				}
				if strings.HasPrefix(path, localProviderBackupPath) {
					return nil
				}

				return fmt.Errorf("provider messed around in the file system at: %s", path)
			})
			require.NoError(t, err)
		})
	}
}

func Test_BackupProviderLocalRejectsTraversal(t *testing.T) {
	p, err := New(slog.Default(), &BackupProviderConfigLocal{FS: afero.NewMemMapFs()})
	require.NoError(t, err)

	_, err = p.RetrieveBackup(context.Background(), "example.com", "../other.com/x.sql", "/tmp/x.sql")
	require.Error(t, err)

	err = p.DeleteBackup(context.Background(), "../", "x.sql")
	require.Error(t, err)

	_, err = New(slog.Default(), &BackupProviderConfigLocal{LocalBackupPath: "relative"})
	require.Error(t, err)
}

func Test_BackupProviderLocalListRejectsTraversal(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/secrets/db_wordpress.sql", []byte("secret"), 0600))

	p, err := New(slog.Default(), &BackupProviderConfigLocal{FS: fs, LocalBackupPath: "/backups"})
	require.NoError(t, err)

	for _, website := range []string{"../secrets", "..", "a/../../secrets"} {
		entries, err := p.ListBackups(context.Background(), website)
		require.EqualError(t, err, fmt.Sprintf("invalid website %q", website))
		assert.Nil(t, entries)
	}

	entries, err := p.ListBackups(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
