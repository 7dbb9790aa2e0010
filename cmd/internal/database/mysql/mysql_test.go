package mysql

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wpdocker/wp-docker/cmd/internal/docker/dockertest"
	"github.com/wpdocker/wp-docker/cmd/internal/siteconfig"
	"go.uber.org/zap/zaptest"
)

type sites map[string]*siteconfig.SiteConfig

func (s sites) Get(website string) (*siteconfig.SiteConfig, error) {
	site, ok := s[website]
	if !ok {
		return nil, errors.New("not found: " + website)
	}
	return site, nil
}

func newTestMySQL(t *testing.T, fs afero.Fs, rt *dockertest.Runtime) *MySQL {
	db, err := New(zaptest.NewLogger(t).Sugar(), rt, sites{
		"example.com": {Domain: "example.com", MySQL: &siteconfig.MySQL{DBName: "wp_example"}},
		"evil.com":    {Domain: "evil.com", MySQL: &siteconfig.MySQL{DBName: "x; DROP DATABASE y"}},
		"nodb.com":    {Domain: "nodb.com"},
	}, &Config{FS: fs, RootPassword: "rootpw"})
	require.NoError(t, err)
	db.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }
	return db
}

func TestExportDatabase(t *testing.T) {
	ctx := context.Background()

	t.Run("mysql client", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		rt := dockertest.New("wpdocker_mysql")
		rt.Handler = func(call dockertest.Call) (string, error) {
			if call.Cmd[0] == "mysqldump" {
				return "CREATE TABLE wp_posts;", nil
			}
			return "", nil
		}

		path, err := newTestMySQL(t, fs, rt).ExportDatabase(ctx, "example.com", "/backups/backup_20240506_070809")
		require.NoError(t, err)
		assert.Equal(t, "/backups/backup_20240506_070809/db_example.com_2024-05-06_07-08-09.sql", path)

		content, err := afero.ReadFile(fs, path)
		require.NoError(t, err)
		assert.Equal(t, "CREATE TABLE wp_posts;", string(content))

		calls := rt.CallsTo("wpdocker_mysql")
		require.Len(t, calls, 2)
		assert.Equal(t, "mysqldump -u root --single-transaction --routines --triggers wp_example", calls[1].Command())
		assert.Equal(t, []string{"MYSQL_PWD=rootpw"}, calls[1].Env)
		assert.Equal(t, "root", calls[1].User)
	})

	t.Run("mariadb client", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		rt := dockertest.New("wpdocker_mysql")
		rt.Handler = func(call dockertest.Call) (string, error) {
			if strings.Contains(call.Command(), "command -v mariadb") {
				return "/usr/bin/mariadb\n", nil
			}
			return "dump", nil
		}

		_, err := newTestMySQL(t, fs, rt).ExportDatabase(ctx, "example.com", "/out")
		require.NoError(t, err)

		calls := rt.CallsTo("wpdocker_mysql")
		assert.Equal(t, "mariadb-dump", calls[len(calls)-1].Cmd[0])
	})

	t.Run("failing dump leaves no file", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		rt := dockertest.New("wpdocker_mysql")
		rt.Handler = func(call dockertest.Call) (string, error) {
			if call.Cmd[0] == "mysqldump" {
				return "partial", errors.New("exited with code 2")
			}
			return "", nil
		}

		_, err := newTestMySQL(t, fs, rt).ExportDatabase(ctx, "example.com", "/out")
		require.ErrorContains(t, err, "example.com")

		files, err := afero.ReadDir(fs, "/out")
		require.NoError(t, err)
		assert.Empty(t, files)
	})

	t.Run("configuration errors", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		db := newTestMySQL(t, fs, dockertest.New())

		_, err := db.ExportDatabase(ctx, "nodb.com", "/out")
		require.ErrorContains(t, err, "mysql configuration not found")

		_, err = db.ExportDatabase(ctx, "evil.com", "/out")
		require.ErrorContains(t, err, "invalid database name")

		_, err = db.ExportDatabase(ctx, "unknown.com", "/out")
		require.Error(t, err)
	})
}

func TestImportDatabase(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/restore/db.sql", []byte("INSERT INTO wp_posts VALUES (1);"), 0600))

	t.Run("with reset", func(t *testing.T) {
		rt := dockertest.New("wpdocker_mysql")

		err := newTestMySQL(t, fs, rt).ImportDatabase(ctx, "example.com", "/restore/db.sql", true)
		require.NoError(t, err)

		calls := rt.CallsTo("wpdocker_mysql")
		require.Len(t, calls, 3)
		assert.Equal(t, "mysql -u root -e DROP DATABASE IF EXISTS `wp_example`; CREATE DATABASE `wp_example`;", calls[1].Command())
		assert.Equal(t, "mysql -u root wp_example", calls[2].Command())
		assert.Equal(t, "INSERT INTO wp_posts VALUES (1);", calls[2].Stdin)
	})

	t.Run("without reset", func(t *testing.T) {
		rt := dockertest.New("wpdocker_mysql")

		err := newTestMySQL(t, fs, rt).ImportDatabase(ctx, "example.com", "/restore/db.sql", false)
		require.NoError(t, err)

		calls := rt.CallsTo("wpdocker_mysql")
		require.Len(t, calls, 2)
		assert.Equal(t, "mysql -u root wp_example", calls[1].Command())
	})

	t.Run("missing dump", func(t *testing.T) {
		err := newTestMySQL(t, fs, dockertest.New()).ImportDatabase(ctx, "example.com", "/restore/missing.sql", true)
		require.ErrorContains(t, err, "missing.sql")
	})
}

func TestProbe(t *testing.T) {
	ctx := context.Background()

	t.Run("reachable", func(t *testing.T) {
		rt := dockertest.New("wpdocker_mysql")

		require.NoError(t, newTestMySQL(t, afero.NewMemMapFs(), rt).Probe(ctx))

		calls := rt.CallsTo("wpdocker_mysql")
		require.Len(t, calls, 2)
		assert.Equal(t, "mysql -u root -e SELECT 1", calls[1].Command())
		assert.Equal(t, []string{"MYSQL_PWD=rootpw"}, calls[1].Env)
	})

	t.Run("container not running", func(t *testing.T) {
		rt := dockertest.New()

		err := newTestMySQL(t, afero.NewMemMapFs(), rt).Probe(ctx)
		require.ErrorContains(t, err, "is not running")
		assert.Empty(t, rt.Calls)
	})

	t.Run("server not answering", func(t *testing.T) {
		rt := dockertest.New("wpdocker_mysql")
		rt.Handler = func(call dockertest.Call) (string, error) {
			if call.Cmd[0] == "mysql" {
				return "", errors.New("can't connect to local server through socket")
			}
			return "", nil
		}

		err := newTestMySQL(t, afero.NewMemMapFs(), rt).Probe(ctx)
		require.ErrorContains(t, err, "is not reachable")
	})
}
