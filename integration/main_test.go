//go:build integration

package integration_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/wpdocker/wp-docker/cmd/internal/backup"
	"github.com/wpdocker/wp-docker/cmd/internal/backup/providers/local"
	"github.com/wpdocker/wp-docker/cmd/internal/compress"
	"github.com/wpdocker/wp-docker/cmd/internal/database/mysql"
	"github.com/wpdocker/wp-docker/cmd/internal/docker"
	"github.com/wpdocker/wp-docker/cmd/internal/siteconfig"
	"github.com/wpdocker/wp-docker/pkg/constants"
	"go.uber.org/zap/zaptest"
)

const (
	website      = "example.com"
	databaseName = "wp_example"
	rootPassword = "rootpw"
)

type flowSpec struct {
	addTestData             func(t *testing.T, ctx context.Context, e *env)
	addTestDataWithIndex    func(t *testing.T, ctx context.Context, e *env, index int)
	removeTestData          func(t *testing.T, ctx context.Context, e *env)
	verifyTestData          func(t *testing.T, ctx context.Context, e *env)
	verifyTestDataWithIndex func(t *testing.T, ctx context.Context, e *env, index int)
}

// env is a website on the local filesystem whose database lives in a mariadb container
type env struct {
	container string
	runtime   *docker.Client
	sitesDir  string
	backupDir string
	manager   *backup.Manager
	local     *local.BackupProviderLocal
}

func (e *env) sql(ctx context.Context, query string) (string, error) {
	return e.runtime.Exec(ctx, e.container, []string{"mariadb", "-N", "-u", "root", databaseName, "-e", query}, docker.ExecOptions{
		Env: []string{"MYSQL_PWD=" + rootPassword},
	})
}

func (e *env) wordpressFile(name string) string {
	return filepath.Join(e.sitesDir, website, constants.WordpressDirName, name)
}

func newEnv(t *testing.T, ctx context.Context) *env {
	var (
		log  = zaptest.NewLogger(t).Sugar()
		fs   = afero.NewOsFs()
		root = t.TempDir()
	)

	c := startMariaDBContainer(t, ctx)

	runtime, err := docker.New(log.Named("docker"), constants.DefaultExecTimeout)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = runtime.Close()
	})

	e := &env{
		container: c.GetContainerID(),
		runtime:   runtime,
		sitesDir:  filepath.Join(root, "sites"),
		backupDir: filepath.Join(root, "backups"),
	}

	sites := siteconfig.New(log.Named("siteconfig"), fs, filepath.Join(root, "config", "config.json"))
	require.NoError(t, sites.Set(website, &siteconfig.SiteConfig{
		Domain: website,
		MySQL:  &siteconfig.MySQL{DBName: databaseName, DBUser: "wp", DBPass: "wp"},
	}))

	require.NoError(t, os.MkdirAll(filepath.Dir(e.wordpressFile("index.php")), 0755))
	require.NoError(t, os.WriteFile(e.wordpressFile("index.php"), []byte("<?php // initial"), 0600))

	db, err := mysql.New(log.Named("mysql"), runtime, sites, &mysql.Config{
		FS:           fs,
		Container:    e.container,
		RootPassword: rootPassword,
	})
	require.NoError(t, err)

	err = retry.Do(func() error {
		return db.Probe(ctx)
	}, retry.Context(ctx), retry.Attempts(30), retry.Delay(time.Second), retry.DelayType(retry.FixedDelay))
	require.NoError(t, err)

	comp := compress.New()

	workflow, err := backup.NewWorkflow(log.Named("workflow"), sites, db, comp, &backup.WorkflowConfig{SitesDir: e.sitesDir, FS: fs})
	require.NoError(t, err)

	restorer, err := backup.NewRestorer(log.Named("restore"), db, comp, runtime, &backup.RestorerConfig{SitesDir: e.sitesDir, FS: fs})
	require.NoError(t, err)

	e.manager, err = backup.NewManager(log.Named("backup"), &backup.ManagerConfig{
		Workflow: workflow,
		Restorer: restorer,
		Sites:    sites,
		TempDir:  filepath.Join(e.backupDir, constants.TempDirName),
		FS:       fs,
	})
	require.NoError(t, err)

	e.local, err = local.New(slog.Default(), &local.BackupProviderConfigLocal{LocalBackupPath: e.backupDir, FS: fs})
	require.NoError(t, err)
	e.manager.Register(e.local)

	return e
}

func startMariaDBContainer(t *testing.T, ctx context.Context) testcontainers.Container {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: "mariadb:11",
			Env: map[string]string{
				"MARIADB_ROOT_PASSWORD": rootPassword,
				"MARIADB_DATABASE":      databaseName,
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("ready for connections").WithOccurrence(2),
			),
		},
		Started: true,
		Logger:  testcontainers.TestLogger(t),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		if t.Failed() {
			r, err := c.Logs(context.Background())
			if err == nil {
				logs, _ := io.ReadAll(r)
				fmt.Println(string(logs))
			}
		}
		_ = c.Terminate(context.Background())
	})

	return c
}
