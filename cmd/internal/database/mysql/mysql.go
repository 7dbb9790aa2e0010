package mysql

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/wpdocker/wp-docker/cmd/internal/database"
	"github.com/wpdocker/wp-docker/cmd/internal/docker"
	"github.com/wpdocker/wp-docker/cmd/internal/siteconfig"
	"github.com/wpdocker/wp-docker/pkg/constants"
	"go.uber.org/zap"
)

const (
	mysqlClient   = "mysql"
	mariadbClient = "mariadb"
	rootUser      = "root"
)

var _ database.Database = &MySQL{}

// validNameRe prevents sql injection through database names
var validNameRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// SiteLookup resolves the configuration of a website
type SiteLookup interface {
	Get(website string) (*siteconfig.SiteConfig, error)
}

// MySQL implements the database interface for websites sharing one mysql or mariadb container
type MySQL struct {
	log          *zap.SugaredLogger
	fs           afero.Fs
	runtime      docker.Runtime
	sites        SiteLookup
	container    string
	rootPassword string
	now          func() time.Time
}

// Config provides configuration for MySQL
type Config struct {
	FS           afero.Fs
	Container    string
	RootPassword string
}

// New instantiates a new mysql database collaborator
func New(log *zap.SugaredLogger, runtime docker.Runtime, sites SiteLookup, config *Config) (*MySQL, error) {
	if config == nil {
		return nil, errors.New("mysql requires a config")
	}
	if config.FS == nil {
		config.FS = afero.NewOsFs()
	}
	if config.Container == "" {
		config.Container = constants.MySQLContainerName
	}

	return &MySQL{
		log:          log,
		fs:           config.FS,
		runtime:      runtime,
		sites:        sites,
		container:    config.Container,
		rootPassword: config.RootPassword,
		now:          time.Now,
	}, nil
}

func validateName(name string) error {
	if !validNameRe.MatchString(name) {
		return fmt.Errorf("invalid database name %q: only alphanumeric and underscore allowed", name)
	}
	return nil
}

func (db *MySQL) databaseName(website string) (string, error) {
	site, err := db.sites.Get(website)
	if err != nil {
		return "", err
	}
	if site.MySQL == nil || site.MySQL.DBName == "" {
		return "", fmt.Errorf("mysql configuration not found for website %q", website)
	}
	if err := validateName(site.MySQL.DBName); err != nil {
		return "", err
	}
	return site.MySQL.DBName, nil
}

func (db *MySQL) env() []string {
	if db.rootPassword == "" {
		return nil
	}
	return []string{"MYSQL_PWD=" + db.rootPassword}
}

// client detects whether the container ships the mariadb or the mysql client
func (db *MySQL) client(ctx context.Context) string {
	out, err := db.runtime.Exec(ctx, db.container, []string{"sh", "-c", "command -v " + mariadbClient + " || true"}, docker.ExecOptions{User: rootUser})
	if err == nil && strings.TrimSpace(out) != "" {
		return mariadbClient
	}
	return mysqlClient
}

func dumpCommand(client string) string {
	if client == mariadbClient {
		return "mariadb-dump"
	}
	return "mysqldump"
}

// Probe checks that the database server of the container answers queries
func (db *MySQL) Probe(ctx context.Context) error {
	running, err := db.runtime.IsRunning(ctx, db.container)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("database container %q is not running", db.container)
	}

	if _, err := db.runtime.Exec(ctx, db.container, []string{db.client(ctx), "-u", rootUser, "-e", "SELECT 1"}, docker.ExecOptions{
		User: rootUser,
		Env:  db.env(),
	}); err != nil {
		return fmt.Errorf("database in container %q is not reachable: %w", db.container, err)
	}

	return nil
}

// ExportDatabase dumps the database of the website into targetDir
func (db *MySQL) ExportDatabase(ctx context.Context, website, targetDir string) (string, error) {
	name, err := db.databaseName(website)
	if err != nil {
		return "", err
	}

	if err := db.fs.MkdirAll(targetDir, 0755); err != nil {
		return "", fmt.Errorf("unable to create dump directory: %w", err)
	}

	filename := fmt.Sprintf("db_%s_%s.sql", website, db.now().Format(constants.DumpTimeFormat))
	dumpPath := filepath.Join(targetDir, filename)

	f, err := db.fs.Create(dumpPath)
	if err != nil {
		return "", fmt.Errorf("unable to create dump file: %w", err)
	}

	client := db.client(ctx)

	db.log.Infow("exporting database", "website", website, "database", name, "path", dumpPath)

	_, err = db.runtime.Exec(ctx, db.container, []string{dumpCommand(client), "-u", rootUser, "--single-transaction", "--routines", "--triggers", name}, docker.ExecOptions{
		User:   rootUser,
		Env:    db.env(),
		Stdout: f,
	})
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = db.fs.Remove(dumpPath)
		return "", fmt.Errorf("unable to export database of website %q: %w", website, err)
	}

	return dumpPath, nil
}

// ImportDatabase imports the dump file into the database of the website
func (db *MySQL) ImportDatabase(ctx context.Context, website, dumpFile string, reset bool) error {
	name, err := db.databaseName(website)
	if err != nil {
		return err
	}

	f, err := db.fs.Open(dumpFile)
	if err != nil {
		return fmt.Errorf("unable to open dump %q: %w", dumpFile, err)
	}
	defer func() {
		_ = f.Close()
	}()

	client := db.client(ctx)

	if reset {
		query := fmt.Sprintf("DROP DATABASE IF EXISTS `%s`; CREATE DATABASE `%s`;", name, name)
		if _, err := db.runtime.Exec(ctx, db.container, []string{client, "-u", rootUser, "-e", query}, docker.ExecOptions{
			User: rootUser,
			Env:  db.env(),
		}); err != nil {
			return fmt.Errorf("unable to reset database of website %q: %w", website, err)
		}
		db.log.Infow("database reset before import", "website", website, "database", name)
	}

	if _, err := db.runtime.Exec(ctx, db.container, []string{client, "-u", rootUser, name}, docker.ExecOptions{
		User:  rootUser,
		Env:   db.env(),
		Stdin: f,
	}); err != nil {
		return fmt.Errorf("unable to import %q into database of website %q: %w", filepath.Base(dumpFile), website, err)
	}

	db.log.Infow("imported database", "website", website, "database", name, "dump", dumpFile)

	return nil
}
