package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/metal-stack/v"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/wpdocker/wp-docker/cmd/internal/backup"
	"github.com/wpdocker/wp-docker/cmd/internal/backup/providers/common"
	"github.com/wpdocker/wp-docker/cmd/internal/backup/providers/gcp"
	"github.com/wpdocker/wp-docker/cmd/internal/backup/providers/local"
	"github.com/wpdocker/wp-docker/cmd/internal/backup/providers/remote"
	"github.com/wpdocker/wp-docker/cmd/internal/backup/providers/s3"
	"github.com/wpdocker/wp-docker/cmd/internal/compress"
	"github.com/wpdocker/wp-docker/cmd/internal/database/mysql"
	"github.com/wpdocker/wp-docker/cmd/internal/docker"
	"github.com/wpdocker/wp-docker/cmd/internal/encryption"
	"github.com/wpdocker/wp-docker/cmd/internal/metrics"
	"github.com/wpdocker/wp-docker/cmd/internal/probe"
	"github.com/wpdocker/wp-docker/cmd/internal/scheduler"
	"github.com/wpdocker/wp-docker/cmd/internal/siteconfig"
	"github.com/wpdocker/wp-docker/cmd/internal/utils"
	"github.com/wpdocker/wp-docker/pkg/constants"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	moduleName  = "wp-docker"
	binaryName  = "wp-docker-backup"
	cfgFileType = "yaml"

	// Flags
	configFlg   = "config"
	logLevelFlg = "log-level"

	installDirFlg   = "install-dir"
	dataDirFlg      = "data-dir"
	sitesDirFlg     = "sites-dir"
	backupDirFlg    = "backup-dir"
	siteConfigFlg   = "config-file"
	cronJobsFileFlg = "cron-jobs-file"

	mysqlContainerFlg    = "mysql-container"
	mysqlRootPasswordFlg = "mysql-root-password"

	rcloneContainerFlg = "rclone-container"
	rcloneConfigFlg    = "rclone-config"
	pathMappingFlg     = "path-mapping"

	execTimeoutFlg   = "exec-timeout"
	encryptionKeyFlg = "encryption-key"

	objectPrefixFlg = "object-prefix"

	gcpBucketNameFlg     = "gcp-bucket-name"
	gcpBucketLocationFlg = "gcp-bucket-location"
	gcpProjectFlg        = "gcp-project"

	s3BucketNameFlg = "s3-bucket-name"
	s3RegionFlg     = "s3-region"
	s3EndpointFlg   = "s3-endpoint"
	s3AccessKeyFlg  = "s3-access-key"
	//nolint
	s3SecretKeyFlg = "s3-secret-key"

	metricsAddrFlg    = "metrics-addr"
	reloadIntervalFlg = "reload-interval"

	// command local flags, not bound to viper
	providerFlg   = "provider"
	keepFlg       = "keep"
	typeFlg       = "type"
	hourFlg       = "hour"
	minuteFlg     = "minute"
	dayOfWeekFlg  = "day-of-week"
	dayOfMonthFlg = "day-of-month"
	retentionFlg  = "retention"
)

var (
	cfgFile string
	logger  *zap.SugaredLogger
	// slogger is handed to the storage providers, it logs at the same level as logger
	slogger *slog.Logger
	stop    context.Context
)

// app holds the wired collaborators of one command invocation
type app struct {
	fs      afero.Fs
	dirs    dirs
	runtime docker.Runtime
	db      *mysql.MySQL
	manager *backup.Manager
	jobs    *scheduler.Store
	runner  *scheduler.Runner
	rclone  *remote.Rclone
	metrics *metrics.Metrics
	closers []func() error
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			logger.Warnw("error closing resource", "error", err)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:          binaryName,
	Short:        "backup, restore and schedule backups of wp-docker websites",
	Version:      v.V.String(),
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		initLogging()
		if usedCfg := viper.ConfigFileUsed(); usedCfg != "" {
			logger.Infow("read config file", "config-file", usedCfg)
		}
		initSignalHandlers()
		return nil
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "manage website backups",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create <website>",
	Short: "takes a backup of the website database and files and stores it at a provider",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString(providerFlg)

		path, err := a.manager.CreateBackup(stop, args[0], provider)
		if err != nil {
			return err
		}

		fmt.Printf("backup of %s stored at %s\n", args[0], path)
		return nil
	}),
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <website> <backup-name|latest>",
	Short: "restores a database dump or a files archive into a website, latest picks the newest backup",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString(providerFlg)

		if err := a.manager.RestoreBackup(stop, args[0], args[1], provider); err != nil {
			return err
		}

		fmt.Printf("restored %s into %s\n", args[1], args[0])
		return nil
	}),
}

var backupListCmd = &cobra.Command{
	Use:     "list [website]",
	Aliases: []string{"ls"},
	Short:   "lists available backups, of all providers unless a provider is given",
	Args:    cobra.MaximumNArgs(1),
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString(providerFlg)

		website := ""
		if len(args) > 0 {
			website = args[0]
		}

		entries, err := a.manager.ListBackups(stop, website, provider)
		if err != nil {
			return err
		}

		var data [][]string
		for _, e := range entries {
			data = append(data, []string{e.ModifiedFormatted, e.Website, e.Name, string(e.Type), e.SizeFormatted, e.Provider})
		}

		return utils.NewTablePrinter().Print([]string{"Date", "Website", "Name", "Type", "Size", "Provider"}, data)
	}),
}

var backupDeleteCmd = &cobra.Command{
	Use:   "delete <website> <backup-name>",
	Short: "deletes a stored backup",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString(providerFlg)
		return a.manager.DeleteBackup(stop, args[0], args[1], provider)
	}),
}

var backupInfoCmd = &cobra.Command{
	Use:   "info <website>",
	Short: "shows the backup directories of a website",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		folders, err := a.manager.Folders(args[0])
		if err != nil {
			return err
		}

		var data [][]string
		for _, f := range folders {
			latest := ""
			if f.IsLatest {
				latest = "*"
			}
			data = append(data, []string{f.Time.Format(constants.DisplayTimeFormat), f.Name, common.FormatSize(f.Size), f.SQLFile, f.ArchiveFile, latest})
		}

		return utils.NewTablePrinter().Print([]string{"Date", "Folder", "Size", "Database", "Archive", "Latest"}, data)
	}),
}

var backupCleanupCmd = &cobra.Command{
	Use:   "cleanup <website>",
	Short: "deletes all but the newest backups of a website at a provider",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString(providerFlg)
		keep, _ := cmd.Flags().GetInt(keepFlg)

		deleted, err := a.manager.CleanupBackups(stop, args[0], provider, keep)
		for _, d := range deleted {
			fmt.Printf("deleted %s\n", d)
		}
		return err
	}),
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "manage scheduled website backups",
}

var scheduleSetCmd = &cobra.Command{
	Use:   "set <website>",
	Short: "schedules periodic backups of a website, replacing an existing schedule",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		schedule, err := scheduleFromFlags(cmd)
		if err != nil {
			return err
		}
		provider, _ := cmd.Flags().GetString(providerFlg)

		id, err := a.manager.ScheduleBackup(stop, args[0], schedule, provider)
		if err != nil {
			return err
		}

		fmt.Printf("scheduled %s backups of %s as job %s\n", schedule.ScheduleType, args[0], id)
		return nil
	}),
}

var scheduleDisableCmd = &cobra.Command{
	Use:   "disable <website>",
	Short: "disables the scheduled backups of a website",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		_, err := a.manager.ScheduleBackup(stop, args[0], &siteconfig.BackupSchedule{Enabled: false}, "")
		return err
	}),
}

var scheduleListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "lists scheduled jobs",
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		jobs, err := a.jobs.List()
		if err != nil {
			return err
		}

		var data [][]string
		for _, j := range jobs {
			data = append(data, []string{j.ID, j.JobType, j.TargetID, j.Schedule, j.Parameters.Provider, strconv.FormatBool(j.Enabled), j.LastRun, j.LastStatus})
		}

		return utils.NewTablePrinter().Print([]string{"ID", "Type", "Target", "Schedule", "Provider", "Enabled", "Last Run", "Status"}, data)
	}),
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "runs a scheduled job immediately",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		result, err := a.runner.RunByID(stop, args[0])
		if err != nil {
			return err
		}

		for _, l := range result.Logs {
			fmt.Println(l)
		}
		if result.Status == scheduler.StatusFailure {
			return fmt.Errorf("job %s failed: %s", result.JobID, result.Error)
		}
		return nil
	}),
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "runs scheduled jobs and serves metrics until interrupted",
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		logger.Infow("starting wp-docker backup daemon", "version", v.V, "providers", a.manager.Providers())

		a.metrics.Start(stop, logger.Named("metrics"), viper.GetString(metricsAddrFlg))

		if err := probe.Start(stop, logger.Named("probe"), a.db); err != nil {
			return err
		}

		d := scheduler.NewDaemon(logger.Named("scheduler"), a.jobs, a.runner, scheduler.DaemonConfig{
			ReloadInterval: viper.GetDuration(reloadIntervalFlg),
			// remotes configured or helpers started after the daemon came up become usable without a restart
			OnReload: func(ctx context.Context) error {
				return registerRemotes(ctx, a)
			},
		})

		return d.Start(stop)
	}),
}

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "inspect the rclone remotes backups can be stored at",
}

var remoteListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "lists the configured rclone remotes",
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		if err := a.rclone.EnsureRunning(stop); err != nil {
			return err
		}

		remotes, err := a.rclone.ListRemotes(stop)
		if err != nil {
			return err
		}

		var data [][]string
		for _, r := range remotes {
			data = append(data, []string{r, remote.ProviderPrefix + r})
		}

		return utils.NewTablePrinter().Print([]string{"Remote", "Provider"}, data)
	}),
}

var providerCmd = &cobra.Command{
	Use:   "provider",
	Short: "inspect the storage providers backups can be stored at",
}

var providerListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "lists the registered storage providers",
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		return printProviders(os.Stdout, a.manager.Providers())
	}),
}

func printProviders(w io.Writer, names []string) error {
	var data [][]string
	for _, name := range names {
		kind, target, _ := strings.Cut(name, ":")
		data = append(data, []string{name, kind, target})
	}

	return utils.NewTablePrinterTo(w).Print([]string{"Provider", "Type", "Target"}, data)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if logger == nil {
			log.Fatalf("failed executing root command: %v", err)
		}
		logger.Fatalw("failed executing root command", "error", err)
	}
}

func init() {
	rootCmd.AddCommand(backupCmd, scheduleCmd, daemonCmd, remoteCmd, providerCmd)
	backupCmd.AddCommand(backupCreateCmd, backupRestoreCmd, backupListCmd, backupDeleteCmd, backupInfoCmd, backupCleanupCmd)
	scheduleCmd.AddCommand(scheduleSetCmd, scheduleDisableCmd, scheduleListCmd, scheduleRunCmd)
	remoteCmd.AddCommand(remoteListCmd)
	providerCmd.AddCommand(providerListCmd)

	rootCmd.PersistentFlags().StringVar(&cfgFile, configFlg, "", "path to the yaml config file of this tool")
	rootCmd.PersistentFlags().StringP(logLevelFlg, "", "info", "sets the application log level")

	rootCmd.PersistentFlags().StringP(installDirFlg, "", constants.InstallDir, "the wp-docker installation directory")
	rootCmd.PersistentFlags().StringP(dataDirFlg, "", constants.DataDir, "the wp-docker data directory (defaults to <install-dir>/data)")
	rootCmd.PersistentFlags().StringP(sitesDirFlg, "", constants.SitesDir, "the directory containing one directory per website (defaults to <data-dir>/sites)")
	rootCmd.PersistentFlags().StringP(backupDirFlg, "", constants.BackupDir, "the root directory of the local provider (defaults to <data-dir>/backups)")
	rootCmd.PersistentFlags().StringP(siteConfigFlg, "", constants.ConfigFile, "the json document holding the site configurations (defaults to <install-dir>/config/config.json)")
	rootCmd.PersistentFlags().StringP(cronJobsFileFlg, "", constants.CronJobsFile, "the json document holding the scheduled jobs (defaults to <data-dir>/cron_jobs.json)")

	rootCmd.PersistentFlags().StringP(mysqlContainerFlg, "", constants.MySQLContainerName, "the name of the shared mysql container")
	rootCmd.PersistentFlags().StringP(mysqlRootPasswordFlg, "", "", "the root password of the shared mysql container")

	rootCmd.PersistentFlags().StringP(rcloneContainerFlg, "", constants.RcloneContainerName, "the name of the rclone helper container")
	rootCmd.PersistentFlags().StringP(rcloneConfigFlg, "", constants.RcloneConfigFile, "the rclone config path inside the helper container")
	rootCmd.PersistentFlags().StringSlice(pathMappingFlg, nil, "maps a host directory into the rclone container in the form host=container (defaults to <data-dir>=/data and <install-dir>=/)")

	rootCmd.PersistentFlags().StringP(execTimeoutFlg, "", constants.DefaultExecTimeout.String(), "bounds every container exec and archive operation (seconds or a duration like 30m)")
	rootCmd.PersistentFlags().StringP(encryptionKeyFlg, "", "", "if given, backups are encrypted with this 32 byte key before they are stored")

	rootCmd.PersistentFlags().StringP(objectPrefixFlg, "", "", "the prefix to store objects below in the cloud provider bucket")

	rootCmd.PersistentFlags().StringP(gcpBucketNameFlg, "", "", "the name of the gcp backup bucket, enables the gcp provider")
	rootCmd.PersistentFlags().StringP(gcpBucketLocationFlg, "", "", "the location of the gcp backup bucket")
	rootCmd.PersistentFlags().StringP(gcpProjectFlg, "", "", "the project id to place the gcp backup bucket in")

	rootCmd.PersistentFlags().StringP(s3BucketNameFlg, "", "", "the name of the s3 backup bucket, enables the s3 provider")
	rootCmd.PersistentFlags().StringP(s3RegionFlg, "", "", "the region of the s3 backup bucket")
	rootCmd.PersistentFlags().StringP(s3EndpointFlg, "", "", "the url to the s3 endpoint")
	rootCmd.PersistentFlags().StringP(s3AccessKeyFlg, "", "", "the s3 access-key-id")
	rootCmd.PersistentFlags().StringP(s3SecretKeyFlg, "", "", "the s3 secret-key-id")

	err := viper.BindPFlags(rootCmd.PersistentFlags())
	if err != nil {
		fmt.Printf("unable to construct root command: %v", err)
		os.Exit(1)
	}

	daemonCmd.Flags().StringP(metricsAddrFlg, "", ":2112", "the address the metrics server listens on")
	daemonCmd.Flags().DurationP(reloadIntervalFlg, "", 0, "the interval in which the scheduled jobs are read again (default 1m)")

	err = viper.BindPFlags(daemonCmd.Flags())
	if err != nil {
		fmt.Printf("unable to construct daemon command: %v", err)
		os.Exit(1)
	}

	for _, c := range []*cobra.Command{backupCreateCmd, backupRestoreCmd, scheduleSetCmd} {
		c.Flags().StringP(providerFlg, "p", local.ProviderName, "the storage provider, local, remote:<remote>, s3:<bucket> or gcp:<bucket>")
	}
	backupListCmd.Flags().StringP(providerFlg, "p", "", "only list backups of this storage provider")
	for _, c := range []*cobra.Command{backupDeleteCmd, backupCleanupCmd} {
		c.Flags().StringP(providerFlg, "p", "", "the storage provider holding the backups")
		_ = c.MarkFlagRequired(providerFlg)
	}
	backupCleanupCmd.Flags().IntP(keepFlg, "", constants.DefaultRetentionCount, "the number of newest backups to keep")

	scheduleSetCmd.Flags().StringP(typeFlg, "", backup.ScheduleDaily, "the schedule type, daily, weekly or monthly")
	scheduleSetCmd.Flags().IntP(hourFlg, "", 0, "the hour to take the backup at (0-23)")
	scheduleSetCmd.Flags().IntP(minuteFlg, "", 0, "the minute to take the backup at (0-59)")
	scheduleSetCmd.Flags().IntP(dayOfWeekFlg, "", 1, "the day of week of weekly schedules, 0 is sunday")
	scheduleSetCmd.Flags().StringP(dayOfMonthFlg, "", "1", "the day of month of monthly schedules (1-31 or last)")
	scheduleSetCmd.Flags().IntP(retentionFlg, "", constants.DefaultRetentionCount, "the number of backups to keep at the provider, negative values disable the cleanup")
}

// initConfig runs before the logger exists, so that the log level can be configured as well
func initConfig() error {
	viper.SetEnvPrefix("WP_DOCKER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.SetConfigType(cfgFileType)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("config file path set explicitly, but unreadable: %w", err)
		}
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath("/etc/" + moduleName)
		viper.AddConfigPath("$HOME/." + moduleName)
		viper.AddConfigPath(".")
		if err := viper.ReadInConfig(); err != nil {
			usedCfg := viper.ConfigFileUsed()
			if usedCfg != "" {
				return fmt.Errorf("config file %q unreadable: %w", usedCfg, err)
			}
		}
	}

	return nil
}

func initLogging() {
	level := zap.InfoLevel

	var err error
	if viper.IsSet(logLevelFlg) {
		level, err = zapcore.ParseLevel(viper.GetString(logLevelFlg))
		if err != nil {
			log.Fatalf("can't initialize zap logger: %v", err)
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	// tables and results go to stdout
	cfg.OutputPaths = []string{"stderr"}

	l, err := cfg.Build()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}

	logger = l.Sugar()
	slogger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel(level)}))
}

func slogLevel(level zapcore.Level) slog.Level {
	switch {
	case level <= zapcore.DebugLevel:
		return slog.LevelDebug
	case level == zapcore.InfoLevel:
		return slog.LevelInfo
	case level == zapcore.WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func initSignalHandlers() {
	// don't need to store
	stop, _ = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func withApp(fn func(a *app, cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := initApp(stop)
		if err != nil {
			return err
		}
		defer a.close()

		return fn(a, cmd, args)
	}
}

// dirs resolves the directory layout, explicitly set directories win over ones derived from their parent
type dirs struct {
	install, data, sites, backups, siteConfig, cronJobs string
}

func resolveDirs() dirs {
	pick := func(flag, derived string) string {
		if viper.IsSet(flag) {
			return viper.GetString(flag)
		}
		return derived
	}

	d := dirs{install: viper.GetString(installDirFlg)}
	d.data = pick(dataDirFlg, filepath.Join(d.install, "data"))
	d.sites = pick(sitesDirFlg, filepath.Join(d.data, "sites"))
	d.backups = pick(backupDirFlg, filepath.Join(d.data, "backups"))
	d.siteConfig = pick(siteConfigFlg, filepath.Join(d.install, "config", "config.json"))
	d.cronJobs = pick(cronJobsFileFlg, filepath.Join(d.data, "cron_jobs.json"))

	return d
}

func initApp(ctx context.Context) (*app, error) {
	timeout, err := utils.ParseTimeout(viper.GetString(execTimeoutFlg))
	if err != nil {
		return nil, err
	}

	runtime, err := docker.New(logger.Named("docker"), timeout)
	if err != nil {
		return nil, err
	}

	a, err := newApp(ctx, afero.NewOsFs(), runtime, resolveDirs(), timeout)
	if err != nil {
		_ = runtime.Close()
		return nil, err
	}
	a.closers = append(a.closers, runtime.Close)

	return a, nil
}

func newApp(ctx context.Context, fs afero.Fs, runtime docker.Runtime, d dirs, timeout time.Duration) (*app, error) {
	a := &app{
		fs:      fs,
		dirs:    d,
		runtime: runtime,
		metrics: metrics.New(),
	}

	sites := siteconfig.New(logger.Named("siteconfig"), fs, d.siteConfig)

	db, err := mysql.New(logger.Named("mysql"), runtime, sites, &mysql.Config{
		FS:           fs,
		Container:    viper.GetString(mysqlContainerFlg),
		RootPassword: viper.GetString(mysqlRootPasswordFlg),
	})
	if err != nil {
		return nil, err
	}
	a.db = db

	comp := compress.New()

	workflow, err := backup.NewWorkflow(logger.Named("workflow"), sites, db, comp, &backup.WorkflowConfig{
		SitesDir:    d.sites,
		ExecTimeout: timeout,
		FS:          fs,
	})
	if err != nil {
		return nil, err
	}

	restorer, err := backup.NewRestorer(logger.Named("restore"), db, comp, runtime, &backup.RestorerConfig{
		SitesDir:    d.sites,
		ExecTimeout: timeout,
		FS:          fs,
	})
	if err != nil {
		return nil, err
	}

	var encrypter *encryption.Encrypter
	if key := viper.GetString(encryptionKeyFlg); key != "" {
		encrypter, err = encryption.New(logger.Named("encryption"), &encryption.EncrypterConfig{FS: fs, Key: key})
		if err != nil {
			return nil, fmt.Errorf("unable to initialize encryption: %w", err)
		}
	}

	a.jobs = scheduler.NewStore(logger.Named("jobs"), fs, d.cronJobs)

	a.manager, err = backup.NewManager(logger.Named("backup"), &backup.ManagerConfig{
		Workflow:  workflow,
		Restorer:  restorer,
		Jobs:      a.jobs,
		Sites:     sites,
		Encrypter: encrypter,
		Metrics:   a.metrics,
		TempDir:   filepath.Join(d.backups, constants.TempDirName),
		FS:        fs,
	})
	if err != nil {
		return nil, err
	}

	a.runner = scheduler.NewRunner(logger.Named("runner"), a.jobs, a.manager, a.metrics)

	a.rclone = remote.NewRclone(slogger.With("logger", "rclone"), runtime, remote.RcloneConfig{
		Container:  viper.GetString(rcloneContainerFlg),
		ConfigPath: viper.GetString(rcloneConfigFlg),
	})

	if err := registerProviders(ctx, a); err != nil {
		a.close()
		return nil, err
	}

	return a, nil
}

func registerProviders(ctx context.Context, a *app) error {
	lp, err := local.New(slogger.With("logger", "local"), &local.BackupProviderConfigLocal{
		LocalBackupPath: a.dirs.backups,
		FS:              a.fs,
	})
	if err != nil {
		return fmt.Errorf("error initializing local backup provider: %w", err)
	}
	a.manager.Register(lp)

	if err := registerRemotes(ctx, a); err != nil {
		// remote storage is optional, local backups keep working without the helper container
		logger.Warnw("remote providers are unavailable", "error", err)
	}

	if bucket := viper.GetString(s3BucketNameFlg); bucket != "" {
		bp, err := s3.New(ctx, slogger.With("logger", "s3"), &s3.BackupProviderConfigS3{
			BucketName:   bucket,
			Endpoint:     viper.GetString(s3EndpointFlg),
			Region:       viper.GetString(s3RegionFlg),
			AccessKey:    viper.GetString(s3AccessKeyFlg),
			SecretKey:    viper.GetString(s3SecretKeyFlg),
			ObjectPrefix: viper.GetString(objectPrefixFlg),
			FS:           a.fs,
		})
		if err != nil {
			return fmt.Errorf("error initializing s3 backup provider: %w", err)
		}
		if err := bp.EnsureBucket(ctx); err != nil {
			return err
		}
		a.manager.Register(bp)
	}

	if bucket := viper.GetString(gcpBucketNameFlg); bucket != "" {
		bp, err := gcp.New(ctx, slogger.With("logger", "gcp"), &gcp.BackupProviderConfigGCP{
			BucketName:     bucket,
			BucketLocation: viper.GetString(gcpBucketLocationFlg),
			ObjectPrefix:   viper.GetString(objectPrefixFlg),
			ProjectID:      viper.GetString(gcpProjectFlg),
			FS:             a.fs,
		})
		if err != nil {
			return fmt.Errorf("error initializing gcp backup provider: %w", err)
		}
		a.closers = append(a.closers, bp.Close)
		if err := bp.EnsureBucket(ctx); err != nil {
			return err
		}
		a.manager.Register(bp)
	}

	logger.Debugw("initialized backup providers", "providers", a.manager.Providers())

	return nil
}

// registerRemotes registers a provider for every rclone remote that is not registered yet,
// the helper container is started if it is not running
func registerRemotes(ctx context.Context, a *app) error {
	mappings := []remote.PathMapping{
		{Host: a.dirs.data, Container: "/data"},
		{Host: a.dirs.install, Container: "/"},
	}
	if raw := viper.GetStringSlice(pathMappingFlg); len(raw) > 0 {
		var err error
		mappings, err = remote.ParsePathMappings(raw)
		if err != nil {
			return err
		}
	}

	remotes, err := a.rclone.ListRemotes(ctx)
	if err != nil {
		return err
	}

	registered := a.manager.Providers()
	for _, name := range remotes {
		if slices.Contains(registered, remote.ProviderPrefix+name) {
			continue
		}

		bp, err := remote.New(slogger.With("logger", "remote"), a.rclone, &remote.BackupProviderConfigRemote{
			RemoteName:   name,
			PathMappings: mappings,
			FS:           a.fs,
		})
		if err != nil {
			return err
		}
		a.manager.Register(bp)
	}

	return nil
}

func scheduleFromFlags(cmd *cobra.Command) (*siteconfig.BackupSchedule, error) {
	var (
		flags        = cmd.Flags()
		kind, _      = flags.GetString(typeFlg)
		hour, _      = flags.GetInt(hourFlg)
		minute, _    = flags.GetInt(minuteFlg)
		retention, _ = flags.GetInt(retentionFlg)
	)

	schedule := &siteconfig.BackupSchedule{
		Enabled:        true,
		ScheduleType:   kind,
		Hour:           hour,
		Minute:         minute,
		RetentionCount: retention,
	}

	switch kind {
	case backup.ScheduleWeekly:
		dow, _ := flags.GetInt(dayOfWeekFlg)
		schedule.DayOfWeek = &dow
	case backup.ScheduleMonthly:
		raw, _ := flags.GetString(dayOfMonthFlg)
		dom := backup.LastDayOfMonth
		if raw != "last" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid day of month %q, must be 1-31 or last", raw)
			}
			dom = parsed
		}
		schedule.DayOfMonth = &dom
	}

	return schedule, nil
}
