package constants

import "time"

const (
	// DefaultRetentionCount is the default number of backups to keep per website when cleaning up
	DefaultRetentionCount = 3

	// InstallDir is the directory wp-docker is installed to on the host
	InstallDir = "/opt/wp-docker"
	// DataDir holds all runtime data of wp-docker
	DataDir = InstallDir + "/data"
	// SitesDir is the directory containing one subdirectory per website
	SitesDir = DataDir + "/sites"
	// BackupDir is the root directory of the local storage provider
	BackupDir = DataDir + "/backups"
	// ConfigFile is the json document holding all site configurations
	ConfigFile = InstallDir + "/config/config.json"
	// CronJobsFile is the json document holding all scheduled jobs
	CronJobsFile = DataDir + "/cron_jobs.json"
	// RcloneConfigFile is the rclone configuration path inside the helper container
	RcloneConfigFile = "/config/rclone/rclone.conf"

	// TempDirName is the name of the scratch directory below the backup root
	TempDirName = "temp"

	// MySQLContainerName is the default name of the shared database container
	MySQLContainerName = "wpdocker_mysql"
	// RcloneContainerName is the default name of the rclone helper container
	RcloneContainerName = "wpdocker_rclone"

	// WordpressArchiveName is the name of the site files archive within a backup directory
	WordpressArchiveName = "wordpress.tar.gz"
	// ArchiveExtension is the extension of stored files archives
	ArchiveExtension = ".tar.gz"
	// WordpressDirName is the name of the site files directory and the archive root name
	WordpressDirName = "wordpress"

	// BackupDirPrefix prefixes every timestamped backup directory
	BackupDirPrefix = "backup_"
	// BackupDirTimeFormat is the timestamp layout used in backup directory names
	BackupDirTimeFormat = "20060102_150405"
	// DumpTimeFormat is the timestamp layout used in database dump file names
	DumpTimeFormat = "2006-01-02_15-04-05"
	// DisplayTimeFormat is used for human readable timestamps in listings
	DisplayTimeFormat = "2006-01-02 15:04:05"

	// RemoteBackupRoot is the namespace below a remote in which backups are stored
	RemoteBackupRoot = "backups"

	// DefaultExecTimeout bounds every container exec and archive operation
	DefaultExecTimeout = 30 * time.Minute
)
