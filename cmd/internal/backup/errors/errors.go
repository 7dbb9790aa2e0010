package errors

import "fmt"

// NoBackupsAvailableError indicates that no backups exist for a website at a provider
type NoBackupsAvailableError struct {
	Website string
}

func (e NoBackupsAvailableError) Error() string {
	if e.Website == "" {
		return "no backups available"
	}
	return fmt.Sprintf("no backups available for website %q", e.Website)
}

// ProviderNotFoundError is returned when an operation names a provider that was never registered
type ProviderNotFoundError struct {
	Name string
}

func (e ProviderNotFoundError) Error() string {
	return fmt.Sprintf("storage provider %q is not registered", e.Name)
}

// BackupNotFoundError is returned when a named backup does not exist at a provider
type BackupNotFoundError struct {
	Website string
	Name    string
}

func (e BackupNotFoundError) Error() string {
	return fmt.Sprintf("backup %q of website %q not found", e.Name, e.Website)
}

// UnknownBackupTypeError is returned when a backup file can neither be imported nor extracted
type UnknownBackupTypeError struct {
	Name string
}

func (e UnknownBackupTypeError) Error() string {
	return fmt.Sprintf("unknown backup type of file %q", e.Name)
}

// SiteNotFoundError is returned when there is no configuration for a website
type SiteNotFoundError struct {
	Website string
}

func (e SiteNotFoundError) Error() string {
	return fmt.Sprintf("no configuration found for website %q", e.Website)
}
