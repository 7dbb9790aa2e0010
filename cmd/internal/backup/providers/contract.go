package providers

import (
	"context"
)

// StorageProvider abstracts over the place where backup files of websites are kept
type StorageProvider interface {
	// StoreBackup copies the local file into the namespace of the website and returns the destination
	StoreBackup(ctx context.Context, website, localFilePath string) (string, error)
	// RetrieveBackup materializes the named backup at destinationPath and returns the resulting local path
	RetrieveBackup(ctx context.Context, website, backupName, destinationPath string) (string, error)
	// ListBackups lists the backups of a website, or of all websites if website is empty
	ListBackups(ctx context.Context, website string) ([]*Entry, error)
	// DeleteBackup removes a single backup
	DeleteBackup(ctx context.Context, website, backupName string) error
	// ProviderName returns the stable identifier of the provider
	ProviderName() string
}

// EntryType classifies backup files
type EntryType string

const (
	// EntryTypeDatabase is a plain database dump
	EntryTypeDatabase EntryType = "database"
	// EntryTypeFull is an archive of the website files
	EntryTypeFull EntryType = "full"
)

// Entry is the listing shape every provider returns
type Entry struct {
	Website           string    `json:"website"`
	Name              string    `json:"name"`
	Path              string    `json:"path"`
	Size              int64     `json:"size"`
	SizeFormatted     string    `json:"size_formatted"`
	Modified          int64     `json:"modified"`
	ModifiedFormatted string    `json:"modified_formatted"`
	Type              EntryType `json:"type"`
	Provider          string    `json:"provider"`
}
