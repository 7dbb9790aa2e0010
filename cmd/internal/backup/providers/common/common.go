package common

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/wpdocker/wp-docker/cmd/internal/backup/providers"
	"github.com/wpdocker/wp-docker/pkg/constants"
)

// EncryptedSuffix is appended to backup files that were encrypted before storing
const EncryptedSuffix = ".aes"

var backupExtensions = []string{".sql", ".tar.gz", ".tgz", ".tar", ".zip"}

// Sort the given list of entries, the newest entry comes first
func Sort(entries []*providers.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Modified > entries[j].Modified
	})
}

// Latest returns the newest entry
func Latest(entries []*providers.Entry) *providers.Entry {
	Sort(entries)
	if len(entries) == 0 {
		return nil
	}
	return entries[0]
}

// IsBackupFile reports whether a file name carries one of the known backup extensions
func IsBackupFile(name string) bool {
	name = strings.TrimSuffix(name, EncryptedSuffix)
	for _, ext := range backupExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// TypeOf classifies a backup file by its extension
func TypeOf(name string) providers.EntryType {
	if strings.HasSuffix(strings.TrimSuffix(name, EncryptedSuffix), ".sql") {
		return providers.EntryTypeDatabase
	}
	return providers.EntryTypeFull
}

// FormatSize renders a byte count human readable
func FormatSize(size int64) string {
	const unit = 1024
	switch {
	case size < unit:
		return fmt.Sprintf("%d B", size)
	case size < unit*unit:
		return fmt.Sprintf("%.2f KB", float64(size)/unit)
	case size < unit*unit*unit:
		return fmt.Sprintf("%.2f MB", float64(size)/(unit*unit))
	default:
		return fmt.Sprintf("%.2f GB", float64(size)/(unit*unit*unit))
	}
}

// NewEntry fills the derived fields of a listing entry
func NewEntry(website, filePath string, size int64, modified time.Time, provider string) *providers.Entry {
	name := path.Base(filePath)
	return &providers.Entry{
		Website:           website,
		Name:              name,
		Path:              filePath,
		Size:              size,
		SizeFormatted:     FormatSize(size),
		Modified:          modified.Unix(),
		ModifiedFormatted: modified.Format(constants.DisplayTimeFormat),
		Type:              TypeOf(name),
		Provider:          provider,
	}
}

// ValidateName rejects names that would escape the namespace of a website
func ValidateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s must not be empty", kind)
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid %s %q", kind, name)
	}
	return nil
}
