package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wpdocker/wp-docker/cmd/internal/backup/providers"
)

func TestSort(t *testing.T) {
	now := time.Now().Unix()
	tests := []struct {
		name          string
		entries       []*providers.Entry
		wantedEntries []string
	}{
		{
			name: "mixed",
			entries: []*providers.Entry{
				{Name: "2.tar.gz", Modified: now + 2},
				{Name: "1.tar.gz", Modified: now + 1},
				{Name: "5.tar.gz", Modified: now + 5},
				{Name: "0.tar.gz", Modified: now},
				{Name: "3.sql", Modified: now + 3},
			},
			wantedEntries: []string{"5.tar.gz", "3.sql", "2.tar.gz", "1.tar.gz", "0.tar.gz"},
		},
		{
			name:          "empty",
			entries:       nil,
			wantedEntries: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Sort(tt.entries)

			var names []string
			for _, e := range tt.entries {
				names = append(names, e.Name)
			}
			require.Equal(t, tt.wantedEntries, names)
		})
	}
}

func TestLatest(t *testing.T) {
	now := time.Now().Unix()
	newest := &providers.Entry{Name: "5.tar.gz", Modified: now + 5}

	got := Latest([]*providers.Entry{
		{Name: "2.tar.gz", Modified: now + 2},
		{Name: "0.tar.gz", Modified: now},
		newest,
		{Name: "3.tar.gz", Modified: now + 3},
	})
	assert.Equal(t, newest, got)

	assert.Nil(t, Latest(nil))
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{size: 0, want: "0 B"},
		{size: 1023, want: "1023 B"},
		{size: 1024, want: "1.00 KB"},
		{size: 12 * 1024, want: "12.00 KB"},
		{size: 1536 * 1024, want: "1.50 MB"},
		{size: 3 * 1024 * 1024 * 1024, want: "3.00 GB"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatSize(tt.size))
		})
	}
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, providers.EntryTypeDatabase, TypeOf("db_example.com_2024-01-01_00-00-00.sql"))
	assert.Equal(t, providers.EntryTypeDatabase, TypeOf("db.sql.aes"))
	assert.Equal(t, providers.EntryTypeFull, TypeOf("wordpress.tar.gz"))
	assert.Equal(t, providers.EntryTypeFull, TypeOf("site.zip"))

	assert.True(t, IsBackupFile("wordpress.tar.gz.aes"))
	assert.True(t, IsBackupFile("x.tgz"))
	assert.False(t, IsBackupFile("notes.txt"))
}

func TestNewEntry(t *testing.T) {
	modified := time.Date(2024, 3, 1, 10, 20, 30, 0, time.Local)

	e := NewEntry("example.com", "/backups/example.com/wordpress.tar.gz", 2048, modified, "local")

	assert.Equal(t, &providers.Entry{
		Website:           "example.com",
		Name:              "wordpress.tar.gz",
		Path:              "/backups/example.com/wordpress.tar.gz",
		Size:              2048,
		SizeFormatted:     "2.00 KB",
		Modified:          modified.Unix(),
		ModifiedFormatted: "2024-03-01 10:20:30",
		Type:              providers.EntryTypeFull,
		Provider:          "local",
	}, e)
}

func TestValidateName(t *testing.T) {
	require.NoError(t, ValidateName("website", "example.com"))
	require.Error(t, ValidateName("website", ""))
	require.Error(t, ValidateName("backup name", "../etc/passwd"))
	require.Error(t, ValidateName("backup name", ".."))
}
