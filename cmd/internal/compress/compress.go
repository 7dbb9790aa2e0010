package compress

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mholt/archiver/v3"
)

type (
	// Compressor is responsible to archive website directories and to extract them again
	Compressor interface {
		// Compress archives sourceDir into archivePath, the archive root is the base name of sourceDir
		Compress(ctx context.Context, sourceDir, archivePath string) error
		// Decompress extracts archivePath into destinationDir
		Decompress(ctx context.Context, archivePath, destinationDir string) error
	}

	// BackupCompressor creates and extracts tar.gz archives
	BackupCompressor struct {
		archive   func(sources []string, destination string) error
		unarchive func(source, destination string) error
	}
)

// New returns a new tar.gz Compressor
func New() *BackupCompressor {
	return &BackupCompressor{
		archive:   archiveTarGz,
		unarchive: unarchiveTarGz,
	}
}

// Compress archives the given directory.
//
// The archiver can not be interrupted, so an expired context is reported once it returned and the
// archive is removed again. Callers may clean up right after Compress returned.
func (c *BackupCompressor) Compress(ctx context.Context, sourceDir, archivePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := os.Stat(sourceDir)
	if err != nil {
		return fmt.Errorf("unable to access directory to archive: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%q is not a directory", sourceDir)
	}

	err = c.archive([]string{filepath.Clean(sourceDir)}, archivePath)
	if ctx.Err() != nil {
		_ = os.Remove(archivePath)
		return fmt.Errorf("archive operation aborted: %w", ctx.Err())
	}

	return err
}

// Decompress extracts the archive into destinationDir, like Compress it only returns after the extraction stopped
func (c *BackupCompressor) Decompress(ctx context.Context, archivePath, destinationDir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := c.unarchive(archivePath, destinationDir)
	if ctx.Err() != nil {
		return fmt.Errorf("extract operation aborted: %w", ctx.Err())
	}

	return err
}

// a tar.gz archiver keeps state while it runs, so every operation gets its own
func archiveTarGz(sources []string, destination string) error {
	tgz := archiver.NewTarGz()
	tgz.OverwriteExisting = true
	return tgz.Archive(sources, destination)
}

func unarchiveTarGz(source, destination string) error {
	tgz := archiver.NewTarGz()
	tgz.OverwriteExisting = true
	tgz.MkdirAll = true
	return tgz.Unarchive(source, destination)
}
