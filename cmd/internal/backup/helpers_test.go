package backup

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"github.com/wpdocker/wp-docker/cmd/internal/siteconfig"
	"github.com/wpdocker/wp-docker/pkg/constants"
	"go.uber.org/zap/zaptest"
)

const testSitesDir = constants.SitesDir

type fakeDatabase struct {
	fs        afero.Fs
	exportErr error
	importErr error

	mu      sync.Mutex
	imports []fakeImport
}

type fakeImport struct {
	website string
	content string
	reset   bool
}

func (d *fakeDatabase) ExportDatabase(_ context.Context, website, targetDir string) (string, error) {
	if d.exportErr != nil {
		return "", d.exportErr
	}
	dump := filepath.Join(targetDir, fmt.Sprintf("db_%s_%s.sql", website, time.Now().Format(constants.DumpTimeFormat)))
	return dump, afero.WriteFile(d.fs, dump, []byte("CREATE TABLE wp_posts;"), 0600)
}

func (d *fakeDatabase) ImportDatabase(_ context.Context, website, dumpFile string, reset bool) error {
	if d.importErr != nil {
		return d.importErr
	}
	content, err := afero.ReadFile(d.fs, dumpFile)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.imports = append(d.imports, fakeImport{website: website, content: string(content), reset: reset})
	return nil
}

// fakeCompressor writes archives into the afero filesystem instead of creating real tarballs
type fakeCompressor struct {
	fs           afero.Fs
	compressErr  error
	emptyArchive bool
	// extracted is the content of wordpress/index.php after decompression, no wordpress directory is created if empty
	extracted string
	// emptyWordpress extracts a wordpress directory without any files
	emptyWordpress bool
}

func (c *fakeCompressor) Compress(_ context.Context, sourceDir, archivePath string) error {
	if c.compressErr != nil {
		return c.compressErr
	}
	content := []byte("archive of " + sourceDir)
	if c.emptyArchive {
		content = nil
	}
	return afero.WriteFile(c.fs, archivePath, content, 0600)
}

func (c *fakeCompressor) Decompress(_ context.Context, archivePath, destinationDir string) error {
	if _, err := c.fs.Stat(archivePath); err != nil {
		return err
	}
	if c.emptyWordpress {
		return c.fs.MkdirAll(filepath.Join(destinationDir, constants.WordpressDirName), 0755)
	}
	if c.extracted == "" {
		return afero.WriteFile(c.fs, filepath.Join(destinationDir, "other", "file"), []byte("x"), 0600)
	}
	return afero.WriteFile(c.fs, filepath.Join(destinationDir, constants.WordpressDirName, "index.php"), []byte(c.extracted), 0600)
}

var errBoom = errors.New("boom")

func newSiteStore(t *testing.T, fs afero.Fs, websites ...string) *siteconfig.Store {
	store := siteconfig.New(zaptest.NewLogger(t).Sugar(), fs, constants.ConfigFile)
	for _, w := range websites {
		require.NoError(t, store.Set(w, &siteconfig.SiteConfig{
			Domain: w,
			MySQL:  &siteconfig.MySQL{DBName: "wp_db", DBUser: "wp", DBPass: "secret"},
		}))
		require.NoError(t, afero.WriteFile(fs, filepath.Join(testSitesDir, w, constants.WordpressDirName, "index.php"), []byte("<?php"), 0600))
	}
	return store
}

func intPtr(i int) *int {
	return &i
}
