package utils

import (
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/afero"
)

// IsEmpty returns whether a directory is empty or not
func IsEmpty(fs afero.Fs, name string) (bool, error) {
	f, err := fs.Open(name)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = f.Close()
	}()
	_, err = f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return false, err
}

// Copy copies a file from source to a destination, creating the parent directories of the destination
func Copy(fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	if err := fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	out, err := fs.Create(dst)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	if err != nil {
		_ = out.Close()
		return err
	}

	return out.Close()
}

// VerifyFile returns an error unless path is an existing, non-empty regular file
func VerifyFile(fs afero.Fs, path string) (iofs.FileInfo, error) {
	if path == "" {
		return nil, errors.New("file path is empty")
	}
	info, err := fs.Stat(path)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, fmt.Errorf("file %q does not exist", path)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%q is a directory, not a file", path)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%q is not a regular file", path)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("file %q is empty", path)
	}
	return info, nil
}

// DirSize sums up the sizes of all files below dir
func DirSize(fs afero.Fs, dir string) (int64, error) {
	var size int64
	err := afero.Walk(fs, dir, func(_ string, info iofs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// IsCommandPresent reports whether the command can be found in the path
func IsCommandPresent(command string) bool {
	p, err := exec.LookPath(command)
	if err != nil {
		return false
	}

	if _, err := os.Stat(p); errors.Is(err, iofs.ErrNotExist) {
		return false
	}

	return true
}
