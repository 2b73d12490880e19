// Package fileutil replaces files atomically while keeping a bounded set
// of numbered backups (path.1 newest, path.k oldest).
package fileutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// BackupPath returns the name of the n-th backup of path.
func BackupPath(path string, n int) string {
	return path + "." + strconv.Itoa(n)
}

// TempPath returns a sibling temp name for writing the next version of path.
func TempPath(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
}

// Replace moves tmp over path. When backups > 0 the current path becomes
// path.1 and older backups shift up, dropping anything past path.<backups>.
// The current file stays in place until the final rename, so a crash
// never leaves path missing.
func Replace(tmp, path string, backups int) error {
	if backups < 0 {
		backups = 0
	}

	if backups > 0 {
		if err := rotate(path, backups); err != nil {
			return err
		}
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}

	return prune(path, backups)
}

// WriteFile writes data to a temp file next to path, syncs it and then
// calls Replace.
func WriteFile(path string, data []byte, backups int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	tmp := TempPath(path)
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := Replace(tmp, path, backups); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func rotate(path string, backups int) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	oldest := BackupPath(path, backups)
	if err := os.Remove(oldest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", oldest, err)
	}
	for i := backups - 1; i >= 1; i-- {
		from := BackupPath(path, i)
		if err := os.Rename(from, BackupPath(path, i+1)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("rotating %s: %w", from, err)
		}
	}

	first := BackupPath(path, 1)
	if err := os.Link(path, first); err != nil {
		if err := copyFile(path, first); err != nil {
			return fmt.Errorf("backing up %s: %w", path, err)
		}
	}
	return nil
}

// prune removes backups numbered above keep.
func prune(path string, keep int) error {
	for n := keep + 1; ; n++ {
		err := os.Remove(BackupPath(path, n))
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("removing stale backup: %w", err)
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
