// Package fileutil keeps the data directory and exported result files
// private to the user running formvault.
//
// Both helpers create with owner-only Unix modes. On Windows the mode bits
// mean little, so newly created paths also get a DACL granting access to
// the current user alone; a DACL failure is logged and not returned.
package fileutil

import (
	"log/slog"
	"os"
	"path/filepath"
)

// MkdirPrivate creates dir and any missing parents with mode 0700.
// Directories that already exist are left untouched.
func MkdirPrivate(dir string) error {
	var created []string
	for p := filepath.Clean(dir); ; {
		if _, err := os.Stat(p); err == nil {
			break
		}
		created = append(created, p)
		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	for _, p := range created {
		restrict(p)
	}
	return nil
}

// WriteFileAtomic writes data to a temporary file next to path and renames
// it into place, so an interrupted export never leaves a truncated file
// under the final name. The parent directory must exist.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp, perm); err != nil {
		return err
	}
	if perm&0077 == 0 {
		restrict(tmp)
	}
	return os.Rename(tmp, path)
}

func restrict(path string) {
	if err := restrictToCurrentUser(path); err != nil {
		slog.Warn("could not restrict access", "path", path, "error", err)
	}
}
