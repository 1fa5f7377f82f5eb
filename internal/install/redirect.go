package install

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
)

// ErrCollision is returned when a staged entry already exists in the target.
var ErrCollision = errors.New("destination already exists")

// FileSystem abstracts the filesystem operations the redirector needs, so
// tests can inject failures.
type FileSystem interface {
	MkdirTemp(dir, pattern string) (string, error)
	MkdirAll(path string, perm os.FileMode) error
	ReadDir(name string) ([]os.DirEntry, error)
	Lstat(name string) (os.FileInfo, error)
	Rename(oldpath, newpath string) error
	RemoveAll(path string) error
}

// OSFileSystem implements FileSystem on the real filesystem.
type OSFileSystem struct{}

func (OSFileSystem) MkdirTemp(dir, pattern string) (string, error) { return os.MkdirTemp(dir, pattern) }
func (OSFileSystem) MkdirAll(path string, perm os.FileMode) error  { return os.MkdirAll(path, perm) }
func (OSFileSystem) ReadDir(name string) ([]os.DirEntry, error)    { return os.ReadDir(name) }
func (OSFileSystem) Lstat(name string) (os.FileInfo, error)        { return os.Lstat(name) }
func (OSFileSystem) Rename(oldpath, newpath string) error          { return os.Rename(oldpath, newpath) }
func (OSFileSystem) RemoveAll(path string) error                   { return os.RemoveAll(path) }

// HomeLib returns the library directory of a "--home" style install.
func HomeLib(home string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(home, "Lib")
	}
	return filepath.Join(home, "lib", "python")
}

// TargetRedirector implements installs into an arbitrary directory: the
// build tool installs into a staging home, and the contents of that home's
// library directory are then moved into the target.
type TargetRedirector struct {
	fs      FileSystem
	tempDir string // parent for staging directories; "" means os.TempDir()
}

// NewTargetRedirector creates a redirector on the real filesystem.
func NewTargetRedirector() *TargetRedirector {
	return &TargetRedirector{fs: OSFileSystem{}}
}

// NewTargetRedirectorFS creates a redirector over fsys, staging under tempDir.
func NewTargetRedirectorFS(fsys FileSystem, tempDir string) *TargetRedirector {
	return &TargetRedirector{fs: fsys, tempDir: tempDir}
}

// Stage creates a fresh staging home.
func (r *TargetRedirector) Stage() (string, error) {
	dir, err := r.fs.MkdirTemp(r.tempDir, "yapi-target-")
	if err != nil {
		return "", err
	}
	return dir, nil
}

// Discard removes a staging home that will not be relocated.
func (r *TargetRedirector) Discard(stagingDir string) error {
	if stagingDir == "" {
		return nil
	}
	return r.fs.RemoveAll(stagingDir)
}

// Relocate moves every top-level entry of the staging home's library
// directory into targetDir, creating it if needed, then removes the staging
// home. It is not transactional: on failure, entries already moved stay
// moved and the staging home is left in place. An entry whose name already
// exists in targetDir is a collision error; nothing is overwritten.
func (r *TargetRedirector) Relocate(stagingDir, targetDir string) error {
	if err := r.fs.MkdirAll(targetDir, 0755); err != nil {
		return &InstallationError{Op: "relocate", Entry: targetDir, Target: targetDir, StagingDir: stagingDir, Err: err}
	}

	libDir := HomeLib(stagingDir)
	entries, err := r.fs.ReadDir(libDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &InstallationError{Op: "relocate", Entry: libDir, Target: targetDir, StagingDir: stagingDir, Err: err}
	}

	for _, entry := range entries {
		src := filepath.Join(libDir, entry.Name())
		dst := filepath.Join(targetDir, entry.Name())

		if _, err := r.fs.Lstat(dst); err == nil {
			return &InstallationError{Op: "relocate", Entry: entry.Name(), Target: targetDir, StagingDir: stagingDir, Err: ErrCollision}
		}
		if err := r.move(src, dst); err != nil {
			return &InstallationError{Op: "relocate", Entry: entry.Name(), Target: targetDir, StagingDir: stagingDir, Err: err}
		}
	}

	if err := r.fs.RemoveAll(stagingDir); err != nil {
		return &InstallationError{Op: "relocate", Entry: stagingDir, Target: targetDir, StagingDir: stagingDir, Err: fmt.Errorf("removing staging directory: %w", err)}
	}
	return nil
}

// move renames src to dst, falling back to copy-and-delete when the rename
// crosses filesystems.
func (r *TargetRedirector) move(src, dst string) error {
	renameErr := r.fs.Rename(src, dst)
	if renameErr == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(renameErr, &linkErr) {
		return renameErr
	}
	if _, ok := r.fs.(OSFileSystem); !ok {
		return renameErr
	}
	if err := copyTree(src, dst); err != nil {
		os.RemoveAll(dst)
		return fmt.Errorf("%w (copy fallback: %v)", renameErr, err)
	}
	return os.RemoveAll(src)
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0700)
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			return copyRegular(path, target, info.Mode().Perm())
		}
	})
}

func copyRegular(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
