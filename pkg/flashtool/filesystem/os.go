package filesystem

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// OSFileSystem implements FileSystem using the OS filesystem. Every absolute
// path is resolved below root, so a root of "/" addresses the real system.
type OSFileSystem struct {
	root string
}

// NewOSFileSystem creates a new OS-based filesystem rooted at the given path
func NewOSFileSystem(root string) *OSFileSystem {
	if root == "" {
		root = "/"
	}
	return &OSFileSystem{root: root}
}

// Root returns the directory absolute paths are resolved against.
func (osfs *OSFileSystem) Root() string {
	return osfs.root
}

func (osfs *OSFileSystem) full(name string) string {
	return filepath.Join(osfs.root, filepath.FromSlash(unroot(name)))
}

// Open implements ReadFS
func (osfs *OSFileSystem) Open(name string) (fs.File, error) {
	return os.Open(osfs.full(name))
}

// Stat implements ReadFS
func (osfs *OSFileSystem) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(osfs.full(name))
}

// ReadFile implements ReadFS
func (osfs *OSFileSystem) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(osfs.full(name))
}

// ReadDir implements ReadFS
func (osfs *OSFileSystem) ReadDir(name string) ([]fs.DirEntry, error) {
	return os.ReadDir(osfs.full(name))
}

// WriteFile implements WriteFS
func (osfs *OSFileSystem) WriteFile(name string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(osfs.full(name), data, perm)
}

// MkdirAll implements WriteFS
func (osfs *OSFileSystem) MkdirAll(path string, perm fs.FileMode) error {
	return os.MkdirAll(osfs.full(path), perm)
}

// Remove implements WriteFS
func (osfs *OSFileSystem) Remove(name string) error {
	return os.Remove(osfs.full(name))
}

// RemoveAll implements WriteFS
func (osfs *OSFileSystem) RemoveAll(name string) error {
	return os.RemoveAll(osfs.full(name))
}

// MkdirTemp implements WriteFS
func (osfs *OSFileSystem) MkdirTemp(dir, pattern string) (string, error) {
	if err := os.MkdirAll(osfs.full(dir), 0o755); err != nil {
		return "", err
	}
	created, err := os.MkdirTemp(osfs.full(dir), pattern)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(osfs.root, created)
	if err != nil {
		return "", err
	}
	return "/" + strings.TrimPrefix(filepath.ToSlash(rel), "/"), nil
}
