package filesystem

import (
	"errors"
	"io/fs"
	"path"
	"strings"
)

// ReadFS defines the read side of a file system addressed by absolute paths
// such as /dev/mtd0 or /ramdisk/boot/image.bin.
type ReadFS interface {
	Open(name string) (fs.File, error)
	Stat(name string) (fs.FileInfo, error)
	ReadFile(name string) ([]byte, error)
	ReadDir(name string) ([]fs.DirEntry, error)
}

// WriteFS defines the interface for write operations on a file system.
type WriteFS interface {
	WriteFile(name string, data []byte, perm fs.FileMode) error
	MkdirAll(path string, perm fs.FileMode) error
	Remove(name string) error
	RemoveAll(name string) error
	// MkdirTemp creates a new directory below dir and returns its absolute path.
	MkdirTemp(dir, pattern string) (string, error)
}

// FileSystem combines read and write operations.
type FileSystem interface {
	ReadFS
	WriteFS
}

// Exists reports whether name can be stat'ed.
func Exists(fsys ReadFS, name string) bool {
	if name == "" {
		return false
	}
	_, err := fsys.Stat(name)
	return err == nil
}

// IsNotExist reports whether err means the path does not exist.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// unroot turns an absolute path into the slash-separated, unrooted form
// io/fs implementations expect.
func unroot(name string) string {
	clean := strings.TrimPrefix(path.Clean("/"+name), "/")
	if clean == "" {
		return "."
	}
	return clean
}
