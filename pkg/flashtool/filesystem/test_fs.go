package filesystem

import (
	"fmt"
	"io/fs"
	"path"
	"strings"
	"testing/fstest"
)

// TestFileSystem extends fstest.MapFS to implement FileSystem so device
// nodes, images and mountpoints can be faked in unit tests.
type TestFileSystem struct {
	fstest.MapFS
	tempSeq int
}

// NewTestFileSystem creates a new empty test filesystem
func NewTestFileSystem() *TestFileSystem {
	return &TestFileSystem{MapFS: make(fstest.MapFS)}
}

// AddFile creates a file at an absolute path.
func (tfs *TestFileSystem) AddFile(name string, data []byte) *TestFileSystem {
	tfs.MapFS[unroot(name)] = &fstest.MapFile{Data: data, Mode: 0o644}
	return tfs
}

// AddDevice creates an empty placeholder for a device node.
func (tfs *TestFileSystem) AddDevice(name string) *TestFileSystem {
	tfs.MapFS[unroot(name)] = &fstest.MapFile{Mode: fs.ModeDevice | 0o660}
	return tfs
}

// AddDir creates a directory at an absolute path.
func (tfs *TestFileSystem) AddDir(name string) *TestFileSystem {
	tfs.MapFS[unroot(name)] = &fstest.MapFile{Mode: fs.ModeDir | 0o755}
	return tfs
}

// Open implements ReadFS
func (tfs *TestFileSystem) Open(name string) (fs.File, error) {
	return tfs.MapFS.Open(unroot(name))
}

// Stat implements ReadFS
func (tfs *TestFileSystem) Stat(name string) (fs.FileInfo, error) {
	return tfs.MapFS.Stat(unroot(name))
}

// ReadFile implements ReadFS
func (tfs *TestFileSystem) ReadFile(name string) ([]byte, error) {
	return tfs.MapFS.ReadFile(unroot(name))
}

// ReadDir implements ReadFS
func (tfs *TestFileSystem) ReadDir(name string) ([]fs.DirEntry, error) {
	return tfs.MapFS.ReadDir(unroot(name))
}

// WriteFile implements WriteFS
func (tfs *TestFileSystem) WriteFile(name string, data []byte, perm fs.FileMode) error {
	key := unroot(name)
	if dir := path.Dir(key); dir != "." {
		if _, err := tfs.MapFS.Stat(dir); err != nil {
			return &fs.PathError{Op: "writefile", Path: name, Err: fs.ErrNotExist}
		}
	}
	tfs.MapFS[key] = &fstest.MapFile{Data: append([]byte(nil), data...), Mode: perm}
	return nil
}

// MkdirAll implements WriteFS
func (tfs *TestFileSystem) MkdirAll(p string, perm fs.FileMode) error {
	key := unroot(p)
	if key == "." {
		return nil
	}
	if f, ok := tfs.MapFS[key]; ok && !f.Mode.IsDir() {
		return &fs.PathError{Op: "mkdirall", Path: p, Err: fs.ErrExist}
	}
	tfs.MapFS[key] = &fstest.MapFile{Mode: perm | fs.ModeDir}
	return nil
}

// Remove implements WriteFS
func (tfs *TestFileSystem) Remove(name string) error {
	key := unroot(name)
	if _, exists := tfs.MapFS[key]; !exists {
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrNotExist}
	}
	delete(tfs.MapFS, key)
	return nil
}

// RemoveAll implements WriteFS
func (tfs *TestFileSystem) RemoveAll(name string) error {
	key := unroot(name)
	for p := range tfs.MapFS {
		if p == key || isSubPath(key, p) {
			delete(tfs.MapFS, p)
		}
	}
	return nil
}

// MkdirTemp implements WriteFS with deterministic names: <dir>/<pattern-without-*><n>.
func (tfs *TestFileSystem) MkdirTemp(dir, pattern string) (string, error) {
	tfs.tempSeq++
	name := strings.Replace(pattern, "*", "", 1)
	created := path.Join("/", unroot(dir), fmt.Sprintf("%s%d", name, tfs.tempSeq))
	return created, tfs.MkdirAll(created, 0o700)
}

// Paths lists every stored path in absolute form.
func (tfs *TestFileSystem) Paths() []string {
	out := make([]string, 0, len(tfs.MapFS))
	for p := range tfs.MapFS {
		out = append(out, "/"+p)
	}
	return out
}

// isSubPath returns true if child is below parent
func isSubPath(parent, child string) bool {
	if parent == "" || parent == "." {
		return true
	}
	return strings.HasPrefix(child, parent+"/")
}
