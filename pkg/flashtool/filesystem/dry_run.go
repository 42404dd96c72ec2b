package filesystem

import (
	"io/fs"
	"path"
	"sort"
)

// DryRunFS is a filesystem wrapper that simulates writes without touching
// the underlying filesystem. Reads see the base filesystem with every
// simulated change applied on top; writes land in an in-memory overlay.
type DryRunFS struct {
	base    ReadFS
	overlay *TestFileSystem
	removed map[string]bool
}

// NewDryRunFS creates a DryRunFS reading through to base.
func NewDryRunFS(base ReadFS) *DryRunFS {
	return &DryRunFS{
		base:    base,
		overlay: NewTestFileSystem(),
		removed: make(map[string]bool),
	}
}

// inOverlay reports whether name was written during the dry run.
func (d *DryRunFS) inOverlay(name string) bool {
	_, err := d.overlay.Stat(name)
	return err == nil
}

// hidden reports whether name or one of its parents was removed.
func (d *DryRunFS) hidden(name string) bool {
	for key := unroot(name); ; key = path.Dir(key) {
		if d.removed[key] {
			return true
		}
		if key == "." {
			return false
		}
	}
}

func notExist(op, name string) error {
	return &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
}

// Open implements ReadFS
func (d *DryRunFS) Open(name string) (fs.File, error) {
	if d.inOverlay(name) {
		return d.overlay.Open(name)
	}
	if d.hidden(name) {
		return nil, notExist("open", name)
	}
	return d.base.Open(name)
}

// Stat implements ReadFS
func (d *DryRunFS) Stat(name string) (fs.FileInfo, error) {
	if info, err := d.overlay.Stat(name); err == nil {
		return info, nil
	}
	if d.hidden(name) {
		return nil, notExist("stat", name)
	}
	return d.base.Stat(name)
}

// ReadFile implements ReadFS
func (d *DryRunFS) ReadFile(name string) ([]byte, error) {
	if d.inOverlay(name) {
		return d.overlay.ReadFile(name)
	}
	if d.hidden(name) {
		return nil, notExist("readfile", name)
	}
	return d.base.ReadFile(name)
}

// ReadDir implements ReadFS. Entries from both layers are merged by name.
func (d *DryRunFS) ReadDir(name string) ([]fs.DirEntry, error) {
	merged := make(map[string]fs.DirEntry)
	overlayEntries, overlayErr := d.overlay.ReadDir(name)
	for _, e := range overlayEntries {
		merged[e.Name()] = e
	}
	var baseErr error = notExist("readdir", name)
	if !d.hidden(name) {
		var baseEntries []fs.DirEntry
		baseEntries, baseErr = d.base.ReadDir(name)
		for _, e := range baseEntries {
			if _, ok := merged[e.Name()]; ok || d.hidden(path.Join(name, e.Name())) {
				continue
			}
			merged[e.Name()] = e
		}
	}
	if overlayErr != nil && baseErr != nil {
		return nil, baseErr
	}

	out := make([]fs.DirEntry, 0, len(merged))
	for _, e := range merged {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

// WriteFile implements WriteFS. The parent directory must exist in the
// simulated view.
func (d *DryRunFS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	if parent := path.Dir(path.Join("/", unroot(name))); parent != "/" {
		info, err := d.Stat(parent)
		if err != nil || !info.IsDir() {
			return notExist("writefile", name)
		}
		if err := d.overlay.MkdirAll(parent, info.Mode().Perm()); err != nil {
			return err
		}
	}
	return d.overlay.WriteFile(name, data, perm)
}

// MkdirAll implements WriteFS
func (d *DryRunFS) MkdirAll(p string, perm fs.FileMode) error {
	if info, err := d.Stat(p); err == nil && !info.IsDir() {
		return &fs.PathError{Op: "mkdirall", Path: p, Err: fs.ErrExist}
	}
	return d.overlay.MkdirAll(p, perm)
}

// Remove implements WriteFS
func (d *DryRunFS) Remove(name string) error {
	if _, err := d.Stat(name); err != nil {
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrNotExist}
	}
	_ = d.overlay.Remove(name)
	d.removed[unroot(name)] = true
	return nil
}

// RemoveAll implements WriteFS
func (d *DryRunFS) RemoveAll(name string) error {
	if err := d.overlay.RemoveAll(name); err != nil {
		return err
	}
	d.removed[unroot(name)] = true
	return nil
}

// MkdirTemp implements WriteFS
func (d *DryRunFS) MkdirTemp(dir, pattern string) (string, error) {
	return d.overlay.MkdirTemp(dir, pattern)
}

// Written lists the paths the dry run would have created or changed.
func (d *DryRunFS) Written() []string {
	out := d.overlay.Paths()
	sort.Strings(out)
	return out
}

// Removed lists the paths the dry run would have deleted.
func (d *DryRunFS) Removed() []string {
	out := make([]string, 0, len(d.removed))
	for key := range d.removed {
		out = append(out, path.Join("/", key))
	}
	sort.Strings(out)
	return out
}
