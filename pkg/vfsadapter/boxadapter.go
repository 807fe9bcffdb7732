package vfsadapter

import (
	"fmt"
	"sort"
	"syscall"
	"time"

	"github.com/boxfs/boxfs/pkg/boxerr"
	"github.com/boxfs/boxfs/pkg/box"
	"github.com/boxfs/boxfs/pkg/bxdir"
	"github.com/boxfs/boxfs/pkg/bxfile"
	"github.com/boxfs/boxfs/pkg/odb"
)

// BoxAdapter implements FileSystem over a single *box.Box's working
// tree, using the box's own handle table for open file descriptors.
type BoxAdapter struct {
	box *box.Box
}

// New wraps b as a FileSystem.
func New(b *box.Box) *BoxAdapter { return &BoxAdapter{box: b} }

func modeToStat(m uint32) uint32 {
	switch m {
	case odb.ModeDir:
		return syscall.S_IFDIR | 0o755
	case odb.ModeSymlink:
		return syscall.S_IFLNK | 0o777
	case odb.ModeExecutable:
		return syscall.S_IFREG | 0o755
	default:
		return syscall.S_IFREG | 0o644
	}
}

func (a *BoxAdapter) resolve(path string) (bxdir.Entry, *bxdir.Directory, error) {
	root, err := a.box.Root()
	if err != nil {
		return bxdir.Entry{}, nil, err
	}
	return root.Get(splitPath(path))
}

// GetAttr reports the entry's mode and, for a regular file, its
// manifest-derived size; directories report zero size.
func (a *BoxAdapter) GetAttr(path string) (Stat, error) {
	entry, dir, err := a.resolve(path)
	if err != nil {
		return Stat{}, err
	}
	if entry.IsDir() {
		mtime := time.Now()
		if dir != nil {
			mtime = dir.Mtime()
		}
		return Stat{Mode: modeToStat(entry.Mode), Mtime: mtime}, nil
	}

	size, mtime, err := a.fileSizeAndMtime(entry)
	if err != nil {
		return Stat{}, err
	}
	return Stat{Mode: modeToStat(entry.Mode), Size: size, Mtime: mtime}, nil
}

func (a *BoxAdapter) fileSizeAndMtime(entry bxdir.Entry) (int64, time.Time, error) {
	store := a.box.Store()
	blob, err := store.GetBlob(entry.Hash)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("vfsadapter: getattr: %w", err)
	}
	manifest, err := bxfile.UnmarshalManifest(blob.Data)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("vfsadapter: getattr: %w", err)
	}
	f := bxfile.Open(store, manifest)
	return f.Len(), f.Mtime(), nil
}

// ReadDir lists the names of path's immediate children.
func (a *BoxAdapter) ReadDir(path string) ([]string, error) {
	_, dir, err := a.resolve(path)
	if err != nil {
		return nil, err
	}
	if dir == nil {
		return nil, fmt.Errorf("vfsadapter: readdir %q: %w", path, boxerr.ErrNotADirectory)
	}
	children, err := dir.Iterate()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(children))
	for _, c := range children {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names, nil
}

// Open loads path's current content into a fresh bxfile.File and
// registers it as an open handle.
func (a *BoxAdapter) Open(path string) (int, error) {
	entry, dir, err := a.resolve(path)
	if err != nil {
		return 0, err
	}
	if dir != nil {
		return 0, fmt.Errorf("vfsadapter: open %q: is a directory", path)
	}

	store := a.box.Store()
	var f *bxfile.File
	if entry.Hash.IsZero() {
		f = bxfile.New(store)
	} else {
		blob, err := store.GetBlob(entry.Hash)
		if err != nil {
			return 0, fmt.Errorf("vfsadapter: open %q: %w", path, err)
		}
		manifest, err := bxfile.UnmarshalManifest(blob.Data)
		if err != nil {
			return 0, fmt.Errorf("vfsadapter: open %q: %w", path, err)
		}
		f = bxfile.Open(store, manifest)
	}
	return a.box.OpenFile(splitPath(path), f), nil
}

// Create makes a new, empty file entry at path and opens it.
func (a *BoxAdapter) Create(path string, mode uint32) (int, error) {
	if err := a.mknod(path, mode); err != nil {
		return 0, err
	}
	return a.Open(path)
}

func (a *BoxAdapter) mknod(path string, mode uint32) error {
	root, err := a.box.Root()
	if err != nil {
		return err
	}
	return root.Set(splitPath(path), bxdir.Entry{Mode: fileModeFor(mode)})
}

func fileModeFor(mode uint32) uint32 {
	if mode&0o111 != 0 {
		return odb.ModeExecutable
	}
	return odb.ModeFile
}

// Mknod creates an empty file entry without opening it.
func (a *BoxAdapter) Mknod(path string, mode uint32) error {
	return a.mknod(path, mode)
}

func (a *BoxAdapter) handle(id int) (*box.Handle, error) {
	h, ok := a.box.Handle(id)
	if !ok {
		return nil, fmt.Errorf("vfsadapter: handle %d: %w", id, boxerr.ErrNoSuchChild)
	}
	return h, nil
}

// Read fills buf from handle's file starting at offset.
func (a *BoxAdapter) Read(handle int, offset int64, buf []byte) (int, error) {
	h, err := a.handle(handle)
	if err != nil {
		return 0, err
	}
	h.File.Seek(offset)
	return h.File.Read(buf)
}

// Write stores buf into handle's file starting at offset.
func (a *BoxAdapter) Write(handle int, offset int64, buf []byte) (int, error) {
	h, err := a.handle(handle)
	if err != nil {
		return 0, err
	}
	h.File.Seek(offset)
	return h.File.Write(buf)
}

// Truncate resizes handle's file in place; the new length is not
// visible in the directory tree until Fsync or Release flushes it.
func (a *BoxAdapter) Truncate(handle int, size int64) error {
	h, err := a.handle(handle)
	if err != nil {
		return err
	}
	return h.File.Truncate(size)
}

// Unlink removes a file entry.
func (a *BoxAdapter) Unlink(path string) error {
	entry, dir, err := a.resolve(path)
	if err != nil {
		return err
	}
	if dir != nil || entry.IsDir() {
		return fmt.Errorf("vfsadapter: unlink %q: is a directory", path)
	}
	root, err := a.box.Root()
	if err != nil {
		return err
	}
	return root.Del(splitPath(path))
}

// Rmdir removes an empty directory entry.
func (a *BoxAdapter) Rmdir(path string) error {
	_, dir, err := a.resolve(path)
	if err != nil {
		return err
	}
	if dir == nil {
		return fmt.Errorf("vfsadapter: rmdir %q: %w", path, boxerr.ErrNotADirectory)
	}
	children, err := dir.Iterate()
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return fmt.Errorf("vfsadapter: rmdir %q: directory not empty", path)
	}
	root, err := a.box.Root()
	if err != nil {
		return err
	}
	return root.Del(splitPath(path))
}

// Rename moves the entry at oldPath to newPath, preserving its
// subdirectory if it is one, then removes the old entry.
func (a *BoxAdapter) Rename(oldPath, newPath string) error {
	entry, dir, err := a.resolve(oldPath)
	if err != nil {
		return err
	}
	root, err := a.box.Root()
	if err != nil {
		return err
	}
	if dir != nil {
		if err := root.SetSubdir(splitPath(newPath), dir); err != nil {
			return err
		}
	} else if err := root.Set(splitPath(newPath), entry); err != nil {
		return err
	}
	return root.Del(splitPath(oldPath))
}

// Chmod updates an entry's mode in place, preserving its content hash
// and directory-ness.
func (a *BoxAdapter) Chmod(path string, mode uint32) error {
	entry, dir, err := a.resolve(path)
	if err != nil {
		return err
	}
	if dir != nil {
		return nil // directory permission bits aren't modeled separately
	}
	root, err := a.box.Root()
	if err != nil {
		return err
	}
	entry.Mode = fileModeFor(mode)
	return root.Set(splitPath(path), entry)
}

// Symlink stores target as the content of a new symlink entry at link.
func (a *BoxAdapter) Symlink(target, link string) error {
	store := a.box.Store()
	h, err := store.PutBlob(&odb.Blob{Data: []byte(target)})
	if err != nil {
		return fmt.Errorf("vfsadapter: symlink %q: %w", link, err)
	}
	root, err := a.box.Root()
	if err != nil {
		return err
	}
	return root.Set(splitPath(link), bxdir.Entry{Mode: odb.ModeSymlink, Hash: h})
}

// Readlink returns a symlink entry's target.
func (a *BoxAdapter) Readlink(path string) (string, error) {
	entry, _, err := a.resolve(path)
	if err != nil {
		return "", err
	}
	if entry.Mode != odb.ModeSymlink {
		return "", fmt.Errorf("vfsadapter: readlink %q: %w", path, errUnsupportedLink)
	}
	blob, err := a.box.Store().GetBlob(entry.Hash)
	if err != nil {
		return "", fmt.Errorf("vfsadapter: readlink %q: %w", path, err)
	}
	return string(blob.Data), nil
}

// Utimens is a no-op: entry mtimes are derived from content writes,
// not settable independently.
func (a *BoxAdapter) Utimens(path string, atime, mtime time.Time) error {
	_, _, err := a.resolve(path)
	return err
}

// Fsync flushes handle's file to the object store and updates the
// directory entry to point at the new manifest.
func (a *BoxAdapter) Fsync(handle int) error {
	h, err := a.handle(handle)
	if err != nil {
		return err
	}
	return a.flushHandle(h)
}

func (a *BoxAdapter) flushHandle(h *box.Handle) error {
	manifestHash, _, err := h.File.Flush()
	if err != nil {
		return fmt.Errorf("vfsadapter: flush %q: %w", h.Path, err)
	}
	root, err := a.box.Root()
	if err != nil {
		return err
	}
	mode := odb.ModeFile
	if entry, _, err := root.Get(h.Path); err == nil && entry.Mode == odb.ModeExecutable {
		mode = odb.ModeExecutable
	}
	return root.Set(h.Path, bxdir.Entry{Mode: mode, Hash: manifestHash})
}

// Release flushes handle's file and closes it.
func (a *BoxAdapter) Release(handle int) error {
	h, err := a.handle(handle)
	if err != nil {
		return err
	}
	err = a.flushHandle(h)
	a.box.CloseFile(handle)
	return err
}

var _ FileSystem = (*BoxAdapter)(nil)
