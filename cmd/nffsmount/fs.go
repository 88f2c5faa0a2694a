// Adapter turning an *nffs.FS into a FUSE-mountable fuseutil.FileSystem.
//
// Modeled on github.com/jacobsa/fuse/samples/roloopbackfs, which exercises
// the op-based fuseutil.FileSystem interface end to end (Init/LookUpInode/
// .../ReadFile, each (ctx, *fuseops.XOp) error, dispatched via
// fuseutil.NewFileSystemServer). nffs's core API is path-oriented
// (Open/Mkdir/Unlink/Rename/ReadDir all take a path string), not
// inode-number oriented like FUSE requires, so this file's job is entirely
// the same one roloopbackfs's inode.go does for a real directory tree:
// hold a table mapping the FUSE-issued InodeID to a path, and re-derive
// attributes/listings through the path API on every call rather than
// caching a parallel inode tree.
package main

import (
	"context"
	"errors"
	"os"
	"path"
	"sync"
	"syscall"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/flashkv-labs/nffs"
)

// fuseAdapter is the fuseutil.FileSystem implementation. All of its own
// bookkeeping (the inode table) is guarded by mu; *nffs.FS has its own
// internal mutex so calls into fs are safe to make while mu is
// held or not.
type fuseAdapter struct {
	fuseutil.NotImplementedFileSystem

	fs *nffs.FS

	mu      sync.Mutex
	nodes   map[fuseops.InodeID]string // inode -> absolute path
	paths   map[string]fuseops.InodeID // absolute path -> inode, inverse of nodes
	nextID  fuseops.InodeID
	handles map[fuseops.HandleID]*nffs.Handle
	nextH   fuseops.HandleID

	uid, gid uint32
}

func newFuseAdapter(fs *nffs.FS, uid, gid uint32) *fuseAdapter {
	a := &fuseAdapter{
		fs:      fs,
		nodes:   map[fuseops.InodeID]string{fuseops.RootInodeID: "/"},
		paths:   map[string]fuseops.InodeID{"/": fuseops.RootInodeID},
		nextID:  fuseops.RootInodeID + 1,
		handles: map[fuseops.HandleID]*nffs.Handle{},
		nextH:   1,
		uid:     uid,
		gid:     gid,
	}
	return a
}

// inodeFor returns the existing inode ID for p, minting a fresh one if p
// hasn't been seen since mount (mirrors roloopbackfs's getOrCreateInode,
// but keyed by path instead of host inode number since nffs has no stable
// on-flash inode number surfaced to callers beyond the path API).
func (a *fuseAdapter) inodeFor(p string) fuseops.InodeID {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id, ok := a.paths[p]; ok {
		return id
	}
	id := a.nextID
	a.nextID++
	a.nodes[id] = p
	a.paths[p] = id
	return id
}

func (a *fuseAdapter) pathOf(id fuseops.InodeID) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.nodes[id]
	return p, ok
}

func join(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// stat derives POSIX-ish attributes for p from nffs's path-level API: a
// directory listing to classify parent-relative entries, or an open/length
// round trip for a file's size. There is no single "stat a path" operation
// in the core, so this composes the ones that exist,
// the same way cmd/nffsutil's ls/fsck do.
func (a *fuseAdapter) stat(p string) (isDir bool, size uint64, err error) {
	if p == "/" {
		return true, 0, nil
	}
	parent := path.Dir(p)
	name := path.Base(p)
	entries, err := a.fs.ReadDir(parent)
	if err != nil {
		return false, 0, err
	}
	for _, e := range entries {
		if e.Name != name {
			continue
		}
		if e.IsDir {
			return true, 0, nil
		}
		h, err := a.fs.Open(p, nffs.ReadFlag)
		if err != nil {
			return false, 0, err
		}
		defer a.fs.Close(h)
		length, err := a.fs.Length(h)
		if err != nil {
			return false, 0, err
		}
		return false, uint64(length), nil
	}
	return false, 0, syscall.ENOENT
}

func (a *fuseAdapter) attrsFor(p string) (fuseops.InodeAttributes, error) {
	isDir, size, err := a.stat(p)
	if err != nil {
		return fuseops.InodeAttributes{}, err
	}
	attrs := fuseops.InodeAttributes{
		Size:  size,
		Nlink: 1,
		Uid:   a.uid,
		Gid:   a.gid,
		Mtime: time.Now(),
	}
	if isDir {
		attrs.Mode = os.ModeDir | 0755
	} else {
		attrs.Mode = 0644
	}
	return attrs, nil
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case isNffsKind(err, nffs.ErrNotFound):
		return syscall.ENOENT
	case isNffsKind(err, nffs.ErrExists):
		return syscall.EEXIST
	case isNffsKind(err, nffs.ErrInvalid):
		return syscall.EINVAL
	case isNffsKind(err, nffs.ErrFull):
		return syscall.ENOSPC
	case isNffsKind(err, nffs.ErrCorrupt):
		return syscall.EIO
	default:
		return syscall.EIO
	}
}

func isNffsKind(err, target error) bool {
	return errors.Is(err, target)
}

////////////////////////////////////////////////////////////////////////
// fuseutil.FileSystem methods
////////////////////////////////////////////////////////////////////////

func (a *fuseAdapter) Init(ctx context.Context, op *fuseops.InitOp) error {
	return nil
}

func (a *fuseAdapter) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	parent, ok := a.pathOf(op.Parent)
	if !ok {
		return syscall.ENOENT
	}
	childPath := join(parent, op.Name)
	attrs, err := a.attrsFor(childPath)
	if err != nil {
		return translateErr(err)
	}
	op.Entry.Child = a.inodeFor(childPath)
	op.Entry.Attributes = attrs
	return nil
}

func (a *fuseAdapter) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	p, ok := a.pathOf(op.Inode)
	if !ok {
		return syscall.ENOENT
	}
	attrs, err := a.attrsFor(p)
	if err != nil {
		return translateErr(err)
	}
	op.Attributes = attrs
	return nil
}

func (a *fuseAdapter) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	p, ok := a.pathOf(op.Inode)
	if !ok {
		return syscall.ENOENT
	}
	if op.Size != nil {
		isDir, curSize, err := a.stat(p)
		if err != nil {
			return translateErr(err)
		}
		if isDir {
			return syscall.EISDIR
		}
		switch {
		case *op.Size == 0 && curSize != 0:
			if err := nffs.WriteFile(a.fs, p, nil); err != nil {
				return translateErr(err)
			}
		case *op.Size != curSize:
			// Partial truncation/extension has no equivalent in the core's
			// write engine, which only ever overlays or appends; only
			// truncate-to-zero, which Open's TruncateFlag already gives us,
			// is supported here.
			return syscall.ENOSYS
		}
	}
	attrs, err := a.attrsFor(p)
	if err != nil {
		return translateErr(err)
	}
	op.Attributes = attrs
	return nil
}

func (a *fuseAdapter) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if op.ID == fuseops.RootInodeID {
		return nil
	}
	if p, ok := a.nodes[op.ID]; ok {
		delete(a.nodes, op.ID)
		delete(a.paths, p)
	}
	return nil
}

func (a *fuseAdapter) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	parent, ok := a.pathOf(op.Parent)
	if !ok {
		return syscall.ENOENT
	}
	childPath := join(parent, op.Name)
	if err := a.fs.Mkdir(childPath); err != nil {
		return translateErr(err)
	}
	attrs, err := a.attrsFor(childPath)
	if err != nil {
		return translateErr(err)
	}
	op.Entry.Child = a.inodeFor(childPath)
	op.Entry.Attributes = attrs
	return nil
}

func (a *fuseAdapter) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	parent, ok := a.pathOf(op.Parent)
	if !ok {
		return syscall.ENOENT
	}
	childPath := join(parent, op.Name)
	if _, _, err := a.stat(childPath); err == nil {
		return syscall.EEXIST
	}
	h, err := a.fs.Open(childPath, nffs.ReadFlag|nffs.WriteFlag)
	if err != nil {
		return translateErr(err)
	}
	attrs, err := a.attrsFor(childPath)
	if err != nil {
		a.fs.Close(h)
		return translateErr(err)
	}
	op.Entry.Child = a.inodeFor(childPath)
	op.Entry.Attributes = attrs

	a.mu.Lock()
	hid := a.nextH
	a.nextH++
	a.handles[hid] = h
	a.mu.Unlock()
	op.Handle = hid
	return nil
}

func (a *fuseAdapter) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	parent, ok := a.pathOf(op.Parent)
	if !ok {
		return syscall.ENOENT
	}
	childPath := join(parent, op.Name)
	isDir, _, err := a.stat(childPath)
	if err != nil {
		return translateErr(err)
	}
	if !isDir {
		return syscall.ENOTDIR
	}
	entries, err := a.fs.ReadDir(childPath)
	if err != nil {
		return translateErr(err)
	}
	if len(entries) != 0 {
		return syscall.ENOTEMPTY
	}
	if err := a.fs.Unlink(childPath); err != nil {
		return translateErr(err)
	}
	return nil
}

func (a *fuseAdapter) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	parent, ok := a.pathOf(op.Parent)
	if !ok {
		return syscall.ENOENT
	}
	childPath := join(parent, op.Name)
	isDir, _, err := a.stat(childPath)
	if err != nil {
		return translateErr(err)
	}
	if isDir {
		return syscall.EISDIR
	}
	if err := a.fs.Unlink(childPath); err != nil {
		return translateErr(err)
	}
	return nil
}

func (a *fuseAdapter) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	p, ok := a.pathOf(op.Inode)
	if !ok {
		return syscall.ENOENT
	}
	isDir, _, err := a.stat(p)
	if err != nil {
		return translateErr(err)
	}
	if !isDir {
		return syscall.ENOTDIR
	}
	return nil
}

func (a *fuseAdapter) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	p, ok := a.pathOf(op.Inode)
	if !ok {
		return syscall.ENOENT
	}
	entries, err := a.fs.ReadDir(p)
	if err != nil {
		return translateErr(err)
	}

	dirents := make([]fuseutil.Dirent, 0, len(entries)+2)
	dirents = append(dirents, fuseutil.Dirent{Offset: 1, Inode: op.Inode, Name: ".", Type: fuseutil.DT_Directory})
	dirents = append(dirents, fuseutil.Dirent{Offset: 2, Inode: a.inodeFor(path.Dir(p)), Name: "..", Type: fuseutil.DT_Directory})
	for i, e := range entries {
		typ := fuseutil.DT_File
		if e.IsDir {
			typ = fuseutil.DT_Directory
		}
		dirents = append(dirents, fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 3),
			Inode:  a.inodeFor(join(p, e.Name)),
			Name:   e.Name,
			Type:   typ,
		})
	}

	if int(op.Offset) > len(dirents) {
		return nil
	}
	for _, d := range dirents[op.Offset:] {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], d)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (a *fuseAdapter) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	return nil
}

func (a *fuseAdapter) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	p, ok := a.pathOf(op.Inode)
	if !ok {
		return syscall.ENOENT
	}
	h, err := a.fs.Open(p, nffs.ReadFlag|nffs.WriteFlag)
	if err != nil {
		return translateErr(err)
	}
	a.mu.Lock()
	hid := a.nextH
	a.nextH++
	a.handles[hid] = h
	a.mu.Unlock()
	op.Handle = hid
	return nil
}

func (a *fuseAdapter) handle(id fuseops.HandleID) (*nffs.Handle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.handles[id]
	return h, ok
}

func (a *fuseAdapter) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	h, ok := a.handle(op.Handle)
	if !ok {
		return syscall.EBADF
	}
	if err := a.fs.Seek(h, uint32(op.Offset)); err != nil {
		return translateErr(err)
	}
	n, err := a.fs.Read(h, op.Dst)
	if err != nil {
		return translateErr(err)
	}
	op.BytesRead = n
	return nil
}

func (a *fuseAdapter) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	h, ok := a.handle(op.Handle)
	if !ok {
		return syscall.EBADF
	}
	if err := a.fs.Seek(h, uint32(op.Offset)); err != nil {
		return translateErr(err)
	}
	if _, err := a.fs.Write(h, op.Data); err != nil {
		return translateErr(err)
	}
	return nil
}

func (a *fuseAdapter) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	// Every nffs.Write commits to flash before returning; there is no
	// write-back cache to flush.
	return nil
}

func (a *fuseAdapter) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	return nil
}

func (a *fuseAdapter) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	a.mu.Lock()
	h, ok := a.handles[op.Handle]
	delete(a.handles, op.Handle)
	a.mu.Unlock()
	if !ok {
		return nil
	}
	return a.fs.Close(h)
}
