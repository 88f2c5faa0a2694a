package nffs

import "sync"

// FS is a mounted flash filesystem. All entry points acquire mu for their
// full duration, mirroring the single global lock the original
// implementation serializes operations under.
type FS struct {
	mu sync.Mutex

	dev   FlashDevice
	areas *areaManager
	hash  *hashIndex
	cache *blockCache
	gc    *gcState

	dirIDs   *idAllocator
	fileIDs  *idAllocator
	blockIDs *idAllocator

	bucketHint     int
	blockMaxDataSz uint32
	gcHeadroom     uint32

	ready bool
}

const defaultBlockMaxDataSz = 2048

// New constructs an unattached FS bound to dev. Call Format or Detect
// before any other operation.
func New(dev FlashDevice, opts ...Option) (*FS, error) {
	fs := &FS{
		dev:            dev,
		blockMaxDataSz: defaultBlockMaxDataSz,
	}
	fs.gc = &gcState{fs: fs}
	for _, opt := range opts {
		if err := opt(fs); err != nil {
			return nil, err
		}
	}
	return fs, nil
}

// Format erases every described area, lays down fresh area headers (the
// last area becomes scratch), and creates the root directory.
func (fs *FS) Format(descs []AreaDescriptor) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if len(descs) < 2 {
		return newErr("format", KindInvalid, nil)
	}
	areas := make([]*Area, len(descs))
	for i, d := range descs {
		areas[i] = &Area{region: i, offset: d.Offset, length: d.Length}
	}
	fs.areas = &areaManager{dev: fs.dev, areas: areas, fs: fs}

	for i, a := range areas {
		gcSeq := uint8(0)
		id := uint16(i)
		if i == len(areas)-1 {
			id = scratchAreaID
		}
		if err := fs.areas.formatArea(i, id, gcSeq); err != nil {
			_ = a
			return err
		}
	}

	fs.resetRuntimeState()

	root := &inodeEntry{
		id:        rootDirID,
		loc:       locNone,
		isDir:     true,
		flags:     flagDirectory,
		parent:    idNone,
		lastBlock: idNone,
		refcnt:    1,
	}
	rec := &inodeRecord{id: rootDirID, seq: 0, parentID: idNone, flags: flagDirectory}
	areaIdx, offset, err := fs.reserveAndWriteInode(rec)
	if err != nil {
		return err
	}
	root.loc = makeFlashLoc(areaIdx, offset)
	fs.hash.putInode(root)
	fs.dirIDs.observe(rootDirID)

	fs.ready = true
	return nil
}

// Detect mounts an existing flash image by scanning every area and
// restoring in-memory state.
func (fs *FS) Detect(descs []AreaDescriptor) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if len(descs) < 2 {
		return newErr("detect", KindInvalid, nil)
	}
	areas := make([]*Area, len(descs))
	for i, d := range descs {
		areas[i] = &Area{region: i, offset: d.Offset, length: d.Length}
	}
	fs.areas = &areaManager{dev: fs.dev, areas: areas, fs: fs}
	fs.resetRuntimeState()

	if err := restore(fs, descs); err != nil {
		fs.ready = false
		return err
	}
	fs.ready = true
	return nil
}

func (fs *FS) resetRuntimeState() {
	fs.hash = newHashIndex(fs.bucketHint)
	fs.cache = newBlockCache(defaultCacheInodes, defaultCacheBlocksPerInode)
	fs.dirIDs = newIDAllocator(kindDir)
	fs.fileIDs = newIDAllocator(kindFile)
	fs.blockIDs = newIDAllocator(kindBlock)
}

// Ready reports whether Format or Detect has successfully completed.
func (fs *FS) Ready() bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.ready
}

func (fs *FS) requireReady(op string) error {
	if !fs.ready {
		return newErr(op, KindUninitialized, nil)
	}
	return nil
}

// Mkdir creates a directory at path, whose parent must already exist.
func (fs *FS) Mkdir(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.requireReady("mkdir"); err != nil {
		return err
	}
	inode, parent, leaf, err := fs.find(path)
	if err != nil {
		return err
	}
	if inode != nil {
		return ErrExists
	}
	if parent == nil {
		return newErr("mkdir", KindInvalid, nil)
	}
	_, err = fs.createInode(parent, leaf, true)
	return err
}

// Unlink removes a file or directory (and, for a directory, everything
// beneath it) from the namespace.
func (fs *FS) Unlink(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.requireReady("unlink"); err != nil {
		return err
	}
	if path == "/" {
		return newErr("unlink", KindInvalid, nil)
	}
	inode, parent, _, err := fs.find(path)
	if err != nil {
		return err
	}
	if inode == nil {
		return ErrNotFound
	}
	return fs.unlink(inode, parent)
}

// Rename moves oldPath to newPath, optionally across directories (spec
// §4.5 "Rename").
func (fs *FS) Rename(oldPath, newPath string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.requireReady("rename"); err != nil {
		return err
	}
	if oldPath == "/" {
		return newErr("rename", KindInvalid, nil)
	}
	entry, oldParent, _, err := fs.find(oldPath)
	if err != nil {
		return err
	}
	if entry == nil {
		return ErrNotFound
	}
	newInode, newParent, newLeaf, err := fs.find(newPath)
	if err != nil {
		return err
	}
	if newInode != nil {
		return ErrExists
	}
	if newParent == nil {
		return newErr("rename", KindInvalid, nil)
	}
	return fs.renameInode(entry, oldParent, newParent, newLeaf)
}
