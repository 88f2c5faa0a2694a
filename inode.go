package nffs

// createInode allocates a fresh id, reserves and writes its inode record,
// and links it into the hash index and its parent's child list. The new
// entry's refcount is 1.
func (fs *FS) createInode(parent *inodeEntry, name []byte, isDir bool) (*inodeEntry, error) {
	if len(name) > maxFilenameLen {
		return nil, newErr("create", KindInvalid, nil)
	}
	if _, exists, err := fs.findChildByName(parent, name); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrExists
	}

	var id objID
	var err error
	var flags inodeFlags
	if isDir {
		id, err = fs.dirIDs.allocate()
		flags = flagDirectory
	} else {
		id, err = fs.fileIDs.allocate()
	}
	if err != nil {
		return nil, err
	}

	rec := &inodeRecord{id: id, seq: 0, parentID: parent.id, flags: flags, filename: name}
	areaIdx, offset, err := fs.reserveAndWriteInode(rec)
	if err != nil {
		return nil, err
	}

	prefix, nlen := makeNamePrefix(name)
	entry := &inodeEntry{
		id:         id,
		loc:        makeFlashLoc(areaIdx, offset),
		seq:        0,
		isDir:      isDir,
		flags:      flags,
		parent:     parent.id,
		lastBlock:  idNone,
		refcnt:     1,
		namePrefix: prefix,
		nameLen:    nlen,
	}
	fs.hash.putInode(entry)
	if err := fs.insertChild(parent, id, name); err != nil {
		fs.hash.deleteInode(id)
		return nil, err
	}
	return entry, nil
}

// reserveAndWriteInode reserves flash space for the encoded record and
// writes it, returning where it landed.
func (fs *FS) reserveAndWriteInode(rec *inodeRecord) (int, uint32, error) {
	buf := encodeInodeRecord(rec)
	areaIdx, _, err := fs.areas.reserve(uint32(len(buf)))
	if err != nil {
		return 0, 0, err
	}
	offset, err := fs.areas.write(areaIdx, buf)
	if err != nil {
		return 0, 0, err
	}
	return areaIdx, offset, nil
}

// renameInode writes a new record for the same id with seq+1, an updated
// parent and filename, relocates the hash entry, and re-sorts it into the
// destination directory's child list.
func (fs *FS) renameInode(entry *inodeEntry, oldParent, newParent *inodeEntry, newName []byte) error {
	if len(newName) > maxFilenameLen {
		return newErr("rename", KindInvalid, nil)
	}
	if entry.isDir && fs.isAncestor(entry, newParent.id) {
		return newErr("rename", KindInvalid, nil)
	}
	if _, exists, err := fs.findChildByName(newParent, newName); err != nil {
		return err
	} else if exists {
		return ErrExists
	}

	rec := &inodeRecord{id: entry.id, seq: entry.seq + 1, parentID: newParent.id, flags: entry.flags, filename: newName}
	areaIdx, offset, err := fs.reserveAndWriteInode(rec)
	if err != nil {
		return err
	}

	fs.removeChild(oldParent, entry.id)
	if err := fs.insertChild(newParent, entry.id, newName); err != nil {
		// best effort: put it back where it was to avoid losing the entry
		oldName := mustFilename(fs, entry)
		fs.insertChild(oldParent, entry.id, oldName)
		return err
	}

	entry.loc = makeFlashLoc(areaIdx, offset)
	entry.seq = rec.seq
	entry.parent = newParent.id
	entry.namePrefix, entry.nameLen = makeNamePrefix(newName)
	return nil
}

func mustFilename(fs *FS, e *inodeEntry) []byte {
	name, err := fs.entryFilename(e)
	if err != nil {
		return nil
	}
	return name
}

// writeDeleteRecord writes an inode record with seq+1, parent_id=none, and
// an empty filename, with the deleted flag set.
func (fs *FS) writeDeleteRecord(entry *inodeEntry) error {
	rec := &inodeRecord{
		id:       entry.id,
		seq:      entry.seq + 1,
		parentID: idNone,
		flags:    entry.flags | flagDeleted,
		filename: nil,
	}
	areaIdx, offset, err := fs.reserveAndWriteInode(rec)
	if err != nil {
		return err
	}
	entry.loc = makeFlashLoc(areaIdx, offset)
	entry.seq = rec.seq
	entry.flags |= flagDeleted
	entry.namePrefix, entry.nameLen = makeNamePrefix(nil)
	return nil
}

// unlink removes the on-flash record for both files and directories.
// oldParent is nil only for the root, which can never be unlinked (callers
// must reject that earlier).
func (fs *FS) unlink(entry *inodeEntry, oldParent *inodeEntry) error {
	if err := fs.writeDeleteRecord(entry); err != nil {
		return err
	}
	if oldParent != nil {
		fs.removeChild(oldParent, entry.id)
	}
	entry.parent = idNone
	fs.releaseSubtree(entry)
	return nil
}

// releaseSubtree walks an unlinked directory's descendants breadth-first
// (directories are queued for deletion, to avoid unbounded stack depth)
// decrementing file refcounts and freeing directories from RAM immediately,
// since only open file handles -- not parent linkage -- keep an inode
// resident after unlink.
func (fs *FS) releaseSubtree(entry *inodeEntry) {
	if !entry.isDir {
		fs.releaseFileRef(entry)
		return
	}
	queue := []objID{entry.id}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		e, ok := fs.hash.getInode(id)
		if !ok {
			continue
		}
		children := append([]objID(nil), e.children...)
		for _, c := range children {
			ce, ok := fs.hash.getInode(c)
			if !ok {
				continue
			}
			if ce.isDir {
				queue = append(queue, c)
			} else {
				ce.parent = idNone
				fs.releaseFileRef(ce)
			}
		}
		e.children = nil
		fs.cache.evictInode(id)
		fs.hash.deleteInode(id)
	}
}

// releaseFileRef drops the parent-linkage share of a file's refcount. The
// file is freed from RAM only once its refcount (open handle count) also
// reaches zero.
func (fs *FS) releaseFileRef(e *inodeEntry) {
	if e.refcnt > 0 {
		e.refcnt--
	}
	if e.refcnt == 0 {
		fs.freeFileFromRAM(e)
	}
}

// freeFileFromRAM drops a file's block chain and cache state from memory.
// It never touches flash: the records remain until GC reclaims their area.
func (fs *FS) freeFileFromRAM(e *inodeEntry) {
	cur := e.lastBlock
	for !cur.isNone() {
		be, ok := fs.hash.getBlock(cur)
		if !ok {
			break
		}
		next := be.prev
		fs.hash.deleteBlock(cur)
		cur = next
	}
	fs.cache.evictInode(e.id)
	fs.hash.deleteInode(e.id)
}

// closeRef decrements a file's open-handle refcount and frees it from RAM
// if it was already unlinked and this was the last handle.
func (fs *FS) closeRef(e *inodeEntry) {
	if e.refcnt > 0 {
		e.refcnt--
	}
	if e.refcnt == 0 && e.parent.isNone() {
		fs.freeFileFromRAM(e)
	}
}
