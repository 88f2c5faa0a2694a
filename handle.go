package nffs

// Handle is an open reference to a file, returned by Open. Every FS
// entry point that takes a Handle runs under the FS mutex, but a Handle's
// offset is shared state, so goroutines sharing one Handle see each
// other's reads, writes and seeks move it.
type Handle struct {
	inode  *inodeEntry
	offset uint32
	access AccessFlags
}

// Open resolves path under the given access flags and returns a handle
// positioned at the start of the file, or at its end if AppendFlag is set.
// TruncateFlag discards any existing file at path and
// creates a fresh zero-length one in its place, by design the same unlink
// then create sequence a caller could issue by hand.
func (fs *FS) Open(path string, access AccessFlags) (*Handle, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.requireReady("open"); err != nil {
		return nil, err
	}
	if err := access.validate(); err != nil {
		return nil, err
	}

	inode, parent, leaf, err := fs.find(path)
	if err != nil {
		return nil, err
	}
	if inode != nil && inode.isDir {
		return nil, newErr("open", KindInvalid, nil)
	}

	if inode != nil && access.Has(TruncateFlag) {
		if err := fs.unlink(inode, parent); err != nil {
			return nil, err
		}
		inode = nil
	}

	if inode == nil {
		if !access.Has(WriteFlag) && !access.Has(AppendFlag) {
			return nil, ErrNotFound
		}
		if parent == nil {
			return nil, newErr("open", KindInvalid, nil)
		}
		inode, err = fs.createInode(parent, leaf, false)
		if err != nil {
			return nil, err
		}
	}

	inode.refcnt++
	h := &Handle{inode: inode, access: access}
	if access.Has(AppendFlag) {
		length, err := fs.fileLength(inode)
		if err != nil {
			inode.refcnt--
			return nil, err
		}
		h.offset = length
	}
	return h, nil
}

// Close releases a handle's share of its file's refcount, freeing the file
// from RAM if it was already unlinked and this was the last open reference.
func (fs *FS) Close(h *Handle) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if h.inode == nil {
		return newErr("close", KindInvalid, nil)
	}
	fs.closeRef(h.inode)
	h.inode = nil
	return nil
}

// Read fills buf from the handle's current offset, returning the number of
// bytes actually read (short of len(buf) at end of file) and advancing the
// offset by that many bytes.
func (fs *FS) Read(h *Handle, buf []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.requireReady("read"); err != nil {
		return 0, err
	}
	if h.inode == nil {
		return 0, newErr("read", KindInvalid, nil)
	}
	if !h.access.Has(ReadFlag) {
		return 0, newErr("read", KindInvalid, nil)
	}

	locs, length, err := fs.locateChain(h.inode)
	if err != nil {
		return 0, err
	}
	if h.offset >= length || len(buf) == 0 {
		return 0, nil
	}

	want := uint32(len(buf))
	if h.offset+want > length {
		want = length - h.offset
	}

	n := uint32(0)
	off := h.offset
	for n < want {
		idx := -1
		for i, l := range locs {
			if off < l.start+uint32(l.entry.dataLen) {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		l := locs[idx]
		blockOff := off - l.start
		avail := uint32(l.entry.dataLen) - blockOff
		chunk := want - n
		if chunk > avail {
			chunk = avail
		}
		data, err := fs.readCached(h.inode.id, l.entry, blockOff, chunk)
		if err != nil {
			return int(n), err
		}
		copy(buf[n:], data)
		n += chunk
		off += chunk
	}

	h.offset = off
	return int(n), nil
}

// readCached serves a slice of one block's payload from the block cache,
// populating the cache from flash on a miss.
func (fs *FS) readCached(inodeID objID, e *blockEntry, blockOff, n uint32) ([]byte, error) {
	data, ok := fs.cache.get(inodeID, e.id)
	if !ok {
		data = make([]byte, e.dataLen)
		if e.dataLen > 0 {
			if err := fs.readData(e, 0, data); err != nil {
				return nil, err
			}
		}
		fs.cache.put(inodeID, e.id, data)
	}
	return data[blockOff : blockOff+n], nil
}

// Write runs buf through the write engine at the handle's current offset,
// or at the file's current length if the handle was opened with AppendFlag
// (append always targets the live end of the file, ignoring any prior
// Seek), then advances the offset past the bytes written.
func (fs *FS) Write(h *Handle, buf []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.requireReady("write"); err != nil {
		return 0, err
	}
	if h.inode == nil {
		return 0, newErr("write", KindInvalid, nil)
	}
	if !h.access.Has(WriteFlag) && !h.access.Has(AppendFlag) {
		return 0, newErr("write", KindInvalid, nil)
	}
	if len(buf) == 0 {
		return 0, nil
	}

	offset := h.offset
	if h.access.Has(AppendFlag) {
		length, err := fs.fileLength(h.inode)
		if err != nil {
			return 0, err
		}
		offset = length
	}

	if err := fs.writeAt(h.inode, offset, buf); err != nil {
		return 0, err
	}
	h.offset = offset + uint32(len(buf))
	return len(buf), nil
}

// Seek repositions a handle for the next Read or non-append Write (spec
// §4.6 "Seek"). Seeking past the current end of file is allowed; a
// subsequent Read there returns zero bytes, and a subsequent Write there is
// rejected by the write engine's range check.
func (fs *FS) Seek(h *Handle, offset uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if h.inode == nil {
		return newErr("seek", KindInvalid, nil)
	}
	h.offset = offset
	return nil
}

// GetPos reports a handle's current offset.
func (fs *FS) GetPos(h *Handle) (uint32, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if h.inode == nil {
		return 0, newErr("getpos", KindInvalid, nil)
	}
	return h.offset, nil
}

// Length reports a handle's file's current total size.
func (fs *FS) Length(h *Handle) (uint32, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if h.inode == nil {
		return 0, newErr("length", KindInvalid, nil)
	}
	return fs.fileLength(h.inode)
}
