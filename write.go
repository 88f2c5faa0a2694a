package nffs

// writeAt implements the write engine. It splits the request
// into chunks of at most blockMaxDataSz bytes and writes each chunk against
// the file's current chain in turn -- each chunk re-seeks against the chain
// as it stood after the previous chunk landed.
func (fs *FS) writeAt(inode *inodeEntry, fileOffset uint32, data []byte) error {
	for len(data) > 0 {
		chunkLen := uint32(len(data))
		if chunkLen > fs.blockMaxDataSz {
			chunkLen = fs.blockMaxDataSz
		}
		if err := fs.writeChunk(inode, fileOffset, data[:chunkLen]); err != nil {
			return err
		}
		fileOffset += chunkLen
		data = data[chunkLen:]
	}
	return nil
}

// writeChunk performs the seek/overlay/split/retire/link algorithm for a
// single chunk no longer than blockMaxDataSz.
func (fs *FS) writeChunk(inode *inodeEntry, fileOffset uint32, chunk []byte) error {
	locs, length, err := fs.locateChain(inode)
	if err != nil {
		return err
	}
	if fileOffset > length {
		return newErr("write", KindRange, nil)
	}

	// Seek: first block containing fileOffset, and its predecessor.
	startIdx := -1
	for i, l := range locs {
		if fileOffset < l.start+uint32(l.entry.dataLen) {
			startIdx = i
			break
		}
	}

	var prevID objID = idNone
	if startIdx > 0 {
		prevID = locs[startIdx-1].entry.id
	} else if startIdx < 0 && len(locs) > 0 {
		prevID = locs[len(locs)-1].entry.id
	}

	if startIdx < 0 {
		// Pure append: file_offset == length, nothing overlapped.
		_, err := fs.linkNewBlock(inode, nil, prevID, chunk, true)
		return err
	}

	startOffset := fileOffset - locs[startIdx].start

	// Overlay: advance until accumulated covered length >= len(chunk).
	endIdx := startIdx
	blockOffset := startOffset
	remaining := uint32(len(chunk))
	haveEnd := false
	var endOffset uint32
	for endIdx < len(locs) {
		avail := uint32(locs[endIdx].entry.dataLen) - blockOffset
		if avail >= remaining {
			endOffset = blockOffset + remaining
			haveEnd = true
			break
		}
		remaining -= avail
		endIdx++
		blockOffset = 0
	}

	leading := make([]byte, startOffset)
	if startOffset > 0 {
		if err := fs.readData(locs[startIdx].entry, 0, leading); err != nil {
			return err
		}
	}

	merged := append(leading, chunk...)

	var relinkAfter *blockEntry
	if haveEnd {
		endEntry := locs[endIdx].entry
		trailLen := uint32(endEntry.dataLen) - endOffset
		if trailLen > 0 {
			trailing := make([]byte, trailLen)
			if err := fs.readData(endEntry, endOffset, trailing); err != nil {
				return err
			}
			merged = append(merged, trailing...)
		}
		if endIdx+1 < len(locs) {
			relinkAfter = locs[endIdx+1].entry
		}
	} else {
		endIdx = len(locs) - 1 // retire through the true last block
	}

	becomesLast := relinkAfter == nil

	// Evict every retired block from the cache before linkNewBlock
	// overwrites startIdx's hash entry (it reuses that id) and before the
	// loop below deletes the rest (startIdx+1..endIdx) outright.
	for i := startIdx; i <= endIdx; i++ {
		fs.cache.evictBlock(inode.id, locs[i].entry.id)
	}

	newID, err := fs.linkNewBlock(inode, locs[startIdx].entry, prevID, merged, becomesLast)
	if err != nil {
		return err
	}

	for i := startIdx + 1; i <= endIdx; i++ {
		fs.hash.deleteBlock(locs[i].entry.id)
	}

	if relinkAfter != nil {
		if err := fs.relinkPrev(relinkAfter, newID); err != nil {
			return err
		}
	}

	return nil
}

// linkNewBlock writes payload as a single new block. When supersededEntry
// is non-nil the new block reuses its id (seq+1) and rank; otherwise a
// fresh id is allocated and rank is one past prevID's
// (or 0 for a file's first block). It installs the new block as the file's
// last block when last is true, and returns the new block's id.
func (fs *FS) linkNewBlock(inode *inodeEntry, supersededEntry *blockEntry, prevID objID, payload []byte, last bool) (objID, error) {
	if len(payload) > int(fs.blockMaxDataSz) {
		return 0, newErr("write", KindInvalid, nil)
	}

	var id objID
	var seq uint32
	var rank uint32
	var err error
	if supersededEntry != nil {
		id = supersededEntry.id
		seq = supersededEntry.seq + 1
		rank = supersededEntry.rank
	} else {
		id, err = fs.blockIDs.allocate()
		if err != nil {
			return 0, err
		}
		if prevID.isNone() {
			rank = 0
		} else if prevEntry, ok := fs.hash.getBlock(prevID); ok {
			rank = prevEntry.rank + 1
		} else {
			return 0, newErr("write", KindCorrupt, nil)
		}
	}

	rec := &blockRecord{id: id, seq: seq, prevID: prevID, inodeID: inode.id, dataLen: uint16(len(payload))}
	areaIdx, offset, err := fs.reserveAndWriteBlock(rec, payload)
	if err != nil {
		return 0, err
	}

	entry := &blockEntry{
		id:      id,
		loc:     makeFlashLoc(areaIdx, offset),
		seq:     seq,
		prev:    prevID,
		rank:    rank,
		dataLen: uint16(len(payload)),
		inodeID: inode.id,
	}
	fs.hash.putBlock(entry)

	if last {
		inode.lastBlock = id
	}
	return id, nil
}

// relinkPrev rewrites a block so its prev_id points at newPrevID, bumping
// seq, when the block it used to chain to was just retired by an overwrite
// that didn't reach the file's tail. prev_id is immutable once written, so
// patching the chain after a mid-file overwrite means rewriting the
// successor's record rather than mutating the old one in place.
func (fs *FS) relinkPrev(e *blockEntry, newPrevID objID) error {
	payload := make([]byte, e.dataLen)
	if e.dataLen > 0 {
		if err := fs.readData(e, 0, payload); err != nil {
			return err
		}
	}
	rec := &blockRecord{id: e.id, seq: e.seq + 1, prevID: newPrevID, inodeID: e.inodeID, dataLen: e.dataLen}
	areaIdx, offset, err := fs.reserveAndWriteBlock(rec, payload)
	if err != nil {
		return err
	}
	e.loc = makeFlashLoc(areaIdx, offset)
	e.seq = rec.seq
	e.prev = newPrevID
	return nil
}

// reserveAndWriteBlock reserves flash space for the encoded record and
// writes it, returning where it landed.
func (fs *FS) reserveAndWriteBlock(rec *blockRecord, payload []byte) (int, uint32, error) {
	buf := encodeBlockRecord(rec, payload)
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
