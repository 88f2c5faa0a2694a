package nffs

// blockFromHashEntry reads the on-flash header for a block's hash entry to
// populate the full view (owner, prev, data_len, seq) described in spec
// §4.4. Dummy entries (loc == locNone) have nothing to read yet.
func (fs *FS) blockFromHashEntry(e *blockEntry) (*blockRecord, error) {
	if e.loc.isNone() {
		return nil, newErr("block-from-hash", KindCorrupt, nil)
	}
	rec, _, _, err := readBlockHeaderAt(fs.areas, e.loc.areaIdx(), e.loc.offset())
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// readData reads a suffix of a block's payload directly from flash,
// starting offsetInBlock bytes into it.
func (fs *FS) readData(e *blockEntry, offsetInBlock uint32, dst []byte) error {
	if offsetInBlock+uint32(len(dst)) > uint32(e.dataLen) {
		return newErr("read-data", KindRange, nil)
	}
	payloadOff := e.loc.offset() + blockFixedSize + offsetInBlock
	return fs.areas.read(e.loc.areaIdx(), payloadOff, dst)
}

// walkChainBackward collects a file's block entries from last to first,
// validating spec invariant 3 (strictly decreasing rank, visited once,
// terminates at prev == idNone). It returns entries oldest-first.
func (fs *FS) walkChainBackward(inode *inodeEntry) ([]*blockEntry, error) {
	var rev []*blockEntry
	seen := make(map[objID]bool)
	cur := inode.lastBlock
	var lastRank int64 = -1
	for !cur.isNone() {
		if seen[cur] {
			return nil, newErr("walk-chain", KindCorrupt, nil)
		}
		seen[cur] = true
		e, ok := fs.hash.getBlock(cur)
		if !ok {
			return nil, newErr("walk-chain", KindCorrupt, nil)
		}
		if lastRank >= 0 && int64(e.rank) >= lastRank {
			return nil, newErr("walk-chain", KindCorrupt, nil)
		}
		lastRank = int64(e.rank)
		rev = append(rev, e)
		cur = e.prev
	}
	// rev is newest-first; reverse in place to return oldest-first.
	for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}
	return rev, nil
}

// fileLength sums data_len along a file's block chain. Prefer the cache
// (cache.go) for repeated calls.
func (fs *FS) fileLength(inode *inodeEntry) (uint32, error) {
	chain, err := fs.walkChainBackward(inode)
	if err != nil {
		return 0, err
	}
	var total uint32
	for _, b := range chain {
		total += uint32(b.dataLen)
	}
	return total, nil
}

// blockLocation is a block entry annotated with its absolute start offset
// within the file, used by the write engine's seek step.
type blockLocation struct {
	entry *blockEntry
	start uint32 // offset of this block's first byte within the file
}

// locateChain returns the full chain annotated with start offsets
// (oldest-first), plus the total file length.
func (fs *FS) locateChain(inode *inodeEntry) ([]blockLocation, uint32, error) {
	chain, err := fs.walkChainBackward(inode)
	if err != nil {
		return nil, 0, err
	}
	locs := make([]blockLocation, len(chain))
	var offset uint32
	for i, b := range chain {
		locs[i] = blockLocation{entry: b, start: offset}
		offset += uint32(b.dataLen)
	}
	return locs, offset, nil
}

// findBlockContaining locates the block holding byte fileOffset along with
// the hash-entry id of its predecessor (idNone if it's the first block).
// If fileOffset equals the file length, no block contains it (pure
// append); found is false and prevID names the current last block.
func (fs *FS) findBlockContaining(inode *inodeEntry, fileOffset uint32) (loc blockLocation, prevID objID, found bool, err error) {
	locs, length, err := fs.locateChain(inode)
	if err != nil {
		return blockLocation{}, idNone, false, err
	}
	if fileOffset >= length {
		if len(locs) > 0 {
			prevID = locs[len(locs)-1].entry.id
		} else {
			prevID = idNone
		}
		return blockLocation{}, prevID, false, nil
	}
	for i, l := range locs {
		end := l.start + uint32(l.entry.dataLen)
		if fileOffset >= l.start && fileOffset < end {
			if i > 0 {
				prevID = locs[i-1].entry.id
			} else {
				prevID = idNone
			}
			return l, prevID, true, nil
		}
	}
	return blockLocation{}, idNone, false, newErr("find-block", KindCorrupt, nil)
}
