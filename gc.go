package nffs

// ForceGC runs garbage-collection cycles, at most one per area, while some
// non-scratch area still carries a gc_seq no greater than the smallest
// gc_seq (scratch included) seen at entry; a cycle that reports KindFull
// ends the loop without error.
// Callers use this to drive coalescing deterministically instead of
// waiting for allocation pressure to trigger it via areaManager.reserve.
func (fs *FS) ForceGC() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.requireReady("ForceGC"); err != nil {
		return err
	}

	target := fs.areas.areas[0].gcSeq
	for _, a := range fs.areas.areas {
		if a.gcSeq < target {
			target = a.gcSeq
		}
	}

	for range fs.areas.areas {
		stillOld := false
		for _, a := range fs.areas.areas {
			if !a.isScratch() && a.gcSeq <= target {
				stillOld = true
				break
			}
		}
		if !stillOld {
			return nil
		}
		if err := fs.gc.collectOne(); err != nil {
			if e, ok := err.(*Error); ok && e.Kind == KindFull {
				return nil
			}
			return err
		}
	}
	return nil
}

// gcState owns the garbage collector's one entry point. It is a distinct
// type (rather than methods directly on FS) purely so areaManager.reserve
// can hold a narrow reference without importing the whole write/restore
// surface.
type gcState struct {
	fs *FS
}

// collectOne runs a single copy-forward GC cycle.
// It selects the area with the least wear, reformats scratch to take its
// place, relocates every inode and block record that lived there, then
// erases the victim and turns it into the new scratch.
func (g *gcState) collectOne() error {
	fs := g.fs

	victimIdx, ok := fs.selectVictim()
	if !ok {
		return newErr("gc", KindFull, nil)
	}
	destIdx := fs.areas.scratchIndex()
	if destIdx < 0 {
		return newErr("gc", KindCorrupt, nil)
	}

	victim := fs.areas.areas[victimIdx]
	victimID := victim.id
	victimGcSeq := victim.gcSeq

	// Atomic-handoff point: scratch becomes the victim's id while the
	// victim itself still bears that id.
	if err := fs.areas.formatArea(destIdx, victimID, victimGcSeq); err != nil {
		return err
	}

	for _, e := range fs.hash.inodes {
		if e.loc.isNone() || e.loc.areaIdx() != victimIdx {
			continue
		}
		if err := fs.gcCopyInode(e, victimIdx, destIdx); err != nil {
			return err
		}
	}

	for _, e := range fs.hash.inodes {
		if e.isDir {
			continue
		}
		if err := fs.gcCoalesceFile(e, victimIdx, destIdx); err != nil {
			return err
		}
	}

	if err := fs.areas.formatArea(victimIdx, scratchAreaID, victimGcSeq+1); err != nil {
		return err
	}
	return nil
}

// selectVictim picks the non-scratch area with the smallest gc_seq, ties
// broken by the larger length.
func (fs *FS) selectVictim() (int, bool) {
	best := -1
	for idx, a := range fs.areas.areas {
		if a.isScratch() {
			continue
		}
		if best < 0 {
			best = idx
			continue
		}
		cur := fs.areas.areas[best]
		if a.gcSeq < cur.gcSeq || (a.gcSeq == cur.gcSeq && a.length > cur.length) {
			best = idx
		}
	}
	return best, best >= 0
}

// gcCopyInode copies one inode record verbatim from the victim to dest and
// updates its hash entry's location.
func (fs *FS) gcCopyInode(e *inodeEntry, victimIdx, destIdx int) error {
	_, size, err := readInodeAt(fs.areas, victimIdx, e.loc.offset())
	if err != nil {
		return err
	}
	newOffset, err := fs.areas.copy(destIdx, victimIdx, e.loc.offset(), size)
	if err != nil {
		return err
	}
	e.loc = makeFlashLoc(destIdx, newOffset)
	return nil
}

// gcCoalesceFile walks one file's block chain and, for every maximal run
// of adjacent blocks resident in the victim area, replaces the run with a
// single coalesced block written to dest. Surviving
// blocks whose prev_id pointed at a block that was just replaced are
// rewritten with the replacement's id via relinkPrev, the same mechanism
// the write engine uses for the analogous case.
func (fs *FS) gcCoalesceFile(inode *inodeEntry, victimIdx, destIdx int) error {
	chain, err := fs.walkChainBackward(inode)
	if err != nil {
		return err
	}
	prevID := idNone
	idx := 0
	for idx < len(chain) {
		e := chain[idx]
		if e.loc.areaIdx() != victimIdx {
			if e.prev != prevID {
				if err := fs.relinkPrev(e, prevID); err != nil {
					return err
				}
			}
			prevID = e.id
			idx++
			continue
		}

		runStart := idx
		for idx < len(chain) && chain[idx].loc.areaIdx() == victimIdx {
			idx++
		}
		newID, err := fs.coalesceRun(inode, chain[runStart:idx], prevID, destIdx)
		if err != nil {
			return err
		}
		prevID = newID
	}
	if len(chain) > 0 {
		inode.lastBlock = prevID
	}
	return nil
}

// coalesceRun merges a maximal victim-resident run into one new block
// written to dest, deletes the run's hash entries, and returns the new
// block's id.
func (fs *FS) coalesceRun(inode *inodeEntry, run []*blockEntry, prevID objID, destIdx int) (objID, error) {
	var total uint32
	for _, e := range run {
		total += uint32(e.dataLen)
	}
	merged := make([]byte, 0, total)
	for _, e := range run {
		buf := make([]byte, e.dataLen)
		if e.dataLen > 0 {
			if err := fs.readData(e, 0, buf); err != nil {
				return 0, err
			}
		}
		merged = append(merged, buf...)
	}

	var maxSeq uint32
	for _, e := range run {
		if e.seq > maxSeq {
			maxSeq = e.seq
		}
	}
	youngest := run[len(run)-1]

	newID, err := fs.blockIDs.allocate()
	if err != nil {
		return 0, err
	}
	rec := &blockRecord{id: newID, seq: maxSeq + 1, prevID: prevID, inodeID: inode.id, dataLen: uint16(len(merged))}
	buf := encodeBlockRecord(rec, merged)
	offset, err := fs.areas.write(destIdx, buf)
	if err != nil {
		return 0, err
	}

	for _, e := range run {
		fs.cache.evictBlock(inode.id, e.id)
		fs.hash.deleteBlock(e.id)
	}

	entry := &blockEntry{
		id:      newID,
		loc:     makeFlashLoc(destIdx, offset),
		seq:     rec.seq,
		prev:    prevID,
		rank:    youngest.rank,
		dataLen: uint16(len(merged)),
		inodeID: inode.id,
	}
	fs.hash.putBlock(entry)
	return newID, nil
}
