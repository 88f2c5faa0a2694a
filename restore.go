package nffs

import (
	"encoding/binary"
	"strconv"
)

// restore drives the mount pipeline. By the time it returns
// successfully, fs.hash holds a fully reconstructed index and fs.ready can
// be set by the caller.
func restore(fs *FS, descs []AreaDescriptor) error {
	am := fs.areas

	// 1. Header scan.
	for i, d := range descs {
		hdrBuf := make([]byte, areaHeaderSize)
		if err := am.dev.Read(i, 0, hdrBuf); err != nil {
			return newErr("restore", KindFlashError, err)
		}
		a, err := decodeAreaHeader(i, d.Offset, d.Length, hdrBuf)
		if err != nil {
			return err
		}
		am.areas[i] = a
	}

	scratchCount := 0
	for _, a := range am.areas {
		if a.isScratch() {
			scratchCount++
		}
	}
	if scratchCount > 1 {
		return newErr("restore", KindCorrupt, nil)
	}
	if scratchCount == 0 {
		// 4. Scratch repair (performed before the real object scan so the
		// aborted GC destination is never scanned into the index at all).
		if err := repairCorruptScratch(fs); err != nil {
			return err
		}
	}

	// 2 & 3. Object scan with replacement-by-seq.
	for i, a := range am.areas {
		if a.isScratch() {
			continue
		}
		if err := scanArea(fs, i, false); err != nil {
			return err
		}
	}

	if err := reconstructChains(fs); err != nil {
		return err
	}

	// 5. Lost-and-found.
	if err := ensureLostAndFound(fs); err != nil {
		return err
	}

	// 6. Sweep.
	if err := sweep(fs); err != nil {
		return err
	}

	// 7. Root validation.
	root, ok := fs.hash.getInode(rootDirID)
	if !ok || !root.isDir || !root.parent.isNone() || root.flags.has(flagDummy) {
		return newErr("restore", KindCorrupt, nil)
	}

	// 8. Tuning.
	tuneBlockMaxDataSz(fs)

	return nil
}

// repairCorruptScratch locates the pair of live areas sharing an id (a GC
// crash between adopting the victim's id and erasing the victim), dry-scans
// both to learn how far each got, and reformats the shorter one as scratch.
func repairCorruptScratch(fs *FS) error {
	am := fs.areas
	seen := make(map[uint16]int)
	for idx, a := range am.areas {
		if a.isScratch() {
			continue
		}
		other, ok := seen[a.id]
		if !ok {
			seen[a.id] = idx
			continue
		}
		curThis, err := scanAreaCur(fs, idx)
		if err != nil {
			return err
		}
		curOther, err := scanAreaCur(fs, other)
		if err != nil {
			return err
		}
		dst := idx
		if curOther < curThis {
			dst = other
		}
		gcSeq := am.areas[dst].gcSeq
		return am.formatArea(dst, scratchAreaID, gcSeq+1)
	}
	return newErr("restore", KindCorrupt, nil)
}

// scanAreaCur dry-scans an area purely to learn how many bytes of valid
// log it holds, without touching the hash index.
func scanAreaCur(fs *FS, idx int) (uint32, error) {
	return scanArea(fs, idx, true)
}

// scanArea walks the objects in area idx in sequence, stopping at an empty
// marker, an out-of-range offset, or a record that fails to decode (a torn
// tail left by an interrupted write). When dryRun is false each object is
// folded into the hash index via the seq-based replacement rule; a
// replacement-rule violation (equal seq for the same id) is a hard restore
// failure, distinct from a torn tail. It returns the area's final cur.
func scanArea(fs *FS, idx int, dryRun bool) (uint32, error) {
	am := fs.areas
	a := am.areas[idx]
	offset := uint32(areaHeaderSize)

	for offset+commonHdrSize <= a.length {
		magicBuf := make([]byte, 4)
		if err := am.read(idx, offset, magicBuf); err != nil {
			break
		}
		if isErasedWord(magicBuf) {
			break
		}
		magic := binary.LittleEndian.Uint32(magicBuf)

		switch magic {
		case inodeMagic:
			rec, size, err := readInodeAt(am, idx, offset)
			if err != nil {
				goto done
			}
			if !dryRun {
				if err := restoreInodeRecord(fs, idx, offset, rec); err != nil {
					return offset, err
				}
			}
			offset += size
		case blockMagic:
			rec, payload, size, err := readBlockHeaderAt(am, idx, offset)
			if err != nil {
				goto done
			}
			if !dryRun {
				if err := restoreBlockRecord(fs, idx, offset, rec, payload); err != nil {
					return offset, err
				}
			}
			offset += size
		default:
			goto done
		}
	}
done:
	a.cur = offset
	return offset, nil
}

// restoreInodeRecord folds one decoded inode record into the hash index,
// replacing any dummy or lower-seq entry with the same id, re-parenting it
// under its declared parent (creating a dummy parent if not yet seen), and
// detaching it from any previous parent if this record supersedes a rename.
func restoreInodeRecord(fs *FS, areaIdx int, offset uint32, rec *inodeRecord) error {
	existing, ok := fs.hash.getInode(rec.id)
	wasDummy := ok && existing.flags.has(flagDummy)
	if ok && !wasDummy {
		switch {
		case rec.seq < existing.seq:
			return nil
		case rec.seq == existing.seq:
			return newErr("restore", KindCorrupt, nil)
		}
		if existing.isDir != rec.flags.has(flagDirectory) {
			return newErr("restore", KindCorrupt, nil)
		}
		if !existing.parent.isNone() {
			if oldParent, ok2 := fs.hash.getInode(existing.parent); ok2 {
				fs.removeChild(oldParent, rec.id)
			}
		}
	}

	var children []objID
	var lastBlock objID = idNone
	if ok {
		children = existing.children
		lastBlock = existing.lastBlock
	}

	refcnt := uint32(0)
	if rec.id == rootDirID || (!rec.parentID.isNone() && !rec.flags.has(flagDeleted)) {
		refcnt = 1 // parent-linkage share, as createInode gives a new inode
	}

	prefix, nlen := makeNamePrefix(rec.filename)
	entry := &inodeEntry{
		id:         rec.id,
		loc:        makeFlashLoc(areaIdx, offset),
		seq:        rec.seq,
		isDir:      rec.flags.has(flagDirectory),
		flags:      rec.flags,
		parent:     rec.parentID,
		children:   children,
		lastBlock:  lastBlock,
		refcnt:     refcnt,
		namePrefix: prefix,
		nameLen:    nlen,
	}
	fs.hash.putInode(entry)

	switch {
	case rec.id.isDir():
		fs.dirIDs.observe(rec.id)
	case rec.id.isFile():
		fs.fileIDs.observe(rec.id)
	}

	if !rec.parentID.isNone() && !rec.flags.has(flagDeleted) {
		parent := fs.ensureDummy(rec.parentID, true)
		if err := fs.insertChild(parent, rec.id, rec.filename); err != nil && err != ErrExists {
			return err
		}
	}
	return nil
}

// restoreBlockRecord folds one decoded block header into the hash index by
// the same seq-based replacement rule. rank is left at zero; it is
// recomputed for every file in one pass by reconstructChains once the scan
// completes and every block is present.
func restoreBlockRecord(fs *FS, areaIdx int, offset uint32, rec *blockRecord, payload []byte) error {
	_ = payload
	if existing, ok := fs.hash.getBlock(rec.id); ok {
		switch {
		case rec.seq < existing.seq:
			return nil
		case rec.seq == existing.seq:
			return newErr("restore", KindCorrupt, nil)
		}
	}
	entry := &blockEntry{
		id:      rec.id,
		loc:     makeFlashLoc(areaIdx, offset),
		seq:     rec.seq,
		prev:    rec.prevID,
		dataLen: rec.dataLen,
		inodeID: rec.inodeID,
	}
	fs.hash.putBlock(entry)
	fs.blockIDs.observe(rec.id)
	return nil
}

// reconstructChains finds, for every file referenced by at least one
// restored block, the block that nothing else points to via prev (the
// tail), walks backward from it assigning strictly decreasing rank, and
// sets the owning inode's lastBlock (creating a dummy file inode first if
// the owner was never itself scanned). A chain that forks (more than one
// tail candidate) or never reaches prev == none is corrupt.
func reconstructChains(fs *FS) error {
	byInode := make(map[objID][]*blockEntry)
	referenced := make(map[objID]bool)
	for _, e := range fs.hash.blocks {
		byInode[e.inodeID] = append(byInode[e.inodeID], e)
		if !e.prev.isNone() {
			referenced[e.prev] = true
		}
	}

	for inodeID, blocks := range byInode {
		var tail *blockEntry
		for _, e := range blocks {
			if !referenced[e.id] {
				if tail != nil {
					return newErr("restore", KindCorrupt, nil)
				}
				tail = e
			}
		}
		if tail == nil {
			return newErr("restore", KindCorrupt, nil)
		}

		rank := uint32(len(blocks) - 1)
		seen := make(map[objID]bool, len(blocks))
		cur := tail
		for {
			if seen[cur.id] {
				return newErr("restore", KindCorrupt, nil)
			}
			seen[cur.id] = true
			cur.rank = rank
			if cur.prev.isNone() {
				break
			}
			if rank == 0 {
				return newErr("restore", KindCorrupt, nil)
			}
			next, ok := fs.hash.getBlock(cur.prev)
			if !ok {
				return newErr("restore", KindCorrupt, nil)
			}
			rank--
			cur = next
		}
		if len(seen) != len(blocks) {
			return newErr("restore", KindCorrupt, nil)
		}

		inode := fs.ensureDummy(inodeID, false)
		inode.lastBlock = tail.id
	}
	return nil
}

// ensureDummy returns the existing hash entry for id, or installs a dummy
// placeholder for it.
func (fs *FS) ensureDummy(id objID, isDir bool) *inodeEntry {
	if e, ok := fs.hash.getInode(id); ok {
		return e
	}
	e := &inodeEntry{id: id, loc: locNone, isDir: isDir, flags: flagDummy, parent: idNone, lastBlock: idNone, refcnt: 0}
	fs.hash.putInode(e)
	return e
}

// ensureLostAndFound guarantees /lost+found exists under the root (spec
// §4.9 step 5).
func ensureLostAndFound(fs *FS) error {
	root, ok := fs.hash.getInode(rootDirID)
	if !ok {
		return newErr("restore", KindCorrupt, nil)
	}
	_, exists, err := fs.findChildByName(root, []byte(lostFoundName))
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = fs.createInode(root, []byte(lostFoundName), true)
	return err
}

const lostFoundName = "lost+found"

// sweep removes deleted and surviving-dummy objects from RAM, migrates a
// dummy directory's discovered children into /lost+found/<id>/, and
// truncates any file whose block chain runs into a missing block (spec
// §4.9 step 6).
func sweep(fs *FS) error {
	root, ok := fs.hash.getInode(rootDirID)
	if !ok {
		return newErr("restore", KindCorrupt, nil)
	}
	lfID, exists, err := fs.findChildByName(root, []byte(lostFoundName))
	if err != nil {
		return err
	}
	var lostFound *inodeEntry
	if exists {
		lostFound, _ = fs.hash.getInode(lfID)
	}

	ids := make([]objID, 0, len(fs.hash.inodes))
	for id := range fs.hash.inodes {
		ids = append(ids, id)
	}

	for _, id := range ids {
		if id == rootDirID {
			continue
		}
		e, ok := fs.hash.getInode(id)
		if !ok {
			continue
		}

		if e.isDir && e.flags.has(flagDummy) {
			if lostFound != nil {
				if err := migrateDummyDirChildren(fs, e, lostFound); err != nil {
					return err
				}
			}
			fs.hash.deleteInode(id)
			continue
		}

		if e.flags.has(flagDeleted) || e.flags.has(flagDummy) {
			if !e.isDir {
				freeBlocksOf(fs, id)
			}
			if !e.parent.isNone() {
				if p, ok := fs.hash.getInode(e.parent); ok {
					fs.removeChild(p, id)
				}
			}
			fs.hash.deleteInode(id)
			continue
		}

		if !e.isDir {
			if err := truncateChainAtFirstCorrupt(fs, e); err != nil {
				return err
			}
		}
	}
	return nil
}

// migrateDummyDirChildren moves a dummy directory's surviving children into
// a dedicated /lost+found/<id>/ subdirectory. A name collision
// against an existing lost+found entry drops that one child rather than
// failing the whole mount.
func migrateDummyDirChildren(fs *FS, dummy *inodeEntry, lostFound *inodeEntry) error {
	if len(dummy.children) == 0 {
		return nil
	}
	name := []byte(strconv.FormatUint(uint64(dummy.id), 10))
	subID, exists, err := fs.findChildByName(lostFound, name)
	if err != nil {
		return err
	}
	var sub *inodeEntry
	if exists {
		sub, _ = fs.hash.getInode(subID)
	} else {
		sub, err = fs.createInode(lostFound, name, true)
		if err != nil {
			return err
		}
	}
	for _, childID := range dummy.children {
		child, ok := fs.hash.getInode(childID)
		if !ok {
			continue
		}
		childName, err := fs.entryFilename(child)
		if err != nil {
			continue
		}
		if err := fs.insertChild(sub, childID, childName); err != nil {
			continue
		}
		child.parent = sub.id
	}
	return nil
}

func freeBlocksOf(fs *FS, inodeID objID) {
	for id, e := range fs.hash.blocks {
		if e.inodeID == inodeID {
			fs.hash.deleteBlock(id)
		}
	}
}

// truncateChainAtFirstCorrupt walks a file's chain from its last block
// backward; if it reaches a prev reference with no surviving hash entry
// (dropped by scratch repair or a torn tail), it rewrites the last
// reachable block's prev_id to none, permanently truncating the file
// before the gap.
func truncateChainAtFirstCorrupt(fs *FS, inode *inodeEntry) error {
	cur := inode.lastBlock
	var prevGood *blockEntry
	for !cur.isNone() {
		e, ok := fs.hash.getBlock(cur)
		if !ok {
			if prevGood != nil {
				return fs.relinkPrev(prevGood, idNone)
			}
			inode.lastBlock = idNone
			return nil
		}
		prevGood = e
		cur = e.prev
	}
	return nil
}

// tuneBlockMaxDataSz shrinks block_max_data_sz to fit the smallest live
// area if needed, never below the largest block payload actually restored.
func tuneBlockMaxDataSz(fs *FS) {
	var smallest uint32 = ^uint32(0)
	for _, a := range fs.areas.areas {
		if a.isScratch() {
			continue
		}
		if a.length < smallest {
			smallest = a.length
		}
	}
	if smallest == ^uint32(0) {
		return
	}
	maxByArea := (smallest-areaHeaderSize)/2 - blockFixedSize

	target := fs.blockMaxDataSz
	if maxByArea < target {
		target = maxByArea
	}
	var maxRestored uint32
	for _, e := range fs.hash.blocks {
		if uint32(e.dataLen) > maxRestored {
			maxRestored = uint32(e.dataLen)
		}
	}
	if target < maxRestored {
		target = maxRestored
	}
	fs.blockMaxDataSz = target
}
