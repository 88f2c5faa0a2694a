package nffs

// inodeEntry is the compact in-memory record for a directory or file.
// loc == locNone means a dummy placeholder installed during restore.
type inodeEntry struct {
	id     objID
	loc    flashLoc
	seq    uint32
	isDir  bool
	flags  inodeFlags
	parent objID // idNone for the root, or for a not-yet-linked dummy

	// directories only: children sorted by (filename bytes, length).
	children []objID

	// files only: hash entry id of the last (newest-rank) block, or
	// idNone if the file has no blocks yet.
	lastBlock objID

	refcnt uint32

	// namePrefix caches up to a handful of leading filename bytes so
	// directory-sort comparisons can short-circuit without a flash read.
	namePrefix []byte
	nameLen    uint8
}

const cachedPrefixLen = 8

// blockEntry is the compact in-memory record for a data block.
type blockEntry struct {
	id      objID
	loc     flashLoc
	seq     uint32
	prev    objID // idNone if first in file
	rank    uint32 // position in the chain; not stored on flash, rebuilt by restore from prev_id order
	dataLen uint16
	inodeID objID
}

// hashIndex is an FS's id -> entry map. bucketHint
// only sizes the initial Go map allocation; Go's builtin map already
// supplies the open-chaining semantics an embedded C implementation would
// hand-roll with buckets and linked-list chains.
type hashIndex struct {
	inodes map[objID]*inodeEntry
	blocks map[objID]*blockEntry
}

func newHashIndex(bucketHint int) *hashIndex {
	return &hashIndex{
		inodes: make(map[objID]*inodeEntry, bucketHint),
		blocks: make(map[objID]*blockEntry, bucketHint),
	}
}

func (h *hashIndex) getInode(id objID) (*inodeEntry, bool) {
	e, ok := h.inodes[id]
	return e, ok
}

func (h *hashIndex) putInode(e *inodeEntry) { h.inodes[e.id] = e }

func (h *hashIndex) deleteInode(id objID) { delete(h.inodes, id) }

func (h *hashIndex) getBlock(id objID) (*blockEntry, bool) {
	e, ok := h.blocks[id]
	return e, ok
}

func (h *hashIndex) putBlock(e *blockEntry) { h.blocks[e.id] = e }

func (h *hashIndex) deleteBlock(id objID) { delete(h.blocks, id) }

func (h *hashIndex) reset() {
	h.inodes = make(map[objID]*inodeEntry, len(h.inodes))
	h.blocks = make(map[objID]*blockEntry, len(h.blocks))
}
