package nffs

import "container/list"

// blockCache is the read-through block cache. It keeps a
// bounded LRU set of "cached inodes" -- files with recent I/O -- and, for
// each, a bounded LRU set of decoded block payloads, so repeated sequential
// or re-read access doesn't re-hit flash.
type blockCache struct {
	maxInodes     int
	maxBlocksEach int
	inodeList     *list.List // most-recently-used at the front
	inodeElems    map[objID]*list.Element
}

type cachedInode struct {
	id         objID
	blockList  *list.List
	blockElems map[objID]*list.Element
}

type cachedBlock struct {
	id   objID
	data []byte
}

const (
	defaultCacheInodes        = 16
	defaultCacheBlocksPerInode = 8
)

func newBlockCache(maxInodes, maxBlocksEach int) *blockCache {
	return &blockCache{
		maxInodes:     maxInodes,
		maxBlocksEach: maxBlocksEach,
		inodeList:     list.New(),
		inodeElems:    make(map[objID]*list.Element),
	}
}

func (c *blockCache) touchInode(id objID) *cachedInode {
	if el, ok := c.inodeElems[id]; ok {
		c.inodeList.MoveToFront(el)
		return el.Value.(*cachedInode)
	}
	ci := &cachedInode{
		id:         id,
		blockList:  list.New(),
		blockElems: make(map[objID]*list.Element),
	}
	el := c.inodeList.PushFront(ci)
	c.inodeElems[id] = el
	if c.inodeList.Len() > c.maxInodes {
		oldest := c.inodeList.Back()
		if oldest != nil {
			evicted := oldest.Value.(*cachedInode)
			delete(c.inodeElems, evicted.id)
			c.inodeList.Remove(oldest)
		}
	}
	return ci
}

// get returns a block's cached payload, if present, promoting both the
// owning inode and the block itself to most-recently-used.
func (c *blockCache) get(inodeID, blockID objID) ([]byte, bool) {
	el, ok := c.inodeElems[inodeID]
	if !ok {
		return nil, false
	}
	ci := el.Value.(*cachedInode)
	c.inodeList.MoveToFront(el)
	bel, ok := ci.blockElems[blockID]
	if !ok {
		return nil, false
	}
	ci.blockList.MoveToFront(bel)
	return bel.Value.(*cachedBlock).data, true
}

// put installs a block's payload into its owning inode's pool, evicting the
// least-recently-used block if the pool is at capacity.
func (c *blockCache) put(inodeID, blockID objID, data []byte) {
	ci := c.touchInode(inodeID)
	if bel, ok := ci.blockElems[blockID]; ok {
		bel.Value.(*cachedBlock).data = data
		ci.blockList.MoveToFront(bel)
		return
	}
	bel := ci.blockList.PushFront(&cachedBlock{id: blockID, data: data})
	ci.blockElems[blockID] = bel
	if ci.blockList.Len() > c.maxBlocksEach {
		oldest := ci.blockList.Back()
		if oldest != nil {
			evicted := oldest.Value.(*cachedBlock)
			delete(ci.blockElems, evicted.id)
			ci.blockList.Remove(oldest)
		}
	}
}

// evictBlock drops one block from cache, used when a block is retired by a
// write or by GC so a stale payload is never served.
func (c *blockCache) evictBlock(inodeID, blockID objID) {
	el, ok := c.inodeElems[inodeID]
	if !ok {
		return
	}
	ci := el.Value.(*cachedInode)
	if bel, ok := ci.blockElems[blockID]; ok {
		delete(ci.blockElems, blockID)
		ci.blockList.Remove(bel)
	}
}

// evictInode drops every cached block for an inode, used on close, delete,
// and truncate.
func (c *blockCache) evictInode(id objID) {
	el, ok := c.inodeElems[id]
	if !ok {
		return
	}
	delete(c.inodeElems, id)
	c.inodeList.Remove(el)
}
