package nffs

// AreaStats reports one area's utilization.
type AreaStats struct {
	Region  int
	ID      uint16
	Scratch bool
	GCSeq   uint8
	Length  uint32
	Used    uint32
	Free    uint32
}

// Stats reports filesystem-wide introspection: per-area utilization plus
// object counts, in the same shape `sqfs info` reports superblock counters.
type Stats struct {
	Areas      []AreaStats
	Dirs       int
	Files      int
	Blocks     int
	DummyCount int
}

// Stats gathers a point-in-time snapshot of area usage and object counts.
func (fs *FS) Stats() (Stats, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.requireReady("stats"); err != nil {
		return Stats{}, err
	}

	var s Stats
	for _, a := range fs.areas.areas {
		s.Areas = append(s.Areas, AreaStats{
			Region:  a.region,
			ID:      a.id,
			Scratch: a.isScratch(),
			GCSeq:   a.gcSeq,
			Length:  a.length,
			Used:    a.cur,
			Free:    a.free(),
		})
	}

	for _, e := range fs.hash.inodes {
		if e.flags.has(flagDummy) {
			s.DummyCount++
			continue
		}
		if e.isDir {
			s.Dirs++
		} else {
			s.Files++
		}
	}
	s.Blocks = len(fs.hash.blocks)
	return s, nil
}

// ListLostAndFound returns the names of every subdirectory currently parked
// under /lost+found, one per restore-time orphan migration.
func (fs *FS) ListLostAndFound() ([]string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.requireReady("list-lost-and-found"); err != nil {
		return nil, err
	}

	root, ok := fs.hash.getInode(rootDirID)
	if !ok {
		return nil, newErr("list-lost-and-found", KindCorrupt, nil)
	}
	lfID, exists, err := fs.findChildByName(root, []byte(lostFoundName))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	lostFound, ok := fs.hash.getInode(lfID)
	if !ok {
		return nil, newErr("list-lost-and-found", KindCorrupt, nil)
	}

	names := make([]string, 0, len(lostFound.children))
	for _, childID := range lostFound.children {
		child, ok := fs.hash.getInode(childID)
		if !ok {
			continue
		}
		name, err := fs.entryFilename(child)
		if err != nil {
			return nil, err
		}
		names = append(names, string(name))
	}
	return names, nil
}
