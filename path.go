package nffs

// pathParser yields successive '/'-delimited path components. The first
// component must be empty (the path must begin with '/'); the
// final component is tagged leaf.
type pathParser struct {
	rest string
}

type pathComponent struct {
	name []byte
	leaf bool
}

func newPathParser(path string) *pathParser {
	return &pathParser{rest: path}
}

// next yields the next component, or ok == false once the path is
// exhausted.
func (p *pathParser) next() (pathComponent, bool, error) {
	if p.rest == "" {
		return pathComponent{}, false, nil
	}
	idx := -1
	for i := 0; i < len(p.rest); i++ {
		if p.rest[i] == '/' {
			idx = i
			break
		}
	}
	var comp string
	if idx < 0 {
		comp = p.rest
		p.rest = ""
	} else {
		comp = p.rest[:idx]
		p.rest = p.rest[idx+1:]
	}
	if len(comp) > maxFilenameLen {
		return pathComponent{}, false, newErr("path-parse", KindInvalid, nil)
	}
	leaf := p.rest == ""
	return pathComponent{name: []byte(comp), leaf: leaf}, true, nil
}

// find walks components from the root directory, child by child. On
// success it returns the terminal inode entry and its direct parent. If
// the leaf component is not found, inode is nil but parent is always the
// direct parent the caller needs in order to create the missing entry.
func (fs *FS) find(path string) (inode *inodeEntry, parent *inodeEntry, leafName []byte, err error) {
	if len(path) == 0 || path[0] != '/' {
		return nil, nil, nil, newErr("find", KindInvalid, nil)
	}
	parser := newPathParser(path[1:])
	cur, ok := fs.hash.getInode(rootDirID)
	if !ok {
		return nil, nil, nil, newErr("find", KindUninitialized, nil)
	}
	if path == "/" {
		return cur, nil, nil, nil
	}
	var prevDir *inodeEntry
	for {
		comp, more, perr := parser.next()
		if perr != nil {
			return nil, nil, nil, perr
		}
		if !more {
			return cur, prevDir, leafName, nil
		}
		if !cur.isDir {
			return nil, nil, nil, newErr("find", KindNotFound, nil)
		}
		childID, exists, cerr := fs.findChildByName(cur, comp.name)
		if cerr != nil {
			return nil, nil, nil, cerr
		}
		if !exists {
			if !comp.leaf {
				return nil, nil, nil, newErr("find", KindNotFound, nil)
			}
			return nil, cur, comp.name, nil
		}
		child, ok := fs.hash.getInode(childID)
		if !ok {
			return nil, nil, nil, newErr("find", KindCorrupt, nil)
		}
		prevDir = cur
		cur = child
		leafName = comp.name
	}
}

// isAncestor reports whether candidate is dir or a descendant of dir,
// walking parent pointers from candidate upward. Used by rename to reject
// moving a directory into its own subtree.
func (fs *FS) isAncestor(dir *inodeEntry, candidate objID) bool {
	cur := candidate
	for !cur.isNone() {
		if cur == dir.id {
			return true
		}
		e, ok := fs.hash.getInode(cur)
		if !ok {
			return false
		}
		cur = e.parent
	}
	return false
}
