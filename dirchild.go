package nffs

import (
	"bytes"

	"golang.org/x/exp/slices"
)

// entryFilename returns the full filename for an inode entry, serving it
// from the cached prefix when the whole name fit there and otherwise
// re-reading the on-flash record.
func (fs *FS) entryFilename(e *inodeEntry) ([]byte, error) {
	if int(e.nameLen) <= cachedPrefixLen {
		return e.namePrefix[:e.nameLen], nil
	}
	rec, _, err := readInodeAt(fs.areas, e.loc.areaIdx(), e.loc.offset())
	if err != nil {
		return nil, err
	}
	return rec.filename, nil
}

func makeNamePrefix(name []byte) ([]byte, uint8) {
	n := len(name)
	if n > 255 {
		n = 255
	}
	pfx := make([]byte, cachedPrefixLen)
	copy(pfx, name)
	return pfx, uint8(n)
}

// compareNameToChild compares a candidate filename against an existing
// child's filename: lexicographic over filename bytes with length as a
// tiebreak -- exactly what bytes.Compare already does when comparing
// slices where one is a prefix of the other.
func (fs *FS) compareNameToChild(name []byte, childID objID) (int, error) {
	e, ok := fs.hash.getInode(childID)
	if !ok {
		return 0, newErr("compare-name", KindCorrupt, nil)
	}
	other, err := fs.entryFilename(e)
	if err != nil {
		return 0, err
	}
	return bytes.Compare(name, other), nil
}

// findChildInsertPos returns the index at which a child named `name` should
// be inserted into parent's sorted children slice, and whether a child with
// that exact name already exists at that index.
func (fs *FS) findChildInsertPos(parent *inodeEntry, name []byte) (int, bool, error) {
	lo, hi := 0, len(parent.children)
	for lo < hi {
		mid := (lo + hi) / 2
		cmp, err := fs.compareNameToChild(name, parent.children[mid])
		if err != nil {
			return 0, false, err
		}
		switch {
		case cmp == 0:
			return mid, true, nil
		case cmp < 0:
			hi = mid
		default:
			lo = mid + 1
		}
	}
	return lo, false, nil
}

// insertChild inserts childID into parent's sorted children list. Returns
// ErrExists if a child with the same filename is already present (spec
// invariant 6: duplicate filenames within a directory are forbidden).
func (fs *FS) insertChild(parent *inodeEntry, childID objID, name []byte) error {
	pos, exists, err := fs.findChildInsertPos(parent, name)
	if err != nil {
		return err
	}
	if exists {
		return ErrExists
	}
	parent.children = slices.Insert(parent.children, pos, childID)
	return nil
}

// removeChild deletes childID from parent's children list.
func (fs *FS) removeChild(parent *inodeEntry, childID objID) {
	idx := slices.Index(parent.children, childID)
	if idx < 0 {
		return
	}
	parent.children = slices.Delete(parent.children, idx, idx+1)
}

// findChildByName performs a lookup by name within a directory's sorted
// children.
func (fs *FS) findChildByName(parent *inodeEntry, name []byte) (objID, bool, error) {
	pos, exists, err := fs.findChildInsertPos(parent, name)
	if err != nil {
		return 0, false, err
	}
	if !exists {
		return 0, false, nil
	}
	return parent.children[pos], true, nil
}
