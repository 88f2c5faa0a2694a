package nffs

// ReadFile opens path for reading and returns its entire contents, a
// one-shot convenience wrapper around Open/Read/Close.
func ReadFile(fs *FS, path string) ([]byte, error) {
	h, err := fs.Open(path, ReadFlag)
	if err != nil {
		return nil, err
	}
	defer fs.Close(h)

	length, err := fs.Length(h)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	n, err := fs.Read(h, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// WriteFile creates or truncates path and writes data to it in full.
func WriteFile(fs *FS, path string, data []byte) error {
	h, err := fs.Open(path, WriteFlag|TruncateFlag)
	if err != nil {
		return err
	}
	defer fs.Close(h)
	_, err = fs.Write(h, data)
	return err
}

// AppendToFile opens path (creating it if necessary) and appends data to
// its current end.
func AppendToFile(fs *FS, path string, data []byte) error {
	h, err := fs.Open(path, WriteFlag|AppendFlag)
	if err != nil {
		return err
	}
	defer fs.Close(h)
	_, err = fs.Write(h, data)
	return err
}

// DirEntry names one child of a directory listed by ReadDir.
type DirEntry struct {
	Name  string
	IsDir bool
}

// ReadDir lists the immediate children of the directory at path, in the
// sorted order of the directory's in-RAM child list; cmd/nffsutil's ls
// and snapshot both build on it.
func (fs *FS) ReadDir(path string) ([]DirEntry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.requireReady("readdir"); err != nil {
		return nil, err
	}

	dir, _, _, err := fs.find(path)
	if err != nil {
		return nil, err
	}
	if dir == nil {
		return nil, ErrNotFound
	}
	if !dir.isDir {
		return nil, newErr("readdir", KindInvalid, nil)
	}

	entries := make([]DirEntry, 0, len(dir.children))
	for _, childID := range dir.children {
		child, ok := fs.hash.getInode(childID)
		if !ok {
			continue
		}
		name, err := fs.entryFilename(child)
		if err != nil {
			return nil, err
		}
		entries = append(entries, DirEntry{Name: string(name), IsDir: child.isDir})
	}
	return entries, nil
}
