// Package nffs implements a flash-resident, log-structured file system for
// small embedded devices backed by NOR-style flash memory.
//
// The package owns the on-flash object format (areas, inodes, data blocks),
// the in-memory hash index that mirrors it, the allocator and copy-forward
// garbage collector that recycle areas through a reserved scratch area, the
// crash-recovery procedure that rebuilds the index from flash, and a
// read-through block cache. Callers drive it through Open/Close/Read/Write/
// Seek/Rename/Unlink/Mkdir; POSIX call wrappers, shell integration and the
// physical flash driver all live outside this package.
package nffs
