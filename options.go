package nffs

// Option configures a FS at Format or Detect time, using the same
// functional-options shape as a Superblock configurator.
type Option func(fs *FS) error

// WithBucketHint sizes the initial hash index allocation. Purely an
// optimization; the default is appropriate for small to medium flash
// devices.
func WithBucketHint(n int) Option {
	return func(fs *FS) error {
		if n < 0 {
			return newErr("option", KindInvalid, nil)
		}
		fs.bucketHint = n
		return nil
	}
}

// WithBlockMaxDataSz sets the target maximum payload size for a single data
// block. Writes longer than this are split across
// multiple blocks. Restore may shrink this value to fit the smallest area
// actually present; Format does not check it against the area sizes.
func WithBlockMaxDataSz(n uint32) Option {
	return func(fs *FS) error {
		if n == 0 {
			return newErr("option", KindInvalid, nil)
		}
		fs.blockMaxDataSz = n
		return nil
	}
}

// WithGCHeadroom reserves extra free bytes on top of a requested
// reservation before area.reserve() gives up and invokes the garbage
// collector, so a GC pass always has room to land its copy-forward writes
// even on a device running close to full.
func WithGCHeadroom(n uint32) Option {
	return func(fs *FS) error {
		fs.gcHeadroom = n
		return nil
	}
}
