package nffs

import "strings"

// AccessFlags controls how Open interprets a path and positions the
// resulting handle. Combinable; AppendFlag implies WriteFlag. AppendFlag
// and TruncateFlag are mutually exclusive.
type AccessFlags uint8

const (
	ReadFlag AccessFlags = 1 << iota
	WriteFlag
	AppendFlag
	TruncateFlag
)

func (f AccessFlags) Has(what AccessFlags) bool { return f&what == what }

func (f AccessFlags) String() string {
	var opt []string
	if f.Has(ReadFlag) {
		opt = append(opt, "READ")
	}
	if f.Has(WriteFlag) {
		opt = append(opt, "WRITE")
	}
	if f.Has(AppendFlag) {
		opt = append(opt, "APPEND")
	}
	if f.Has(TruncateFlag) {
		opt = append(opt, "TRUNCATE")
	}
	return strings.Join(opt, "|")
}

func (f AccessFlags) validate() error {
	if f.Has(AppendFlag) && f.Has(TruncateFlag) {
		return newErr("open", KindInvalid, nil)
	}
	if !f.Has(ReadFlag) && !f.Has(WriteFlag) && !f.Has(AppendFlag) {
		return newErr("open", KindInvalid, nil)
	}
	return nil
}

// inodeFlags are the on-flash inode record flags: bit0=deleted,
// bit1=directory.
type inodeFlags uint16

const (
	flagDeleted inodeFlags = 1 << iota
	flagDirectory
	flagDummy // in-memory only, never written to flash
)

func (f inodeFlags) has(what inodeFlags) bool { return f&what == what }

// blockFlags is reserved on-flash space in the block record's "flags"
// field; the core defines no bits in it yet, but the field round-trips
// through the codec so a future revision can add some without breaking the
// on-disk layout.
type blockFlags uint16
