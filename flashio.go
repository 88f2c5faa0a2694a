package nffs

// FlashDevice is the narrow interface the core consumes from the physical
// flash driver. region identifies one of the areas supplied to
// Format/Detect, by index into that descriptor list; offset is relative to
// the start of that region. The driver, not this package, owns translating
// region+offset into a physical address.
//
// Write must tolerate repeated writes to the same location as long as the
// new bits are a subset of the old ones (flash bits only clear, they never
// set, until the next Erase). Read is idempotent and has no alignment
// requirement. Erase must leave every bit in range set to 1.
type FlashDevice interface {
	Read(region int, offset uint32, buf []byte) error
	Write(region int, offset uint32, buf []byte) error
	Erase(region int, offset uint32, length uint32) error
}

// AreaDescriptor describes one physical flash region available to Format
// or Detect, addressed as FlashDevice region index = its position in the
// slice passed to those calls.
type AreaDescriptor struct {
	Offset uint32
	Length uint32
}
