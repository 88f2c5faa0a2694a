package nffs

import "encoding/binary"

// areaHeaderMagic is the 128-bit constant that opens every area.
var areaHeaderMagic = [16]byte{
	0x93, 0x6f, 0x39, 0x41, 0x08, 0xd2, 0x4d, 0xbf,
	0x90, 0x27, 0x67, 0x29, 0xe2, 0xf0, 0x65, 0xa9,
}

const (
	areaHeaderSize  = 16 + 4 + 1 + 1 + 2 // magic+length+version+gc_seq+id
	areaFormatVers  = 0
	scratchAreaID   = uint16(0xFFFF)
	areaHeaderAlign = areaHeaderSize
)

// Area tracks one physical flash region. cur is the next
// free byte relative to the start of the region (not past the header);
// writes within an area must be monotonic: offset >= cur.
type Area struct {
	region int
	length uint32
	cur    uint32 // next free byte, invariant cur <= length
	id     uint16 // scratchAreaID for the scratch area
	gcSeq  uint8

	offset uint32 // informational: the descriptor's physical offset
}

func (a *Area) isScratch() bool { return a.id == scratchAreaID }
func (a *Area) free() uint32    { return a.length - a.cur }

func encodeAreaHeader(a *Area) []byte {
	buf := make([]byte, areaHeaderSize)
	copy(buf, areaHeaderMagic[:])
	binary.LittleEndian.PutUint32(buf[16:20], a.length)
	buf[20] = areaFormatVers
	buf[21] = a.gcSeq
	binary.LittleEndian.PutUint16(buf[22:24], a.id)
	return buf
}

func decodeAreaHeader(region int, offset, length uint32, buf []byte) (*Area, error) {
	if len(buf) < areaHeaderSize {
		return nil, newErr("area-header", KindRange, nil)
	}
	allOnes := true
	for _, b := range buf[:areaHeaderSize] {
		if b != 0xFF {
			allOnes = false
			break
		}
	}
	if allOnes {
		return nil, ErrEmpty // unformatted area
	}
	if string(buf[:16]) != string(areaHeaderMagic[:]) {
		return nil, newErr("area-header", KindCorrupt, nil)
	}
	a := &Area{region: region, offset: offset, length: length}
	declaredLen := binary.LittleEndian.Uint32(buf[16:20])
	if declaredLen != length {
		return nil, newErr("area-header", KindCorrupt, nil)
	}
	vers := buf[20]
	if vers != areaFormatVers {
		return nil, newErr("area-header", KindCorrupt, nil)
	}
	a.gcSeq = buf[21]
	a.id = binary.LittleEndian.Uint16(buf[22:24])
	a.cur = areaHeaderSize
	return a, nil
}

// areaManager owns the array of areas and the allocation/GC-retry policy
// over it.
type areaManager struct {
	dev   FlashDevice
	areas []*Area
	fs    *FS // back-reference so reserve() can trigger GC
}

// reserve finds a non-scratch area with enough trailing free space; on
// failure it invokes the garbage collector and retries, giving up only
// after every area has been collected once in this call.
func (am *areaManager) reserve(size uint32) (int, uint32, error) {
	attempts := 0
	need := size + am.fs.gcHeadroom
	for {
		for idx, a := range am.areas {
			if a.isScratch() {
				continue
			}
			if a.free() >= need {
				return idx, a.cur, nil
			}
		}
		if attempts >= len(am.areas) {
			return 0, 0, newErr("reserve", KindFull, nil)
		}
		attempts++
		if err := am.fs.gc.collectOne(); err != nil {
			return 0, 0, err
		}
	}
}

// write appends buf to area idx at its current cursor and advances cur.
// Write offsets must be monotonic per area.
func (am *areaManager) write(idx int, buf []byte) (uint32, error) {
	a := am.areas[idx]
	if a.cur+uint32(len(buf)) > a.length {
		return 0, newErr("area-write", KindRange, nil)
	}
	offset := a.cur
	if err := am.dev.Write(a.region, offset, buf); err != nil {
		return 0, newErr("area-write", KindFlashError, err)
	}
	a.cur = offset + uint32(len(buf))
	return offset, nil
}

func (am *areaManager) writeAt(idx int, offset uint32, buf []byte) error {
	a := am.areas[idx]
	if offset < a.cur {
		return newErr("area-write", KindRange, nil)
	}
	if offset+uint32(len(buf)) > a.length {
		return newErr("area-write", KindRange, nil)
	}
	if err := am.dev.Write(a.region, offset, buf); err != nil {
		return newErr("area-write", KindFlashError, err)
	}
	if offset+uint32(len(buf)) > a.cur {
		a.cur = offset + uint32(len(buf))
	}
	return nil
}

func (am *areaManager) read(idx int, offset uint32, buf []byte) error {
	a := am.areas[idx]
	if offset+uint32(len(buf)) > a.length {
		return newErr("area-read", KindRange, nil)
	}
	if err := am.dev.Read(a.region, offset, buf); err != nil {
		return newErr("area-read", KindFlashError, err)
	}
	return nil
}

// copy moves len bytes from one area to the tail of another, used by GC
// copy-forward. Returns the destination offset.
func (am *areaManager) copy(dstIdx int, srcIdx int, srcOffset uint32, length uint32) (uint32, error) {
	buf := make([]byte, length)
	if err := am.read(srcIdx, srcOffset, buf); err != nil {
		return 0, err
	}
	return am.write(dstIdx, buf)
}

// formatArea erases and writes a fresh header for area idx, making it
// either scratch (id == scratchAreaID) or a live area with the given id.
func (am *areaManager) formatArea(idx int, id uint16, gcSeq uint8) error {
	a := am.areas[idx]
	if err := am.dev.Erase(a.region, 0, a.length); err != nil {
		return newErr("format-area", KindFlashError, err)
	}
	a.id = id
	a.gcSeq = gcSeq
	a.cur = areaHeaderSize
	hdr := encodeAreaHeader(a)
	if err := am.dev.Write(a.region, 0, hdr); err != nil {
		return newErr("format-area", KindFlashError, err)
	}
	return nil
}

// findCorruptScratch locates a pair of live areas sharing an id, which
// indicates a GC crashed between adopting the victim's id and erasing the
// victim. It returns the index of the half-written
// destination (the one with the smaller cur) and the index of the
// authoritative source, or (-1,-1) if no such pair exists.
func (am *areaManager) findCorruptScratch() (dst int, src int) {
	seen := make(map[uint16]int)
	for idx, a := range am.areas {
		if a.isScratch() {
			continue
		}
		if other, ok := seen[a.id]; ok {
			if am.areas[idx].cur < am.areas[other].cur {
				return idx, other
			}
			return other, idx
		}
		seen[a.id] = idx
	}
	return -1, -1
}

func (am *areaManager) scratchIndex() int {
	for idx, a := range am.areas {
		if a.isScratch() {
			return idx
		}
	}
	return -1
}
