package nffs

import "encoding/binary"

// Record layouts are byte-exact on flash. Every record starts with a common
// prefix of magic32+id32+seq32; inode and block records each add their own
// fixed fields followed by a CRC-16 and finally their variable-length tail
// (filename bytes, or block payload).
const (
	inodeMagic uint32 = 0x6e666e69 // "infn" as little-endian bytes on flash
	blockMagic uint32 = 0x6e666e62 // "bnfn" as little-endian bytes on flash

	commonHdrSize = 4 + 4 + 4 // magic, id, seq

	inodeFixedSize = commonHdrSize + 4 + 2 + 1 + 1 + 2 // + parent_id, flags, reserved, filename_len, crc
	blockFixedSize = commonHdrSize + 4 + 4 + 2 + 2 + 2  // + prev_id, inode_id, data_len, flags, crc

	maxFilenameLen = 255
)

// inodeRecord is the decoded on-flash shape of an inode.
type inodeRecord struct {
	id       objID
	seq      uint32
	parentID objID
	flags    inodeFlags
	filename []byte
}

// blockRecord is the decoded on-flash shape of a data block header; the
// payload is read separately by the caller once data_len is known.
type blockRecord struct {
	id       objID
	seq      uint32
	prevID   objID
	inodeID  objID
	dataLen  uint16
	flags    blockFlags
}

func encodeInodeRecord(r *inodeRecord) []byte {
	if len(r.filename) > maxFilenameLen {
		panic("nffs: filename too long")
	}
	buf := make([]byte, inodeFixedSize+len(r.filename))
	binary.LittleEndian.PutUint32(buf[0:4], inodeMagic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.id))
	binary.LittleEndian.PutUint32(buf[8:12], r.seq)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(r.parentID))
	binary.LittleEndian.PutUint16(buf[16:18], uint16(r.flags))
	buf[18] = 0 // reserved
	buf[19] = byte(len(r.filename))
	copy(buf[inodeFixedSize:], r.filename)
	crc := crc16Of(buf[:20], buf[inodeFixedSize:])
	binary.LittleEndian.PutUint16(buf[20:22], crc)
	return buf
}

// decodedInodeHeader is the fixed portion of an inode record plus the two
// values needed to read and verify its variable tail.
type decodedInodeHeader struct {
	rec         *inodeRecord
	filenameLen uint8
	crc         uint16
}

// decodeInodeHeader decodes the fixed portion of an inode record from buf,
// which must be at least inodeFixedSize bytes; it does not validate the CRC
// (the caller reads the filename tail using filenameLen, then calls
// verifyInodeCRC).
func decodeInodeHeader(buf []byte) (*decodedInodeHeader, error) {
	if len(buf) < commonHdrSize {
		return nil, newErr("decode-inode", KindRange, nil)
	}
	if isErasedWord(buf[0:4]) {
		return nil, ErrEmpty
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != inodeMagic {
		return nil, newErr("decode-inode", KindUnexpected, nil)
	}
	if len(buf) < inodeFixedSize {
		return nil, newErr("decode-inode", KindRange, nil)
	}
	r := &inodeRecord{
		id:       objID(binary.LittleEndian.Uint32(buf[4:8])),
		seq:      binary.LittleEndian.Uint32(buf[8:12]),
		parentID: objID(binary.LittleEndian.Uint32(buf[12:16])),
		flags:    inodeFlags(binary.LittleEndian.Uint16(buf[16:18])),
	}
	return &decodedInodeHeader{
		rec:         r,
		filenameLen: buf[19],
		crc:         binary.LittleEndian.Uint16(buf[20:22]),
	}, nil
}

func verifyInodeCRC(hdr []byte, filename []byte, wantCRC uint16) error {
	got := crc16Of(hdr[:20], filename)
	if got != wantCRC {
		return newErr("decode-inode", KindCorrupt, nil)
	}
	return nil
}

func encodeBlockRecord(r *blockRecord, payload []byte) []byte {
	buf := make([]byte, blockFixedSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], blockMagic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.id))
	binary.LittleEndian.PutUint32(buf[8:12], r.seq)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(r.prevID))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(r.inodeID))
	binary.LittleEndian.PutUint16(buf[20:22], r.dataLen)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(r.flags))
	copy(buf[blockFixedSize:], payload)
	crc := crc16Of(buf[:24], payload)
	binary.LittleEndian.PutUint16(buf[24:26], crc)
	return buf
}

func decodeBlockHeader(buf []byte) (*blockRecord, uint16, error) {
	if len(buf) < commonHdrSize {
		return nil, 0, newErr("decode-block", KindRange, nil)
	}
	if isErasedWord(buf[0:4]) {
		return nil, 0, ErrEmpty
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != blockMagic {
		return nil, 0, newErr("decode-block", KindUnexpected, nil)
	}
	if len(buf) < blockFixedSize {
		return nil, 0, newErr("decode-block", KindRange, nil)
	}
	r := &blockRecord{
		id:      objID(binary.LittleEndian.Uint32(buf[4:8])),
		seq:     binary.LittleEndian.Uint32(buf[8:12]),
		prevID:  objID(binary.LittleEndian.Uint32(buf[12:16])),
		inodeID: objID(binary.LittleEndian.Uint32(buf[16:20])),
		dataLen: binary.LittleEndian.Uint16(buf[20:22]),
		flags:   blockFlags(binary.LittleEndian.Uint16(buf[22:24])),
	}
	crc := binary.LittleEndian.Uint16(buf[24:26])
	return r, crc, nil
}

func verifyBlockCRC(hdr []byte, payload []byte, wantCRC uint16) error {
	got := crc16Of(hdr[:24], payload)
	if got != wantCRC {
		return newErr("decode-block", KindCorrupt, nil)
	}
	return nil
}

func isErasedWord(buf []byte) bool {
	for _, b := range buf {
		if b != 0xFF {
			return false
		}
	}
	return true
}
