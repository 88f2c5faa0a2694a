package nffs

// This file bridges the pure codec (codec.go) with flash I/O (area.go): it
// reads a full variable-length record at a given flash location, handling
// the two-phase fixed-header-then-tail shape both record types share.

// readInodeAt reads and CRC-validates the inode record at (areaIdx, offset)
// and returns it along with the total on-flash size of the record.
func readInodeAt(am *areaManager, areaIdx int, offset uint32) (*inodeRecord, uint32, error) {
	hdrBuf := make([]byte, inodeFixedSize)
	if err := am.read(areaIdx, offset, hdrBuf); err != nil {
		return nil, 0, err
	}
	dec, err := decodeInodeHeader(hdrBuf)
	if err != nil {
		return nil, 0, err
	}
	filename := make([]byte, dec.filenameLen)
	if dec.filenameLen > 0 {
		if err := am.read(areaIdx, offset+inodeFixedSize, filename); err != nil {
			return nil, 0, err
		}
	}
	if err := verifyInodeCRC(hdrBuf, filename, dec.crc); err != nil {
		return nil, 0, err
	}
	dec.rec.filename = filename
	return dec.rec, inodeFixedSize + uint32(dec.filenameLen), nil
}

// readBlockHeaderAt reads and CRC-validates a block's fixed header plus its
// payload at (areaIdx, offset), returning the record, the payload, and the
// total on-flash size.
func readBlockHeaderAt(am *areaManager, areaIdx int, offset uint32) (*blockRecord, []byte, uint32, error) {
	hdrBuf := make([]byte, blockFixedSize)
	if err := am.read(areaIdx, offset, hdrBuf); err != nil {
		return nil, nil, 0, err
	}
	rec, crc, err := decodeBlockHeader(hdrBuf)
	if err != nil {
		return nil, nil, 0, err
	}
	payload := make([]byte, rec.dataLen)
	if rec.dataLen > 0 {
		if err := am.read(areaIdx, offset+blockFixedSize, payload); err != nil {
			return nil, nil, 0, err
		}
	}
	if err := verifyBlockCRC(hdrBuf, payload, crc); err != nil {
		return nil, nil, 0, err
	}
	return rec, payload, blockFixedSize + uint32(rec.dataLen), nil
}

// writeInode appends a full inode record to area idx and returns its offset.
func writeInode(am *areaManager, idx int, rec *inodeRecord) (uint32, error) {
	buf := encodeInodeRecord(rec)
	return am.write(idx, buf)
}

// writeBlock appends a full block record to area idx and returns its offset.
func writeBlock(am *areaManager, idx int, rec *blockRecord, payload []byte) (uint32, error) {
	buf := encodeBlockRecord(rec, payload)
	return am.write(idx, buf)
}
