// Package simflash is an in-memory stand-in for physical NOR flash,
// implementing the github.com/flashkv-labs/nffs FlashDevice contract for
// tests and command-line tooling: a hand-rolled fake backing store, not a
// production driver.
package simflash

import (
	"bytes"
	"fmt"
	"io"

	"github.com/orcaman/writerseeker"
	"golang.org/x/sys/unix"
)

// Region describes one simulated flash area's offset and length within the
// device's backing buffer, mirroring nffs.AreaDescriptor without importing
// the core package (simflash only needs to be able to build one).
type Region struct {
	Offset uint32
	Length uint32
}

// Device is a flat byte buffer sliced into Regions, each independently
// readable/writable/erasable. Write enforces flash's "bits only clear"
// semantics by ANDing the new bytes into the existing ones rather
// than overwriting, so writing the same region twice without an
// intervening Erase returns no error and leaves the AND of both writes.
type Device struct {
	buf     []byte
	regions []Region
	mm      bool // true if buf is an mmap view that must be released on Close
}

// New allocates a fully-erased (all bits set) in-memory device sized to fit
// every region.
func New(regions []Region) *Device {
	size := uint32(0)
	for _, r := range regions {
		if end := r.Offset + r.Length; end > size {
			size = end
		}
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0xFF
	}
	return &Device{buf: buf, regions: append([]Region(nil), regions...)}
}

// NewMmap backs a device with an mmap'd, fully-erased region of a file
// instead of a heap buffer, so a simulated image far larger than convenient
// heap allocation (a multi-hundred-MB flash part) doesn't need to be
// resident as a single Go allocation.
func NewMmap(fd int, regions []Region) (*Device, error) {
	size := 0
	for _, r := range regions {
		if end := int(r.Offset + r.Length); end > size {
			size = end
		}
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return nil, fmt.Errorf("simflash: truncate backing file: %w", err)
	}
	buf, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("simflash: mmap: %w", err)
	}
	return &Device{buf: buf, regions: append([]Region(nil), regions...), mm: true}, nil
}

// Close releases the mmap backing a Device created by NewMmap; it is a
// no-op for heap-backed devices.
func (d *Device) Close() error {
	if !d.mm {
		return nil
	}
	return unix.Munmap(d.buf)
}

func (d *Device) span(region int, offset, length uint32) ([]byte, error) {
	if region < 0 || region >= len(d.regions) {
		return nil, fmt.Errorf("simflash: region %d out of range", region)
	}
	r := d.regions[region]
	if offset+length > r.Length {
		return nil, fmt.Errorf("simflash: region %d: offset %d+%d exceeds length %d", region, offset, length, r.Length)
	}
	start := r.Offset + offset
	return d.buf[start : start+length], nil
}

// Read implements nffs.FlashDevice.
func (d *Device) Read(region int, offset uint32, buf []byte) error {
	src, err := d.span(region, offset, uint32(len(buf)))
	if err != nil {
		return err
	}
	copy(buf, src)
	return nil
}

// Write implements nffs.FlashDevice, ANDing the new bytes into place so a
// write can only clear bits, matching real NOR flash until the next Erase.
func (d *Device) Write(region int, offset uint32, buf []byte) error {
	dst, err := d.span(region, offset, uint32(len(buf)))
	if err != nil {
		return err
	}
	for i, b := range buf {
		dst[i] &= b
	}
	return nil
}

// Erase implements nffs.FlashDevice, setting every bit in range back to 1.
func (d *Device) Erase(region int, offset uint32, length uint32) error {
	dst, err := d.span(region, offset, length)
	if err != nil {
		return err
	}
	for i := range dst {
		dst[i] = 0xFF
	}
	return nil
}

// Snapshot returns a reader over the device's entire backing buffer.
func (d *Device) Snapshot() io.Reader {
	return bytes.NewReader(d.buf)
}

// LoadSnapshot rebuilds a heap-backed Device from a previously exported
// image. It streams r through a writerseeker.WriterSeeker rather than
// requiring the caller to know the image length up front (e.g. when r is
// the tail of a decompressing xz/gzip pipe in cmd/nffsutil's
// restore-archive), then copies the assembled bytes into region-addressed
// storage.
func LoadSnapshot(r io.Reader, regions []Region) (*Device, error) {
	var ws writerseeker.WriterSeeker
	if _, err := io.Copy(&ws, r); err != nil {
		return nil, fmt.Errorf("simflash: load snapshot: %w", err)
	}
	rd, err := ws.BytesReader()
	if err != nil {
		return nil, fmt.Errorf("simflash: load snapshot: %w", err)
	}
	d := New(regions)
	if _, err := io.ReadFull(rd, d.buf[:min(len(d.buf), rd.Len())]); err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("simflash: load snapshot: %w", err)
	}
	return d, nil
}
