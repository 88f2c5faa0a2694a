package simflash_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/flashkv-labs/nffs/simflash"
)

func tworegion() []simflash.Region {
	return []simflash.Region{
		{Offset: 0, Length: 64},
		{Offset: 64, Length: 64},
	}
}

func TestNewIsFullyErased(t *testing.T) {
	d := simflash.New(tworegion())
	buf := make([]byte, 64)
	if err := d.Read(0, 0, buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, b := range buf {
		if b != 0xFF {
			t.Fatalf("byte %d = %#x, want 0xff on a freshly erased device", i, b)
		}
	}
}

func TestWriteOnlyClearsBits(t *testing.T) {
	d := simflash.New(tworegion())
	if err := d.Write(0, 0, []byte{0x0F}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// A second write can only clear further bits, never set ones back to 1.
	if err := d.Write(0, 0, []byte{0xF0}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 1)
	if err := d.Read(0, 0, buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if buf[0] != 0x00 {
		t.Errorf("after ANDing 0x0f then 0xf0, byte = %#x, want 0x00", buf[0])
	}
}

func TestEraseResetsToAllOnes(t *testing.T) {
	d := simflash.New(tworegion())
	if err := d.Write(0, 0, []byte{0x00, 0x00}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := d.Erase(0, 0, 2); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	buf := make([]byte, 2)
	if err := d.Read(0, 0, buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if buf[0] != 0xFF || buf[1] != 0xFF {
		t.Errorf("after Erase, bytes = %x, want ff ff", buf)
	}
}

func TestRegionsAreIndependentlyAddressed(t *testing.T) {
	d := simflash.New(tworegion())
	if err := d.Write(0, 0, []byte("hello")); err != nil {
		t.Fatalf("Write region 0: %v", err)
	}
	buf := make([]byte, 5)
	if err := d.Read(1, 0, buf); err != nil {
		t.Fatalf("Read region 1: %v", err)
	}
	for i, b := range buf {
		if b != 0xFF {
			t.Errorf("region 1 byte %d = %#x, want 0xff (unaffected by region 0's write)", i, b)
		}
	}
}

func TestSpanRejectsOutOfRange(t *testing.T) {
	d := simflash.New(tworegion())
	buf := make([]byte, 8)
	if err := d.Read(0, 60, buf); err == nil {
		t.Errorf("Read spanning past a region's length should fail")
	}
	if err := d.Read(5, 0, buf); err == nil {
		t.Errorf("Read with an out-of-range region index should fail")
	}
}

func TestSnapshotAndLoadSnapshotRoundTrip(t *testing.T) {
	d := simflash.New(tworegion())
	if err := d.Write(0, 0, []byte("snapshot-me")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	snap, err := io.ReadAll(d.Snapshot())
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}

	d2, err := simflash.LoadSnapshot(bytes.NewReader(snap), tworegion())
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	buf := make([]byte, len("snapshot-me"))
	if err := d2.Read(0, 0, buf); err != nil {
		t.Fatalf("Read after LoadSnapshot: %v", err)
	}
	if string(buf) != "snapshot-me" {
		t.Errorf("content after snapshot round trip = %q, want %q", buf, "snapshot-me")
	}
}
