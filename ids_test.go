package nffs

import "testing"

func TestObjIDKindRanges(t *testing.T) {
	cases := []struct {
		id             objID
		dir, file, blk bool
	}{
		{rootDirID, true, false, false},
		{dirIDMax - 1, true, false, false},
		{fileIDMin, false, true, false},
		{fileIDMax - 1, false, true, false},
		{blockIDMin, false, false, true},
		{idNone, false, false, false},
	}
	for _, c := range cases {
		if got := c.id.isDir(); got != c.dir {
			t.Errorf("objID(%#x).isDir() = %v, want %v", uint32(c.id), got, c.dir)
		}
		if got := c.id.isFile(); got != c.file {
			t.Errorf("objID(%#x).isFile() = %v, want %v", uint32(c.id), got, c.file)
		}
		if got := c.id.isBlock(); got != c.blk {
			t.Errorf("objID(%#x).isBlock() = %v, want %v", uint32(c.id), got, c.blk)
		}
	}
	if !idNone.isNone() {
		t.Errorf("idNone.isNone() = false")
	}
}

func TestIDAllocatorMonotonic(t *testing.T) {
	a := newIDAllocator(kindFile)
	first, err := a.allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if first != fileIDMin {
		t.Errorf("first file id = %#x, want fileIDMin", uint32(first))
	}
	second, err := a.allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if second != first+1 {
		t.Errorf("second file id = %#x, want %#x", uint32(second), uint32(first+1))
	}
}

func TestIDAllocatorDirSkipsRoot(t *testing.T) {
	a := newIDAllocator(kindDir)
	id, err := a.allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if id == rootDirID {
		t.Errorf("directory allocator issued the reserved root id")
	}
}

func TestIDAllocatorObserveFastForwards(t *testing.T) {
	a := newIDAllocator(kindBlock)
	a.observe(blockIDMin + 50)
	id, err := a.allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if id != blockIDMin+51 {
		t.Errorf("allocate after observe(%#x) = %#x, want %#x", uint32(blockIDMin+50), uint32(id), uint32(blockIDMin+51))
	}
}

func TestIDAllocatorObserveIgnoresLower(t *testing.T) {
	a := newIDAllocator(kindBlock)
	a.observe(blockIDMin + 50)
	a.observe(blockIDMin + 10)
	id, _ := a.allocate()
	if id != blockIDMin+51 {
		t.Errorf("a lower observe() regressed the allocator: next id = %#x", uint32(id))
	}
}

func TestFlashLocPacking(t *testing.T) {
	loc := makeFlashLoc(3, 0x1234)
	if loc.areaIdx() != 3 {
		t.Errorf("areaIdx() = %d, want 3", loc.areaIdx())
	}
	if loc.offset() != 0x1234 {
		t.Errorf("offset() = %#x, want 0x1234", loc.offset())
	}
	if loc.isNone() {
		t.Errorf("a packed location reported isNone()")
	}
	if !locNone.isNone() {
		t.Errorf("locNone.isNone() = false")
	}
}
