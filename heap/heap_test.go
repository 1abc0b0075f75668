package heap

import "testing"

func newTestHeap(t *testing.T, size int) (*Heap, []byte) {
	t.Helper()

	region := make([]byte, size)
	for i := range region {
		region[i] = "ABCDE"[i%5]
	}

	h := New()
	if err := h.Init(region); err != nil {
		t.Fatalf("Init: %v", err)
	}

	return h, region
}

func TestInitRejectsShortRegion(t *testing.T) {
	h := New()
	if err := h.Init(make([]byte, 10)); err == nil {
		t.Fatal("expected error for a 10-byte region")
	}
}

func TestInitRejectsBadPattern(t *testing.T) {
	h := New()
	region := make([]byte, 64)
	for i := range region {
		region[i] = byte(i)
	}
	if err := h.Init(region); err == nil {
		t.Fatal("expected error for a non-repeating pattern")
	}
}

func TestAllocateFreeRoundTrip(t *testing.T) {
	h, _ := newTestHeap(t, 4096)

	off := h.Allocate(128)
	if off < 0 {
		t.Fatalf("Allocate failed: %v", h.LastError())
	}

	stats := h.Stats()
	if stats.Allocated == 0 {
		t.Fatalf("expected some allocated bytes, got %+v", stats)
	}

	h.Free(off)

	stats = h.Stats()
	if stats.Allocated != 0 {
		t.Fatalf("expected no allocated bytes after Free, got %+v", stats)
	}
	if stats.BlockCount != 1 {
		t.Fatalf("expected the whole region to merge back into one free block, got %d blocks", stats.BlockCount)
	}
}

func TestAllocateRejectsOversizedRequest(t *testing.T) {
	h, region := newTestHeap(t, 128)

	if off := h.Allocate(len(region)); off >= 0 {
		t.Fatalf("expected Allocate to reject a request as large as the region, got %d", off)
	}
}

func TestAllocateRejectsZeroAndNegative(t *testing.T) {
	h, _ := newTestHeap(t, 4096)

	for _, size := range []int{0, -1} {
		if off := h.Allocate(size); off >= 0 {
			t.Fatalf("Allocate(%d) = %d, want failure", size, off)
		}
	}
}

func TestFreeMergesAdjacentBlocks(t *testing.T) {
	h, _ := newTestHeap(t, 4096)

	a := h.Allocate(64)
	b := h.Allocate(64)
	c := h.Allocate(64)

	if a < 0 || b < 0 || c < 0 {
		t.Fatalf("allocations failed: a=%d b=%d c=%d", a, b, c)
	}

	h.Free(a)
	h.Free(c)
	h.Free(b)

	stats := h.Stats()
	if stats.BlockCount != 1 {
		t.Fatalf("expected a single merged free block, got %d blocks: %+v", stats.BlockCount, stats)
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	h, _ := newTestHeap(t, 4096)

	off := h.Allocate(32)
	if off < 0 {
		t.Fatalf("Allocate failed: %v", h.LastError())
	}

	payload := []byte("hello, heap")
	if n := h.Write(off, 0, payload); n != len(payload) {
		t.Fatalf("Write = %d, want %d (err=%v)", n, len(payload), h.LastError())
	}

	buf := make([]byte, len(payload))
	if n := h.Read(off, 0, buf); n != len(payload) {
		t.Fatalf("Read = %d, want %d (err=%v)", n, len(payload), h.LastError())
	}

	if string(buf) != string(payload) {
		t.Fatalf("Read back %q, want %q", buf, payload)
	}
}

func TestWriteRejectsOutOfRange(t *testing.T) {
	h, _ := newTestHeap(t, 4096)

	off := h.Allocate(16)
	if off < 0 {
		t.Fatalf("Allocate failed: %v", h.LastError())
	}

	if n := h.Write(off, 10, []byte("too long for this tail")); n != -1 {
		t.Fatalf("Write past payload end = %d, want -1", n)
	}
}

func TestWriteAllowsPartialWriteUnderRelaxedContract(t *testing.T) {
	h, _ := newTestHeap(t, 4096)

	off := h.Allocate(16)
	if off < 0 {
		t.Fatalf("Allocate failed: %v", h.LastError())
	}

	if n := h.Write(off, 0, []byte("ab")); n != 2 {
		t.Fatalf("Write(0, 2 bytes into a 16-byte payload) = %d, want 2 (err=%v)", n, h.LastError())
	}
}

func TestResizeGrowInPlaceWhenNeighborFree(t *testing.T) {
	h, _ := newTestHeap(t, 4096)

	a := h.Allocate(64)
	b := h.Allocate(64)
	if a < 0 || b < 0 {
		t.Fatalf("allocations failed")
	}

	h.Free(b)

	grown := h.Resize(a, 100)
	if grown != a {
		t.Fatalf("Resize grown in place should keep the same offset, got %d want %d (err=%v)", grown, a, h.LastError())
	}

	buf := make([]byte, 100)
	if n := h.Read(grown, 0, buf); n != 100 {
		t.Fatalf("Read after grow = %d, want 100", n)
	}
}

func TestResizeShrinkSplitsOffFreeBlock(t *testing.T) {
	h, _ := newTestHeap(t, 4096)

	a := h.Allocate(512)
	if a < 0 {
		t.Fatalf("Allocate failed: %v", h.LastError())
	}

	shrunk := h.Resize(a, 64)
	if shrunk != a {
		t.Fatalf("Resize shrink in place should keep the same offset, got %d want %d", shrunk, a)
	}

	stats := h.Stats()
	if stats.Free == 0 {
		t.Fatalf("expected shrinking to free some bytes, got %+v", stats)
	}
}

func TestResizePreservesData(t *testing.T) {
	h, _ := newTestHeap(t, 4096)

	a := h.Allocate(64)
	if a < 0 {
		t.Fatalf("Allocate failed: %v", h.LastError())
	}

	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte(i)
	}
	if n := h.Write(a, 0, payload); n != len(payload) {
		t.Fatalf("Write failed: %d, err=%v", n, h.LastError())
	}

	grown := h.Resize(a, 256)
	if grown < 0 {
		t.Fatalf("Resize grow failed: %v", h.LastError())
	}

	buf := make([]byte, len(payload))
	if n := h.Read(grown, 0, buf); n != len(payload) {
		t.Fatalf("Read after grow = %d, want %d", n, len(payload))
	}

	for i := range payload {
		if buf[i] != payload[i] {
			t.Fatalf("byte %d changed across Resize: got %d want %d", i, buf[i], payload[i])
		}
	}
}

func TestResizeToZeroFreesAndReturnsNull(t *testing.T) {
	h, _ := newTestHeap(t, 4096)

	a := h.Allocate(64)
	if a < 0 {
		t.Fatalf("Allocate failed: %v", h.LastError())
	}

	if q := h.Resize(a, 0); q != nullOffset {
		t.Fatalf("Resize(a, 0) = %d, want nullOffset", q)
	}

	stats := h.Stats()
	if stats.Allocated != 0 {
		t.Fatalf("expected the block to be freed, got %+v", stats)
	}
}

func TestResizeFromNullAllocates(t *testing.T) {
	h, _ := newTestHeap(t, 4096)

	off := h.Resize(nullOffset, 64)
	if off < 0 {
		t.Fatalf("Resize(nullOffset, 64) failed: %v", h.LastError())
	}

	stats := h.Stats()
	if stats.Allocated == 0 {
		t.Fatalf("expected an allocation, got %+v", stats)
	}
}

func TestDoubleFreeIsRejected(t *testing.T) {
	h, _ := newTestHeap(t, 4096)

	a := h.Allocate(64)
	if a < 0 {
		t.Fatalf("Allocate failed: %v", h.LastError())
	}

	h.Free(a)
	h.Free(a)

	if h.LastError() == nil {
		t.Fatal("expected LastError to be set after a double free")
	}
}

func TestCorruptedHeaderIsQuarantined(t *testing.T) {
	h, region := newTestHeap(t, 4096)

	off := h.Allocate(64)
	if off < 0 {
		t.Fatalf("Allocate failed: %v", h.LastError())
	}

	// Flip a bit in the header's size field directly, bypassing Write.
	region[off-headerSize] ^= 0x01

	if n := h.Read(off, 0, make([]byte, 1)); n != -1 {
		t.Fatalf("Read of a corrupted block = %d, want -1", n)
	}
	if h.LastError() != ErrCorrupt {
		t.Fatalf("LastError = %v, want ErrCorrupt", h.LastError())
	}

	// A second read must still see the block as corrupt; quarantine is
	// permanent.
	if n := h.Read(off, 0, make([]byte, 1)); n != -1 {
		t.Fatalf("Read of a quarantined block = %d, want -1", n)
	}
}

func TestWalkCoversWholeRegion(t *testing.T) {
	h, region := newTestHeap(t, 4096)

	h.Allocate(64)
	h.Allocate(128)

	total := 0
	h.Walk(func(b BlockInfo) {
		total += b.Size
	})

	if total != len(region) {
		t.Fatalf("Walk covered %d bytes, want %d", total, len(region))
	}
}
