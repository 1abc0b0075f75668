package heap

import (
	"errors"
	"fmt"
)

// Sentinel errors returned via LastError after an operation that failed
// for a reason more specific than "return -1". The low-level operations
// themselves never return an error value — they keep the original
// return-value contract (-1 / nullOffset on failure) — LastError is a
// secondary observability hook a caller can check after a failure to see
// why, without changing any call site that ignores it.
var (
	ErrNotInitialized = errors.New("heap: not initialized")
	ErrRegionTooSmall = errors.New("heap: region too small")
	ErrBadPattern     = errors.New("heap: region does not start with a repeating 5-byte pattern")
	ErrOutOfRegion    = errors.New("heap: offset outside region")
	ErrNotAllocated   = errors.New("heap: offset does not name an allocated block")
	ErrCorrupt        = errors.New("heap: header failed checksum validation")
	ErrBadSize        = errors.New("heap: requested size out of range")
)

// Exported status values, for callers of Walk.
const (
	StatusFree        = statusFree
	StatusAllocated   = statusAllocated
	StatusQuarantined = statusQuarantined
)

// Heap is a corruption-aware allocator over a caller-supplied byte region.
// A zero Heap is not usable; construct one with New and call Init before
// any other method. A Heap is not safe for concurrent use — callers
// needing one allocator per goroutine should construct one Heap each.
type Heap struct {
	region   []byte
	freeHead int64
	pattern  [5]byte
	lastErr  error

	doubleFreeRejections int
	corruptionEvents     int
}

// New returns an uninitialized Heap. Call Init before using it.
func New() *Heap {
	return &Heap{freeHead: nullOffset}
}

// Stats summarizes the current state of a Heap, derived by walking every
// block once. It exists for introspection and testing; nothing in the
// allocator itself consults it.
type Stats struct {
	Allocated   int
	Free        int
	Quarantined int
	LargestFree int
	BlockCount  int
}

// BlockInfo describes a single block as seen by Walk. Offset is the
// block's start, which for an allocated block sits HeaderOffset-Offset
// bytes of padding before its header; for a free block the two are
// always equal.
type BlockInfo struct {
	Offset       int
	HeaderOffset int
	Size         int
	Status       byte
}

func (h *Heap) fail(err error) {
	h.lastErr = err
}

// LastError returns the error recorded by the most recent call that
// failed, or nil if the most recent call succeeded. It is reset to nil at
// the start of every call that can fail. An Allocate, or a Resize that has
// to move its block, that fails only because no free block is large
// enough records no error, so LastError is nil after it.
func (h *Heap) LastError() error {
	return h.lastErr
}

// DoubleFreeRejections returns the number of Free calls, since the most
// recent Init, rejected because their offset did not name a live
// allocated block.
func (h *Heap) DoubleFreeRejections() int {
	return h.doubleFreeRejections
}

// CorruptionEvents returns the number of checksum failures observed by
// Read, Write, Free, or Resize, since the most recent Init.
func (h *Heap) CorruptionEvents() int {
	return h.corruptionEvents
}

// Init prepares region for use as a heap. The first 20 bytes of region
// must hold a 5-byte pattern repeated four times; Init captures that
// pattern and uses it to seed every byte this allocator is not actively
// using for header, free-list, or payload bookkeeping, so unused bytes
// are recognizably filler rather than stale data.
func (h *Heap) Init(region []byte) error {
	h.lastErr = nil

	if len(region) < 20 {
		err := fmt.Errorf("%w: need at least 20 bytes, got %d", ErrRegionTooSmall, len(region))
		h.fail(err)
		return err
	}

	var pattern [5]byte
	copy(pattern[:], region[0:5])

	for i := 0; i < 20; i++ {
		if region[i] != pattern[i%5] {
			h.fail(ErrBadPattern)
			return ErrBadPattern
		}
	}

	if len(region) < headerSize+freeNodeSize {
		err := fmt.Errorf("%w: need at least %d bytes to hold one block, got %d", ErrRegionTooSmall, headerSize+freeNodeSize, len(region))
		h.fail(err)
		return err
	}

	h.region = region
	h.pattern = pattern
	h.freeHead = nullOffset
	h.doubleFreeRejections = 0
	h.corruptionEvents = 0

	hdr := headerAt(region, 0)
	hdr.setSize(uint64(len(region)))
	hdr.setStatus(statusFree)
	hdr.setPadding(0)

	h.freeListInsert(0)
	h.seedFreeFill(0)
	stampChecksum(region, 0)

	return nil
}

// Allocate reserves size payload bytes and returns their offset, or
// nullOffset if no free block is large enough or size is out of range.
func (h *Heap) Allocate(size int) int {
	h.lastErr = nil

	if h.region == nil {
		h.fail(ErrNotInitialized)
		return nullOffset
	}

	if size <= 0 || size > len(h.region)-headerSize {
		h.fail(ErrBadSize)
		return nullOffset
	}

	hdrOff, ok := h.findBestFit(size)
	if !ok {
		return nullOffset
	}

	h.freeListRemove(hdrOff)

	padding := paddingFor(hdrOff)
	used := padding + headerSize + size
	available := int(headerAt(h.region, hdrOff).size())
	remainder := available - used

	if remainder >= minSplitSize {
		newFreeOff := hdrOff + used
		newFreeHdr := headerAt(h.region, newFreeOff)
		newFreeHdr.setSize(uint64(remainder))
		newFreeHdr.setStatus(statusFree)
		newFreeHdr.setPadding(0)

		h.freeListInsert(newFreeOff)
		h.seedFreeFill(newFreeOff)
		stampChecksum(h.region, newFreeOff)
	} else {
		size += remainder
	}

	for i := 0; i < padding; i++ {
		abs := hdrOff + i
		h.region[abs] = h.pattern[abs%5]
	}

	allocOff := hdrOff + padding
	hdr := headerAt(h.region, allocOff)
	hdr.setSize(uint64(size))
	hdr.setStatus(statusAllocated)
	hdr.setPadding(byte(padding))
	stampChecksum(h.region, allocOff)

	return payloadOffset(allocOff)
}

// headerForPayload validates payloadOff as naming a live, uncorrupted
// allocated block and returns its header offset. On failure it records
// LastError and returns (0, false).
func (h *Heap) headerForPayload(payloadOff int) (int, bool) {
	if h.region == nil {
		h.fail(ErrNotInitialized)
		return 0, false
	}

	if payloadOff < headerSize || payloadOff > len(h.region) {
		h.fail(ErrOutOfRegion)
		return 0, false
	}

	hdrOff := payloadOff - headerSize
	if !validate(h.region, hdrOff) {
		h.corruptionEvents++
		h.fail(ErrCorrupt)
		return 0, false
	}

	hdr := headerAt(h.region, hdrOff)
	if hdr.status() != statusAllocated {
		h.fail(ErrNotAllocated)
		return 0, false
	}

	return hdrOff, true
}

// findFreeNeighbors scans the free list once for the blocks immediately
// to the left and right of [blockStart, nextHdrOff), identified the same
// way spec.md's Free and Resize both do: a free block is the right
// neighbor iff its header sits exactly at nextHdrOff, and the left
// neighbor iff its header offset plus its size equals blockStart.
func (h *Heap) findFreeNeighbors(blockStart, nextHdrOff int) (leftOff, rightOff int) {
	leftOff, rightOff = nullOffset, nullOffset

	h.freeListEach(func(c int) bool {
		chdr := headerAt(h.region, c)

		if c == nextHdrOff {
			rightOff = c
		}

		if c+int(chdr.size()) == blockStart {
			leftOff = c
		}

		return true
	})

	return leftOff, rightOff
}

// Free releases the block at payloadOff, merging it with any adjacent
// free neighbors. Freeing nullOffset is a no-op. Freeing an offset that
// does not name a live allocated block, or whose header fails checksum
// validation, is recorded via LastError and otherwise ignored.
func (h *Heap) Free(payloadOff int) {
	h.lastErr = nil

	if payloadOff == nullOffset {
		return
	}

	// The status byte is checked before validation, so a stale offset that
	// now points into a free block is rejected without quarantining bytes
	// that belong to that block.
	if h.region != nil && payloadOff >= headerSize && payloadOff <= len(h.region) &&
		headerAt(h.region, payloadOff-headerSize).status() != statusAllocated {
		h.fail(ErrNotAllocated)
		h.doubleFreeRejections++
		return
	}

	hdrOff, ok := h.headerForPayload(payloadOff)
	if !ok {
		if h.lastErr == ErrNotAllocated {
			h.doubleFreeRejections++
		}
		return
	}

	hdr := headerAt(h.region, hdrOff)
	padding := int(hdr.padding())
	size := int(hdr.size())
	blockStart := hdrOff - padding
	nextHdrOff := hdrOff + headerSize + size

	leftOff, rightOff := h.findFreeNeighbors(blockStart, nextHdrOff)

	mergedOff := blockStart
	mergedSize := nextHdrOff - blockStart

	if rightOff != nullOffset {
		h.freeListRemove(rightOff)
		mergedSize += int(headerAt(h.region, rightOff).size())
	}

	if leftOff != nullOffset {
		h.freeListRemove(leftOff)
		mergedSize += int(headerAt(h.region, leftOff).size())
		mergedOff = leftOff
	}

	mhdr := headerAt(h.region, mergedOff)
	mhdr.setStatus(statusFree)
	mhdr.setPadding(0)
	mhdr.setSize(uint64(mergedSize))

	h.freeListInsert(mergedOff)
	h.seedFreeFill(mergedOff)
	stampChecksum(h.region, mergedOff)
}

// Read copies up to len(out) bytes from the block at payloadOff starting
// at offset, and returns the number of bytes copied, or -1 if payloadOff
// does not name a live block or offset is out of range for it.
func (h *Heap) Read(payloadOff, offset int, out []byte) int {
	h.lastErr = nil

	if payloadOff == nullOffset {
		h.fail(ErrOutOfRegion)
		return -1
	}

	hdrOff, ok := h.headerForPayload(payloadOff)
	if !ok {
		return -1
	}

	size := int(headerAt(h.region, hdrOff).size())
	if offset < 0 || offset > size {
		h.fail(ErrOutOfRegion)
		return -1
	}

	if len(out) == 0 || offset == size {
		return 0
	}

	available := size - offset
	toRead := len(out)
	if toRead > available {
		toRead = available
	}

	copy(out[:toRead], h.region[payloadOff+offset:payloadOff+offset+toRead])
	return toRead
}

// Write copies up to len(src) bytes into the block at payloadOff starting
// at offset, and returns the number of bytes copied, or -1 if payloadOff
// does not name a live block or the write would run past the end of the
// payload (offset+len(src) > size).
func (h *Heap) Write(payloadOff, offset int, src []byte) int {
	h.lastErr = nil

	if payloadOff == nullOffset {
		h.fail(ErrOutOfRegion)
		return -1
	}

	hdrOff, ok := h.headerForPayload(payloadOff)
	if !ok {
		return -1
	}

	size := int(headerAt(h.region, hdrOff).size())
	if offset < 0 || offset > size || offset+len(src) > size {
		h.fail(ErrOutOfRegion)
		return -1
	}

	if len(src) == 0 || offset == size {
		return 0
	}

	copy(h.region[payloadOff+offset:payloadOff+offset+len(src)], src)
	stampChecksum(h.region, hdrOff)

	return len(src)
}

// Resize changes the block at payloadOff to hold newSize payload bytes
// and returns the (possibly different) offset of the resulting payload,
// or nullOffset on failure. Resize(nullOffset, n) behaves like
// Allocate(n); Resize(p, 0) behaves like Free(p) and returns nullOffset.
func (h *Heap) Resize(payloadOff, newSize int) int {
	h.lastErr = nil

	if payloadOff == nullOffset {
		return h.Allocate(newSize)
	}

	if newSize == 0 {
		h.Free(payloadOff)
		return nullOffset
	}

	if newSize < 0 {
		h.fail(ErrBadSize)
		return nullOffset
	}

	hdrOff, ok := h.headerForPayload(payloadOff)
	if !ok {
		return nullOffset
	}

	hdr := headerAt(h.region, hdrOff)
	size := int(hdr.size())

	if newSize == size {
		return payloadOff
	}

	if newSize > size {
		return h.resizeGrow(hdrOff, payloadOff, size, newSize)
	}

	return h.resizeShrink(hdrOff, payloadOff, size, newSize)
}

func (h *Heap) resizeGrow(hdrOff, payloadOff, size, newSize int) int {
	hdr := headerAt(h.region, hdrOff)
	padding := int(hdr.padding())
	blockStart := hdrOff - padding
	delta := newSize - size
	nextHdrOff := hdrOff + headerSize + size

	leftOff, rightOff := h.findFreeNeighbors(blockStart, nextHdrOff)

	if rightOff != nullOffset {
		rsize := int(headerAt(h.region, rightOff).size())

		if rsize >= delta {
			h.freeListRemove(rightOff)
			residual := rsize - delta
			grown := newSize

			if residual >= minSplitSize {
				newFreeOff := rightOff + delta
				nfhdr := headerAt(h.region, newFreeOff)
				nfhdr.setSize(uint64(residual))
				nfhdr.setStatus(statusFree)
				nfhdr.setPadding(0)
				h.freeListInsert(newFreeOff)
				h.seedFreeFill(newFreeOff)
				stampChecksum(h.region, newFreeOff)
			} else {
				grown += residual
			}

			hdr.setSize(uint64(grown))
			stampChecksum(h.region, hdrOff)
			return payloadOff
		}
	}

	if leftOff != nullOffset && delta%alignment == 0 {
		if q, ok := h.resizeGrowBackward(hdrOff, payloadOff, size, newSize, leftOff); ok {
			return q
		}
	}

	return h.resizeFallback(payloadOff, size, newSize)
}

// resizeGrowBackward grows a block by eating into its left free
// neighbor, keeping the block's end fixed and shifting its header and
// payload backward by exactly delta (newSize-size). This only works
// cleanly when delta is a multiple of the payload alignment, since the
// shifted payload must land on the same 40-byte grid as every other
// payload in the heap; resizeGrow falls back to allocate-copy-free for
// any delta that is not.
func (h *Heap) resizeGrowBackward(hdrOff, payloadOff, size, newSize, leftOff int) (int, bool) {
	delta := newSize - size
	newHdrOff := hdrOff - delta

	leftHdr := headerAt(h.region, leftOff)
	leftSize := int(leftHdr.size())
	leftRemaining := newHdrOff - leftOff

	if leftRemaining < 0 {
		return 0, false
	}
	if leftRemaining > leftSize {
		return 0, false
	}

	h.freeListRemove(leftOff)

	var finalPadding int
	if leftRemaining >= minSplitSize {
		shrunk := headerAt(h.region, leftOff)
		shrunk.setSize(uint64(leftRemaining))
		shrunk.setStatus(statusFree)
		shrunk.setPadding(0)
		h.freeListInsert(leftOff)
		h.seedFreeFill(leftOff)
		stampChecksum(h.region, leftOff)
		finalPadding = 0
	} else {
		finalPadding = leftRemaining
	}

	newPayloadOff := payloadOffset(newHdrOff)
	copy(h.region[newPayloadOff:newPayloadOff+size], h.region[payloadOff:payloadOff+size])

	for i := 0; i < finalPadding; i++ {
		abs := newHdrOff - finalPadding + i
		h.region[abs] = h.pattern[abs%5]
	}

	fhdr := headerAt(h.region, newHdrOff)
	fhdr.setSize(uint64(newSize))
	fhdr.setStatus(statusAllocated)
	fhdr.setPadding(byte(finalPadding))
	stampChecksum(h.region, newHdrOff)

	return newPayloadOff, true
}

func (h *Heap) resizeShrink(hdrOff, payloadOff, size, newSize int) int {
	hdr := headerAt(h.region, hdrOff)
	delta := size - newSize
	nextHdrOff := hdrOff + headerSize + size
	blockStart := hdrOff - int(hdr.padding())

	_, rightOff := h.findFreeNeighbors(blockStart, nextHdrOff)

	if rightOff != nullOffset {
		h.freeListRemove(rightOff)
		rsize := int(headerAt(h.region, rightOff).size())

		newFreeOff := payloadOff + newSize
		nfhdr := headerAt(h.region, newFreeOff)
		nfhdr.setSize(uint64(delta + rsize))
		nfhdr.setStatus(statusFree)
		nfhdr.setPadding(0)
		h.freeListInsert(newFreeOff)
		h.seedFreeFill(newFreeOff)
		stampChecksum(h.region, newFreeOff)

		hdr.setSize(uint64(newSize))
		stampChecksum(h.region, hdrOff)
		return payloadOff
	}

	if delta >= minSplitSize {
		newFreeOff := payloadOff + newSize
		nfhdr := headerAt(h.region, newFreeOff)
		nfhdr.setSize(uint64(delta))
		nfhdr.setStatus(statusFree)
		nfhdr.setPadding(0)
		h.freeListInsert(newFreeOff)
		h.seedFreeFill(newFreeOff)
		stampChecksum(h.region, newFreeOff)

		hdr.setSize(uint64(newSize))
		stampChecksum(h.region, hdrOff)
		return payloadOff
	}

	return h.resizeFallback(payloadOff, size, newSize)
}

func (h *Heap) resizeFallback(payloadOff, size, newSize int) int {
	qOff := h.Allocate(newSize)
	if qOff == nullOffset {
		return nullOffset
	}

	copyLen := size
	if newSize < copyLen {
		copyLen = newSize
	}

	copy(h.region[qOff:qOff+copyLen], h.region[payloadOff:payloadOff+copyLen])
	stampChecksum(h.region, qOff-headerSize)
	h.Free(payloadOff)

	return qOff
}

// headerOffsetForBlockStart locates the header of the block beginning at
// blockStart without assuming whether that block is free or allocated.
// A free block's header sits exactly at blockStart; an allocated block's
// header sits paddingFor(blockStart) bytes later, behind its own leading
// padding. Both candidates are probed with the non-mutating checksumOK
// rather than validate, since a wrong guess is not a corrupt header —
// it may just be padding or payload bytes — and must not be quarantined.
// A candidate is accepted only once its own fields confirm it belongs to
// a block starting exactly at blockStart, guarding against the
// astronomically unlikely case that the wrong guess happens to pass its
// checksum anyway.
func headerOffsetForBlockStart(region []byte, blockStart int) (int, bool) {
	freeCandidate := blockStart
	allocCandidate := blockStart + paddingFor(blockStart)

	for _, p := range [2]int{freeCandidate, allocCandidate} {
		if p < 0 || p+headerSize > len(region) {
			continue
		}

		if !checksumOK(region, p) {
			continue
		}

		hdr := headerAt(region, p)

		padding := 0
		if hdr.status() == statusAllocated {
			padding = int(hdr.padding())
		}

		if p-padding == blockStart {
			return p, true
		}
	}

	return 0, false
}

// firstHeaderOffset locates the header of the block starting at region
// offset 0.
func (h *Heap) firstHeaderOffset() (int, bool) {
	return headerOffsetForBlockStart(h.region, 0)
}

// Walk visits every block in the heap in region order. It stops as soon
// as it reaches a header that fails checksum validation, reporting the
// remainder of the region as a single quarantined span, since block
// boundaries beyond a corrupted header can no longer be trusted.
func (h *Heap) Walk(visit func(BlockInfo)) {
	if h.region == nil {
		return
	}

	hdrOff, ok := h.firstHeaderOffset()
	if !ok {
		if len(h.region) > 0 {
			visit(BlockInfo{Offset: 0, HeaderOffset: 0, Size: len(h.region), Status: statusQuarantined})
		}
		return
	}

	for hdrOff < len(h.region) {
		if !validate(h.region, hdrOff) {
			visit(BlockInfo{Offset: hdrOff, HeaderOffset: hdrOff, Size: len(h.region) - hdrOff, Status: statusQuarantined})
			return
		}

		hdr := headerAt(h.region, hdrOff)
		status := hdr.status()
		size := int(hdr.size())

		var blockStart, next int
		if status == statusAllocated {
			padding := int(hdr.padding())
			blockStart = hdrOff - padding
			next = hdrOff + headerSize + size
		} else {
			blockStart = hdrOff
			next = hdrOff + size
		}

		if blockStart < 0 || next <= hdrOff || next > len(h.region) {
			visit(BlockInfo{Offset: hdrOff, HeaderOffset: hdrOff, Size: len(h.region) - hdrOff, Status: statusQuarantined})
			return
		}

		visit(BlockInfo{Offset: blockStart, HeaderOffset: hdrOff, Size: next - blockStart, Status: status})

		if next == len(h.region) {
			return
		}

		// next is the following block's start, not necessarily its
		// header offset: that block may itself be allocated with its
		// own leading padding. Locate it the same way firstHeaderOffset
		// locates the very first header, rather than assuming next is
		// already a header.
		nextHdrOff, ok := headerOffsetForBlockStart(h.region, next)
		if !ok {
			visit(BlockInfo{Offset: next, HeaderOffset: next, Size: len(h.region) - next, Status: statusQuarantined})
			return
		}

		hdrOff = nextHdrOff
	}
}

// Stats summarizes the heap by walking it once.
func (h *Heap) Stats() Stats {
	var s Stats

	h.Walk(func(b BlockInfo) {
		s.BlockCount++

		switch b.Status {
		case statusAllocated:
			s.Allocated += b.Size
		case statusFree:
			s.Free += b.Size
			if b.Size > s.LargestFree {
				s.LargestFree = b.Size
			}
		case statusQuarantined:
			s.Quarantined += b.Size
		}
	})

	return s
}
