// Package heap implements a corruption-aware allocator over a
// caller-supplied byte region. It performs allocate/free/read/write/resize
// without using Go's own allocator for the managed bytes: every block lives
// inside the region slice the caller hands to Init, addressed by offset
// rather than pointer.
package heap

import "encoding/binary"

// Block layout constants. headerSize and freeNodeSize are chosen so that
// headerSize+freeNodeSize equals the payload alignment, mirroring the
// 16-byte header / 24-byte free node split of the original C layout
// (8-byte size field, three 8-byte free-list fields).
const (
	headerSize   = 16
	freeNodeSize = 24
	alignment    = 40
	minSplitSize = headerSize + freeNodeSize

	statusFree        byte = 0
	statusAllocated   byte = 1
	statusQuarantined byte = 0xFF
)

// nullOffset is the offset-space analogue of C's NULL.
const nullOffset = -1

// header is a fixed-width view over headerSize bytes of a region, encoding:
//
//	[0:8)  size        uint64 little-endian
//	[8)    status      byte
//	[9)    checksum    byte
//	[10)   checksumNot byte
//	[11)   checksumXor byte
//	[12)   padding     byte
//	[13:16) reserved, always zero
type header []byte

func headerAt(region []byte, off int) header {
	return header(region[off : off+headerSize])
}

func (h header) size() uint64      { return binary.LittleEndian.Uint64(h[0:8]) }
func (h header) setSize(v uint64)  { binary.LittleEndian.PutUint64(h[0:8], v) }
func (h header) status() byte      { return h[8] }
func (h header) setStatus(v byte)  { h[8] = v }
func (h header) checksum() byte    { return h[9] }
func (h header) setChecksum(v byte) { h[9] = v }
func (h header) checksumNot() byte { return h[10] }
func (h header) setChecksumNot(v byte) { h[10] = v }
func (h header) checksumXor() byte { return h[11] }
func (h header) setChecksumXor(v byte) { h[11] = v }
func (h header) padding() byte      { return h[12] }
func (h header) setPadding(v byte)  { h[12] = v }

// freeNode is a fixed-width view over freeNodeSize bytes at a free block's
// payload offset:
//
//	[0:8)  next   int64 offset of the next free block's header, or nullOffset
//	[8:16) prev   int64 offset of the previous free block's header, or nullOffset
//	[16:24) hdr   int64 offset of this node's own owning header (back-pointer)
type freeNode []byte

func freeNodeAt(region []byte, off int) freeNode {
	return freeNode(region[off : off+freeNodeSize])
}

func (n freeNode) next() int64     { return int64(binary.LittleEndian.Uint64(n[0:8])) }
func (n freeNode) setNext(v int64) { binary.LittleEndian.PutUint64(n[0:8], uint64(v)) }
func (n freeNode) prev() int64     { return int64(binary.LittleEndian.Uint64(n[8:16])) }
func (n freeNode) setPrev(v int64) { binary.LittleEndian.PutUint64(n[8:16], uint64(v)) }
func (n freeNode) hdrOff() int64   { return int64(binary.LittleEndian.Uint64(n[16:24])) }
func (n freeNode) setHdrOff(v int64) { binary.LittleEndian.PutUint64(n[16:24], uint64(v)) }

// paddingFor returns the minimum p >= 0 such that a header placed at
// candidateHeaderOff+p leaves the payload (which begins headerSize bytes
// later) aligned to alignment bytes from the region's base.
func paddingFor(candidateHeaderOff int) int {
	afterHeader := candidateHeaderOff + headerSize
	misalignment := afterHeader % alignment
	if misalignment == 0 {
		return 0
	}

	return alignment - misalignment
}

// blockBytesFree returns the total extent, in bytes, of a free block. A
// free block's header.size already holds the whole-block byte count.
func blockBytesFree(h header) int {
	return int(h.size())
}

// payloadOffset returns the offset of the payload belonging to the header
// at hdrOff (the byte immediately following the header).
func payloadOffset(hdrOff int) int {
	return hdrOff + headerSize
}
