package heap

// The free list is a doubly linked list whose nodes live inside the
// payload of every FREE block (per spec.md §3/§4.3). Nodes are addressed
// by the offset of their owning header, never by the node's own offset,
// since every caller of the list ends up wanting the header anyway.
//
// There are no sentinels: h.freeHead is nullOffset when the list is
// empty, and a node's next/prev fields are nullOffset at the ends of the
// list.

// freeListInsert prepends the free block at hdrOff to the head of the free
// list (LIFO insertion, per spec.md §4.3). The new node's own checksum is
// left for the caller to stamp once it has finished writing the node's
// header fields too, but any neighbor whose next/prev fields this touches
// is restamped immediately, since a free block's checksum covers its
// free-node bytes and must never go stale between calls.
func (h *Heap) freeListInsert(hdrOff int) {
	node := freeNodeAt(h.region, payloadOffset(hdrOff))
	node.setNext(h.freeHead)
	node.setPrev(nullOffset)
	node.setHdrOff(int64(hdrOff))

	if h.freeHead != nullOffset {
		oldHeadOff := int(h.freeHead)
		oldHead := freeNodeAt(h.region, payloadOffset(oldHeadOff))
		oldHead.setPrev(int64(hdrOff))
		stampChecksum(h.region, oldHeadOff)
	}

	h.freeHead = int64(hdrOff)
}

// freeListRemove unlinks the free block at hdrOff from the free list using
// its own prev/next fields, restamping any neighbor whose next/prev fields
// it rewrites for the same reason freeListInsert does.
func (h *Heap) freeListRemove(hdrOff int) {
	node := freeNodeAt(h.region, payloadOffset(hdrOff))
	prev := node.prev()
	next := node.next()

	if prev != nullOffset {
		prevOff := int(prev)
		prevNode := freeNodeAt(h.region, payloadOffset(prevOff))
		prevNode.setNext(next)
		stampChecksum(h.region, prevOff)
	} else {
		h.freeHead = next
	}

	if next != nullOffset {
		nextOff := int(next)
		nextNode := freeNodeAt(h.region, payloadOffset(nextOff))
		nextNode.setPrev(prev)
		stampChecksum(h.region, nextOff)
	}

	node.setNext(nullOffset)
	node.setPrev(nullOffset)
}

// freeListEach calls visit with the header offset of every free block in
// list order, stopping early if visit returns false. Iteration over the
// free list is the only sanctioned way to enumerate free blocks (spec.md
// §4.3) — nothing in this package scans the region directly to find them.
func (h *Heap) freeListEach(visit func(hdrOff int) bool) {
	curr := h.freeHead
	for curr != nullOffset {
		node := freeNodeAt(h.region, payloadOffset(int(curr)))
		next := node.next()

		if !visit(int(curr)) {
			return
		}

		curr = next
	}
}

// seedFreeFill refills the unused tail of a free block (the bytes after its
// free-node) with the captured pattern, relative to absolute region
// offsets, per spec.md §3's free block layout.
func (h *Heap) seedFreeFill(hdrOff int) {
	blockEnd := hdrOff + blockBytesFree(headerAt(h.region, hdrOff))
	fillStart := payloadOffset(hdrOff) + freeNodeSize

	for i := fillStart; i < blockEnd; i++ {
		h.region[i] = h.pattern[i%5]
	}
}
