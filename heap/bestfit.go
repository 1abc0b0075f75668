package heap

// findBestFit implements spec.md §4.4: scan every free list node, and of
// those whose header is still FREE and large enough to hold a request of
// payloadSize bytes (after alignment padding), return the offset of the
// smallest one. Ties are broken by list order — the first encountered
// candidate of the winning size wins, since freeListEach never revisits a
// node once it moves past it.
func (h *Heap) findBestFit(payloadSize int) (hdrOff int, ok bool) {
	bestOff := nullOffset
	bestSize := -1

	h.freeListEach(func(candidateOff int) bool {
		hdr := headerAt(h.region, candidateOff)
		if hdr.status() != statusFree {
			return true
		}

		need := paddingFor(candidateOff) + headerSize + payloadSize
		size := int(hdr.size())

		if size >= need && (bestSize == -1 || size < bestSize) {
			bestSize = size
			bestOff = candidateOff
		}

		return true
	})

	if bestOff == nullOffset {
		return 0, false
	}

	return bestOff, true
}
