package heap

// computeChecksum implements the triple-redundant checksum's base sum:
// the bytes of size, the status byte, and, when size > 0, the payload
// bytes starting immediately after the header.
//
// An allocated block's payload is exactly size bytes. A free block's size
// is the whole-block byte count, header included, so its payload is
// size-headerSize bytes; summing size bytes there would reach into the
// first headerSize bytes of the following block, whose header changes
// whenever that block is resized, leaving this block's checksum stale.
// The span is additionally clamped to what remains in the region, so a
// corrupted size field can never index past its end.
func computeChecksum(region []byte, hdrOff int) byte {
	h := headerAt(region, hdrOff)

	var sum uint32

	sizeBytes := h[0:8]
	for _, b := range sizeBytes {
		sum += uint32(b)
	}

	sum += uint32(h.status())

	size := int(h.size())
	if size > 0 {
		payOff := payloadOffset(hdrOff)

		span := size
		if h.status() == statusFree {
			span = size - headerSize
		}
		if payOff+span > len(region) {
			span = len(region) - payOff
		}

		if span > 0 {
			for _, b := range region[payOff : payOff+span] {
				sum += uint32(b)
			}
		}
	}

	return byte(sum)
}

// stampChecksum recomputes and writes all three checksum fields for the
// header at hdrOff. Every mutation of a header's size, status, or payload
// must be followed by a call to stampChecksum.
func stampChecksum(region []byte, hdrOff int) {
	h := headerAt(region, hdrOff)

	sum := computeChecksum(region, hdrOff)
	h.setChecksum(sum)
	h.setChecksumNot(^sum)
	h.setChecksumXor(sum ^ ^sum)
}

// checksumOK checks the header at hdrOff against its own triple-redundant
// checksum without side effects. It exists for callers that need to probe
// a candidate offset that might not even be a real header — Walk's search
// for each block's header, via headerOffsetForBlockStart, is the only
// one — where quarantining a
// false positive would corrupt bytes that were never actually a header.
func checksumOK(region []byte, hdrOff int) bool {
	h := headerAt(region, hdrOff)

	sum := h.checksum()
	not := h.checksumNot()
	xor := h.checksumXor()

	if not != ^sum {
		return false
	}

	computed := computeChecksum(region, hdrOff)
	if computed != sum || ^computed != not {
		return false
	}

	if sum^not != xor {
		return false
	}

	return true
}

// validate checks the header at hdrOff against its own triple-redundant
// checksum. On any mismatch it quarantines the block (sets status to
// statusQuarantined) and returns false. Per spec.md §4.1, validate must be
// called before trusting any header field beyond what is strictly needed
// to locate the header itself.
func validate(region []byte, hdrOff int) bool {
	if checksumOK(region, hdrOff) {
		return true
	}

	headerAt(region, hdrOff).setStatus(statusQuarantined)
	return false
}
