//go:build unix

package main

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// newRegion allocates size bytes via an anonymous mmap, so the backing
// memory for the heap is not itself part of the Go runtime's own heap —
// a closer analogue of the original C program's flat malloc'd arena.
func newRegion(size int) ([]byte, func(), error) {
	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}

	release := func() {
		_ = unix.Munmap(region)
	}

	return region, release, nil
}
