// Command heapbench runs a fixed-size heap through three load phases —
// small fixed-size allocations, a random mixed allocate/free churn, and
// a resize-heavy phase — and reports operations per second for each,
// mirroring the phase structure of the original benchmark driver.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/corewall/sentinelheap/heap"
	"github.com/corewall/sentinelheap/internal/cli"
)

const toolName = "heapbench"

// ops is the number of operations run per phase, matching the OPS
// constant the original benchmark driver used for all three phases.
const ops = 300000

func main() {
	var (
		regionSize  = flag.Int("region-size", 4<<20, "size in bytes of the backing region")
		seed        = flag.Int64("seed", 1, "seed for the random-mix and resize phases")
		showVersion = flag.Bool("version", false, "print version and exit")
		jsonOut     = flag.Bool("json", false, "print version as JSON (with -version)")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags]\n\n", toolName)
		fmt.Fprintln(os.Stderr, "Runs fixed load phases against a heap and reports throughput.")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		cli.PrintVersion(toolName, *jsonOut)
		return
	}

	region := make([]byte, *regionSize)
	seedPattern(region, "ABCDE")

	h := heap.New()
	if err := h.Init(region); err != nil {
		cli.ExitWithError(toolName, err)
	}

	rng := rand.New(rand.NewSource(*seed))

	runPhase("small-alloc", func() { smallAllocPhase(h) })
	runPhase("random-mix", func() { randomMixPhase(h, rng) })
	runPhase("resize-heavy", func() { resizeHeavyPhase(h, rng) })
}

func runPhase(name string, phase func()) {
	start := time.Now()
	phase()
	elapsed := time.Since(start)

	rate := float64(ops) / elapsed.Seconds()
	fmt.Printf("%-14s %10d ops  %12s  %12.0f ops/sec\n", name, ops, elapsed.Round(time.Microsecond), rate)
}

// smallAllocPhase allocates and immediately frees a small fixed-size
// block, ops times, exercising the allocator's best-fit search against
// a heap that never grows a free list longer than one entry.
func smallAllocPhase(h *heap.Heap) {
	for i := 0; i < ops; i++ {
		off := h.Allocate(32)
		if off >= 0 {
			h.Free(off)
		}
	}
}

// randomMixPhase keeps a working set of live blocks, randomly choosing
// between allocating a new block of a random size and freeing a random
// live one, exercising fragmentation and free-list merging.
func randomMixPhase(h *heap.Heap, rng *rand.Rand) {
	var live []int

	for i := 0; i < ops; i++ {
		if len(live) == 0 || rng.Intn(2) == 0 {
			size := 16 + rng.Intn(512)
			off := h.Allocate(size)
			if off >= 0 {
				live = append(live, off)
			}
			continue
		}

		idx := rng.Intn(len(live))
		h.Free(live[idx])
		live[idx] = live[len(live)-1]
		live = live[:len(live)-1]
	}

	for _, off := range live {
		h.Free(off)
	}
}

// resizeHeavyPhase repeatedly grows and shrinks a single block, exercising
// Resize's in-place paths. The block is the only allocation and always
// has a free right neighbor, so every grow merges forward and every shrink
// returns its tail to that neighbor; the backward-merge and
// allocate-copy-free paths are not taken.
func resizeHeavyPhase(h *heap.Heap, rng *rand.Rand) {
	off := h.Allocate(64)

	for i := 0; i < ops; i++ {
		newSize := 16 + rng.Intn(1024)
		next := h.Resize(off, newSize)
		if next >= 0 {
			off = next
		}
	}

	h.Free(off)
}

func seedPattern(region []byte, pattern string) {
	for i := range region {
		region[i] = pattern[i%len(pattern)]
	}
}
