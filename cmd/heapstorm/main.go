// Command heapstorm drives a heap through a scripted sequence of
// allocate/free/read/write/resize calls, optionally interleaved with a
// bit-flip adversary between steps, and reports on what survived.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/corewall/sentinelheap/heap"
	"github.com/corewall/sentinelheap/internal/cli"
	"github.com/corewall/sentinelheap/internal/scenario"
	"github.com/corewall/sentinelheap/storm"
)

const toolName = "heapstorm"

func main() {
	var (
		regionSize   = flag.Int("region-size", 1<<16, "size in bytes of the backing region")
		pattern      = flag.String("pattern", "ABCDE", "5-byte fill pattern for unused bytes")
		seed         = flag.Int64("seed", 1, "deterministic seed for the storm adversary")
		stormRate    = flag.Float64("storm-rate", 0, "probability per byte per storm pass of a bit flip")
		stormEvery   = flag.Int("storm-every", 0, "run one storm pass every N steps (0 disables)")
		scenarioPath = flag.String("scenario", "", "path to a scenario JSON file; overrides the other flags")
		watch        = flag.Bool("watch", false, "hot-reload -scenario on changes and keep running")
		showVersion  = flag.Bool("version", false, "print version and exit")
		jsonOut      = flag.Bool("json", false, "print version as JSON (with -version)")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags]\n\n", toolName)
		fmt.Fprintln(os.Stderr, "Drives a heap through a scripted operation sequence.")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		cli.PrintVersion(toolName, *jsonOut)
		return
	}

	if *scenarioPath != "" {
		runScenario(*scenarioPath, *watch)
		return
	}

	runDefault(*regionSize, *pattern, *seed, *stormRate, *stormEvery)
}

func runDefault(regionSize int, pattern string, seed int64, stormRate float64, stormEvery int) {
	if len(pattern) != 5 {
		cli.ExitWithError(toolName, fmt.Errorf("pattern must be exactly 5 bytes, got %q", pattern))
	}

	region, release, err := newRegion(regionSize)
	if err != nil {
		cli.ExitWithError(toolName, err)
	}
	defer release()

	seedPattern(region, pattern)

	h := heap.New()
	if err := h.Init(region); err != nil {
		cli.ExitWithError(toolName, err)
	}

	adversary := storm.New(seed, stormRate)

	// A small scripted sequence in the spirit of the original driver:
	// allocate a handful of blocks, free every other one, grow a
	// survivor, then report final state. After each step the storm gets
	// its chance to run, so flips land between allocator calls.
	step := 0
	afterStep := func() {
		step++
		maybeStorm(adversary, region, step, stormEvery)
	}

	var handles []int
	for _, size := range []int{64, 128, 32, 256, 16, 512} {
		handles = append(handles, h.Allocate(size))
		afterStep()
	}

	for i := 0; i < len(handles); i += 2 {
		h.Free(handles[i])
		afterStep()
	}

	if len(handles) > 1 {
		handles[1] = h.Resize(handles[1], 384)
		afterStep()
	}

	report(h)
}

func runScenario(path string, watch bool) {
	cfg, err := scenario.Load(path, cli.Version)
	if err != nil {
		cli.ExitWithError(toolName, err)
	}

	region, release, err := newRegion(cfg.RegionSize)
	if err != nil {
		cli.ExitWithError(toolName, err)
	}
	defer release()

	h := heap.New()

	run := func(cfg *scenario.Config) {
		seedPattern(region, cfg.Pattern)
		if err := h.Init(region); err != nil {
			cli.ExitWithError(toolName, err)
		}

		adversary := storm.New(cfg.Seed, cfg.StormRate)
		handles := map[string]int{}

		for i, step := range cfg.Steps {
			if err := runStep(h, adversary, region, handles, step); err != nil {
				fmt.Fprintf(os.Stderr, "%s: step %d (%s): %v\n", toolName, i, step.Op, err)
			}
		}

		report(h)
	}

	run(cfg)

	if !watch {
		return
	}

	w, err := scenario.WatchFile(path, cli.Version)
	if err != nil {
		cli.ExitWithError(toolName, err)
	}
	defer w.Close()

	for next := range w.Changes() {
		fmt.Println("--- scenario reloaded ---")
		run(next)
	}
}

func runStep(h *heap.Heap, adversary *storm.Storm, region []byte, handles map[string]int, step scenario.Step) error {
	switch step.Op {
	case "allocate":
		off := h.Allocate(step.Size)
		if off < 0 {
			return fmt.Errorf("allocate(%d) failed: %v", step.Size, h.LastError())
		}
		handles[step.Handle] = off

	case "free":
		off, ok := handles[step.Handle]
		if !ok {
			return fmt.Errorf("unknown handle %q", step.Handle)
		}
		h.Free(off)
		delete(handles, step.Handle)

	case "resize":
		off, ok := handles[step.Handle]
		if !ok {
			return fmt.Errorf("unknown handle %q", step.Handle)
		}
		newOff := h.Resize(off, step.NewSize)
		if newOff < 0 && step.NewSize != 0 {
			return fmt.Errorf("resize(%q, %d) failed: %v", step.Handle, step.NewSize, h.LastError())
		}
		handles[step.Handle] = newOff

	case "read":
		off, ok := handles[step.Handle]
		if !ok {
			return fmt.Errorf("unknown handle %q", step.Handle)
		}
		buf := make([]byte, step.Size)
		n := h.Read(off, step.Offset, buf)
		if n < 0 {
			return fmt.Errorf("read(%q) failed: %v", step.Handle, h.LastError())
		}

	case "write":
		off, ok := handles[step.Handle]
		if !ok {
			return fmt.Errorf("unknown handle %q", step.Handle)
		}
		n := h.Write(off, step.Offset, []byte(step.Data))
		if n < 0 {
			return fmt.Errorf("write(%q) failed: %v", step.Handle, h.LastError())
		}

	case "storm":
		adversary.Flip(region)

	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}

	return nil
}

func maybeStorm(adversary *storm.Storm, region []byte, step, every int) {
	if every <= 0 {
		return
	}
	if step%every == 0 {
		adversary.Flip(region)
	}
}

func seedPattern(region []byte, pattern string) {
	for i := range region {
		region[i] = pattern[i%len(pattern)]
	}
}

func report(h *heap.Heap) {
	stats := h.Stats()
	fmt.Printf("blocks=%d allocated=%d free=%d quarantined=%d largestFree=%d doubleFreesRejected=%d corruptionEvents=%d\n",
		stats.BlockCount, stats.Allocated, stats.Free, stats.Quarantined, stats.LargestFree,
		h.DoubleFreeRejections(), h.CorruptionEvents())

	h.Walk(func(b heap.BlockInfo) {
		fmt.Printf("  off=%-8d size=%-8d status=%s\n", b.Offset, b.Size, statusName(b.Status))
	})
}

func statusName(s byte) string {
	switch s {
	case heap.StatusFree:
		return "free"
	case heap.StatusAllocated:
		return "allocated"
	case heap.StatusQuarantined:
		return "quarantined"
	default:
		return "unknown"
	}
}
