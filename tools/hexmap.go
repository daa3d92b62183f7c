//go:build ignore

package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/nrfprobe/nrfprobe/internal/firmware"
)

// hexmap prints the segment layout of a firmware image file. Handy when a
// build produces a hex file that programs more (or less) than expected:
//
//	go run tools/hexmap.go build/zephyr/merged.hex
//	go run tools/hexmap.go app.bin 0x26000
//	go run tools/hexmap.go merged.hex --page-size 4096

func main() {
	args := os.Args[1:]
	if len(args) < 1 {
		fmt.Println("Usage: hexmap <file.hex|file.bin> [bin-load-addr] [--page-size N]")
		fmt.Println("Example: hexmap build/zephyr/merged.hex")
		os.Exit(1)
	}

	path := args[0]
	binAddr := uint64(0)
	pageSize := uint64(4096)

	for i := 1; i < len(args); i++ {
		if args[i] == "--page-size" && i+1 < len(args) {
			n, err := strconv.ParseUint(args[i+1], 0, 32)
			if err != nil {
				fmt.Printf("Bad page size %q: %v\n", args[i+1], err)
				os.Exit(1)
			}
			pageSize = n
			i++
			continue
		}
		n, err := strconv.ParseUint(args[i], 0, 32)
		if err != nil {
			fmt.Printf("Bad load address %q: %v\n", args[i], err)
			os.Exit(1)
		}
		binAddr = n
	}

	im, err := firmware.LoadFile(path, uint32(binAddr))
	if err != nil {
		fmt.Printf("Error loading image: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("=== Image Map ===\n")
	fmt.Printf("File: %s\n", path)

	segs := im.Segments()
	if len(segs) == 0 {
		fmt.Println("Image is empty")
		return
	}

	lo, hi, _ := im.Bounds()
	fmt.Printf("Bounds: 0x%08X .. 0x%08X\n", lo, hi)
	fmt.Printf("Payload: %d bytes in %d segments\n\n", im.TotalBytes(), len(segs))

	var prevEnd uint32
	for i, seg := range segs {
		if i > 0 && seg.Address > prevEnd {
			fmt.Printf("             gap  %10d bytes\n", seg.Address-prevEnd)
		}
		firstPage := uint64(seg.Address) / pageSize
		lastPage := (uint64(seg.End()) - 1) / pageSize
		fmt.Printf("  0x%08X-0x%08X  %8d bytes  pages %d..%d\n",
			seg.Address, seg.End()-1, len(seg.Data), firstPage, lastPage)
		prevEnd = seg.End()
	}

	// Pages touched, assuming the given page size. Over-counting
	// matters: every touched page is erased before programming.
	pages := make(map[uint64]bool)
	for _, seg := range segs {
		first := uint64(seg.Address) / pageSize
		last := (uint64(seg.End()) - 1) / pageSize
		for p := first; p <= last; p++ {
			pages[p] = true
		}
	}
	fmt.Printf("\nPages touched: %d (%d bytes erased at %d bytes/page)\n",
		len(pages), uint64(len(pages))*pageSize, pageSize)
}
