//go:build ignore

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/nrfprobe/nrfprobe/internal/catalog"
)

// catalogdump prints the embedded device matrix as a table. Run it after
// editing devices.yaml to eyeball the result:
//
//	go run tools/catalogdump.go
//	go run tools/catalogdump.go NRF5340

func main() {
	cat, err := catalog.Load()
	if err != nil {
		fmt.Printf("Error loading catalog: %v\n", err)
		os.Exit(1)
	}

	filter := ""
	if len(os.Args) > 1 {
		filter = strings.ToUpper(os.Args[1])
	}

	fmt.Printf("=== Device Catalog ===\n")
	fmt.Printf("Devices: %d, nRF51 HWID entries: %d\n\n", len(cat.Devices), len(cat.HWIDs))

	for _, d := range cat.Devices {
		if filter != "" && !strings.Contains(d.Name, filter) {
			continue
		}

		part := "-"
		if d.Part != 0 {
			part = fmt.Sprintf("0x%X", d.Part)
		}
		fmt.Printf("%-10s part %-8s family %-6s page %5d  ram-section %2d KB\n",
			d.Name, part, d.Family, d.PageSize, d.RAMSectionKB)

		for _, v := range d.Variants {
			fmt.Printf("    variant %-4s flash %4d KB  ram %3d KB\n", v.Code, v.FlashKB, v.RAMKB)
		}
		if d.FixedMemory != "" {
			fmt.Printf("    fixed memory %s\n", d.FixedMemory)
		}
		if d.QSPI {
			fmt.Printf("    qspi, xip base 0x%08X\n", d.XIPBase)
		}
		if len(d.Coprocessors) > 0 {
			fmt.Printf("    coprocessors %s\n", strings.Join(d.Coprocessors, ", "))
		}
		if d.Network != nil {
			fmt.Printf("    network core flash %d KB  ram %d KB  page %d\n",
				d.Network.FlashKB, d.Network.RAMKB, d.Network.PageSize)
		}
		if d.BlockProt != "" {
			fmt.Printf("    block protection %s\n", d.BlockProt)
		}
	}

	if filter == "" && len(cat.HWIDs) > 0 {
		fmt.Printf("\nnRF51 HWID table:\n")
		for _, h := range cat.HWIDs {
			fmt.Printf("    0x%04X  %-9s memory %-3s rev %s\n", h.HWID, h.Name, h.Memory, h.Revision)
		}
	}
}
