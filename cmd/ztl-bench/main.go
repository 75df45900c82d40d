// Command ztl-bench exercises a ZTL Core against an in-memory simulated
// zoned device through a cobra subcommand tree.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootFlags struct {
	groups         uint32
	zonesPerGroup  uint32
	sectorsPerZone uint64
	sectorSize     uint32
	appendEnabled  bool
	verbose        bool
	dmaPool        bool
	dmaPoolSlots   int
	dmaPoolSlotStr string
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ztl-bench",
		Short: "Drive a zone translation layer Core against a simulated device",
		Long: "ztl-bench opens a Core over an in-memory zoned device and lets you " +
			"issue writes, reads, zone reports, and throughput benchmarks against it.",
		SilenceUsage: true,
	}

	pflags := cmd.PersistentFlags()
	pflags.Uint32Var(&rootFlags.groups, "groups", 1, "number of zone groups")
	pflags.Uint32Var(&rootFlags.zonesPerGroup, "zones-per-group", 8, "zones per group")
	pflags.Uint64Var(&rootFlags.sectorsPerZone, "sectors-per-zone", 4096, "sectors per zone")
	pflags.Uint32Var(&rootFlags.sectorSize, "sector-size", 512, "sector size in bytes")
	pflags.BoolVar(&rootFlags.appendEnabled, "append", false, "use zone-append instead of sequential write")
	pflags.BoolVarP(&rootFlags.verbose, "verbose", "v", false, "debug-level logging")
	pflags.BoolVar(&rootFlags.dmaPool, "dma-pool", false, "source write/bench buffers from a preallocated DMAPool instead of make()")
	pflags.IntVar(&rootFlags.dmaPoolSlots, "dma-pool-slots", 16, "number of buffers preallocated when --dma-pool is set")
	pflags.StringVar(&rootFlags.dmaPoolSlotStr, "dma-pool-slot-size", "4M", "size of each preallocated DMAPool buffer")

	cmd.AddCommand(newWriteCmd())
	cmd.AddCommand(newReadCmd())
	cmd.AddCommand(newReportCmd())
	cmd.AddCommand(newBenchCmd())
	return cmd
}
