package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/behrlich/zns-ztl"
	"github.com/behrlich/zns-ztl/internal/logging"
	"github.com/behrlich/zns-ztl/internal/media/memdev"
	"github.com/behrlich/zns-ztl/internal/mempool"
)

// openCore builds an in-memory zoned device from rootFlags and opens a
// Core over it, wiring a logging.Logger at the requested verbosity and,
// when --dma-pool is set, a preallocated mempool.DMAPool for AllocBuf.
func openCore() (*ztl.Core, error) {
	logLevel := logging.LevelInfo
	if rootFlags.verbose {
		logLevel = logging.LevelDebug
	}
	logger := logging.NewLogger(&logging.Config{Level: logLevel})

	dev := memdev.New(rootFlags.groups, rootFlags.zonesPerGroup, rootFlags.sectorsPerZone, rootFlags.sectorSize)

	cfg := ztl.DefaultConfig("ztl-bench0")
	cfg.AppendEnabled = rootFlags.appendEnabled

	opts := &ztl.Options{Logger: logger}
	if rootFlags.dmaPool {
		slotSize, err := parseSize(rootFlags.dmaPoolSlotStr)
		if err != nil {
			return nil, fmt.Errorf("invalid --dma-pool-slot-size %q: %w", rootFlags.dmaPoolSlotStr, err)
		}
		pool, err := mempool.NewDMAPool(rootFlags.dmaPoolSlots, int(slotSize))
		if err != nil {
			return nil, fmt.Errorf("allocate dma pool: %w", err)
		}
		opts.BufPool = pool
	}

	core, err := ztl.Open(cfg, dev, opts)
	if err != nil {
		return nil, fmt.Errorf("open core: %w", err)
	}
	return core, nil
}

// parseSize parses a byte-count string like "64K", "1M", "512" (bare
// digits are bytes).
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	var multiplier int64 = 1
	var numStr string
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	default:
		numStr = s
	}
	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}
	return num * multiplier, nil
}

// formatSize renders a byte count in the largest whole unit that keeps
// the value >= 1.
func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	units := []string{"K", "M", "G", "T"}
	return fmt.Sprintf("%.1f %sB", float64(n)/float64(div), units[exp])
}
