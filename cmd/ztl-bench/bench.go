package main

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/behrlich/zns-ztl/internal/wca"
	"github.com/spf13/cobra"
)

func newBenchCmd() *cobra.Command {
	var sizeStr string
	var count int
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Submit count writes of --size back to back and report throughput",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := parseSize(sizeStr)
			if err != nil {
				return fmt.Errorf("invalid --size %q: %w", sizeStr, err)
			}
			if count <= 0 {
				return fmt.Errorf("--count must be positive, got %d", count)
			}

			core, err := openCore()
			if err != nil {
				return err
			}
			defer core.Close()

			buf := core.AllocBuf(int(size))
			defer core.FreeBuf(buf)
			if _, err := rand.Read(buf); err != nil {
				return err
			}

			start := time.Now()
			var wg sync.WaitGroup
			var failures int
			var mu sync.Mutex
			for i := 0; i < count; i++ {
				wg.Add(1)
				u := &wca.UserCmd{
					Buf:  buf,
					Size: uint64(size),
					Callback: func(u *wca.UserCmd) {
						if u.Status != nil {
							mu.Lock()
							failures++
							mu.Unlock()
						}
						wg.Done()
					},
				}
				if err := core.Submit(u); err != nil {
					return fmt.Errorf("submit %d: %w", i, err)
				}
			}
			wg.Wait()
			elapsed := time.Since(start)

			total := int64(count) * size
			throughput := float64(total) / elapsed.Seconds()
			fmt.Printf("%d writes of %s in %s: %s total, %s/s, %d failure(s)\n",
				count, formatSize(size), elapsed, formatSize(total), formatSize(int64(throughput)), failures)

			metrics := core.Metrics().Snapshot()
			fmt.Printf("writes=%d appends=%d reads=%d mempool_exhausted=%d\n",
				metrics.WriteOps, metrics.AppendOps, metrics.ReadOps, metrics.MempoolExhausted)
			return nil
		},
	}
	cmd.Flags().StringVar(&sizeStr, "size", "64K", "write size per submission (e.g. 64K, 1M)")
	cmd.Flags().IntVar(&count, "count", 100, "number of writes to submit")
	return cmd
}
