package main

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/behrlich/zns-ztl/internal/wca"
	"github.com/spf13/cobra"
)

func newWriteCmd() *cobra.Command {
	var sizeStr string
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Submit one random-filled write and wait for completion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := parseSize(sizeStr)
			if err != nil {
				return fmt.Errorf("invalid --size %q: %w", sizeStr, err)
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

			var wg sync.WaitGroup
			wg.Add(1)
			start := time.Now()
			u := &wca.UserCmd{
				Buf:  buf,
				Size: uint64(size),
				Callback: func(u *wca.UserCmd) {
					wg.Done()
				},
			}
			if err := core.Submit(u); err != nil {
				return fmt.Errorf("submit: %w", err)
			}
			wg.Wait()
			if u.Status != nil {
				return fmt.Errorf("write failed: %w", u.Status)
			}

			fmt.Printf("wrote %s in %s across %d piece(s)\n", formatSize(size), time.Since(start), len(u.Pieces))
			for _, p := range u.Pieces {
				fmt.Printf("  zone=%d offset=%d nsec=%d\n", p.Zone, p.Offset, p.NSec)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sizeStr, "size", "64K", "write size (e.g. 64K, 1M)")
	return cmd
}
