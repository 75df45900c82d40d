//go:build linux

package mempool

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// DMAPool preallocates n buffers of bufSize bytes via an anonymous mmap
// region: fixed slots, no allocator call on the hot path, freed back to
// a LIFO list.
type DMAPool struct {
	mu      sync.Mutex
	region  []byte
	bufSize int
	free    [][]byte
}

// NewDMAPool mmaps n*bufSize bytes and slices it into n fixed buffers.
func NewDMAPool(n, bufSize int) (*DMAPool, error) {
	total := n * bufSize
	region, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mempool: dma mmap failed: %w", err)
	}
	p := &DMAPool{region: region, bufSize: bufSize, free: make([][]byte, 0, n)}
	for i := 0; i < n; i++ {
		p.free = append(p.free, region[i*bufSize:(i+1)*bufSize])
	}
	return p, nil
}

// Alloc returns a buffer, or nil if the pool is exhausted.
func (p *DMAPool) Alloc() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		return nil
	}
	buf := p.free[n-1]
	p.free = p.free[:n-1]
	return buf
}

// Free returns a buffer to the pool.
func (p *DMAPool) Free(buf []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, buf[:p.bufSize])
}

// Available reports how many buffers are currently free.
func (p *DMAPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Close unmaps the backing region. Caller must ensure no buffers are in
// use.
func (p *DMAPool) Close() error {
	if p.region == nil {
		return nil
	}
	err := unix.Munmap(p.region)
	p.region = nil
	return err
}
