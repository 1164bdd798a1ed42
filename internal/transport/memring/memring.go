// Package memring implements a flash-analog TDF logger backend: a
// fixed-capacity ring of blocks in memory that wraps, overwriting the
// oldest block once full, standing in for the on-chip flash partition
// a real device dedicates to onboard TDF storage.
package memring

import (
	"sync"

	"infuse/internal/infuseerr"
)

// Backend is a ring buffer of fixed-size blocks. Unlike exfatlog's
// unbounded file backend, PhysicalBlocks is finite and BlockWrite past
// capacity erases and reuses the oldest slot, matching flash media
// that has no unbounded append.
type Backend struct {
	name      string
	blockSize int
	capacity  int
	eraseUnit int

	mu      sync.Mutex
	blocks  [][]byte
	written []bool
	next    int // next logical block index to assign
}

// New creates a ring of capacity blocks, each blockSize bytes,
// erasable in groups of eraseUnit blocks (0 disables erase-unit
// accounting, matching a backend with no erase granularity).
func New(name string, blockSize, capacity, eraseUnit int) *Backend {
	return &Backend{
		name:      name,
		blockSize: blockSize,
		capacity:  capacity,
		eraseUnit: eraseUnit,
		blocks:    make([][]byte, capacity),
		written:   make([]bool, capacity),
	}
}

func (b *Backend) Name() string                 { return b.name }
func (b *Backend) BlockSize() int               { return b.blockSize }
func (b *Backend) EraseUnit() int               { return b.eraseUnit }
func (b *Backend) RequiresFullBlockWrite() bool { return true }
func (b *Backend) RequiresSync() bool           { return false }
func (b *Backend) PhysicalBlocks() int          { return b.capacity }
func (b *Backend) LogicalBlocks() int           { return b.capacity }

func (b *Backend) CurrentBlock() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.next
}

// slot maps a monotonically increasing logical block index to its
// physical ring position.
func (b *Backend) slot(blockIdx int) int {
	return blockIdx % b.capacity
}

// BlockWrite commits data into the ring slot for blockIdx, wrapping
// over the oldest block once the ring has filled. Commit order must
// match the caller's monotonic blockIdx sequence: internal/tdf.Instance
// guarantees this per instance via its single commit worker.
func (b *Backend) BlockWrite(blockIdx int, data []byte) error {
	if len(data) != b.blockSize {
		return infuseerr.ErrMalformed
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.slot(blockIdx)
	cp := make([]byte, len(data))
	copy(cp, data)
	b.blocks[idx] = cp
	b.written[idx] = true
	if blockIdx >= b.next {
		b.next = blockIdx + 1
	}
	return nil
}

// BlockRead returns bytes from the ring slot blockIdx maps to. A slot
// that was never written, or has been erased, returns ErrNotSupported,
// the same failure mode as reading an erased flash sector. A blockIdx
// whose slot the ring has since wrapped over returns the newer block
// now held in that slot.
func (b *Backend) BlockRead(blockIdx, offset int, buf []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.slot(blockIdx)
	if !b.written[idx] {
		return 0, infuseerr.ErrNotSupported
	}
	block := b.blocks[idx]
	// A block is only guaranteed to still hold blockIdx's data if the
	// ring hasn't wrapped past it again since; callers that need this
	// guarantee must track their own oldest-readable index.
	if offset >= len(block) {
		return 0, nil
	}
	n := copy(buf, block[offset:])
	return n, nil
}

// BlockErase clears count blocks starting at start, matching the
// optional ErasableBackend contract flash-like media expose.
func (b *Backend) BlockErase(start, count int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < count; i++ {
		idx := b.slot(start + i)
		b.blocks[idx] = nil
		b.written[idx] = false
	}
	return nil
}

func (b *Backend) Close() error { return nil }
