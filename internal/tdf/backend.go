package tdf

//go:generate mockgen -destination=mock_backend_test.go -package=tdf infuse/internal/tdf Backend

import "infuse/internal/infuseerr"

// RecordTerminator marks the end of valid records within a
// partially-filled block: every byte from the end of the last record
// to the end of the block is set to it.
const RecordTerminator = 0xFF

// Backend is the contract every TDF logger sink implements (serial,
// UDP, Bluetooth advertising, GATT, or an exFAT-style file). It works
// in whole fixed-size blocks rather than arbitrary byte ranges, since
// every sink commits in block_size units.
type Backend interface {
	Name() string

	// BlockSize is the fixed size of one committed block.
	BlockSize() int
	// EraseUnit is the backend's physical erase granularity, or 0 if
	// the backend doesn't require erase-before-write (e.g. a plain
	// file or a network transport).
	EraseUnit() int
	// RequiresFullBlockWrite reports whether BlockWrite must always
	// receive exactly BlockSize bytes (true for flash-like media).
	RequiresFullBlockWrite() bool
	// RequiresSync reports whether Flush must block until a commit
	// has actually reached the backend.
	RequiresSync() bool

	PhysicalBlocks() int
	LogicalBlocks() int
	CurrentBlock() int

	// BlockWrite commits one block's bytes at blockIdx.
	BlockWrite(blockIdx int, data []byte) error

	Close() error
}

// ReadableBackend is an optional Backend extension for sinks that
// support reading back committed blocks. The ePacket backend doesn't
// implement it — callers must check and return infuseerr.ErrNotSupported
// rather than type-assert blindly.
type ReadableBackend interface {
	Backend
	BlockRead(blockIdx, offset int, buf []byte) (int, error)
}

// ErasableBackend is an optional Backend extension for flash-like
// media that must erase before rewriting.
type ErasableBackend interface {
	Backend
	BlockErase(start, count int) error
}

// ErrNotSupported is returned by backends lacking an optional
// capability when callers invoke it anyway.
var ErrNotSupported = infuseerr.ErrNotSupported
