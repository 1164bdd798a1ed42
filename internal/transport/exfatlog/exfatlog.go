// Package exfatlog implements the exFAT-analog TDF logger backend
//: 256-byte blocks written into files under a
// configurable root, named by block range, standing in for the real
// exFAT filesystem driver this module treats as an external
// collaborator.
package exfatlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// BlockSize is the fixed on-disk block size for this backend.
const BlockSize = 256

// BlocksPerFile bounds how many blocks accumulate in one file before a
// new one is opened, so a single file's name can encode its block
// range.
const BlocksPerFile = 1024

// Backend implements tdf.Backend over plain files directly inside the
// directory given to Open (e.g. "/logs" for a data logger instance,
// "/dfu" for a firmware-update logger instance).
type Backend struct {
	name string
	dir  string

	mu        sync.Mutex
	file      *os.File
	fileStart int
	nextBlock int
}

// Open creates dir if needed and returns a ready Backend named name.
func Open(name, dir string) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("exfatlog: mkdir %s: %w", dir, err)
	}
	return &Backend{name: name, dir: dir}, nil
}

func (b *Backend) Name() string                { return b.name }
func (b *Backend) BlockSize() int              { return BlockSize }
func (b *Backend) EraseUnit() int              { return 0 }
func (b *Backend) RequiresFullBlockWrite() bool { return true }
func (b *Backend) RequiresSync() bool          { return false }
func (b *Backend) PhysicalBlocks() int         { return -1 } // unbounded, limited only by free space
func (b *Backend) LogicalBlocks() int          { return -1 }

func (b *Backend) CurrentBlock() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextBlock
}

func (b *Backend) blockFilePath(fileStart int) string {
	return filepath.Join(b.dir, fmt.Sprintf("%s_%010d-%010d.tdf", b.name, fileStart, fileStart+BlocksPerFile-1))
}

// BlockWrite appends data (exactly BlockSize bytes) to the file
// covering blockIdx's range, opening a new file when blockIdx crosses
// a BlocksPerFile boundary. Writes must arrive in order: the block-
// commit worker in internal/tdf.Instance guarantees this per instance.
func (b *Backend) BlockWrite(blockIdx int, data []byte) error {
	if len(data) != BlockSize {
		return fmt.Errorf("exfatlog: block %d: want %d bytes, got %d", blockIdx, BlockSize, len(data))
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	fileStart := (blockIdx / BlocksPerFile) * BlocksPerFile
	if b.file == nil || fileStart != b.fileStart {
		if b.file != nil {
			if err := b.file.Close(); err != nil {
				return fmt.Errorf("exfatlog: close previous file: %w", err)
			}
		}
		f, err := os.OpenFile(b.blockFilePath(fileStart), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("exfatlog: open %s: %w", b.blockFilePath(fileStart), err)
		}
		b.file = f
		b.fileStart = fileStart
	}

	if _, err := b.file.Write(data); err != nil {
		return fmt.Errorf("exfatlog: write block %d: %w", blockIdx, err)
	}
	b.nextBlock = blockIdx + 1
	return nil
}

// BlockRead reads back a previously committed block, satisfying
// tdf.ReadableBackend (the file backend, unlike the ePacket backend,
// supports readback).
func (b *Backend) BlockRead(blockIdx, offset int, buf []byte) (int, error) {
	b.mu.Lock()
	path := b.blockFilePath((blockIdx / BlocksPerFile) * BlocksPerFile)
	b.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("exfatlog: open %s: %w", path, err)
	}
	defer f.Close()

	blockOffsetInFile := (blockIdx % BlocksPerFile) * BlockSize
	return f.ReadAt(buf, int64(blockOffsetInFile+offset))
}

// Close flushes and releases the current file handle.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file == nil {
		return nil
	}
	err := b.file.Close()
	b.file = nil
	return err
}
