// Package epacketsink adapts the ePacket dispatcher into a TDF logger
// backend. It is a pure stream: no
// retention, no readback.
package epacketsink

import (
	"errors"
	"fmt"
	"sync/atomic"

	"infuse/internal/deadline"
	"infuse/internal/epacket"
	"infuse/internal/infuseerr"
)

// Backend streams committed TDF blocks as INFUSE_TDF frames over one
// ePacket interface.
type Backend struct {
	name      string
	dis       *epacket.Dispatcher
	iface     string
	addr      string
	auth      epacket.Auth
	deviceID  [8]byte
	blockSize int

	current atomic.Int64
	dropped atomic.Uint64
}

// New builds a Backend that queues blocks to iface/addr under auth.
// blockSize must fit the interface pool's max payload.
func New(name string, dis *epacket.Dispatcher, iface, addr string, auth epacket.Auth, deviceID [8]byte, blockSize int) (*Backend, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("epacketsink: invalid block size %d", blockSize)
	}
	return &Backend{
		name:      name,
		dis:       dis,
		iface:     iface,
		addr:      addr,
		auth:      auth,
		deviceID:  deviceID,
		blockSize: blockSize,
	}, nil
}

func (b *Backend) Name() string                 { return b.name }
func (b *Backend) BlockSize() int               { return b.blockSize }
func (b *Backend) EraseUnit() int               { return 0 }
func (b *Backend) RequiresFullBlockWrite() bool { return false }
func (b *Backend) RequiresSync() bool           { return false }
func (b *Backend) PhysicalBlocks() int          { return -1 }
func (b *Backend) LogicalBlocks() int           { return -1 }

func (b *Backend) CurrentBlock() int { return int(b.current.Load()) }

// Dropped reports how many blocks were discarded because no TX buffer
// was available or the interface was down at commit time.
func (b *Backend) Dropped() uint64 { return b.dropped.Load() }

// BlockWrite queues one block as a TDF frame. Pool exhaustion and a
// down interface drop the block (the dispatcher has already counted
// the failure) without poisoning the logger instance: both are
// transient, not the persistent-failure plateau.
func (b *Backend) BlockWrite(blockIdx int, data []byte) error {
	f, err := b.dis.AllocTX(deadline.NoWait())
	if err != nil {
		b.dropped.Add(1)
		return nil
	}
	if err := b.dis.SetTXMetadata(f, b.auth, b.deviceID); err != nil {
		f.Release()
		return fmt.Errorf("epacketsink: block %d: %w", blockIdx, err)
	}
	f.Type = epacket.TypeTDF
	f.Payload = append(f.Payload, data...)
	if err := b.dis.Queue(b.iface, f, b.addr); err != nil {
		if errors.Is(err, infuseerr.ErrInterfaceDown) || errors.Is(err, infuseerr.ErrNoBuffer) {
			b.dropped.Add(1)
			return nil
		}
		return fmt.Errorf("epacketsink: block %d: %w", blockIdx, err)
	}
	b.current.Add(1)
	return nil
}

// Close is a no-op: the dispatcher and transport outlive the sink.
func (b *Backend) Close() error { return nil }
