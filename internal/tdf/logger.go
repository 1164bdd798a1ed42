package tdf

import (
	"fmt"
	"sync"

	"infuse/internal/infuseerr"
	"infuse/internal/metrics"
)

// Mask selects a subset of logger instances by bit position, the
// loggers_mask every log call and schedule sink carries.
type Mask uint16

// Has reports whether bit idx is set.
func (m Mask) Has(idx int) bool { return m&(1<<uint(idx)) != 0 }

// Instance is one TDF logger sink: a private block buffer, a cursor,
// and a dedicated low-priority commit worker draining completed
// blocks to its Backend. A record
// is appended atomically and never spans two blocks: if it doesn't
// fit in the remaining space, the block is padded with
// RecordTerminator and committed, and the record starts a fresh one.
type Instance struct {
	backend Backend
	elemLen map[uint16]int // per-tdf_id element size, set by the caller's schema
	m       *metrics.Registry

	mu         sync.Mutex
	block      []byte
	cursor     int
	nextBlock  int
	commitCh   chan []byte
	commitWG   sync.WaitGroup
	persistent bool // true once a write failure has made CurrentBlock plateau
}

// NewInstance starts a commit worker bound to backend and returns the
// ready-to-use Instance.
func NewInstance(backend Backend) *Instance {
	i := &Instance{
		backend:  backend,
		elemLen:  make(map[uint16]int),
		block:    make([]byte, backend.BlockSize()),
		commitCh: make(chan []byte, 4),
	}
	i.commitWG.Add(1)
	go i.commitWorker()
	return i
}

// Name reports the backend's name; instances are addressed by it in
// metrics labels and control-plane status.
func (i *Instance) Name() string { return i.backend.Name() }

// Backend exposes the instance's sink for status surfaces (block
// geometry, current block index). Callers must not write through it.
func (i *Instance) Backend() Backend { return i.backend }

// SetMetrics attaches the process metrics registry; the commit worker
// afterwards counts committed blocks and flags the degraded gauge.
func (i *Instance) SetMetrics(m *metrics.Registry) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.m = m
}

// CommittedBlocks reports how many blocks this instance has handed to
// its backend so far.
func (i *Instance) CommittedBlocks() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.nextBlock
}

// RegisterSchema records the fixed element size used for a given
// tdf_id, so Append can compute record sizes without a caller having
// to repeat it on every call.
func (i *Instance) RegisterSchema(tdfID uint16, elemLen int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.elemLen[tdfID] = elemLen
}

func (i *Instance) commitWorker() {
	defer i.commitWG.Done()
	for block := range i.commitCh {
		i.noteCommit(i.backend.BlockWrite(i.takeBlockIndex(), block))
	}
}

// noteCommit records one backend write outcome: a failure trips the
// persistent-failure plateau, a success counts a committed block.
func (i *Instance) noteCommit(err error) {
	i.mu.Lock()
	m := i.m
	if err != nil {
		i.persistent = true
	}
	i.mu.Unlock()
	if m == nil {
		return
	}
	if err != nil {
		m.LoggerDegraded.WithLabelValues(i.backend.Name()).Set(1)
		return
	}
	m.LoggerBlocksWritten.WithLabelValues(i.backend.Name()).Inc()
}

func (i *Instance) takeBlockIndex() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	idx := i.nextBlock
	i.nextBlock++
	return idx
}

// Degraded reports whether a prior write failure has put this
// instance into its persistent-failure plateau.
func (i *Instance) Degraded() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.persistent
}

// Append encodes rec and adds it to the current block, rolling over
// to a fresh block first if it doesn't fit. The full block is handed
// to the commit worker after the instance lock is released, so a
// backed-up worker never blocks Append while it holds the lock.
func (i *Instance) Append(rec *Record) error {
	i.mu.Lock()

	elemLen, ok := i.elemLen[rec.TDFID]
	if !ok {
		i.mu.Unlock()
		return fmt.Errorf("tdf: unregistered tdf_id %d: %w", rec.TDFID, infuseerr.ErrMalformed)
	}
	encoded, err := Encode(rec, elemLen)
	if err != nil {
		i.mu.Unlock()
		return err
	}
	if len(encoded) > len(i.block) {
		i.mu.Unlock()
		return fmt.Errorf("tdf: record of %d bytes exceeds block size %d: %w", len(encoded), len(i.block), infuseerr.ErrMalformed)
	}
	var full []byte
	if i.cursor+len(encoded) > len(i.block) {
		full = i.commitLocked()
	}
	copy(i.block[i.cursor:], encoded)
	i.cursor += len(encoded)
	i.mu.Unlock()

	if full != nil {
		i.commitCh <- full
	}
	return nil
}

// commitLocked pads the remainder of the current block with
// RecordTerminator and resets the cursor for a fresh block. It returns
// the padded block bytes (a private copy); the caller either hands
// them to the commit worker or, for a sync-required Flush, writes them
// out directly. Caller must hold i.mu.
func (i *Instance) commitLocked() []byte {
	for j := i.cursor; j < len(i.block); j++ {
		i.block[j] = RecordTerminator
	}
	out := make([]byte, len(i.block))
	copy(out, i.block)
	i.cursor = 0
	return out
}

// Flush forces the current partial block to commit now. If the
// backend requires sync, Flush writes the block out directly and
// waits for completion; otherwise it hands the block to the
// asynchronous commit worker and returns immediately. A failed
// commit surfaces only through the Degraded plateau, the same as on
// the asynchronous path; Flush itself errors only on pre-commit
// problems.
func (i *Instance) Flush() error {
	i.mu.Lock()
	if i.cursor == 0 {
		i.mu.Unlock()
		return nil
	}
	block := i.commitLocked()
	sync := i.backend.RequiresSync()
	i.mu.Unlock()

	if sync {
		i.noteCommit(i.backend.BlockWrite(i.takeBlockIndex(), block))
		return nil
	}
	i.commitCh <- block
	return nil
}

// Close flushes any partial block and stops the commit worker.
func (i *Instance) Close() error {
	if err := i.Flush(); err != nil {
		return err
	}
	close(i.commitCh)
	i.commitWG.Wait()
	return i.backend.Close()
}

// Router fans a single log call out across every Instance selected by
// a Mask, and also exposes per-instance *_dev operations for callers
// that need to address one specific logger when multiple instances of
// the same backend kind exist.
type Router struct {
	mu        sync.RWMutex
	instances []*Instance
}

// NewRouter builds a Router over instances, indexed by position:
// instance i occupies loggers_mask bit i.
func NewRouter(instances ...*Instance) *Router {
	return &Router{instances: instances}
}

// Instances returns every routed instance in loggers_mask bit order.
func (r *Router) Instances() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Instance(nil), r.instances...)
}

func (r *Router) selected(mask Mask) []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Instance
	for idx, inst := range r.instances {
		if mask.Has(idx) {
			out = append(out, inst)
		}
	}
	return out
}

// Log appends one record with the given payload to every instance
// selected by loggersMask. A write failure on one instance does not
// prevent the record from reaching the others.
func (r *Router) Log(loggersMask Mask, tdfID uint16, epoch uint32, payload []byte, elemLen int) error {
	rec := &Record{
		TDFID:       tdfID,
		SampleCount: uint8(len(payload) / elemLen),
		Flags:       FlagTimestamp,
		Epoch:       epoch,
		Payload:     payload,
	}
	return r.appendToAll(loggersMask, tdfID, elemLen, rec)
}

// LogArray appends count uniformly-spaced samples as one
// period-header record.
func (r *Router) LogArray(loggersMask Mask, tdfID uint16, elemLen, count int, firstEpoch, periodTicks uint32, payload []byte) error {
	rec := &Record{
		TDFID:       tdfID,
		SampleCount: uint8(count),
		Flags:       FlagTimestamp | FlagPeriod,
		Epoch:       firstEpoch,
		PeriodTicks: periodTicks,
		Payload:     payload,
	}
	return r.appendToAll(loggersMask, tdfID, elemLen, rec)
}

func (r *Router) appendToAll(loggersMask Mask, tdfID uint16, elemLen int, rec *Record) error {
	var firstErr error
	for _, inst := range r.selected(loggersMask) {
		inst.RegisterSchema(tdfID, elemLen)
		if err := inst.Append(rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Flush forces every selected instance to commit its partial block.
func (r *Router) Flush(loggersMask Mask) error {
	var firstErr error
	for _, inst := range r.selected(loggersMask) {
		if err := inst.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LogDev and FlushDev address one instance directly by index,
// bypassing the mask.
func (r *Router) LogDev(devIdx int, tdfID uint16, epoch uint32, payload []byte, elemLen int) error {
	inst, err := r.at(devIdx)
	if err != nil {
		return err
	}
	inst.RegisterSchema(tdfID, elemLen)
	return inst.Append(&Record{TDFID: tdfID, SampleCount: uint8(len(payload) / elemLen), Flags: FlagTimestamp, Epoch: epoch, Payload: payload})
}

func (r *Router) FlushDev(devIdx int) error {
	inst, err := r.at(devIdx)
	if err != nil {
		return err
	}
	return inst.Flush()
}

func (r *Router) at(devIdx int) (*Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if devIdx < 0 || devIdx >= len(r.instances) {
		return nil, infuseerr.ErrMalformed
	}
	return r.instances[devIdx], nil
}
