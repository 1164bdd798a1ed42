// Package epoch implements the process-wide monotonic-to-epoch time
// conversion: a single instant-tracking store with a trust-ranked
// source and a fan-out listener registry.
package epoch

import (
	"sync"
	"time"
)

// Source names where a time reference came from. Sources are ordered
// by trust: GNSS > NTP > Other > None, with Recovered as a modifier
// meaning "read from retention at boot" rather than a promotion.
type Source int

const (
	SourceNone Source = iota
	SourceRecovered
	SourceOther
	SourceNTP
	SourceGNSS
)

func (s Source) String() string {
	switch s {
	case SourceGNSS:
		return "GNSS"
	case SourceNTP:
		return "NTP"
	case SourceOther:
		return "OTHER"
	case SourceRecovered:
		return "RECOVERED"
	default:
		return "NONE"
	}
}

// trust returns the relative trust rank of a source. Higher wins.
// Recovered never outranks a live source of any other kind.
func (s Source) trust() int {
	switch s {
	case SourceGNSS:
		return 3
	case SourceNTP:
		return 2
	case SourceOther:
		return 1
	case SourceRecovered:
		return 0
	default:
		return -1
	}
}

// EpochHz is the fixed-point resolution of epoch time: 32.16 fixed
// point seconds, i.e. 1/65536 of a second per tick.
const EpochHz = int64(1) << 16

// LocalHz is the tick rate of the local monotonic clock used as the
// reference instant's local_tick axis. It matches EpochHz: a local
// axis finer than the epoch axis would truncate sub-epoch-tick deltas
// in FromTicks and break the ticks_from(from_ticks(t)) == t round
// trip, so the local counter is sampled at the same resolution.
const LocalHz = EpochHz

// Epoch2020 is the epoch origin: 1-Jan-2020 00:00:00 UTC, expressed as
// a standard Unix timestamp for conversion to/from time.Time.
var Epoch2020 = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Instant is a single synchronization point: a local monotonic tick
// paired with the epoch time (in EpochHz fixed-point ticks since
// Epoch2020) it corresponds to.
type Instant struct {
	LocalTick int64
	EpochRef  int64
}

// Listener is notified whenever the reference instant changes.
type Listener func(source Source, old, new Instant)

// Clock is the process-wide S_time store. The zero value is not
// ready for use; call New.
type Clock struct {
	mu        sync.RWMutex
	source    Source
	ref       Instant
	nowLocal  func() int64
	listeners map[int]Listener
	nextID    int
}

// New creates a Clock with no reference set (source NONE, epoch 0).
// nowLocal supplies the local monotonic tick counter in LocalHz
// units; pass nil to derive one from the process monotonic clock.
func New(nowLocal func() int64) *Clock {
	if nowLocal == nil {
		start := time.Now()
		nowLocal = func() int64 { return localTicks(time.Since(start)) }
	}
	return &Clock{
		source:    SourceNone,
		nowLocal:  nowLocal,
		listeners: make(map[int]Listener),
	}
}

// SetReference updates S_time if source is at least as trusted as the
// current one (subordinate sources such as RECOVERED never promote
// trust over a live source), then fans out to every registered
// listener with the old and new instant.
func (c *Clock) SetReference(source Source, instant Instant) {
	c.mu.Lock()
	if source.trust() < c.source.trust() {
		c.mu.Unlock()
		return
	}
	old := c.ref
	c.ref = instant
	c.source = source
	listeners := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l(source, old, instant)
	}
}

// RegisterListener installs a callback invoked on every accepted
// SetReference update (rejected-by-trust calls do not fan out). It
// returns a handle for Deregister.
func (c *Clock) RegisterListener(l Listener) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	return id
}

// Deregister removes a previously registered listener. Required in
// hosted builds; a no-op on firmware where listeners live for the
// process lifetime.
func (c *Clock) Deregister(handle int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.listeners, handle)
}

// localTicks converts a monotonic duration to LocalHz ticks. Split
// into whole-second and sub-second parts so the multiply cannot
// overflow for any realistic uptime.
func localTicks(d time.Duration) int64 {
	secs := int64(d / time.Second)
	frac := int64(d % time.Second)
	return secs*LocalHz + frac*LocalHz/int64(time.Second)
}

// Source reports the current trust source.
func (c *Clock) Source() Source {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.source
}

// Now returns the current epoch time in EpochHz fixed-point ticks.
// Skew is fixed at 1.0: the refresh cadence of SetReference is the
// correctness guarantee, not drift compensation.
func (c *Clock) Now() int64 {
	return c.FromTicks(c.nowLocal())
}

// FromTicks converts a local monotonic tick to epoch time.
func (c *Clock) FromTicks(localTick int64) int64 {
	c.mu.RLock()
	ref := c.ref
	c.mu.RUnlock()
	delta := localTick - ref.LocalTick
	// epoch = ref + delta * (EpochHz / LocalHz); the two axes run at
	// the same rate, so the conversion is exact.
	return ref.EpochRef + (delta*EpochHz)/LocalHz
}

// TicksFrom converts an epoch time back to a local monotonic tick.
func (c *Clock) TicksFrom(epoch int64) int64 {
	c.mu.RLock()
	ref := c.ref
	c.mu.RUnlock()
	delta := epoch - ref.EpochRef
	return ref.LocalTick + (delta*LocalHz)/EpochHz
}

// NowSeconds returns the current epoch time as whole seconds since
// Epoch2020, the representation used in the ePacket nonce and TDF
// record timestamps. Returns 0 if no reference has ever been set, so
// a device with no time source keeps producing frames and records.
func (c *Clock) NowSeconds() uint32 {
	if c.Source() == SourceNone {
		return 0
	}
	ticks := c.Now()
	if ticks < 0 {
		return 0
	}
	return uint32(ticks / EpochHz)
}
