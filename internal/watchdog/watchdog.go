// Package watchdog multiplexes N soft channels over a single
// hardware watchdog timeout channel, so independent goroutines each
// have their own feed requirement without each needing a dedicated
// HW channel. A shared scan loop polls per-channel last-fed times
// and escalates from a warning callback to the fatal path.
package watchdog

import (
	"fmt"
	"sync"
	"time"
)

// WarningFunc is invoked when a channel's last feed is older than its
// period plus the configured warning margin, before the harder HW
// reset.
type WarningFunc func(channelID int)

// FatalFunc is invoked if a full feed-all cycle elapses after a
// warning without every channel being fed — the point at which real
// firmware lets the HW watchdog reset the CPU. The hosted build
// cannot reset the process, so it instead calls FatalFunc with a
// reboot-reason snapshot and leaves shutdown to the caller.
type FatalFunc func(reason RebootReason)

// RebootReason is the post-mortem record captured just before a fatal
// watchdog expiry.
type RebootReason struct {
	ExpiredChannel int
	ThreadName     string
	UptimeS        uint32
}

// channel is one soft watchdog slot.
type channel struct {
	period     time.Duration
	threadName string

	mu       sync.Mutex
	lastFed  time.Time
	warned   bool
}

// Watchdog is the single shared multiplexer. Install every channel
// before calling Start; Start locks the installation list.
type Watchdog struct {
	hwTimeout time.Duration
	warning   time.Duration
	onWarning WarningFunc
	onFatal   FatalFunc
	nowFunc   func() time.Time
	uptime    func() uint32

	mu       sync.Mutex
	started  bool
	channels []*channel

	stop chan struct{}
}

// New creates a Watchdog with the given hardware timeout and warning
// margin. A channel warns once its last feed is older than its feed
// period plus warningMargin, and goes fatal once it is older than its
// feed period plus hwTimeout.
// uptimeFunc supplies the UptimeS stamped into a RebootReason.
func New(hwTimeout, warningMargin time.Duration, onWarning WarningFunc, onFatal FatalFunc, uptimeFunc func() uint32) *Watchdog {
	if uptimeFunc == nil {
		uptimeFunc = func() uint32 { return 0 }
	}
	return &Watchdog{
		hwTimeout: hwTimeout,
		warning:   warningMargin,
		onWarning: onWarning,
		onFatal:   onFatal,
		nowFunc:   time.Now,
		uptime:    uptimeFunc,
		stop:      make(chan struct{}),
	}
}

// Install allocates a new soft channel before Start is called. It
// returns the channel id and the recommended feed period: strictly
// less than the HW timeout, leaving room for the warning margin.
func (w *Watchdog) Install(threadName string) (channelID int, feedPeriod time.Duration, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return 0, 0, fmt.Errorf("watchdog: cannot Install after Start")
	}
	feedPeriod = w.hwTimeout - w.warning
	if feedPeriod <= 0 || feedPeriod >= w.hwTimeout {
		feedPeriod = w.hwTimeout / 2
	}
	ch := &channel{period: feedPeriod, threadName: threadName, lastFed: w.nowFunc()}
	w.channels = append(w.channels, ch)
	return len(w.channels) - 1, feedPeriod, nil
}

// ThreadRegister records which goroutine owes a channel's feed, so a
// post-mortem can name it. It is equivalent
// to passing threadName to Install; exposed separately so a channel
// can be re-labeled if ownership moves.
func (w *Watchdog) ThreadRegister(channelID int, threadName string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if channelID < 0 || channelID >= len(w.channels) {
		return
	}
	w.channels[channelID].mu.Lock()
	w.channels[channelID].threadName = threadName
	w.channels[channelID].mu.Unlock()
}

// Start locks the installation list and begins the shared HW-timer
// simulation: a ticker that scans every channel at a cadence fine
// enough to catch the warning threshold reliably.
func (w *Watchdog) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	tick := w.warning / 4
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	go w.monitorLoop(tick)
}

func (w *Watchdog) monitorLoop(tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.scan()
		}
	}
}

func (w *Watchdog) scan() {
	w.mu.Lock()
	channels := append([]*channel(nil), w.channels...)
	w.mu.Unlock()

	now := w.nowFunc()
	for id, ch := range channels {
		ch.mu.Lock()
		age := now.Sub(ch.lastFed)
		warnThreshold := ch.period + w.warning
		fatalThreshold := ch.period + w.hwTimeout
		shouldWarn := age >= warnThreshold && !ch.warned
		shouldFatal := age >= fatalThreshold
		if shouldWarn {
			ch.warned = true
		}
		threadName := ch.threadName
		ch.mu.Unlock()

		if shouldWarn && w.onWarning != nil {
			w.onWarning(id)
		}
		if shouldFatal && w.onFatal != nil {
			w.onFatal(RebootReason{ExpiredChannel: id, ThreadName: threadName, UptimeS: w.uptime()})
		}
	}
}

// Feed updates channelID's last-fed tick, clearing any pending
// warning.
func (w *Watchdog) Feed(channelID int) {
	w.mu.Lock()
	channels := w.channels
	w.mu.Unlock()
	if channelID < 0 || channelID >= len(channels) {
		return
	}
	ch := channels[channelID]
	ch.mu.Lock()
	ch.lastFed = w.nowFunc()
	ch.warned = false
	ch.mu.Unlock()
}

// FeedAll feeds every installed channel at once.
func (w *Watchdog) FeedAll() {
	w.mu.Lock()
	n := len(w.channels)
	w.mu.Unlock()
	for i := 0; i < n; i++ {
		w.Feed(i)
	}
}

// Stop halts the monitor loop. Not part of the firmware API (the HW
// watchdog runs for the process lifetime); provided for hosted
// builds and tests to shut down cleanly.
func (w *Watchdog) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
}
