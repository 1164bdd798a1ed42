// Package hostfeed supplies the once-per-second tick inputs
// (uptime_s, epoch_s, battery_pct) for runner.StartAutoIterate on
// hosted builds, where no fuel gauge or RTOS uptime counter exists.
// Host-side stats come from github.com/shirou/gopsutil/v3.
package hostfeed

import (
	"time"

	pshost "github.com/shirou/gopsutil/v3/host"
)

// BatteryFunc supplies a battery percentage; ok == false falls back
// to the built-in synthetic ramp for that sample.
type BatteryFunc func() (pct uint8, ok bool)

// Feed is a runner.TickSource over host statistics.
type Feed struct {
	start    time.Time
	nowEpoch func() uint32
	battery  BatteryFunc

	// hostUptime selects the machine's boot-relative uptime (gopsutil
	// host.Uptime) instead of process-relative uptime. Firmware
	// semantics are "seconds since boot"; for hosted runs
	// process-relative is usually what AFTER_BOOT_S rows want, so it
	// is the default.
	hostUptime bool
}

// Option configures a Feed.
type Option func(*Feed)

// WithBattery installs a real battery source, e.g. a fuel-gauge
// bridge. Without it the Feed uses a deterministic discharge/charge
// ramp so BATTERY_ABOVE_% schedule rows still exercise both sides of
// their threshold.
func WithBattery(fn BatteryFunc) Option {
	return func(f *Feed) { f.battery = fn }
}

// WithHostUptime makes Sample report the host machine's uptime rather
// than the process's.
func WithHostUptime() Option {
	return func(f *Feed) { f.hostUptime = true }
}

// New builds a Feed. nowEpoch supplies epoch seconds (0 when no time
// reference is held); pass epoch.Clock.NowSeconds.
func New(nowEpoch func() uint32, opts ...Option) *Feed {
	f := &Feed{start: time.Now(), nowEpoch: nowEpoch}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Sample returns one tick's inputs.
func (f *Feed) Sample() (uptimeS, epochS uint32, batteryPct uint8) {
	if f.hostUptime {
		if up, err := pshost.Uptime(); err == nil {
			uptimeS = uint32(up)
		}
	}
	if uptimeS == 0 {
		uptimeS = uint32(time.Since(f.start) / time.Second)
	}
	if f.nowEpoch != nil {
		epochS = f.nowEpoch()
	}
	batteryPct = f.sampleBattery(uptimeS)
	return uptimeS, epochS, batteryPct
}

// sampleBattery prefers the installed BatteryFunc and otherwise walks
// a triangle ramp: drain 100→20 at 1%/min, then charge back.
func (f *Feed) sampleBattery(uptimeS uint32) uint8 {
	if f.battery != nil {
		if pct, ok := f.battery(); ok {
			if pct > 100 {
				pct = 100
			}
			return pct
		}
	}
	const span = 80 // percent swept per half-cycle
	minutes := uptimeS / 60
	phase := minutes % (2 * span)
	if phase < span {
		return uint8(100 - phase)
	}
	return uint8(100 - span + (phase - span))
}
