// Package schedule evaluates the read-only task schedule table against
// a runtime context once per tick. It has no notion of goroutines or timeouts itself —
// internal/runner owns the tick loop and uses this package purely to
// decide eligibility.
package schedule

// ValidityKind names the condition that gates a schedule row
// regardless of its periodicity.
type ValidityKind int

const (
	ValidityAlways ValidityKind = iota
	ValidityAfterBootS
	ValidityStateSet
	ValidityBatteryAbovePct
)

// Validity is one gating condition. Combinations are expressed as
// multiple Validity entries on a Row; every entry must hold (AND
// semantics) for the row to be eligible.
type Validity struct {
	Kind ValidityKind

	// AfterBootS is the AFTER_BOOT_S threshold in uptime seconds.
	AfterBootS uint32

	// StateKey names the zbus-style state this row depends on for
	// STATE_SET. An ON_EVENT periodicity watches its own key,
	// Periodicity.EventKey, which may name the same state.
	StateKey string

	// BatteryAbovePct is the BATTERY_ABOVE_% threshold.
	BatteryAbovePct uint8
}

// PeriodicityKind names how a schedule row decides it is due to run.
type PeriodicityKind int

const (
	PeriodicityFixed PeriodicityKind = iota
	PeriodicityLockout
	PeriodicityOnEvent
)

// Periodicity is one row's run-cadence rule.
type Periodicity struct {
	Kind PeriodicityKind

	// PeriodS is the FIXED(P) period in seconds.
	PeriodS uint32

	// LockoutS is the LOCKOUT(L) minimum gap in seconds between the
	// end of one run and the start of the next.
	LockoutS uint32

	// EventKey names the state key an ON_EVENT row watches for a
	// transition to set, or an explicit signal name.
	EventKey string
}

// LoggingSink is one {loggers_mask, tdf_mask} pair from a row's
// logging-sink descriptor.
type LoggingSink struct {
	LoggersMask uint16
	TDFMask     uint64
}

// ExecutorKind names which executor a schedule row's task body runs
// on.
type ExecutorKind int

const (
	// ExecutorWorkqueue runs the task body on the shared bounded-
	// concurrency low-priority queue (the default).
	ExecutorWorkqueue ExecutorKind = iota
	// ExecutorThread runs the task body on a dedicated, pre-created
	// goroutine, for long-blocking I/O such as GNSS acquisition.
	ExecutorThread
)

// Row is one immutable schedule table entry, assembled by the build
// system into the process Config.
type Row struct {
	TaskID     uint16
	Validity   []Validity
	Period     Periodicity
	TimeoutS   uint32 // 0 means no timeout
	Executor   ExecutorKind
	Sinks      []LoggingSink
	// Args is the tagged-variant task argument, keyed by TaskID.
	Args any
}

// Context is the per-tick snapshot the runner evaluates every row
// against.
type Context struct {
	UptimeS    uint32
	EpochS     uint32
	BatteryPct uint8

	// StateIsSet reports whether the named zbus-style state is
	// currently set, for ValidityStateSet and PeriodicityOnEvent.
	StateIsSet func(key string) bool

	// EventFired reports whether the named event/state transitioned to
	// set since the last tick, for PeriodicityOnEvent. Distinct from
	// StateIsSet because a level-triggered validity check and an
	// edge-triggered periodicity check read the same key differently.
	EventFired func(key string) bool
}

// RunState is the mutable execution-state half of one schedule slot
//; internal/runner owns instances of this,
// schedule only reads the two tick counters it needs for eligibility.
type RunState struct {
	LastRunTick   uint32 // uptime_s at which the task last started
	LastFinishTick uint32 // uptime_s at which the task last returned, for LOCKOUT
	Running        bool
}

// ValidityHolds reports whether every Validity entry on row is
// currently satisfied (AND semantics across combinations).
func ValidityHolds(row *Row, ctx *Context) bool {
	for _, v := range row.Validity {
		if !validityHolds(v, ctx) {
			return false
		}
	}
	return true
}

func validityHolds(v Validity, ctx *Context) bool {
	switch v.Kind {
	case ValidityAlways:
		return true
	case ValidityAfterBootS:
		return ctx.UptimeS >= v.AfterBootS
	case ValidityStateSet:
		return ctx.StateIsSet != nil && ctx.StateIsSet(v.StateKey)
	case ValidityBatteryAbovePct:
		return ctx.BatteryPct > v.BatteryAbovePct
	default:
		return false
	}
}

// Eligible reports whether row is due to start a run, given its
// current RunState and tick Context. It does not mutate state or
// consider the cross-row per-task-id busy bit; the runner applies
// that check separately.
func Eligible(row *Row, st *RunState, ctx *Context) bool {
	if !ValidityHolds(row, ctx) {
		return false
	}
	switch row.Period.Kind {
	case PeriodicityFixed:
		return ctx.UptimeS-st.LastRunTick >= row.Period.PeriodS
	case PeriodicityLockout:
		if st.Running {
			return false
		}
		return ctx.UptimeS-st.LastFinishTick >= row.Period.LockoutS
	case PeriodicityOnEvent:
		return ctx.EventFired != nil && ctx.EventFired(row.Period.EventKey)
	default:
		return false
	}
}
