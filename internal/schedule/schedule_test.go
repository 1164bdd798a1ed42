package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ctx(uptime uint32) *Context {
	return &Context{UptimeS: uptime}
}

func TestEligible_Fixed(t *testing.T) {
	row := &Row{Period: Periodicity{Kind: PeriodicityFixed, PeriodS: 2}}
	st := &RunState{}

	assert.False(t, Eligible(row, st, ctx(1)))
	assert.True(t, Eligible(row, st, ctx(2)))

	st.LastRunTick = 10
	assert.False(t, Eligible(row, st, ctx(11)))
	assert.True(t, Eligible(row, st, ctx(12)))
}

func TestEligible_Lockout(t *testing.T) {
	row := &Row{Period: Periodicity{Kind: PeriodicityLockout, LockoutS: 5}}
	st := &RunState{LastFinishTick: 100}

	assert.False(t, Eligible(row, st, ctx(104)))
	assert.True(t, Eligible(row, st, ctx(105)))

	st.Running = true
	assert.False(t, Eligible(row, st, ctx(200)))
}

func TestEligible_OnEvent(t *testing.T) {
	row := &Row{Period: Periodicity{Kind: PeriodicityOnEvent, EventKey: "gnss_fix"}}
	st := &RunState{}

	c := ctx(1)
	c.EventFired = func(key string) bool { return key == "gnss_fix" }
	assert.True(t, Eligible(row, st, c))

	c.EventFired = func(key string) bool { return false }
	assert.False(t, Eligible(row, st, c))
}

func TestValidity_Combinations(t *testing.T) {
	row := &Row{
		Validity: []Validity{
			{Kind: ValidityAfterBootS, AfterBootS: 30},
			{Kind: ValidityBatteryAbovePct, BatteryAbovePct: 20},
		},
		Period: Periodicity{Kind: PeriodicityFixed, PeriodS: 1},
	}
	st := &RunState{}

	c := &Context{UptimeS: 10, BatteryPct: 50}
	assert.False(t, Eligible(row, st, c), "not past AFTER_BOOT_S yet")

	c.UptimeS = 31
	c.BatteryPct = 10
	assert.False(t, Eligible(row, st, c), "battery too low")

	c.BatteryPct = 50
	assert.True(t, Eligible(row, st, c))
}

func TestValidity_StateSet(t *testing.T) {
	row := &Row{Validity: []Validity{{Kind: ValidityStateSet, StateKey: "charging"}}}
	c := &Context{StateIsSet: func(key string) bool { return key == "charging" }}
	assert.True(t, ValidityHolds(row, c))

	c.StateIsSet = func(key string) bool { return false }
	assert.False(t, ValidityHolds(row, c))
}
