package epoch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeClock(start int64) (*Clock, *int64) {
	local := start
	c := New(func() int64 { return local })
	return c, &local
}

func TestTicksFromRoundTrip(t *testing.T) {
	c, _ := fakeClock(1000)
	c.SetReference(SourceGNSS, Instant{LocalTick: 1000, EpochRef: 5 * EpochHz})

	for _, tk := range []int64{0, 1000, 2000, int64(LocalHz) * 3} {
		got := c.TicksFrom(c.FromTicks(tk))
		assert.InDelta(t, tk, got, 1, "round trip within one local tick")
	}
}

func TestSetReferenceTrustOrdering(t *testing.T) {
	c, _ := fakeClock(0)
	c.SetReference(SourceNTP, Instant{LocalTick: 0, EpochRef: 100 * EpochHz})
	require.Equal(t, SourceNTP, c.Source())

	// RECOVERED must not promote trust over the live NTP source.
	c.SetReference(SourceRecovered, Instant{LocalTick: 0, EpochRef: 0})
	assert.Equal(t, SourceNTP, c.Source(), "recovered source must not override NTP")

	// GNSS outranks NTP.
	c.SetReference(SourceGNSS, Instant{LocalTick: 0, EpochRef: 200 * EpochHz})
	assert.Equal(t, SourceGNSS, c.Source())
}

func TestListenerFanout(t *testing.T) {
	c, _ := fakeClock(0)
	var got []Source
	c.RegisterListener(func(source Source, old, new Instant) {
		got = append(got, source)
	})
	c.SetReference(SourceNTP, Instant{LocalTick: 0, EpochRef: 10})
	c.SetReference(SourceGNSS, Instant{LocalTick: 0, EpochRef: 20})
	assert.Equal(t, []Source{SourceNTP, SourceGNSS}, got)
}

func TestDeregisterStopsDelivery(t *testing.T) {
	c, _ := fakeClock(0)
	calls := 0
	h := c.RegisterListener(func(source Source, old, new Instant) { calls++ })
	c.SetReference(SourceNTP, Instant{LocalTick: 0, EpochRef: 1})
	c.Deregister(h)
	c.SetReference(SourceGNSS, Instant{LocalTick: 0, EpochRef: 2})
	assert.Equal(t, 1, calls)
}

func TestNowSecondsZeroWithoutReference(t *testing.T) {
	c, _ := fakeClock(0)
	assert.Equal(t, uint32(0), c.NowSeconds())
}

func TestNowAdvancesWithLocalTick(t *testing.T) {
	c, local := fakeClock(0)
	c.SetReference(SourceGNSS, Instant{LocalTick: 0, EpochRef: 0})
	before := c.Now()
	*local += LocalHz * 2
	after := c.Now()
	assert.Equal(t, int64(2*EpochHz), after-before)
}
