package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infuse/internal/schedule"
)

// TestFixedPeriodRunCount: one schedule with a fixed 2s period, task
// body increments a counter and returns. After 10 ticks the counter
// is in {5,6} and reschedule_counter equals it.
func TestFixedPeriodRunCount(t *testing.T) {
	var counter atomic.Int64
	cfg := Config{
		Rows: []*schedule.Row{
			{TaskID: 1, Period: schedule.Periodicity{Kind: schedule.PeriodicityFixed, PeriodS: 2}},
		},
		TaskFuncs: map[uint16]TaskFunc{
			1: func(ctx context.Context, data *TaskData) { counter.Add(1) },
		},
	}
	r := New(cfg, nil)

	for i := uint32(1); i <= 10; i++ {
		r.Tick(i, i, 100)
		time.Sleep(5 * time.Millisecond) // let the async task body finish
	}
	time.Sleep(20 * time.Millisecond)

	c := counter.Load()
	assert.Contains(t, []int64{5, 6}, c)
	assert.Equal(t, uint64(c), r.RescheduleCounter(0))
}

// TestSameTaskIDNeverOverlaps: two schedules sharing one task_id,
// both fixed 5s periods starting from the same tick, never run
// concurrently.
func TestSameTaskIDNeverOverlaps(t *testing.T) {
	var mu sync.Mutex
	overlap := false
	running := 0

	slow := func(ctx context.Context, data *TaskData) {
		mu.Lock()
		running++
		if running > 1 {
			overlap = true
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		running--
		mu.Unlock()
	}

	cfg := Config{
		Rows: []*schedule.Row{
			{TaskID: 7, Period: schedule.Periodicity{Kind: schedule.PeriodicityFixed, PeriodS: 5}},
			{TaskID: 7, Period: schedule.Periodicity{Kind: schedule.PeriodicityFixed, PeriodS: 5}},
		},
		TaskFuncs:             map[uint16]TaskFunc{7: slow},
		WorkqueueConcurrency:  4,
	}
	r := New(cfg, nil)

	for i := uint32(1); i <= 20; i++ {
		r.Tick(i, i, 100)
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	assert.False(t, overlap, "the same task_id must never run on two schedules at once")
}

// TestTimeoutRaisesTerminateSignal: task sleeps 3s with a 1s
// schedule timeout. Ticks are driven by hand, so the terminate signal
// is raised on the tick whose uptime is 1s past the start tick, and
// the body must observe it well before its own 3s sleep ends.
func TestTimeoutRaisesTerminateSignal(t *testing.T) {
	observed := make(chan time.Duration, 1)

	body := func(ctx context.Context, data *TaskData) {
		start := time.Now()
		select {
		case <-ctx.Done():
			observed <- time.Since(start)
		case <-time.After(3 * time.Second):
			observed <- -1
		}
	}

	cfg := Config{
		Rows: []*schedule.Row{
			{TaskID: 3, TimeoutS: 1, Period: schedule.Periodicity{Kind: schedule.PeriodicityFixed, PeriodS: 0}},
		},
		TaskFuncs: map[uint16]TaskFunc{3: body},
	}
	r := New(cfg, nil)

	r.Tick(0, 0, 100) // starts the task at uptime 0
	require.True(t, r.IsRunning(0))

	r.Tick(1, 1, 100) // uptime-start == 1 >= timeout(1): terminate fires here

	select {
	case d := <-observed:
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, 2500*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("terminate_signal was never observed")
	}
}

func TestBusyBitBlocksSecondRowWithSameTaskID(t *testing.T) {
	release := make(chan struct{})
	var starts atomic.Int64

	body := func(ctx context.Context, data *TaskData) {
		starts.Add(1)
		<-release
	}

	cfg := Config{
		Rows: []*schedule.Row{
			{TaskID: 9, Period: schedule.Periodicity{Kind: schedule.PeriodicityFixed, PeriodS: 1}},
			{TaskID: 9, Period: schedule.Periodicity{Kind: schedule.PeriodicityFixed, PeriodS: 1}},
		},
		TaskFuncs: map[uint16]TaskFunc{9: body},
	}
	r := New(cfg, nil)

	r.Tick(1, 1, 100)
	time.Sleep(10 * time.Millisecond)
	r.Tick(2, 2, 100)
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, int64(1), starts.Load(), "only one of the two same-task_id rows may be running")
	close(release)
}
