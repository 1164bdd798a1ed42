// Package runner implements the cooperative task runner: a single
// once-per-second tick walks the schedule table, decides which tasks
// are eligible, starts them under concurrency and per-task-id busy
// constraints, and terminates them on timeout. Each slot keeps its
// own mutable run state and a cancellable context per invocation; a
// semaphore channel bounds the shared workqueue executor.
package runner

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"infuse/internal/metrics"
	"infuse/internal/schedule"
)

// TaskData is what a task body receives on start: its schedule row
// plus the slot handle and start counter it would otherwise have to
// look up through the runner.
type TaskData struct {
	Row               *schedule.Row
	SlotIndex         int
	RescheduleCounter uint64
}

// Schedule returns the schedule row this TaskData belongs to.
func (d *TaskData) Schedule() *schedule.Row { return d.Row }

// TaskFunc is a schedule row's task body. It must poll ctx at every
// natural suspension point and return promptly once ctx is done;
// force termination is not supported.
type TaskFunc func(ctx context.Context, data *TaskData)

// Config assembles the static, build-system-produced inputs to a
// Runner: the schedule table and the task bodies it dispatches.
type Config struct {
	Rows []*schedule.Row
	// TaskFuncs maps task_id to its task body. A row whose task_id has
	// no entry runs no body: when it becomes eligible it still goes
	// through start bookkeeping (reschedule counter, last-run tick,
	// starts metric) and is then finished straight away.
	TaskFuncs map[uint16]TaskFunc
	// WorkqueueConcurrency bounds how many ExecutorWorkqueue task
	// bodies may run at once, modeling the shared low-priority work
	// queue's effective parallelism.
	WorkqueueConcurrency int
}

type slot struct {
	row    *schedule.Row
	rs     schedule.RunState
	mu     sync.Mutex
	cancel context.CancelFunc

	rescheduleCounter uint64
	threadStart       chan *threadJob // ExecutorThread only
}

// threadJob is what startLocked hands to a dedicated-thread executor's
// pre-created goroutine: the per-run cancelable context plus its
// TaskData.
type threadJob struct {
	ctx  context.Context
	data *TaskData
}

// Runner drives the schedule table. Create with New, then call Tick
// once per second (directly, or via StartAutoIterate for a built-in
// real-time driver).
type Runner struct {
	cfg Config
	sem chan struct{} // ExecutorWorkqueue concurrency bound
	bus stateSource
	m   *metrics.Registry

	mu    sync.Mutex
	slots []*slot
	busy  map[uint16]bool

	lastUptime atomic.Uint32
	autoStop   chan struct{}
}

// stateSource supplies STATE_SET/ON_EVENT inputs; internal/zbus.Bus
// satisfies it. Accepting the narrow interface here (rather than
// importing zbus directly) keeps runner usable with any bus
// implementation, including a test double with no dependencies.
type stateSource interface {
	IsSet(key string) bool
	Fired(key string) bool
}

// New builds a Runner over cfg. bus supplies STATE_SET/ON_EVENT
// inputs; pass nil if no row uses those validity/periodicity kinds.
func New(cfg Config, bus stateSource) *Runner {
	if cfg.WorkqueueConcurrency <= 0 {
		cfg.WorkqueueConcurrency = 4
	}
	r := &Runner{
		cfg:  cfg,
		sem:  make(chan struct{}, cfg.WorkqueueConcurrency),
		bus:  bus,
		busy: make(map[uint16]bool),
	}
	for _, row := range cfg.Rows {
		s := &slot{row: row}
		if row.Executor == schedule.ExecutorThread {
			s.threadStart = make(chan *threadJob, 1)
			go r.threadLoop(s)
		}
		r.slots = append(r.slots, s)
	}
	return r
}

// threadLoop is the pre-created goroutine behind ExecutorThread. It
// blocks on threadStart for the process lifetime, matching the
// firmware's one-thread-per-dedicated-task model.
func (r *Runner) threadLoop(s *slot) {
	for job := range s.threadStart {
		r.runTask(s, job)
	}
}

// SetMetrics attaches the process metrics registry; starts and
// timeout terminations are counted per task_id afterwards.
func (r *Runner) SetMetrics(m *metrics.Registry) { r.m = m }

// Tick evaluates every schedule row once against the given context
// values. It is safe to call from a single dedicated goroutine only;
// concurrent Tick calls are not supported.
func (r *Runner) Tick(uptimeS, epochS uint32, batteryPct uint8) {
	r.lastUptime.Store(uptimeS)
	ctx := &schedule.Context{
		UptimeS:    uptimeS,
		EpochS:     epochS,
		BatteryPct: batteryPct,
	}
	if r.bus != nil {
		ctx.StateIsSet = r.bus.IsSet
		ctx.EventFired = r.bus.Fired
	}

	for _, s := range r.slots {
		r.tickSlot(s, ctx)
	}

	if b, ok := r.bus.(interface{ ConsumeEdges() }); ok {
		b.ConsumeEdges()
	}
}

func (r *Runner) tickSlot(s *slot, ctx *schedule.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !schedule.ValidityHolds(s.row, ctx) {
		if s.rs.Running {
			r.terminateLocked(s)
		}
		return
	}

	if s.rs.Running {
		if s.row.TimeoutS > 0 && ctx.UptimeS-s.rs.LastRunTick >= s.row.TimeoutS {
			r.terminateLocked(s)
			if r.m != nil {
				r.m.RunnerTimeouts.WithLabelValues(strconv.Itoa(int(s.row.TaskID))).Inc()
			}
		}
		return
	}

	if !schedule.Eligible(s.row, &s.rs, ctx) {
		return
	}

	r.mu.Lock()
	if r.busy[s.row.TaskID] {
		r.mu.Unlock()
		return
	}
	r.busy[s.row.TaskID] = true
	r.mu.Unlock()

	r.startLocked(s, ctx.UptimeS)
}

// terminateLocked raises the terminate signal for a running slot.
// Caller must hold s.mu.
func (r *Runner) terminateLocked(s *slot) {
	if s.cancel != nil {
		s.cancel()
	}
}

// startLocked transitions a slot to running and dispatches its task
// body to the configured executor. Caller must hold s.mu.
func (r *Runner) startLocked(s *slot, uptimeS uint32) {
	taskCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.rs.Running = true
	s.rs.LastRunTick = uptimeS
	s.rescheduleCounter++
	if r.m != nil {
		r.m.RunnerStarts.WithLabelValues(strconv.Itoa(int(s.row.TaskID))).Inc()
	}

	data := &TaskData{Row: s.row, SlotIndex: r.slotIndex(s), RescheduleCounter: s.rescheduleCounter}

	fn := r.cfg.TaskFuncs[s.row.TaskID]
	if fn == nil {
		// No task body registered: immediately finish so busy-bit and
		// running state don't wedge a row that exists only to probe
		// eligibility bookkeeping (e.g. in tests).
		go r.finish(s)
		return
	}

	switch s.row.Executor {
	case schedule.ExecutorThread:
		s.threadStart <- &threadJob{ctx: taskCtx, data: data}
	default:
		go func() {
			r.sem <- struct{}{}
			defer func() { <-r.sem }()
			fn(taskCtx, data)
			r.finish(s)
		}()
	}
}

// runTask invokes a dedicated-thread executor's task body and then
// finishes the slot; threadLoop's range over threadStart is the
// "wake" half of the dedicated-thread executor.
func (r *Runner) runTask(s *slot, job *threadJob) {
	s.mu.Lock()
	fn := r.cfg.TaskFuncs[s.row.TaskID]
	s.mu.Unlock()

	if fn != nil {
		fn(job.ctx, job.data)
	}
	r.finish(s)
}

// finish marks a slot no longer running and clears the task_id busy
// bit once its body returns.
func (r *Runner) finish(s *slot) {
	s.mu.Lock()
	s.rs.Running = false
	s.rs.LastFinishTick = r.lastUptime.Load()
	s.cancel = nil
	taskID := s.row.TaskID
	s.mu.Unlock()

	r.mu.Lock()
	delete(r.busy, taskID)
	r.mu.Unlock()
}

func (r *Runner) slotIndex(s *slot) int {
	for i, x := range r.slots {
		if x == s {
			return i
		}
	}
	return -1
}

// SlotData returns the current execution snapshot for a slot, the
// reverse lookup a task body uses to reach its own state without
// global variables.
func (r *Runner) SlotData(slotIndex int) (*TaskData, bool) {
	if slotIndex < 0 || slotIndex >= len(r.slots) {
		return nil, false
	}
	s := r.slots[slotIndex]
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.rs.Running {
		return nil, false
	}
	return &TaskData{Row: s.row, SlotIndex: slotIndex, RescheduleCounter: s.rescheduleCounter}, true
}

// RescheduleCounter returns how many times the row at slotIndex has
// started; it increases by exactly one per start.
func (r *Runner) RescheduleCounter(slotIndex int) uint64 {
	s := r.slots[slotIndex]
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rescheduleCounter
}

// IsRunning reports whether the row at slotIndex currently has a task
// body in flight.
func (r *Runner) IsRunning(slotIndex int) bool {
	s := r.slots[slotIndex]
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rs.Running
}

// TickSource supplies the once-per-second tick inputs for
// StartAutoIterate; internal/hostfeed.Feed satisfies it.
type TickSource interface {
	Sample() (uptimeS, epochS uint32, batteryPct uint8)
}

// StartAutoIterate drives Tick once per second from src until
// StopAutoIterate is called; callers that own their own tick source
// call Tick directly instead.
func (r *Runner) StartAutoIterate(src TickSource) {
	r.mu.Lock()
	if r.autoStop != nil {
		r.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	r.autoStop = stop
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.Tick(src.Sample())
			}
		}
	}()
}

// StopAutoIterate halts the internal tick driver. External Tick calls
// remain possible afterwards.
func (r *Runner) StopAutoIterate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.autoStop != nil {
		close(r.autoStop)
		r.autoStop = nil
	}
}

// SlotStatus is one schedule slot's observable state, for the
// control-plane status surface.
type SlotStatus struct {
	SlotIndex         int    `json:"slot_index"`
	TaskID            uint16 `json:"task_id"`
	Running           bool   `json:"running"`
	LastRunTick       uint32 `json:"last_run_tick"`
	LastFinishTick    uint32 `json:"last_finish_tick"`
	RescheduleCounter uint64 `json:"reschedule_counter"`
	TimeoutS          uint32 `json:"timeout_s"`
}

// Snapshot returns the current state of every schedule slot.
func (r *Runner) Snapshot() []SlotStatus {
	out := make([]SlotStatus, 0, len(r.slots))
	for i, s := range r.slots {
		s.mu.Lock()
		out = append(out, SlotStatus{
			SlotIndex:         i,
			TaskID:            s.row.TaskID,
			Running:           s.rs.Running,
			LastRunTick:       s.rs.LastRunTick,
			LastFinishTick:    s.rs.LastFinishTick,
			RescheduleCounter: s.rescheduleCounter,
			TimeoutS:          s.row.TimeoutS,
		})
		s.mu.Unlock()
	}
	return out
}

// Uptime reports the uptime seconds observed on the most recent Tick.
func (r *Runner) Uptime() uint32 { return r.lastUptime.Load() }
