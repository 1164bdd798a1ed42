// Package taskadapter bridges a running task's output to the TDF
// logger fabric and to zbus-style state channels.
// It is the thin component between a task body (internal/runner) and
// the typed record sink (internal/tdf), so task bodies never call
// internal/tdf directly.
package taskadapter

import (
	"infuse/internal/schedule"
	"infuse/internal/tdf"
	"infuse/internal/zbus"
)

// Adapter is constructed once per process and shared by every task
// body via the closures registered in runner.Config.TaskFuncs.
type Adapter struct {
	Router *tdf.Router
	Bus    *zbus.Bus
}

// New builds an Adapter over router and bus. bus may be nil if no
// schedule row uses STATE_SET/ON_EVENT.
func New(router *tdf.Router, bus *zbus.Bus) *Adapter {
	return &Adapter{Router: router, Bus: bus}
}

// Log appends one record to every logger instance selected by
// loggersMask.
func (a *Adapter) Log(loggersMask tdf.Mask, tdfID uint16, epoch uint32, payload []byte, elemLen int) error {
	return a.Router.Log(loggersMask, tdfID, epoch, payload, elemLen)
}

// LogArray appends a uniformly-spaced sample array as one record.
func (a *Adapter) LogArray(loggersMask tdf.Mask, tdfID uint16, elemLen, count int, firstEpoch, periodTicks uint32, payload []byte) error {
	return a.Router.LogArray(loggersMask, tdfID, elemLen, count, firstEpoch, periodTicks, payload)
}

// Flush forces every selected instance to commit its partial block.
func (a *Adapter) Flush(loggersMask tdf.Mask) error {
	return a.Router.Flush(loggersMask)
}

// ScheduleTDFLog is the per-schedule logging helper task bodies use: it
// checks every {loggers_mask, tdf_mask} pair configured on row and
// calls Log on each pair whose tdf_mask contains whichTDFBit, so a
// task body logs through its own schedule row's sink configuration
// rather than hard-coding a logger mask.
func (a *Adapter) ScheduleTDFLog(row *schedule.Row, whichTDFBit uint, tdfID uint16, epoch uint32, payload []byte, elemLen int) error {
	var firstErr error
	for _, sink := range row.Sinks {
		if sink.TDFMask&(1<<whichTDFBit) == 0 {
			continue
		}
		if err := a.Log(tdf.Mask(sink.LoggersMask), tdfID, epoch, payload, elemLen); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SetState publishes a zbus-style state transition, the mechanism a
// task body uses to drive another row's STATE_SET validity or
// ON_EVENT periodicity (e.g. a GNSS task setting "gnss_fix" once it
// acquires a lock).
func (a *Adapter) SetState(key string, value bool) {
	if a.Bus != nil {
		a.Bus.Set(key, value)
	}
}
