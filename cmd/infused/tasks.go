package main

import (
	"context"
	"encoding/binary"
	"log"

	pscpu "github.com/shirou/gopsutil/v3/cpu"
	psmem "github.com/shirou/gopsutil/v3/mem"

	"infuse/internal/epacket"
	"infuse/internal/epoch"
	"infuse/internal/hostfeed"
	"infuse/internal/runner"
	"infuse/internal/taskadapter"
	"infuse/internal/tdf"
)

// Built-in task ids. Config schedule rows reference these; a row with
// an unknown task_id runs no body (the runner counts the start and
// finishes it at once).
const (
	taskIDEnvSample     uint16 = 1
	taskIDBatterySample uint16 = 2
	taskIDKeyAnnounce   uint16 = 3
	taskIDFlush         uint16 = 4
)

// TDF record ids emitted by the built-in tasks.
const (
	tdfIDEnvSample     uint16 = 0x0010 // {cpu_centi_pct:u16, mem_centi_pct:u16, mem_used_mb:u32}
	tdfIDBatterySample uint16 = 0x0011 // {battery_pct:u8, flags:u8}
)

// Bit positions in a schedule row's tdf_mask for each built-in
// record.
const (
	tdfBitEnvSample = 0
	tdfBitBattery   = 1
)

// taskDeps bundles what the built-in task bodies need; main fills it
// in as subsystems come up.
type taskDeps struct {
	adapter  *taskadapter.Adapter
	dis      *epacket.Dispatcher
	clock    *epoch.Clock
	feed     *hostfeed.Feed
	announce bool
}

// builtinTasks maps task ids to their bodies. Bodies poll ctx at
// every suspension point and return promptly once it is done.
func builtinTasks(d *taskDeps) map[uint16]runner.TaskFunc {
	return map[uint16]runner.TaskFunc{
		taskIDEnvSample:     d.envSampleTask,
		taskIDBatterySample: d.batterySampleTask,
		taskIDKeyAnnounce:   d.keyAnnounceTask,
		taskIDFlush:         d.flushTask,
	}
}

// envSampleTask reads host CPU/memory and logs one environment
// record to every sink the schedule row selects.
func (d *taskDeps) envSampleTask(ctx context.Context, data *runner.TaskData) {
	cpuPercent, err := pscpu.PercentWithContext(ctx, 0, false)
	if err != nil || len(cpuPercent) == 0 {
		return
	}
	memInfo, err := psmem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return
	}
	if ctx.Err() != nil {
		return
	}

	payload := make([]byte, 8)
	binary.LittleEndian.PutUint16(payload[0:2], uint16(cpuPercent[0]*100))
	binary.LittleEndian.PutUint16(payload[2:4], uint16(memInfo.UsedPercent*100))
	binary.LittleEndian.PutUint32(payload[4:8], uint32(memInfo.Used>>20))

	if err := d.adapter.ScheduleTDFLog(data.Schedule(), tdfBitEnvSample, tdfIDEnvSample, d.clock.NowSeconds(), payload, 8); err != nil {
		log.Printf("env sample: log failed: %v", err)
	}
}

// batterySampleTask logs the current battery percentage.
func (d *taskDeps) batterySampleTask(ctx context.Context, data *runner.TaskData) {
	_, _, pct := d.feed.Sample()
	if ctx.Err() != nil {
		return
	}
	payload := []byte{pct, 0}
	if err := d.adapter.ScheduleTDFLog(data.Schedule(), tdfBitBattery, tdfIDBatterySample, d.clock.NowSeconds(), payload, 2); err != nil {
		log.Printf("battery sample: log failed: %v", err)
	}
}

// keyAnnounceTask re-emits the key-identifier advertisement so newly
// arrived peers can pick the right key without waiting for a reboot.
func (d *taskDeps) keyAnnounceTask(ctx context.Context, data *runner.TaskData) {
	if !d.announce || ctx.Err() != nil {
		return
	}
	if _, err := d.dis.SendKeyIDs("announce"); err != nil {
		log.Printf("key announce failed: %v", err)
	}
}

// flushTask forces partial logger blocks out on a schedule, so a
// quiet device still commits its tail data.
func (d *taskDeps) flushTask(ctx context.Context, data *runner.TaskData) {
	if ctx.Err() != nil {
		return
	}
	for _, sink := range data.Schedule().Sinks {
		if err := d.adapter.Flush(tdf.Mask(sink.LoggersMask)); err != nil {
			log.Printf("scheduled flush failed: %v", err)
		}
	}
}
