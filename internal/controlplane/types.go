// Package controlplane exposes a read-only status/administration
// surface over gRPC: the device daemon serves it, the host
// orchestrator and operator TUI consume it. No .proto pipeline ships
// with this tree, so the service is hand-wired: messages are plain Go
// structs carried by a JSON grpc codec, and the grpc.ServiceDesc is
// written out the way protoc-gen-go-grpc would have generated it
// (see DESIGN.md).
package controlplane

import (
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"infuse/internal/runner"
)

// GetStatusRequest asks for the device-wide status snapshot.
type GetStatusRequest struct{}

// StatusReply is the device-wide snapshot: identity, time trust,
// transport inventory, and the flattened counter set.
type StatusReply struct {
	DeviceName string `json:"device_name"`
	DeviceID   string `json:"device_id"` // hex, 8 bytes

	// Now is the host wall-clock at snapshot time; Uptime is time
	// since the daemon started.
	Now    *timestamppb.Timestamp `json:"now"`
	Uptime *durationpb.Duration   `json:"uptime"`

	EpochSource  string `json:"epoch_source"`
	EpochSeconds uint32 `json:"epoch_seconds"`

	Interfaces []string `json:"interfaces"`

	// Counters flattens the prometheus registry: one entry per metric
	// sample, keyed "name{label=value,...}".
	Counters map[string]float64 `json:"counters"`
}

// GetScheduleRequest asks for the runner's per-slot state.
type GetScheduleRequest struct{}

// ScheduleReply carries one entry per schedule slot.
type ScheduleReply struct {
	UptimeS uint32              `json:"uptime_s"`
	Slots   []runner.SlotStatus `json:"slots"`
}

// GetLoggersRequest asks for per-logger-instance state.
type GetLoggersRequest struct{}

// LoggerStatus is one TDF logger instance's observable state.
type LoggerStatus struct {
	Name            string `json:"name"`
	BlockSize       int    `json:"block_size"`
	CommittedBlocks int    `json:"committed_blocks"`
	CurrentBlock    int    `json:"current_block"`
	Degraded        bool   `json:"degraded"`
}

// LoggersReply carries one entry per routed logger instance, in
// loggers_mask bit order.
type LoggersReply struct {
	Loggers []LoggerStatus `json:"loggers"`
}

// FlushRequest forces the selected logger instances to commit their
// partial blocks now. LoggersMask selects instances by bit position;
// 0 means all.
type FlushRequest struct {
	LoggersMask uint16 `json:"loggers_mask"`
}

// FlushReply reports how many instances were flushed.
type FlushReply struct {
	Flushed int `json:"flushed"`
}
