package controlplane

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"infuse/internal/epacket"
	"infuse/internal/epoch"
	"infuse/internal/runner"
	"infuse/internal/tdf"
)

// Providers bundles the live subsystems a Server reads from. A nil
// Runner or Router makes the methods that need it answer
// codes.Unavailable rather than panic; GetStatus leaves out the fields
// whose Clock, Dispatcher or Gatherer is nil. A partially assembled
// daemon (e.g. under test) still serves what it has.
type Providers struct {
	DeviceID   [8]byte
	DeviceName string

	Runner     *runner.Runner
	Router     *tdf.Router
	Dispatcher *epacket.Dispatcher
	Clock      *epoch.Clock
	Gatherer   prometheus.Gatherer
}

// Server answers control-plane queries from live subsystem state.
type Server struct {
	p       Providers
	started time.Time
}

// NewServer builds a Server over p.
func NewServer(p Providers) *Server {
	return &Server{p: p, started: time.Now()}
}

// GetStatus implements ControlPlaneServer.
func (s *Server) GetStatus(ctx context.Context, _ *GetStatusRequest) (*StatusReply, error) {
	reply := &StatusReply{
		DeviceName: s.p.DeviceName,
		DeviceID:   hex.EncodeToString(s.p.DeviceID[:]),
		Now:        timestamppb.Now(),
		Uptime:     durationpb.New(time.Since(s.started)),
	}
	if s.p.Clock != nil {
		reply.EpochSource = s.p.Clock.Source().String()
		reply.EpochSeconds = s.p.Clock.NowSeconds()
	}
	if s.p.Dispatcher != nil {
		ifaces := s.p.Dispatcher.Interfaces()
		sort.Strings(ifaces)
		reply.Interfaces = ifaces
	}
	if s.p.Gatherer != nil {
		counters, err := flattenCounters(s.p.Gatherer)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "gather metrics: %v", err)
		}
		reply.Counters = counters
	}
	return reply, nil
}

// GetSchedule implements ControlPlaneServer.
func (s *Server) GetSchedule(ctx context.Context, _ *GetScheduleRequest) (*ScheduleReply, error) {
	if s.p.Runner == nil {
		return nil, status.Error(codes.Unavailable, "runner not attached")
	}
	return &ScheduleReply{
		UptimeS: s.p.Runner.Uptime(),
		Slots:   s.p.Runner.Snapshot(),
	}, nil
}

// GetLoggers implements ControlPlaneServer.
func (s *Server) GetLoggers(ctx context.Context, _ *GetLoggersRequest) (*LoggersReply, error) {
	if s.p.Router == nil {
		return nil, status.Error(codes.Unavailable, "logger router not attached")
	}
	instances := s.p.Router.Instances()
	reply := &LoggersReply{Loggers: make([]LoggerStatus, 0, len(instances))}
	for _, inst := range instances {
		b := inst.Backend()
		reply.Loggers = append(reply.Loggers, LoggerStatus{
			Name:            inst.Name(),
			BlockSize:       b.BlockSize(),
			CommittedBlocks: inst.CommittedBlocks(),
			CurrentBlock:    b.CurrentBlock(),
			Degraded:        inst.Degraded(),
		})
	}
	return reply, nil
}

// Flush implements ControlPlaneServer.
func (s *Server) Flush(ctx context.Context, req *FlushRequest) (*FlushReply, error) {
	if s.p.Router == nil {
		return nil, status.Error(codes.Unavailable, "logger router not attached")
	}
	mask := tdf.Mask(req.LoggersMask)
	if mask == 0 {
		mask = ^tdf.Mask(0)
	}
	if err := s.p.Router.Flush(mask); err != nil {
		return nil, status.Errorf(codes.Internal, "flush: %v", err)
	}
	flushed := 0
	for idx := range s.p.Router.Instances() {
		if mask.Has(idx) {
			flushed++
		}
	}
	return &FlushReply{Flushed: flushed}, nil
}

// flattenCounters turns gathered metric families into the flat
// "name{label=value,...}" -> value map the status reply carries.
func flattenCounters(g prometheus.Gatherer) (map[string]float64, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			key := fam.GetName()
			if labels := m.GetLabel(); len(labels) > 0 {
				parts := make([]string, 0, len(labels))
				for _, l := range labels {
					parts = append(parts, fmt.Sprintf("%s=%s", l.GetName(), l.GetValue()))
				}
				key += "{" + strings.Join(parts, ",") + "}"
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			}
		}
	}
	return out, nil
}
