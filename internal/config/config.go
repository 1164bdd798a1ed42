// Package config loads the single build-time Config record a real
// device image would otherwise assemble from linker-collected tables
// and Kconfig/devicetree options. It is decoded from YAML with
// gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"infuse/internal/schedule"
)

// Config is the top-level record cmd/infused loads once at startup and
// passes to every subsystem's constructor.
type Config struct {
	Device   Device         `yaml:"device"`
	AEAD     AEAD           `yaml:"aead"`
	Watchdog Watchdog       `yaml:"watchdog"`
	Loggers  []LoggerConfig `yaml:"loggers"`
	Schedule []ScheduleRow  `yaml:"schedule"`
}

// Device carries the identifiers wired into every ePacket's AD/nonce
// and into key derivation.
type Device struct {
	// ID is the 8-byte device identity, hex-encoded in config (e.g.
	// "0102030405060708"), split at runtime into DeviceIDUpper (first
	// 4 bytes, AD) and DeviceIDLower (last 4 bytes, nonce).
	ID string `yaml:"id"`
	// Name is the human-readable device name the control plane reports.
	Name string `yaml:"name"`
}

// AEAD selects the cipher algorithm and key material.
type AEAD struct {
	Algorithm string `yaml:"algorithm"` // e.g. "chacha20poly1305"
	// NetworkKeyHex / DeviceKeyHex are hex-encoded raw key bytes. A
	// production image reads these from the key-value store instead
	// of a config file; hosted builds accept either.
	NetworkKeyHex string `yaml:"network_key_hex"`
	DeviceKeyHex  string `yaml:"device_key_hex"`
}

// Watchdog configures the single shared HW timeout channel.
type Watchdog struct {
	HWTimeout     time.Duration `yaml:"hw_timeout"`
	WarningMargin time.Duration `yaml:"warning_margin"`
}

// UnmarshalYAML accepts "30s"-style duration strings, which yaml.v3
// does not decode into time.Duration on its own.
func (w *Watchdog) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		HWTimeout     string `yaml:"hw_timeout"`
		WarningMargin string `yaml:"warning_margin"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	var err error
	if raw.HWTimeout != "" {
		if w.HWTimeout, err = time.ParseDuration(raw.HWTimeout); err != nil {
			return fmt.Errorf("config: watchdog hw_timeout: %w", err)
		}
	}
	if raw.WarningMargin != "" {
		if w.WarningMargin, err = time.ParseDuration(raw.WarningMargin); err != nil {
			return fmt.Errorf("config: watchdog warning_margin: %w", err)
		}
	}
	return nil
}

// LoggerConfig names one TDF logger instance and its backend kind.
// LoggersMaskBit is this instance's position in every schedule row's
// loggers_mask.
type LoggerConfig struct {
	Name           string `yaml:"name"`
	Backend        string `yaml:"backend"` // "memring" | "serial" | "udp" | "exfat" | "epacket"
	LoggersMaskBit int    `yaml:"loggers_mask_bit"`
	// Path/Addr are backend-specific: Path is the root directory for
	// "exfat"; Addr is passed as the frame address for "udp" and
	// "epacket", which the UDP transport ignores (its peer is fixed at
	// Dial). The "serial" backend reads neither; its tty comes from
	// cmd/infused's -serial flag.
	Path string `yaml:"path,omitempty"`
	Addr string `yaml:"addr,omitempty"`
}

// ScheduleRow is the YAML-friendly mirror of schedule.Row: enums are
// spelled as strings so config files stay readable, and Args is
// decoded generically.
type ScheduleRow struct {
	TaskID      uint16            `yaml:"task_id"`
	Validity    []ValidityConfig  `yaml:"validity"`
	Periodicity PeriodicityConfig `yaml:"periodicity"`
	TimeoutS    uint32            `yaml:"timeout_s"`
	Executor    string            `yaml:"executor"` // "workqueue" | "thread"
	Sinks       []SinkConfig      `yaml:"sinks"`
	Args        map[string]any    `yaml:"args,omitempty"`
}

type ValidityConfig struct {
	Kind            string `yaml:"kind"` // "always" | "after_boot_s" | "state_set" | "battery_above_pct"
	AfterBootS      uint32 `yaml:"after_boot_s,omitempty"`
	StateKey        string `yaml:"state_key,omitempty"`
	BatteryAbovePct uint8  `yaml:"battery_above_pct,omitempty"`
}

type PeriodicityConfig struct {
	Kind     string `yaml:"kind"` // "fixed" | "lockout" | "on_event"
	PeriodS  uint32 `yaml:"period_s,omitempty"`
	LockoutS uint32 `yaml:"lockout_s,omitempty"`
	EventKey string `yaml:"event_key,omitempty"`
}

type SinkConfig struct {
	LoggersMask uint16 `yaml:"loggers_mask"`
	TDFMask     uint64 `yaml:"tdf_mask"`
}

// Load reads and decodes a Config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Rows converts the config-file schedule rows into runtime
// schedule.Row values.
func (c *Config) Rows() ([]*schedule.Row, error) {
	out := make([]*schedule.Row, 0, len(c.Schedule))
	for _, sr := range c.Schedule {
		row, err := sr.toRuntime()
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

func (sr *ScheduleRow) toRuntime() (*schedule.Row, error) {
	row := &schedule.Row{
		TaskID:   sr.TaskID,
		TimeoutS: sr.TimeoutS,
		Args:     sr.Args,
	}
	for _, v := range sr.Validity {
		rv, err := v.toRuntime()
		if err != nil {
			return nil, err
		}
		row.Validity = append(row.Validity, rv)
	}
	period, err := sr.Periodicity.toRuntime()
	if err != nil {
		return nil, err
	}
	row.Period = period

	switch sr.Executor {
	case "", "workqueue":
		row.Executor = schedule.ExecutorWorkqueue
	case "thread":
		row.Executor = schedule.ExecutorThread
	default:
		return nil, fmt.Errorf("config: task %d: unknown executor %q", sr.TaskID, sr.Executor)
	}

	for _, s := range sr.Sinks {
		row.Sinks = append(row.Sinks, schedule.LoggingSink{LoggersMask: s.LoggersMask, TDFMask: s.TDFMask})
	}
	return row, nil
}

func (v *ValidityConfig) toRuntime() (schedule.Validity, error) {
	switch v.Kind {
	case "always":
		return schedule.Validity{Kind: schedule.ValidityAlways}, nil
	case "after_boot_s":
		return schedule.Validity{Kind: schedule.ValidityAfterBootS, AfterBootS: v.AfterBootS}, nil
	case "state_set":
		return schedule.Validity{Kind: schedule.ValidityStateSet, StateKey: v.StateKey}, nil
	case "battery_above_pct":
		return schedule.Validity{Kind: schedule.ValidityBatteryAbovePct, BatteryAbovePct: v.BatteryAbovePct}, nil
	default:
		return schedule.Validity{}, fmt.Errorf("config: unknown validity kind %q", v.Kind)
	}
}

func (p *PeriodicityConfig) toRuntime() (schedule.Periodicity, error) {
	switch p.Kind {
	case "fixed":
		return schedule.Periodicity{Kind: schedule.PeriodicityFixed, PeriodS: p.PeriodS}, nil
	case "lockout":
		return schedule.Periodicity{Kind: schedule.PeriodicityLockout, LockoutS: p.LockoutS}, nil
	case "on_event":
		return schedule.Periodicity{Kind: schedule.PeriodicityOnEvent, EventKey: p.EventKey}, nil
	default:
		return schedule.Periodicity{}, fmt.Errorf("config: unknown periodicity kind %q", p.Kind)
	}
}
