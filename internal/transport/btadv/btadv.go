// Package btadv simulates the BT advertising ePacket transport
//: a fixed-MTU, TX-only sink carrying the frame as
// service-data bytes under 16-bit UUID 0xFC74. No physical BLE radio
// is available to this module, so Sink stands in for the advertising
// stack with the same epacket.Interface contract every real transport
// satisfies, and records what would have gone out over the air for
// test/introspection purposes.
package btadv

import (
	"sync"

	"infuse/internal/infuseerr"
)

// ServiceDataUUID is the 16-bit UUID under which the ePacket frame is
// carried in the advertising service-data AD element.
const ServiceDataUUID = 0xFC74

// MaxPayload is tuned to a legacy (non-extended) advertising PDU's
// usable service-data budget once the UUID and AD headers are
// subtracted.
const MaxPayload = 20

// Advertisement is one emitted frame, captured for hosted-build
// introspection (a real stack would hand this to the BLE controller's
// advertising-data update call instead).
type Advertisement struct {
	ServiceDataUUID uint16
	Payload         []byte
}

// Sink is a TX-only, fixed-MTU ePacket interface. RX is not modeled:
// advertising has no receive path beyond scan results, and
// scan-result ingestion belongs to the Bluetooth stack proper.
type Sink struct {
	name string

	mu  sync.Mutex
	up  bool
	log []Advertisement
}

// NewSink creates a Sink that starts up (advertising enabled).
func NewSink(name string) *Sink {
	return &Sink{name: name, up: true}
}

func (s *Sink) Name() string     { return s.name }
func (s *Sink) HasVersion() bool { return false }

// Send records wire as the current advertisement payload. addr is
// ignored: advertising is inherently broadcast.
func (s *Sink) Send(wire []byte, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.up {
		return infuseerr.ErrInterfaceDown
	}
	if len(wire) > MaxPayload {
		return infuseerr.ErrNoBuffer
	}
	cp := append([]byte(nil), wire...)
	s.log = append(s.log, Advertisement{ServiceDataUUID: ServiceDataUUID, Payload: cp})
	return nil
}

// SetUp toggles advertising on/off, e.g. to model a radio power-down.
func (s *Sink) SetUp(up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.up = up
}

// Advertisements returns every frame emitted so far, for tests and the
// control-plane status surface.
func (s *Sink) Advertisements() []Advertisement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Advertisement(nil), s.log...)
}
