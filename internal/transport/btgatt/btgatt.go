// Package btgatt simulates the BT GATT ePacket transport: Command/Data/Logging characteristics under one service,
// modeled as named in-process byte pipes rather than a real BLE
// stack (none is available to this module). ReadKeyBundle returns the
// 68-byte {cloud_pub, device_pub, network_id} tuple a real central
// would read from the Command characteristic before connecting.
package btgatt

import (
	"sync"

	"infuse/internal/infuseerr"
)

// Characteristic UUIDs (suffix only; full UUIDs share the service's
// base with these distinguishing bytes).
const (
	CharCommand = "AA01"
	CharData    = "AA02"
	CharLogging = "AA03"
)

// KeyBundle is the 68-byte tuple returned by a Command-characteristic
// read: 32B cloud public key, 32B device public key, 4B network id.
type KeyBundle struct {
	CloudPub  [32]byte
	DevicePub [32]byte
	NetworkID [4]byte
}

// Encode serializes the bundle to its 68-byte wire form.
func (k KeyBundle) Encode() [68]byte {
	var out [68]byte
	copy(out[0:32], k.CloudPub[:])
	copy(out[32:64], k.DevicePub[:])
	copy(out[64:68], k.NetworkID[:])
	return out
}

// Link is one GATT-style connection: the Data characteristic carries
// ePacket frames (this module's Interface), Command exposes
// ReadKeyBundle, and Logging is a best-effort notify stream for TDF
// logger output.
type Link struct {
	name   string
	bundle KeyBundle

	mu      sync.Mutex
	up      bool
	written [][]byte // frames sent over the Data characteristic
	logged  [][]byte // frames sent over the optional Logging characteristic
}

// NewLink creates a Link advertising bundle as its key bundle.
func NewLink(name string, bundle KeyBundle) *Link {
	return &Link{name: name, bundle: bundle, up: true}
}

func (l *Link) Name() string     { return l.name }
func (l *Link) HasVersion() bool { return true }

// Send writes wire to the Data characteristic.
func (l *Link) Send(wire []byte, addr string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.up {
		return infuseerr.ErrInterfaceDown
	}
	l.written = append(l.written, append([]byte(nil), wire...))
	return nil
}

// SendLogging writes wire to the optional Logging characteristic
// rather than the Data characteristic that Send writes to. No TDF
// logger backend in this module calls it.
func (l *Link) SendLogging(wire []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.up {
		return infuseerr.ErrInterfaceDown
	}
	l.logged = append(l.logged, append([]byte(nil), wire...))
	return nil
}

// ReadKeyBundle returns the 68-byte Command-characteristic read.
func (l *Link) ReadKeyBundle() [68]byte {
	return l.bundle.Encode()
}

// SetUp toggles the link's connected state.
func (l *Link) SetUp(up bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.up = up
}

// DataFrames returns every frame written to the Data characteristic.
func (l *Link) DataFrames() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.written...)
}

// LoggingFrames returns every frame written to the Logging
// characteristic.
func (l *Link) LoggingFrames() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.logged...)
}
