// Package epacket implements the ePacket v0 on-wire authenticated,
// encrypted frame used by every transport, including
// allocation, metadata, AEAD encrypt/decrypt, sequence numbers, key
// identification, and the receive dispatch path.
//
// Packet buffers are owned values with an explicit Clone for
// retransmit rather than reference-counted pointers, and blocking
// primitives take an internal/deadline.Deadline rather than a
// forever/no-wait pair of booleans.
package epacket

import "infuse/internal/keyid"

// Type names the plaintext schema carried by a frame's payload.
type Type uint8

const (
	TypeTDF        Type = 1
	TypeEchoReq    Type = 2
	TypeEchoRsp    Type = 3
	TypeRPCCmd     Type = 4
	TypeRPCData    Type = 5
	TypeRPCRsp     Type = 6
	TypeRPCDataAck Type = 7
)

// IsCustomer reports whether t is a customer-defined payload type
// (any byte at or above 128).
func (t Type) IsCustomer() bool { return uint8(t) >= 128 }

// Auth selects which key a frame is encrypted/decrypted with, or (on
// RX metadata only) reports that authentication failed.
type Auth uint8

const (
	AuthNetwork Auth = iota
	AuthDevice
	AuthFailure
)

func (a Auth) String() string {
	switch a {
	case AuthNetwork:
		return "network"
	case AuthDevice:
		return "device"
	default:
		return "failure"
	}
}

// Flags are per-frame bit flags carried in the AD block.
type Flags uint8

const (
	// FlagUDPAlwaysRX advertises duplex capability on the UDP
	// transport.
	FlagUDPAlwaysRX Flags = 1 << 0
)

// Has reports whether all bits in mask are set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// Frame is an owned ePacket value. TX frames are allocated from a
// Pool, filled in by SetTXMetadata, and handed to Queue, which
// transfers ownership to the transport driver. RX frames are allocated
// by DeliverRaw outside the Pool and handed to every registered
// Handler; they are not returned to a pool afterwards.
type Frame struct {
	// Auth selects the key used to encrypt (TX) or reports the
	// decrypt outcome (RX: AuthNetwork/AuthDevice on success,
	// AuthFailure on bad tag or unknown key).
	Auth Auth

	// Type names the plaintext schema.
	Type Type

	// Flags are the per-frame bit flags.
	Flags Flags

	// KeyID identifies which key this frame was (or should be)
	// encrypted with.
	KeyID keyid.ID

	// DeviceIDUpper/DeviceIDLower together form the 8-byte device
	// identity split across the AD block (upper 4 bytes) and the
	// nonce (lower 4 bytes).
	DeviceIDUpper [4]byte
	DeviceIDLower [4]byte

	// Sequence is this frame's per-(interface,direction) send
	// sequence number, filled in by the dispatcher on Queue (TX) or
	// read off the wire (RX).
	Sequence uint16

	// EpochSeconds is the whole-second epoch timestamp stamped into
	// the nonce at encrypt time, or read back at decrypt time. 0 means
	// no time reference was available.
	EpochSeconds uint32

	// Entropy is 2 bytes of fresh randomness mixed into the nonce.
	Entropy [2]byte

	// Address is the transport-specific destination (TX) or source
	// (RX): a BT address, a UDP host:port, or empty for broadcast
	// transports.
	Address string

	// Payload is the plaintext. On TX, callers fill it before Queue.
	// On RX, the dispatcher fills it after a successful decrypt; it is
	// left empty (not the ciphertext) when Auth == AuthFailure, so a
	// failed decrypt never exposes plaintext or ciphertext to the
	// handler.
	Payload []byte

	// RX-only metadata: the receiving interface's name and signal
	// strength.
	Interface string
	RSSI      int

	pool *Pool
}

// Clone makes an independent copy of f suitable for retransmission
// or for retention past a handler's return. The clone is not attached
// to any pool; callers must not Release it unless they first attach
// it via a fresh Pool.Alloc-and-copy.
func (f *Frame) Clone() *Frame {
	clone := *f
	clone.Payload = append([]byte(nil), f.Payload...)
	clone.pool = nil
	return &clone
}
