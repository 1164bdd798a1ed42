// Package tdf implements the Tagged Data Format record codec and
// block logger: typed sample records packed into
// fixed-size blocks and drained to one or more backends.
package tdf

import (
	"encoding/binary"

	"infuse/internal/infuseerr"
)

// Flags are the per-record bit flags packed into the record header.
type Flags uint8

const (
	// FlagTimestamp marks the record as carrying a leading epoch
	// timestamp.
	FlagTimestamp Flags = 1 << 0
	// FlagPeriod marks the record as a uniformly-spaced sample array
	// with a period header (used by log_array).
	FlagPeriod Flags = 1 << 1
)

// HeaderSize returns the byte length of a record header for the given
// flags: the base 3 bytes (tdf_id:14, sample_count:6, flags_bits:2)
// plus an optional 4-byte timestamp and/or optional period field,
// sized to hold the tick counts this package uses.
func HeaderSize(flags Flags) int {
	size := 3
	if flags&FlagTimestamp != 0 {
		size += 4
	}
	if flags&FlagPeriod != 0 {
		size += 4
	}
	return size
}

// Record is one decoded TDF record: a tdf_id-identified run of
// sample_count fixed-size elements, optionally timestamped and/or
// uniformly spaced.
type Record struct {
	TDFID       uint16 // 14 bits
	SampleCount uint8  // 6 bits
	Flags       Flags
	Epoch       uint32 // present iff FlagTimestamp
	PeriodTicks uint32 // present iff FlagPeriod
	Payload     []byte // sample_count * elem_len bytes, uninterpreted here
}

// EncodedSize is header_size(flags) + sample_count*elem_len, the
// invariant every encoded record satisfies.
func (r *Record) EncodedSize(elemLen int) int {
	return HeaderSize(r.Flags) + int(r.SampleCount)*elemLen
}

// packHeader packs tdf_id (14 bits), sample_count (6 bits) and the 2
// flag bits into 3 bytes, little-endian bit order within the 24-bit
// field: bits [0:14)=tdf_id, [14:20)=sample_count, [20:22)=flags.
func packHeader(tdfID uint16, sampleCount uint8, flags Flags) [3]byte {
	v := uint32(tdfID&0x3FFF) | uint32(sampleCount&0x3F)<<14 | uint32(flags&0x3)<<20
	var b [3]byte
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	return b
}

func unpackHeader(b [3]byte) (tdfID uint16, sampleCount uint8, flags Flags) {
	v := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
	tdfID = uint16(v & 0x3FFF)
	sampleCount = uint8((v >> 14) & 0x3F)
	flags = Flags((v >> 20) & 0x3)
	return
}

// Encode serializes r into a newly allocated slice, with elemLen*sampleCount
// payload bytes taken from r.Payload.
func Encode(r *Record, elemLen int) ([]byte, error) {
	want := int(r.SampleCount) * elemLen
	if len(r.Payload) != want {
		return nil, infuseerr.ErrMalformed
	}
	out := make([]byte, 0, r.EncodedSize(elemLen))
	hdr := packHeader(r.TDFID, r.SampleCount, r.Flags)
	out = append(out, hdr[:]...)
	if r.Flags&FlagTimestamp != 0 {
		var ts [4]byte
		binary.LittleEndian.PutUint32(ts[:], r.Epoch)
		out = append(out, ts[:]...)
	}
	if r.Flags&FlagPeriod != 0 {
		var p [4]byte
		binary.LittleEndian.PutUint32(p[:], r.PeriodTicks)
		out = append(out, p[:]...)
	}
	out = append(out, r.Payload...)
	return out, nil
}

// Decode parses one record (header plus elemLen*sample_count payload
// bytes) from the front of data, returning the record and the number
// of bytes consumed.
func Decode(data []byte, elemLen int) (*Record, int, error) {
	if len(data) < 3 {
		return nil, 0, infuseerr.ErrMalformed
	}
	var hdr [3]byte
	copy(hdr[:], data[:3])
	tdfID, sampleCount, flags := unpackHeader(hdr)
	off := 3

	r := &Record{TDFID: tdfID, SampleCount: sampleCount, Flags: flags}
	if flags&FlagTimestamp != 0 {
		if len(data) < off+4 {
			return nil, 0, infuseerr.ErrMalformed
		}
		r.Epoch = binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
	}
	if flags&FlagPeriod != 0 {
		if len(data) < off+4 {
			return nil, 0, infuseerr.ErrMalformed
		}
		r.PeriodTicks = binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
	}
	payloadLen := int(sampleCount) * elemLen
	if len(data) < off+payloadLen {
		return nil, 0, infuseerr.ErrMalformed
	}
	r.Payload = append([]byte(nil), data[off:off+payloadLen]...)
	off += payloadLen
	return r, off, nil
}

// SampleTimestamps expands a FlagPeriod record's i-th sample
// timestamp as base + i*period, which must hold
// for every encoded-then-decoded packed array.
func (r *Record) SampleTimestamps() []uint32 {
	out := make([]uint32, r.SampleCount)
	for i := range out {
		out[i] = r.Epoch + uint32(i)*r.PeriodTicks
	}
	return out
}
