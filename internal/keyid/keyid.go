// Package keyid derives the 24-bit key identifiers carried in every
// ePacket's associated-data block, so receivers can pick the right
// key before attempting a decrypt.
package keyid

import "hash/crc32"

// ID is a 24-bit key identifier. Only the low 24 bits are ever
// populated; callers must not assume the top byte is zero after
// arithmetic, so Encode3 masks it explicitly.
type ID uint32

// Kind distinguishes which of a device's two key material forms an ID
// was derived from.
type Kind int

const (
	KindNetwork Kind = iota
	KindDevice
)

// Derive computes the 24-bit key identifier for a given key's raw
// material, by truncating a CRC32 (IEEE polynomial) over the key
// bytes to its low 24 bits.
//
// For KindDevice, material is expected to be cloud_public_key ||
// device_public_key (the pairing exposed by the GATT key-bundle
// read); for KindNetwork it is the raw network key. The Kind
// parameter does not change the derivation, it exists so callers don't
// have to remember which material to hash for which purpose.
func Derive(kind Kind, material []byte) ID {
	sum := crc32.ChecksumIEEE(material)
	return ID(sum & 0x00FFFFFF)
}

// Encode3 writes the key id as 3 little-endian bytes, matching the
// AD layout's key_id[3] field.
func (id ID) Encode3() [3]byte {
	v := uint32(id) & 0x00FFFFFF
	return [3]byte{byte(v), byte(v >> 8), byte(v >> 16)}
}

// Decode3 reads a 3-byte little-endian key id.
func Decode3(b [3]byte) ID {
	return ID(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16)
}
