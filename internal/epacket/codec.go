package epacket

import (
	"encoding/binary"
	"fmt"

	"infuse/internal/aead"
	"infuse/internal/infuseerr"
	"infuse/internal/keyid"
)

// ePacket v0 wire layout:
//
//	AD (with version):    version(1) type(1) flags(1) reserved(1) key_id(3) device_id_upper(4) = 11B
//	AD (without version): type(1) flags(1) reserved(1) key_id(3) device_id_upper(4)             = 10B
//	Nonce:                 device_id_lower(4) epoch_seconds(4) sequence(2) entropy(2)            = 12B
//	Ciphertext || tag:     encrypted payload, 16B AEAD tag appended
//
// The reserved byte is written as zero and skipped on decode; with it
// the AD is 11 or 10 bytes long.

const (
	adSizeWithVersion    = 11
	adSizeWithoutVersion = 10
)

// WireVersion is the ePacket v0 version byte, the first AD byte on
// version-carrying transports. Exported so transport-level prefilters
// (e.g. the UDP eBPF socket filter) can match on it.
const WireVersion = 0

// SerialSync is the 2-byte sync pattern the serial transport prepends
// before its 2-byte little-endian length and the unversioned ePacket
// frame.
var SerialSync = [2]byte{0xD5, 0xCA}

func adSize(hasVersion bool) int {
	if hasVersion {
		return adSizeWithVersion
	}
	return adSizeWithoutVersion
}

func encodeAD(f *Frame, hasVersion bool) []byte {
	size := adSize(hasVersion)
	ad := make([]byte, size)
	i := 0
	if hasVersion {
		ad[i] = WireVersion
		i++
	}
	ad[i] = uint8(f.Type)
	ad[i+1] = uint8(f.Flags)
	ad[i+2] = 0 // reserved
	i += 3
	idBytes := f.KeyID.Encode3()
	copy(ad[i:i+3], idBytes[:])
	i += 3
	copy(ad[i:i+4], f.DeviceIDUpper[:])
	return ad
}

func decodeAD(data []byte, hasVersion bool) (typ Type, flags Flags, id keyid.ID, deviceUpper [4]byte, err error) {
	size := adSize(hasVersion)
	if len(data) < size {
		err = infuseerr.ErrMalformed
		return
	}
	i := 0
	if hasVersion {
		if data[0] != WireVersion {
			err = infuseerr.ErrMalformed
			return
		}
		i++
	}
	typ = Type(data[i])
	flags = Flags(data[i+1])
	i += 3
	var idArr [3]byte
	copy(idArr[:], data[i:i+3])
	id = keyid.Decode3(idArr)
	i += 3
	copy(deviceUpper[:], data[i:i+4])
	return
}

func encodeNonce(f *Frame) []byte {
	n := make([]byte, aead.NonceSize)
	copy(n[0:4], f.DeviceIDLower[:])
	binary.LittleEndian.PutUint32(n[4:8], f.EpochSeconds)
	binary.LittleEndian.PutUint16(n[8:10], f.Sequence)
	copy(n[10:12], f.Entropy[:])
	return n
}

func decodeNonce(data []byte) (deviceLower [4]byte, epochSeconds uint32, sequence uint16, entropy [2]byte, err error) {
	if len(data) < aead.NonceSize {
		err = infuseerr.ErrMalformed
		return
	}
	copy(deviceLower[:], data[0:4])
	epochSeconds = binary.LittleEndian.Uint32(data[4:8])
	sequence = binary.LittleEndian.Uint16(data[8:10])
	copy(entropy[:], data[10:12])
	return
}

// encryptWire serializes and AEAD-encrypts f, returning AD || nonce ||
// ciphertext||tag: the bytes a transport driver sends as-is (or, for
// serial, with the sync+length header prepended by the caller).
func encryptWire(cipher aead.Cipher, key []byte, f *Frame, hasVersion bool) ([]byte, error) {
	ad := encodeAD(f, hasVersion)
	nonce := encodeNonce(f)
	ciphertext, err := cipher.Seal(key, nonce, ad, f.Payload)
	if err != nil {
		return nil, fmt.Errorf("epacket: seal: %w", err)
	}
	wire := make([]byte, 0, len(ad)+len(nonce)+len(ciphertext))
	wire = append(wire, ad...)
	wire = append(wire, nonce...)
	wire = append(wire, ciphertext...)
	return wire, nil
}

// decryptWire parses wire into a fresh Frame and attempts to decrypt
// it with resolveKey, using cipher for the AEAD open. Framing errors
// (bad version, short buffer) return infuseerr.ErrMalformed and a nil
// Frame: the caller cannot even recover a key_id to report. Auth
// failures (unknown key, bad tag) return a non-nil Frame with
// Auth == AuthFailure and an empty Payload, and a nil error, so
// handlers still see the header metadata of frames they cannot
// decrypt.
func decryptWire(wire []byte, hasVersion bool, cipher aead.Cipher, resolveKey func(keyid.ID) (key []byte, auth Auth, ok bool)) (*Frame, error) {
	adLen := adSize(hasVersion)
	if len(wire) < adLen+aead.NonceSize+aead.TagSize {
		return nil, infuseerr.ErrMalformed
	}
	typ, flags, id, deviceUpper, err := decodeAD(wire[:adLen], hasVersion)
	if err != nil {
		return nil, err
	}
	deviceLower, epochSeconds, sequence, entropy, err := decodeNonce(wire[adLen : adLen+aead.NonceSize])
	if err != nil {
		return nil, err
	}
	ciphertext := wire[adLen+aead.NonceSize:]

	f := &Frame{
		Type:          typ,
		Flags:         flags,
		KeyID:         id,
		DeviceIDUpper: deviceUpper,
		DeviceIDLower: deviceLower,
		EpochSeconds:  epochSeconds,
		Sequence:      sequence,
		Entropy:       entropy,
	}

	key, auth, ok := resolveKey(id)
	if !ok {
		f.Auth = AuthFailure
		return f, nil
	}

	ad := wire[:adLen]
	nonce := wire[adLen : adLen+aead.NonceSize]
	plaintext, err := cipher.Open(key, nonce, ad, ciphertext)
	if err != nil {
		f.Auth = AuthFailure
		return f, nil
	}
	f.Auth = auth
	f.Payload = plaintext
	return f, nil
}

// encodeSerialFrame prepends the serial transport's sync pattern and
// little-endian length header to an already-encrypted wire frame.
func encodeSerialFrame(wire []byte) []byte {
	out := make([]byte, 0, 4+len(wire))
	out = append(out, SerialSync[:]...)
	lenHdr := make([]byte, 2)
	binary.LittleEndian.PutUint16(lenHdr, uint16(len(wire)))
	out = append(out, lenHdr...)
	out = append(out, wire...)
	return out
}

// decodeSerialFrame strips and validates the sync+length header,
// returning the inner ePacket wire bytes.
func decodeSerialFrame(framed []byte) ([]byte, error) {
	if len(framed) < 4 || framed[0] != SerialSync[0] || framed[1] != SerialSync[1] {
		return nil, infuseerr.ErrMalformed
	}
	n := binary.LittleEndian.Uint16(framed[2:4])
	if len(framed) < 4+int(n) {
		return nil, infuseerr.ErrMalformed
	}
	return framed[4 : 4+int(n)], nil
}
