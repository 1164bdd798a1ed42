// Package keystore holds the device's AEAD key material: the network
// key (broadcast-readable within an Infuse network) and the device key
// (unicast to/from the cloud), each paired with its 24-bit identifier.
// Key material is read-only after boot; regeneration swaps the whole
// pair under a short lock.
package keystore

import (
	"encoding/hex"
	"fmt"
	"sync"

	"infuse/internal/epacket"
	"infuse/internal/infuseerr"
	"infuse/internal/keyid"
)

// Store implements epacket.KeyStore over one network and one device
// key.
type Store struct {
	mu      sync.RWMutex
	network entry
	device  entry
}

type entry struct {
	key []byte
	id  keyid.ID
}

// New builds a Store from raw key bytes.
func New(networkKey, deviceKey []byte) *Store {
	s := &Store{}
	s.SetNetworkKey(networkKey)
	s.SetDeviceKey(deviceKey)
	return s
}

// FromHex builds a Store from hex-encoded key material, the form the
// config file and the key-value store carry.
func FromHex(networkHex, deviceHex string) (*Store, error) {
	network, err := hex.DecodeString(networkHex)
	if err != nil {
		return nil, fmt.Errorf("keystore: network key: %w", err)
	}
	device, err := hex.DecodeString(deviceHex)
	if err != nil {
		return nil, fmt.Errorf("keystore: device key: %w", err)
	}
	return New(network, device), nil
}

// SetNetworkKey installs new network key material and rederives its
// identifier.
func (s *Store) SetNetworkKey(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.network = entry{key: append([]byte(nil), key...), id: keyid.Derive(keyid.KindNetwork, key)}
}

// SetDeviceKey installs new device key material and rederives its
// identifier.
func (s *Store) SetDeviceKey(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.device = entry{key: append([]byte(nil), key...), id: keyid.Derive(keyid.KindDevice, key)}
}

// Current returns the active key and id for auth.
func (s *Store) Current(auth epacket.Auth) ([]byte, keyid.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch auth {
	case epacket.AuthNetwork:
		return s.network.key, s.network.id, nil
	case epacket.AuthDevice:
		return s.device.key, s.device.id, nil
	default:
		return nil, 0, infuseerr.ErrUnknownKey
	}
}

// Resolve looks a key up by its identifier, reporting which role it
// authenticates as.
func (s *Store) Resolve(id keyid.ID) ([]byte, epacket.Auth, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch id {
	case s.network.id:
		return s.network.key, epacket.AuthNetwork, true
	case s.device.id:
		return s.device.key, epacket.AuthDevice, true
	default:
		return nil, epacket.AuthFailure, false
	}
}
