package aead

import (
	"fmt"
	"sync"
)

// Factory resolves a configured algorithm name to a Cipher: named
// implementations and a default used when no name is given. Resolve
// returns the named cipher even when it is unavailable; it never
// substitutes another algorithm.
type Factory struct {
	mu      sync.RWMutex
	ciphers map[string]Cipher
	def     string
}

// NewFactory returns a Factory pre-registered with every selectable
// algorithm: chacha20poly1305 (default, real), plus ascon-128,
// ascon-128a, ascon-80pq, and xoodyak (registered but
// IsAvailable() == false — see DESIGN.md).
func NewFactory() *Factory {
	f := &Factory{
		ciphers: make(map[string]Cipher),
		def:     ChaCha20Poly1305.Name(),
	}
	f.Register(ChaCha20Poly1305)
	f.Register(unavailable{name: "ascon-128", keySize: 16})
	f.Register(unavailable{name: "ascon-128a", keySize: 16})
	f.Register(unavailable{name: "ascon-80pq", keySize: 20})
	f.Register(unavailable{name: "xoodyak", keySize: 16})
	return f
}

// Register adds or replaces a named cipher implementation.
func (f *Factory) Register(c Cipher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ciphers[c.Name()] = c
}

// Resolve returns the cipher registered under name. If name is empty,
// the factory's default (chacha20poly1305) is returned.
func (f *Factory) Resolve(name string) (Cipher, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if name == "" {
		name = f.def
	}
	c, ok := f.ciphers[name]
	if !ok {
		return nil, fmt.Errorf("aead: unknown algorithm %q", name)
	}
	return c, nil
}

// Names lists every registered algorithm name.
func (f *Factory) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.ciphers))
	for name := range f.ciphers {
		names = append(names, name)
	}
	return names
}
