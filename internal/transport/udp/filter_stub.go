//go:build !linux

package udp

import "infuse/internal/infuseerr"

// AttachFilter is Linux-only; other platforms deliver every datagram
// to the read loop and rely on the dispatcher's framing checks.
func (c *Conn) AttachFilter() error {
	return infuseerr.ErrNotSupported
}
