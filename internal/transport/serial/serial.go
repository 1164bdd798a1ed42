// Package serial implements the serial ePacket transport: frames
// prefixed with the 0xD5 0xCA sync pattern and a little-endian length
// header, with interface state derived from CTS/RTS line presence.
//
// CTS/RTS is read via a TIOCMGET ioctl over golang.org/x/sys/unix. A
// USB-CDC variant (USBDevice) drives the same framing over a
// github.com/google/gousb bulk endpoint instead of a tty.
package serial

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"infuse/internal/epacket"
	"infuse/internal/infuseerr"
)

// Sync is the 2-byte sync pattern that starts every serial ePacket
// frame, ahead of the little-endian length header; the dispatcher's
// Queue adds both before the bytes reach Send.
var Sync = epacket.SerialSync

// Port is the serial ePacket interface over a raw tty file descriptor.
type Port struct {
	name string
	f    *os.File
	fd   int

	mu       sync.RWMutex
	up       bool
	callback epacket.StateListener
}

// Open opens path as a raw tty and wraps it as an ePacket Interface.
// The caller is responsible for having already configured the line
// discipline (baud rate, raw mode) via termios, which is out of scope
// for this module's ePacket framing concern.
func Open(name, path string) (*Port, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", path, err)
	}
	p := &Port{name: name, f: f, fd: int(f.Fd())}
	p.up = p.readCTS()
	return p, nil
}

func (p *Port) Name() string     { return p.name }
func (p *Port) HasVersion() bool { return false }

// Send writes an already-framed wire payload (the ePacket dispatcher
// has already applied the sync+length header by the time bytes reach
// here, since dispatch.Queue special-cases the "serial" interface
// name). It fails with infuseerr.ErrInterfaceDown if CTS is not
// currently asserted.
func (p *Port) Send(wire []byte, addr string) error {
	if !p.Up() {
		return infuseerr.ErrInterfaceDown
	}
	_, err := p.f.Write(wire)
	if err != nil {
		return fmt.Errorf("serial: write: %w", err)
	}
	return nil
}

// Up reports the transport's current CTS-derived state.
func (p *Port) Up() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.up
}

// PollState re-reads the modem status lines and, on a transition,
// notifies the StateListener installed with OnStateChange (for
// example a Dispatcher's NotifyState, which fans out to the listeners
// added with RegisterCallback). Real firmware
// would do this from a UART interrupt; this hosted build polls.
func (p *Port) PollState() {
	cts := p.readCTS()
	p.mu.Lock()
	changed := cts != p.up
	p.up = cts
	cb := p.callback
	p.mu.Unlock()
	if changed && cb != nil {
		maxPayload := 0
		if cts {
			maxPayload = MaxPayload
		}
		cb(p.name, maxPayload > 0)
	}
}

// OnStateChange installs the listener PollState notifies.
func (p *Port) OnStateChange(cb epacket.StateListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callback = cb
}

func (p *Port) readCTS() bool {
	status, err := unix.IoctlGetInt(p.fd, unix.TIOCMGET)
	if err != nil {
		return false
	}
	return status&unix.TIOCM_CTS != 0
}

// Close releases the underlying file descriptor.
func (p *Port) Close() error { return p.f.Close() }

// MaxPayload is the largest plaintext payload this transport's pool
// should be sized for; conservative for a UART line running at modest
// baud rates.
const MaxPayload = 256
