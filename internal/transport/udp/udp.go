// Package udp implements the UDP ePacket transport: one
// ePacket per datagram, destination resolved via net.ResolveUDPAddr at
// startup. The transport does not set epacket.FlagUDPAlwaysRX (the
// duplex-capability flag); a frame carries whatever Flags its sender
// gave it.
package udp

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"infuse/internal/epacket"
	"infuse/internal/infuseerr"
)

// MaxPayload is the largest ePacket plaintext payload this transport
// pools for, comfortably under typical path MTU once framing and the
// AEAD tag are added.
const MaxPayload = 1200

// Conn is a UDP ePacket interface: one socket, a fixed default peer
// resolved at construction, and a dispatcher RX feed driven by a
// background read loop.
type Conn struct {
	name string
	conn *net.UDPConn
	peer *net.UDPAddr

	up   atomic.Bool
	dis  *epacket.Dispatcher
	stop chan struct{}
	wg   sync.WaitGroup

	// filter holds the attached eBPF socket-filter program on Linux
	// (see AttachFilter); nil when no prefilter is installed.
	filter io.Closer
}

// Dial resolves remoteAddr and opens a UDP socket for it. dis is the
// Dispatcher whose DeliverRaw the background read loop feeds.
func Dial(name, remoteAddr string, dis *epacket.Dispatcher) (*Conn, error) {
	peer, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("udp: resolve %s: %w", remoteAddr, err)
	}
	conn, err := net.DialUDP("udp", nil, peer)
	if err != nil {
		return nil, fmt.Errorf("udp: dial %s: %w", remoteAddr, err)
	}
	c := &Conn{name: name, conn: conn, peer: peer, dis: dis, stop: make(chan struct{})}
	c.up.Store(true)
	c.wg.Add(1)
	go c.readLoop()
	return c, nil
}

func (c *Conn) Name() string     { return c.name }
func (c *Conn) HasVersion() bool { return true }

// Send ignores addr (the socket already has a fixed peer from Dial);
// a broadcast-capable listener variant would honor it instead.
func (c *Conn) Send(wire []byte, addr string) error {
	if !c.up.Load() {
		return infuseerr.ErrInterfaceDown
	}
	_, err := c.conn.Write(wire)
	if err != nil {
		return fmt.Errorf("udp: write: %w", err)
	}
	return nil
}

func (c *Conn) readLoop() {
	defer c.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-c.stop:
			return
		default:
		}
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-c.stop:
				return
			default:
				c.up.Store(false)
				continue
			}
		}
		c.up.Store(true)
		raw := append([]byte(nil), buf[:n]...)
		_ = c.dis.DeliverRaw(c.name, raw, 0, c.peer.String())
	}
}

// Close stops the read loop and releases the socket.
func (c *Conn) Close() error {
	close(c.stop)
	err := c.conn.Close()
	c.wg.Wait()
	if c.filter != nil {
		c.filter.Close()
		c.filter = nil
	}
	return err
}
