package epacket

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"infuse/internal/aead"
	"infuse/internal/deadline"
	"infuse/internal/infuseerr"
	"infuse/internal/keyid"
	"infuse/internal/metrics"
)

// Handler consumes a received Frame. DeliverRaw allocates each RX
// frame on its own, outside the Pool, and passes the same *Frame to
// every registered handler in turn, so a change one handler makes is
// seen by the handlers after it. RX frames are not returned to the
// Pool.
type Handler func(f *Frame)

// StateListener is notified when an Interface's up/down state changes.
type StateListener func(iface string, up bool)

// Interface is the contract every transport driver (serial, UDP, BT
// advertising, BT GATT) implements. HasVersion reports
// whether this transport's AD block carries the version byte: longer-
// lived session transports (UDP, BT GATT) do, space- or
// negotiation-constrained ones (serial, BT advertising) don't.
type Interface interface {
	Name() string
	HasVersion() bool
	// Send transmits an already-framed wire payload (AD||nonce||
	// ciphertext||tag, or for serial the sync+length-prefixed form) to
	// addr. addr is ignored by broadcast-only transports.
	Send(wire []byte, addr string) error
}

// KeyStore resolves the current network and device keys, and looks up
// either by keyid.ID for RX authentication.
type KeyStore interface {
	// Current returns the active key and its id for the given Auth
	// role (AuthNetwork or AuthDevice).
	Current(auth Auth) (key []byte, id keyid.ID, err error)
	// Resolve looks up the key bound to id, reporting which role it
	// authenticates as.
	Resolve(id keyid.ID) (key []byte, auth Auth, ok bool)
}

// txSeqKey identifies one (interface, auth-role) sequence counter;
// each interface maintains its own monotonic TX sequence per role.
type txSeqKey struct {
	iface string
	auth  Auth
}

// Dispatcher is the ePacket send/receive engine shared by every
// transport registered with it. One Dispatcher backs one device
// (cmd/infused builds exactly one).
type Dispatcher struct {
	pool    *Pool
	cipher  aead.Cipher
	keys    KeyStore
	nowFunc func() uint32 // epoch seconds, 0 if no reference

	m *metrics.Registry // optional, nil until SetMetrics

	mu         sync.RWMutex
	interfaces map[string]Interface
	txSeq      map[txSeqKey]*uint32
	handlers   []Handler
	listeners  []StateListener
	rxArmed    map[string]int // iface -> hold count, "longest wins" OR semantics
}

// NewDispatcher builds a Dispatcher. poolCapacity/maxPayload size the
// single Frame pool that AllocTX draws from for every interface (RX
// frames do not use it); nowFunc supplies the epoch seconds stamped
// into outgoing nonces (0 while no time reference is held).
func NewDispatcher(cipher aead.Cipher, keys KeyStore, poolCapacity, maxPayload int, nowFunc func() uint32) *Dispatcher {
	return &Dispatcher{
		pool:       NewPool(poolCapacity, maxPayload),
		cipher:     cipher,
		keys:       keys,
		nowFunc:    nowFunc,
		interfaces: make(map[string]Interface),
		txSeq:      make(map[txSeqKey]*uint32),
		rxArmed:    make(map[string]int),
	}
}

// SetMetrics attaches the process metrics registry. Every
// fire-and-forget failure path afterwards increments a counter and
// continues. Call before any traffic flows; nil disables
// instrumentation.
func (d *Dispatcher) SetMetrics(m *metrics.Registry) {
	d.m = m
}

// countError increments the error counter for err's kind, if metrics
// are attached.
func (d *Dispatcher) countError(err error) {
	if d.m == nil || err == nil {
		return
	}
	kind := "other"
	switch {
	case errors.Is(err, infuseerr.ErrNoBuffer):
		kind = "no_buffer"
	case errors.Is(err, infuseerr.ErrInterfaceDown):
		kind = "interface_down"
	case errors.Is(err, infuseerr.ErrMalformed):
		kind = "malformed"
	case errors.Is(err, infuseerr.ErrTimeout):
		kind = "timeout"
	}
	d.m.EPacketErrors.WithLabelValues(kind).Inc()
}

// RegisterInterface attaches a transport driver under its own name.
func (d *Dispatcher) RegisterInterface(iface Interface) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.interfaces[iface.Name()] = iface
}

// RegisterReceiveHandler adds a Handler invoked for every frame
// DeliverRaw successfully parses, regardless of Auth outcome.
func (d *Dispatcher) RegisterReceiveHandler(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// RegisterCallback adds a StateListener invoked whenever NotifyState
// reports an interface transitioning up or down.
func (d *Dispatcher) RegisterCallback(l StateListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// Interfaces lists the names of every registered transport driver.
func (d *Dispatcher) Interfaces() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.interfaces))
	for name := range d.interfaces {
		names = append(names, name)
	}
	return names
}

// ArmReceive marks iface as expecting inbound traffic, e.g. while a
// request/response exchange is outstanding. Holds nest: "longest
// wins" — the interface stays armed until every ArmReceive call has a
// matching Disarm.
func (d *Dispatcher) ArmReceive(iface string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rxArmed[iface]++
}

// Receive arms iface's RX for at least dl. Holds from concurrent
// callers are OR'd: the interface stays armed until the longest one
// expires. A Forever deadline holds until an explicit Disarm; a
// bounded deadline releases its own hold when it expires; NoWait
// releases one outstanding hold, disabling RX once every other hold
// has drained.
func (d *Dispatcher) Receive(iface string, dl deadline.Deadline) {
	if dl.IsNoWait() {
		d.Disarm(iface)
		return
	}
	d.ArmReceive(iface)
	if dl.IsForever() {
		return
	}
	time.AfterFunc(dl.Duration(), func() { d.Disarm(iface) })
}

// Disarm releases one ArmReceive hold.
func (d *Dispatcher) Disarm(iface string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rxArmed[iface] > 0 {
		d.rxArmed[iface]--
	}
}

// IsArmed reports whether iface currently has an outstanding
// ArmReceive hold.
func (d *Dispatcher) IsArmed(iface string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rxArmed[iface] > 0
}

// AllocTX reserves a Frame for transmission, waiting up to dl.
func (d *Dispatcher) AllocTX(dl deadline.Deadline) (*Frame, error) {
	f, err := d.pool.Alloc(dl)
	if err != nil {
		d.countError(err)
	}
	return f, err
}

// SetTXMetadata fills in the fields a caller doesn't set directly:
// the key id and device-id split for auth, and the epoch timestamp.
// Sequence is assigned later, by Queue, under the per-interface
// counter.
func (d *Dispatcher) SetTXMetadata(f *Frame, auth Auth, deviceID [8]byte) error {
	key, id, err := d.keys.Current(auth)
	if err != nil {
		return fmt.Errorf("epacket: set tx metadata: %w", err)
	}
	_ = key // resolved again at Queue time in case of rotation between SetTXMetadata and Queue
	f.Auth = auth
	f.KeyID = id
	copy(f.DeviceIDUpper[:], deviceID[:4])
	copy(f.DeviceIDLower[:], deviceID[4:])
	if d.nowFunc != nil {
		f.EpochSeconds = d.nowFunc()
	}
	return nil
}

func (d *Dispatcher) nextSeq(iface string, auth Auth) uint16 {
	k := txSeqKey{iface: iface, auth: auth}
	d.mu.Lock()
	ctr, ok := d.txSeq[k]
	if !ok {
		var zero uint32
		ctr = &zero
		d.txSeq[k] = ctr
	}
	d.mu.Unlock()
	return uint16(atomic.AddUint32(ctr, 1))
}

// Queue assigns f the next sequence number for (iface, f.Auth),
// encrypts it, and hands the wire bytes to the named interface's
// Send. Ownership of f passes to Queue, which always releases it back
// to the pool before returning, regardless of outcome.
func (d *Dispatcher) Queue(ifaceName string, f *Frame, addr string) error {
	defer f.Release()

	d.mu.RLock()
	iface, ok := d.interfaces[ifaceName]
	d.mu.RUnlock()
	if !ok {
		d.countError(infuseerr.ErrInterfaceDown)
		return infuseerr.ErrInterfaceDown
	}

	key, id, err := d.keys.Current(f.Auth)
	if err != nil {
		return fmt.Errorf("epacket: queue: %w", err)
	}
	f.KeyID = id
	f.Sequence = d.nextSeq(ifaceName, f.Auth)
	// Fresh entropy per frame keeps the nonce unique even if the
	// sequence counter ever repeats across a reboot.
	if _, err := rand.Read(f.Entropy[:]); err != nil {
		return fmt.Errorf("epacket: nonce entropy: %w", err)
	}

	wire, err := encryptWire(d.cipher, key, f, iface.HasVersion())
	if err != nil {
		return err
	}
	if ifaceName == serialInterfaceName {
		wire = encodeSerialFrame(wire)
	}
	if err := iface.Send(wire, addr); err != nil {
		d.countError(err)
		return err
	}
	if d.m != nil {
		d.m.EPacketTXTotal.WithLabelValues(ifaceName).Inc()
	}
	return nil
}

// serialInterfaceName is the conventional name the serial transport
// registers itself under; Queue uses it to decide whether to apply
// the sync+length header.
const serialInterfaceName = "serial"

// DeliverRaw is the receive-side entry point transport drivers call
// with bytes read off the wire. For the serial interface, raw must
// still include the sync+length header; DeliverRaw strips it before
// parsing. DeliverRaw never returns a ciphertext or a partially
// authenticated payload to callers: decryptWire already collapses any
// decrypt failure into Auth == AuthFailure with an empty Payload.
func (d *Dispatcher) DeliverRaw(ifaceName string, raw []byte, rssi int, addr string) error {
	d.mu.RLock()
	iface, ok := d.interfaces[ifaceName]
	d.mu.RUnlock()
	if !ok {
		return infuseerr.ErrInterfaceDown
	}

	wire := raw
	if ifaceName == serialInterfaceName {
		var err error
		wire, err = decodeSerialFrame(raw)
		if err != nil {
			d.countError(err)
			return err
		}
	}

	f, err := decryptWire(wire, iface.HasVersion(), d.cipher, d.keys.Resolve)
	if err != nil {
		d.countError(err)
		return err
	}
	f.Interface = ifaceName
	f.RSSI = rssi
	f.Address = addr
	if d.m != nil {
		d.m.EPacketRXTotal.WithLabelValues(ifaceName, f.Auth.String()).Inc()
		if f.Auth == AuthFailure {
			d.m.EPacketErrors.WithLabelValues("unauthenticated").Inc()
		}
	}

	d.mu.RLock()
	handlers := append([]Handler(nil), d.handlers...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(f)
	}
	return nil
}

// NotifyState reports an interface's up/down transition to every
// registered StateListener.
func (d *Dispatcher) NotifyState(ifaceName string, up bool) {
	d.mu.RLock()
	listeners := append([]StateListener(nil), d.listeners...)
	d.mu.RUnlock()
	for _, l := range listeners {
		l(ifaceName, up)
	}
}

// SendKeyIDs broadcasts the current network and device key ids in a
// single plaintext-framed advertisement, the mechanism host-side
// discovery uses to identify which keys a device currently trusts.
func (d *Dispatcher) SendKeyIDs(ifaceName string) ([6]byte, error) {
	var out [6]byte
	_, netID, err := d.keys.Current(AuthNetwork)
	if err != nil {
		return out, err
	}
	_, devID, err := d.keys.Current(AuthDevice)
	if err != nil {
		return out, err
	}
	netBytes := netID.Encode3()
	devBytes := devID.Encode3()
	copy(out[0:3], netBytes[:])
	copy(out[3:6], devBytes[:])

	d.mu.RLock()
	iface, ok := d.interfaces[ifaceName]
	d.mu.RUnlock()
	if !ok {
		return out, infuseerr.ErrInterfaceDown
	}
	return out, iface.Send(out[:], "")
}
