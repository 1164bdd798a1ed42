package epacket

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infuse/internal/aead"
	"infuse/internal/deadline"
	"infuse/internal/infuseerr"
	"infuse/internal/keyid"
)

// loopbackInterface feeds whatever it Sends straight back into a
// Dispatcher's DeliverRaw, modeling an ePacket
// self-test over a looped transport.
type loopbackInterface struct {
	name       string
	hasVersion bool
	dispatcher *Dispatcher
	rssi       int
}

func (l *loopbackInterface) Name() string     { return l.name }
func (l *loopbackInterface) HasVersion() bool { return l.hasVersion }
func (l *loopbackInterface) Send(wire []byte, addr string) error {
	return l.dispatcher.DeliverRaw(l.name, wire, l.rssi, addr)
}

// captureInterface just records the last bytes sent, for advertising-
// style sends (e.g. SendKeyIDs) that aren't ePacket wire frames and so
// shouldn't be looped back into DeliverRaw.
type captureInterface struct {
	name       string
	hasVersion bool
	last       []byte
}

func (c *captureInterface) Name() string     { return c.name }
func (c *captureInterface) HasVersion() bool { return c.hasVersion }
func (c *captureInterface) Send(wire []byte, addr string) error {
	c.last = append([]byte(nil), wire...)
	return nil
}

type staticKeyStore struct {
	mu      sync.RWMutex
	network []byte
	device  []byte
	netID   keyid.ID
	devID   keyid.ID
}

func newStaticKeyStore() *staticKeyStore {
	network := make([]byte, aead.ChaCha20Poly1305.KeySize())
	device := make([]byte, aead.ChaCha20Poly1305.KeySize())
	for i := range network {
		network[i] = byte(i + 1)
	}
	for i := range device {
		device[i] = byte(i + 100)
	}
	return &staticKeyStore{
		network: network,
		device:  device,
		netID:   keyid.Derive(keyid.KindNetwork, network),
		devID:   keyid.Derive(keyid.KindDevice, device),
	}
}

func (s *staticKeyStore) Current(auth Auth) ([]byte, keyid.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch auth {
	case AuthNetwork:
		return s.network, s.netID, nil
	case AuthDevice:
		return s.device, s.devID, nil
	default:
		return nil, 0, infuseerr.ErrUnknownKey
	}
}

func (s *staticKeyStore) Resolve(id keyid.ID) ([]byte, Auth, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch id {
	case s.netID:
		return s.network, AuthNetwork, true
	case s.devID:
		return s.device, AuthDevice, true
	default:
		return nil, 0, false
	}
}

func newTestDispatcher() (*Dispatcher, *loopbackInterface) {
	keys := newStaticKeyStore()
	d := NewDispatcher(aead.ChaCha20Poly1305, keys, 4, 256, func() uint32 { return 1000 })
	iface := &loopbackInterface{name: "loop", hasVersion: true, dispatcher: d}
	d.RegisterInterface(iface)
	return d, iface
}

func TestLoopbackEchoRoundTrip(t *testing.T) {
	d, iface := newTestDispatcher()

	var got *Frame
	d.RegisterReceiveHandler(func(f *Frame) {
		if f.Type == TypeEchoReq {
			return
		}
		got = f.Clone()
	})

	deviceID := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}

	// First leg: send an ECHO_REQ.
	req, err := d.AllocTX(deadline.NoWait())
	require.NoError(t, err)
	require.NoError(t, d.SetTXMetadata(req, AuthDevice, deviceID))
	req.Type = TypeEchoReq
	req.Payload = append(req.Payload, []byte("ping")...)
	require.NoError(t, d.Queue(iface.Name(), req, ""))

	// Second leg: respond with ECHO_RSP carrying the same payload.
	rsp, err := d.AllocTX(deadline.NoWait())
	require.NoError(t, err)
	require.NoError(t, d.SetTXMetadata(rsp, AuthDevice, deviceID))
	rsp.Type = TypeEchoRsp
	rsp.Payload = append(rsp.Payload, []byte("ping")...)
	require.NoError(t, d.Queue(iface.Name(), rsp, ""))

	require.NotNil(t, got)
	assert.Equal(t, TypeEchoRsp, got.Type)
	assert.Equal(t, AuthDevice, got.Auth)
	assert.Equal(t, []byte("ping"), got.Payload)
}

func TestTXSequenceMonotonic(t *testing.T) {
	d, iface := newTestDispatcher()
	deviceID := [8]byte{}

	var seqs []uint16
	d.RegisterReceiveHandler(func(f *Frame) {
		seqs = append(seqs, f.Sequence)
	})

	for i := 0; i < 5; i++ {
		f, err := d.AllocTX(deadline.NoWait())
		require.NoError(t, err)
		require.NoError(t, d.SetTXMetadata(f, AuthNetwork, deviceID))
		f.Type = TypeTDF
		require.NoError(t, d.Queue(iface.Name(), f, ""))
	}

	require.Len(t, seqs, 5)
	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1])
	}
}

func TestTamperedWireYieldsAuthFailureNotError(t *testing.T) {
	d, iface := newTestDispatcher()
	deviceID := [8]byte{}

	var got *Frame
	d.RegisterReceiveHandler(func(f *Frame) { got = f.Clone() })

	f, err := d.AllocTX(deadline.NoWait())
	require.NoError(t, err)
	require.NoError(t, d.SetTXMetadata(f, AuthNetwork, deviceID))
	f.Type = TypeTDF
	f.Payload = append(f.Payload, []byte("secret")...)

	// Build and tamper the wire bytes manually instead of going
	// through Queue, since Queue hands ownership straight to Send.
	cipherKeys := newStaticKeyStore()
	netKey, netID, err := cipherKeys.Current(AuthNetwork)
	require.NoError(t, err)
	f.KeyID = netID
	f.Sequence = 1
	wire, err := encryptWire(aead.ChaCha20Poly1305, netKey, f, iface.HasVersion())
	require.NoError(t, err)
	wire[len(wire)-1] ^= 0xFF

	require.NoError(t, d.DeliverRaw(iface.Name(), wire, 0, ""))
	require.NotNil(t, got)
	assert.Equal(t, AuthFailure, got.Auth)
	assert.Empty(t, got.Payload)
}

func TestDeliverRawUnknownInterface(t *testing.T) {
	d, _ := newTestDispatcher()
	err := d.DeliverRaw("does-not-exist", []byte{0, 0, 0, 0}, 0, "")
	assert.ErrorIs(t, err, infuseerr.ErrInterfaceDown)
}

func TestDeliverRawMalformedShortFrame(t *testing.T) {
	d, iface := newTestDispatcher()
	err := d.DeliverRaw(iface.Name(), []byte{1, 2, 3}, 0, "")
	assert.ErrorIs(t, err, infuseerr.ErrMalformed)
}

func TestQueueOnDownInterfaceReleasesFrame(t *testing.T) {
	d := NewDispatcher(aead.ChaCha20Poly1305, newStaticKeyStore(), 1, 64, func() uint32 { return 0 })
	f, err := d.AllocTX(deadline.NoWait())
	require.NoError(t, err)
	require.NoError(t, d.SetTXMetadata(f, AuthNetwork, [8]byte{}))

	err = d.Queue("missing", f, "")
	assert.ErrorIs(t, err, infuseerr.ErrInterfaceDown)

	// The pool had capacity 1; if Queue released f as documented, a
	// second Alloc with NoWait must succeed immediately.
	_, err = d.AllocTX(deadline.NoWait())
	assert.NoError(t, err)
}

func TestArmDisarmNesting(t *testing.T) {
	d, _ := newTestDispatcher()
	assert.False(t, d.IsArmed("loop"))
	d.ArmReceive("loop")
	d.ArmReceive("loop")
	assert.True(t, d.IsArmed("loop"))
	d.Disarm("loop")
	assert.True(t, d.IsArmed("loop"))
	d.Disarm("loop")
	assert.False(t, d.IsArmed("loop"))
}

func TestSendKeyIDsEncodesBothKeyIDs(t *testing.T) {
	d, _ := newTestDispatcher()
	adv := &captureInterface{name: "adv", hasVersion: false}
	d.RegisterInterface(adv)

	bundle, err := d.SendKeyIDs(adv.Name())
	require.NoError(t, err)
	assert.Len(t, bundle, 6)
	assert.Equal(t, bundle[:], adv.last)
}
