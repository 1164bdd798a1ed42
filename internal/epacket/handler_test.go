package epacket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infuse/internal/deadline"
)

func TestDefaultHandlerEchoesRequests(t *testing.T) {
	d, iface := newTestDispatcher()
	d.RegisterReceiveHandler(DefaultHandler(d))

	var rsp *Frame
	var reqSeq uint16
	d.RegisterReceiveHandler(func(f *Frame) {
		switch f.Type {
		case TypeEchoReq:
			reqSeq = f.Sequence
		case TypeEchoRsp:
			rsp = f.Clone()
		}
	})

	req, err := d.AllocTX(deadline.NoWait())
	require.NoError(t, err)
	require.NoError(t, d.SetTXMetadata(req, AuthNetwork, [8]byte{9, 9, 9, 9, 8, 8, 8, 8}))
	req.Type = TypeEchoReq
	req.Payload = append(req.Payload, []byte("hello")...)
	require.NoError(t, d.Queue(iface.Name(), req, ""))

	require.NotNil(t, rsp)
	assert.Equal(t, TypeEchoRsp, rsp.Type)
	assert.Equal(t, []byte("hello"), rsp.Payload)
	// The echo rides a fresh sequence number, not the request's.
	assert.NotEqual(t, reqSeq, rsp.Sequence)
}

func TestDefaultHandlerIgnoresUnauthenticated(t *testing.T) {
	d, _ := newTestDispatcher()
	d.RegisterReceiveHandler(DefaultHandler(d))

	delivered := 0
	d.RegisterReceiveHandler(func(f *Frame) { delivered++ })

	req, err := d.AllocTX(deadline.NoWait())
	require.NoError(t, err)
	require.NoError(t, d.SetTXMetadata(req, AuthNetwork, [8]byte{1}))
	req.Type = TypeEchoReq
	req.Payload = append(req.Payload, 'x')

	// Capture, tamper, and re-deliver: the handler must stay silent.
	capture := &captureInterface{name: "capture", hasVersion: true}
	d.RegisterInterface(capture)
	require.NoError(t, d.Queue(capture.Name(), req, ""))
	wire := append([]byte(nil), capture.last...)
	wire[len(wire)-1] ^= 0xFF
	require.NoError(t, d.DeliverRaw(capture.Name(), wire, 0, ""))

	assert.Equal(t, 1, delivered) // the tampered frame itself, no echo
}
