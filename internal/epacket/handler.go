package epacket

import "infuse/internal/deadline"

// DefaultHandler is the stock receive handler a device installs when
// no application-specific one is registered. It discards unauthenticated frames and answers echo
// requests: an INFUSE_ECHO_REQ comes back as an INFUSE_ECHO_RSP with
// a bit-exact payload, under a fresh sequence number, out the
// interface and address the request arrived on.
func DefaultHandler(d *Dispatcher) Handler {
	return func(f *Frame) {
		if f.Auth == AuthFailure || f.Type != TypeEchoReq {
			return
		}
		rsp, err := d.AllocTX(deadline.NoWait())
		if err != nil {
			return
		}
		var deviceID [8]byte
		copy(deviceID[:4], f.DeviceIDUpper[:])
		copy(deviceID[4:], f.DeviceIDLower[:])
		if err := d.SetTXMetadata(rsp, f.Auth, deviceID); err != nil {
			rsp.Release()
			return
		}
		rsp.Type = TypeEchoRsp
		rsp.Flags = f.Flags
		rsp.Payload = append(rsp.Payload, f.Payload...)
		_ = d.Queue(f.Interface, rsp, f.Address)
	}
}
