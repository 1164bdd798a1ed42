package serial

import (
	"fmt"
	"sync"

	"github.com/google/gousb"

	"infuse/internal/infuseerr"
)

// USBDevice is the USB-CDC variant of the serial ePacket transport:
// same sync+length framing, carried over a bulk OUT endpoint instead
// of a tty.
type USBDevice struct {
	name string

	ctx   *gousb.Context
	dev   *gousb.Device
	cfg   *gousb.Config
	intf  *gousb.Interface
	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint

	mu sync.RWMutex
	up bool
}

// OpenUSB opens the first device matching vid/pid and claims
// configuration 1, interface 0, alt-setting 0.
func OpenUSB(name string, vid, pid gousb.ID, epOutAddr, epInAddr gousb.EndpointAddress) (*USBDevice, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(vid, pid)
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("serial: open usb device: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("serial: usb device not found (vid=%s pid=%s)", vid, pid)
	}

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("serial: usb config: %w", err)
	}
	intf, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("serial: usb claim interface: %w", err)
	}
	epOut, err := intf.OutEndpoint(int(epOutAddr))
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("serial: usb out endpoint: %w", err)
	}
	epIn, err := intf.InEndpoint(int(epInAddr))
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("serial: usb in endpoint: %w", err)
	}

	return &USBDevice{name: name, ctx: ctx, dev: dev, cfg: cfg, intf: intf, epOut: epOut, epIn: epIn, up: true}, nil
}

func (d *USBDevice) Name() string     { return d.name }
func (d *USBDevice) HasVersion() bool { return false }

func (d *USBDevice) Send(wire []byte, addr string) error {
	d.mu.RLock()
	up := d.up
	d.mu.RUnlock()
	if !up {
		return infuseerr.ErrInterfaceDown
	}
	_, err := d.epOut.Write(wire)
	if err != nil {
		return fmt.Errorf("serial: usb write: %w", err)
	}
	return nil
}

// Receive reads up to len(buf) bytes from the bulk IN endpoint.
func (d *USBDevice) Receive(buf []byte) (int, error) {
	return d.epIn.Read(buf)
}

// Close releases the USB interface, config, device and context in
// reverse acquisition order.
func (d *USBDevice) Close() error {
	d.intf.Close()
	if err := d.cfg.Close(); err != nil {
		return err
	}
	if err := d.dev.Close(); err != nil {
		return err
	}
	d.ctx.Close()
	return nil
}
