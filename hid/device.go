// Package hid opens and tears down the USB-HID pipe the Contour dialect rides on, backed by
// github.com/google/gousb.
package hid

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"

	"github.com/drougas/contourpp-go/contour"
)

// VendorID is the Bayer/Ascensia USB vendor ID shared by every Contour-family meter.
const VendorID gousb.ID = 0x1A79

// DefaultProductIDs are the device IDs known to speak this dialect out of the box. The CLI's -pid
// flag replaces this list.
var DefaultProductIDs = []gousb.ID{0x6002, 0x7410, 0x7800}

// readTimeout bounds every blocking HID read, per the dialect's "no cooperative cancellation
// inside a single read" contract.
const readTimeout = 5 * time.Second

// Device is an opened USB-HID pipe to a Contour meter. It implements io.ReadWriter so a
// contour.Channel can sit directly on top of it.
type Device struct {
	ctx   *gousb.Context
	dev   *gousb.Device
	cfg   *gousb.Config
	intf  *gousb.Interface
	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint
}

// Open tries each of productIDs in order against VendorID and uses the first device that opens.
// It returns contour.ErrDeviceNotFound when no candidate opens. A configuration, interface-claim
// or endpoint failure on the opened device is returned as a contour.TransportError; the remaining
// candidates are not tried.
func Open(productIDs []gousb.ID) (*Device, error) {
	ctx := gousb.NewContext()

	var dev *gousb.Device
	for _, pid := range productIDs {
		found, err := ctx.OpenDeviceWithVIDPID(VendorID, pid)
		if err != nil || found == nil {
			continue
		}
		dev = found
		break
	}
	if dev == nil {
		ctx.Close()
		return nil, contour.ErrDeviceNotFound
	}

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, &contour.TransportError{Op: "config", Code: usbErrno(err), Err: err}
	}

	intf, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, &contour.TransportError{Op: "claim interface", Code: usbErrno(err), Err: err}
	}

	epOut, err := intf.OutEndpoint(outEndpointAddr)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, &contour.TransportError{Op: "out endpoint", Code: usbErrno(err), Err: err}
	}

	epIn, err := intf.InEndpoint(inEndpointAddr)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, &contour.TransportError{Op: "in endpoint", Code: usbErrno(err), Err: err}
	}

	return &Device{ctx: ctx, dev: dev, cfg: cfg, intf: intf, epOut: epOut, epIn: epIn}, nil
}

// outEndpointAddr and inEndpointAddr are the interrupt endpoints Contour meters expose on
// interface 0, alt-setting 0.
const (
	outEndpointAddr = 0x02
	inEndpointAddr  = 0x81
)

// Write sends p as one interrupt OUT transfer.
func (d *Device) Write(p []byte) (int, error) {
	n, err := d.epOut.Write(p)
	if err != nil {
		return n, &contour.TransportError{Op: "write", Code: usbErrno(err), Err: err}
	}
	return n, nil
}

// Read fills p with one interrupt IN transfer, bounded by readTimeout.
func (d *Device) Read(p []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()
	n, err := d.epIn.ReadContext(ctx, p)
	if err != nil {
		return n, &contour.TransportError{Op: "read", Code: usbErrno(err), Err: err}
	}
	return n, nil
}

// Close tears the pipe down in interface -> config -> device -> context order.
func (d *Device) Close() error {
	if d.intf != nil {
		d.intf.Close()
	}
	if d.cfg != nil {
		d.cfg.Close()
	}
	if d.dev != nil {
		d.dev.Close()
	}
	if d.ctx != nil {
		d.ctx.Close()
	}
	return nil
}

// usbErrno is always -1: gousb surfaces failures as plain errors with no portable status code to
// unwrap, so TransportError.Code carries no extra information for this transport (see DESIGN.md).
func usbErrno(err error) int {
	return -1
}

// ParseProductID parses a hex string like "7410" or "0x7410" into a gousb.ID.
func ParseProductID(s string) (gousb.ID, error) {
	var v uint
	if _, err := fmt.Sscanf(trimHexPrefix(s), "%x", &v); err != nil {
		return 0, fmt.Errorf("hid: invalid product id %q: %w", s, err)
	}
	return gousb.ID(v), nil
}

func trimHexPrefix(s string) string {
	if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
