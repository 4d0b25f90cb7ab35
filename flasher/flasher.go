// Package flasher ties firmware ingestion, classification, and the two
// protocol drivers together behind one entry point: load a file, pick a
// driver, hand it a link and callbacks, run it.
package flasher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scooterteam/bw-flasher/dfu"
	"github.com/scooterteam/bw-flasher/firmware"
	"github.com/scooterteam/bw-flasher/leqi"
	"github.com/scooterteam/bw-flasher/link"
)

// ErrUnsupportedFirmware is returned when the image doesn't classify as a
// kind this module ships a driver for (this includes Ninebot, which the
// classifier recognizes but no driver exists for).
var ErrUnsupportedFirmware = errors.New("flasher: unsupported firmware kind")

// Runner is the common surface both protocol drivers satisfy.
type Runner interface {
	Run(ctx context.Context) error
	TestConnection(ctx context.Context) error
}

// Options configures a Dispatch call.
type Options struct {
	Port       string
	Simulation bool
	Callbacks  link.Callbacks
}

const (
	dfuBaud         = 19200
	dfuReadTimeout  = 100 * time.Millisecond
	leqiBaud        = 19200
	leqiReadTimeout = 2 * time.Second
)

// simulatedUID is the canned device identity the DFU simulator reports; the
// simulation backend validates state-machine plumbing, not a real device, so
// any well-formed UID works.
var simulatedUID = dfu.UID{'S', 'I', 'M', 'U', 'L', 'A', 'T', 'E', 'D', '0', '0', '0', '0', '0', '0', '1'}

// Dispatch loads path, classifies it, and returns a Runner wrapping the
// matching driver wired to a real or simulated ByteLink per opts.
func Dispatch(path string, opts Options) (Runner, error) {
	img, err := firmware.Load(path)
	if err != nil {
		return nil, err
	}

	switch kind := firmware.Classify(img); kind {
	case firmware.KindDFU:
		return dispatchDFU(img, opts)
	case firmware.KindLEQI:
		return dispatchLEQI(img, opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFirmware, kind)
	}
}

func dispatchDFU(img firmware.Image, opts Options) (Runner, error) {
	if opts.Simulation {
		sim, err := dfu.NewSimulator(simulatedUID, img)
		if err != nil {
			return nil, err
		}
		return dfu.NewDriver(img, sim, link.NewSimClock(), opts.Callbacks)
	}
	l, err := link.Open(opts.Port, dfuBaud, dfuReadTimeout)
	if err != nil {
		return nil, err
	}
	return dfu.NewDriver(img, l, link.RealClock{}, opts.Callbacks)
}

func dispatchLEQI(img firmware.Image, opts Options) (Runner, error) {
	if opts.Simulation {
		return leqi.NewDriver(img, &leqi.Simulator{}, link.NewSimClock(), opts.Callbacks), nil
	}
	l, err := link.Open(opts.Port, leqiBaud, leqiReadTimeout)
	if err != nil {
		return nil, err
	}
	return leqi.NewDriver(img, l, link.RealClock{}, opts.Callbacks), nil
}
