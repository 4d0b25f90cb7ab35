// Package link defines the byte-stream and timing abstractions the drivers
// in dfu and leqi are built against, plus a real serial-port implementation.
package link

import (
	"bytes"
	"errors"
	"time"

	"github.com/tarm/serial"
)

// ByteLink is the byte-level transport a driver drives. Implementations must
// not block indefinitely: every read accepts a timeout.
type ByteLink interface {
	// Write writes data to the link. It does not imply a flush.
	Write(data []byte) (int, error)
	// Flush blocks until buffered writes have been transmitted.
	Flush() error
	// ReadUntil reads until terminator is seen, maxBytes have been read, or
	// timeout elapses, whichever comes first. The returned slice includes
	// whatever was read, even on timeout.
	ReadUntil(terminator byte, maxBytes int, timeout time.Duration) ([]byte, error)
	// ReadExact reads exactly n bytes or returns what it has on timeout.
	ReadExact(n int, timeout time.Duration) ([]byte, error)
	// InputAvailable reports how many bytes are queued for reading.
	InputAvailable() int
	// DrainInput discards any buffered, unread input.
	DrainInput()
	// Close releases the underlying transport.
	Close() error
}

// ErrTimeout names a read that hit its deadline without the requested data
// becoming available. The ByteLink implementations in this module do not
// return it: a timed-out read returns whatever arrived with a nil error, and
// drivers treat a short read as an "empty response"; retry policy is theirs.
var ErrTimeout = errors.New("link: read timeout")

// Clock abstracts monotonic time and sleeping so drivers and their tests can
// run under a simulated clock.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// RealClock is the Clock backed by the runtime's wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time        { return time.Now() }
func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

// Callbacks are the three progress/log/status hooks a driver reports
// through. Any field may be nil; drivers must tolerate that and must never
// let a panicking callback escape into the driver's own control flow.
type Callbacks struct {
	OnLog      func(msg string)
	OnStatus   func(status string)
	OnProgress func(percent int)
}

// Log invokes OnLog if set, recovering from any panic inside it.
func (c Callbacks) Log(msg string) {
	defer func() { recover() }()
	if c.OnLog != nil {
		c.OnLog(msg)
	}
}

// Status invokes OnStatus if set, recovering from any panic inside it.
func (c Callbacks) Status(status string) {
	defer func() { recover() }()
	if c.OnStatus != nil {
		c.OnStatus(status)
	}
}

// Progress invokes OnProgress if set, recovering from any panic inside it.
func (c Callbacks) Progress(percent int) {
	defer func() { recover() }()
	if c.OnProgress != nil {
		c.OnProgress(percent)
	}
}

// serialLink adapts github.com/tarm/serial to ByteLink, buffering reads
// internally so ReadUntil/ReadExact can honor per-call timeouts independent
// of the port's own configured timeout.
type serialLink struct {
	port *serial.Port
	buf  bytes.Buffer
}

// Open opens dev at baud with the given per-read timeout, in the 8N1,
// no-flow-control configuration every driver in this module expects.
func Open(dev string, baud int, readTimeout time.Duration) (ByteLink, error) {
	cfg := &serial.Config{
		Name:        dev,
		Baud:        baud,
		ReadTimeout: readTimeout,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	}
	p, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, err
	}
	return &serialLink{port: p}, nil
}

func (l *serialLink) Write(data []byte) (int, error) { return l.port.Write(data) }
func (l *serialLink) Flush() error                   { return l.port.Flush() }
func (l *serialLink) Close() error                   { return l.port.Close() }

func (l *serialLink) fill(deadline time.Time, want func() bool) {
	chunk := make([]byte, 64)
	for !want() && time.Now().Before(deadline) {
		n, err := l.port.Read(chunk)
		if n > 0 {
			l.buf.Write(chunk[:n])
		}
		if err != nil {
			return
		}
	}
}

func (l *serialLink) ReadUntil(terminator byte, maxBytes int, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	l.fill(deadline, func() bool {
		if idx := bytes.IndexByte(l.buf.Bytes(), terminator); idx >= 0 {
			return true
		}
		return l.buf.Len() >= maxBytes
	})
	out := l.buf.Bytes()
	if idx := bytes.IndexByte(out, terminator); idx >= 0 && idx+1 <= maxBytes {
		out = out[:idx+1]
	} else if len(out) > maxBytes {
		out = out[:maxBytes]
	}
	result := append([]byte(nil), out...)
	l.buf.Next(len(result))
	return result, nil
}

func (l *serialLink) ReadExact(n int, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	l.fill(deadline, func() bool { return l.buf.Len() >= n })
	avail := min(n, l.buf.Len())
	result := make([]byte, avail)
	l.buf.Read(result)
	return result, nil
}

func (l *serialLink) InputAvailable() int { return l.buf.Len() }

func (l *serialLink) DrainInput() {
	l.buf.Reset()
	drain := make([]byte, 256)
	for {
		n, err := l.port.Read(drain)
		if n == 0 || err != nil {
			return
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
