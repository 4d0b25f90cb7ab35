// Package leqi implements the LEQI-family protocol: a 3-phase framed binary
// transfer with CRC16/XMODEM packets and offset-addressed writes.
package leqi

import (
	"context"
	"fmt"
	"time"

	"github.com/scooterteam/bw-flasher/byteutil"
	"github.com/scooterteam/bw-flasher/link"
)

const (
	cmdStart = 0x03
	cmdData  = 0x04
	cmdEnd   = 0x05

	chunkSize   = 128
	responseLen = 7

	endMaxRetries = 10

	readTimeout       = 2 * time.Second
	endAttemptTimeout = 400 * time.Millisecond
	interChunkDelay   = 44 * time.Millisecond
	postDataDelay     = 690 * time.Millisecond
	endBackoff        = 60 * time.Millisecond
)

// Driver drives a LEQI-family device over a ByteLink through the start/data/
// end phases described in the package doc.
type Driver struct {
	fw     []byte
	fwSize int

	link  link.ByteLink
	clock link.Clock
	cb    link.Callbacks
}

// NewDriver prepares a Driver for fw, deriving fw_size from the longest run
// of 0xAA padding bytes.
func NewDriver(fw []byte, l link.ByteLink, clock link.Clock, cb link.Callbacks) *Driver {
	return &Driver{
		fw:     fw,
		fwSize: deriveFWSize(fw),
		link:   l,
		clock:  clock,
		cb:     cb,
	}
}

// deriveFWSize finds the longest run of 0xAA bytes exceeding 500 and rounds
// its end offset up to the next 128-byte boundary; absent such a run, the
// whole image is the firmware.
func deriveFWSize(fw []byte) int {
	maxLen, maxEnd := 0, 0
	i := 0
	for i < len(fw) {
		if fw[i] != 0xAA {
			i++
			continue
		}
		start := i
		for i < len(fw) && fw[i] == 0xAA {
			i++
		}
		length := i - start
		if length > maxLen && length > 500 {
			maxLen = length
			maxEnd = i
		}
	}
	if maxEnd > 0 {
		return ((maxEnd + chunkSize - 1) / chunkSize) * chunkSize
	}
	return len(fw)
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ErrCancelled
	default:
		return nil
	}
}

func appendCRC(packet []byte) []byte {
	crc := byteutil.CRC16XModem(packet)
	return append(packet, byte(crc>>8), byte(crc))
}

func validResponse(resp []byte, cmd byte) bool {
	return len(resp) >= 5 && resp[0] == 0x5A && resp[1] == 0x21 && resp[2] == cmd
}

// exchange drains stale input, writes packet, and reads exactly expectedLen
// bytes of response (or whatever arrived before timeout).
func (d *Driver) exchange(packet []byte, expectedLen int, timeout time.Duration) ([]byte, error) {
	d.link.DrainInput()
	if _, err := d.link.Write(packet); err != nil {
		return nil, err
	}
	d.link.Flush()
	return d.link.ReadExact(expectedLen, timeout)
}

// Run drives the device through start, data, and end, in that order.
func (d *Driver) Run(ctx context.Context) error {
	defer d.link.Close()

	d.cb.Status("Sending firmware update start command...")
	if err := d.sendStart(ctx); err != nil {
		return err
	}
	d.cb.Status("Sending firmware data...")
	if err := d.sendData(ctx); err != nil {
		return err
	}
	d.cb.Status("Finalizing firmware update...")
	if err := d.sendEnd(ctx); err != nil {
		return err
	}

	d.cb.Log("Leqi firmware update completed")
	d.cb.Progress(100)
	return nil
}

// TestConnection probes the device with the start packet only, without
// committing to a full flash.
func (d *Driver) TestConnection(ctx context.Context) error {
	defer d.link.Close()
	if err := d.sendStart(ctx); err != nil {
		if err == ErrCancelled {
			return err
		}
		return ErrConnectionFailed
	}
	d.cb.Log("Successfully established connection!")
	d.cb.Progress(100)
	return nil
}

func (d *Driver) sendStart(ctx context.Context) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	packet := make([]byte, 0, 12)
	packet = append(packet, 0x5A, 0x12, cmdStart, 0x06, 0x31, 0x00)
	packet = append(packet, byte(d.fwSize), byte(d.fwSize>>8))
	packet = append(packet, 0x00, 0x00)
	packet = appendCRC(packet)

	resp, err := d.exchange(packet, responseLen, readTimeout)
	if err != nil {
		return err
	}
	if !validResponse(resp, cmdStart) {
		return ErrStartRejected
	}
	d.cb.Log("Start command acknowledged")
	return nil
}

func (d *Driver) sendData(ctx context.Context) error {
	total := (d.fwSize + chunkSize - 1) / chunkSize
	if total == 0 {
		return nil
	}
	failed := 0

	for k := 0; k < total; k++ {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		offset := k * chunkSize
		end := offset + chunkSize
		if end > d.fwSize {
			end = d.fwSize
		}

		var src []byte
		if offset < len(d.fw) {
			srcEnd := end
			if srcEnd > len(d.fw) {
				srcEnd = len(d.fw)
			}
			src = d.fw[offset:srcEnd]
		}
		data := make([]byte, chunkSize)
		copy(data, src)
		for i := len(src); i < chunkSize; i++ {
			data[i] = 0xFF
		}

		packet := make([]byte, 0, 4+4+chunkSize+2)
		packet = append(packet, 0x5A, 0x12, cmdData, 0x84)
		packet = append(packet, byte(offset), byte(offset>>8), byte(offset>>16), byte(offset>>24))
		packet = append(packet, data...)
		packet = appendCRC(packet)

		resp, _ := d.exchange(packet, responseLen, readTimeout)
		if !validResponse(resp, cmdData) || resp[4] != 0x01 {
			failed++
		}

		d.clock.Sleep(interChunkDelay)
		pct := 5 + (85*(k+1)+total/2)/total
		d.cb.Progress(pct)
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d", ErrChunkRejected, failed)
	}
	d.clock.Sleep(postDataDelay)
	return nil
}

func (d *Driver) sendEnd(ctx context.Context) error {
	packet := []byte{0x5A, 0x12, cmdEnd, 0x00}
	packet = appendCRC(packet)

	var resp []byte
	for attempt := 1; attempt <= endMaxRetries; attempt++ {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		if attempt > 1 {
			d.clock.Sleep(endBackoff)
		}
		r, _ := d.exchange(packet, responseLen, endAttemptTimeout)
		if validResponse(r, cmdEnd) {
			resp = r
			break
		}
	}
	if resp == nil {
		return ErrEndFailed
	}
	d.cb.Log("End command acknowledged")
	return nil
}
