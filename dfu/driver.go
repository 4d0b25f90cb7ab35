package dfu

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/scooterteam/bw-flasher/byteutil"
	"github.com/scooterteam/bw-flasher/link"
)

const (
	packetSize      = 0x800
	chunkSize       = 0x80
	chunksPerPacket = packetSize / chunkSize
	maxRepeats      = 20
	readTimeout     = 100 * time.Millisecond
)

// Driver drives a DFU-family device over a ByteLink through the 13-state
// machine described in the package doc.
type Driver struct {
	fw      []byte
	offsets Offsets

	link  link.ByteLink
	clock link.Clock
	cb    link.Callbacks

	state     State
	prevState State

	uid     UID
	bleRand Challenge
	mcuRand Challenge

	nPacketsSent int
	totalPackets int
	packet       []byte
	dataSent     []byte
}

// NewDriver prepares a Driver for fw, discovering the key-table offsets up
// front so a bad firmware file fails before any bytes reach the device.
func NewDriver(fw []byte, l link.ByteLink, clock link.Clock, cb link.Callbacks) (*Driver, error) {
	offsets, err := FindOffsets(fw)
	if err != nil {
		return nil, err
	}
	total := (len(fw) + packetSize - 1) / packetSize
	if total < 1 {
		total = 1
	}
	return &Driver{
		fw:           fw,
		offsets:      offsets,
		link:         l,
		clock:        clock,
		cb:           cb,
		state:        StateUID,
		prevState:    stateNone,
		totalPackets: total,
	}, nil
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ErrCancelled
	default:
		return nil
	}
}

// Run drives the device from UID through DONE, writing firmware and
// verifying/activating it along the way.
func (d *Driver) Run(ctx context.Context) error {
	defer d.link.Close()
	for d.state != StateDone {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		if err := d.step(ctx); err != nil {
			return err
		}
		d.emitProgress()
	}
	return nil
}

// TestConnection checks that a device answers UID and get_ver without
// writing any firmware, for a pre-flash wiring sanity check.
func (d *Driver) TestConnection(ctx context.Context) error {
	defer d.link.Close()
	retries := 0
	last := d.state
	for d.state != StateInit {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		if d.state != last {
			retries = 0
			last = d.state
		}
		if retries == maxRepeats {
			return ErrConnectionFailed
		}
		if d.state != StateUID && d.state != StateVerInit {
			return ErrConnectionFailed
		}
		if err := d.step(ctx); err != nil {
			return err
		}
		retries++
	}
	d.cb.Log("Successfully established connection!")
	d.cb.Progress(100)
	return nil
}

func (d *Driver) emitProgress() {
	pct := 100 * d.nPacketsSent / d.totalPackets
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	d.cb.Progress(pct)
}

func (d *Driver) step(ctx context.Context) error {
	if d.state != d.prevState {
		d.cb.Status(fmt.Sprintf("%s -> %s", d.state, stateDescriptions[d.state]))
		d.prevState = d.state
	}
	switch d.state {
	case StateUID:
		return d.handleUID(ctx)
	case StateVerInit:
		return d.handleGetVer(ctx, StateInit, "> MCU Version (before): ")
	case StateInit:
		return d.handleInit(ctx)
	case StateBLERand:
		return d.handleBLERand(ctx)
	case StateMCURand:
		return d.handleMCURand(ctx)
	case StateMCUKey:
		return d.handleMCUKey(ctx)
	case StateNVMWrite:
		return d.handleNVMWrite(ctx)
	case StateSendFW:
		return d.handleSendFW(ctx)
	case StateWRInfo:
		return d.handleWRInfo(ctx)
	case StateDFUVerify:
		return d.handleVerify(ctx)
	case StateDFUActive:
		return d.handleActivate(ctx)
	case StateVerDone:
		return d.handleGetVer(ctx, StateDone, "> MCU Version (after): ")
	default:
		return fmt.Errorf("dfu: unknown state %v", d.state)
	}
}

var uidCmd = []byte{0x53, 0x2A, 0x7D, 0xAC}

func (d *Driver) handleUID(ctx context.Context) error {
	if _, err := d.link.Write(uidCmd); err != nil {
		return err
	}
	d.link.Flush()
	resp, _ := d.link.ReadUntil(0x9B, 21, readTimeout)

	start := bytes.IndexByte(resp, 0x64)
	end := bytes.IndexByte(resp, 0x9B)
	if start < 0 || end <= start {
		return nil
	}
	frame := resp[start:end]
	if len(frame) < 3+16 || frame[1] != 0x2A || frame[2] != 0x10 {
		return nil
	}
	copy(d.uid[:], frame[3:3+16])
	d.cb.Log(fmt.Sprintf("> Got UID: %s", d.uid[:]))
	d.state = StateVerInit
	return nil
}

func (d *Driver) handleGetVer(ctx context.Context, next State, label string) error {
	if _, err := d.link.Write([]byte("down get_ver\r")); err != nil {
		return err
	}
	d.link.Flush()
	resp, _ := d.link.ReadUntil('\r', 64, readTimeout)
	if len(resp) == 0 || resp[len(resp)-1] != '\r' {
		return nil
	}
	d.cb.Log(label + string(resp[:len(resp)-1]))
	d.state = next
	return nil
}

func (d *Driver) handleInit(ctx context.Context) error {
	if _, err := d.link.Write([]byte("down rd_info\r\x00\x00\x00")); err != nil {
		return err
	}
	d.link.Flush()
	resp, _ := d.link.ReadUntil('\r', 64, readTimeout)
	if bytes.HasPrefix(resp, []byte("ok")) {
		d.state = StateBLERand
	}
	return nil
}

func (d *Driver) handleBLERand(ctx context.Context) error {
	d.bleRand = BLERand()
	cmd := append(append([]byte{}, "down ble_rand "...), d.bleRand[:]...)
	cmd = append(cmd, '\r')
	if _, err := d.link.Write(cmd); err != nil {
		return err
	}
	d.link.Flush()

	resp, _ := d.link.ReadUntil('\r', 64, readTimeout)
	if !bytes.HasPrefix(resp, []byte("ok")) || len(resp) < 3+16 {
		return nil
	}
	expected, ok := SignRand(d.uid, d.bleRand, d.fw, d.offsets.O0)
	if !ok {
		return ErrUnexpectedResponse
	}
	if !bytes.Equal(resp[3:3+16], expected[:]) {
		return ErrAuthMismatch
	}
	d.state = StateMCURand
	return nil
}

func (d *Driver) handleMCURand(ctx context.Context) error {
	if _, err := d.link.Write([]byte("down mcu_rand\r")); err != nil {
		return err
	}
	d.link.Flush()
	resp, _ := d.link.ReadUntil('\r', 64, readTimeout)
	if !bytes.HasPrefix(resp, []byte("ok")) || len(resp) < 3+16 {
		return nil
	}
	copy(d.mcuRand[:], resp[3:3+16])
	d.state = StateMCUKey
	return nil
}

func (d *Driver) handleMCUKey(ctx context.Context) error {
	key, ok := SignRand(d.uid, d.mcuRand, d.fw, d.offsets.O0)
	if !ok {
		return ErrUnexpectedResponse
	}
	cmd := append(append([]byte{}, "down mcu_key "...), key[:]...)
	cmd = append(cmd, '\r')
	if _, err := d.link.Write(cmd); err != nil {
		return err
	}
	d.link.Flush()
	resp, _ := d.link.ReadUntil('\r', 8, readTimeout)
	if bytes.Equal(resp, []byte("ok\r")) {
		d.state = StateNVMWrite
	}
	return nil
}

func (d *Driver) handleNVMWrite(ctx context.Context) error {
	start := d.nPacketsSent * packetSize
	end := start + packetSize
	if start > len(d.fw) {
		start = len(d.fw)
	}
	if end > len(d.fw) {
		end = len(d.fw)
	}
	d.packet = d.fw[start:end]

	cmd := []byte(fmt.Sprintf("down nvm_write %08X\r", start))
	if _, err := d.link.Write(cmd); err != nil {
		return err
	}
	d.link.Flush()
	resp, _ := d.link.ReadUntil('\r', 64, readTimeout)
	if bytes.Contains(resp, []byte("k\r")) {
		d.state = StateSendFW
	}
	return nil
}

func (d *Driver) handleSendFW(ctx context.Context) error {
	if len(d.packet) > 0 {
		padded := make([]byte, packetSize)
		copy(padded, d.packet)
		for i := len(d.packet); i < packetSize; i++ {
			padded[i] = 0xFF
		}

		for n := 1; n <= chunksPerPacket; n++ {
			chunkStart := (n - 1) * chunkSize
			data := padded[chunkStart : chunkStart+chunkSize]
			frame := buildChunkFrame(byte(n), data)

			acked := false
			for repeat := 0; repeat < maxRepeats; repeat++ {
				if err := ctxErr(ctx); err != nil {
					return err
				}
				if _, err := d.link.Write(frame); err != nil {
					return err
				}
				d.link.Flush()
				resp, _ := d.link.ReadExact(1, readTimeout)
				if len(resp) == 1 {
					switch resp[0] {
					case 0x06:
						acked = true
					case 0x15:
						return ErrCrcFail
					}
				}
				if acked {
					break
				}
			}
			if !acked {
				return ErrNoAck
			}
		}
		d.packet = padded
	}

	d.link.Write([]byte{0x04, 0x04, 0x04})
	d.link.Flush()
	d.link.ReadExact(3, readTimeout)

	d.nPacketsSent++
	d.dataSent = append(d.dataSent, d.packet...)
	d.state = StateWRInfo
	return nil
}

func buildChunkFrame(n byte, data []byte) []byte {
	frame := make([]byte, 0, 3+chunkSize+2)
	frame = append(frame, 0x01, n, 0xFF-n)
	frame = append(frame, data...)
	crc := byteutil.CRC16XModem(data)
	frame = append(frame, byte(crc>>8), byte(crc))
	return frame
}

func (d *Driver) handleWRInfo(ctx context.Context) error {
	crc := byteutil.CRC32IEEE(d.dataSent)
	cmd := []byte(fmt.Sprintf("down wr_info %d %08x %d\r", d.nPacketsSent, crc, d.nPacketsSent*packetSize))
	if _, err := d.link.Write(cmd); err != nil {
		return err
	}
	d.link.Flush()
	resp, _ := d.link.ReadUntil('\r', 64, readTimeout)
	if !bytes.Contains(resp, []byte("k\r")) {
		return nil
	}
	if len(d.packet) > 0 {
		d.state = StateNVMWrite
	} else {
		d.state = StateDFUVerify
	}
	return nil
}

func (d *Driver) handleVerify(ctx context.Context) error {
	if _, err := d.link.Write([]byte("down dfu_verify\r")); err != nil {
		return err
	}
	d.link.Flush()
	resp, _ := d.link.ReadUntil('\r', 8, readTimeout)
	switch {
	case bytes.Contains(resp, []byte("k\r")):
		d.state = StateDFUActive
	case bytes.Contains(resp, []byte("r\r")):
		return ErrVerifyFailed
	}
	return nil
}

func (d *Driver) handleActivate(ctx context.Context) error {
	if _, err := d.link.Write([]byte("down dfu_active\r")); err != nil {
		return err
	}
	d.link.Flush()
	resp, _ := d.link.ReadUntil('\r', 8, readTimeout)
	switch {
	case bytes.Contains(resp, []byte("k\r")):
		d.cb.Log("> Firmware activated")
		d.state = StateVerDone
	case bytes.Contains(resp, []byte("r\r")):
		return ErrActivateFailed
	}
	return nil
}
