package dfu

import (
	"bytes"
	"time"
)

// Simulator is a deterministic, canned-response stand-in for a real DFU
// device, implementing link.ByteLink directly so the driver can be tested
// without hardware.
type Simulator struct {
	UID     UID
	FW      []byte
	Offsets Offsets

	VersionBefore string
	VersionAfter  string

	// MismatchBLEKey makes the device report a BLE_KEY that doesn't match
	// what SignRand computes, to exercise ErrAuthMismatch.
	MismatchBLEKey bool
	// VerifyFails makes dfu_verify reply 'r' instead of 'k'.
	VerifyFails bool
	// ActivateFails makes dfu_active reply 'r' instead of 'k'.
	ActivateFails bool
	// TimeoutOnceChunk gives no response to this 1-based chunk number on its
	// first attempt, then ACKs it on retry, to exercise the empty-retry path.
	TimeoutOnceChunk int
	// NakChunk NAKs this 1-based chunk number immediately and permanently,
	// to exercise the immediate ErrCrcFail path.
	NakChunk int
	// SilentChunk never responds at all to this 1-based chunk number, to
	// exhaust the retry budget and exercise ErrNoAck.
	SilentChunk int

	mcuRand      Challenge
	pending      []byte
	outbox       bytes.Buffer
	timeoutGiven map[int]bool
	verCalls     int
}

// NewSimulator builds a Simulator for fw, discovering the same key-table
// offsets a real device's firmware would expose.
func NewSimulator(uid UID, fw []byte) (*Simulator, error) {
	offsets, err := FindOffsets(fw)
	if err != nil {
		return nil, err
	}
	var mcuRand Challenge
	for i := range mcuRand {
		mcuRand[i] = byte(0x20 + i)
	}
	return &Simulator{
		UID:           uid,
		FW:            fw,
		Offsets:       offsets,
		VersionBefore: "V1.0.0",
		VersionAfter:  "V1.0.1",
		mcuRand:       mcuRand,
		timeoutGiven:  make(map[int]bool),
	}, nil
}

func (s *Simulator) Write(data []byte) (int, error) {
	s.pending = append(s.pending, data...)
	return len(data), nil
}

func (s *Simulator) Flush() error {
	s.respond()
	s.pending = nil
	return nil
}

func (s *Simulator) respond() {
	cmd := s.pending
	switch {
	case bytes.Equal(cmd, uidCmd):
		frame := append([]byte{0x64, 0x2A, 0x10}, s.UID[:]...)
		frame = append(frame, 0x9B)
		s.outbox.Write(frame)

	case bytes.Equal(cmd, []byte("down get_ver\r")):
		v := s.VersionBefore
		if s.verCalls > 0 {
			v = s.VersionAfter
		}
		s.verCalls++
		s.outbox.WriteString(v + "\r")

	case bytes.Equal(cmd, []byte("down rd_info\r\x00\x00\x00")):
		s.outbox.WriteString("ok\r")

	case bytes.HasPrefix(cmd, []byte("down ble_rand ")):
		rand := trimTrailingCR(cmd[len("down ble_rand "):])
		var c Challenge
		copy(c[:], rand)
		key, ok := SignRand(s.UID, c, s.FW, s.Offsets.O0)
		if ok && s.MismatchBLEKey {
			key[0] ^= 0xFF
		}
		s.outbox.WriteString("ok ")
		s.outbox.Write(key[:])
		s.outbox.WriteString("\r")

	case bytes.Equal(cmd, []byte("down mcu_rand\r")):
		s.outbox.WriteString("ok ")
		s.outbox.Write(s.mcuRand[:])
		s.outbox.WriteString("\r")

	case bytes.HasPrefix(cmd, []byte("down mcu_key ")):
		s.outbox.WriteString("ok\r")

	case bytes.HasPrefix(cmd, []byte("down nvm_write ")):
		s.outbox.WriteString("k\r")

	case len(cmd) == 3+chunkSize+2 && cmd[0] == 0x01:
		n := int(cmd[1])
		switch {
		case s.SilentChunk != 0 && n == s.SilentChunk:
			// no response at all
		case s.NakChunk != 0 && n == s.NakChunk:
			s.outbox.WriteByte(0x15)
		case s.TimeoutOnceChunk != 0 && n == s.TimeoutOnceChunk && !s.timeoutGiven[n]:
			s.timeoutGiven[n] = true
			// no response, forcing the driver to retry
		default:
			s.outbox.WriteByte(0x06)
		}

	case bytes.Equal(cmd, []byte{0x04, 0x04, 0x04}):
		// The simulator doesn't ack the end-of-packet marker; the
		// driver's read of it is best-effort and ignores the result.

	case bytes.HasPrefix(cmd, []byte("down wr_info ")):
		s.outbox.WriteString("k\r")

	case bytes.Equal(cmd, []byte("down dfu_verify\r")):
		if s.VerifyFails {
			s.outbox.WriteString("r\r")
		} else {
			s.outbox.WriteString("k\r")
		}

	case bytes.Equal(cmd, []byte("down dfu_active\r")):
		if s.ActivateFails {
			s.outbox.WriteString("r\r")
		} else {
			s.outbox.WriteString("k\r")
		}
	}
}

func trimTrailingCR(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\r' {
		return b[:len(b)-1]
	}
	return b
}

func (s *Simulator) ReadUntil(terminator byte, maxBytes int, timeout time.Duration) ([]byte, error) {
	out := s.outbox.Bytes()
	var result []byte
	if idx := bytes.IndexByte(out, terminator); idx >= 0 && idx+1 <= maxBytes {
		result = append([]byte(nil), out[:idx+1]...)
	} else if len(out) > maxBytes {
		result = append([]byte(nil), out[:maxBytes]...)
	} else {
		result = append([]byte(nil), out...)
	}
	s.outbox.Next(len(result))
	return result, nil
}

func (s *Simulator) ReadExact(n int, timeout time.Duration) ([]byte, error) {
	out := s.outbox.Bytes()
	avail := n
	if len(out) < avail {
		avail = len(out)
	}
	result := make([]byte, avail)
	s.outbox.Read(result)
	return result, nil
}

func (s *Simulator) InputAvailable() int { return s.outbox.Len() }

func (s *Simulator) DrainInput() { s.outbox.Reset() }

func (s *Simulator) Close() error { return nil }
