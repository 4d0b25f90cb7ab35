package leqi

import (
	"bytes"
	"time"

	"github.com/scooterteam/bw-flasher/byteutil"
)

// Simulator is a deterministic, canned-response stand-in for a real LEQI
// controller, implementing link.ByteLink directly.
type Simulator struct {
	// RejectStart makes the start command go unacknowledged.
	RejectStart bool
	// RejectChunk NAKs (status != 0x01) the 0-based chunk at this offset
	// index (k), to exercise ErrChunkRejected.
	RejectChunk int
	// HasRejectChunk enables RejectChunk; needed since 0 is a valid index.
	HasRejectChunk bool
	// RejectEnd makes every end attempt go unanswered, to exercise
	// ErrEndFailed.
	RejectEnd bool

	pending []byte
	outbox  bytes.Buffer
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
	if len(cmd) < 4 || cmd[0] != 0x5A || cmd[1] != 0x12 {
		return
	}
	switch cmd[2] {
	case cmdStart:
		if s.RejectStart {
			return
		}
		s.writeResponse(cmdStart, 0x01)

	case cmdData:
		if len(cmd) < 8 {
			return
		}
		offset := int(cmd[4]) | int(cmd[5])<<8 | int(cmd[6])<<16 | int(cmd[7])<<24
		k := offset / chunkSize
		if s.HasRejectChunk && k == s.RejectChunk {
			s.writeResponse(cmdData, 0x00)
			return
		}
		s.writeResponse(cmdData, 0x01)

	case cmdEnd:
		if s.RejectEnd {
			return
		}
		s.writeResponse(cmdEnd, 0x01)
	}
}

func (s *Simulator) writeResponse(cmd, status byte) {
	resp := []byte{0x5A, 0x21, cmd, 0x01, status}
	crc := byteutil.CRC16XModem(resp)
	resp = append(resp, byte(crc>>8), byte(crc))
	s.outbox.Write(resp)
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
