package firmware

import "encoding/binary"

// teaKey is the fixed 128-bit key embedded in the flashing tool for images
// that ship encrypted. The value is a placeholder for the vendor's actual
// embedded key, which this reimplementation was not built against hardware
// to recover; the decode is best-effort and non-fatal by design (spec.md
// §4.2), so an incorrect key only means the ASCII model-id probe fails and
// the original bytes are used unmodified.
var teaKey = [4]uint32{0x9e3779b9, 0x7f4a7c15, 0xf39cc060, 0x5cee5c66}

const teaDelta = 0x9e3779b9
const teaRounds = 32

// teaDecryptBlock decrypts one 8-byte TEA block, given as its two 32-bit
// words, and returns the decrypted words.
func teaDecryptBlock(v0, v1 uint32, key [4]uint32) (uint32, uint32) {
	sum := uint32((teaDelta * teaRounds) & 0xFFFFFFFF)
	for i := 0; i < teaRounds; i++ {
		v1 -= ((v0 << 4) + key[2]) ^ (v0 + sum) ^ ((v0 >> 5) + key[3])
		v0 -= ((v1 << 4) + key[0]) ^ (v1 + sum) ^ ((v1 >> 5) + key[1])
		sum -= teaDelta
	}
	return v0, v1
}

// teaDecryptECB decrypts data 8 bytes at a time in electronic-codebook mode,
// the simplest block mode and the one the original flashing tool's
// container format uses: whole-image firmware blobs have no natural IV to
// carry, and every block is independently meaningful (code/data words), so
// there's no chaining to replicate. Any trailing partial block is copied
// through unchanged.
func teaDecryptECB(data []byte, key [4]uint32) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	n := len(data) - len(data)%8
	for off := 0; off < n; off += 8 {
		v0 := binary.BigEndian.Uint32(data[off:])
		v1 := binary.BigEndian.Uint32(data[off+4:])
		d0, d1 := teaDecryptBlock(v0, v1, key)
		binary.BigEndian.PutUint32(out[off:], d0)
		binary.BigEndian.PutUint32(out[off+4:], d1)
	}
	return out
}
