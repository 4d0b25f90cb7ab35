// Package dfu implements the DFU-family protocol: the per-UID key engine
// and the 13-state UART driver.
package dfu

import "github.com/scooterteam/bw-flasher/byteutil"

// UID is the 16-byte ASCII device identifier returned during handshake.
type UID [16]byte

// Challenge is a 16-byte BLE_RAND or MCU_RAND value.
type Challenge [16]byte

// BLERand is the fixed client-chosen challenge, bytes 0x01..0x10.
func BLERand() Challenge {
	var c Challenge
	for i := range c {
		c[i] = byte(i + 1)
	}
	return c
}

// Offsets are the two signature offsets discovered in an image, used both
// to validate the firmware and as the base for locating the SBOX/RCON
// tables the key engine reads from.
type Offsets struct {
	O0, O1 int
}

var signingPattern = []byte{0x63, 0x7C}
var verifyPattern = []byte{0x01, 0x02}

// ErrInvalidFirmware is returned when the 63 7C / 01 02 offsets aren't each
// unique, meaning the image can't be trusted to contain the key tables at
// the expected location.
var ErrInvalidFirmware = errInvalidFirmware{}

type errInvalidFirmware struct{}

func (errInvalidFirmware) Error() string { return "dfu: invalid or unsupported firmware file" }

// FindOffsets locates O0 (the unique offset of 63 7C) and O1 (one less than
// the unique offset of 01 02 at or after O0).
func FindOffsets(fw []byte) (Offsets, error) {
	o0s := byteutil.FindPattern(signingPattern, fw, 0)
	if len(o0s) != 1 {
		return Offsets{}, ErrInvalidFirmware
	}
	o0 := o0s[0]

	o1s := byteutil.FindPattern(verifyPattern, fw, o0)
	if len(o1s) != 1 {
		return Offsets{}, ErrInvalidFirmware
	}
	o1 := o1s[0] - 1

	return Offsets{O0: o0, O1: o1}, nil
}

// sboxRelOffset and rconRelOffset are fixed offsets relative to base, per
// original_source bwflasher/keygen.py: sbox at base+0xA802 (256 bytes),
// rcon at base+0xAA02+i for i in 1..10 (index 0 unused).
const (
	sboxRelOffset = 0xA802
	sboxSize      = 256
	rconRelOffset = 0xAA02
	rconSize      = 11
)

// tables reads SBOX and RCON from fw at the given base offset.
func tables(fw []byte, base int) (sbox [sboxSize]byte, rcon [rconSize]byte, ok bool) {
	sboxStart := base + sboxRelOffset
	if sboxStart < 0 || sboxStart+sboxSize > len(fw) {
		return sbox, rcon, false
	}
	copy(sbox[:], fw[sboxStart:sboxStart+sboxSize])

	rconStart := base + rconRelOffset
	if rconStart < 0 || rconStart+rconSize > len(fw) {
		return sbox, rcon, false
	}
	copy(rcon[:], fw[rconStart:rconStart+rconSize])
	return sbox, rcon, true
}

// GenKey expands UID into a 176-byte round-key schedule using sbox and rcon.
func GenKey(uid UID, sbox [sboxSize]byte, rcon [rconSize]byte) [176]byte {
	var k [176]byte
	copy(k[:16], uid[:])

	var local [4]byte
	for j := 16; j < 176; j += 4 {
		copy(k[j:j+4], k[j-16:j-12])

		if j%16 != 0 {
			copy(local[:], k[j-4:j])
		} else {
			local[0] = sbox[k[j-3]] ^ rcon[j/16]
			local[1] = sbox[k[j-2]]
			local[2] = sbox[k[j-1]]
			local[3] = sbox[k[j-4]]
		}
		for i := 0; i < 4; i++ {
			k[j+i] ^= local[i]
		}
	}
	return k
}

// mix applies the bespoke AES-like diffusion step independently to each
// 4-byte column of s.
func mix(s *[16]byte) {
	for _, c := range [4]int{0, 4, 8, 12} {
		a := s[c] ^ s[c+1]
		b := s[c+1] ^ s[c+2]
		d := s[c+2] ^ s[c+3]
		e := s[c+3] ^ s[c]
		f := a ^ d

		vals := [4]byte{a, b, d, e}
		for i := 0; i < 4; i++ {
			t := vals[i]
			sign := byte(0)
			if t&0x80 != 0 {
				sign = 1
			}
			s[c+i] ^= (t << 1) & 0xFF
			s[c+i] ^= sign * 0x1B // get_sign returns -1, times c=-0x1b, so +0x1b
			s[c+i] ^= f
		}
	}
}

func rollIndices(s *[16]byte, indices []int) {
	first := s[indices[0]]
	for i := 0; i < len(indices)-1; i++ {
		s[indices[i]] = s[indices[i+1]]
	}
	s[indices[len(indices)-1]] = first
}

// SignRand computes the per-UID signature of rand: the 10-round
// substitution-permutation network keyed by GenKey(uid, ...), where sbox and
// rcon are read from fw at base (the discovered Offsets.O0, by convention —
// spec.md leaves base an explicit parameter rather than a baked-in default).
func SignRand(uid UID, rand Challenge, fw []byte, base int) (Challenge, bool) {
	sbox, rcon, ok := tables(fw, base)
	if !ok {
		return Challenge{}, false
	}
	key := GenKey(uid, sbox, rcon)

	var s [16]byte
	copy(s[:], rand[:])

	for r := 0; r < 10; r++ {
		if r > 0 {
			mix(&s)
		}
		for i := 0; i < 16; i++ {
			s[i] ^= key[r*16+i]
		}
		for i := 0; i < 16; i++ {
			s[i] = sbox[s[i]]
		}
		rollIndices(&s, []int{1, 5, 9, 13})
		rollIndices(&s, []int{2, 10})
		rollIndices(&s, []int{3, 15, 11, 7})
		rollIndices(&s, []int{6, 14})
	}
	for i := 0; i < 16; i++ {
		s[i] ^= key[160+i]
	}

	var out Challenge
	copy(out[:], s[:])
	return out, true
}
