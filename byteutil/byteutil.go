// Package byteutil implements the small set of byte-level primitives the
// firmware flashers build on: pattern search, CRC16/XMODEM, CRC32/IEEE, and
// bit reversal.
package byteutil

import (
	"hash/crc32"

	"github.com/sigurn/crc16"
)

// FindPattern returns every offset in buf where pattern occurs, starting the
// search no earlier than start. Matches may overlap: the search for the next
// match resumes one byte past the previous match, not past its end.
func FindPattern(pattern, buf []byte, start int) []int {
	var offsets []int
	if len(pattern) == 0 {
		return offsets
	}
	if start < 0 {
		start = 0
	}
	for off := start; off+len(pattern) <= len(buf); {
		idx := indexFrom(buf, pattern, off)
		if idx < 0 {
			break
		}
		offsets = append(offsets, idx)
		off = idx + 1
	}
	return offsets
}

func indexFrom(buf, pattern []byte, from int) int {
	for i := from; i+len(pattern) <= len(buf); i++ {
		if matches(buf[i:i+len(pattern)], pattern) {
			return i
		}
	}
	return -1
}

func matches(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var xmodemTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// CRC16XModem computes CRC-16/XMODEM: polynomial 0x1021, init 0x0000, no
// reflection, no final XOR.
func CRC16XModem(data []byte) uint16 {
	return crc16.Checksum(data, xmodemTable)
}

// CRC32IEEE computes the standard IEEE 802.3 CRC-32.
func CRC32IEEE(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// BitReverse8 reverses the bit order of an 8-bit value. Reserved for parity
// with the LEQI reference implementation; unused by the shipping XMODEM path.
func BitReverse8(v uint8) uint8 {
	var r uint8
	for i := 0; i < 8; i++ {
		r = r<<1 | v&1
		v >>= 1
	}
	return r
}

// BitReverse16 reverses the bit order of a 16-bit value. Reserved; unused by
// the shipping XMODEM path.
func BitReverse16(v uint16) uint16 {
	var r uint16
	for i := 0; i < 16; i++ {
		r = r<<1 | v&1
		v >>= 1
	}
	return r
}
