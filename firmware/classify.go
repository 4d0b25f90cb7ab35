package firmware

import "github.com/scooterteam/bw-flasher/byteutil"

// Kind identifies which protocol family an Image belongs to.
type Kind int

const (
	KindUnknown Kind = iota
	KindDFU
	KindLEQI
	KindNinebot
)

func (k Kind) String() string {
	switch k {
	case KindDFU:
		return "DFU"
	case KindLEQI:
		return "LEQI"
	case KindNinebot:
		return "Ninebot"
	default:
		return "Unknown"
	}
}

var dfuSignature = []byte("DEPRD5C\x00")
var signingPattern = []byte{0x63, 0x7C}
var leqiPattern = []byte{0xAA, 0xA2}

// Classify is a pure function of the image bytes: it identifies the
// protocol family, never mutates data, and is idempotent.
func Classify(data Image) Kind {
	if len(data) < 0x1000 {
		return KindUnknown
	}
	if isDFU(data) {
		return KindDFU
	}
	if isLEQI(data) {
		return KindLEQI
	}
	if isNinebot(data) {
		return KindNinebot
	}
	return KindUnknown
}

func isDFU(data []byte) bool {
	if len(data) > 0x808 && bytesEqual(data[0x800:0x808], dfuSignature) {
		return true
	}
	offsets := byteutil.FindPattern(signingPattern, data, 0)
	return len(offsets) == 1 && offsets[0] > 0x1000
}

func isLEQI(data []byte) bool {
	if len(data) < 0x400 {
		return false
	}
	window := data[0x80:0x400]
	aaA2 := countOverlapping(window, leqiPattern)
	aa := countByte(window, 0xAA)
	return aaA2 > 10 && aa > 50
}

// isNinebot recovers a NUL-terminated ASCII version string starting right
// after the first 0x00 at or past offset 0x107.
func isNinebot(data []byte) bool {
	_, ok := VersionString(data)
	return ok
}

// VersionString extracts the Ninebot version string, if present. It is an
// informational helper only: no driver ships for this firmware family.
func VersionString(data Image) (string, bool) {
	if len(data) <= 0x107 {
		return "", false
	}
	start := -1
	for i := 0x107; i < len(data); i++ {
		if data[i] == 0x00 {
			start = i + 1
			break
		}
	}
	if start < 0 || start >= len(data) {
		return "", false
	}
	end := -1
	for i := start; i < len(data); i++ {
		if data[i] == 0x00 {
			end = i
			break
		}
	}
	if end < 0 {
		return "", false
	}
	s := data[start:end]
	if !isPrintableASCII(append(append([]byte{}, s...), 0)) {
		return "", false
	}
	return string(s), true
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func countOverlapping(buf, pattern []byte) int {
	count := 0
	for i := 0; i+len(pattern) <= len(buf); i++ {
		if bytesEqual(buf[i:i+len(pattern)], pattern) {
			count++
		}
	}
	return count
}

func countByte(buf []byte, b byte) int {
	count := 0
	for _, v := range buf {
		if v == b {
			count++
		}
	}
	return count
}
