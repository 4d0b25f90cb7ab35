package byteutil

import (
	"testing"

	"pgregory.net/rapid"
)

func TestCRC16XModemVector(t *testing.T) {
	got := CRC16XModem([]byte("123456789"))
	if got != 0x31C3 {
		t.Fatalf("CRC16XModem(\"123456789\") = %#04x, want 0x31c3", got)
	}
}

func TestCRC16XModemStable(t *testing.T) {
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	first := CRC16XModem(data)
	for i := 0; i < 5; i++ {
		if got := CRC16XModem(data); got != first {
			t.Fatalf("CRC16XModem not stable: got %#04x, want %#04x", got, first)
		}
	}
}

func TestFindPatternEmptyPattern(t *testing.T) {
	offsets := FindPattern(nil, []byte{1, 2, 3}, 0)
	if len(offsets) != 0 {
		t.Fatalf("FindPattern(empty) = %v, want empty", offsets)
	}
}

func TestFindPatternStartAndAbsent(t *testing.T) {
	buf := []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x01, 0x02, 0x03, 0x04, 0x05}
	offsets := FindPattern([]byte{0x01, 0x02, 0x03}, buf, 0)
	want := []int{1, 5}
	if !equalInts(offsets, want) {
		t.Fatalf("FindPattern = %v, want %v", offsets, want)
	}

	offsets = FindPattern([]byte{0x01, 0x02, 0x03}, buf, 3)
	want = []int{5}
	if !equalInts(offsets, want) {
		t.Fatalf("FindPattern(start=3) = %v, want %v", offsets, want)
	}

	offsets = FindPattern([]byte{0x06, 0x07}, buf, 0)
	if len(offsets) != 0 {
		t.Fatalf("FindPattern(absent) = %v, want empty", offsets)
	}
}

func TestFindPatternOverlappingMatches(t *testing.T) {
	// "0101" inside a run of identical 0x01 bytes should report every
	// overlapping occurrence, not just non-overlapping ones.
	buf := []byte{0x01, 0x01, 0x01, 0x01}
	offsets := FindPattern([]byte{0x01, 0x01}, buf, 0)
	want := []int{0, 1, 2}
	if !equalInts(offsets, want) {
		t.Fatalf("FindPattern(overlap) = %v, want %v", offsets, want)
	}
}

func TestBitReverseRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := uint8(rapid.IntRange(0, 255).Draw(t, "v"))
		if got := BitReverse8(BitReverse8(v)); got != v {
			t.Fatalf("BitReverse8 not involutive: v=%#02x got=%#02x", v, got)
		}
		v16 := uint16(rapid.IntRange(0, 0xFFFF).Draw(t, "v16"))
		if got := BitReverse16(BitReverse16(v16)); got != v16 {
			t.Fatalf("BitReverse16 not involutive: v=%#04x got=%#04x", v16, got)
		}
	})
}

func equalInts(a, b []int) bool {
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
