package dfu

import "testing"

// TestGenKeyKnownAnswer pins GenKey's round-key expansion against a
// synthetic SBOX/RCON table, independently reimplemented from
// original_source/bwflasher/keygen.py's gen_key.
func TestGenKeyKnownAnswer(t *testing.T) {
	fw := buildFixture(0xAC00)
	sbox, rcon, ok := tables(fw, fixtureBase)
	if !ok {
		t.Fatalf("tables: not ok")
	}
	key := GenKey(testUID(), sbox, rcon)

	wantFirstRound := [16]byte{0x24, 0x1E, 0x4B, 0x12, 0x70, 0x5B, 0x19, 0x22, 0x40, 0x6B, 0x29, 0x12, 0x70, 0x5B, 0x19, 0x23}
	if got := [16]byte(key[16:32]); got != wantFirstRound {
		t.Fatalf("GenKey()[16:32] = %#02x, want %#02x", got, wantFirstRound)
	}
	wantLastRound := [16]byte{0xDD, 0x3A, 0x2D, 0x6C, 0xBF, 0x23, 0x82, 0x00, 0xA3, 0xAF, 0x67, 0x91, 0x28, 0xF4, 0xD2, 0x28}
	if got := [16]byte(key[160:176]); got != wantLastRound {
		t.Fatalf("GenKey()[160:176] = %#02x, want %#02x", got, wantLastRound)
	}
}

// TestSignRandKnownAnswer pins SignRand against a golden value computed from
// an independent reimplementation of original_source's sign_rand/
// manipulate_bytes (with the correct +0x1B reduction: get_sign returns -1,
// and c=-0x1b, so the XOR term is (-1)*(-0x1b) = +0x1b, not -0x1b). A wrong
// reduction constant here diverges for essentially any input and would only
// be masked if something else computed the expected value the same wrong
// way, as dfu.Simulator does (it calls the same SignRand).
func TestSignRandKnownAnswer(t *testing.T) {
	fw := buildFixture(0xAC00)
	got, ok := SignRand(testUID(), BLERand(), fw, fixtureBase)
	if !ok {
		t.Fatalf("SignRand: not ok")
	}
	want := Challenge{0x83, 0x85, 0x96, 0x8B, 0x80, 0xD0, 0xA2, 0x39, 0x97, 0x58, 0xE1, 0xFC, 0xE9, 0xC5, 0xB2, 0xF2}
	if got != want {
		t.Fatalf("SignRand() = %#02x, want %#02x", got, want)
	}
}
