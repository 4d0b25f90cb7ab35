package flasher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/scooterteam/bw-flasher/dfu"
	"github.com/scooterteam/bw-flasher/link"
)

// buildDFUImage returns a raw-file DFU image sized so firmware.Load's
// trailer trim (applied above 4096 bytes) lands exactly on the padding
// dfu's own fixtures use, with the 0x800 signature shortcut isDFU checks
// before falling back to the signingPattern-offset heuristic.
func buildDFUImage() []byte {
	const fixtureBase = 0x100
	const sboxRelOffset = 0xA802
	const sboxSize = 256
	const rconRelOffset = 0xAA02
	const rconSize = 11

	raw := make([]byte, 0xAC00+2)
	raw[fixtureBase] = 0x63
	raw[fixtureBase+1] = 0x7C
	raw[fixtureBase+0x20] = 0x01
	raw[fixtureBase+0x21] = 0x02
	copy(raw[0x800:0x808], "DEPRD5C\x00")

	sboxStart := fixtureBase + sboxRelOffset
	for i := 0; i < sboxSize; i++ {
		raw[sboxStart+i] = byte(i*167 + 13)
	}
	rconStart := fixtureBase + rconRelOffset
	for i := 0; i < rconSize; i++ {
		raw[rconStart+i] = byte(i*37 + 5)
	}
	return raw
}

// buildLEQIImage returns a raw-file LEQI image: a header window satisfying
// isLEQI's 0xAA/0xA2 density heuristic, an incrementing body, and a trailing
// run of 0xAA bytes long enough for deriveFWSize to latch onto, sized so the
// trailer trim leaves that run intact.
func buildLEQIImage() []byte {
	const total = 5000
	raw := make([]byte, total+2)
	for i := 0x80; i < 0x400; i++ {
		if i%2 == 0 {
			raw[i] = 0xAA
		} else {
			raw[i] = 0xA2
		}
	}
	for i := 0x400; i < total-700; i++ {
		raw[i] = byte(i)
	}
	for i := total - 700; i < total+2; i++ {
		raw[i] = 0xAA
	}
	return raw
}

// buildUnknownImage returns an image that matches none of the classifier's
// signatures: no embedded NUL means the Ninebot version-string heuristic
// also never fires.
func buildUnknownImage() []byte {
	raw := make([]byte, 0x2000)
	for i := range raw {
		raw[i] = 0xFF
	}
	return raw
}

func writeFixture(t *testing.T, name string, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDispatchDFUSimulationHappyPath(t *testing.T) {
	path := writeFixture(t, "dfu.bin", buildDFUImage())

	var statuses []string
	var lastProgress int
	opts := Options{
		Simulation: true,
		Callbacks: link.Callbacks{
			OnStatus:   func(s string) { statuses = append(statuses, s) },
			OnProgress: func(p int) { lastProgress = p },
		},
	}

	runner, err := Dispatch(path, opts)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if lastProgress != 100 {
		t.Fatalf("final progress = %d, want 100", lastProgress)
	}
	if len(statuses) == 0 {
		t.Fatal("expected at least one status update")
	}
}

func TestDispatchLEQISimulationHappyPath(t *testing.T) {
	path := writeFixture(t, "leqi.bin", buildLEQIImage())

	opts := Options{Simulation: true}
	runner, err := Dispatch(path, opts)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if err := runner.TestConnection(context.Background()); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}

	runner, err = Dispatch(path, opts)
	if err != nil {
		t.Fatalf("Dispatch (second run): %v", err)
	}
	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestDispatchUnsupportedFirmware(t *testing.T) {
	path := writeFixture(t, "unknown.bin", buildUnknownImage())

	_, err := Dispatch(path, Options{Simulation: true})
	if !errors.Is(err, ErrUnsupportedFirmware) {
		t.Fatalf("Dispatch err = %v, want ErrUnsupportedFirmware", err)
	}
}

func TestDispatchMissingFile(t *testing.T) {
	_, err := Dispatch(filepath.Join(t.TempDir(), "nope.bin"), Options{Simulation: true})
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestDispatchCancelledContext(t *testing.T) {
	path := writeFixture(t, "dfu.bin", buildDFUImage())

	runner, err := Dispatch(path, Options{Simulation: true})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := runner.Run(ctx); !errors.Is(err, dfu.ErrCancelled) {
		t.Fatalf("Run err = %v, want dfu.ErrCancelled", err)
	}
}
