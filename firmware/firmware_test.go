package firmware

import (
	"archive/zip"
	"bytes"
	"testing"
)

func dfuFixture(size int) []byte {
	data := make([]byte, size)
	copy(data[0x100:], "SC-1000")
	if size > 0x17083 {
		data[0x17080] = 0x63
		data[0x17081] = 0x7C
		data[0x17082] = 0x01
		data[0x17083] = 0x02
	}
	return data
}

func TestClassifyDFUBySignature(t *testing.T) {
	data := make([]byte, 0x1000)
	copy(data[0x800:], dfuSignature)
	if k := Classify(data); k != KindDFU {
		t.Fatalf("Classify = %v, want DFU", k)
	}
}

func TestClassifyDFUByPattern(t *testing.T) {
	data := dfuFixture(0x18000)
	if k := Classify(data); k != KindDFU {
		t.Fatalf("Classify = %v, want DFU", k)
	}
}

func TestClassifyLEQI(t *testing.T) {
	data := make([]byte, 0x1000)
	for i := 0x80; i < 0x400; i++ {
		data[i] = 0xAA
	}
	for i := 0x80; i < 0x3F0; i += 4 {
		data[i+1] = 0xA2
	}
	if k := Classify(data); k != KindLEQI {
		t.Fatalf("Classify = %v, want LEQI", k)
	}
}

func TestClassifyUnknownShort(t *testing.T) {
	data := make([]byte, 0x1000-1)
	if k := Classify(data); k != KindUnknown {
		t.Fatalf("Classify(short) = %v, want Unknown", k)
	}
}

func TestClassifyBoundaryLength(t *testing.T) {
	data := make([]byte, 0x1000)
	// Below both DFU/LEQI thresholds; still a valid call, just Unknown.
	if k := Classify(data); k != KindUnknown {
		t.Fatalf("Classify(0x1000 zero) = %v, want Unknown", k)
	}
}

func TestClassifyIdempotent(t *testing.T) {
	data := dfuFixture(0x18000)
	first := Classify(data)
	for i := 0; i < 3; i++ {
		if got := Classify(data); got != first {
			t.Fatalf("Classify not idempotent: got %v, want %v", got, first)
		}
	}
}

func TestClassifyDFUNeLEQI(t *testing.T) {
	dfu := dfuFixture(0x18000)
	if Classify(dfu) == KindLEQI {
		t.Fatalf("DFU fixture classified as LEQI")
	}
}

func TestVersionStringNinebot(t *testing.T) {
	data := make([]byte, 0x200)
	data[0x107] = 0x00
	copy(data[0x108:], "V1.2.3")
	data[0x108+6] = 0x00
	v, ok := VersionString(data)
	if !ok || v != "V1.2.3" {
		t.Fatalf("VersionString = %q, %v, want V1.2.3, true", v, ok)
	}
}

func TestLoadIngestsZipContainer(t *testing.T) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	inner := dfuFixture(5000)
	w, err := zw.Create("EC_ESC_Driver_v1.bin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(inner); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	img, err := process(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(img) != len(inner)-2 {
		t.Fatalf("len(img) = %d, want %d (trailer trimmed)", len(img), len(inner)-2)
	}
}

func TestProcessTrimsTrailer(t *testing.T) {
	data := dfuFixture(5000)
	img, err := process(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(img) != len(data)-2 {
		t.Fatalf("len(img) = %d, want %d", len(img), len(data)-2)
	}
}

func TestProcessIdempotent(t *testing.T) {
	data := dfuFixture(5000)
	first, err := process(data)
	if err != nil {
		t.Fatal(err)
	}
	second, err := process(first)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("process not idempotent")
	}
}

func TestProcessSmallImageNoTrim(t *testing.T) {
	data := dfuFixture(4096)
	img, err := process(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(img) != 4096 {
		t.Fatalf("len(img) = %d, want 4096 (no trim at boundary)", len(img))
	}
}
