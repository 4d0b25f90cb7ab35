// Package firmware handles ingestion (container unwrap, best-effort
// decrypt, trailer trim) and classification of flasher input images.
package firmware

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Image is an immutable byte sequence produced by Load. Once returned, it is
// never mutated by any driver.
type Image []byte

// ErrNotFound is returned when the firmware file cannot be opened.
var ErrNotFound = errors.New("firmware: file not found")

// ErrBadArchive is returned when the input looks like a ZIP container but is
// structurally invalid.
var ErrBadArchive = errors.New("firmware: bad archive")

// Load reads path, unwraps a ZIP container if present, attempts a
// best-effort decrypt, and trims the container CRC trailer.
func Load(path string) (Image, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return process(raw)
}

func process(raw []byte) (Image, error) {
	data, err := unwrap(raw)
	if err != nil {
		return nil, err
	}
	if dec, ok := tryDecrypt(data); ok {
		data = dec
	}
	if len(data) > 4096 {
		data = data[:len(data)-2]
	}
	return Image(data), nil
}

// unwrap returns the first ZIP member whose name has prefix "EC_ESC_Driver"
// or suffix ".enc", falling back to the first member. Non-ZIP input is
// returned unchanged.
func unwrap(raw []byte) ([]byte, error) {
	r, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		// Not a ZIP container: use the bytes as-is.
		return raw, nil
	}
	if len(r.File) == 0 {
		return nil, fmt.Errorf("%w: empty archive", ErrBadArchive)
	}
	member := r.File[0]
	for _, f := range r.File {
		if strings.HasPrefix(f.Name, "EC_ESC_Driver") || strings.HasSuffix(f.Name, ".enc") {
			member = f
			break
		}
	}
	rc, err := member.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArchive, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArchive, err)
	}
	return data, nil
}

// modelIDWindows are the two candidate offsets for the ASCII model-id field
// that decides whether a payload needs decryption.
var modelIDWindows = [2][2]int{
	{0x100, 0x10F},
	{0x400, 0x40E},
}

func hasASCIIModelID(data []byte) bool {
	for _, w := range modelIDWindows {
		lo, hi := w[0], w[1]
		if hi > len(data) {
			continue
		}
		if isPrintableASCII(data[lo:hi]) {
			return true
		}
	}
	return false
}

func isPrintableASCII(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for i, c := range b {
		if c == 0 {
			// Trailing NUL padding is acceptable once at least one
			// printable byte has been seen.
			return i > 0
		}
		if c < 0x20 || c > 0x7E {
			return false
		}
	}
	return true
}

// tryDecrypt attempts a TEA-family block decode with the embedded key; the
// result is adopted only if it makes the model-id region decode as ASCII.
// Decryption failure is never fatal: the caller falls back to the original
// bytes.
func tryDecrypt(data []byte) ([]byte, bool) {
	if hasASCIIModelID(data) {
		// Already plaintext; nothing to decrypt.
		return nil, false
	}
	dec := teaDecryptECB(data, teaKey)
	if hasASCIIModelID(dec) {
		return dec, true
	}
	return nil, false
}
