package dfu

import "errors"

var (
	// ErrAuthMismatch is returned when the device's BLE_KEY doesn't match
	// the value computed from the firmware's key tables.
	ErrAuthMismatch = errors.New("dfu: BLE_KEY mismatch, check UID or firmware")
	// ErrCrcFail is returned when the device NAKs a chunk with 0x15.
	ErrCrcFail = errors.New("dfu: chunk CRC rejected by device")
	// ErrNoAck is returned when a chunk exhausts its retry budget without
	// an 0x06 ACK.
	ErrNoAck = errors.New("dfu: no ACK after max retries")
	// ErrVerifyFailed is returned when dfu_verify replies with 'r'.
	ErrVerifyFailed = errors.New("dfu: firmware verification failed")
	// ErrActivateFailed is returned when dfu_active replies with 'r'.
	ErrActivateFailed = errors.New("dfu: firmware activation failed")
	// ErrConnectionFailed is returned by TestConnection when INIT isn't
	// reached within the retry budget.
	ErrConnectionFailed = errors.New("dfu: connection test failed, check wiring and port")
	// ErrCancelled is returned when the caller's context is done.
	ErrCancelled = errors.New("dfu: cancelled")
	// ErrUnexpectedResponse is returned for malformed framing the state
	// machine can't make progress on.
	ErrUnexpectedResponse = errors.New("dfu: unexpected response from device")
)
