package pms

import "errors"

// Sensor errors are all recoverable: the caller keeps the Sensor and retries
// on a later poll cycle rather than tearing anything down.
var (
	// ErrReadTimeout reports that the read deadline expired before a
	// complete frame arrived.
	ErrReadTimeout = errors.New("timed out waiting for a complete frame")

	// ErrFrameMalformed reports a fully received frame that failed length
	// or checksum validation.
	ErrFrameMalformed = errors.New("malformed frame")

	// ErrNotReady reports a poll during the preheat window after wake-up.
	ErrNotReady = errors.New("sensor is preheating")

	// ErrAsleep reports a poll while the sensor is powered down.
	ErrAsleep = errors.New("sensor is asleep")

	// ErrNoPort reports an operation that requires a serial port on a
	// Sensor constructed without one.
	ErrNoPort = errors.New("no serial port available")
)
