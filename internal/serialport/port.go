// Package serialport abstracts the UART transport the particulate sensor
// streams on, so the driver can be exercised without real hardware.
package serialport

import (
	"io"
	"time"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
//
// Read is expected to be bounded: a port configured with a read timeout
// returns whatever bytes arrived within that window, possibly none, with a
// nil error. The decoder relies on that to interleave deadline checks with
// reads instead of blocking indefinitely.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter extends SerialPorter with timeout capabilities.
// Real ports implement it; the factory uses it to bound every Read.
type TimeoutSerialPorter interface {
	SerialPorter
	// SetReadTimeout sets the read timeout for the serial port.
	SetReadTimeout(timeout time.Duration) error
}
