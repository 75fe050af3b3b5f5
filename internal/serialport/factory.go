package serialport

import (
	"fmt"

	"go.bug.st/serial"
)

// Open opens the serial port at the given path with the provided options and
// arms its read timeout. With the timeout set, Read returns the bytes that
// arrived within the window (possibly none) rather than blocking forever,
// which is the contract the frame decoder expects.
func Open(path string, opts PortOptions) (TimeoutSerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	normalized, err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}

	if err := port.SetReadTimeout(normalized.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", path, err)
	}

	return port, nil
}
