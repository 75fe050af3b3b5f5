package pms

import (
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/particulate.report/internal/monitoring"
	"github.com/banshee-data/particulate.report/internal/timeutil"
)

// readYieldInterval is how long the decoder sleeps after a read that returned
// no bytes. Serial ports with their own read timeout block anyway, so this
// only matters for transports that return immediately when idle.
const readYieldInterval = 2 * time.Millisecond

// readFrame consumes bytes from r until it has one complete frame, then
// validates and decodes it. The stream may begin mid-frame or carry line
// noise, so the decoder scans byte by byte for the 0x42 0x4D sync sequence
// before filling the remaining 30 bytes in bulk.
//
// The deadline is absolute. Once it passes, readFrame returns ErrReadTimeout
// no matter how many bytes have accumulated; a partial frame is abandoned
// where it stands. A frame that arrives in full but fails validation returns
// ErrFrameMalformed, leaving any bytes after it unread for the next attempt.
func readFrame(r io.Reader, clock timeutil.Clock, deadline time.Time) (Frame, error) {
	var buf [FRAME_SIZE]byte
	n := 0

	// Phase one: hunt for the sync sequence one byte at a time.
	for n < SYNC_SIZE {
		if !clock.Now().Before(deadline) {
			return Frame{}, fmt.Errorf("%w: no sync sequence found", ErrReadTimeout)
		}
		m, err := r.Read(buf[n : n+1])
		if err != nil {
			return Frame{}, fmt.Errorf("failed to read sync byte: %w", err)
		}
		if m == 0 {
			clock.Sleep(readYieldInterval)
			continue
		}
		if n == 0 {
			if buf[0] == SYNC_BYTE_1 {
				n = 1
			}
			continue
		}
		switch buf[1] {
		case SYNC_BYTE_2:
			n = 2
		case SYNC_BYTE_1:
			// The byte that broke the sequence can itself start the
			// next frame, as in a 0x42 0x42 0x4D run. Keep it as the
			// new first-byte candidate instead of discarding it.
			buf[0] = SYNC_BYTE_1
		default:
			monitoring.Debugf("pms: discarded byte 0x%02X while scanning for sync", buf[1])
			n = 0
		}
	}

	// Phase two: fill the remaining bytes in as few reads as the port allows.
	for n < FRAME_SIZE {
		if !clock.Now().Before(deadline) {
			return Frame{}, fmt.Errorf("%w: received %d of %d bytes", ErrReadTimeout, n, FRAME_SIZE)
		}
		m, err := r.Read(buf[n:])
		if err != nil {
			return Frame{}, fmt.Errorf("failed to read frame body: %w", err)
		}
		if m == 0 {
			clock.Sleep(readYieldInterval)
			continue
		}
		n += m
	}

	return DecodeFrame(buf[:])
}
