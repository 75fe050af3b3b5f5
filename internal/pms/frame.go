// Package pms implements a driver for Plantower PMS5003-family particulate
// matter sensors. The sensor streams fixed-length binary frames over a 9600
// baud UART; this package decodes that stream, manages the sensor's sleep and
// preheat lifecycle through an optional GPIO power line, and exposes the
// latest concentrations and particle counts.
package pms

import (
	"encoding/binary"
	"fmt"
)

const (
	FRAME_SIZE      = 32   // Full frame length in bytes, sync through checksum
	SYNC_SIZE       = 2    // Leading sync bytes
	SYNC_BYTE_1     = 0x42 // First sync byte ('B')
	SYNC_BYTE_2     = 0x4D // Second sync byte ('M')
	LENGTH_OFFSET   = 2    // Declared payload length, big-endian uint16
	PAYLOAD_LENGTH  = 28   // Required value of the declared length field
	DATA_OFFSET     = 4    // First measurement field
	CHECKSUM_OFFSET = 30   // Trailing big-endian uint16 checksum
	CHECKSUM_SPAN   = 30   // Bytes summed by the checksum (sync included)
)

// Frame holds one decoded measurement frame. Concentrations are in µg/m³;
// Count* fields are particles at or above the named diameter per 0.1L of air.
// The "standard" concentrations are normalised to standard atmosphere, the
// "atmospheric" ones are at ambient conditions.
type Frame struct {
	PM1Std   uint16 `json:"pm1_std"`
	PM25Std  uint16 `json:"pm25_std"`
	PM10Std  uint16 `json:"pm10_std"`
	PM1Atm   uint16 `json:"pm1_atm"`
	PM25Atm  uint16 `json:"pm25_atm"`
	PM10Atm  uint16 `json:"pm10_atm"`
	Count0p3 uint16 `json:"count_0p3um"`
	Count0p5 uint16 `json:"count_0p5um"`
	Count1p0 uint16 `json:"count_1p0um"`
	Count2p5 uint16 `json:"count_2p5um"`
	Count5p0 uint16 `json:"count_5p0um"`
	Count10  uint16 `json:"count_10um"`
}

// frameChecksum sums the first CHECKSUM_SPAN bytes as a 16-bit value, the
// checksum the sensor appends to every frame.
func frameChecksum(buf []byte) uint16 {
	var sum uint16
	for _, b := range buf[:CHECKSUM_SPAN] {
		sum += uint16(b)
	}
	return sum
}

// DecodeFrame validates a complete 32-byte frame and extracts its fields.
// Validation failures wrap ErrFrameMalformed so callers can distinguish a
// corrupt frame (retryable with the bytes already consumed) from transport
// errors.
func DecodeFrame(buf []byte) (Frame, error) {
	if len(buf) != FRAME_SIZE {
		return Frame{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrFrameMalformed, FRAME_SIZE, len(buf))
	}
	if buf[0] != SYNC_BYTE_1 || buf[1] != SYNC_BYTE_2 {
		return Frame{}, fmt.Errorf("%w: invalid sync: expected 0x%02X%02X, got 0x%02X%02X",
			ErrFrameMalformed, SYNC_BYTE_1, SYNC_BYTE_2, buf[0], buf[1])
	}
	if declared := binary.BigEndian.Uint16(buf[LENGTH_OFFSET:]); declared != PAYLOAD_LENGTH {
		return Frame{}, fmt.Errorf("%w: invalid length: expected %d, got %d",
			ErrFrameMalformed, PAYLOAD_LENGTH, declared)
	}
	if want, got := binary.BigEndian.Uint16(buf[CHECKSUM_OFFSET:]), frameChecksum(buf); want != got {
		return Frame{}, fmt.Errorf("%w: checksum mismatch: frame declares 0x%04X, computed 0x%04X",
			ErrFrameMalformed, want, got)
	}

	return Frame{
		PM1Std:   binary.BigEndian.Uint16(buf[4:]),
		PM25Std:  binary.BigEndian.Uint16(buf[6:]),
		PM10Std:  binary.BigEndian.Uint16(buf[8:]),
		PM1Atm:   binary.BigEndian.Uint16(buf[10:]),
		PM25Atm:  binary.BigEndian.Uint16(buf[12:]),
		PM10Atm:  binary.BigEndian.Uint16(buf[14:]),
		Count0p3: binary.BigEndian.Uint16(buf[16:]),
		Count0p5: binary.BigEndian.Uint16(buf[18:]),
		Count1p0: binary.BigEndian.Uint16(buf[20:]),
		Count2p5: binary.BigEndian.Uint16(buf[22:]),
		Count5p0: binary.BigEndian.Uint16(buf[24:]),
		Count10:  binary.BigEndian.Uint16(buf[26:]),
	}, nil
}

// EncodeFrame renders a Frame as the 32-byte wire format, checksum included.
// The reserved bytes before the checksum are zero. The simulator uses this to
// produce byte streams indistinguishable from sensor output.
func EncodeFrame(f Frame) []byte {
	buf := make([]byte, FRAME_SIZE)
	buf[0] = SYNC_BYTE_1
	buf[1] = SYNC_BYTE_2
	binary.BigEndian.PutUint16(buf[LENGTH_OFFSET:], PAYLOAD_LENGTH)

	fields := []uint16{
		f.PM1Std, f.PM25Std, f.PM10Std,
		f.PM1Atm, f.PM25Atm, f.PM10Atm,
		f.Count0p3, f.Count0p5, f.Count1p0, f.Count2p5, f.Count5p0, f.Count10,
	}
	for i, v := range fields {
		binary.BigEndian.PutUint16(buf[DATA_OFFSET+2*i:], v)
	}

	binary.BigEndian.PutUint16(buf[CHECKSUM_OFFSET:], frameChecksum(buf))
	return buf
}
