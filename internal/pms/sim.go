package pms

import (
	"bytes"
	"io"
	"sync"
)

// SimulatedPort is a serialport.SerialPorter that synthesises sensor output
// for development without hardware. It emits a continuous active-mode frame
// stream with slowly drifting values, and periodically injects stray bytes
// and corrupt checksums so the resync and retry paths get exercised outside
// of tests.
type SimulatedPort struct {
	mu      sync.Mutex
	pending bytes.Buffer
	seq     int
	closed  bool

	noiseEvery   int // prefix every Nth frame with stray bytes
	corruptEvery int // break every Nth frame's checksum
}

func NewSimulatedPort() *SimulatedPort {
	return &SimulatedPort{
		noiseEvery:   5,
		corruptEvery: 13,
	}
}

// Read delivers the next pending bytes, synthesising a new frame whenever
// the buffer runs dry. Unlike a real port it never blocks.
func (sp *SimulatedPort) Read(p []byte) (int, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.closed {
		return 0, io.EOF
	}
	if sp.pending.Len() == 0 {
		sp.synthesise()
	}
	return sp.pending.Read(p)
}

// Write accepts and discards command bytes. The simulated sensor only
// models the default active reporting mode.
func (sp *SimulatedPort) Write(p []byte) (int, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.closed {
		return 0, io.EOF
	}
	return len(p), nil
}

func (sp *SimulatedPort) Close() error {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.closed = true
	return nil
}

// synthesise appends one frame to the pending buffer, with noise or
// corruption on the configured cadence. Callers must hold mu.
func (sp *SimulatedPort) synthesise() {
	sp.seq++

	if sp.noiseEvery > 0 && sp.seq%sp.noiseEvery == 0 {
		// A lone sync byte followed by junk forces the decoder to
		// restart its scan, like a frame torn by a late attach.
		sp.pending.Write([]byte{SYNC_BYTE_1, 0x13, 0x00})
	}

	frame := EncodeFrame(sp.nextFrame())
	if sp.corruptEvery > 0 && sp.seq%sp.corruptEvery == 0 {
		frame[CHECKSUM_OFFSET+1] ^= 0xFF
	}
	sp.pending.Write(frame)
}

// nextFrame produces plausible urban-air values that drift on a slow
// triangle wave, with particle counts falling off by size the way real
// distributions do.
func (sp *SimulatedPort) nextFrame() Frame {
	drift := uint16(sp.seq % 30)
	if drift > 15 {
		drift = 30 - drift
	}
	return Frame{
		PM1Std:   4 + drift/3,
		PM25Std:  8 + drift/2,
		PM10Std:  11 + drift,
		PM1Atm:   4 + drift/3,
		PM25Atm:  9 + drift/2,
		PM10Atm:  12 + drift,
		Count0p3: 1200 + 40*drift,
		Count0p5: 350 + 12*drift,
		Count1p0: 60 + 4*drift,
		Count2p5: 10 + drift/2,
		Count5p0: 4 + drift/4,
		Count10:  1 + drift/8,
	}
}
