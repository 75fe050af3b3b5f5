package serialport

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// TestableSerialPort implements SerialPorter with configurable behaviour for
// testing. It models the bounded-read contract of a real port: when no data
// is pending, Read returns (0, nil) the way a timed-out hardware read does.
type TestableSerialPort struct {
	mu sync.Mutex

	// pending holds bytes not yet delivered by Read.
	pending bytes.Buffer

	// WriteBuffer captures data written to the port.
	WriteBuffer bytes.Buffer

	// ChunkSize caps the bytes delivered per Read call. Zero means no cap.
	// Tests use it to split a frame across several reads.
	ChunkSize int

	// StallReads makes the next N Read calls return no data even when bytes
	// are pending, simulating a slow line.
	StallReads int

	// ReadError is returned by the next Read call if set, then cleared.
	ReadError error

	// WriteError is returned by the next Write call if set, then cleared.
	WriteError error

	// CloseError is returned by Close if set.
	CloseError error

	// Closed indicates whether Close was called.
	Closed bool

	// ReadCalls records the number of Read calls.
	ReadCalls int

	// WriteCalls records the number of Write calls.
	WriteCalls int

	// ReadTimeout records the most recent SetReadTimeout value.
	ReadTimeout time.Duration
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	return &TestableSerialPort{}
}

// Read delivers pending bytes, honouring ChunkSize, StallReads, and injected
// errors. An open port with nothing pending returns (0, nil).
func (t *TestableSerialPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++

	if t.Closed {
		return 0, errors.New("serial port closed")
	}

	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	if t.StallReads > 0 {
		t.StallReads--
		return 0, nil
	}

	if t.pending.Len() == 0 {
		return 0, nil
	}

	limit := len(p)
	if t.ChunkSize > 0 && t.ChunkSize < limit {
		limit = t.ChunkSize
	}
	return t.pending.Read(p[:limit])
}

// Write captures written bytes, honouring injected errors.
func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++

	if t.Closed {
		return 0, errors.New("serial port closed")
	}

	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}

	return t.WriteBuffer.Write(p)
}

// Close marks the port as closed.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	return t.CloseError
}

// SetReadTimeout implements TimeoutSerialPorter.
func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadTimeout = timeout
	return nil
}

// Feed appends data to be returned by subsequent Read calls.
func (t *TestableSerialPort) Feed(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending.Write(data)
}

// Pending returns the number of undelivered bytes.
func (t *TestableSerialPort) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.pending.Len()
}

// Written returns all data written to the port.
func (t *TestableSerialPort) Written() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.WriteBuffer.Bytes()
}

// Reset clears all buffers and resets state.
func (t *TestableSerialPort) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending.Reset()
	t.WriteBuffer.Reset()
	t.ChunkSize = 0
	t.StallReads = 0
	t.ReadCalls = 0
	t.WriteCalls = 0
	t.Closed = false
	t.ReadError = nil
	t.WriteError = nil
	t.CloseError = nil
}
