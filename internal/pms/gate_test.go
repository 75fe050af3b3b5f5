package pms

import (
	"context"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/banshee-data/particulate.report/internal/serialport"
	"github.com/banshee-data/particulate.report/internal/timeutil"
)

var _ Controller = (*Gate)(nil)

func newTestGate(t *testing.T, opts Options) (*Gate, *serialport.TestableSerialPort, *timeutil.MockClock) {
	t.Helper()
	port := serialport.NewTestableSerialPort()
	clock := timeutil.NewMockClock(testEpoch)
	opts.Clock = clock
	sensor, err := New(port, opts)
	if err != nil {
		t.Fatalf("failed to build sensor: %v", err)
	}
	gate := NewGate(sensor, GateOptions{Clock: clock})
	return gate, port, clock
}

// startGate runs the gate until the test ends.
func startGate(t *testing.T, gate *Gate) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		gate.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ctx
}

// advanceUntil drives the mock clock forward one poll interval at a time
// until the condition holds, guarded by a real deadline.
func advanceUntil(t *testing.T, clock *timeutil.MockClock, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		clock.Advance(DefaultPollInterval)
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestGateStatusBeforeRun(t *testing.T) {
	gate, _, _ := newTestGate(t, Options{
		PowerPin:    &gpiotest.Pin{N: "GPIO17"},
		StartAsleep: true,
	})

	status := gate.Status()
	if !status.Sleeping {
		t.Error("expected sleeping status")
	}
	if status.State != "sleeping" {
		t.Errorf("expected state sleeping, got %q", status.State)
	}
	if status.Session == "" {
		t.Error("expected a session ID at construction")
	}
}

func TestGateStatusTracksPreheat(t *testing.T) {
	gate, _, _ := newTestGate(t, Options{})

	status := gate.Status()
	if status.State != "preheating" {
		t.Errorf("expected state preheating, got %q", status.State)
	}
	if status.Ready {
		t.Error("expected not ready during preheat")
	}
	if status.PreheatSeconds != 30 {
		t.Errorf("expected 30 preheat seconds, got %d", status.PreheatSeconds)
	}
}

func TestGateRunPublishesReadings(t *testing.T) {
	gate, port, clock := newTestGate(t, Options{})
	clock.Advance(PreheatDuration)
	startGate(t, gate)

	id, ch := gate.Subscribe()
	defer gate.Unsubscribe(id)

	want := sampleFrame()
	port.Feed(EncodeFrame(want))

	var got Reading
	advanceUntil(t, clock, func() bool {
		select {
		case got = <-ch:
			return true
		default:
			return false
		}
	})

	if got.Frame != want {
		t.Errorf("expected frame %+v, got %+v", want, got.Frame)
	}
	if got.Session != gate.Status().Session {
		t.Errorf("expected reading tagged with session %q, got %q", gate.Status().Session, got.Session)
	}
	if got.At.IsZero() {
		t.Error("expected a reading timestamp")
	}

	status := gate.Status()
	if status.FramesDecoded == 0 {
		t.Error("expected decoded frame counter to advance")
	}
	if status.LastReading == nil || status.LastReading.Frame != want {
		t.Errorf("expected last reading in status, got %+v", status.LastReading)
	}
}

func TestGateCountsRejectedFrames(t *testing.T) {
	gate, port, clock := newTestGate(t, Options{})
	clock.Advance(PreheatDuration)
	startGate(t, gate)

	frame := EncodeFrame(sampleFrame())
	for i := 0; i < ReadAttempts; i++ {
		port.Feed(corruptChecksum(frame))
	}

	advanceUntil(t, clock, func() bool {
		return gate.Status().FramesRejected == 1
	})
}

func TestGateSleepAndWake(t *testing.T) {
	gate, _, _ := newTestGate(t, Options{PowerPin: &gpiotest.Pin{N: "GPIO17"}})
	startGate(t, gate)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	before := gate.Status().Session

	ok, err := gate.Sleep(ctx)
	if err != nil || !ok {
		t.Fatalf("expected sleep to succeed, got ok=%v err=%v", ok, err)
	}
	status := gate.Status()
	if !status.Sleeping {
		t.Error("expected sleeping status")
	}
	if status.Sleeps != 1 {
		t.Errorf("expected 1 sleep counted, got %d", status.Sleeps)
	}

	ok, err = gate.Wake(ctx)
	if err != nil || !ok {
		t.Fatalf("expected wake to succeed, got ok=%v err=%v", ok, err)
	}
	status = gate.Status()
	if status.Sleeping {
		t.Error("expected awake status")
	}
	if status.State != "preheating" {
		t.Errorf("expected preheating after wake, got %q", status.State)
	}
	if status.Wakes != 1 {
		t.Errorf("expected 1 wake counted, got %d", status.Wakes)
	}
	if status.Session == before {
		t.Error("expected a fresh session after a wake from sleep")
	}
}

func TestGateWakeWhileAwakeKeepsSession(t *testing.T) {
	gate, _, _ := newTestGate(t, Options{PowerPin: &gpiotest.Pin{N: "GPIO17"}})
	startGate(t, gate)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	before := gate.Status().Session
	ok, err := gate.Wake(ctx)
	if err != nil || !ok {
		t.Fatalf("expected wake to succeed, got ok=%v err=%v", ok, err)
	}
	status := gate.Status()
	if status.Session != before {
		t.Error("expected session unchanged when already awake")
	}
	if status.Wakes != 0 {
		t.Errorf("expected no wake counted, got %d", status.Wakes)
	}
}

func TestGateSleepWithoutPin(t *testing.T) {
	gate, _, _ := newTestGate(t, Options{})
	startGate(t, gate)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ok, err := gate.Sleep(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected sleep to report failure without a power pin")
	}
	if gate.Status().Sleeping {
		t.Error("expected sensor still awake")
	}
}

func TestGateUnsubscribeClosesChannel(t *testing.T) {
	gate, _, _ := newTestGate(t, Options{})

	id, ch := gate.Subscribe()
	gate.Unsubscribe(id)

	if _, ok := <-ch; ok {
		t.Error("expected channel closed after unsubscribe")
	}
}

func TestGateRunClosesSubscribersOnCancel(t *testing.T) {
	gate, _, _ := newTestGate(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gate.Run(ctx) }()

	id, ch := gate.Subscribe()
	defer gate.Unsubscribe(id)

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel closed, got a reading")
		}
	case <-time.After(2 * time.Second):
		t.Error("timed out waiting for subscriber channel to close")
	}
}

func TestGateRequestAfterContextCancelled(t *testing.T) {
	gate, _, _ := newTestGate(t, Options{})

	// No Run goroutine: the request must fail on the context rather than
	// block forever.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := gate.Sleep(ctx); err == nil {
		t.Error("expected a context error when the gate is not running")
	}
}
