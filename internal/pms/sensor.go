package pms

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/banshee-data/particulate.report/internal/monitoring"
	"github.com/banshee-data/particulate.report/internal/serialport"
	"github.com/banshee-data/particulate.report/internal/timeutil"
)

const (
	// PreheatDuration is how long the sensor's fan and laser need after
	// wake-up before readings are trustworthy.
	PreheatDuration = 30 * time.Second

	// ReadTimeout bounds a single frame decode attempt.
	ReadTimeout = 800 * time.Millisecond

	// ReadAttempts is how many frames one poll will consume before giving
	// up. Only malformed frames burn an attempt; a timeout ends the poll.
	ReadAttempts = 3

	// sleepDrainReads is how many reads Sleep issues to clear bytes the
	// sensor emitted before it powered down.
	sleepDrainReads = 2
)

// State describes where the sensor is in its power lifecycle.
type State int

const (
	// StateSleeping means the power line is held low and no frames arrive.
	StateSleeping State = iota
	// StatePreheating means the sensor is powered but still warming up.
	// Frames arrive during preheat but their values are not trustworthy.
	StatePreheating
	// StateReady means the preheat window has passed and readings count.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateSleeping:
		return "sleeping"
	case StatePreheating:
		return "preheating"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Options configures a Sensor.
type Options struct {
	// PowerPin is the GPIO line wired to the sensor's SET input. Driving
	// it low puts the sensor to sleep. Nil disables power control
	// entirely: the sensor is treated as always awake and Sleep becomes
	// a no-op.
	PowerPin gpio.PinIO

	// StartAsleep drives the power pin low at construction instead of
	// high. Ignored when PowerPin is nil.
	StartAsleep bool

	// Clock supplies time. Defaults to the real clock; tests substitute
	// timeutil.MockClock to walk through preheat and read deadlines.
	Clock timeutil.Clock
}

// Sensor drives one particulate sensor over a serial port. It is not safe
// for concurrent use; Gate serialises access for callers that need it.
type Sensor struct {
	port  serialport.SerialPorter
	pin   gpio.PinIO
	clock timeutil.Clock

	state  State
	wokeAt time.Time
	latest Frame
}

// New builds a Sensor on the given port. A nil port is allowed and yields a
// sensor that never returns data, so a daemon can come up before its hardware
// does. When a power pin is configured it is driven immediately, high by
// default or low with StartAsleep.
func New(port serialport.SerialPorter, opts Options) (*Sensor, error) {
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &Sensor{
		port:   port,
		pin:    opts.PowerPin,
		clock:  clock,
		state:  StatePreheating,
		wokeAt: clock.Now(),
	}
	if s.pin != nil {
		level := gpio.High
		if opts.StartAsleep {
			level = gpio.Low
			s.state = StateSleeping
		}
		if err := s.pin.Out(level); err != nil {
			return nil, fmt.Errorf("failed to drive power pin %s: %w", s.pin.Name(), err)
		}
	}
	return s, nil
}

// State reports the current lifecycle state. It does not advance the
// preheating-to-ready transition; use IsReady for that.
func (s *Sensor) State() State {
	return s.state
}

// IsSleeping reports whether the power line is holding the sensor down.
func (s *Sensor) IsSleeping() bool {
	return s.state == StateSleeping
}

// IsReady reports whether the preheat window has fully elapsed since the
// last wake-up. The first call that observes the window complete latches the
// sensor into StateReady; readiness is never re-evaluated until the next
// sleep and wake cycle.
func (s *Sensor) IsReady() bool {
	switch s.state {
	case StateSleeping:
		return false
	case StateReady:
		return true
	}
	if s.clock.Since(s.wokeAt) >= PreheatDuration {
		s.state = StateReady
		return true
	}
	return false
}

// PreheatRemaining reports how much of the preheat window is left, zero when
// the sensor is ready or asleep.
func (s *Sensor) PreheatRemaining() time.Duration {
	if s.state != StatePreheating {
		return 0
	}
	remaining := PreheatDuration - s.clock.Since(s.wokeAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// preheatSecondsRemaining rounds the remaining preheat up to whole seconds,
// so the countdown reads 30 at wake-up and 1 through the final second. It
// never returns 0 while preheat is in progress, which keeps GetData's
// negated countdown distinct from its no-data result.
func (s *Sensor) preheatSecondsRemaining() int {
	remaining := PreheatDuration - s.clock.Since(s.wokeAt)
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Second - 1) / time.Second)
}

// Sleep drives the power line low and discards whatever the sensor had
// already written to the wire. Reports whether the sensor is now asleep;
// without a power pin there is no way to stop the sensor, so Sleep changes
// nothing and returns false.
func (s *Sensor) Sleep() bool {
	if s.pin == nil {
		return false
	}
	if err := s.pin.Out(gpio.Low); err != nil {
		monitoring.Logf("pms: failed to drive power pin %s low: %v", s.pin.Name(), err)
		return s.state == StateSleeping
	}
	s.state = StateSleeping
	s.drainPending()
	return true
}

// drainPending issues a fixed number of reads to swallow bytes the sensor
// emitted before the power line went low, so a stale partial frame is not
// the first thing the decoder sees after the next wake-up.
func (s *Sensor) drainPending() {
	if s.port == nil {
		return
	}
	var scratch [FRAME_SIZE]byte
	for i := 0; i < sleepDrainReads; i++ {
		if _, err := s.port.Read(scratch[:]); err != nil {
			monitoring.Debugf("pms: drain read failed: %v", err)
			return
		}
	}
}

// WakeUp raises the power line and restarts the preheat window. Waking an
// already awake sensor changes nothing, in particular it does not reset the
// preheat countdown. Reports whether the sensor is now awake.
func (s *Sensor) WakeUp() bool {
	if s.state != StateSleeping {
		return true
	}
	if s.pin == nil {
		return true
	}
	if err := s.pin.Out(gpio.High); err != nil {
		monitoring.Logf("pms: failed to drive power pin %s high: %v", s.pin.Name(), err)
		return false
	}
	s.state = StatePreheating
	s.wokeAt = s.clock.Now()
	return true
}

// Poll reads one fresh frame from the sensor, retrying through malformed
// frames up to ReadAttempts times. The error classifies why no frame was
// returned: ErrNoPort and ErrAsleep mean polling is pointless right now,
// ErrNotReady means the preheat window is still open, ErrReadTimeout means
// the stream stalled, and ErrFrameMalformed means every attempt decoded a
// corrupt frame. On success the frame is also retained for Reading.
func (s *Sensor) Poll() (Frame, error) {
	if s.port == nil {
		return Frame{}, ErrNoPort
	}
	if s.state == StateSleeping {
		return Frame{}, ErrAsleep
	}
	if !s.IsReady() {
		return Frame{}, fmt.Errorf("%w: %ds remaining", ErrNotReady, s.preheatSecondsRemaining())
	}

	var lastErr error
	deadline := s.clock.Now().Add(ReadTimeout)
	for attempt := 0; attempt < ReadAttempts; attempt++ {
		frame, err := readFrame(s.port, s.clock, deadline)
		switch {
		case err == nil:
			s.latest = frame
			return frame, nil
		case errors.Is(err, ErrFrameMalformed):
			// The corrupt frame's bytes are already consumed, so the
			// next attempt starts clean with a fresh deadline.
			monitoring.Debugf("pms: rejected frame (attempt %d/%d): %v", attempt+1, ReadAttempts, err)
			lastErr = err
			deadline = s.clock.Now().Add(ReadTimeout)
		default:
			// A stalled stream or broken transport will not improve
			// within this poll.
			return Frame{}, err
		}
	}
	return Frame{}, lastErr
}

// GetData polls the sensor and reports the outcome as the classic integer
// contract: 1 means Reading now holds fresh data, 0 means no data was
// available (asleep, portless, or every read attempt failed), and a negative
// value is the whole seconds of preheat remaining, so -30 counts up to -1
// while the sensor warms.
func (s *Sensor) GetData() int {
	_, err := s.Poll()
	switch {
	case err == nil:
		return 1
	case errors.Is(err, ErrNotReady):
		return -s.preheatSecondsRemaining()
	default:
		return 0
	}
}

// Reading returns the most recently decoded frame. The zero Frame is
// returned until the first successful poll.
func (s *Sensor) Reading() Frame {
	return s.latest
}
