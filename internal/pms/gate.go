package pms

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"tailscale.com/tsweb"

	"github.com/banshee-data/particulate.report/internal/monitoring"
	"github.com/banshee-data/particulate.report/internal/timeutil"
)

// DefaultPollInterval is the cadence Gate polls the sensor at. The sensor
// emits roughly one frame per second in active mode, so polling faster only
// burns read attempts on partial frames.
const DefaultPollInterval = time.Second

// subscriberBuffer is how many readings a subscriber channel holds before
// publishes start dropping for that subscriber.
const subscriberBuffer = 16

// Reading is one decoded frame stamped with when it arrived and the wake
// session that produced it. Sessions change on every wake-up, so consumers
// can tell a continuous measurement run from readings either side of a
// sleep.
type Reading struct {
	Frame
	At      time.Time `json:"at"`
	Session string    `json:"session"`
}

// Status is a snapshot of the sensor lifecycle and the gate's counters.
type Status struct {
	State          string   `json:"state"`
	Ready          bool     `json:"ready"`
	Sleeping       bool     `json:"sleeping"`
	PreheatSeconds int      `json:"preheat_seconds_remaining"`
	Session        string   `json:"session"`
	LastReading    *Reading `json:"last_reading,omitempty"`
	FramesDecoded  uint64   `json:"frames_decoded"`
	FramesRejected uint64   `json:"frames_rejected"`
	ReadTimeouts   uint64   `json:"read_timeouts"`
	ReadFailures   uint64   `json:"read_failures"`
	Wakes          uint64   `json:"wakes"`
	Sleeps         uint64   `json:"sleeps"`
}

// Controller is the control surface the HTTP API drives. *Gate implements it.
type Controller interface {
	// Status returns the most recent lifecycle snapshot.
	Status() Status
	// Sleep powers the sensor down. The bool reports whether the sensor
	// is now asleep; false without an error means the hardware has no
	// power control line.
	Sleep(context.Context) (bool, error)
	// Wake powers the sensor up and starts a new session if it was
	// asleep. The bool reports whether the sensor is now awake.
	Wake(context.Context) (bool, error)
}

// Gate owns a Sensor and serialises all access to it on a single goroutine.
// The Sensor itself is not safe for concurrent use, so polling, sleep and
// wake requests, and status refreshes all funnel through Run. Decoded
// readings fan out to subscribers the way a serial multiplexer fans out
// lines: non-blocking, dropping for any subscriber that falls behind.
type Gate struct {
	sensor *Sensor
	clock  timeutil.Clock
	poll   time.Duration

	requests chan gateRequest

	subscriberMu sync.Mutex
	subscribers  map[string]chan Reading
	closed       bool

	statusMu sync.Mutex
	status   Status

	// Touched only on the Run goroutine (and in NewGate before it starts).
	session        string
	lastReading    *Reading
	framesDecoded  uint64
	framesRejected uint64
	readTimeouts   uint64
	readFailures   uint64
	wakes          uint64
	sleeps         uint64
}

type gateOp int

const (
	opSleep gateOp = iota
	opWake
)

type gateRequest struct {
	op    gateOp
	reply chan gateReply
}

type gateReply struct {
	ok bool
}

// GateOptions configures a Gate.
type GateOptions struct {
	// PollInterval overrides DefaultPollInterval.
	PollInterval time.Duration
	// Clock supplies time and tickers. Defaults to the real clock.
	Clock timeutil.Clock
}

// NewGate wraps a sensor. The gate is inert until Run is started; Sleep and
// Wake block until then.
func NewGate(sensor *Sensor, opts GateOptions) *Gate {
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	g := &Gate{
		sensor:      sensor,
		clock:       clock,
		poll:        poll,
		requests:    make(chan gateRequest),
		subscribers: make(map[string]chan Reading),
		session:     uuid.NewString(),
	}
	g.refreshStatus()
	return g
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe creates a channel that receives every published reading. The
// returned ID identifies the channel for Unsubscribe. Channels are closed
// when the gate shuts down.
func (g *Gate) Subscribe() (string, chan Reading) {
	id := randomID()
	ch := make(chan Reading, subscriberBuffer)
	g.subscriberMu.Lock()
	defer g.subscriberMu.Unlock()
	if g.closed {
		close(ch)
		return id, ch
	}
	g.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (g *Gate) Unsubscribe(id string) {
	g.subscriberMu.Lock()
	defer g.subscriberMu.Unlock()
	if ch, ok := g.subscribers[id]; ok {
		close(ch)
		delete(g.subscribers, id)
	}
}

// Run polls the sensor on the configured cadence and services sleep and
// wake requests until the context is cancelled. All subscriber channels are
// closed on the way out.
func (g *Gate) Run(ctx context.Context) error {
	ticker := g.clock.NewTicker(g.poll)
	defer ticker.Stop()
	defer g.closeSubscribers()

	g.refreshStatus()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-g.requests:
			g.handleRequest(req)
		case <-ticker.C():
			g.pollOnce()
		}
	}
}

// pollOnce runs one sensor poll and classifies the outcome. Lifecycle
// results (asleep, preheating, portless) are normal and not counted as
// failures.
func (g *Gate) pollOnce() {
	frame, err := g.sensor.Poll()
	switch {
	case err == nil:
		reading := Reading{Frame: frame, At: g.clock.Now(), Session: g.session}
		g.framesDecoded++
		g.lastReading = &reading
		g.publish(reading)
	case errors.Is(err, ErrAsleep), errors.Is(err, ErrNotReady), errors.Is(err, ErrNoPort):
	case errors.Is(err, ErrReadTimeout):
		g.readTimeouts++
		monitoring.Logf("pms: poll timed out: %v", err)
	case errors.Is(err, ErrFrameMalformed):
		g.framesRejected++
		monitoring.Logf("pms: poll rejected every frame: %v", err)
	default:
		g.readFailures++
		monitoring.Logf("pms: poll failed: %v", err)
	}
	g.refreshStatus()
}

func (g *Gate) handleRequest(req gateRequest) {
	var ok bool
	switch req.op {
	case opSleep:
		ok = g.sensor.Sleep()
		if ok {
			g.sleeps++
		}
	case opWake:
		wasSleeping := g.sensor.IsSleeping()
		ok = g.sensor.WakeUp()
		if ok && wasSleeping {
			g.session = uuid.NewString()
			g.wakes++
		}
	}
	g.refreshStatus()
	req.reply <- gateReply{ok: ok}
}

// Sleep asks the Run goroutine to power the sensor down.
func (g *Gate) Sleep(ctx context.Context) (bool, error) {
	return g.request(ctx, opSleep)
}

// Wake asks the Run goroutine to power the sensor up. A wake from sleep
// starts a fresh session ID.
func (g *Gate) Wake(ctx context.Context) (bool, error) {
	return g.request(ctx, opWake)
}

func (g *Gate) request(ctx context.Context, op gateOp) (bool, error) {
	req := gateRequest{op: op, reply: make(chan gateReply, 1)}
	select {
	case g.requests <- req:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case rep := <-req.reply:
		return rep.ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Status returns the latest snapshot. Safe to call from any goroutine.
func (g *Gate) Status() Status {
	g.statusMu.Lock()
	defer g.statusMu.Unlock()
	return g.status
}

// refreshStatus recomputes the snapshot from the sensor and counters. Only
// the Run goroutine (or NewGate, before Run starts) may call it.
func (g *Gate) refreshStatus() {
	ready := g.sensor.IsReady()
	st := Status{
		State:          g.sensor.State().String(),
		Ready:          ready,
		Sleeping:       g.sensor.IsSleeping(),
		PreheatSeconds: g.sensor.preheatSecondsRemaining(),
		Session:        g.session,
		LastReading:    g.lastReading,
		FramesDecoded:  g.framesDecoded,
		FramesRejected: g.framesRejected,
		ReadTimeouts:   g.readTimeouts,
		ReadFailures:   g.readFailures,
		Wakes:          g.wakes,
		Sleeps:         g.sleeps,
	}
	if st.Sleeping {
		st.PreheatSeconds = 0
	}
	g.statusMu.Lock()
	g.status = st
	g.statusMu.Unlock()
}

func (g *Gate) publish(r Reading) {
	g.subscriberMu.Lock()
	defer g.subscriberMu.Unlock()
	for id, ch := range g.subscribers {
		select {
		case ch <- r:
		default:
			// A full channel means the subscriber stopped draining;
			// skip it rather than stall the poll loop.
			monitoring.Debugf("pms: subscriber %s is lagging, dropped reading", id)
		}
	}
}

func (g *Gate) closeSubscribers() {
	g.subscriberMu.Lock()
	defer g.subscriberMu.Unlock()
	g.closed = true
	for id, ch := range g.subscribers {
		close(ch)
		delete(g.subscribers, id)
	}
}

// AttachAdminRoutes attaches sensor debugging endpoints to the given HTTP
// mux served under /debug/. These routes are accessible only over
// localhost/via Tailscale and are not publicly accessible.
func (g *Gate) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("pms-status", "sensor lifecycle state and poll counters", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(g.Status()); err != nil {
			http.Error(w, "Failed to encode status", http.StatusInternalServerError)
		}
	})

	// API endpoint to issue Server-Side Events (SSE) carrying each decoded
	// reading as JSON.
	debug.HandleSilentFunc("pms-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := g.Subscribe()
		defer g.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		w.(http.Flusher).Flush()

		for {
			select {
			case reading, ok := <-c:
				if !ok {
					return
				}
				payload, err := json.Marshal(reading)
				if err != nil {
					continue
				}
				if _, err := w.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
