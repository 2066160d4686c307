package input

import (
	"errors"
	"sync"
	"time"

	"heatsurface/broker/internal/logging"
	"heatsurface/broker/internal/scene"
)

// Clock exposes the current time for throttling decisions.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function into a Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (c ClockFunc) Now() time.Time { return c() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config controls the guards applied to viewer commands.
type Config struct {
	// MinInterval is the minimum spacing between accepted discrete commands
	// from the same viewer. Pointer commands are never throttled.
	MinInterval time.Duration
}

// DropReason enumerates why a command was rejected by the gate.
type DropReason string

const (
	DropReasonNone        DropReason = ""
	DropReasonInvalid     DropReason = "invalid"
	DropReasonSequence    DropReason = "sequence"
	DropReasonRateLimited DropReason = "rate_limit"
)

// String returns the textual representation of the drop reason.
func (r DropReason) String() string { return string(r) }

// Decision summarises whether a command passed the gate.
type Decision struct {
	Accepted bool
	Reason   DropReason
	Err      error
}

// DropCounters aggregates per-reason drop counts.
type DropCounters struct {
	Invalid     uint64 `json:"invalid"`
	Sequence    uint64 `json:"sequence"`
	RateLimited uint64 `json:"rate_limited"`
}

// Total sums all drop reasons.
func (c DropCounters) Total() uint64 { return c.Invalid + c.Sequence + c.RateLimited }

func (c *DropCounters) add(reason DropReason) {
	switch reason {
	case DropReasonInvalid:
		c.Invalid++
	case DropReasonSequence:
		c.Sequence++
	case DropReasonRateLimited:
		c.RateLimited++
	}
}

type viewerState struct {
	lastSequence uint64
	lastDiscrete time.Time
}

// Gate enforces per-viewer sequencing and discrete-command throttling.
type Gate struct {
	mu       sync.Mutex
	cfg      Config
	clock    Clock
	logger   *logging.Logger
	viewers  map[string]*viewerState
	drops    map[string]DropCounters
	accepted uint64
	totals   DropCounters
}

// Option customises gate construction.
type Option func(*Gate)

// WithClock overrides the clock used for throttling.
func WithClock(clock Clock) Option {
	return func(g *Gate) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// NewGate constructs a gate with the supplied configuration and logger.
func NewGate(cfg Config, logger *logging.Logger, opts ...Option) *Gate {
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	if logger == nil {
		logger = logging.L()
	}
	g := &Gate{
		cfg:     cfg,
		clock:   systemClock{},
		logger:  logger,
		viewers: make(map[string]*viewerState),
		drops:   make(map[string]DropCounters),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Evaluate validates cmd from viewer. Sequence IDs start at 1 and must
// strictly increase per viewer; a zero sequence ID skips ordering checks for
// stateless callers such as one-shot HTTP requests.
func (g *Gate) Evaluate(viewer string, cmd scene.Command) Decision {
	if err := cmd.Validate(); err != nil {
		g.record(viewer, DropReasonInvalid)
		return Decision{Reason: DropReasonInvalid, Err: err}
	}
	action, _ := scene.ParseAction(string(cmd.Action))
	now := g.clock.Now()

	g.mu.Lock()
	state := g.viewers[viewer]
	if state == nil {
		state = &viewerState{}
		g.viewers[viewer] = state
	}
	reason := DropReasonNone
	switch {
	case cmd.Sequence != 0 && cmd.Sequence <= state.lastSequence:
		//1.- Replayed or reordered commands would apply controls twice.
		reason = DropReasonSequence
	case !action.Pointer() && g.cfg.MinInterval > 0 && !state.lastDiscrete.IsZero() &&
		now.Sub(state.lastDiscrete) < g.cfg.MinInterval:
		//2.- Button mashing is capped so each step triggers at most one rebuild per interval.
		reason = DropReasonRateLimited
	default:
		if cmd.Sequence != 0 {
			state.lastSequence = cmd.Sequence
		}
		if !action.Pointer() {
			state.lastDiscrete = now
		}
		g.accepted++
	}
	g.mu.Unlock()

	if reason != DropReasonNone {
		g.record(viewer, reason)
		return Decision{Reason: reason, Err: errors.New("command dropped: " + reason.String())}
	}
	return Decision{Accepted: true}
}

func (g *Gate) record(viewer string, reason DropReason) {
	g.mu.Lock()
	counters := g.drops[viewer]
	counters.add(reason)
	g.drops[viewer] = counters
	g.totals.add(reason)
	g.mu.Unlock()
	g.logger.Debug("command dropped", logging.String("viewer_id", viewer), logging.String("reason", reason.String()))
}

// Forget clears sequencing state and counters for a disconnected viewer.
func (g *Gate) Forget(viewer string) {
	g.mu.Lock()
	delete(g.viewers, viewer)
	delete(g.drops, viewer)
	g.mu.Unlock()
}

// Metrics returns a copy of the per-viewer drop counters.
func (g *Gate) Metrics() map[string]DropCounters {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.drops) == 0 {
		return nil
	}
	clone := make(map[string]DropCounters, len(g.drops))
	for viewer, counters := range g.drops {
		clone[viewer] = counters
	}
	return clone
}

// Totals returns the lifetime accepted count and drop counters across all viewers.
func (g *Gate) Totals() (accepted uint64, drops DropCounters) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.accepted, g.totals
}
