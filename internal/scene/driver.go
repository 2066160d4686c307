package scene

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"heatsurface/broker/internal/heat"
	"heatsurface/broker/internal/logging"
)

// Options configures a Driver.
type Options struct {
	Params          heat.Params
	Condition       heat.InitialCondition
	Coefficients    int
	MaxCoefficients int
	// TimeScale converts wall-clock seconds into simulated time while running.
	TimeScale float64
	// TimeStep is the increment applied by time_forward and time_back.
	TimeStep     float64
	StartRunning bool
	Logger       *logging.Logger
	Now          func() time.Time
}

// Update is a consistent view of the scene after a change.
type Update struct {
	Tick         uint64
	Phase        Phase
	Time         float64
	Coefficients int
	World        mgl32.Mat4
	Surface      *heat.Surface
	Effect       Effect
	// Rebuild is how long the last mesh rebuild took.
	Rebuild time.Duration
}

// TimeLabel is the display text for simulated time.
func (u Update) TimeLabel() string { return TimeLabel(u.Time) }

// CoefficientLabel is the display text for the coefficient count.
func (u Update) CoefficientLabel() string { return CoefficientLabel(u.Coefficients) }

// Sink receives every published update. Sinks run while the driver lock is
// held and must not block or call back into the driver.
type Sink func(Update)

// Driver owns the scene state and the surface buffers derived from it.
type Driver struct {
	mu       sync.Mutex
	opts     Options
	pipeline *heat.Pipeline
	state    State
	surface  *heat.Surface
	rebuild  time.Duration
	tick     uint64
	sinks    []Sink
	log      *logging.Logger
}

// NewDriver samples the initial condition and builds the first surface.
func NewDriver(opts Options) (*Driver, error) {
	if opts.Condition == nil {
		opts.Condition = heat.Step(0.5)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxCoefficients < 1 {
		return nil, fmt.Errorf("%w: max coefficients must be positive, got %d", heat.ErrInvalidArgument, opts.MaxCoefficients)
	}
	if opts.Coefficients < 1 || opts.Coefficients > opts.MaxCoefficients {
		return nil, fmt.Errorf("%w: coefficients must be within [1, %d], got %d", heat.ErrInvalidArgument, opts.MaxCoefficients, opts.Coefficients)
	}
	if opts.TimeScale < 0 || opts.TimeStep <= 0 {
		return nil, fmt.Errorf("%w: time scale %v and step %v", heat.ErrInvalidArgument, opts.TimeScale, opts.TimeStep)
	}
	pipeline, err := heat.NewPipeline(opts.Params, opts.Condition)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	d := &Driver{
		opts:     opts,
		pipeline: pipeline,
		state:    NewState(opts.Coefficients, opts.StartRunning, opts.Now()),
		log:      logger.With(logging.String("component", "scene")),
	}
	if err := d.rebuildLocked(); err != nil {
		return nil, err
	}
	return d, nil
}

// Subscribe registers sink for future updates.
func (d *Driver) Subscribe(sink Sink) {
	if sink == nil {
		return
	}
	d.mu.Lock()
	d.sinks = append(d.sinks, sink)
	d.mu.Unlock()
}

// Params returns the pipeline parameters.
func (d *Driver) Params() heat.Params { return d.pipeline.Params() }

// MaxCoefficients returns the upper clamp for the coefficient count.
func (d *Driver) MaxCoefficients() int { return d.opts.MaxCoefficients }

// Snapshot returns the current scene without changing it.
func (d *Driver) Snapshot() Update {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.updateLocked(EffectNone)
}

// Frame advances simulated time to now and publishes an update when the scene
// changed. It reports whether an update was published.
func (d *Driver) Frame(now time.Time) (Update, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	effect := Advance(&d.state, now, d.opts.TimeScale)
	if effect == EffectNone {
		return d.updateLocked(EffectNone), false
	}
	return d.commitLocked(effect)
}

// Apply executes a validated command. Commands that change nothing still
// return the current scene with a zero effect.
func (d *Driver) Apply(cmd Command) (Update, error) {
	if err := cmd.Validate(); err != nil {
		return Update{}, err
	}
	action, _ := ParseAction(string(cmd.Action))

	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.opts.Now()
	// Bring running time up to date so steps apply on top of it.
	effect := Advance(&d.state, now, d.opts.TimeScale)
	switch action {
	case ActionToggleRun:
		effect |= Toggle(&d.state, now)
	case ActionTimeForward:
		effect |= StepTime(&d.state, d.opts.TimeStep)
	case ActionTimeBack:
		effect |= StepTime(&d.state, -d.opts.TimeStep)
	case ActionCoefficientsUp:
		effect |= AdjustCoefficients(&d.state, 1, d.opts.MaxCoefficients)
	case ActionCoefficientsDown:
		effect |= AdjustCoefficients(&d.state, -1, d.opts.MaxCoefficients)
	case ActionDragStart:
		effect |= BeginDrag(&d.state, cmd.Viewer, cmd.Position())
	case ActionDragMove:
		effect |= Drag(&d.state, cmd.Viewer, cmd.Position(), cmd.Width, cmd.Height)
	case ActionDragEnd:
		effect |= EndDrag(&d.state, cmd.Viewer)
	case ActionReset:
		effect |= Reset(&d.state)
	}
	if effect == EffectNone {
		return d.updateLocked(EffectNone), nil
	}
	update, _ := d.commitLocked(effect)
	d.log.Debug("command applied",
		logging.String("action", string(action)),
		logging.String("viewer_id", cmd.Viewer),
		logging.Uint64("tick", update.Tick),
	)
	return update, nil
}

// Forget drops per-viewer state when a viewer disconnects.
func (d *Driver) Forget(viewer string) {
	d.mu.Lock()
	EndDrag(&d.state, viewer)
	d.mu.Unlock()
}

func (d *Driver) commitLocked(effect Effect) (Update, bool) {
	if effect.Has(EffectSurface) {
		if err := d.rebuildLocked(); err != nil {
			// State inputs are clamped, so a failure here is a programming error.
			d.log.Error("surface rebuild failed", logging.Error(err))
			return d.updateLocked(EffectNone), false
		}
	}
	d.tick++
	update := d.updateLocked(effect)
	for _, sink := range d.sinks {
		sink(update)
	}
	return update, true
}

func (d *Driver) rebuildLocked() error {
	started := time.Now()
	surface, err := d.pipeline.Build(d.state.Coefficients, d.state.Time)
	if err != nil {
		return err
	}
	d.surface = surface
	d.rebuild = time.Since(started)
	return nil
}

func (d *Driver) updateLocked(effect Effect) Update {
	return Update{
		Tick:         d.tick,
		Phase:        d.state.Phase,
		Time:         d.state.Time,
		Coefficients: d.state.Coefficients,
		World:        d.state.World,
		Surface:      d.surface,
		Effect:       effect,
		Rebuild:      d.rebuild,
	}
}

// TimeLabel formats simulated time with five decimals.
func TimeLabel(tau float64) string { return fmt.Sprintf("%.5f", tau) }

// CoefficientLabel formats the coefficient count for display.
func CoefficientLabel(k int) string { return fmt.Sprintf("Coefficients: %d", k) }
