package simulation

import (
	"context"
	"sync"
	"time"
)

// FrameFunc renders one frame for the wall-clock instant now.
type FrameFunc func(now time.Time)

// Ticker is the subset of time.Ticker the loop depends on.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ *time.Ticker }

func (t realTicker) C() <-chan time.Time { return t.Ticker.C }

// TickerFactory builds the ticker that paces the loop.
type TickerFactory func(interval time.Duration) Ticker

func newRealTicker(interval time.Duration) Ticker { return realTicker{time.NewTicker(interval)} }

// Loop calls a FrameFunc at a fixed cadence. Frames never overlap: when a
// frame overruns its interval the ticker drops the missed ticks.
type Loop struct {
	interval  time.Duration
	frame     FrameFunc
	monitor   *TickMonitor
	newTicker TickerFactory
	clock     func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option customises a Loop.
type Option func(*Loop)

// WithMonitor records every frame duration into monitor.
func WithMonitor(monitor *TickMonitor) Option {
	return func(l *Loop) { l.monitor = monitor }
}

// WithTickerFactory overrides how the pacing ticker is created.
func WithTickerFactory(factory TickerFactory) Option {
	return func(l *Loop) {
		if factory != nil {
			l.newTicker = factory
		}
	}
}

// WithClock overrides the clock used to time frames.
func WithClock(clock func() time.Time) Option {
	return func(l *Loop) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// NewLoop configures a loop that targets the provided frames per second.
func NewLoop(targetHz float64, frame FrameFunc, opts ...Option) *Loop {
	if targetHz <= 0 {
		targetHz = 30
	}
	if frame == nil {
		frame = func(time.Time) {}
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		interval = time.Second / 30
	}
	l := &Loop{
		interval:  interval,
		frame:     frame,
		newTicker: newRealTicker,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start begins ticking until the context is cancelled or Stop is invoked.
// Starting a running loop is a no-op.
func (l *Loop) Start(ctx context.Context) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	ticker := l.newTicker(l.interval)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, ticker, l.done)
}

func (l *Loop) run(ctx context.Context, ticker Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C():
			//1.- Render the frame for the tick instant and time how long it took.
			started := l.clock()
			l.frame(now)
			l.monitor.Observe(l.clock().Sub(started))
		}
	}
}

// Stop cancels the loop and waits for the in-flight frame to finish.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Interval exposes the configured frame interval.
func (l *Loop) Interval() time.Duration {
	if l == nil {
		return 0
	}
	return l.interval
}
