package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/vanderheijden86/histviz/pkg/debug"
)

// Scheduler delivers frame requests.
type Scheduler interface {
	// Next returns the channel the next frame time arrives on.
	Next() <-chan time.Time
	Stop()
}

// TickerScheduler requests frames at a fixed rate.
type TickerScheduler struct {
	t *time.Ticker
}

// NewTickerScheduler requests fps frames per second; fps <= 0 means 60.
func NewTickerScheduler(fps int) *TickerScheduler {
	if fps <= 0 {
		fps = 60
	}
	return &TickerScheduler{t: time.NewTicker(time.Second / time.Duration(fps))}
}

func (s *TickerScheduler) Next() <-chan time.Time { return s.t.C }

func (s *TickerScheduler) Stop() { s.t.Stop() }

// Loop drives Engine.Frame from a Scheduler. Frames never overlap.
type Loop struct {
	e      *Engine
	sched  Scheduler
	cancel context.CancelFunc
	done   chan struct{}
	frames atomic.Int64
}

// Start runs frames until ctx is cancelled, Stop is called, or the engine
// is closed. Any loop already running on e is stopped first.
func (e *Engine) Start(ctx context.Context, sched Scheduler) *Loop {
	e.mu.Lock()
	prev := e.loop
	e.loop = nil
	e.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}

	ctx, cancel := context.WithCancel(ctx)
	l := &Loop{e: e, sched: sched, cancel: cancel, done: make(chan struct{})}
	e.mu.Lock()
	e.loop = l
	e.mu.Unlock()
	go l.run(ctx)
	return l
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	defer l.sched.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-l.sched.Next():
			if ctx.Err() != nil {
				return
			}
			err := l.e.Frame(now)
			l.frames.Add(1)
			if errors.Is(err, ErrClosed) {
				return
			}
			debug.LogIf(err != nil, "engine: frame error: %v", err)
		}
	}
}

// Stop cancels the pending frame request and waits for the loop to exit.
func (l *Loop) Stop() {
	l.cancel()
	<-l.done
}

// Done is closed when the loop has exited.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Frames returns the number of frames run.
func (l *Loop) Frames() int64 { return l.frames.Load() }
