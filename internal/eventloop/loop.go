package eventloop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler is the part of Loop the node components depend on.
type Scheduler interface {
	// Post queues fn to run on the loop goroutine.
	Post(fn func())

	// AfterFunc runs fn on the loop goroutine after d.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a pending AfterFunc callback.
type Timer interface {
	// Stop prevents the callback from running. It returns false if the
	// callback already ran or the timer was already stopped.
	Stop() bool
}

// Logger interface for optional logging support.
type Logger interface {
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}

// Loop is a single-goroutine callback dispatcher.
type Loop struct {
	lock     sync.Mutex
	queue    []func()
	wakeUpCh chan struct{}

	logger Logger
}

// New creates a Loop. A nil logger discards panic reports.
func New(logger Logger) *Loop {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Loop{
		wakeUpCh: make(chan struct{}, 1),
		logger:   logger,
	}
}

// Post implements Scheduler. It is safe to call from any goroutine.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.lock.Lock()
	l.queue = append(l.queue, fn)
	l.lock.Unlock()

	select {
	case l.wakeUpCh <- struct{}{}:
	default:
	}
}

// AfterFunc implements Scheduler.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{fn: fn}
	t.timer = time.AfterFunc(d, func() {
		l.Post(t.fire)
	})
	return t
}

// Run dispatches posted callbacks until ctx is cancelled.
// Callbacks still queued at cancellation are dropped.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wakeUpCh:
			l.drain(ctx)
		}
	}
}

func (l *Loop) drain(ctx context.Context) {
	for {
		l.lock.Lock()
		batch := l.queue
		l.queue = nil
		l.lock.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			if ctx.Err() != nil {
				return
			}
			l.invoke(fn)
		}
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event loop callback panic recovered", "panic", r)
		}
	}()
	fn()
}

const (
	timerPending int32 = iota
	timerFired
	timerStopped
)

type loopTimer struct {
	timer *time.Timer
	fn    func()
	state atomic.Int32
}

func (t *loopTimer) fire() {
	if t.state.CompareAndSwap(timerPending, timerFired) {
		t.fn()
	}
}

func (t *loopTimer) Stop() bool {
	if !t.state.CompareAndSwap(timerPending, timerStopped) {
		return false
	}
	t.timer.Stop()
	return true
}
