package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Loop is the real-time Scheduler: one goroutine draining an unbounded task
// queue, with wall-clock timers and a frame timer that posts back onto it.
type Loop struct {
	name string

	mu         sync.Mutex
	queue      []func()
	frames     map[uint64]func()
	nextFrame  uint64
	frameTimer *time.Timer
	stopped    bool

	wake     chan struct{}
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	processed atomic.Int64
}

// NewLoop starts a loop goroutine. Stop must be called to release it.
func NewLoop(name string) *Loop {
	l := &Loop{
		name:   name,
		frames: make(map[uint64]func()),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.quit:
			return
		case <-l.wake:
		}
		for {
			task := l.pop()
			if task == nil {
				break
			}
			l.exec(task)
		}
	}
}

func (l *Loop) pop() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 || l.stopped {
		return nil
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task
}

func (l *Loop) exec(task func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduler.task_panic", "loop", l.name, "panic", r)
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	task()
	l.processed.Add(1)
	return nil
}

// Post queues fn. Work posted after Stop is dropped.
func (l *Loop) Post(fn func()) {
	if err := l.Submit(fn); err != nil {
		slog.Debug("scheduler.post_dropped", "loop", l.name, "error", err)
	}
}

// Submit is Post with an error for a stopped loop.
func (l *Loop) Submit(fn func()) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrLoopStopped
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Do runs fn on the loop and waits for it to finish. Must not be called from
// the loop goroutine.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	result := make(chan error, 1)
	if err := l.Submit(func() {
		result <- l.exec(fn)
	}); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) AfterFunc(d time.Duration, fn func()) Cancel {
	var cancelled atomic.Bool
	t := time.AfterFunc(d, func() {
		l.Post(func() {
			if !cancelled.Load() {
				fn()
			}
		})
	})
	return func() {
		cancelled.Store(true)
		t.Stop()
	}
}

func (l *Loop) RequestFrame(fn func()) Cancel {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return func() {}
	}
	l.nextFrame++
	id := l.nextFrame
	l.frames[id] = fn
	if l.frameTimer == nil {
		l.frameTimer = time.AfterFunc(FrameInterval, func() { l.Post(l.runFrame) })
	}
	return func() {
		l.mu.Lock()
		delete(l.frames, id)
		l.mu.Unlock()
	}
}

func (l *Loop) runFrame() {
	l.mu.Lock()
	pending := l.frames
	l.frames = make(map[uint64]func())
	l.frameTimer = nil
	l.mu.Unlock()

	ids := make([]uint64, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		_ = l.exec(pending[id])
	}
}

func (l *Loop) Now() time.Time { return time.Now() }

// Processed returns the number of tasks that completed without panicking.
func (l *Loop) Processed() int64 { return l.processed.Load() }

// Stop drops queued work, cancels the frame timer and waits for the loop
// goroutine to exit. Safe to call more than once.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.frames = make(map[uint64]func())
		if l.frameTimer != nil {
			l.frameTimer.Stop()
			l.frameTimer = nil
		}
		l.mu.Unlock()
		close(l.quit)
		<-l.done
		slog.Debug("scheduler.loop_stopped", "loop", l.name)
	})
}
