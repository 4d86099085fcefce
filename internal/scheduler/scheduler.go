// Package scheduler provides the single "UI thread" every page-side component
// runs on. Posted tasks, timers and frame callbacks are serialized on one
// goroutine, so components never lock around DOM state.
package scheduler

import "time"

// FrameInterval is the cadence of RequestFrame callbacks (about 60 Hz).
const FrameInterval = 16 * time.Millisecond

// Cancel stops a pending timer or frame callback. Calling it after the callback
// ran, or more than once, is a no-op.
type Cancel func()

// Scheduler is the cooperative event loop shared by a session's components.
type Scheduler interface {
	// Post queues fn to run on the loop after currently queued work.
	Post(fn func())
	// AfterFunc runs fn on the loop once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Cancel
	// RequestFrame runs fn before the next frame is painted. Callbacks requested
	// during the same frame run together, in request order.
	RequestFrame(fn func()) Cancel
	// Now is the loop's clock.
	Now() time.Time
}
