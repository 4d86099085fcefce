// Package bus carries inspection events within one execution context and
// relays them, best effort, to the other one.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Side identifies which execution context a Bus lives in.
type Side string

const (
	SidePage  Side = "page"
	SidePanel Side = "panel"
)

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SidePage {
		return SidePanel
	}
	return SidePage
}

// Channel sends an event toward the other context. Implementations may fail
// (tab navigated, socket closed); the bus logs and drops such failures.
type Channel interface {
	Send(ctx context.Context, ev Event) error
}

// ChannelFunc adapts a function to Channel.
type ChannelFunc func(ctx context.Context, ev Event) error

func (f ChannelFunc) Send(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Handler observes events. Handlers run synchronously and must not block.
type Handler func(Event)

// DefaultDedupeTTL bounds how long event ids are remembered.
const DefaultDedupeTTL = 2 * time.Minute

type subscriber struct {
	id uint64
	h  Handler
}

// Bus is one context's end of the cross-context event bus.
type Bus struct {
	side   Side
	tabID  string
	logger *slog.Logger
	now    func() time.Time

	chMu    sync.RWMutex
	channel Channel

	mu      sync.RWMutex
	subs    []subscriber
	nextSub uint64

	tsMu   sync.Mutex
	lastTS int64

	seen *DedupeCache

	relayed     atomic.Int64
	relayFailed atomic.Int64
	duplicates  atomic.Int64
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for relay failures.
func WithLogger(l *slog.Logger) Option { return func(b *Bus) { b.logger = l } }

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option { return func(b *Bus) { b.now = now } }

// WithTabID stamps events that carry no tab id.
func WithTabID(id string) Option { return func(b *Bus) { b.tabID = id } }

// New creates a bus for side. channel may be nil when there is no other
// context yet; see SetChannel.
func New(side Side, channel Channel, opts ...Option) *Bus {
	b := &Bus{
		side:    side,
		channel: channel,
		logger:  slog.Default(),
		now:     time.Now,
		seen:    NewDedupeCache(DefaultDedupeTTL, 4096),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Side returns the context this bus was created for.
func (b *Bus) Side() Side { return b.side }

// SetChannel replaces the relay channel.
func (b *Bus) SetChannel(ch Channel) {
	b.chMu.Lock()
	b.channel = ch
	b.chMu.Unlock()
}

// Subscribe registers h. The returned func unsubscribes and is idempotent.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	b.nextSub++
	id := b.nextSub
	b.subs = append(b.subs, subscriber{id: id, h: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish stamps ev, delivers it to every local subscriber in subscription
// order, then relays it once toward the other context. Relay errors are
// logged and dropped. The stamped event is returned.
func (b *Bus) Publish(ctx context.Context, ev Event) Event {
	ev = b.stamp(ev)
	b.seen.Mark(ev.ID)
	b.deliver(ev)
	b.relay(ctx, ev)
	return ev
}

// Receive delivers an event that arrived from the other context. It is never
// relayed back, and an id this bus has already seen (including ids it
// published itself) is dropped.
func (b *Bus) Receive(ev Event) bool {
	if ev.Data == nil {
		return false
	}
	if b.seen.IsDuplicate(ev.ID) {
		b.duplicates.Add(1)
		b.logger.Debug("bus.duplicate_dropped", "side", b.side, "type", ev.Type(), "id", ev.ID)
		return false
	}
	if ev.Timestamp <= 0 {
		ev.Timestamp = b.nextTimestamp()
	}
	b.deliver(ev)
	return true
}

func (b *Bus) stamp(ev Event) Event {
	if ev.Timestamp <= 0 {
		ev.Timestamp = b.nextTimestamp()
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.TabID == "" {
		ev.TabID = b.tabID
	}
	return ev
}

// nextTimestamp never goes backwards, even if the wall clock does.
func (b *Bus) nextTimestamp() int64 {
	ts := b.now().UnixMilli()
	if ts < 0 {
		ts = 0
	}
	b.tsMu.Lock()
	defer b.tsMu.Unlock()
	if ts < b.lastTS {
		ts = b.lastTS
	}
	b.lastTS = ts
	return ts
}

func (b *Bus) deliver(ev Event) {
	b.mu.RLock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		b.invoke(s.h, ev)
	}
}

func (b *Bus) invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus.handler_panic", "side", b.side, "type", ev.Type(), "panic", r)
		}
	}()
	h(ev)
}

func (b *Bus) relay(ctx context.Context, ev Event) {
	b.chMu.RLock()
	ch := b.channel
	b.chMu.RUnlock()
	if ch == nil {
		return
	}
	if err := ch.Send(ctx, ev); err != nil {
		b.relayFailed.Add(1)
		b.logger.Warn("bus.relay_failed", "from", b.side, "to", b.side.Other(), "type", ev.Type(), "error", err)
		return
	}
	b.relayed.Add(1)
}

// Stats is a snapshot of relay counters.
type Stats struct {
	Side        Side  `json:"side"`
	Subscribers int   `json:"subscribers"`
	Relayed     int64 `json:"relayed"`
	RelayFailed int64 `json:"relayFailed"`
	Duplicates  int64 `json:"duplicates"`
}

func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{
		Side:        b.side,
		Subscribers: n,
		Relayed:     b.relayed.Load(),
		RelayFailed: b.relayFailed.Load(),
		Duplicates:  b.duplicates.Load(),
	}
}
