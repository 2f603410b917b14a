// Package bus provides the in-process event dispatcher for givebus.
//
// The bus registers handlers per event-type pattern, applies middleware
// around publishing, optionally persists through an injected store, and
// supports replay from that store. Dispatch to local handlers is
// synchronous and in registration order; a failing handler never stops
// dispatch to the others.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/givebus/givebus/pkg/givebus/event"
	"github.com/givebus/givebus/pkg/givebus/store"
)

// Errors returned by the bus.
var (
	// ErrNotConnected is returned when publishing on a disconnected bus.
	ErrNotConnected = errors.New("event bus is not connected")

	// ErrNoStore is returned by Replay when no store is configured.
	ErrNoStore = errors.New("event bus has no store")
)

// Handler processes one event. Returning an error marks the event as
// failed for this handler; other handlers still run.
type Handler func(ctx context.Context, evt *event.Event) error

// Config configures a Bus.
type Config struct {
	// Store, when set, persists every published event before local
	// dispatch. Persistence failure fails the publish.
	Store store.Store

	// Middleware runs around every publish, in order.
	Middleware []Middleware

	// Logger receives dispatch logs. Default: slog.Default()
	Logger *slog.Logger
}

// Bus is the in-process dispatcher. Construct one per application and
// inject it; there is no package-level instance.
type Bus struct {
	cfg Config

	mu     sync.RWMutex
	subs   []*subscription
	nextID atomic.Int64

	connected atomic.Bool
}

type subscription struct {
	id      int64
	pattern string
	handler Handler
}

// New creates a bus. Call Connect before publishing.
func New(cfg Config) *Bus {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bus{cfg: cfg}
}

// Connect makes the bus accept publishes.
func (b *Bus) Connect(ctx context.Context) error {
	_ = ctx
	b.connected.Store(true)
	return nil
}

// Disconnect stops the bus from accepting publishes. Subscriptions are
// kept; Connect resumes delivery.
func (b *Bus) Disconnect() {
	b.connected.Store(false)
}

// IsConnected reports whether the bus accepts publishes.
func (b *Bus) IsConnected() bool {
	return b.connected.Load()
}

// Subscribe registers a handler for an event-type pattern (exact,
// "campaign.*" or "*"). It returns an unsubscribe closure. Handlers for
// one event run in registration order.
func (b *Bus) Subscribe(pattern string, handler Handler) func() {
	sub := &subscription{
		id:      b.nextID.Add(1),
		pattern: pattern,
		handler: handler,
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == sub.id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// UnsubscribeAll removes every handler, optionally only those for an
// exact pattern. An empty pattern removes everything.
func (b *Bus) UnsubscribeAll(pattern string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if pattern == "" {
		b.subs = nil
		return
	}
	kept := b.subs[:0]
	for _, s := range b.subs {
		if s.pattern != pattern {
			kept = append(kept, s)
		}
	}
	b.subs = kept
}

// SubscriberCount returns the number of handlers matching an event type.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, s := range b.subs {
		if event.MatchType(s.pattern, eventType) {
			n++
		}
	}
	return n
}

// Publish runs the before-publish middleware chain (which may reject the
// event), persists to the configured store, dispatches to every matching
// handler, then runs the after-publish chain. Handler errors are surfaced
// through the on-error chain and joined into the returned error; they do
// not stop dispatch to other handlers. Persistence failure fails the
// publish outright.
func (b *Bus) Publish(ctx context.Context, evt *event.Event) error {
	return b.publish(ctx, evt, true)
}

// PublishBatch applies the publish pipeline per event but persists the
// whole batch as one write.
func (b *Bus) PublishBatch(ctx context.Context, events []*event.Event) error {
	if !b.connected.Load() {
		return ErrNotConnected
	}

	accepted := make([]*event.Event, 0, len(events))
	var errs []error
	for _, evt := range events {
		if err := b.before(ctx, evt); err != nil {
			errs = append(errs, err)
			continue
		}
		accepted = append(accepted, evt)
	}

	if b.cfg.Store != nil && len(accepted) > 0 {
		if err := b.cfg.Store.SaveBatch(ctx, accepted); err != nil {
			return errors.Join(append(errs, err)...)
		}
	}

	for _, evt := range accepted {
		if err := b.dispatch(ctx, evt); err != nil {
			errs = append(errs, err)
		}
		b.after(ctx, evt)
	}
	return errors.Join(errs...)
}

// Dispatch delivers an event to matching local handlers without running
// the before-publish chain or persisting. Used for replay and for events
// that are already durable (externally-originated rebroadcast).
func (b *Bus) Dispatch(ctx context.Context, evt *event.Event) error {
	return b.dispatch(ctx, evt)
}

// Replay re-reads events from the store from a given point and
// re-dispatches them to current local handlers only. Replayed events are
// not re-persisted or forwarded anywhere. A zero time replays everything.
func (b *Bus) Replay(ctx context.Context, from time.Time) (int, error) {
	if b.cfg.Store == nil {
		return 0, ErrNoStore
	}

	events, err := b.cfg.Store.Events(ctx, from)
	if err != nil {
		return 0, err
	}

	for _, evt := range events {
		if err := b.dispatch(ctx, evt); err != nil {
			b.cfg.Logger.Warn("replay handler failure",
				slog.String("event_id", evt.ID),
				slog.String("event_type", evt.Type),
				slog.String("error", err.Error()),
			)
		}
	}
	return len(events), nil
}

func (b *Bus) publish(ctx context.Context, evt *event.Event, persist bool) error {
	if !b.connected.Load() {
		return ErrNotConnected
	}

	if err := b.before(ctx, evt); err != nil {
		return err
	}

	if persist && b.cfg.Store != nil {
		if err := b.cfg.Store.Save(ctx, evt); err != nil {
			return err
		}
	}

	err := b.dispatch(ctx, evt)
	b.after(ctx, evt)
	return err
}

// dispatch runs every matching handler in registration order, surfacing
// failures through the on-error chain and the joined return value.
func (b *Bus) dispatch(ctx context.Context, evt *event.Event) error {
	b.mu.RLock()
	matching := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if event.MatchType(s.pattern, evt.Type) {
			matching = append(matching, s)
		}
	}
	b.mu.RUnlock()

	var errs []error
	for _, s := range matching {
		if err := b.callHandler(ctx, s, evt); err != nil {
			errs = append(errs, err)
			b.onError(ctx, evt, err)
		}
	}
	return errors.Join(errs...)
}

// callHandler invokes one handler, converting panics into errors so one
// bad handler cannot take down the publish path.
func (b *Bus) callHandler(ctx context.Context, s *subscription, evt *event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &event.Error{
				Event:   evt,
				Message: "handler panic",
				Err:     errors.New(panicString(r)),
			}
		}
	}()
	return s.handler(ctx, evt)
}

func (b *Bus) before(ctx context.Context, evt *event.Event) error {
	for _, m := range b.cfg.Middleware {
		if m.BeforePublish == nil {
			continue
		}
		if err := m.BeforePublish(ctx, evt); err != nil {
			b.onError(ctx, evt, err)
			return err
		}
	}
	return nil
}

func (b *Bus) after(ctx context.Context, evt *event.Event) {
	for _, m := range b.cfg.Middleware {
		if m.AfterPublish != nil {
			m.AfterPublish(ctx, evt)
		}
	}
}

func (b *Bus) onError(ctx context.Context, evt *event.Event, err error) {
	for _, m := range b.cfg.Middleware {
		if m.OnError != nil {
			m.OnError(ctx, evt, err)
		}
	}
}

func panicString(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	if s, ok := r.(string); ok {
		return s
	}
	return "unknown panic"
}
