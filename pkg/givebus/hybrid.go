// Package givebus composes the event backbone for the donation
// platform: a durable event store, an in-process dispatcher, a
// distributed stream publisher and a remote processing trigger, wired
// together with loop prevention for events that arrive back through the
// shared store's change feed.
//
// Publish order is strict: persist, then local dispatch, then
// best-effort stream publish, then best-effort remote trigger. Stream
// and trigger failures are logged and swallowed because the event is
// already durable.
package givebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/givebus/givebus/pkg/givebus/breaker"
	"github.com/givebus/givebus/pkg/givebus/bus"
	"github.com/givebus/givebus/pkg/givebus/event"
	"github.com/givebus/givebus/pkg/givebus/observability"
	"github.com/givebus/givebus/pkg/givebus/store"
	"github.com/givebus/givebus/pkg/givebus/stream"
)

// MetadataClientID is the metadata key stamping each outgoing event
// with the authoring process, used to drop our own events when they
// come back through the change feed.
const MetadataClientID = "clientId"

// Config configures a HybridBus. Construct one per process and inject
// it; there is no package-level instance.
type Config struct {
	// ClientID identifies this process in event metadata. Required.
	ClientID string

	// Store persists every published event. Required.
	Store store.Store

	// Local is the in-process dispatcher. When nil, one is constructed
	// with logging middleware. A caller-supplied bus must not carry its
	// own store; the hybrid bus owns persistence.
	Local *bus.Bus

	// Registry, when set, validates events before they are persisted.
	Registry *event.Registry

	// Publisher, when set, forwards persisted events to the
	// distributed stream. Best effort.
	Publisher *stream.Publisher

	// Trigger, when set, invokes remote fan-out after publish. Best
	// effort, guarded by a circuit breaker.
	Trigger RemoteTrigger

	// TriggerFunction names the server-side fan-out function.
	// Default: "process-event"
	TriggerFunction string

	// BreakerConfig configures the trigger circuit breaker.
	BreakerConfig breaker.Config

	// Metrics records pipeline metrics. Default: observability.NoopMetrics{}
	Metrics observability.MetricsRecorder

	// Spans traces publishes. Default: observability.NoopSpanManager{}
	Spans observability.SpanManager

	// Logger receives structured logs. Default: slog.Default()
	Logger *slog.Logger
}

// HybridBus is the durable, distributed composition of the event bus.
type HybridBus struct {
	clientID string
	store    store.Store
	local    *bus.Bus
	registry *event.Registry

	publisher *stream.Publisher
	trigger   RemoteTrigger
	function  string
	brk       *breaker.Breaker

	metrics observability.MetricsRecorder
	spans   observability.SpanManager
	logger  *slog.Logger
}

// New creates a hybrid bus. Call Connect before publishing.
func New(cfg Config) (*HybridBus, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("givebus: client id is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("givebus: store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	if cfg.Spans == nil {
		cfg.Spans = observability.NoopSpanManager{}
	}
	if cfg.TriggerFunction == "" {
		cfg.TriggerFunction = "process-event"
	}
	if cfg.Local == nil {
		cfg.Local = bus.New(bus.Config{
			Middleware: []bus.Middleware{bus.LoggingMiddleware(cfg.Logger)},
			Logger:     cfg.Logger,
		})
	}

	h := &HybridBus{
		clientID:  cfg.ClientID,
		store:     cfg.Store,
		local:     cfg.Local,
		registry:  cfg.Registry,
		publisher: cfg.Publisher,
		trigger:   cfg.Trigger,
		function:  cfg.TriggerFunction,
		metrics:   cfg.Metrics,
		spans:     cfg.Spans,
		logger:    cfg.Logger,
	}
	if cfg.Trigger != nil {
		brkCfg := cfg.BreakerConfig
		if brkCfg.Logger == nil {
			brkCfg.Logger = cfg.Logger
		}
		userCallback := brkCfg.OnStateChange
		brkCfg.OnStateChange = func(from, to breaker.State) {
			h.metrics.RecordBreakerTransition(context.Background(), "remote-trigger", from.String(), to.String())
			if userCallback != nil {
				userCallback(from, to)
			}
		}
		h.brk = breaker.New("remote-trigger", brkCfg)
	}
	return h, nil
}

// Connect brings up the local dispatcher and, when configured, the
// stream publisher. A stream that cannot connect is logged and left
// disconnected; event flow does not depend on it.
func (h *HybridBus) Connect(ctx context.Context) error {
	if err := h.local.Connect(ctx); err != nil {
		return err
	}
	if h.publisher != nil {
		if err := h.publisher.Connect(ctx); err != nil {
			observability.LogForwardSkipped(h.logger, "", "stream", err.Error())
		}
	}
	return nil
}

// Disconnect stops accepting publishes and flushes the stream publisher.
func (h *HybridBus) Disconnect(ctx context.Context) error {
	h.local.Disconnect()
	if h.publisher != nil {
		return h.publisher.Close()
	}
	return nil
}

// IsConnected reports whether the bus accepts publishes.
func (h *HybridBus) IsConnected() bool {
	return h.local.IsConnected()
}

// Subscribe registers a local handler. See bus.Bus.Subscribe.
func (h *HybridBus) Subscribe(pattern string, handler bus.Handler) func() {
	return h.local.Subscribe(pattern, handler)
}

// Local exposes the in-process dispatcher for processor registration.
func (h *HybridBus) Local() *bus.Bus { return h.local }

// Publish validates, persists, dispatches locally, then forwards the
// event to the stream and the remote trigger. Persistence failure fails
// the publish; forward failures are logged and swallowed. Handler
// errors are returned after forwarding completes; the event itself is
// durable regardless.
func (h *HybridBus) Publish(ctx context.Context, evt *event.Event) error {
	if !h.local.IsConnected() {
		return bus.ErrNotConnected
	}

	done := observability.TimedOperation()
	ctx, span := h.spans.StartPublishSpan(ctx, evt.Type, evt.ID)

	err := h.publishOne(ctx, evt)

	h.spans.EndSpanWithError(span, err)
	h.metrics.RecordPublish(ctx, evt.Type, time.Duration(done())*time.Millisecond, err)
	return err
}

func (h *HybridBus) publishOne(ctx context.Context, evt *event.Event) error {
	if h.registry != nil {
		if err := h.registry.Validate(evt); err != nil {
			return err
		}
	}
	h.stamp(evt)

	if err := h.store.Save(ctx, evt); err != nil {
		observability.LogPublishError(h.logger, evt.ID, evt.Type, err)
		return fmt.Errorf("persist event %s: %w", evt.ID, err)
	}

	dispatchErr := h.local.Dispatch(ctx, evt)
	if dispatchErr != nil {
		observability.LogHandlerError(h.logger, evt.ID, "local", dispatchErr)
	}

	h.forward(ctx, []*event.Event{evt})
	return dispatchErr
}

// PublishBatch persists the batch in one write, then dispatches and
// forwards each event. A validation failure anywhere rejects the whole
// batch before anything is persisted.
func (h *HybridBus) PublishBatch(ctx context.Context, events []*event.Event) error {
	if !h.local.IsConnected() {
		return bus.ErrNotConnected
	}

	if h.registry != nil {
		for _, evt := range events {
			if err := h.registry.Validate(evt); err != nil {
				return err
			}
		}
	}
	for _, evt := range events {
		h.stamp(evt)
	}

	if err := h.store.SaveBatch(ctx, events); err != nil {
		return fmt.Errorf("persist batch: %w", err)
	}

	var errs []error
	for _, evt := range events {
		if err := h.local.Dispatch(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	h.forward(ctx, events)
	return errors.Join(errs...)
}

// Replay re-reads stored events from a point in time and re-dispatches
// them to local handlers only. Nothing is re-persisted or forwarded.
func (h *HybridBus) Replay(ctx context.Context, from time.Time) (int, error) {
	events, err := h.store.Events(ctx, from)
	if err != nil {
		return 0, err
	}
	for _, evt := range events {
		if err := h.local.Dispatch(ctx, evt); err != nil {
			observability.LogHandlerError(h.logger, evt.ID, "replay", err)
		}
	}
	return len(events), nil
}

// ListenChangeFeed subscribes to externally-originated events from the
// shared store. Events this process authored are discarded by client id
// so they are never dispatched twice. Returns the cancel closure.
func (h *HybridBus) ListenChangeFeed(ctx context.Context, feed ChangeFeed) (func(), error) {
	return feed.Subscribe(ctx, func(evt *event.Event) {
		if evt.MetadataValue(MetadataClientID) == h.clientID {
			h.logger.Debug("dropping own event from change feed",
				slog.String("event_id", evt.ID),
				slog.String("event_type", evt.Type),
			)
			return
		}
		if err := h.local.Dispatch(ctx, evt); err != nil {
			observability.LogHandlerError(h.logger, evt.ID, "change-feed", err)
		}
	})
}

// TriggerState reports the remote-trigger breaker state, or closed when
// no trigger is configured.
func (h *HybridBus) TriggerState() breaker.State {
	if h.brk == nil {
		return breaker.StateClosed
	}
	return h.brk.State()
}

func (h *HybridBus) stamp(evt *event.Event) {
	if evt.Metadata == nil {
		evt.Metadata = make(map[string]string)
	}
	evt.Metadata[MetadataClientID] = h.clientID
}

// forward pushes events to the stream and the remote trigger. Both
// paths are best effort: the events are already durable, so failures
// are logged and swallowed.
func (h *HybridBus) forward(ctx context.Context, events []*event.Event) {
	if h.publisher != nil {
		for _, evt := range events {
			if err := h.publisher.Publish(evt); err != nil {
				observability.LogForwardSkipped(h.logger, evt.ID, "stream", err.Error())
			}
		}
	}

	if h.trigger == nil {
		return
	}
	err := h.brk.Execute(ctx, func(ctx context.Context) error {
		return h.trigger.Invoke(ctx, h.function, events)
	})
	switch {
	case errors.Is(err, breaker.ErrCircuitOpen):
		// Not attempted; the breaker is cooling down.
		for _, evt := range events {
			observability.LogForwardSkipped(h.logger, evt.ID, "remote-trigger", "circuit open")
		}
	case err != nil:
		for _, evt := range events {
			observability.LogForwardSkipped(h.logger, evt.ID, "remote-trigger", err.Error())
		}
	}
}
