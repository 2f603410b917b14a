package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/givebus/givebus/pkg/givebus/event"
)

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	// Stream is the log stream name events are appended to.
	// Default: "events"
	Stream string

	// MaxBatch triggers an immediate flush at this queue size. Default: 25
	MaxBatch int

	// FlushInterval is the periodic flush cadence. Default: 1s
	FlushInterval time.Duration

	// MaxConnectAttempts bounds reconnect tries before the publisher
	// gives up and marks itself disconnected. Default: 5
	MaxConnectAttempts int

	// InitialBackoff is the first reconnect wait. Default: 200ms
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential reconnect wait. Default: 10s
	MaxBackoff time.Duration

	// Logger receives connect and flush logs. Default: slog.Default()
	Logger *slog.Logger
}

// DefaultPublisherConfig provides reasonable defaults.
var DefaultPublisherConfig = PublisherConfig{
	Stream:             "events",
	MaxBatch:           25,
	FlushInterval:      time.Second,
	MaxConnectAttempts: 5,
	InitialBackoff:     200 * time.Millisecond,
	MaxBackoff:         10 * time.Second,
}

// Publisher pushes events onto a durable append log for out-of-process
// consumers. It is connection-oriented: Connect must succeed before
// events flow; a failed flush re-queues the batch at the front so order
// is preserved for the next attempt.
type Publisher struct {
	log Log
	cfg PublisherConfig

	connected atomic.Bool

	mu    sync.Mutex
	queue []*event.Event

	stopOnce sync.Once
	doneOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPublisher creates a publisher over the given log.
// Call Connect before publishing and Close when done.
func NewPublisher(log Log, cfg PublisherConfig) *Publisher {
	if cfg.Stream == "" {
		cfg.Stream = DefaultPublisherConfig.Stream
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultPublisherConfig.MaxBatch
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultPublisherConfig.FlushInterval
	}
	if cfg.MaxConnectAttempts <= 0 {
		cfg.MaxConnectAttempts = DefaultPublisherConfig.MaxConnectAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultPublisherConfig.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultPublisherConfig.MaxBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Publisher{
		log:    log,
		cfg:    cfg,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		sleep:  sleepContext,
	}
}

// Connect pings the log, retrying with exponential backoff up to the
// bounded attempt count. After exhausting attempts the publisher marks
// itself disconnected and returns ErrReconnectExhausted; callers must
// call Connect again explicitly.
func (p *Publisher) Connect(ctx context.Context) error {
	backoff := p.cfg.InitialBackoff

	for attempt := 1; attempt <= p.cfg.MaxConnectAttempts; attempt++ {
		err := p.log.Ping(ctx)
		if err == nil {
			if p.connected.CompareAndSwap(false, true) {
				go p.run()
			}
			p.cfg.Logger.Info("stream publisher connected",
				slog.String("stream", p.cfg.Stream),
				slog.Int("attempt", attempt),
			)
			return nil
		}

		p.cfg.Logger.Warn("stream connect attempt failed",
			slog.String("stream", p.cfg.Stream),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", p.cfg.MaxConnectAttempts),
			slog.String("error", err.Error()),
		)

		if attempt == p.cfg.MaxConnectAttempts {
			break
		}
		if err := p.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > p.cfg.MaxBackoff {
			backoff = p.cfg.MaxBackoff
		}
	}

	p.connected.Store(false)
	return ErrReconnectExhausted
}

// IsConnected reports whether the publisher considers itself connected.
func (p *Publisher) IsConnected() bool {
	return p.connected.Load()
}

// Publish queues an event for the next flush.
func (p *Publisher) Publish(evt *event.Event) error {
	if !p.connected.Load() {
		return ErrNotConnected
	}

	p.mu.Lock()
	p.queue = append(p.queue, evt)
	full := len(p.queue) >= p.cfg.MaxBatch
	p.mu.Unlock()

	if full {
		return p.Flush(context.Background())
	}
	return nil
}

// Flush appends all queued events to the log. On failure the unwritten
// remainder (including the failed entry) is put back at the front.
func (p *Publisher) Flush(ctx context.Context) error {
	p.mu.Lock()
	if len(p.queue) == 0 {
		p.mu.Unlock()
		return nil
	}
	batch := p.queue
	p.queue = nil
	p.mu.Unlock()

	for i, evt := range batch {
		fields, err := Flatten(evt)
		if err != nil {
			// Unencodable event: log and drop it, keep the rest flowing.
			p.cfg.Logger.Error("dropping unencodable stream event",
				slog.String("event_id", evt.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		if _, err := p.log.Publish(ctx, p.cfg.Stream, fields); err != nil {
			p.mu.Lock()
			p.queue = append(batch[i:], p.queue...)
			p.mu.Unlock()

			p.cfg.Logger.Error("stream flush failed",
				slog.String("stream", p.cfg.Stream),
				slog.Int("requeued", len(batch)-i),
				slog.String("error", err.Error()),
			)
			return err
		}
	}
	return nil
}

// Pending returns the number of queued, unflushed events.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close stops the flush loop after a final flush attempt.
// A closed publisher cannot be reconnected.
func (p *Publisher) Close() error {
	p.stopOnce.Do(func() { close(p.stopCh) })
	if p.connected.Load() {
		<-p.doneCh
	}
	p.connected.Store(false)
	return p.Flush(context.Background())
}

func (p *Publisher) run() {
	defer p.doneOnce.Do(func() { close(p.doneCh) })

	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = p.Flush(context.Background())
		case <-p.stopCh:
			return
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
