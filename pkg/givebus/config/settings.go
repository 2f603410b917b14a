package config

import (
	"errors"
	"time"
)

// Settings is the typed configuration for a givebus deployment.
type Settings struct {
	// ClientID identifies this process in event metadata for loop
	// prevention. Required when the change-feed listener is enabled.
	ClientID string

	Store       StoreSettings
	Stream      StreamSettings
	Breaker     BreakerSettings
	Idempotency IdempotencySettings
	Trigger     TriggerSettings
}

// StoreSettings configures the event store and its batch writer.
type StoreSettings struct {
	// Driver is "memory" or "sqlite". Default: "memory"
	Driver string

	// Path is the SQLite database path when Driver is "sqlite".
	Path string

	// MaxBatch is the batch writer's flush threshold. Default: 50
	MaxBatch int

	// FlushInterval is the batch writer's flush period. Default: 2s
	FlushInterval time.Duration
}

// StreamSettings configures the distributed stream publisher.
type StreamSettings struct {
	// Enabled turns on stream forwarding. Default: false
	Enabled bool

	// Addr is the Redis address. Default: "localhost:6379"
	Addr string

	// Stream is the stream key events are appended to. Default: "events"
	Stream string

	// MaxBatch is the publish batch size. Default: 25
	MaxBatch int

	// FlushInterval is the publish flush period. Default: 1s
	FlushInterval time.Duration

	// MaxConnectAttempts bounds reconnect retries. Default: 5
	MaxConnectAttempts int
}

// BreakerSettings configures the remote-trigger circuit breaker.
type BreakerSettings struct {
	// Threshold is consecutive failures before opening. Default: 5
	Threshold int

	// ResetTimeout is the open-state cooldown. Default: 30s
	ResetTimeout time.Duration

	// HalfOpenAttempts is consecutive successes to close. Default: 2
	HalfOpenAttempts int
}

// IdempotencySettings configures the idempotency tracker.
type IdempotencySettings struct {
	// ProcessingTTL is the claim lease. Default: 5m
	ProcessingTTL time.Duration

	// CompletedTTL is the terminal marker lifetime. Default: 24h
	CompletedTTL time.Duration

	// SweepInterval is the expiry sweep period. Default: 1m
	SweepInterval time.Duration
}

// TriggerSettings configures the remote processing trigger.
type TriggerSettings struct {
	// Enabled turns on the trigger call after publish. Default: false
	Enabled bool

	// URL is the trigger endpoint.
	URL string

	// Function is the server-side fan-out function name.
	// Default: "process-event"
	Function string

	// Timeout is the per-call HTTP timeout. Default: 10s
	Timeout time.Duration
}

// LoadSettings shapes a parsed Config into Settings with defaults
// applied.
func LoadSettings(c Config) Settings {
	store := c.Sub("store")
	stream := c.Sub("stream")
	breaker := c.Sub("breaker")
	idem := c.Sub("idempotency")
	trigger := c.Sub("trigger")

	return Settings{
		ClientID: c.String("clientId", ""),
		Store: StoreSettings{
			Driver:        store.String("driver", "memory"),
			Path:          store.String("path", ""),
			MaxBatch:      store.Int("maxBatch", 50),
			FlushInterval: store.Duration("flushInterval", 2*time.Second),
		},
		Stream: StreamSettings{
			Enabled:            stream.Bool("enabled", false),
			Addr:               stream.String("addr", "localhost:6379"),
			Stream:             stream.String("stream", "events"),
			MaxBatch:           stream.Int("maxBatch", 25),
			FlushInterval:      stream.Duration("flushInterval", time.Second),
			MaxConnectAttempts: stream.Int("maxConnectAttempts", 5),
		},
		Breaker: BreakerSettings{
			Threshold:        breaker.Int("threshold", 5),
			ResetTimeout:     breaker.Duration("resetTimeout", 30*time.Second),
			HalfOpenAttempts: breaker.Int("halfOpenAttempts", 2),
		},
		Idempotency: IdempotencySettings{
			ProcessingTTL: idem.Duration("processingTTL", 5*time.Minute),
			CompletedTTL:  idem.Duration("completedTTL", 24*time.Hour),
			SweepInterval: idem.Duration("sweepInterval", time.Minute),
		},
		Trigger: TriggerSettings{
			Enabled:  trigger.Bool("enabled", false),
			URL:      trigger.String("url", ""),
			Function: trigger.String("function", "process-event"),
			Timeout:  trigger.Duration("timeout", 10*time.Second),
		},
	}
}

// Validate checks cross-field constraints that defaults cannot fix.
func (s Settings) Validate() error {
	if s.Store.Driver != "memory" && s.Store.Driver != "sqlite" {
		return errors.New("store.driver must be memory or sqlite")
	}
	if s.Store.Driver == "sqlite" && s.Store.Path == "" {
		return errors.New("store.path is required for the sqlite driver")
	}
	if s.Trigger.Enabled && s.Trigger.URL == "" {
		return errors.New("trigger.url is required when the trigger is enabled")
	}
	if s.Breaker.Threshold < 1 {
		return errors.New("breaker.threshold must be at least 1")
	}
	return nil
}
