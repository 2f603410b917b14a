// Package breaker provides a three-state circuit breaker for guarding
// unreliable remote calls. One Breaker instance guards one call site.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a call is rejected because the circuit
// is open. It signals "not attempted", not "attempted and failed" -
// consumers deciding whether to alert should distinguish the two.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the current position of the breaker state machine.
type State int

const (
	// StateClosed allows calls through.
	StateClosed State = iota
	// StateOpen rejects calls until the reset timeout elapses.
	StateOpen
	// StateHalfOpen allows trial calls after the reset timeout.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures a Breaker.
type Config struct {
	// Threshold is the number of consecutive failures that opens the
	// circuit. Default: 5
	Threshold int

	// ResetTimeout is how long the circuit stays open before the next
	// call is let through as a half-open trial. Default: 30s
	ResetTimeout time.Duration

	// HalfOpenAttempts is the number of consecutive trial successes
	// required to close the circuit again. Default: 2
	HalfOpenAttempts int

	// Logger receives state-transition logs. Default: slog.Default()
	Logger *slog.Logger

	// OnStateChange is called after each transition (for metrics).
	OnStateChange func(from, to State)
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	Threshold:        5,
	ResetTimeout:     30 * time.Second,
	HalfOpenAttempts: 2,
}

// Breaker wraps an unreliable call with closed/open/half-open gating.
// State is process-local and owned by this instance; all access is
// serialized through its mutex.
type Breaker struct {
	name string
	cfg  Config

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time

	// now is swappable for tests.
	now func() time.Time
}

// New creates a breaker guarding the named call site.
func New(name string, cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig.Threshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultConfig.ResetTimeout
	}
	if cfg.HalfOpenAttempts <= 0 {
		cfg.HalfOpenAttempts = DefaultConfig.HalfOpenAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Breaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn through the breaker. While the circuit is open and the
// reset timeout has not elapsed, fn is not invoked and ErrCircuitOpen is
// returned. Once the timeout elapses the state moves to half-open before
// the trial call executes.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// allow decides whether a call may proceed, transitioning open -> half-open
// when the reset timeout has elapsed.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.lastFailure) < b.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
	}
	return nil
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.HalfOpenAttempts {
			b.transition(StateClosed)
		}
	case StateOpen:
		// Success observed while open means a trial slipped past a
		// concurrent transition; treat it as a half-open success.
		b.transition(StateHalfOpen)
		b.successes = 1
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.Threshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
	case StateOpen:
	}
}

// transition changes state and resets counters. Caller holds the mutex.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.failures = 0
	b.successes = 0

	b.cfg.Logger.Info("circuit breaker state transition",
		slog.String("breaker", b.name),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
