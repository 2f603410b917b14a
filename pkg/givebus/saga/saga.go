// Package saga coordinates multi-step business processes with
// compensating actions. Steps run strictly in declared order; any
// failure triggers best-effort compensation of the steps that already
// completed, walking backward.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a saga instance.
type Status string

const (
	StatusPending      Status = "pending"
	StatusInProgress   Status = "in_progress"
	StatusCompleted    Status = "completed"
	StatusCompensating Status = "compensating"
	StatusFailed       Status = "failed"
)

// StepStatus is the state of one step within an instance.
type StepStatus string

const (
	StepPending     StepStatus = "pending"
	StepCompleted   StepStatus = "completed"
	StepFailed      StepStatus = "failed"
	StepCompensated StepStatus = "compensated"
)

// ErrInstanceNotFound is returned for unknown saga IDs.
var ErrInstanceNotFound = errors.New("saga instance not found")

// Step is one unit of work in a saga definition. Compensate is optional;
// steps without one are skipped during rollback.
type Step struct {
	Name       string
	Execute    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Definition describes a saga type: an ordered list of steps.
type Definition struct {
	Type  string
	Steps []Step
}

// StepRecord is the persisted outcome of one step.
type StepRecord struct {
	Name       string
	Status     StepStatus
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Instance is the persisted state of one saga run.
type Instance struct {
	ID          string
	Type        string
	AggregateID string
	Status      Status
	CurrentStep int
	Steps       []StepRecord
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Store persists saga instances with their step records.
type Store interface {
	Save(ctx context.Context, inst *Instance) error
	Get(ctx context.Context, id string) (*Instance, error)
	List(ctx context.Context, sagaType string) ([]*Instance, error)
	Close() error
}

// Config configures an Orchestrator.
type Config struct {
	// Store persists instances. Required.
	Store Store

	// Logger receives step and compensation logs. Default: slog.Default()
	Logger *slog.Logger
}

// Orchestrator runs saga definitions and records their progress.
type Orchestrator struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewOrchestrator creates an orchestrator over a saga store.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("saga: store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{store: cfg.Store, logger: cfg.Logger, now: time.Now}, nil
}

// Run executes a definition's steps in order, persisting state before
// and after each step. On a step failure it compensates completed steps
// in reverse order and the instance ends failed; compensation never
// turns a failed saga into a success. The failed instance is returned
// alongside the step error.
func (o *Orchestrator) Run(ctx context.Context, def Definition, aggregateID string) (*Instance, error) {
	inst := &Instance{
		ID:          uuid.NewString(),
		Type:        def.Type,
		AggregateID: aggregateID,
		Status:      StatusPending,
		StartedAt:   o.now().UTC(),
	}
	if err := o.store.Save(ctx, inst); err != nil {
		return nil, fmt.Errorf("persist saga start: %w", err)
	}

	inst.Status = StatusInProgress
	if err := o.store.Save(ctx, inst); err != nil {
		return inst, fmt.Errorf("persist saga start: %w", err)
	}

	for i, step := range def.Steps {
		inst.CurrentStep = i
		inst.Steps = append(inst.Steps, StepRecord{
			Name:      step.Name,
			Status:    StepPending,
			StartedAt: o.now().UTC(),
		})
		if err := o.store.Save(ctx, inst); err != nil {
			return inst, fmt.Errorf("persist step start: %w", err)
		}

		err := step.Execute(ctx)
		rec := &inst.Steps[i]
		rec.FinishedAt = o.now().UTC()
		if err != nil {
			rec.Status = StepFailed
			rec.Error = err.Error()
			o.logger.Error("saga step failed",
				slog.String("saga_id", inst.ID),
				slog.String("saga_type", inst.Type),
				slog.String("step", step.Name),
				slog.String("error", err.Error()),
			)
			o.compensate(ctx, def, inst, i)
			inst.Status = StatusFailed
			inst.FinishedAt = o.now().UTC()
			if saveErr := o.store.Save(ctx, inst); saveErr != nil {
				return inst, errors.Join(err, saveErr)
			}
			return inst, fmt.Errorf("saga %s step %q: %w", inst.Type, step.Name, err)
		}

		rec.Status = StepCompleted
		if err := o.store.Save(ctx, inst); err != nil {
			return inst, fmt.Errorf("persist step completion: %w", err)
		}
	}

	inst.Status = StatusCompleted
	inst.FinishedAt = o.now().UTC()
	if err := o.store.Save(ctx, inst); err != nil {
		return inst, fmt.Errorf("persist saga completion: %w", err)
	}
	o.logger.Info("saga completed",
		slog.String("saga_id", inst.ID),
		slog.String("saga_type", inst.Type),
		slog.String("aggregate_id", inst.AggregateID),
	)
	return inst, nil
}

// compensate walks backward over steps that reached completed, invoking
// each compensating action. A compensation failure is logged and the
// walk continues; cleanup is best effort.
func (o *Orchestrator) compensate(ctx context.Context, def Definition, inst *Instance, failedIdx int) {
	inst.Status = StatusCompensating
	if err := o.store.Save(ctx, inst); err != nil {
		o.logger.Error("persist compensating status failed",
			slog.String("saga_id", inst.ID),
			slog.String("error", err.Error()),
		)
	}

	for i := failedIdx - 1; i >= 0; i-- {
		rec := &inst.Steps[i]
		if rec.Status != StepCompleted {
			continue
		}
		step := def.Steps[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			o.logger.Error("saga compensation failed",
				slog.String("saga_id", inst.ID),
				slog.String("step", step.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		rec.Status = StepCompensated
		o.logger.Info("saga step compensated",
			slog.String("saga_id", inst.ID),
			slog.String("step", step.Name),
		)
	}
}
