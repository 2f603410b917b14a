package givebus

import (
	"fmt"
	"net/http"

	"github.com/givebus/givebus/pkg/givebus/breaker"
	"github.com/givebus/givebus/pkg/givebus/config"
	"github.com/givebus/givebus/pkg/givebus/idempotency"
	"github.com/givebus/givebus/pkg/givebus/store"
	"github.com/givebus/givebus/pkg/givebus/stream"
)

// FromSettings builds a hybrid bus from typed settings: the event store
// for the configured driver, a Redis stream publisher when streaming is
// enabled, and an HTTP trigger behind the configured circuit breaker
// when the trigger is enabled. Call Connect on the result.
func FromSettings(s config.Settings) (*HybridBus, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	var st store.Store
	switch s.Store.Driver {
	case "sqlite":
		sqliteStore, err := store.NewSQLiteStore(s.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open event store: %w", err)
		}
		st = sqliteStore
	default:
		st = store.NewMemoryStore()
	}

	var publisher *stream.Publisher
	if s.Stream.Enabled {
		publisher = stream.NewPublisher(stream.NewRedisLog(s.Stream.Addr), stream.PublisherConfig{
			Stream:             s.Stream.Stream,
			MaxBatch:           s.Stream.MaxBatch,
			FlushInterval:      s.Stream.FlushInterval,
			MaxConnectAttempts: s.Stream.MaxConnectAttempts,
		})
	}

	var trigger RemoteTrigger
	if s.Trigger.Enabled {
		trigger = NewHTTPTrigger(s.Trigger.URL, &http.Client{Timeout: s.Trigger.Timeout})
	}

	return New(Config{
		ClientID:        s.ClientID,
		Store:           st,
		Publisher:       publisher,
		Trigger:         trigger,
		TriggerFunction: s.Trigger.Function,
		BreakerConfig: breaker.Config{
			Threshold:        s.Breaker.Threshold,
			ResetTimeout:     s.Breaker.ResetTimeout,
			HalfOpenAttempts: s.Breaker.HalfOpenAttempts,
		},
	})
}

// TrackerFromSettings builds the idempotency tracker processors share.
// The caller owns the tracker and must Close it.
func TrackerFromSettings(s config.Settings) *idempotency.Tracker {
	return idempotency.NewTracker(idempotency.Config{
		ProcessingTTL: s.Idempotency.ProcessingTTL,
		CompletedTTL:  s.Idempotency.CompletedTTL,
		SweepInterval: s.Idempotency.SweepInterval,
	})
}

// BatchWriterFromSettings builds a batch writer over the given store for
// bulk ingest paths that trade immediacy for write amplification.
func BatchWriterFromSettings(st store.Store, s config.Settings) *store.BatchWriter {
	return store.NewBatchWriter(st, store.BatchWriterConfig{
		MaxBatch:      s.Store.MaxBatch,
		FlushInterval: s.Store.FlushInterval,
	})
}
