package givebus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/givebus/givebus/pkg/givebus/event"
)

// RemoteTrigger invokes server-side fan-out for freshly published
// events. Errors are returned, never panicked, and callers decide
// whether a failure matters; the hybrid bus treats them as best-effort.
type RemoteTrigger interface {
	Invoke(ctx context.Context, function string, events []*event.Event) error
}

// ChangeFeed delivers events that other processes inserted into the
// shared event store. Subscribe returns a cancel closure.
type ChangeFeed interface {
	Subscribe(ctx context.Context, handler func(evt *event.Event)) (func(), error)
}

// HTTPTrigger calls the remote processing endpoint over HTTP. The
// request body is {"function": name, "events": [...]}.
type HTTPTrigger struct {
	url    string
	client *http.Client
}

var _ RemoteTrigger = (*HTTPTrigger)(nil)

// NewHTTPTrigger creates a trigger for the given endpoint URL. A nil
// client uses http.DefaultClient; pass one with a Timeout in production.
func NewHTTPTrigger(url string, client *http.Client) *HTTPTrigger {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTrigger{url: url, client: client}
}

func (t *HTTPTrigger) Invoke(ctx context.Context, function string, events []*event.Event) error {
	body, err := json.Marshal(map[string]any{
		"function": function,
		"events":   events,
	})
	if err != nil {
		return fmt.Errorf("encode trigger request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("invoke %s: %w", function, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("invoke %s: unexpected status %d", function, resp.StatusCode)
	}
	return nil
}

// MemoryChangeFeed is an in-process change feed for tests and
// single-process wiring. Emit delivers an event to all subscribers.
type MemoryChangeFeed struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]func(evt *event.Event)
}

var _ ChangeFeed = (*MemoryChangeFeed)(nil)

// NewMemoryChangeFeed creates an empty change feed.
func NewMemoryChangeFeed() *MemoryChangeFeed {
	return &MemoryChangeFeed{handlers: make(map[int]func(evt *event.Event))}
}

func (f *MemoryChangeFeed) Subscribe(ctx context.Context, handler func(evt *event.Event)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.handlers[id] = handler
	return func() {
		f.mu.Lock()
		delete(f.handlers, id)
		f.mu.Unlock()
	}, nil
}

// Emit delivers an event to every subscriber synchronously.
func (f *MemoryChangeFeed) Emit(evt *event.Event) {
	f.mu.Lock()
	handlers := make([]func(evt *event.Event), 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(evt)
	}
}
