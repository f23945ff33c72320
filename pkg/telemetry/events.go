package telemetry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event describes one registry, lifecycle or import occurrence. ID and
// Timestamp are filled in by Publish when left empty.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Service   string         `json:"service,omitempty"`
	Message   string         `json:"message"`
	Level     string         `json:"level"`
	Data      map[string]any `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeServiceRegistered   = "service.registered"
	EventTypeServiceInitializing = "service.initializing"
	EventTypeServiceInitialized  = "service.initialized"
	EventTypeServiceFailed       = "service.failed"
	EventTypeServiceReset        = "service.reset"
	EventTypeServiceShutdown     = "service.shutdown"
	EventTypeImportFailed        = "import.failed"
	EventTypeValidationFailed    = "validation.failed"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber receives delivered events.
type EventSubscriber func(Event)

// EventFilter reports whether an event should be delivered.
type EventFilter func(Event) bool

// Publish errors.
var (
	ErrPublisherStopped = errors.New("event publisher stopped")
	ErrBufferFull       = errors.New("event buffer full")
)

// EventPublisher manages event publishing and subscriptions. A nil or disabled
// publisher accepts and drops every event.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher starts a publisher. With cfg.Async a goroutine delivers
// events until Shutdown.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.Async {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

func (ep *EventPublisher) enabled() bool {
	return ep != nil && ep.config.Enabled
}

// Publish hands event to every subscriber whose filter accepts it. Global
// filters added with AddFilter apply first. Async publishers fail fast with
// ErrBufferFull rather than block.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.enabled() {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if !ep.accepts(event) {
		return nil
	}

	if ep.config.Async {
		if ep.ctx.Err() != nil {
			return ErrPublisherStopped
		}
		select {
		case ep.buffer <- event:
			return nil
		default:
			return fmt.Errorf("%w: dropped %s", ErrBufferFull, event.Type)
		}
	}

	ep.deliverEvent(event)
	return nil
}

func (ep *EventPublisher) accepts(event Event) bool {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, keep := range ep.filters {
		if !keep(event) {
			return false
		}
	}
	return true
}

// PublishServiceRegistered publishes a registration event.
func (ep *EventPublisher) PublishServiceRegistered(service, kind string, deps []string) error {
	return ep.Publish(Event{
		Type:    EventTypeServiceRegistered,
		Source:  "registry",
		Service: service,
		Message: fmt.Sprintf("Service %s registered as %s", service, kind),
		Level:   EventLevelInfo,
		Data: map[string]any{
			"kind":         kind,
			"dependencies": deps,
		},
	})
}

// PublishServiceStatus publishes a lifecycle transition event.
func (ep *EventPublisher) PublishServiceStatus(service, from, to, message string) error {
	event := Event{
		Source:  "registry",
		Service: service,
		Level:   EventLevelInfo,
		Data: map[string]any{
			"from": from,
			"to":   to,
		},
	}

	switch to {
	case "initializing":
		event.Type = EventTypeServiceInitializing
		event.Message = fmt.Sprintf("Service %s initializing", service)
	case "initialized":
		event.Type = EventTypeServiceInitialized
		event.Message = fmt.Sprintf("Service %s initialized", service)
	case "error":
		event.Type = EventTypeServiceFailed
		event.Message = fmt.Sprintf("Service %s failed: %s", service, message)
		event.Level = EventLevelError
	case "registered":
		event.Type = EventTypeServiceReset
		event.Message = fmt.Sprintf("Service %s reset for re-initialization", service)
		event.Level = EventLevelWarning
	case "shutdown":
		event.Type = EventTypeServiceShutdown
		event.Message = fmt.Sprintf("Service %s shut down", service)
	default:
		return nil
	}

	return ep.Publish(event)
}

// PublishImportFailed publishes a failed capability import.
func (ep *EventPublisher) PublishImportFailed(module, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeImportFailed,
		Source:  "imports",
		Message: fmt.Sprintf("Capability %s unavailable: %s", module, reason),
		Level:   EventLevelWarning,
		Data: map[string]any{
			"module": module,
			"reason": reason,
		},
	})
}

// PublishValidationFailed publishes a failed validation pass.
func (ep *EventPublisher) PublishValidationFailed(kind string, problems int, summary string) error {
	return ep.Publish(Event{
		Type:    EventTypeValidationFailed,
		Source:  kind,
		Message: summary,
		Level:   EventLevelError,
		Data: map[string]any{
			"problems": problems,
		},
	})
}

// Subscribe registers subscriber. A nil filter accepts everything.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter drops events rejected by filter before any subscriber sees them.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents delivers buffered events until shutdown, then drains the buffer.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent calls every matching subscriber in subscription order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	entries := append([]subscriberEntry(nil), ep.subscribers...)
	ep.mu.RUnlock()

	for _, entry := range entries {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher after delivering buffered events.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.enabled() {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

var levelRank = map[string]int{
	EventLevelInfo:    0,
	EventLevelWarning: 1,
	EventLevelError:   2,
}

// FilterByLevel keeps events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	floor := levelRank[minLevel]
	return func(e Event) bool {
		return levelRank[e.Level] >= floor
	}
}

// FilterByType keeps events of the given types.
func FilterByType(types ...string) EventFilter {
	return func(e Event) bool {
		return slices.Contains(types, e.Type)
	}
}

// FilterByService keeps events about service.
func FilterByService(service string) EventFilter {
	return func(e Event) bool {
		return e.Service == service
	}
}
