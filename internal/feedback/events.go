package feedback

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType represents the type of event
type EventType string

const (
	// Session lifecycle events
	EventSessionStarted   EventType = "session.started"
	EventSessionCancelled EventType = "session.cancelled"

	// Pipeline events
	EventStageStarted      EventType = "pipeline.stage.started"
	EventPipelineCompleted EventType = "pipeline.completed"
	EventPipelineFailed    EventType = "pipeline.failed"
)

// Event represents a system event
type Event struct {
	Type      EventType
	Timestamp time.Time
	GuildID   string
	ChannelID string
	Data      interface{}
}

// PipelineCompletedData carries the results of a finished pipeline run
type PipelineCompletedData struct {
	MeetingID   int64
	MeetingName string
	Notes       string
	AutoStopped bool
}

// PipelineFailedData identifies the failing stage of a pipeline run
type PipelineFailedData struct {
	Stage string
	Err   error
}

// StageStartedData names the stage that began processing
type StageStartedData struct {
	Stage string
}

// Handler is a function that handles events
type Handler func(event Event)

// Bus distributes events to subscribers on a dedicated goroutine so that
// publishers (session machinery, pipeline) never block on handlers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	buffer   chan Event
	stopCh   chan struct{}
	wg       sync.WaitGroup
	dropped  int64
}

// NewBus creates an event bus with the given buffer size
func NewBus(bufferSize int) *Bus {
	b := &Bus{
		handlers: make(map[EventType][]Handler),
		buffer:   make(chan Event, bufferSize),
		stopCh:   make(chan struct{}),
	}

	b.wg.Add(1)
	go b.processEvents()

	return b
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish queues an event for delivery. Publishing on a nil bus is a no-op
// so components can treat the bus as optional. Events are dropped rather
// than blocking when the buffer is full.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.buffer <- event:
	case <-b.stopCh:
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		logrus.WithField("event_type", event.Type).Warn("Event buffer full, dropping event")
	}
}

// Close stops event delivery and waits for the processor to drain
func (b *Bus) Close() {
	if b == nil {
		return
	}
	close(b.stopCh)
	b.wg.Wait()
}

func (b *Bus) processEvents() {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.buffer:
			b.deliver(event)
		case <-b.stopCh:
			// Drain remaining events before exiting
			for {
				select {
				case event := <-b.buffer:
					b.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliver(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type]))
	copy(handlers, b.handlers[event.Type])
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
