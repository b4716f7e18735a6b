package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/echannelling-auth/internal/events"
)

const deliveryTimeout = 30 * time.Second

// ErrQueueFull is returned to the publisher when an event is dropped.
var ErrQueueFull = errors.New("notification queue full")

// EventHandler delivers the side effects of an event.
type EventHandler interface {
	Handles() []events.EventType
	Handle(ctx context.Context, event events.Event) error
}

// NotificationWorker moves event delivery off the request path. Publishers
// only enqueue; a single goroutine drains the queue in order.
type NotificationWorker struct {
	handler EventHandler
	logger  *zap.Logger
	queue   chan events.Event
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewNotificationWorker builds a worker with a queue of the given size.
func NewNotificationWorker(handler EventHandler, logger *zap.Logger, buffer int) *NotificationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 128
	}
	return &NotificationWorker{
		handler: handler,
		logger:  logger,
		queue:   make(chan events.Event, buffer),
	}
}

// Subscribe routes every event type the handler cares about into the queue.
func (w *NotificationWorker) Subscribe(dispatcher events.Dispatcher) {
	for _, eventType := range w.handler.Handles() {
		dispatcher.Subscribe(eventType, w.enqueue)
	}
}

// Start launches the delivery goroutine.
func (w *NotificationWorker) Start() {
	w.wg.Add(1)
	go w.run()
}

// Close stops accepting events and waits for queued ones to be delivered.
func (w *NotificationWorker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	w.wg.Wait()
}

func (w *NotificationWorker) enqueue(_ context.Context, event events.Event) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrQueueFull
	}
	select {
	case w.queue <- event:
		return nil
	default:
		w.logger.Warn("notification dropped",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID),
		)
		return ErrQueueFull
	}
}

func (w *NotificationWorker) run() {
	defer w.wg.Done()
	for event := range w.queue {
		w.deliver(event)
	}
}

func (w *NotificationWorker) deliver(event events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	if err := w.handler.Handle(ctx, event); err != nil {
		w.logger.Warn("notification delivery failed",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
	}
}
