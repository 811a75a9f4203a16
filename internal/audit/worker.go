package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"travlr/internal/platform/metrics"
	"travlr/pkg/domain"
)

// Sink receives every persisted event for downstream fan-out, typically the
// Kafka compliance stream.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// bufferSize bounds how many events can be in flight before Record starts
// dropping. Audit is a secondary guarantee; dropping beats blocking.
const bufferSize = 1024

// Worker consumes recorded events on a single goroutine: persist to the
// store, then fan out to the sink. Record never blocks the caller.
type Worker struct {
	events  chan Event
	store   Store
	sink    Sink
	metrics *metrics.Metrics
	logger  *slog.Logger
	done    chan struct{}
	once    sync.Once
}

func NewWorker(store Store, sink Sink, m *metrics.Metrics, logger *slog.Logger) *Worker {
	return &Worker{
		events:  make(chan Event, bufferSize),
		store:   store,
		sink:    sink,
		metrics: m,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Record enqueues a compliance event. When the buffer is full the event is
// dropped with a warning and a metric bump rather than stalling the request.
func (w *Worker) Record(ctx context.Context, action string, actor domain.AID, subject string, detail map[string]any) {
	event := Event{
		ID:      uuid.New(),
		Action:  action,
		Actor:   actor,
		Subject: subject,
		Detail:  detail,
		At:      time.Now(),
	}
	select {
	case w.events <- event:
	default:
		w.metrics.AuditAppendFailures.Inc()
		w.logger.WarnContext(ctx, "audit buffer full, event dropped",
			"action", action, "subject", subject)
	}
}

// Run drains the queue until Close. Intended to run on its own goroutine for
// the life of the process.
func (w *Worker) Run() {
	for event := range w.events {
		w.handle(event)
	}
	close(w.done)
}

// Close stops intake, lets Run finish the backlog, and waits for it.
func (w *Worker) Close() {
	w.once.Do(func() { close(w.events) })
	<-w.done
}

func (w *Worker) handle(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.store.Append(ctx, event); err != nil {
		w.metrics.AuditAppendFailures.Inc()
		w.logger.Warn("audit event append failed",
			"action", event.Action, "subject", event.Subject, "error", err)
	}
	if w.sink != nil {
		if err := w.sink.Publish(ctx, event); err != nil {
			w.logger.Warn("audit event publish failed",
				"action", event.Action, "subject", event.Subject, "error", err)
		}
	}
}
