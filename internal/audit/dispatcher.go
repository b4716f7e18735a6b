package audit

import (
	"context"
	"crypto/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/echannelling-auth/internal/domain"
	"github.com/spec-kit/echannelling-auth/internal/observability"
)

// Recorder accepts audit entries. Recording never fails the caller.
type Recorder interface {
	Record(ctx context.Context, entry domain.AuditEntry)
}

// Sink persists audit entries.
type Sink interface {
	Insert(ctx context.Context, entry *domain.AuditEntry) error
}

const sinkTimeout = 5 * time.Second

// Dispatcher forwards entries to a sink on a background goroutine. When the buffer is
// full, entries are dropped and counted instead of blocking the request.
type Dispatcher struct {
	sink    Sink
	logger  *zap.Logger
	metrics *observability.Metrics
	ch      chan domain.AuditEntry
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
	closed  atomic.Bool
	once    sync.Once
	now     func() time.Time
}

// NewDispatcher starts a dispatcher with the given buffer size.
func NewDispatcher(sink Sink, logger *zap.Logger, metrics *observability.Metrics, bufferSize int) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		sink:    sink,
		logger:  logger,
		metrics: metrics,
		ch:      make(chan domain.AuditEntry, bufferSize),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Record enqueues entry, filling in its id and timestamp.
func (d *Dispatcher) Record(_ context.Context, entry domain.AuditEntry) {
	if d == nil || d.closed.Load() {
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = d.now().UTC()
	}
	if entry.ID == "" {
		entry.ID = ulid.MustNew(ulid.Timestamp(entry.CreatedAt), rand.Reader).String()
	}
	d.metrics.RecordAuthEvent(string(entry.Action), entry.Success)

	select {
	case d.ch <- entry:
	case <-d.done:
	default:
		d.dropped.Add(1)
		d.logger.Warn("audit buffer full; entry dropped",
			zap.String("action", string(entry.Action)),
			zap.Uint64("dropped_total", d.dropped.Load()))
	}
}

// Dropped returns the number of entries discarded because the buffer was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Close drains queued entries and stops the worker.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case entry := <-d.ch:
			d.write(entry)
		case <-d.done:
			for {
				select {
				case entry := <-d.ch:
					d.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) write(entry domain.AuditEntry) {
	fields := []zap.Field{
		zap.String("audit_id", entry.ID),
		zap.String("action", string(entry.Action)),
		zap.Bool("success", entry.Success),
		zap.String("identifier", entry.Identifier),
		zap.String("ip", entry.IPAddress),
	}
	if entry.UserID != nil {
		fields = append(fields, zap.String("user_id", *entry.UserID))
	}
	d.logger.Info("audit", fields...)

	if d.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := d.sink.Insert(ctx, &entry); err != nil {
		d.logger.Error("audit write failed", append(fields, zap.Error(err))...)
	}
}
