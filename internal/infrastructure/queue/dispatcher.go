package queue

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/propeval/access-core/internal/core/domain"
	"github.com/propeval/access-core/internal/core/ports"
)

const (
	defaultWorkers = 4
	channelBuffer  = 256
)

// Dispatcher delivers audit events to the repository from a fixed set of
// workers, sharding by user id so the events of one user are written in the
// order they were emitted. It implements ports.AuditSink.
type Dispatcher struct {
	workers []chan domain.AuditEvent
	repo    ports.AuditRepository
	log     zerolog.Logger
	onDrop  func(domain.AuditEvent)

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*dispatcherOptions)

type dispatcherOptions struct {
	buffer int
	onDrop func(domain.AuditEvent)
}

// WithBuffer sets the per-worker queue length.
func WithBuffer(n int) Option {
	return func(o *dispatcherOptions) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// WithDropHandler is called for every event discarded because its queue was full.
func WithDropHandler(fn func(domain.AuditEvent)) Option {
	return func(o *dispatcherOptions) { o.onDrop = fn }
}

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used.
func NewDispatcher(numWorkers int, repo ports.AuditRepository, log zerolog.Logger, opts ...Option) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	o := dispatcherOptions{buffer: channelBuffer}
	for _, opt := range opts {
		opt(&o)
	}

	d := &Dispatcher{
		workers: make([]chan domain.AuditEvent, numWorkers),
		repo:    repo,
		log:     log,
		onDrop:  o.onDrop,
	}
	for i := range d.workers {
		d.workers[i] = make(chan domain.AuditEvent, o.buffer)
	}
	return d
}

// Start launches all worker goroutines. Workers stop when ctx is cancelled or
// after Shutdown has drained their queues.
func (d *Dispatcher) Start(ctx context.Context) {
	for i, ch := range d.workers {
		d.wg.Add(1)
		go d.runWorker(ctx, i, ch)
	}
}

// Emit queues event without blocking. When the worker's queue is full, or the
// dispatcher is shut down, the event is dropped and logged.
func (d *Dispatcher) Emit(event domain.AuditEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(event, "dispatcher closed")
		return
	}
	select {
	case d.workers[d.shardIndex(event.UserID)] <- event:
	default:
		d.drop(event, "queue full")
	}
}

// Shutdown stops accepting events and waits for queued ones to be written,
// or for ctx to end.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, ch := range d.workers {
			close(ch)
		}
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shardIndex maps a user id deterministically to a worker index.
func (d *Dispatcher) shardIndex(userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) drop(event domain.AuditEvent, reason string) {
	d.log.Warn().
		Str("event_type", string(event.Type)).
		Str("user_id", event.UserID).
		Str("reason", reason).
		Msg("audit event dropped")
	if d.onDrop != nil {
		d.onDrop(event)
	}
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan domain.AuditEvent) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := d.repo.Insert(ctx, &event); err != nil {
				d.log.Error().Err(err).
					Str("event_type", string(event.Type)).
					Str("user_id", event.UserID).
					Int("worker_id", id).
					Msg("audit event write failed")
			}
		}
	}
}
