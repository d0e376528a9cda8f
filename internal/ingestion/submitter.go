package ingestion

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lineage-io/catalog/internal/config"
)

var (
	// ErrQueueFull is returned when the event's shard has no free slot.
	ErrQueueFull = errors.New("ingestion queue is full")

	// ErrSubmitterClosed is returned for submissions after Close.
	ErrSubmitterClosed = errors.New("ingestion submitter is closed")
)

type (
	// Handler applies one event. *Ingester implements it.
	Handler interface {
		Ingest(ctx context.Context, event *RunEvent) error
	}

	// Submitter queues events for asynchronous ingestion. Events are sharded by runId across
	// a fixed set of workers, so the events of one run are applied in submission order while
	// different runs proceed in parallel.
	Submitter struct {
		handler Handler
		shards  []chan *RunEvent
		logger  *slog.Logger

		mu      sync.RWMutex
		closed  bool
		started bool
		group   *errgroup.Group

		// done is closed by Close; blocked senders give up on it. Shards are closed only after
		// every in-flight sender has returned.
		done     chan struct{}
		inflight sync.WaitGroup
	}

	// SubmitterOption configures optional Submitter behavior.
	SubmitterOption func(*Submitter)
)

// WithSubmitterLogger sets the submitter's logger.
func WithSubmitterLogger(logger *slog.Logger) SubmitterOption {
	return func(s *Submitter) {
		s.logger = logger
	}
}

// NewSubmitter returns a Submitter with workers shards sharing queueSize slots.
func NewSubmitter(handler Handler, workers, queueSize int, opts ...SubmitterOption) *Submitter {
	workers = max(workers, 1)
	perShard := max(queueSize/workers, 1)

	s := &Submitter{
		handler: handler,
		shards:  make([]chan *RunEvent, workers),
		logger:  config.DefaultLogger(),
		done:    make(chan struct{}),
	}

	for i := range s.shards {
		s.shards[i] = make(chan *RunEvent, perShard)
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start launches the workers. ctx bounds event processing; cancelling it abandons queued
// events, while Close drains them.
func (s *Submitter) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.closed {
		return
	}

	s.started = true
	s.group = &errgroup.Group{}

	for i, shard := range s.shards {
		s.group.Go(func() error {
			s.work(ctx, i, shard)

			return nil
		})
	}

	s.logger.Info("ingestion workers started", slog.Int("workers", len(s.shards)))
}

// Submit validates event and queues it without blocking.
func (s *Submitter) Submit(event *RunEvent) error {
	if err := ValidateRunEvent(event); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSubmitterClosed
	}

	select {
	case s.shardFor(event) <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitWait validates event and queues it, waiting for a free slot until ctx is done or the
// submitter is closed. The wait does not hold up Close.
func (s *Submitter) SubmitWait(ctx context.Context, event *RunEvent) error {
	if err := ValidateRunEvent(event); err != nil {
		return err
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()

		return ErrSubmitterClosed
	}

	s.inflight.Add(1)
	s.mu.RUnlock()

	defer s.inflight.Done()

	select {
	case s.shardFor(event) <- event:
		return nil
	case <-s.done:
		return ErrSubmitterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitBatch validates every event, checks that their shards have room for all of them, then
// queues them in eventTime order. Nothing is queued when any event is invalid or when the
// queue lacks room; the error is ErrQueueFull in the latter case. A concurrent SubmitWait can
// still take a reserved slot, so the returned count says how many events were queued.
func (s *Submitter) SubmitBatch(events []*RunEvent) (int, error) {
	for i, event := range events {
		if err := ValidateRunEvent(event); err != nil {
			return 0, fmt.Errorf("event %d: %w", i, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrSubmitterClosed
	}

	needed := make(map[chan *RunEvent]int, len(s.shards))
	for _, event := range events {
		needed[s.shardFor(event)]++
	}

	for shard, count := range needed {
		if cap(shard)-len(shard) < count {
			return 0, ErrQueueFull
		}
	}

	for i, event := range SortEventsByTime(events) {
		select {
		case s.shardFor(event) <- event:
		default:
			return i, ErrQueueFull
		}
	}

	return len(events), nil
}

// Close stops accepting events and waits until the queued ones are processed or ctx is done.
func (s *Submitter) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return nil
	}

	s.closed = true
	close(s.done)

	group := s.group
	s.mu.Unlock()

	s.inflight.Wait()

	for _, shard := range s.shards {
		close(shard)
	}

	if group == nil {
		return nil
	}

	done := make(chan struct{})

	go func() {
		_ = group.Wait()

		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ingestion queue not drained: %w", ctx.Err())
	}
}

// Pending returns the number of queued events.
func (s *Submitter) Pending() int {
	pending := 0
	for _, shard := range s.shards {
		pending += len(shard)
	}

	return pending
}

// shardFor hashes the canonical form of the run id, so spellings of one run share a shard.
func (s *Submitter) shardFor(event *RunEvent) chan *RunEvent {
	key := event.Run.ID
	if id, err := uuid.Parse(key); err == nil {
		key = id.String()
	}

	hash := fnv.New32a()
	_, _ = hash.Write([]byte(key))

	return s.shards[hash.Sum32()%uint32(len(s.shards))] //nolint:gosec // shard count is small and positive
}

func (s *Submitter) work(ctx context.Context, worker int, events <-chan *RunEvent) {
	for event := range events {
		if ctx.Err() != nil {
			continue
		}

		s.process(ctx, worker, event)
	}
}

func (s *Submitter) process(ctx context.Context, worker int, event *RunEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while ingesting lineage event",
				slog.Int("worker", worker),
				slog.String("run_id", event.Run.ID),
				slog.Any("panic", r),
			)
		}
	}()

	if err := s.handler.Ingest(ctx, event); err != nil {
		s.logger.Error("failed to ingest lineage event",
			slog.Int("worker", worker),
			slog.String("run_id", event.Run.ID),
			slog.String("event_type", string(event.EventType)),
			slog.String("error", err.Error()),
		)
	}
}
