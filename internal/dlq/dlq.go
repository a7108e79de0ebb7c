// Package dlq implements the dead-letter queue: a parking queue plus a
// delayed retry queue, with exponential-backoff rescheduling and
// permanent-failure accounting. Grounded on the teacher's
// infrastructure/resilience retry shape, generalized from a single
// in-process retry loop into a two-queue protocol.
package dlq

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guardant/sentinel/internal/domain/dlqmessage"
	"github.com/guardant/sentinel/internal/eventbus"
	"github.com/guardant/sentinel/internal/logger"
	"github.com/guardant/sentinel/internal/resilience"
)

const (
	EventPermanentFailure eventbus.Kind = "dlq.permanent-failure"
	EventSaturation       eventbus.Kind = "dlq.saturation"
	EventRetryScheduled   eventbus.Kind = "dlq.retry-scheduled"
)

// Config controls backoff and alerting thresholds.
type Config struct {
	MaxRetries          int
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	Factor              float64
	MessageTTL          time.Duration // bounds worst-case .dlq parking time
	SaturationThreshold int           // permanent failures before a saturation alert
}

func DefaultConfig() Config {
	return Config{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: time.Minute, Factor: 2, MessageTTL: time.Hour, SaturationThreshold: 50}
}

// PermanentFailureRecord is what gets persisted (optionally, via the
// storage adapter) when a message exhausts its retries.
type PermanentFailureRecord struct {
	Message   dlqmessage.Message
	ErrorClass string
	RecordedAt time.Time
}

// PermanentFailureSink optionally persists permanent failures for
// analysis. RedisPermanentFailureSink is the implementation in this
// package.
type PermanentFailureSink interface {
	RecordPermanentFailure(ctx context.Context, rec PermanentFailureRecord) error
}

// retryItem is a message parked in the delayed retry queue.
type retryItem struct {
	msg      dlqmessage.Message
	deliverAt time.Time
	index    int
}

type retryHeap []*retryItem

func (h retryHeap) Len() int            { return len(h) }
func (h retryHeap) Less(i, j int) bool  { return h[i].deliverAt.Before(h[j].deliverAt) }
func (h retryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *retryHeap) Push(x any)         { item := x.(*retryItem); item.index = len(*h); *h = append(*h, item) }
func (h *retryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is the two-queue DLQ: Park receives failing messages, Redeliver
// is invoked by the consumer when a retry's delay has elapsed and the
// message should go back to its original queue.
type Queue struct {
	cfg Config
	log *logger.Logger
	bus *eventbus.Bus
	sink PermanentFailureSink

	mu    sync.Mutex
	retry retryHeap

	permanentByClass map[string]int64

	redeliver func(ctx context.Context, msg dlqmessage.Message) error

	stop chan struct{}
	done chan struct{}
}

// New creates a Queue. redeliver is called to push a message back onto
// its original queue once its retry delay elapses.
func New(cfg Config, bus *eventbus.Bus, log *logger.Logger, sink PermanentFailureSink, redeliver func(ctx context.Context, msg dlqmessage.Message) error) *Queue {
	if log == nil {
		log = logger.NewDefault("dlq")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Factor <= 0 {
		cfg.Factor = 2
	}
	q := &Queue{
		cfg:              cfg,
		log:              log,
		bus:              bus,
		sink:             sink,
		redeliver:        redeliver,
		permanentByClass: make(map[string]int64),
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
	}
	heap.Init(&q.retry)
	return q
}

// Name implements system.Service.
func (q *Queue) Name() string { return "dlq" }

// Start runs the retry-queue delivery loop until Stop.
func (q *Queue) Start(ctx context.Context) error {
	go q.loop(ctx)
	return nil
}

// Stop drains the loop; the consumer finishes its current message
// before exiting.
func (q *Queue) Stop(ctx context.Context) error {
	close(q.stop)
	select {
	case <-q.done:
	case <-ctx.Done():
	}
	return nil
}

func (q *Queue) loop(ctx context.Context) {
	defer close(q.done)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.deliverDue(ctx)
		}
	}
}

func (q *Queue) deliverDue(ctx context.Context) {
	now := time.Now()
	for {
		q.mu.Lock()
		if q.retry.Len() == 0 || q.retry[0].deliverAt.After(now) {
			q.mu.Unlock()
			return
		}
		item := heap.Pop(&q.retry).(*retryItem)
		q.mu.Unlock()

		if q.redeliver != nil {
			if err := q.redeliver(ctx, item.msg); err != nil {
				q.log.WithField("message_id", item.msg.ID).WithError(err).Error("redeliver to original queue failed")
			}
		}
	}
}

// Fail records a processing failure for msg: a message with
// retryCount < maxRetries is republished to the retry queue with an
// exponential-backoff delay; otherwise it is marked as a permanent
// failure, acknowledged, and counted by error class.
func (q *Queue) Fail(ctx context.Context, msg dlqmessage.Message, errorClass string, lastErr error) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.FirstFailedAt.IsZero() {
		msg.FirstFailedAt = time.Now()
	}
	if msg.MaxRetries <= 0 {
		msg.MaxRetries = q.cfg.MaxRetries
	}
	if lastErr != nil {
		msg.LastError = lastErr.Error()
	}

	if msg.RetryCount < msg.MaxRetries {
		delay := resilience.BackoffDelay(q.cfg.BaseDelay, q.cfg.Factor, msg.RetryCount, q.cfg.MaxDelay)
		msg.RetryCount++

		q.mu.Lock()
		heap.Push(&q.retry, &retryItem{msg: msg, deliverAt: time.Now().Add(delay)})
		q.mu.Unlock()

		if q.bus != nil {
			q.bus.Publish(eventbus.Event{Kind: EventRetryScheduled, Payload: msg})
		}
		return nil
	}

	return q.markPermanent(ctx, msg, errorClass)
}

func (q *Queue) markPermanent(ctx context.Context, msg dlqmessage.Message, errorClass string) error {
	if errorClass == "" {
		errorClass = "unknown"
	}

	q.mu.Lock()
	q.permanentByClass[errorClass]++
	count := q.permanentByClass[errorClass]
	q.mu.Unlock()

	rec := PermanentFailureRecord{Message: msg, ErrorClass: errorClass, RecordedAt: time.Now()}
	if q.sink != nil {
		if err := q.sink.RecordPermanentFailure(ctx, rec); err != nil {
			q.log.WithField("message_id", msg.ID).WithError(err).Error("failed to persist permanent-failure record")
		}
	}
	if q.bus != nil {
		q.bus.Publish(eventbus.Event{Kind: EventPermanentFailure, Payload: rec})
	}

	if q.cfg.SaturationThreshold > 0 && count >= int64(q.cfg.SaturationThreshold) {
		if q.bus != nil {
			q.bus.Publish(eventbus.Event{Kind: EventSaturation, Payload: errorClass})
		}
	}
	return nil
}

// Stats reports permanent-failure counts by error class: sampled, not
// authoritative.
func (q *Queue) Stats() map[string]int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]int64, len(q.permanentByClass))
	for k, v := range q.permanentByClass {
		out[k] = v
	}
	return out
}

// Pending returns the number of messages currently parked in the retry
// queue awaiting redelivery.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.retry.Len()
}
