package dlq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/guardant/sentinel/internal/domain/dlqmessage"
	"github.com/guardant/sentinel/internal/eventbus"
)

type recordingSink struct {
	mu      sync.Mutex
	records []PermanentFailureRecord
}

func (s *recordingSink) RecordPermanentFailure(_ context.Context, rec PermanentFailureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func TestFailRepublishesUntilMaxRetries(t *testing.T) {
	var mu sync.Mutex
	var redelivered []dlqmessage.Message
	redeliver := func(_ context.Context, msg dlqmessage.Message) error {
		mu.Lock()
		redelivered = append(redelivered, msg)
		mu.Unlock()
		return nil
	}

	sink := &recordingSink{}
	cfg := Config{MaxRetries: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second, Factor: 2, SaturationThreshold: 10}
	q := New(cfg, eventbus.New(), nil, sink, redeliver)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = q.Start(ctx)
	defer q.Stop(context.Background())

	msg := dlqmessage.Message{OriginalQueue: "checks"}
	failErr := errors.New("boom")

	for i := 0; i < 3; i++ {
		if err := q.Fail(ctx, msg, "transport", failErr); err != nil {
			t.Fatalf("Fail: %v", err)
		}
		// wait past the message's own retry delay so it has been redelivered
		time.Sleep(150 * time.Millisecond)
		mu.Lock()
		msg = redelivered[len(redelivered)-1]
		mu.Unlock()
	}

	mu.Lock()
	got := len(redelivered)
	mu.Unlock()
	if got != 3 {
		t.Fatalf("expected 3 redeliveries before permanent failure, got %d", got)
	}

	// 4th failure at retryCount==MaxRetries should go permanent, not redeliver again.
	if err := q.Fail(ctx, msg, "transport", failErr); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	got = len(redelivered)
	mu.Unlock()
	if got != 3 {
		t.Fatalf("expected no further redelivery after max retries, got %d total", got)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.records) != 1 {
		t.Fatalf("expected exactly one permanent-failure record, got %d", len(sink.records))
	}
}

func TestFailEmitsSaturationAlertAtThreshold(t *testing.T) {
	bus := eventbus.New()
	saturated := make(chan any, 1)
	bus.Subscribe(EventSaturation, func(e eventbus.Event) {
		saturated <- e.Payload
	})

	cfg := Config{MaxRetries: 0, SaturationThreshold: 2}
	q := New(cfg, bus, nil, nil, nil)

	_ = q.Fail(context.Background(), dlqmessage.Message{}, "timeout", errors.New("x"))
	_ = q.Fail(context.Background(), dlqmessage.Message{}, "timeout", errors.New("x"))

	select {
	case <-saturated:
	case <-time.After(time.Second):
		t.Fatal("expected saturation event after threshold permanent failures")
	}
}

func TestStatsCountsByErrorClass(t *testing.T) {
	q := New(Config{MaxRetries: 0, SaturationThreshold: 100}, nil, nil, nil, nil)
	_ = q.Fail(context.Background(), dlqmessage.Message{}, "timeout", errors.New("a"))
	_ = q.Fail(context.Background(), dlqmessage.Message{}, "timeout", errors.New("b"))
	_ = q.Fail(context.Background(), dlqmessage.Message{}, "auth", errors.New("c"))

	stats := q.Stats()
	if stats["timeout"] != 2 || stats["auth"] != 1 {
		t.Fatalf("unexpected stats: %#v", stats)
	}
}
