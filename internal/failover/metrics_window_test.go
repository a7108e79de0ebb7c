package failover

import (
	"testing"
	"time"
)

func TestRollingWindowPrunesOldSamples(t *testing.T) {
	w := newRollingWindow(time.Minute)
	base := time.Now()

	w.Add(Sample{At: base.Add(-2 * time.Minute), Success: true, ResponseTime: 10 * time.Millisecond})
	w.Add(Sample{At: base, Success: true, ResponseTime: 20 * time.Millisecond})

	samples := w.Snapshot()
	if len(samples) != 1 {
		t.Fatalf("expected stale sample pruned, got %d samples", len(samples))
	}
}

func TestRollingWindowErrorRateAndAvailability(t *testing.T) {
	w := newRollingWindow(time.Minute)
	now := time.Now()
	w.Add(Sample{At: now, Success: true, ResponseTime: time.Millisecond})
	w.Add(Sample{At: now, Success: false})
	w.Add(Sample{At: now, Success: false})
	w.Add(Sample{At: now, Success: true, ResponseTime: time.Millisecond})

	if got := w.ErrorRate(); got != 0.5 {
		t.Fatalf("expected error rate 0.5, got %v", got)
	}
	if got := w.Availability(); got != 0.5 {
		t.Fatalf("expected availability 0.5, got %v", got)
	}
}

func TestRollingWindowAvgHealthyResponseTimeIgnoresFailures(t *testing.T) {
	w := newRollingWindow(time.Minute)
	now := time.Now()
	w.Add(Sample{At: now, Success: false, ResponseTime: time.Hour})
	w.Add(Sample{At: now, Success: true, ResponseTime: 100 * time.Millisecond})
	w.Add(Sample{At: now, Success: true, ResponseTime: 300 * time.Millisecond})

	avg, ok := w.AvgHealthyResponseTime()
	if !ok {
		t.Fatal("expected an average from the two successful samples")
	}
	if avg != 200*time.Millisecond {
		t.Fatalf("expected 200ms average, got %v", avg)
	}
}

func TestRollingWindowAvgHealthyResponseTimeNoSuccesses(t *testing.T) {
	w := newRollingWindow(time.Minute)
	w.Add(Sample{At: time.Now(), Success: false})

	if _, ok := w.AvgHealthyResponseTime(); ok {
		t.Fatal("expected no average when every sample failed")
	}
}
