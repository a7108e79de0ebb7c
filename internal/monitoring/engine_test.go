package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/guardant/sentinel/internal/domain/checkresult"
	"github.com/guardant/sentinel/internal/domain/servicedef"
	"github.com/guardant/sentinel/internal/eventbus"
	"github.com/guardant/sentinel/internal/monitoring/probes"
	"github.com/guardant/sentinel/internal/registry"
	"github.com/guardant/sentinel/internal/resilience"
	"github.com/guardant/sentinel/internal/storage"
)

type fakeProber struct {
	typ     servicedef.Type
	results []fakeOutcome
	call    int
}

type fakeOutcome struct {
	status servicedef.Status
	err    error
}

func (f *fakeProber) Type() servicedef.Type { return f.typ }

func (f *fakeProber) Check(_ context.Context, desc registry.Descriptor, _ time.Time) (checkresult.Result, error) {
	o := f.results[f.call]
	if f.call < len(f.results)-1 {
		f.call++
	}
	return checkresult.Result{ServiceID: desc.ID, NestID: desc.NestID, Status: o.status, Timestamp: time.Now()}, o.err
}

func TestEngineRunsRetryOnlyOnTransportErrors(t *testing.T) {
	bus := eventbus.New()
	reg := registry.New(registry.DefaultConfig(), registry.NewMemoryStore(), bus, nil)
	backend := storage.NewMemoryBackend()
	scfg := storage.DefaultConfig()
	scfg.EncryptionMasterKey = []byte("a-32-byte-or-longer-master-key!!")
	store := storage.New(scfg, backend, bus, nil)

	prober := &fakeProber{typ: servicedef.TypeWeb, results: []fakeOutcome{
		{status: servicedef.StatusUnknown, err: resilience.ErrNetwork},
		{status: servicedef.StatusUp, err: nil},
	}}

	e := New(DefaultConfig(), reg, map[servicedef.Type]probes.Prober{servicedef.TypeWeb: prober}, store, bus, nil)

	def := servicedef.Definition{
		ID: "svc-1", NestID: "acme", Name: "site", Type: servicedef.TypeWeb, Target: "http://example.test",
		Schedule: servicedef.Schedule{Interval: time.Hour, Timeout: time.Second, Retries: 2, Enabled: true},
	}
	e.register(def)

	e.runCheck(context.Background(), "svc-1")

	if prober.call != 1 {
		t.Fatalf("expected exactly 2 calls (1 retry after a transport error), call index=%d", prober.call)
	}

	shadow, ok := e.Shadow("svc-1")
	if !ok {
		t.Fatal("expected a runtime shadow after the check")
	}
	if shadow.LastStatus != servicedef.StatusUp {
		t.Fatalf("expected the eventually-successful retry's status, got %s", shadow.LastStatus)
	}
}

func TestEngineDoesNotRetryNonTransportFailure(t *testing.T) {
	bus := eventbus.New()
	reg := registry.New(registry.DefaultConfig(), registry.NewMemoryStore(), bus, nil)
	backend := storage.NewMemoryBackend()
	scfg := storage.DefaultConfig()
	scfg.EncryptionMasterKey = []byte("a-32-byte-or-longer-master-key!!")
	store := storage.New(scfg, backend, bus, nil)

	prober := &fakeProber{typ: servicedef.TypeWeb, results: []fakeOutcome{
		{status: servicedef.StatusDown, err: nil},
	}}
	e := New(DefaultConfig(), reg, map[servicedef.Type]probes.Prober{servicedef.TypeWeb: prober}, store, bus, nil)

	def := servicedef.Definition{
		ID: "svc-2", NestID: "acme", Name: "site", Type: servicedef.TypeWeb, Target: "http://example.test",
		Schedule: servicedef.Schedule{Interval: time.Hour, Timeout: time.Second, Retries: 3, Enabled: true},
	}
	e.register(def)
	e.runCheck(context.Background(), "svc-2")

	if prober.call != 0 {
		t.Fatalf("expected a semantic down (nil error) to never retry, call index=%d", prober.call)
	}
}

func TestEnginePublishesAlertEligibleAtThreshold(t *testing.T) {
	bus := eventbus.New()
	reg := registry.New(registry.DefaultConfig(), registry.NewMemoryStore(), bus, nil)
	backend := storage.NewMemoryBackend()
	scfg := storage.DefaultConfig()
	scfg.EncryptionMasterKey = []byte("a-32-byte-or-longer-master-key!!")
	store := storage.New(scfg, backend, bus, nil)

	prober := &fakeProber{typ: servicedef.TypeWeb, results: []fakeOutcome{{status: servicedef.StatusDown}}}
	e := New(DefaultConfig(), reg, map[servicedef.Type]probes.Prober{servicedef.TypeWeb: prober}, store, bus, nil)

	alerts := make(chan AlertEligibleEvent, 1)
	bus.Subscribe(EventAlertEligible, func(evt eventbus.Event) {
		alerts <- evt.Payload.(AlertEligibleEvent)
	})

	def := servicedef.Definition{
		ID: "svc-3", NestID: "acme", Name: "site", Type: servicedef.TypeWeb, Target: "http://example.test",
		Schedule: servicedef.Schedule{Interval: time.Hour, Timeout: time.Second, Enabled: true},
		Alerting: servicedef.AlertingPolicy{MinConsecutiveFails: 2},
	}
	e.register(def)

	e.runCheck(context.Background(), "svc-3")
	select {
	case <-alerts:
		t.Fatal("should not be alert-eligible after only 1 failure")
	case <-time.After(20 * time.Millisecond):
	}

	e.runCheck(context.Background(), "svc-3")
	select {
	case evt := <-alerts:
		if evt.ConsecutiveFailures != 2 {
			t.Fatalf("expected 2 consecutive failures, got %d", evt.ConsecutiveFailures)
		}
	case <-time.After(time.Second):
		t.Fatal("expected alert-eligible event after crossing the threshold")
	}
}

func TestEngineUnregisterStopsScheduling(t *testing.T) {
	bus := eventbus.New()
	reg := registry.New(registry.DefaultConfig(), registry.NewMemoryStore(), bus, nil)
	backend := storage.NewMemoryBackend()
	scfg := storage.DefaultConfig()
	scfg.EncryptionMasterKey = []byte("a-32-byte-or-longer-master-key!!")
	store := storage.New(scfg, backend, bus, nil)

	prober := &fakeProber{typ: servicedef.TypeWeb, results: []fakeOutcome{{status: servicedef.StatusUp}}}
	e := New(DefaultConfig(), reg, map[servicedef.Type]probes.Prober{servicedef.TypeWeb: prober}, store, bus, nil)

	def := servicedef.Definition{
		ID: "svc-4", NestID: "acme", Type: servicedef.TypeWeb, Target: "http://example.test",
		Schedule: servicedef.Schedule{Interval: 10 * time.Millisecond, Timeout: time.Second, Enabled: true},
	}
	e.register(def)
	if e.ScheduledCount() != 1 {
		t.Fatalf("expected 1 scheduled service, got %d", e.ScheduledCount())
	}
	e.unregister("svc-4")
	if e.ScheduledCount() != 0 {
		t.Fatalf("expected 0 scheduled services after unregister, got %d", e.ScheduledCount())
	}
	if _, ok := e.Shadow("svc-4"); ok {
		t.Fatal("expected shadow to be cleared on unregister")
	}
}
