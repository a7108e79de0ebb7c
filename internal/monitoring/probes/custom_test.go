package probes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/guardant/sentinel/internal/domain/servicedef"
	"github.com/guardant/sentinel/internal/registry"
)

func TestCustomProbeJSONPathAssertion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","checks":{"db":"up"}}`))
	}))
	defer srv.Close()

	p := NewCustomProbe()
	desc := registry.Descriptor{Assertion: &servicedef.AssertionConfig{URL: srv.URL, JSONPath: "$.checks.db", Regex: "up"}}
	res, err := p.Check(context.Background(), desc, time.Now().Add(2*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != servicedef.StatusUp {
		t.Fatalf("expected up, got %s: %s", res.Status, res.Message)
	}
}

func TestCustomProbeJSONPathMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"checks":{"db":"down"}}`))
	}))
	defer srv.Close()

	p := NewUptimeAPIProbe()
	desc := registry.Descriptor{Assertion: &servicedef.AssertionConfig{URL: srv.URL, JSONPath: "$.checks.db", Regex: "up"}}
	res, err := p.Check(context.Background(), desc, time.Now().Add(2*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != servicedef.StatusDown {
		t.Fatalf("expected down, got %s", res.Status)
	}
}

func TestCustomProbeStatusCodeGate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewCustomProbe()
	desc := registry.Descriptor{Assertion: &servicedef.AssertionConfig{URL: srv.URL, StatusCodes: []int{200}}}
	res, err := p.Check(context.Background(), desc, time.Now().Add(2*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != servicedef.StatusDown {
		t.Fatalf("expected down, got %s", res.Status)
	}
}
