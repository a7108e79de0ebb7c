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

func TestKeywordProbeMustContain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("all systems operational"))
	}))
	defer srv.Close()

	desc := registry.Descriptor{Target: srv.URL, Keyword: &servicedef.KeywordConfig{Keyword: "operational", MustContain: true}}
	res, err := KeywordProbe{}.Check(context.Background(), desc, time.Now().Add(2*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != servicedef.StatusUp {
		t.Fatalf("expected up, got %s", res.Status)
	}
}

func TestKeywordProbeMustNotContainButDoes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("maintenance mode enabled"))
	}))
	defer srv.Close()

	desc := registry.Descriptor{Target: srv.URL, Keyword: &servicedef.KeywordConfig{Keyword: "maintenance", MustContain: false}}
	res, err := KeywordProbe{}.Check(context.Background(), desc, time.Now().Add(2*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != servicedef.StatusDown {
		t.Fatalf("expected down, got %s", res.Status)
	}
}

func TestKeywordProbeCaseInsensitiveByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ALL SYSTEMS OPERATIONAL"))
	}))
	defer srv.Close()

	desc := registry.Descriptor{Target: srv.URL, Keyword: &servicedef.KeywordConfig{Keyword: "operational", MustContain: true, CaseSensitive: false}}
	res, err := KeywordProbe{}.Check(context.Background(), desc, time.Now().Add(2*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != servicedef.StatusUp {
		t.Fatalf("expected up, got %s", res.Status)
	}
}
