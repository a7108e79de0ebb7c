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

func TestCloudHealthProbeUpWithNoIncidents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"incidents":[]}`))
	}))
	defer srv.Close()

	p := NewAWSHealthProbe()
	p.StatusURL = srv.URL
	desc := registry.Descriptor{Cloud: &servicedef.CloudHealthConfig{Region: "us-east-1", Services: []string{"EC2"}}}
	res, err := p.Check(context.Background(), desc, time.Now().Add(2*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != servicedef.StatusUp {
		t.Fatalf("expected up, got %s", res.Status)
	}
}

func TestCloudHealthProbeDownWhenAllMonitoredServicesAffected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"incidents":[{"region":"us-east-1","service":"EC2"}]}`))
	}))
	defer srv.Close()

	p := NewAWSHealthProbe()
	p.StatusURL = srv.URL
	desc := registry.Descriptor{Cloud: &servicedef.CloudHealthConfig{Region: "us-east-1", Services: []string{"EC2"}}}
	res, err := p.Check(context.Background(), desc, time.Now().Add(2*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != servicedef.StatusDown {
		t.Fatalf("expected down, got %s", res.Status)
	}
}

func TestCloudHealthProbeDegradedWhenSomeMonitoredServicesAffected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"incidents":[{"region":"us-east-1","service":"EC2"}]}`))
	}))
	defer srv.Close()

	p := NewAWSHealthProbe()
	p.StatusURL = srv.URL
	desc := registry.Descriptor{Cloud: &servicedef.CloudHealthConfig{Region: "us-east-1", Services: []string{"EC2", "S3"}}}
	res, err := p.Check(context.Background(), desc, time.Now().Add(2*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != servicedef.StatusDegraded {
		t.Fatalf("expected degraded, got %s", res.Status)
	}
}
