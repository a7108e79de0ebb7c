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

func TestGitHubProbeDownOnFailingWorkflow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"workflow_runs":[{"status":"completed","conclusion":"failure","head_branch":"main"}]}`))
	}))
	defer srv.Close()

	p := GitHubProbe{BaseURL: srv.URL}
	desc := registry.Descriptor{GitHub: &servicedef.GitHubConfig{Repo: "acme/widgets", Branch: "main", CheckWorkflows: true}}
	res, err := p.Check(context.Background(), desc, time.Now().Add(2*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != servicedef.StatusDown {
		t.Fatalf("expected down, got %s", res.Status)
	}
}

func TestGitHubProbeDegradedOnIssueThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"open_issues_count":50}`))
	}))
	defer srv.Close()

	p := GitHubProbe{BaseURL: srv.URL}
	desc := registry.Descriptor{GitHub: &servicedef.GitHubConfig{Repo: "acme/widgets", CheckIssues: true, IssueThreshold: 10}}
	res, err := p.Check(context.Background(), desc, time.Now().Add(2*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != servicedef.StatusDegraded {
		t.Fatalf("expected degraded, got %s", res.Status)
	}
}

func TestGitHubProbeUpWhenHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"workflow_runs":[{"status":"completed","conclusion":"success","head_branch":"main"}]}`))
	}))
	defer srv.Close()

	p := GitHubProbe{BaseURL: srv.URL}
	desc := registry.Descriptor{GitHub: &servicedef.GitHubConfig{Repo: "acme/widgets", Branch: "main", CheckWorkflows: true}}
	res, err := p.Check(context.Background(), desc, time.Now().Add(2*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != servicedef.StatusUp {
		t.Fatalf("expected up, got %s", res.Status)
	}
}
