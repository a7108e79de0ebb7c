package failover

import (
	"testing"

	"github.com/guardant/sentinel/internal/domain/endpoint"
	"github.com/guardant/sentinel/internal/domain/failoverrule"
)

func TestTargetSelectorLowestLoad(t *testing.T) {
	s := newTargetSelector()
	source := endpoint.Endpoint{ID: "src", Region: "us-east"}
	candidates := []endpoint.Endpoint{
		{ID: "a", Region: "us-east", Capacity: 100, CurrentLoad: 80},
		{ID: "b", Region: "us-east", Capacity: 100, CurrentLoad: 10},
	}

	picked, ok := s.Select(failoverrule.SelectLowestLoad, source, candidates)
	if !ok || picked.ID != "b" {
		t.Fatalf("expected b (lowest load), got %+v ok=%v", picked, ok)
	}
}

func TestTargetSelectorPrefersSourceRegion(t *testing.T) {
	s := newTargetSelector()
	source := endpoint.Endpoint{ID: "src", Region: "us-east"}
	candidates := []endpoint.Endpoint{
		{ID: "far", Region: "eu-west", Priority: 1},
		{ID: "near", Region: "us-east", Priority: 5},
	}

	picked, ok := s.Select(failoverrule.SelectHighestPriority, source, candidates)
	if !ok || picked.ID != "near" {
		t.Fatalf("expected same-region candidate preferred, got %+v", picked)
	}
}

func TestTargetSelectorFallsBackCrossRegion(t *testing.T) {
	s := newTargetSelector()
	source := endpoint.Endpoint{ID: "src", Region: "us-east"}
	candidates := []endpoint.Endpoint{
		{ID: "only", Region: "eu-west", Priority: 1},
	}

	picked, ok := s.Select(failoverrule.SelectHighestPriority, source, candidates)
	if !ok || picked.ID != "only" {
		t.Fatalf("expected cross-region fallback, got %+v ok=%v", picked, ok)
	}
}

func TestTargetSelectorRoundRobinAdvances(t *testing.T) {
	s := newTargetSelector()
	source := endpoint.Endpoint{ID: "src", Region: "us-east"}
	candidates := []endpoint.Endpoint{
		{ID: "a", Region: "us-east"},
		{ID: "b", Region: "us-east"},
	}

	first, _ := s.Select(failoverrule.SelectRoundRobin, source, candidates)
	second, _ := s.Select(failoverrule.SelectRoundRobin, source, candidates)
	if first.ID == second.ID {
		t.Fatalf("expected round robin to alternate, got %s then %s", first.ID, second.ID)
	}
}

func TestTargetSelectorNoCandidates(t *testing.T) {
	s := newTargetSelector()
	_, ok := s.Select(failoverrule.SelectRandom, endpoint.Endpoint{}, nil)
	if ok {
		t.Fatal("expected no selection from an empty candidate list")
	}
}
