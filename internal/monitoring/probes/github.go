package probes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/guardant/sentinel/internal/domain/checkresult"
	"github.com/guardant/sentinel/internal/domain/servicedef"
	"github.com/guardant/sentinel/internal/registry"
	"github.com/guardant/sentinel/internal/resilience"
)

// GitHubProbe checks repository health via the REST API: workflow run
// conclusions on Branch, and/or open-issue count against IssueThreshold.
type GitHubProbe struct {
	BaseURL string // overridable in tests; defaults to api.github.com
}

func (GitHubProbe) Type() servicedef.Type { return servicedef.TypeGitHub }

type workflowRunsResponse struct {
	WorkflowRuns []struct {
		Conclusion string `json:"conclusion"`
		Status     string `json:"status"`
		HeadBranch string `json:"head_branch"`
	} `json:"workflow_runs"`
}

type repoResponse struct {
	OpenIssuesCount int `json:"open_issues_count"`
}

func (p GitHubProbe) Check(ctx context.Context, desc registry.Descriptor, deadline time.Time) (checkresult.Result, error) {
	cfg := desc.GitHub
	if cfg == nil || cfg.Repo == "" {
		return result(desc, servicedef.StatusUnknown, "missing github config", 0, false, nil), nil
	}
	base := p.BaseURL
	if base == "" {
		base = "https://api.github.com"
	}
	client := &http.Client{Timeout: time.Until(deadline)}

	start := time.Now()
	var failing []string
	var openIssues int

	if cfg.CheckWorkflows {
		url := fmt.Sprintf("%s/repos/%s/actions/runs?branch=%s&per_page=5", base, cfg.Repo, cfg.Branch)
		var runs workflowRunsResponse
		if err := p.getJSON(ctx, client, url, cfg.Token, &runs); err != nil {
			return result(desc, servicedef.StatusUnknown, fmt.Sprintf("workflow query failed: %v", err), time.Since(start), false, nil), fmt.Errorf("%w: %v", resilience.ErrNetwork, err)
		}
		for _, run := range runs.WorkflowRuns {
			if run.Status == "completed" && run.Conclusion != "success" && run.Conclusion != "" {
				failing = append(failing, run.Conclusion)
			}
		}
	}

	if cfg.CheckIssues {
		url := fmt.Sprintf("%s/repos/%s", base, cfg.Repo)
		var repo repoResponse
		if err := p.getJSON(ctx, client, url, cfg.Token, &repo); err != nil {
			return result(desc, servicedef.StatusUnknown, fmt.Sprintf("repo query failed: %v", err), time.Since(start), false, nil), fmt.Errorf("%w: %v", resilience.ErrNetwork, err)
		}
		openIssues = repo.OpenIssuesCount
	}

	elapsed := time.Since(start)
	meta := map[string]any{"open_issues": openIssues, "failing_runs": failing}

	if len(failing) > 0 {
		return result(desc, servicedef.StatusDown, fmt.Sprintf("%d recent workflow run(s) not successful", len(failing)), elapsed, true, meta), nil
	}
	if cfg.CheckIssues && cfg.IssueThreshold > 0 && openIssues > cfg.IssueThreshold {
		return result(desc, servicedef.StatusDegraded, fmt.Sprintf("open issues %d exceeds threshold %d", openIssues, cfg.IssueThreshold), elapsed, true, meta), nil
	}
	return result(desc, servicedef.StatusUp, "repository healthy", elapsed, true, meta), nil
}

func (GitHubProbe) getJSON(ctx context.Context, client *http.Client, url, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("github api returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
