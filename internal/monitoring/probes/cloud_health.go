package probes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/guardant/sentinel/internal/domain/checkresult"
	"github.com/guardant/sentinel/internal/domain/servicedef"
	"github.com/guardant/sentinel/internal/registry"
	"github.com/guardant/sentinel/internal/resilience"
)

// CloudHealthProbe polls a cloud provider's public status feed and
// reports degraded/down when any of Services has an open incident in
// Region. The probe reads the feed's `incidents` array, or `items` when
// that is absent, with gjson and matches each entry's region and
// service (or service_name) fields; no per-provider path is configured.
type CloudHealthProbe struct {
	provider servicedef.Type

	// StatusURL overrides the provider's default feed URL (tests).
	StatusURL string
}

func NewAWSHealthProbe() *CloudHealthProbe {
	return &CloudHealthProbe{provider: servicedef.TypeAWSHealth, StatusURL: "https://health.aws.amazon.com/public/currentevents"}
}
func NewAzureHealthProbe() *CloudHealthProbe {
	return &CloudHealthProbe{provider: servicedef.TypeAzureHealth, StatusURL: "https://status.azure.com/en-us/status/feed/"}
}
func NewGCPHealthProbe() *CloudHealthProbe {
	return &CloudHealthProbe{provider: servicedef.TypeGCPHealth, StatusURL: "https://status.cloud.google.com/incidents.json"}
}

func (p *CloudHealthProbe) Type() servicedef.Type { return p.provider }

func (p *CloudHealthProbe) Check(ctx context.Context, desc registry.Descriptor, deadline time.Time) (checkresult.Result, error) {
	cfg := desc.Cloud
	if cfg == nil {
		return result(desc, servicedef.StatusUnknown, "missing cloud health config", 0, false, nil), nil
	}
	url := p.StatusURL
	if url == "" {
		return result(desc, servicedef.StatusUnknown, fmt.Sprintf("no status feed configured for %s", p.provider), 0, false, nil), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return result(desc, servicedef.StatusUnknown, fmt.Sprintf("invalid request: %v", err), 0, false, nil), nil
	}
	client := &http.Client{Timeout: time.Until(deadline)}

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return result(desc, servicedef.StatusUnknown, fmt.Sprintf("status feed fetch failed: %v", err), elapsed, false, nil), fmt.Errorf("%w: %v", resilience.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return result(desc, servicedef.StatusDown, fmt.Sprintf("status feed read failed: %v", err), elapsed, true, nil), nil
	}
	if !gjson.ValidBytes(body) {
		return result(desc, servicedef.StatusUnknown, "status feed returned non-json body", elapsed, true, nil), nil
	}

	incidents := gjson.GetBytes(body, "incidents")
	if !incidents.Exists() {
		incidents = gjson.GetBytes(body, "items")
	}

	affected := 0
	var matched []string
	incidents.ForEach(func(_, incident gjson.Result) bool {
		region := incident.Get("region").String()
		service := incident.Get("service").String()
		if service == "" {
			service = incident.Get("service_name").String()
		}
		if cfg.Region != "" && region != "" && !strings.EqualFold(region, cfg.Region) {
			return true
		}
		for _, s := range cfg.Services {
			if strings.EqualFold(s, service) {
				affected++
				matched = append(matched, service)
				break
			}
		}
		return true
	})

	meta := map[string]any{"affected_services": matched}
	if affected == 0 {
		return result(desc, servicedef.StatusUp, "no open incidents for monitored services", elapsed, true, meta), nil
	}
	if affected == len(cfg.Services) {
		return result(desc, servicedef.StatusDown, fmt.Sprintf("%d/%d monitored services affected", affected, len(cfg.Services)), elapsed, true, meta), nil
	}
	return result(desc, servicedef.StatusDegraded, fmt.Sprintf("%d/%d monitored services affected", affected, len(cfg.Services)), elapsed, true, meta), nil
}
