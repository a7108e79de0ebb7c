package probes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/PaesslerAG/jsonpath"

	"github.com/guardant/sentinel/internal/domain/checkresult"
	"github.com/guardant/sentinel/internal/domain/servicedef"
	"github.com/guardant/sentinel/internal/registry"
	"github.com/guardant/sentinel/internal/resilience"
)

// CustomProbe fetches an assertion URL and evaluates the configured
// JSONPath/regex/status-code checks against the response, covering
// both TypeCustom (arbitrary JSON API) and TypeUptimeAPI (a third-party
// uptime provider's status endpoint, same assertion shape).
type CustomProbe struct {
	typ servicedef.Type
}

func NewCustomProbe() CustomProbe    { return CustomProbe{typ: servicedef.TypeCustom} }
func NewUptimeAPIProbe() CustomProbe { return CustomProbe{typ: servicedef.TypeUptimeAPI} }

func (p CustomProbe) Type() servicedef.Type { return p.typ }

func (p CustomProbe) Check(ctx context.Context, desc registry.Descriptor, deadline time.Time) (checkresult.Result, error) {
	cfg := desc.Assertion
	if cfg == nil {
		return result(desc, servicedef.StatusUnknown, "missing assertion config", 0, false, nil), nil
	}
	url := cfg.URL
	if url == "" {
		url = desc.Target
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
		return result(desc, servicedef.StatusUnknown, fmt.Sprintf("request failed: %v", err), elapsed, false, nil), fmt.Errorf("%w: %v", resilience.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if len(cfg.StatusCodes) > 0 {
		ok := false
		for _, s := range cfg.StatusCodes {
			if resp.StatusCode == s {
				ok = true
				break
			}
		}
		if !ok {
			return result(desc, servicedef.StatusDown, fmt.Sprintf("status %d not in acceptable set", resp.StatusCode), elapsed, true, map[string]any{"status_code": resp.StatusCode}), nil
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return result(desc, servicedef.StatusDown, fmt.Sprintf("body read failed: %v", err), elapsed, true, nil), nil
	}

	meta := map[string]any{"status_code": resp.StatusCode}

	if cfg.JSONPath != "" {
		var parsed any
		if err := json.Unmarshal(body, &parsed); err != nil {
			return result(desc, servicedef.StatusDown, fmt.Sprintf("response is not valid json: %v", err), elapsed, true, meta), nil
		}
		value, err := jsonpath.Get(cfg.JSONPath, parsed)
		if err != nil {
			return result(desc, servicedef.StatusDown, fmt.Sprintf("jsonpath %q not found: %v", cfg.JSONPath, err), elapsed, true, meta), nil
		}
		meta["jsonpath_value"] = value

		if cfg.Regex != "" {
			re, err := regexp.Compile(cfg.Regex)
			if err != nil {
				return result(desc, servicedef.StatusUnknown, fmt.Sprintf("invalid regex: %v", err), elapsed, true, meta), nil
			}
			if !re.MatchString(fmt.Sprintf("%v", value)) {
				return result(desc, servicedef.StatusDown, fmt.Sprintf("jsonpath value %v did not match %q", value, cfg.Regex), elapsed, true, meta), nil
			}
		}
		return result(desc, servicedef.StatusUp, "assertion satisfied", elapsed, true, meta), nil
	}

	if cfg.Regex != "" {
		re, err := regexp.Compile(cfg.Regex)
		if err != nil {
			return result(desc, servicedef.StatusUnknown, fmt.Sprintf("invalid regex: %v", err), elapsed, true, meta), nil
		}
		if !re.Match(body) {
			return result(desc, servicedef.StatusDown, fmt.Sprintf("body did not match %q", cfg.Regex), elapsed, true, meta), nil
		}
		return result(desc, servicedef.StatusUp, "assertion satisfied", elapsed, true, meta), nil
	}

	return result(desc, servicedef.StatusUp, "status code acceptable", elapsed, true, meta), nil
}
