package probes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/guardant/sentinel/internal/domain/checkresult"
	"github.com/guardant/sentinel/internal/domain/servicedef"
	"github.com/guardant/sentinel/internal/registry"
	"github.com/guardant/sentinel/internal/resilience"
)

// KeywordProbe fetches desc.Target over HTTP and checks the response
// body for (or against) a keyword.
type KeywordProbe struct {
	MaxBodyBytes int64
}

func (KeywordProbe) Type() servicedef.Type { return servicedef.TypeKeyword }

func (p KeywordProbe) Check(ctx context.Context, desc registry.Descriptor, deadline time.Time) (checkresult.Result, error) {
	cfg := desc.Keyword
	if cfg == nil || cfg.Keyword == "" {
		return result(desc, servicedef.StatusUnknown, "missing keyword config", 0, false, nil), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.Target, nil)
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

	limit := p.MaxBodyBytes
	if limit <= 0 {
		limit = 1 << 20
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return result(desc, servicedef.StatusDown, fmt.Sprintf("body read failed: %v", err), elapsed, true, nil), nil
	}
	text := string(body)

	keyword, haystack := cfg.Keyword, text
	if !cfg.CaseSensitive {
		keyword, haystack = strings.ToLower(keyword), strings.ToLower(text)
	}
	present := strings.Contains(haystack, keyword)

	ok := present == cfg.MustContain
	if !ok {
		verb := "missing required"
		if !cfg.MustContain {
			verb = "unexpectedly present"
		}
		return result(desc, servicedef.StatusDown, fmt.Sprintf("keyword %q %s", cfg.Keyword, verb), elapsed, true, map[string]any{"status_code": resp.StatusCode}), nil
	}
	return result(desc, servicedef.StatusUp, "keyword condition satisfied", elapsed, true, map[string]any{"status_code": resp.StatusCode}), nil
}
