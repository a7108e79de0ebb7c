package probes

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/guardant/sentinel/internal/domain/checkresult"
	"github.com/guardant/sentinel/internal/domain/servicedef"
	"github.com/guardant/sentinel/internal/registry"
	"github.com/guardant/sentinel/internal/resilience"
)

// WebProbe checks an HTTP(S) endpoint for an acceptable status code
// within timeout, per the web probe semantics table.
type WebProbe struct {
	// RollingAvg, when set, returns the recent healthy-response rolling
	// average for desc.ID so Check can flag degraded on a 2x spike.
	RollingAvg func(serviceID string) (time.Duration, bool)
}

func (WebProbe) Type() servicedef.Type { return servicedef.TypeWeb }

func (p WebProbe) Check(ctx context.Context, desc registry.Descriptor, deadline time.Time) (checkresult.Result, error) {
	cfg := desc.Web
	if cfg == nil {
		return result(desc, servicedef.StatusUnknown, "missing web config", 0, false, nil), nil
	}

	client := &http.Client{
		Timeout: time.Until(deadline),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if cfg.MaxRedirects > 0 && len(via) >= cfg.MaxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.VerifySSL},
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.Target, nil)
	if err != nil {
		return result(desc, servicedef.StatusUnknown, fmt.Sprintf("invalid request: %v", err), 0, false, nil), nil
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if cfg.AuthHeader != "" {
		req.Header.Set("Authorization", cfg.AuthHeader)
	}

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil || isTimeoutErr(err) {
			return result(desc, servicedef.StatusUnknown, fmt.Sprintf("request failed: %v", err), elapsed, false, nil), fmt.Errorf("%w: %v", resilience.ErrTimeout, err)
		}
		return result(desc, servicedef.StatusUnknown, fmt.Sprintf("request failed: %v", err), elapsed, false, nil), fmt.Errorf("%w: %v", resilience.ErrNetwork, err)
	}
	defer resp.Body.Close()

	acceptable := cfg.AcceptableStatus
	if len(acceptable) == 0 {
		acceptable = []int{200}
	}
	ok := false
	for _, s := range acceptable {
		if resp.StatusCode == s {
			ok = true
			break
		}
	}
	if !ok {
		return result(desc, servicedef.StatusDown, fmt.Sprintf("unacceptable status %d", resp.StatusCode), elapsed, true, map[string]any{"status_code": resp.StatusCode}), nil
	}

	status := servicedef.StatusUp
	msg := "ok"
	if p.RollingAvg != nil {
		if avg, ok := p.RollingAvg(desc.ID); ok && avg > 0 && elapsed > 2*avg {
			status = servicedef.StatusDegraded
			msg = fmt.Sprintf("response time %s exceeds 2x rolling average %s", elapsed, avg)
		}
	}
	return result(desc, status, msg, elapsed, true, map[string]any{"status_code": resp.StatusCode}), nil
}

func isTimeoutErr(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
