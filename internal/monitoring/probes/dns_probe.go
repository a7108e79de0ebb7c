package probes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/guardant/sentinel/internal/domain/checkresult"
	"github.com/guardant/sentinel/internal/domain/servicedef"
	"github.com/guardant/sentinel/internal/registry"
	"github.com/guardant/sentinel/internal/resilience"
)

// DNSProbe resolves desc.Target against the configured resolver
// (8.8.8.8:53 when none is set) and, when ExpectedValue is set, checks the
// returned record set contains it.
type DNSProbe struct{}

func (DNSProbe) Type() servicedef.Type { return servicedef.TypeDNS }

var rrTypes = map[string]uint16{
	"A":     dns.TypeA,
	"AAAA":  dns.TypeAAAA,
	"CNAME": dns.TypeCNAME,
	"MX":    dns.TypeMX,
	"TXT":   dns.TypeTXT,
	"NS":    dns.TypeNS,
	"PTR":   dns.TypePTR,
	"SOA":   dns.TypeSOA,
}

func (DNSProbe) Check(ctx context.Context, desc registry.Descriptor, deadline time.Time) (checkresult.Result, error) {
	cfg := desc.DNS
	recordType := "A"
	resolver := "8.8.8.8:53"
	var expected string
	if cfg != nil {
		if cfg.RecordType != "" {
			recordType = cfg.RecordType
		}
		if cfg.Resolver != "" {
			resolver = ensurePort(cfg.Resolver)
		}
		expected = cfg.ExpectedValue
	}
	qtype, ok := rrTypes[strings.ToUpper(recordType)]
	if !ok {
		return result(desc, servicedef.StatusUnknown, fmt.Sprintf("unsupported record type %q", recordType), 0, false, nil), nil
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(desc.Target), qtype)
	m.RecursionDesired = true

	client := &dns.Client{Timeout: time.Until(deadline)}
	start := time.Now()
	resp, _, err := client.ExchangeContext(ctx, m, resolver)
	elapsed := time.Since(start)
	if err != nil {
		return result(desc, servicedef.StatusUnknown, fmt.Sprintf("query failed: %v", err), elapsed, false, nil), fmt.Errorf("%w: %v", resilience.ErrNetwork, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return result(desc, servicedef.StatusDown, fmt.Sprintf("rcode %s", dns.RcodeToString[resp.Rcode]), elapsed, true, nil), nil
	}
	if len(resp.Answer) == 0 {
		return result(desc, servicedef.StatusDown, "no answer records", elapsed, true, nil), nil
	}

	if expected == "" {
		return result(desc, servicedef.StatusUp, fmt.Sprintf("%d record(s) resolved", len(resp.Answer)), elapsed, true, nil), nil
	}

	values := make([]string, 0, len(resp.Answer))
	for _, rr := range resp.Answer {
		values = append(values, recordValue(rr))
	}
	for _, v := range values {
		if strings.Contains(v, expected) {
			return result(desc, servicedef.StatusUp, "expected value present", elapsed, true, map[string]any{"records": values}), nil
		}
	}
	return result(desc, servicedef.StatusDown, fmt.Sprintf("expected %q not found among %v", expected, values), elapsed, true, map[string]any{"records": values}), nil
}

func recordValue(rr dns.RR) string {
	switch r := rr.(type) {
	case *dns.A:
		return r.A.String()
	case *dns.AAAA:
		return r.AAAA.String()
	case *dns.CNAME:
		return r.Target
	case *dns.MX:
		return r.Mx
	case *dns.TXT:
		return strings.Join(r.Txt, "")
	case *dns.NS:
		return r.Ns
	case *dns.PTR:
		return r.Ptr
	case *dns.SOA:
		return r.Ns
	default:
		return rr.String()
	}
}

func ensurePort(resolver string) string {
	if strings.Contains(resolver, ":") {
		return resolver
	}
	return resolver + ":53"
}
