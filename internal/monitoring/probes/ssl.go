package probes

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/guardant/sentinel/internal/domain/checkresult"
	"github.com/guardant/sentinel/internal/domain/servicedef"
	"github.com/guardant/sentinel/internal/registry"
	"github.com/guardant/sentinel/internal/resilience"
)

// SSLProbe connects with TLS and checks the leaf certificate's
// remaining validity window against WarningDays, and optionally that
// the full chain verifies. Classification sticks to the probe
// contract's four verdicts (up/down/degraded/unknown): a certificate
// within its warning window, including exactly at the WarningDays
// boundary, is reported degraded rather than introducing a fifth
// "warning" verdict.
type SSLProbe struct{}

func (SSLProbe) Type() servicedef.Type { return servicedef.TypeSSL }

func (SSLProbe) Check(ctx context.Context, desc registry.Descriptor, deadline time.Time) (checkresult.Result, error) {
	warningDays := 14
	requireFullChain := false
	if cfg := desc.SSL; cfg != nil {
		if cfg.WarningDays > 0 {
			warningDays = cfg.WarningDays
		}
		requireFullChain = cfg.RequireFullChain
	}

	host := desc.Target
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	d := &tls.Dialer{
		NetDialer: &net.Dialer{Deadline: deadline},
		Config:    &tls.Config{ServerName: host, InsecureSkipVerify: !requireFullChain},
	}
	target := desc.Target
	if _, _, err := net.SplitHostPort(target); err != nil {
		target = net.JoinHostPort(target, "443")
	}

	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", target)
	elapsed := time.Since(start)
	if err != nil {
		return result(desc, servicedef.StatusDown, fmt.Sprintf("tls handshake failed: %v", err), elapsed, false, nil), fmt.Errorf("%w: %v", resilience.ErrNetwork, err)
	}
	defer conn.Close()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return result(desc, servicedef.StatusUnknown, "non-tls connection established", elapsed, false, nil), nil
	}
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return result(desc, servicedef.StatusDown, "no peer certificate presented", elapsed, true, nil), nil
	}
	leaf := state.PeerCertificates[0]
	remaining := time.Until(leaf.NotAfter)

	meta := map[string]any{"not_after": leaf.NotAfter, "subject": leaf.Subject.CommonName}
	if remaining <= 0 {
		return result(desc, servicedef.StatusDown, "certificate expired", elapsed, true, meta), nil
	}
	if requireFullChain && len(state.VerifiedChains) == 0 {
		return result(desc, servicedef.StatusDown, "chain did not verify", elapsed, true, meta), nil
	}
	if remaining <= time.Duration(warningDays)*24*time.Hour {
		return result(desc, servicedef.StatusDegraded, fmt.Sprintf("certificate expires in %s", remaining.Round(time.Hour)), elapsed, true, meta), nil
	}
	return result(desc, servicedef.StatusUp, "certificate valid", elapsed, true, meta), nil
}
