package probes

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/guardant/sentinel/internal/domain/checkresult"
	"github.com/guardant/sentinel/internal/domain/servicedef"
	"github.com/guardant/sentinel/internal/registry"
	"github.com/guardant/sentinel/internal/resilience"
)

// TCPProbe dials a host:port target and optionally exchanges a
// send/expect banner, covering both TypeTCP and TypePort.
type TCPProbe struct {
	typ servicedef.Type
}

func NewTCPProbe() TCPProbe  { return TCPProbe{typ: servicedef.TypeTCP} }
func NewPortProbe() TCPProbe { return TCPProbe{typ: servicedef.TypePort} }

func (p TCPProbe) Type() servicedef.Type { return p.typ }

func (p TCPProbe) Check(ctx context.Context, desc registry.Descriptor, deadline time.Time) (checkresult.Result, error) {
	proto := "tcp"
	var cfg *servicedef.TCPConfig
	if desc.TCP != nil {
		cfg = desc.TCP
		if cfg.Protocol != "" {
			proto = cfg.Protocol
		}
	}

	start := time.Now()
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, proto, desc.Target)
	if err != nil {
		elapsed := time.Since(start)
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return result(desc, servicedef.StatusDown, fmt.Sprintf("connect timeout: %v", err), elapsed, false, nil), fmt.Errorf("%w: %v", resilience.ErrTimeout, err)
		}
		return result(desc, servicedef.StatusDown, fmt.Sprintf("connect refused: %v", err), elapsed, false, nil), nil
	}
	defer conn.Close()
	elapsed := time.Since(start)

	if cfg == nil || cfg.Send == "" {
		return result(desc, servicedef.StatusUp, "connected", elapsed, false, nil), nil
	}

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	} else {
		conn.SetDeadline(deadline)
	}
	if _, err := conn.Write([]byte(cfg.Send)); err != nil {
		return result(desc, servicedef.StatusDown, fmt.Sprintf("write failed: %v", err), elapsed, false, nil), nil
	}

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		if cfg.Banner == "" && cfg.ExpectedResponse == "" {
			return result(desc, servicedef.StatusUp, "connected, no response expected", elapsed, false, nil), nil
		}
		return result(desc, servicedef.StatusDown, fmt.Sprintf("read failed: %v", err), elapsed, false, nil), nil
	}
	got := string(buf[:n])

	if cfg.Banner != "" && !strings.Contains(got, cfg.Banner) {
		return result(desc, servicedef.StatusDown, "banner mismatch", elapsed, true, map[string]any{"response": got}), nil
	}
	if cfg.ExpectedResponse != "" && !strings.Contains(got, cfg.ExpectedResponse) {
		return result(desc, servicedef.StatusDown, "unexpected response", elapsed, true, map[string]any{"response": got}), nil
	}
	return result(desc, servicedef.StatusUp, "connected, response matched", elapsed, true, map[string]any{"response": got}), nil
}
