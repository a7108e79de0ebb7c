package probes

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/guardant/sentinel/internal/domain/checkresult"
	"github.com/guardant/sentinel/internal/domain/servicedef"
	"github.com/guardant/sentinel/internal/registry"
)

// PingProbe sends an ICMP echo request. Raw ICMP sockets require
// CAP_NET_RAW (or root), which the daemon may not have in every
// deployment; when the ICMP echo fails for any reason, PingProbe tries
// a TCP connect to each of desc.Ping.FallbackToPorts in list order and
// reports up on the first port that accepts.
type PingProbe struct{}

func (PingProbe) Type() servicedef.Type { return servicedef.TypePing }

func (PingProbe) Check(ctx context.Context, desc registry.Descriptor, deadline time.Time) (checkresult.Result, error) {
	start := time.Now()
	rtt, err := icmpEcho(ctx, desc.Target, time.Until(deadline))
	if err == nil {
		return result(desc, servicedef.StatusUp, "echo reply received", rtt, false, nil), nil
	}

	var fallback []int
	if desc.Ping != nil {
		fallback = desc.Ping.FallbackToPorts
	}
	if len(fallback) == 0 {
		return result(desc, servicedef.StatusDown, fmt.Sprintf("icmp unreachable: %v", err), time.Since(start), false, nil), nil
	}

	for _, port := range fallback {
		addr := net.JoinHostPort(desc.Target, fmt.Sprintf("%d", port))
		d := net.Dialer{}
		conn, derr := d.DialContext(ctx, "tcp", addr)
		if derr == nil {
			conn.Close()
			return result(desc, servicedef.StatusUp, fmt.Sprintf("icmp unavailable, fallback tcp:%d reachable", port), time.Since(start), false, map[string]any{"fallback_port": port}), nil
		}
	}
	return result(desc, servicedef.StatusDown, "icmp unreachable and all fallback ports refused", time.Since(start), false, nil), nil
}

// icmpEcho opens a raw ICMP socket (ip4:icmp) and sends a single echo
// request, returning
// the round-trip time. It deliberately does not retry — the engine
// owns retry policy.
func icmpEcho(ctx context.Context, host string, timeout time.Duration) (time.Duration, error) {
	ipaddr, err := net.ResolveIPAddr("ip4", host)
	if err != nil {
		return 0, err
	}
	conn, err := net.DialTimeout("ip4:icmp", ipaddr.String(), timeout)
	if err != nil {
		return 0, fmt.Errorf("open icmp socket (pid %d, likely missing CAP_NET_RAW): %w", os.Getpid(), err)
	}
	defer conn.Close()

	id := os.Getpid() & 0xffff
	msg := buildEchoRequest(id, 1)

	deadline := time.Now().Add(timeout)
	conn.SetDeadline(deadline)

	start := time.Now()
	if _, err := conn.Write(msg); err != nil {
		return 0, err
	}
	reply := make([]byte, 512)
	for {
		n, err := conn.Read(reply)
		if err != nil {
			return 0, err
		}
		if isEchoReply(reply[:n], id) {
			return time.Since(start), nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}
	}
}

func buildEchoRequest(id, seq int) []byte {
	msg := make([]byte, 8)
	msg[0] = 8 // type: echo request
	msg[1] = 0 // code
	msg[4] = byte(id >> 8)
	msg[5] = byte(id)
	msg[6] = byte(seq >> 8)
	msg[7] = byte(seq)
	chksum := icmpChecksum(msg)
	msg[2] = byte(chksum >> 8)
	msg[3] = byte(chksum)
	return msg
}

func icmpChecksum(b []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	return ^uint16(sum)
}

func isEchoReply(b []byte, wantID int) bool {
	if len(b) < 8 {
		return false
	}
	// the kernel strips the IPv4 header on some platforms but not
	// others; scan for the ICMP header at offset 0 or 20.
	for _, off := range []int{0, 20} {
		if len(b) < off+8 {
			continue
		}
		h := b[off:]
		if h[0] == 0 /* echo reply */ {
			id := int(h[4])<<8 | int(h[5])
			if id == wantID {
				return true
			}
		}
	}
	return false
}
