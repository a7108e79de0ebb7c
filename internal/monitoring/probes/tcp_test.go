package probes

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/guardant/sentinel/internal/domain/servicedef"
	"github.com/guardant/sentinel/internal/registry"
)

func TestTCPProbeUpOnPlainConnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	desc := registry.Descriptor{Target: ln.Addr().String()}
	res, err := NewTCPProbe().Check(context.Background(), desc, time.Now().Add(2*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != servicedef.StatusUp {
		t.Fatalf("expected up, got %s", res.Status)
	}
}

func TestTCPProbeBannerMatch(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		bufio.NewReader(conn).ReadString('\n')
		conn.Write([]byte("+OK ready\n"))
	}()

	desc := registry.Descriptor{Target: ln.Addr().String(), TCP: &servicedef.TCPConfig{Send: "PING\n", Banner: "+OK"}}
	res, err := NewPortProbe().Check(context.Background(), desc, time.Now().Add(2*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != servicedef.StatusUp {
		t.Fatalf("expected up, got %s: %s", res.Status, res.Message)
	}
}

func TestTCPProbeDownOnRefusedConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	desc := registry.Descriptor{Target: addr}
	res, err := NewTCPProbe().Check(context.Background(), desc, time.Now().Add(2*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != servicedef.StatusDown {
		t.Fatalf("expected down, got %s", res.Status)
	}
}
