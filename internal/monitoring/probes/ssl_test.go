package probes

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/guardant/sentinel/internal/domain/servicedef"
	"github.com/guardant/sentinel/internal/registry"
)

// startExpiringTLSServer serves a self-signed leaf certificate whose
// NotAfter is notAfter, so tests can pin the probe's "remaining
// validity" computation to a known value instead of depending on
// httptest's fixed, decades-long test certificate.
func startExpiringTLSServer(t *testing.T, notAfter time.Time) string {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "sentinel-ssl-probe-test"},
		NotBefore:    notAfter.Add(-48 * time.Hour),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				if tc, ok := c.(*tls.Conn); ok {
					_ = tc.Handshake()
				}
				time.Sleep(50 * time.Millisecond)
			}(conn)
		}
	}()

	return ln.Addr().String()
}

func TestSSLProbeUpWellWithinWindow(t *testing.T) {
	addr := startExpiringTLSServer(t, time.Now().Add(400*24*time.Hour))

	desc := registry.Descriptor{Target: addr, SSL: &servicedef.SSLConfig{WarningDays: 1}}
	res, err := SSLProbe{}.Check(context.Background(), desc, time.Now().Add(2*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != servicedef.StatusUp {
		t.Fatalf("expected up, got %s: %s", res.Status, res.Message)
	}
}

// TestSSLProbeDegradedWithinWarningWindow reproduces spec.md §8 end-to-end
// scenario 3 literally: a 30-day warning window with a certificate
// expiring in 20 days must classify as degraded, not a separate
// "warning" verdict — the probe contract only defines
// up/down/degraded/unknown.
func TestSSLProbeDegradedWithinWarningWindow(t *testing.T) {
	addr := startExpiringTLSServer(t, time.Now().Add(20*24*time.Hour))

	desc := registry.Descriptor{Target: addr, SSL: &servicedef.SSLConfig{WarningDays: 30}}
	res, err := SSLProbe{}.Check(context.Background(), desc, time.Now().Add(2*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != servicedef.StatusDegraded {
		t.Fatalf("expected degraded, got %s: %s", res.Status, res.Message)
	}
}

// TestSSLProbeDegradedFarInsideWarningWindow covers a certificate deep
// inside an oversized warning window (remaining << warningDays), still
// degraded rather than up.
func TestSSLProbeDegradedFarInsideWarningWindow(t *testing.T) {
	addr := startExpiringTLSServer(t, time.Now().Add(5*24*time.Hour))

	desc := registry.Descriptor{Target: addr, SSL: &servicedef.SSLConfig{WarningDays: 999999}}
	res, err := SSLProbe{}.Check(context.Background(), desc, time.Now().Add(2*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != servicedef.StatusDegraded {
		t.Fatalf("expected degraded, got %s: %s", res.Status, res.Message)
	}
}

func TestSSLProbeDownWhenExpired(t *testing.T) {
	addr := startExpiringTLSServer(t, time.Now().Add(-time.Hour))

	desc := registry.Descriptor{Target: addr, SSL: &servicedef.SSLConfig{WarningDays: 30}}
	res, err := SSLProbe{}.Check(context.Background(), desc, time.Now().Add(2*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != servicedef.StatusDown {
		t.Fatalf("expected down, got %s: %s", res.Status, res.Message)
	}
}
