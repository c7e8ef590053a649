package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serveClientIP(t *testing.T, opts ClientIPOptions, remoteAddr, xff string) string {
	t.Helper()
	var got string
	h := ClientIPWithOptions(opts)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIPFromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", http.NoBody)
	req.RemoteAddr = remoteAddr
	if xff != "" {
		req.Header.Set("X-Forwarded-For", xff)
	}
	h.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestClientIP_NoTrustedHopsIgnoresXFF(t *testing.T) {
	got := serveClientIP(t, ClientIPOptions{}, "10.0.0.5:1234", "203.0.113.9")
	if got != "10.0.0.5" {
		t.Fatalf("ip = %q, want direct peer", got)
	}
}

func TestClientIP_PublicPeerNeverTrustsXFF(t *testing.T) {
	got := serveClientIP(t, ClientIPOptions{TrustedHops: 1}, "198.51.100.7:443", "203.0.113.9")
	if got != "198.51.100.7" {
		t.Fatalf("ip = %q, forwarded header from public peer must be ignored", got)
	}
}

func TestClientIP_SingleHopTakesRightmost(t *testing.T) {
	got := serveClientIP(t, ClientIPOptions{TrustedHops: 1}, "10.0.0.5:1234", "203.0.113.9, 192.0.2.44")
	if got != "192.0.2.44" {
		t.Fatalf("ip = %q, want rightmost XFF entry", got)
	}
}

func TestClientIP_TwoHops(t *testing.T) {
	got := serveClientIP(t, ClientIPOptions{TrustedHops: 2}, "10.0.0.5:1234", "203.0.113.9, 192.0.2.44")
	if got != "203.0.113.9" {
		t.Fatalf("ip = %q, want second-from-end entry", got)
	}
}

func TestClientIP_FewerEntriesThanHopsFailsClosed(t *testing.T) {
	got := serveClientIP(t, ClientIPOptions{TrustedHops: 3}, "10.0.0.5:1234", "203.0.113.9")
	if got != "10.0.0.5" {
		t.Fatalf("ip = %q, want fail-closed direct peer", got)
	}
}
