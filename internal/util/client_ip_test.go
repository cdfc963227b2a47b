package util

import (
	"net/http/httptest"
	"net/netip"
	"testing"
)

func mustProxies(t *testing.T, entries ...string) *TrustedProxies {
	t.Helper()
	p, err := NewTrustedProxies(entries)
	if err != nil {
		t.Fatalf("trusted proxies %v: %v", entries, err)
	}
	return p
}

func TestClientIPResolution(t *testing.T) {
	edge := mustProxies(t, "172.16.0.0/12", "fd00::/8", "192.0.2.1")

	cases := map[string]struct {
		peer      string
		forwarded string
		realIP    string
		proxies   *TrustedProxies
		want      string
	}{
		"untrusted peer keeps its own address": {
			peer: "198.51.100.7:4000", forwarded: "203.0.113.20", realIP: "203.0.113.21",
			want: "198.51.100.7",
		},
		"edge proxy forwards reader address": {
			peer: "172.16.4.2:4000", forwarded: "203.0.113.20",
			proxies: edge, want: "203.0.113.20",
		},
		"rightmost untrusted hop wins": {
			peer: "172.16.4.2:4000", forwarded: "198.51.100.99, 203.0.113.20, 172.20.0.1",
			proxies: edge, want: "203.0.113.20",
		},
		"real ip used when forwarded list is garbage": {
			peer: "172.16.4.2:4000", forwarded: "unknown, ???", realIP: " 203.0.113.30 ",
			proxies: edge, want: "203.0.113.30",
		},
		"only proxies in chain yields first entry": {
			peer: "172.16.4.2:4000", forwarded: "172.17.0.9, 172.18.0.1",
			proxies: edge, want: "172.17.0.9",
		},
		"mapped ipv6 peer is unmapped before lookup": {
			peer: "[::ffff:172.16.4.2]:4000", forwarded: "203.0.113.40",
			proxies: edge, want: "203.0.113.40",
		},
		"ipv6 proxy range": {
			peer: "[fd12::1]:4000", forwarded: "2001:db8::5",
			proxies: edge, want: "2001:db8::5",
		},
		"single host entry does not cover neighbours": {
			peer: "192.0.2.2:4000", forwarded: "203.0.113.50",
			proxies: edge, want: "192.0.2.2",
		},
		"peer without port": {
			peer: "198.51.100.8", want: "198.51.100.8",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/exchange/books", nil)
			req.RemoteAddr = tc.peer
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := ClientIP(req, tc.proxies); got != tc.want {
				t.Fatalf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTrustedProxiesParsing(t *testing.T) {
	if _, err := NewTrustedProxies([]string{"172.16.0.0/33"}); err == nil {
		t.Fatal("expected error for out of range prefix")
	}
	if _, err := NewTrustedProxies([]string{"proxy.internal"}); err == nil {
		t.Fatal("expected error for hostname entry")
	}
	if p, err := NewTrustedProxies([]string{"", "  "}); err != nil || p != nil {
		t.Fatalf("blank entries = %+v, %v; want nil, nil", p, err)
	}

	p := mustProxies(t, "10.1.2.3/8")
	if !p.Contains(netip.MustParseAddr("10.200.0.1")) {
		t.Fatal("prefix should be masked to 10.0.0.0/8")
	}
	var none *TrustedProxies
	if none.Contains(netip.MustParseAddr("10.0.0.1")) {
		t.Fatal("nil allowlist trusts nothing")
	}
}
