package auth

import (
	"crypto/rsa"
	"testing"
)

func TestWriteAndLoadRSAKeyPair(t *testing.T) {
	privatePath, publicPath, err := WriteRSAKeyPair(t.TempDir(), 2048)
	if err != nil {
		t.Fatalf("write key pair: %v", err)
	}
	priv, err := LoadRSAPrivateKey(privatePath)
	if err != nil {
		t.Fatalf("load private key: %v", err)
	}
	pub, err := LoadRSAPublicKey(publicPath)
	if err != nil {
		t.Fatalf("load public key: %v", err)
	}
	if pub.N.Cmp(priv.PublicKey.N) != 0 || pub.E != priv.PublicKey.E {
		t.Fatalf("public key does not match private key")
	}
	if _, err := LoadRSAPublicKey(privatePath); err == nil {
		t.Fatalf("expected private pem to be rejected as public key")
	}
}

func TestJWKSRoundTrip(t *testing.T) {
	privatePath, _, err := WriteRSAKeyPair(t.TempDir(), 2048)
	if err != nil {
		t.Fatalf("write key pair: %v", err)
	}
	priv, err := LoadRSAPrivateKey(privatePath)
	if err != nil {
		t.Fatalf("load private key: %v", err)
	}
	set := EncodeJWKS(map[string]*rsa.PublicKey{"b": &priv.PublicKey, "a": &priv.PublicKey})
	if len(set.Keys) != 2 || set.Keys[0].Kid != "a" || set.Keys[1].Kid != "b" {
		t.Fatalf("unexpected jwks ordering: %+v", set.Keys)
	}
	pub, err := set.Keys[0].PublicKey()
	if err != nil {
		t.Fatalf("decode jwk: %v", err)
	}
	if pub.N.Cmp(priv.PublicKey.N) != 0 || pub.E != priv.PublicKey.E {
		t.Fatalf("decoded key mismatch")
	}
	if _, err := (JWK{Kty: "EC", N: "x", E: "AQAB"}).PublicKey(); err == nil {
		t.Fatalf("expected non-rsa key to fail")
	}
}

func TestParseKeyFiles(t *testing.T) {
	got, err := ParseKeyFiles(" old=/keys/old.pem , next=/keys/next.pem ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 2 || got["old"] != "/keys/old.pem" || got["next"] != "/keys/next.pem" {
		t.Fatalf("unexpected map: %+v", got)
	}
	if _, err := ParseKeyFiles("broken"); err == nil {
		t.Fatalf("expected malformed entry to fail")
	}
	if got, err := ParseKeyFiles(""); err != nil || got != nil {
		t.Fatalf("expected nil for empty input, got %+v %v", got, err)
	}
}
