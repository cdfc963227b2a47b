package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestHashPasswordAndCheckPasswordBcrypt(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "" || hash == "s3cret" {
		t.Fatalf("expected opaque hash, got %q", hash)
	}
	if !CheckPassword("s3cret", hash) {
		t.Fatalf("expected bcrypt password check to pass")
	}
	if CheckPassword("wrong", hash) {
		t.Fatalf("expected bcrypt password check to fail")
	}
	if CheckPassword("s3cret", "") {
		t.Fatalf("empty hash must never match")
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("Str0ng#Pw"); err != nil {
		t.Fatalf("expected valid password, got: %v", err)
	}
	cases := map[string]string{
		"short":      "Sh0rt!a",
		"no upper":   "alllowercase123!",
		"no lower":   "ALLUPPERCASE123!",
		"no digit":   "NoDigitsHere!!!",
		"no special": "NoSpecials1234",
		"too long":   "Aa1!" + strings.Repeat("x", 80),
	}
	for name, pw := range cases {
		if err := ValidatePassword(pw); !errors.Is(err, ErrWeakPassword) {
			t.Fatalf("%s: expected ErrWeakPassword, got %v", name, err)
		}
	}
}
