package utils

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateAccessCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := GenerateAccessCode()
		if err != nil {
			t.Fatalf("GenerateAccessCode failed: %v", err)
		}
		if len(code) != len(AccessCodePrefix)+AccessCodeRandomLength {
			t.Fatalf("unexpected length %d for %q", len(code), code)
		}
		if !strings.HasPrefix(code, AccessCodePrefix) {
			t.Errorf("code %q missing prefix", code)
		}
		if !IsValidAccessCode(code) {
			t.Errorf("generated code %q does not pass validation", code)
		}
		seen[code] = true
	}
	if len(seen) < 190 {
		t.Errorf("too many duplicates: %d unique of 200", len(seen))
	}
}

func TestNormalizeAccessCode(t *testing.T) {
	if got := NormalizeAccessCode("  musa7k2p1q\n"); got != "MUSA7K2P1Q" {
		t.Errorf("got %q", got)
	}
	if IsValidAccessCode(NormalizeAccessCode("musa-1")) {
		t.Error("hyphenated code should not validate")
	}
}

func TestIsValidTreeKey(t *testing.T) {
	for _, k := range []string{"", "a/b", "a.b", "a#", "a$", "a[0]"} {
		if IsValidTreeKey(k) {
			t.Errorf("expected %q to be rejected", k)
		}
	}
	if !IsValidTreeKey("01HZX3") {
		t.Error("expected plain key to be accepted")
	}
}

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT("uid-1", "r@example.com", "secret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT failed: %v", err)
	}
	claims, err := ValidateJWT(token, "secret")
	if err != nil {
		t.Fatalf("ValidateJWT failed: %v", err)
	}
	if claims.UserID != "uid-1" || claims.Email != "r@example.com" {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if _, err := ValidateJWT(token, "other"); err == nil {
		t.Error("expected validation to fail with wrong secret")
	}
}

func TestJWTExpired(t *testing.T) {
	token, err := GenerateJWT("uid-1", "r@example.com", "secret", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateJWT failed: %v", err)
	}
	if _, err := ValidateJWT(token, "secret"); err == nil {
		t.Error("expected expired token to be rejected")
	}
}

func TestStartOfDayMillis(t *testing.T) {
	ts := time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC).UnixMilli()
	want := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC).UnixMilli()
	if got := StartOfDayMillis(ts); got != want {
		t.Errorf("got %d, want %d", got, want)
	}
}
