package crypto

import (
	"strings"
	"testing"
	"time"
)

func TestGeneratePasswordLength(t *testing.T) {
	for _, n := range []int{0, 1, 16, 32, 128} {
		if got := len(GeneratePassword(n, PasswordChars)); got != n {
			t.Errorf("len(GeneratePassword(%d)) = %d", n, got)
		}
	}
}

func TestGeneratePasswordAlphabet(t *testing.T) {
	pw := GeneratePassword(256, HexChars)
	for _, c := range pw {
		if !strings.ContainsRune(HexChars, c) {
			t.Fatalf("character %q outside alphabet", c)
		}
	}
}

func TestGeneratePasswordNotConstant(t *testing.T) {
	if GeneratePassword(32, PasswordChars) == GeneratePassword(32, PasswordChars) {
		t.Error("two generated passwords are identical")
	}
}

func TestTOTPVector(t *testing.T) {
	// RFC 6238 appendix B test vectors (SHA-1, 8 digits truncated to 6
	// here we check the 6-digit suffix of the published values).
	secret := "3132333435363738393031323334353637383930"
	tests := []struct {
		unix int64
		want string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1234567890, "005924"},
		{2000000000, "279037"},
	}
	for _, tt := range tests {
		got, err := TOTP(secret, time.Unix(tt.unix, 0))
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("TOTP(t=%d) = %s, want %s", tt.unix, got, tt.want)
		}
	}
}

func TestTOTPStableWithinWindow(t *testing.T) {
	secret := GeneratePassword(128, HexChars)
	base := time.Unix(1700000010, 0)
	a, err := TOTP(secret, base)
	if err != nil {
		t.Fatal(err)
	}
	b, err := TOTP(secret, base.Add(10*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("codes differ within one 30s window: %s vs %s", a, b)
	}
}

func TestTOTPRejectsBadSecret(t *testing.T) {
	if _, err := TOTP("not-hex", time.Now()); err == nil {
		t.Error("expected error for non-hex secret")
	}
}
