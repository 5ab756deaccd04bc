package postbox

import (
	"strings"
	"testing"
)

func TestGenerateInviteCode(t *testing.T) {
	secret := []byte("invite-master-secret")

	t.Run("codes verify against the secret", func(t *testing.T) {
		for _, id := range []uint16{0, 1, 42, 0xfff} {
			code, err := GenerateInviteCode(secret, id)
			if err != nil {
				t.Fatalf("generate id %d: %v", id, err)
			}
			if len(code) < 19 || len(code) > 20 {
				t.Errorf("unexpected code length %d for id %d", len(code), id)
			}
			if !verifyInviteCode(secret, code) {
				t.Errorf("code for id %d failed to verify", id)
			}
		}
	})

	t.Run("id out of range", func(t *testing.T) {
		if _, err := GenerateInviteCode(secret, MaxInviteCodeID+1); err == nil {
			t.Error("expected error for id above MaxInviteCodeID")
		}
	})

	t.Run("empty secret", func(t *testing.T) {
		if _, err := GenerateInviteCode(nil, 1); err == nil {
			t.Error("expected error for empty secret")
		}
	})

	t.Run("distinct ids yield distinct codes", func(t *testing.T) {
		a, _ := GenerateInviteCode(secret, 1)
		b, _ := GenerateInviteCode(secret, 2)
		if a == b {
			t.Error("expected distinct codes")
		}
	})
}

// flipHexDigit replaces the hex digit at position i with a different one.
func flipHexDigit(code string, i int) string {
	replacement := byte('0')
	if code[i] == '0' {
		replacement = '1'
	}
	return code[:i] + string(replacement) + code[i+1:]
}

func TestVerifyInviteCode(t *testing.T) {
	secret := []byte("invite-master-secret")
	code, err := GenerateInviteCode(secret, 7)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	tests := []struct {
		name string
		code string
		want bool
	}{
		{"valid code", code, true},
		{"empty", "", false},
		{"truncated", code[:10], false},
		{"flipped secret byte", flipHexDigit(code, 0), false},
		{"flipped id digit", flipHexDigit(code, len(code)-1), false},
		{"non-hex", strings.Repeat("z", len(code)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := verifyInviteCode(secret, tt.code); got != tt.want {
				t.Errorf("verifyInviteCode(%q) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}

	t.Run("wrong secret", func(t *testing.T) {
		if verifyInviteCode([]byte("other-secret"), code) {
			t.Error("code verified under a different secret")
		}
	})
}
