package postbox

import (
	"errors"
	"strings"
	"testing"

	"github.com/rbaliyan/postbox/store"
)

func TestValidateLoginKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "valid key", key: strings.Repeat("0123456789abcdef", 8)},
		{name: "empty", key: "", wantErr: true},
		{name: "too short", key: strings.Repeat("ab", 63), wantErr: true},
		{name: "too long", key: strings.Repeat("ab", 65), wantErr: true},
		{name: "uppercase hex", key: strings.Repeat("AB", 64), wantErr: true},
		{name: "non-hex characters", key: strings.Repeat("gh", 64), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateLoginKey(tt.key)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Errorf("expected ErrInvalidInput, got %v", err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoginKeyHash(t *testing.T) {
	h := LoginKeyHash(testLoginKey)
	// base64 of a SHA-512 digest is always 88 characters
	if len(h) != 88 {
		t.Errorf("expected 88-character hash, got %d", len(h))
	}
	if h != LoginKeyHash(testLoginKey) {
		t.Error("hash must be deterministic")
	}
	if h == LoginKeyHash(testLoginKeyAlt) {
		t.Error("distinct keys must not collide")
	}
}

func TestValidatePrivateDataKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "minimum length", key: strings.Repeat("A", MinPrivateDataKeyLen)},
		{name: "maximum length", key: strings.Repeat("A", MaxPrivateDataKeyLen)},
		{name: "with padding", key: strings.Repeat("A", 46) + "=="},
		{name: "too short", key: strings.Repeat("A", MinPrivateDataKeyLen-1), wantErr: true},
		{name: "too long", key: strings.Repeat("A", MaxPrivateDataKeyLen+1), wantErr: true},
		{name: "not base64", key: strings.Repeat("!", MinPrivateDataKeyLen), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePrivateDataKey(tt.key)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Errorf("expected ErrInvalidInput, got %v", err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateKeyPairs(t *testing.T) {
	valid := testKeyPairs()

	t.Run("valid pair set", func(t *testing.T) {
		if err := validateKeyPairs(valid); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("missing signature pair", func(t *testing.T) {
		err := validateKeyPairs(valid[:1])
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("duplicate encryption pair", func(t *testing.T) {
		pairs := []store.KeyPair{valid[0], valid[0], valid[1]}
		err := validateKeyPairs(pairs)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("unknown key type", func(t *testing.T) {
		pairs := testKeyPairs()
		pairs[0].Type = "mac"
		err := validateKeyPairs(pairs)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("public key too short", func(t *testing.T) {
		pairs := testKeyPairs()
		pairs[0].Pubkey = strings.Repeat("A", MinPublicKeyLen-1)
		err := validateKeyPairs(pairs)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("private key too long", func(t *testing.T) {
		pairs := testKeyPairs()
		pairs[1].Privkey = strings.Repeat("A", MaxPrivateKeyLen+1)
		err := validateKeyPairs(pairs)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}
