package postbox

import (
	"errors"
	"strings"
	"testing"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "simple address", input: "alice#example.com"},
		{name: "local part with separators", input: "alice.b-c_d#example.com"},
		{name: "subdomain", input: "alice#mail.example.co.uk"},
		{name: "digits", input: "user42#example42.com"},
		{name: "missing separator", input: "alice.example.com", wantErr: true},
		{name: "empty local part", input: "#example.com", wantErr: true},
		{name: "empty domain", input: "alice#", wantErr: true},
		{name: "uppercase local part", input: "Alice#example.com", wantErr: true},
		{name: "uppercase domain", input: "alice#Example.com", wantErr: true},
		{name: "leading separator in local part", input: ".alice#example.com", wantErr: true},
		{name: "trailing separator in local part", input: "alice.#example.com", wantErr: true},
		{name: "doubled separator in local part", input: "a..b#example.com", wantErr: true},
		{name: "bare tld", input: "alice#com", wantErr: true},
		{name: "numeric tld", input: "alice#example.123", wantErr: true},
		{name: "second separator", input: "alice#ex#ample.com", wantErr: true},
		{name: "local part at max length", input: strings.Repeat("a", MaxLocalPartLength) + "#example.com"},
		{name: "local part too long", input: strings.Repeat("a", MaxLocalPartLength+1) + "#example.com", wantErr: true},
		{name: "domain label too long", input: "alice#" + strings.Repeat("a", 64) + ".com", wantErr: true},
		{name: "domain too long", input: "alice#" + strings.Repeat("abcdefgh.", 29) + "com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := ParseAddress(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got none", tt.input)
				}
				if !errors.Is(err, ErrInvalidInput) {
					t.Errorf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if addr.String() != tt.input {
				t.Errorf("expected round trip %q, got %q", tt.input, addr.String())
			}
		})
	}
}

func TestAddressIsLocal(t *testing.T) {
	addr, err := ParseAddress("alice#example.com")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !addr.IsLocal("example.com") {
		t.Error("expected example.com to be local")
	}
	if addr.IsLocal("other.org") {
		t.Error("expected other.org to be foreign")
	}
}
