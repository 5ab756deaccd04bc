package postbox

import (
	"strings"
	"testing"
)

func TestReadReservations(t *testing.T) {
	t.Run("valid CSV", func(t *testing.T) {
		input := "alice#example.com,code1\nbob#example.com, code2\n"
		got, err := ReadReservations(strings.NewReader(input))
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 reservations, got %d", len(got))
		}
		if got["alice#example.com"] != "code1" {
			t.Errorf("alice code %q", got["alice#example.com"])
		}
		if got["bob#example.com"] != "code2" {
			t.Errorf("bob code %q, leading space should be trimmed", got["bob#example.com"])
		}
	})

	t.Run("empty input", func(t *testing.T) {
		got, err := ReadReservations(strings.NewReader(""))
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected no reservations, got %d", len(got))
		}
	})

	t.Run("invalid address", func(t *testing.T) {
		if _, err := ReadReservations(strings.NewReader("not-an-address,code\n")); err == nil {
			t.Error("expected error for invalid address")
		}
	})

	t.Run("empty code", func(t *testing.T) {
		if _, err := ReadReservations(strings.NewReader("alice#example.com,\n")); err == nil {
			t.Error("expected error for empty code")
		}
	})

	t.Run("wrong field count", func(t *testing.T) {
		if _, err := ReadReservations(strings.NewReader("alice#example.com,code,extra\n")); err == nil {
			t.Error("expected error for extra field")
		}
	})
}
