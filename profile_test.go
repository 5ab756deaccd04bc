package postbox

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestProfile(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	defer svc.Close(ctx)

	registerTestAccount(t, svc, "alice#example.com")
	pb := svc.Client("alice#example.com")

	t.Run("unknown key is rejected", func(t *testing.T) {
		_, err := pb.SetProfile(ctx, "shoe_size", []byte("44"), 0)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("new entry requires stamp zero", func(t *testing.T) {
		_, err := pb.SetProfile(ctx, "name", []byte("Alice"), 42)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for absent entry with nonzero stamp, got %v", err)
		}
	})

	t.Run("insert and update under CAS", func(t *testing.T) {
		m, err := pb.SetProfile(ctx, "name", []byte("Alice"), 0)
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		if m.LastModified == 0 {
			t.Fatal("expected nonzero stamp")
		}

		m2, err := pb.SetProfile(ctx, "name", []byte("Alice B."), m.LastModified)
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if m2.LastModified <= m.LastModified {
			t.Error("expected stamp bump on update")
		}

		// Stale stamp conflicts and carries the current stamp.
		_, err = pb.SetProfile(ctx, "name", []byte("Mallory"), m.LastModified)
		ce, ok := AsConflict(err)
		if !ok {
			t.Fatalf("expected ConflictError, got %v", err)
		}
		if ce.LastModified != m2.LastModified {
			t.Errorf("conflict stamp %d, want current %d", ce.LastModified, m2.LastModified)
		}

		// Inserting an existing entry with stamp zero also conflicts.
		if _, err := pb.SetProfile(ctx, "name", []byte("Alice"), 0); err == nil {
			t.Error("expected conflict inserting over existing entry")
		}
	})

	t.Run("list returns entries ordered by key", func(t *testing.T) {
		if _, err := pb.SetProfile(ctx, "organization", []byte("ACME"), 0); err != nil {
			t.Fatalf("set: %v", err)
		}
		if _, err := pb.SetProfile(ctx, "footer", []byte("sent from postbox"), 0); err != nil {
			t.Fatalf("set: %v", err)
		}

		entries, err := pb.Profile(ctx, 0)
		if err != nil {
			t.Fatalf("profile: %v", err)
		}
		if len(entries) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(entries))
		}
		if entries[0].Key != "footer" || entries[1].Key != "name" || entries[2].Key != "organization" {
			t.Errorf("entries out of key order: %s, %s, %s", entries[0].Key, entries[1].Key, entries[2].Key)
		}
	})

	t.Run("modifiedAfter filters unchanged entries", func(t *testing.T) {
		entries, err := pb.Profile(ctx, 0)
		if err != nil {
			t.Fatalf("profile: %v", err)
		}
		var latest uint64
		for _, e := range entries {
			if e.LastModified > latest {
				latest = e.LastModified
			}
		}

		m, err := pb.SetProfile(ctx, "avatar_type", []byte("image/png"), 0)
		if err != nil {
			t.Fatalf("set: %v", err)
		}

		changed, err := pb.Profile(ctx, latest)
		if err != nil {
			t.Fatalf("profile: %v", err)
		}
		if len(changed) != 1 || changed[0].Key != "avatar_type" {
			t.Fatalf("expected only the new entry, got %d entries", len(changed))
		}
		if changed[0].LastModified != m.LastModified {
			t.Errorf("stamp mismatch: %d vs %d", changed[0].LastModified, m.LastModified)
		}
		if !bytes.Equal(changed[0].Value, []byte("image/png")) {
			t.Errorf("value mismatch: %q", changed[0].Value)
		}
	})
}
