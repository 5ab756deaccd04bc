package postbox

import (
	"testing"
	"time"
)

func TestChallengeTag(t *testing.T) {
	key := []byte("test-challenge-key")
	c := &Challenge{
		Type:      ChallengeTypeReservation,
		User:      "alice#example.com",
		Timestamp: uint64(time.Now().Unix()),
		Text:      DefaultReservationText,
	}
	tag := challengeTag(key, c)

	t.Run("valid tag verifies", func(t *testing.T) {
		if !verifyChallengeTag(key, c, tag) {
			t.Error("expected tag to verify")
		}
	})

	t.Run("tag is deterministic", func(t *testing.T) {
		if challengeTag(key, c) != tag {
			t.Error("expected identical tag for identical challenge")
		}
	})

	t.Run("tampered fields fail verification", func(t *testing.T) {
		tampered := []struct {
			name   string
			mutate func(c *Challenge)
		}{
			{"type", func(c *Challenge) { c.Type = ChallengeTypeReset }},
			{"user", func(c *Challenge) { c.User = "bob#example.com" }},
			{"timestamp", func(c *Challenge) { c.Timestamp++ }},
			{"text", func(c *Challenge) { c.Text = "something else" }},
		}
		for _, tt := range tampered {
			t.Run(tt.name, func(t *testing.T) {
				mod := *c
				tt.mutate(&mod)
				if verifyChallengeTag(key, &mod, tag) {
					t.Errorf("tag verified after tampering with %s", tt.name)
				}
			})
		}
	})

	t.Run("wrong key fails verification", func(t *testing.T) {
		if verifyChallengeTag([]byte("other-key"), c, tag) {
			t.Error("tag verified under a different key")
		}
	})

	t.Run("field shifting does not collide", func(t *testing.T) {
		// Moving bytes between adjacent fields must change the tag.
		a := &Challenge{Type: "rese", User: "talice#example.com", Timestamp: c.Timestamp, Text: c.Text}
		b := &Challenge{Type: "reset", User: "alice#example.com", Timestamp: c.Timestamp, Text: c.Text}
		if challengeTag(key, a) == challengeTag(key, b) {
			t.Error("expected distinct tags for shifted field boundaries")
		}
	})
}

func TestChallengeFreshness(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		timestamp time.Time
		want      bool
	}{
		{"current", now, true},
		{"near window edge", now.Add(-14 * time.Minute), true},
		{"just expired", now.Add(-(ChallengeMaxAge + 2*time.Second)), false},
		{"far past", now.Add(-24 * time.Hour), false},
		{"future", now.Add(2 * time.Minute), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Challenge{Timestamp: uint64(tt.timestamp.Unix())}
			if got := c.fresh(now); got != tt.want {
				t.Errorf("fresh() = %v, want %v", got, tt.want)
			}
		})
	}
}
