package postbox

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strconv"
	"time"
)

// Challenge types, ordered by precedence: an account with a pending reset
// gets a reset challenge, a reserved address a reservation challenge, an
// invite-gated domain a code challenge, everything else that cannot
// register a blocked challenge.
const (
	ChallengeTypeReset       = "reset"
	ChallengeTypeReservation = "reservation"
	ChallengeTypeCode        = "code"
	ChallengeTypeBlocked     = "blocked"
)

// ChallengeMaxAge bounds how old a challenge may be at verification time.
const ChallengeMaxAge = 15 * time.Minute

// Default challenge prompts.
const (
	DefaultResetText       = "Enter the recovery code for this address."
	DefaultReservationText = "Enter the reservation code for this address."
	DefaultCodeText        = "Enter a valid invite code."
	DefaultBlockedText     = "This address cannot be registered."
)

// Challenge is a stateless registration challenge. The server keeps no
// record of issued challenges; integrity and freshness are carried by the
// HMAC tag and the timestamp.
type Challenge struct {
	Type      string `json:"type"`
	User      string `json:"user"`
	Timestamp uint64 `json:"timestamp"`
	Text      string `json:"text"`
}

// fresh reports whether the challenge timestamp is within the acceptance
// window at the given time.
func (c *Challenge) fresh(now time.Time) bool {
	age := now.Unix() - int64(c.Timestamp)
	return age >= 0 && age <= int64(ChallengeMaxAge/time.Second)
}

// challengeTag computes the integrity tag over all challenge fields.
func challengeTag(key []byte, c *Challenge) string {
	mac := hmac.New(sha256.New, key)
	io.WriteString(mac, c.Type)
	io.WriteString(mac, "|||")
	io.WriteString(mac, c.User)
	io.WriteString(mac, "|||")
	io.WriteString(mac, strconv.FormatUint(c.Timestamp, 10))
	io.WriteString(mac, "|||")
	io.WriteString(mac, c.Text)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifyChallengeTag checks the tag in constant time.
func verifyChallengeTag(key []byte, c *Challenge, tag string) bool {
	return hmac.Equal([]byte(challengeTag(key, c)), []byte(tag))
}

// newChallenge builds a challenge of the given type for an address,
// stamped with the current time and tagged with the service key.
func (s *service) newChallenge(challengeType, user string) *ChallengeError {
	c := &Challenge{
		Type:      challengeType,
		User:      user,
		Timestamp: uint64(time.Now().Unix()),
		Text:      s.challengeText(challengeType),
	}
	return &ChallengeError{
		Challenge: c,
		Auth:      challengeTag(s.opts.challengeKey, c),
		reason:    ErrChallengeRequired,
	}
}

func (s *service) challengeText(challengeType string) string {
	if text, ok := s.opts.challengeTexts[challengeType]; ok {
		return text
	}
	switch challengeType {
	case ChallengeTypeReset:
		return DefaultResetText
	case ChallengeTypeReservation:
		return DefaultReservationText
	case ChallengeTypeCode:
		return DefaultCodeText
	default:
		return DefaultBlockedText
	}
}
