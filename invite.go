package postbox

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strconv"

	"golang.org/x/crypto/hkdf"
)

// MaxInviteCodeID is the highest derivable invite code id.
const MaxInviteCodeID = 0xfff

const inviteSecretLen = 8

var inviteCodeRe = regexp.MustCompile(`^[0-9a-f]{16}([0-9a-f]{3,4})$`)

// GenerateInviteCode derives the invite code for the given id from the
// master secret. Codes are self-verifying: the secret part is
// HKDF-SHA512(secret, info=idStr) and the id is appended in hex, so
// validity can be checked without storing issued codes.
func GenerateInviteCode(secret []byte, id uint16) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("postbox: invite secret is empty")
	}
	if id > MaxInviteCodeID {
		return "", fmt.Errorf("postbox: invite code id %d out of range", id)
	}

	idStr := fmt.Sprintf("%03x", id)
	r := hkdf.New(sha512.New, secret, nil, []byte(idStr))
	buf := make([]byte, inviteSecretLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("derive invite code: %w", err)
	}
	return hex.EncodeToString(buf) + idStr, nil
}

// verifyInviteCode checks a code against the master secret.
func verifyInviteCode(secret []byte, code string) bool {
	m := inviteCodeRe.FindStringSubmatch(code)
	if m == nil {
		return false
	}
	id, err := strconv.ParseUint(m[1], 16, 16)
	if err != nil || id > MaxInviteCodeID {
		return false
	}
	expected, err := GenerateInviteCode(secret, uint16(id))
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(code))
}
