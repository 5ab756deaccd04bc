package postbox

import (
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"regexp"

	"github.com/rbaliyan/postbox/store"
)

// Key material limits. Values are base64 string lengths except the login
// key, which is a fixed-length hex string.
const (
	LoginKeyLength       = 128
	MinPrivateDataKeyLen = 44
	MaxPrivateDataKeyLen = 200
	MinPublicKeyLen      = 500
	MaxPublicKeyLen      = 2000
	MinPrivateKeyLen     = 1000
	MaxPrivateKeyLen     = 8000
)

var (
	loginKeyRe = regexp.MustCompile(`^[0-9a-f]{128}$`)
	base64Re   = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)
)

// LoginKeyHash derives the stored credential from a login key.
func LoginKeyHash(loginKey string) string {
	sum := sha512.Sum512([]byte(loginKey))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func validateLoginKey(loginKey string) error {
	if !loginKeyRe.MatchString(loginKey) {
		return &ValidationError{Field: "loginKey", Message: "must be 128 lowercase hex characters"}
	}
	return nil
}

func validateBase64Field(field, value string, min, max int) error {
	if len(value) < min || len(value) > max {
		return &ValidationError{Field: field, Message: fmt.Sprintf("length must be between %d and %d", min, max)}
	}
	if !base64Re.MatchString(value) {
		return &ValidationError{Field: field, Message: "must be base64"}
	}
	return nil
}

func validatePrivateDataKey(key string) error {
	return validateBase64Field("privateDataKey", key, MinPrivateDataKeyLen, MaxPrivateDataKeyLen)
}

// validateKeyPairs requires exactly one encryption and one signature pair
// with plausible key material sizes.
func validateKeyPairs(pairs []store.KeyPair) error {
	var enc, sig int
	for i := range pairs {
		switch pairs[i].Type {
		case store.KeyTypeEncryption:
			enc++
		case store.KeyTypeSignature:
			sig++
		default:
			return &ValidationError{Field: "keyPairs", Message: "unknown key type " + pairs[i].Type}
		}
		if err := validateBase64Field("keyPairs.pubkey", pairs[i].Pubkey, MinPublicKeyLen, MaxPublicKeyLen); err != nil {
			return err
		}
		if err := validateBase64Field("keyPairs.privkey", pairs[i].Privkey, MinPrivateKeyLen, MaxPrivateKeyLen); err != nil {
			return err
		}
	}
	if enc != 1 || sig != 1 {
		return &ValidationError{Field: "keyPairs", Message: "exactly one encryption and one signature key pair required"}
	}
	return nil
}
