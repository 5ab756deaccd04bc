package store

import "time"

// Key pair types. Every account carries one pair of each type.
const (
	KeyTypeEncryption = "enc"
	KeyTypeSignature  = "sig"
)

// Account is a registered address with its credentials and key material.
// All key fields are opaque to the server: the login key arrives already
// derived on the client and is stored only as a hash, and the private data
// key is an encrypted blob only the client can open.
type Account struct {
	// Address is the unique account address, "local#domain" form.
	Address string

	// LoginKeyHash is base64(SHA-512(loginKey)).
	LoginKeyHash string

	// PrivateDataKey is the client-encrypted symmetric master key, base64.
	PrivateDataKey string

	// AcceptedTerms is the URL of the terms the client accepted, if any.
	AcceptedTerms string

	// ResetCode, when set, entitles the address to a password reset via
	// the reset challenge. Cleared when the reset completes.
	ResetCode string

	// RegistrationCode is the invite code consumed at registration, if the
	// account was registered through the invite-code challenge.
	RegistrationCode string

	// Language is the locale negotiated at registration (BCP 47 tag).
	Language string

	CreatedAt time.Time
	LastLogin time.Time
}

// KeyPair is an asymmetric key pair belonging to an account. The private
// key is stored client-encrypted; the server never holds usable private
// key material.
type KeyPair struct {
	// Type is KeyTypeEncryption or KeyTypeSignature.
	Type string

	// Pubkey is the public key, base64.
	Pubkey string

	// Privkey is the client-encrypted private key, base64.
	Privkey string

	ValidFrom  time.Time
	ValidUntil time.Time
}
