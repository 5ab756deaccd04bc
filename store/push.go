package store

import "strings"

// Push environments.
const (
	PushEnvAndroid = "android"
	PushEnvIOS     = "ios"
)

// PushToken is one device push registration.
type PushToken struct {
	// RegistrationToken is the provider-issued token. Its instance id
	// prefix identifies the physical device across token rotations.
	RegistrationToken string `json:"registrationToken"`

	// Environment is PushEnvAndroid or PushEnvIOS.
	Environment string `json:"environment"`
}

// InstanceID returns the device identity prefix of a registration token:
// the substring before the first colon, or the whole token if it has none.
// Tokens sharing an instance id belong to the same device, so registering
// a new token supersedes older ones with the same instance id even when
// they were registered by a different account.
func InstanceID(registrationToken string) string {
	if i := strings.IndexByte(registrationToken, ':'); i >= 0 {
		return registrationToken[:i]
	}
	return registrationToken
}
