package postbox

import (
	"regexp"
	"strings"
)

// Address length limits.
const (
	MaxLocalPartLength   = 64
	MaxDomainLength      = 255
	maxDomainLabelLength = 63
)

var (
	localPartRe = regexp.MustCompile(`^[a-z0-9]+([.\-_][a-z0-9]+)*$`)
	domainRe    = regexp.MustCompile(`^([a-z0-9]+(-[a-z0-9]+)*\.)+[a-z][a-z0-9]*(-[a-z0-9]+)*$`)
)

// Address is a messaging address of the form local#domain.
// Both parts are lowercase; the zero value is not valid.
type Address struct {
	Local  string
	Domain string
}

// ParseAddress parses and validates an address string.
func ParseAddress(s string) (Address, error) {
	local, domain, ok := strings.Cut(s, "#")
	if !ok {
		return Address{}, &ValidationError{Field: "address", Message: "missing # separator"}
	}
	if len(local) > MaxLocalPartLength || !localPartRe.MatchString(local) {
		return Address{}, &ValidationError{Field: "address", Message: "invalid local part"}
	}
	if len(domain) > MaxDomainLength || !domainRe.MatchString(domain) {
		return Address{}, &ValidationError{Field: "address", Message: "invalid domain"}
	}
	for _, label := range strings.Split(domain, ".") {
		if len(label) > maxDomainLabelLength {
			return Address{}, &ValidationError{Field: "address", Message: "domain label too long"}
		}
	}
	return Address{Local: local, Domain: domain}, nil
}

// String returns the canonical local#domain form.
func (a Address) String() string {
	return a.Local + "#" + a.Domain
}

// IsLocal reports whether the address belongs to the given serving domain.
func (a Address) IsLocal(domain string) bool {
	return domain != "" && a.Domain == domain
}
