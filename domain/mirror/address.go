package mirror

import (
	"fmt"
	"regexp"
	"strings"
)

// missedMessageLocal matches the local part of a missed-message reply
// address: "mm" followed by a 32-character lowercase hex token.
var missedMessageLocal = regexp.MustCompile(`^mm[0-9a-f]{32}$`)

// AddressCodec encodes and decodes channel email addresses against the
// configured gateway pattern, e.g. "%s@mail.banter.dev".
type AddressCodec struct {
	pattern string
	domain  string
}

// NewAddressCodec builds a codec for a gateway pattern. The pattern must
// contain exactly one %s placeholder for the local part.
func NewAddressCodec(pattern string) (*AddressCodec, error) {
	if strings.Count(pattern, "%s") != 1 {
		return nil, fmt.Errorf("gateway pattern %q must contain exactly one %%s", pattern)
	}
	at := strings.LastIndex(pattern, "@")
	if at < 0 || at == len(pattern)-1 {
		return nil, fmt.Errorf("gateway pattern %q must contain a domain", pattern)
	}
	return &AddressCodec{
		pattern: pattern,
		domain:  strings.ToLower(pattern[at+1:]),
	}, nil
}

// Encode returns the gateway email address for a channel token.
func (c *AddressCodec) Encode(token string) string {
	return fmt.Sprintf(c.pattern, token)
}

// Decode extracts the channel token from a gateway address. Addresses on a
// different domain are rejected.
func (c *AddressCodec) Decode(address string) (string, error) {
	local, domain, err := splitAddress(address)
	if err != nil {
		return "", err
	}
	if domain != c.domain {
		return "", fmt.Errorf("address %q is not on gateway domain %s", address, c.domain)
	}
	return local, nil
}

// IsMissedMessageAddress reports whether address is a missed-message reply
// address (mm + 32 lowercase hex chars in the local part). These bypass
// ingestion rate limiting: the token was minted by us, one per notification.
func IsMissedMessageAddress(address string) bool {
	local, _, err := splitAddress(address)
	if err != nil {
		return false
	}
	return missedMessageLocal.MatchString(local)
}

func splitAddress(address string) (local, domain string, err error) {
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return "", "", fmt.Errorf("malformed email address %q", address)
	}
	return address[:at], strings.ToLower(address[at+1:]), nil
}
