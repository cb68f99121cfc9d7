// Package dns canonicalizes host names, converts textual IP addresses to raw
// bytes and back, and provides a logging and metrics-keeping resolver for
// genuine (non-overridden) address lookups.
package dns

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/idna"

	"github.com/mjl-/adns"
)

var (
	errTrailingDot = errors.New("dns name has trailing dot")
	errEmptyName   = errors.New("empty dns name")
	errInvalidChar = errors.New("invalid character in dns name")
)

// Domain is a domain name, with one or more labels, with at least an ASCII
// representation, and for IDNA non-ASCII domains a unicode representation.
// The ASCII string must be used for DNS lookups.
type Domain struct {
	// A non-unicode domain, e.g. with A-labels (xn--...) or NR-LDH (non-reserved
	// letters/digits/hyphens) labels. Always in lower case.
	ASCII string

	// Name as U-labels. Empty if this is an ASCII-only domain.
	Unicode string
}

// ParseDomain parses a domain name that can consist of ASCII-only labels or U
// labels (unicode).
// Names are IDN-canonicalized and lower-cased.
func ParseDomain(s string) (Domain, error) {
	if strings.HasSuffix(s, ".") {
		return Domain{}, errTrailingDot
	}
	ascii, err := idna.Lookup.ToASCII(s)
	if err != nil {
		return Domain{}, fmt.Errorf("to ascii: %w", err)
	}
	unicode, err := idna.Lookup.ToUnicode(s)
	if err != nil {
		return Domain{}, fmt.Errorf("to unicode: %w", err)
	}
	if ascii == unicode {
		return Domain{ascii, ""}, nil
	}
	return Domain{ascii, unicode}, nil
}

// CanonicalHost returns the form of host used for matching overrides and as
// cache key: lower case, without a trailing dot, and with unicode labels
// converted to their ASCII (punycode) form.
//
// ASCII names may only contain letters, digits, hyphens, underscores and dots.
// They are only lower-cased, so names with labels that IDNA rejects, like
// underscores in service names, remain usable.
func CanonicalHost(host string) (string, error) {
	s := strings.TrimSuffix(host, ".")
	if s == "" {
		return "", errEmptyName
	}
	for _, c := range s {
		if c >= 0x80 {
			d, err := ParseDomain(s)
			if err != nil {
				return "", err
			}
			return d.ASCII, nil
		}
	}
	for _, c := range s {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_' || c == '.') {
			return "", fmt.Errorf("%w: %q", errInvalidChar, c)
		}
	}
	return strings.ToLower(s), nil
}

// IsNotFound returns whether an error is an adns.DNSError or net.DNSError with
// IsNotFound set. For address lookups, it means the host is unknown.
func IsNotFound(err error) bool {
	var adnsErr *adns.DNSError
	var netErr *net.DNSError
	return err != nil && (errors.As(err, &adnsErr) && adnsErr.IsNotFound || errors.As(err, &netErr) && netErr.IsNotFound)
}
