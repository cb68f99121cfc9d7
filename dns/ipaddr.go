package dns

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// ErrMalformedAddress is returned for text or bytes that do not form an IPv4 or
// IPv6 address.
var ErrMalformedAddress = errors.New("malformed ip address")

// ToBytes parses dotted-decimal IPv4 or colon-separated IPv6 text into raw
// address bytes: 4 bytes for IPv4, 16 bytes for IPv6. IPv4-mapped IPv6
// addresses are returned in their 4 byte form. Addresses with a zone are
// rejected.
func ToBytes(text string) (net.IP, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty address", ErrMalformedAddress)
	}
	addr, err := netip.ParseAddr(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformedAddress, text)
	}
	if addr.Zone() != "" {
		return nil, fmt.Errorf("%w: zone not allowed in %q", ErrMalformedAddress, text)
	}
	return net.IP(addr.Unmap().AsSlice()), nil
}

// FromBytes returns the text form of raw address bytes, which must be 4 or 16
// bytes long. IPv4-mapped IPv6 addresses are written as IPv4.
func FromBytes(ip []byte) (string, error) {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return "", fmt.Errorf("%w: %d bytes", ErrMalformedAddress, len(ip))
	}
	return addr.Unmap().String(), nil
}

// IsLocal returns whether ip is a loopback, link-local or private address.
func IsLocal(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsPrivate()
}
