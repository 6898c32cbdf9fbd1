package pii

import (
	"net"
	"strings"
)

// UnknownIP is the sentinel for input that parses as neither IPv4 nor IPv6.
const UnknownIP = "unknown"

// PseudonymizeIP coarsens a client address deterministically and
// irreversibly: IPv4 keeps the /24 (last octet zeroed), IPv6 keeps the /64
// routing prefix (host bits zeroed, rendered compressed). No randomness is
// involved, so the same input always maps to the same output.
func PseudonymizeIP(raw string) string {
	ip := net.ParseIP(strings.TrimSpace(raw))
	if ip == nil {
		return UnknownIP
	}

	if v4 := ip.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String()
	}

	return ip.Mask(net.CIDRMask(64, 128)).String()
}
