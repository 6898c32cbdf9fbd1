package admission

import (
	"net"
	"net/http"
	"strings"
)

// IdentityFor extracts the opaque client identity from a request: the first
// X-Forwarded-For hop when present, else the connection's remote host. The
// gate and throttle only ever see this string.
func IdentityFor(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// LoginIdentity scopes the failure window to client + account, so one
// attacker cannot lock out an account from everywhere, and one address
// cannot spray many accounts unnoticed.
func LoginIdentity(clientIP, account string) string {
	return clientIP + "|" + strings.ToLower(strings.TrimSpace(account))
}
