package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// ExtractIP returns the client address of r: the host part of RemoteAddr.
// With trustProxy set the first X-Forwarded-For entry wins, then X-Real-IP.
// Only enable it behind a proxy that overwrites these headers; they are
// client-controlled otherwise.
func ExtractIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := forwardedIP(r); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func forwardedIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	return strings.TrimSpace(r.Header.Get("X-Real-IP"))
}
