// internal/handler/caller.go
package handler

import (
	"net"
	"net/http"
	"strings"

	"github.com/unclebandit/outreach-engine/internal/quota"
	"github.com/unclebandit/outreach-engine/internal/service"
)

const (
	HeaderCallerID = "X-Caller-ID"
	HeaderTier     = "X-Subscription-Tier"
	HeaderSession  = "X-Session-ID"
)

// CallerFrom reads the identity set by the upstream auth layer. Requests
// without one are guests keyed by their session, or by client address when
// no session is given.
func CallerFrom(r *http.Request) service.Caller {
	if id := strings.TrimSpace(r.Header.Get(HeaderCallerID)); id != "" {
		return service.Caller{ID: id, Tier: r.Header.Get(HeaderTier)}
	}

	session := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if session == "" {
		session = strings.TrimSpace(r.Header.Get(HeaderSession))
	}
	if session == "" {
		session = clientAddr(r)
	}
	return service.Caller{ID: "guest:" + session, Tier: string(quota.TierGuest)}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
