package gateway

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/koko/internal/config"
)

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Method string `json:"method,omitempty"` // "token" | "none"
	Reason string `json:"reason,omitempty"`
}

// ResolvedAuth holds the gateway's effective credentials. An empty Token
// leaves the gateway open, which is how the mobile app reaches a backend
// on the local network.
type ResolvedAuth struct {
	Token string
}

// Enabled reports whether requests must carry a token.
func (a ResolvedAuth) Enabled() bool { return a.Token != "" }

// ResolveAuth resolves credentials from config. Environment overrides are
// applied by the config loader.
func ResolveAuth(cfg config.GatewayAuth) ResolvedAuth {
	return ResolvedAuth{Token: strings.TrimSpace(cfg.Token)}
}

// Authorize checks a presented token against the server's.
func Authorize(serverAuth ResolvedAuth, token string) AuthResult {
	if !serverAuth.Enabled() {
		return AuthResult{OK: true, Method: "none"}
	}
	if token == "" {
		return AuthResult{OK: false, Reason: "token required"}
	}
	if !safeEqual(token, serverAuth.Token) {
		return AuthResult{OK: false, Reason: "token_mismatch"}
	}
	return AuthResult{OK: true, Method: "token"}
}

// requestToken extracts a bearer token from the Authorization header or,
// for browsers that cannot set headers on WebSocket upgrades, the token
// query parameter.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
	}
	return r.URL.Query().Get("token")
}

// safeEqual performs a constant-time string comparison.
// It avoids early-return on length mismatch to prevent leaking secret length via timing.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}

// authRateLimiter tracks failed auth attempts per IP to slow brute force.
// Stale entries are pruned whenever a failure is recorded.
type authRateLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	now      func() time.Time
}

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxIPs   = 10000
)

func newAuthRateLimiter() *authRateLimiter {
	return &authRateLimiter{failures: make(map[string][]time.Time), now: time.Now}
}

func hostOf(remoteAddr string) string {
	host, _, _ := net.SplitHostPort(remoteAddr)
	if host == "" {
		host = remoteAddr
	}
	return host
}

// recent returns failures inside the window. Callers hold mu.
func (l *authRateLimiter) recent(host string, cutoff time.Time) []time.Time {
	times := l.failures[host]
	filtered := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}
	if len(filtered) == 0 {
		delete(l.failures, host)
		return nil
	}
	l.failures[host] = filtered
	return filtered
}

func (l *authRateLimiter) allow(remoteAddr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.recent(hostOf(remoteAddr), l.now().Add(-authRateWindow))) < authRateMaxFails
}

func (l *authRateLimiter) recordFailure(remoteAddr string) {
	host := hostOf(remoteAddr)

	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-authRateWindow)
	if _, exists := l.failures[host]; !exists && len(l.failures) >= authRateMaxIPs {
		for ip := range l.failures {
			l.recent(ip, cutoff)
		}
		if len(l.failures) >= authRateMaxIPs {
			var oldestIP string
			var oldestTime time.Time
			for ip, times := range l.failures {
				if oldestIP == "" || times[0].Before(oldestTime) {
					oldestIP, oldestTime = ip, times[0]
				}
			}
			delete(l.failures, oldestIP)
		}
	}

	l.failures[host] = append(l.failures[host], l.now())
}

// checkWebSocketOrigin validates the Origin header on upgrades. Requests
// without an Origin (native apps, CLI clients) are always allowed.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return originAllowed(origin, allowed)
	}
}
