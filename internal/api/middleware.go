package api

import (
	"crypto/subtle"
	"log"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/ernie/gamehost/internal/auth"
	"github.com/ernie/gamehost/internal/metrics"
)

// requireAPIKey rejects requests without the anon (or service) key when one is configured
func (r *Router) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.opts.AnonKey == "" {
			next(w, req)
			return
		}
		key := req.Header.Get("apikey")
		if key == "" {
			key = req.URL.Query().Get("apikey")
		}
		if !keyEqual(key, r.opts.AnonKey) && !(r.opts.ServiceKey != "" && keyEqual(key, r.opts.ServiceKey)) {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next(w, req)
	}
}

// requireAuth is middleware that validates JWT before calling the handler
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		claims := r.getAuthClaims(req)
		if claims == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, req)
	}
}

// requireAdmin is middleware that validates JWT and checks admin status
func (r *Router) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		claims := r.getAuthClaims(req)
		if claims == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !claims.IsAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, req)
	}
}

// requireService admits only callers presenting the service key as a bearer token
func (r *Router) requireService(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.opts.ServiceKey == "" {
			writeError(w, http.StatusForbidden, "worker access is disabled")
			return
		}
		if !keyEqual(bearerToken(req), r.opts.ServiceKey) {
			writeError(w, http.StatusUnauthorized, "service key required")
			return
		}
		next(w, req)
	}
}

// rateLimit throttles requests per client IP
func (r *Router) rateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if !r.limiter.Allow(r.clientIP(req)) {
			metrics.RateLimited.Inc()
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "too many requests, try again later")
			return
		}
		next(w, req)
	}
}

// getAuthClaims extracts and validates JWT from Authorization header
func (r *Router) getAuthClaims(req *http.Request) *auth.Claims {
	token := bearerToken(req)
	if token == "" {
		return nil
	}
	claims, err := r.auth.ValidateToken(token)
	if err != nil {
		return nil
	}
	return claims
}

func bearerToken(req *http.Request) string {
	authHeader := req.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(authHeader, "Bearer ")
}

func keyEqual(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// clientIP returns the address the rate limiter keys on. Forwarding headers
// are only believed when the direct peer is a configured trusted proxy; the
// client is then the right-most X-Forwarded-For entry that is not itself a
// trusted proxy.
func (r *Router) clientIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	if !r.trustedProxy(host) {
		return host
	}

	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !r.trustedProxy(hop) {
				return hop
			}
		}
	}
	if xri := strings.TrimSpace(req.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return host
}

func (r *Router) trustedProxy(ip string) bool {
	if len(r.proxies) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range r.proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// parseTrustedProxies accepts bare addresses and CIDR prefixes
func parseTrustedProxies(entries []string) []netip.Prefix {
	var out []netip.Prefix
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				log.Printf("Ignoring invalid trusted proxy %q: %v", e, err)
				continue
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			log.Printf("Ignoring invalid trusted proxy %q: %v", e, err)
			continue
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out
}
