package server

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/keshon/soundboard/internal/policy"
	"github.com/keshon/soundboard/internal/session"
)

type contextKey int

const sessionKey contextKey = iota

func sessionFrom(r *http.Request) *session.Session {
	s, _ := r.Context().Value(sessionKey).(*session.Session)
	return s
}

// requireAuth resolves the session cookie. Guest sessions are re-validated
// on every request: if guest access has been switched off or the IP has been
// blocked in the meantime, the session is torn down and the caller denied.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(session.CookieName)
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "not logged in")
			return
		}
		sess, err := s.sessions.Resolve(cookie.Value)
		if err != nil {
			s.clearSessionCookie(w)
			writeMessage(w, http.StatusUnauthorized, "not logged in")
			return
		}

		if sess.Role == policy.RoleGuest {
			guest := s.store.Guest()
			if !guest.Enabled || s.store.IPBlocked(sess.IP) {
				s.sessions.Destroy(sess.ID)
				s.clearSessionCookie(w)
				writeMessage(w, http.StatusUnauthorized, "guest access revoked")
				return
			}
		}

		next(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sess)))
	}
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		if !sessionFrom(r).Role.Privileged() {
			writeMessage(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, r)
	})
}

func (s *Server) requireSuperadmin(next http.HandlerFunc) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		if sessionFrom(r).Role != policy.RoleSuperadmin {
			writeMessage(w, http.StatusForbidden, "superadmin access required")
			return
		}
		next(w, r)
	})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   30 * 24 * 3600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if ip, _, found := strings.Cut(fwd, ","); found || ip != "" {
			return strings.TrimSpace(ip)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// loginThrottle rate-limits credential-bearing endpoints per source IP so
// the plain string password compare can't be brute-forced cheaply.
type loginThrottle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newLoginThrottle() *loginThrottle {
	return &loginThrottle{limiters: make(map[string]*rate.Limiter)}
}

func (t *loginThrottle) limiter(ip string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	lim, ok := t.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(1), 5)
		t.limiters[ip] = lim
	}
	return lim
}

func (t *loginThrottle) limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !t.limiter(clientIP(r)).Allow() {
			writeMessage(w, http.StatusTooManyRequests, "too many attempts, slow down")
			return
		}
		next(w, r)
	}
}
