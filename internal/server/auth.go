package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/keshon/soundboard/internal/policy"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "malformed request body")
		return
	}

	role, ok := s.creds.Authenticate(req.Username, req.Password)
	if !ok {
		log.Warn().Str("username", req.Username).Str("ip", clientIP(r)).Msg("login rejected")
		writeMessage(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	sess, token, err := s.sessions.Create(req.Username, role, "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.setSessionCookie(w, token)

	log.Info().Str("username", sess.Username).Str("role", string(role)).Msg("login")
	writeJSON(w, http.StatusOK, map[string]any{
		"username": sess.Username,
		"role":     role,
	})
}

// handleGuestStart issues an anonymous guest session when guest access is
// enabled and the caller's IP is not blocked.
func (s *Server) handleGuestStart(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	guest := s.store.Guest()
	if !guest.Enabled {
		writeMessage(w, http.StatusForbidden, "guest access is disabled")
		return
	}
	if s.store.IPBlocked(ip) {
		writeMessage(w, http.StatusForbidden, "guest access is disabled")
		return
	}

	username := "guest-" + uuid.NewString()[:8]
	sess, token, err := s.sessions.Create(username, policy.RoleGuest, ip)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.setSessionCookie(w, token)

	log.Info().Str("username", sess.Username).Str("ip", ip).Msg("guest session started")
	writeJSON(w, http.StatusOK, map[string]any{
		"username": sess.Username,
		"role":     policy.RoleGuest,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	s.sessions.Destroy(sess.ID)
	s.clearSessionCookie(w)
	writeMessage(w, http.StatusOK, "logged out")
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"username": sess.Username,
		"role":     sess.Role,
	})
}
