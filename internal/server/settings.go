package server

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/keshon/soundboard/internal/policy"
	"github.com/keshon/soundboard/internal/storage"
)

// handleSettings returns the settings visible to the caller's role: every
// role sees the toggles it needs to render the UI, privileged roles
// additionally see moderation caps and the lock owner, superadmin sees the
// IP block list.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	guest := s.store.Guest()
	lock := s.store.Lock()

	out := map[string]any{
		"guestEnabled":      guest.Enabled,
		"userUploadEnabled": guest.UserUploadEnabled,
		"playbackLocked":    lock.Locked,
	}
	if sess.Role.Privileged() {
		out["playbackLockedBy"] = lock.LockedBy
		out["maxUploadDuration"] = guest.MaxUploadDuration
		out["maxUploadBytes"] = guest.MaxUploadBytes
	}
	if sess.Role == policy.RoleSuperadmin {
		blocked := guest.BlockedIPs
		if blocked == nil {
			blocked = []string{}
		}
		out["blockedIPs"] = blocked
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSettingsPatch(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	var req struct {
		GuestEnabled      *bool    `json:"guestEnabled"`
		UserUploadEnabled *bool    `json:"userUploadEnabled"`
		MaxUploadDuration *float64 `json:"maxUploadDuration"`
		MaxUploadBytes    *int64   `json:"maxUploadBytes"`
		PlaybackLocked    *bool    `json:"playbackLocked"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if req.PlaybackLocked != nil {
		if err := s.ctrl.SetLock(sess.Actor(), *req.PlaybackLocked); err != nil {
			writeError(w, r, err)
			return
		}
	}

	err := s.store.UpdateGuest(func(doc *storage.GuestDoc) error {
		if req.GuestEnabled != nil {
			doc.Enabled = *req.GuestEnabled
		}
		if req.UserUploadEnabled != nil {
			doc.UserUploadEnabled = *req.UserUploadEnabled
		}
		if req.MaxUploadDuration != nil {
			doc.MaxUploadDuration = *req.MaxUploadDuration
		}
		if req.MaxUploadBytes != nil {
			doc.MaxUploadBytes = *req.MaxUploadBytes
		}
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Switching guest access off logs every guest out immediately.
	if req.GuestEnabled != nil && !*req.GuestEnabled {
		s.sessions.DestroyGuests()
		log.Info().Str("by", sess.Username).Msg("guest access disabled, guest sessions destroyed")
	}

	s.handleSettings(w, r)
}

func (s *Server) handleGuestHistory(w http.ResponseWriter, r *http.Request) {
	history := s.store.Guest().History
	if history == nil {
		history = []storage.GuestPlay{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) handleBlockIP(w http.ResponseWriter, r *http.Request) {
	s.setIPBlocked(w, r, true)
}

func (s *Server) handleUnblockIP(w http.ResponseWriter, r *http.Request) {
	s.setIPBlocked(w, r, false)
}

func (s *Server) setIPBlocked(w http.ResponseWriter, r *http.Request, blocked bool) {
	var req struct {
		IP string `json:"ip"`
	}
	if err := decodeBody(r, &req); err != nil || req.IP == "" {
		writeMessage(w, http.StatusBadRequest, "ip is required")
		return
	}
	if err := s.store.SetIPBlocked(req.IP, blocked); err != nil {
		writeError(w, r, err)
		return
	}
	if blocked {
		// A blocked guest should not keep a live session.
		s.sessions.DestroyIP(req.IP)
		log.Info().Str("ip", req.IP).Msg("guest IP blocked")
	}
	writeMessage(w, http.StatusOK, "block list updated")
}
