package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/keshon/soundboard/internal/sounds"
	"github.com/keshon/soundboard/internal/storage"
)

const maxUploadMemory = 8 << 20

// handleUpload takes a multipart "file" part. Admins store directly into
// the sound set; user and guest uploads go through the moderation
// quarantine, and only when user uploads are enabled.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeMessage(w, http.StatusBadRequest, "malformed multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "file part is required")
		return
	}
	defer file.Close()

	if sess.Role.Privileged() {
		snd, err := s.library.SaveDirect(r.Context(), file, header.Filename)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sound": snd, "pending": false})
		return
	}

	if !s.store.Guest().UserUploadEnabled {
		writeMessage(w, http.StatusForbidden, "uploads are disabled")
		return
	}
	pending, err := s.library.SavePending(r.Context(), file, header.Filename, sess.Actor(), sess.IP)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"upload": pending, "pending": true})
}

func (s *Server) handlePendingList(w http.ResponseWriter, r *http.Request) {
	pending := s.store.Pending()
	if pending == nil {
		pending = []storage.PendingUpload{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

func (s *Server) handlePendingApprove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filename string `json:"filename"`
	}
	if err := decodeBody(r, &req); err != nil || req.Filename == "" {
		writeMessage(w, http.StatusBadRequest, "filename is required")
		return
	}
	snd, err := s.library.Approve(r.Context(), req.Filename)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sound": snd})
}

func (s *Server) handlePendingReject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filename string `json:"filename"`
	}
	if err := decodeBody(r, &req); err != nil || req.Filename == "" {
		writeMessage(w, http.StatusBadRequest, "filename is required")
		return
	}
	if err := s.library.Reject(req.Filename); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "upload rejected")
}

func (s *Server) handlePendingAudio(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]
	path, err := s.library.PendingPath(filename)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", sounds.ContentType(filename))
	http.ServeFile(w, r, path)
}
