package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/keshon/soundboard/internal/sounds"
	"github.com/keshon/soundboard/internal/storage"
)

func (s *Server) handleSounds(w http.ResponseWriter, r *http.Request) {
	list, err := s.library.List()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sounds": list})
}

func (s *Server) handleSoundsOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Order []string `json:"order"`
	}
	if err := decodeBody(r, &req); err != nil || req.Order == nil {
		writeMessage(w, http.StatusBadRequest, "order array is required")
		return
	}
	for _, name := range req.Order {
		if safe, err := sounds.SanitizeFilename(name); err != nil || safe != name {
			writeMessage(w, http.StatusBadRequest, "invalid filename in order: %q", name)
			return
		}
	}
	if err := s.store.SetOrder(req.Order); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "order saved")
}

// handleSoundAudio streams the raw file for web-side preview. The filename
// goes through the same sanitization as playback, so traversal through the
// path segment is rejected.
func (s *Server) handleSoundAudio(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]
	path, err := s.library.Path(filename)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", sounds.ContentType(filename))
	http.ServeFile(w, r, path)
}

func (s *Server) handleSoundMetadata(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filename    string    `json:"filename"`
		DisplayName *string   `json:"displayName"`
		Tags        *[]string `json:"tags"`
	}
	if err := decodeBody(r, &req); err != nil || req.Filename == "" {
		writeMessage(w, http.StatusBadRequest, "filename is required")
		return
	}
	if _, err := s.library.Path(req.Filename); err != nil {
		writeError(w, r, err)
		return
	}

	err := s.store.UpdateSounds(func(doc *storage.SoundsDoc) error {
		meta := doc.Meta[req.Filename]
		if req.DisplayName != nil {
			meta.DisplayName = *req.DisplayName
		}
		if req.Tags != nil {
			meta.Tags = *req.Tags
		}
		doc.Meta[req.Filename] = meta
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	snd, err := s.library.Get(req.Filename)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snd)
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	order, hidden := s.library.Tags()
	writeJSON(w, http.StatusOK, map[string]any{
		"tags":   order,
		"hidden": hidden,
	})
}

func (s *Server) handleTagOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Order []string `json:"order"`
	}
	if err := decodeBody(r, &req); err != nil || req.Order == nil {
		writeMessage(w, http.StatusBadRequest, "order array is required")
		return
	}
	if err := s.store.SetTagOrder(req.Order); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "tag order saved")
}

func (s *Server) handleTagRename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := decodeBody(r, &req); err != nil || req.From == "" || req.To == "" {
		writeMessage(w, http.StatusBadRequest, "from and to are required")
		return
	}
	if err := s.store.RenameTag(req.From, req.To); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "tag renamed")
}

func (s *Server) handleTagHide(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tag    string `json:"tag"`
		Hidden bool   `json:"hidden"`
	}
	if err := decodeBody(r, &req); err != nil || req.Tag == "" {
		writeMessage(w, http.StatusBadRequest, "tag is required")
		return
	}
	if err := s.store.SetTagHidden(req.Tag, req.Hidden); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "tag visibility saved")
}

func (s *Server) handleTagDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tag string `json:"tag"`
	}
	if err := decodeBody(r, &req); err != nil || req.Tag == "" {
		writeMessage(w, http.StatusBadRequest, "tag is required")
		return
	}
	if err := s.store.DeleteTag(req.Tag); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "tag deleted")
}
