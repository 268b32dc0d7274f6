package server

import (
	"net/http"
)

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	var req struct {
		Filename  string  `json:"filename"`
		StartTime float64 `json:"startTime"`
	}
	if err := decodeBody(r, &req); err != nil || req.Filename == "" {
		writeMessage(w, http.StatusBadRequest, "filename is required")
		return
	}

	if !s.voice.Connected() {
		writeMessage(w, http.StatusBadRequest, "Join a voice channel first")
		return
	}

	if err := s.ctrl.Start(r.Context(), sess.Actor(), sess.IP, req.Filename, req.StartTime); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handlePlaybackState(w http.ResponseWriter, r *http.Request) {
	snap := s.ctrl.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"playback":  snap,
		"connected": s.voice.Connected(),
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Stop(sessionFrom(r).Actor()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Pause(sessionFrom(r).Actor()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Resume(sessionFrom(r).Actor()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]float64{"volume": s.ctrl.Volume()})
}

func (s *Server) handleVolumeSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume float64 `json:"volume"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Volume < 0 || req.Volume > 1 {
		writeMessage(w, http.StatusBadRequest, "volume must be between 0 and 1")
		return
	}
	if err := s.ctrl.SetVolume(req.Volume); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"volume": req.Volume})
}
