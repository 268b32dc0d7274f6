package server

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/keshon/soundboard/internal/discord"
)

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.voice.Channels()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if channels == nil {
		channels = []discord.ChannelInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": channels})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChannelID string `json:"channelId"`
	}
	if err := decodeBody(r, &req); err != nil || req.ChannelID == "" {
		writeMessage(w, http.StatusBadRequest, "channelId is required")
		return
	}

	name, err := s.voice.Join(req.ChannelID)
	if err != nil {
		// Voice transport failures stay contained: log, report, move on.
		log.Error().Err(err).Str("channel", req.ChannelID).Msg("voice join failed")
		writeMessage(w, http.StatusBadGateway, "failed to join voice channel")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"channel": name})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	if err := s.voice.Leave(); err != nil {
		if errors.Is(err, discord.ErrNotConnected) {
			writeJSON(w, http.StatusOK, map[string]any{"left": false, "message": "was not connected"})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"left": true})
}
