package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/keshon/soundboard/internal/discord"
	"github.com/keshon/soundboard/internal/playback"
	"github.com/keshon/soundboard/internal/policy"
	"github.com/keshon/soundboard/internal/session"
	"github.com/keshon/soundboard/internal/sounds"
	"github.com/keshon/soundboard/internal/storage"
	"github.com/keshon/soundboard/internal/version"
)

// VoiceGateway is the slice of the Discord bot the HTTP layer needs.
type VoiceGateway interface {
	Channels() ([]discord.ChannelInfo, error)
	Join(channelID string) (string, error)
	Leave() error
	Connected() bool
}

// Server holds the HTTP surface. Handlers delegate into the playback
// controller, the sound library and the metadata store; they carry no
// state of their own.
type Server struct {
	router    *mux.Router
	creds     policy.Credentials
	sessions  *session.Manager
	store     *storage.Storage
	library   *sounds.Library
	ctrl      *playback.Controller
	voice     VoiceGateway
	publicDir string
	login     *loginThrottle
}

func NewServer(
	creds policy.Credentials,
	sessions *session.Manager,
	store *storage.Storage,
	library *sounds.Library,
	ctrl *playback.Controller,
	voice VoiceGateway,
	publicDir string,
) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		creds:     creds,
		sessions:  sessions,
		store:     store,
		library:   library,
		ctrl:      ctrl,
		voice:     voice,
		publicDir: publicDir,
		login:     newLoginThrottle(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/login", s.login.limit(s.handleLogin)).Methods(http.MethodPost)
	api.HandleFunc("/guest/start", s.login.limit(s.handleGuestStart)).Methods(http.MethodPost)
	api.HandleFunc("/logout", s.requireAuth(s.handleLogout)).Methods(http.MethodPost)
	api.HandleFunc("/me", s.requireAuth(s.handleMe)).Methods(http.MethodGet)
	api.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)

	api.HandleFunc("/channels", s.requireAdmin(s.handleChannels)).Methods(http.MethodGet)
	api.HandleFunc("/join", s.requireAdmin(s.handleJoin)).Methods(http.MethodPost)
	api.HandleFunc("/leave", s.requireAdmin(s.handleLeave)).Methods(http.MethodPost)

	api.HandleFunc("/sounds", s.requireAuth(s.handleSounds)).Methods(http.MethodGet)
	api.HandleFunc("/sounds/order", s.requireAdmin(s.handleSoundsOrder)).Methods(http.MethodPatch)
	api.HandleFunc("/sounds/audio/{filename}", s.requireAuth(s.handleSoundAudio)).Methods(http.MethodGet)
	api.HandleFunc("/sounds/metadata", s.requireAdmin(s.handleSoundMetadata)).Methods(http.MethodPatch)

	api.HandleFunc("/tags", s.requireAuth(s.handleTags)).Methods(http.MethodGet)
	api.HandleFunc("/tags", s.requireAdmin(s.handleTagOrder)).Methods(http.MethodPatch)
	api.HandleFunc("/tags/rename", s.requireAdmin(s.handleTagRename)).Methods(http.MethodPost)
	api.HandleFunc("/tags/hide", s.requireAdmin(s.handleTagHide)).Methods(http.MethodPost)
	api.HandleFunc("/tags/delete", s.requireAdmin(s.handleTagDelete)).Methods(http.MethodPost)

	api.HandleFunc("/settings", s.requireAuth(s.handleSettings)).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.requireAdmin(s.handleSettingsPatch)).Methods(http.MethodPatch)

	api.HandleFunc("/pending", s.requireSuperadmin(s.handlePendingList)).Methods(http.MethodGet)
	api.HandleFunc("/pending/approve", s.requireSuperadmin(s.handlePendingApprove)).Methods(http.MethodPost)
	api.HandleFunc("/pending/reject", s.requireSuperadmin(s.handlePendingReject)).Methods(http.MethodPost)
	api.HandleFunc("/pending/audio/{filename}", s.requireSuperadmin(s.handlePendingAudio)).Methods(http.MethodGet)

	api.HandleFunc("/guest/history", s.requireSuperadmin(s.handleGuestHistory)).Methods(http.MethodGet)
	api.HandleFunc("/guest/block-ip", s.requireSuperadmin(s.handleBlockIP)).Methods(http.MethodPost)
	api.HandleFunc("/guest/unblock-ip", s.requireSuperadmin(s.handleUnblockIP)).Methods(http.MethodPost)

	api.HandleFunc("/upload", s.requireAuth(s.handleUpload)).Methods(http.MethodPost)

	api.HandleFunc("/play", s.requireAuth(s.handlePlay)).Methods(http.MethodPost)
	api.HandleFunc("/playback-state", s.requireAuth(s.handlePlaybackState)).Methods(http.MethodGet)
	api.HandleFunc("/stop", s.requireAdmin(s.handleStop)).Methods(http.MethodPost)
	api.HandleFunc("/pause", s.requireAdmin(s.handlePause)).Methods(http.MethodPost)
	api.HandleFunc("/resume", s.requireAdmin(s.handleResume)).Methods(http.MethodPost)
	api.HandleFunc("/volume", s.requireAuth(s.handleVolume)).Methods(http.MethodGet)
	api.HandleFunc("/volume", s.requireAdmin(s.handleVolumeSet)).Methods(http.MethodPost)

	if s.publicDir != "" {
		s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(s.publicDir)))
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":   version.Version,
		"buildDate": version.BuildDate,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("response encoding failed")
	}
}

func writeMessage(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"message": fmt.Sprintf(format, args...)})
}

// writeError maps domain errors onto HTTP statuses. Unknown errors become
// 500 and are logged with the request path for context.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var cooldown *playback.CooldownError
	if errors.As(err, &cooldown) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"message":           "guest cooldown active",
			"cooldownRemaining": roundUpSeconds(cooldown.Remaining),
		})
		return
	}

	switch {
	case errors.Is(err, session.ErrInvalidSession):
		writeMessage(w, http.StatusUnauthorized, "not logged in")
	case errors.Is(err, policy.ErrForbidden),
		errors.Is(err, policy.ErrPlaybackLocked),
		errors.Is(err, policy.ErrPlaybackBusy):
		writeMessage(w, http.StatusForbidden, "%s", err)
	case errors.Is(err, sounds.ErrNotFound),
		errors.Is(err, storage.ErrTagNotFound),
		errors.Is(err, storage.ErrPendingNotFound):
		writeMessage(w, http.StatusNotFound, "%s", err)
	case errors.Is(err, sounds.ErrBadFilename),
		errors.Is(err, sounds.ErrUploadTooBig),
		errors.Is(err, sounds.ErrUploadTooLong),
		errors.Is(err, playback.ErrNotPlaying),
		errors.Is(err, playback.ErrNotPaused):
		writeMessage(w, http.StatusBadRequest, "%s", err)
	case errors.Is(err, sounds.ErrSoundExists),
		errors.Is(err, storage.ErrTagExists):
		writeMessage(w, http.StatusConflict, "%s", err)
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeMessage(w, http.StatusInternalServerError, "internal error")
	}
}

func roundUpSeconds(d time.Duration) int {
	secs := int(d / time.Second)
	if d%time.Second > 0 {
		secs++
	}
	return secs
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
