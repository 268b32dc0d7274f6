package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keshon/soundboard/internal/audio"
	"github.com/keshon/soundboard/internal/config"
	"github.com/keshon/soundboard/internal/discord"
	"github.com/keshon/soundboard/internal/guest"
	"github.com/keshon/soundboard/internal/logging"
	"github.com/keshon/soundboard/internal/playback"
	"github.com/keshon/soundboard/internal/server"
	"github.com/keshon/soundboard/internal/session"
	"github.com/keshon/soundboard/internal/sounds"
	"github.com/keshon/soundboard/internal/storage"
	"github.com/keshon/soundboard/internal/version"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("soundboard exited")
	}
}

func run() error {
	cfg, err := config.New()
	if err != nil {
		return err
	}
	logging.Setup(cfg.LogLevel, cfg.LogFile)
	log.Info().Str("version", version.Version).Msg("starting soundboard")

	creds, err := cfg.Credentials()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.New(cfg.StoragePath)
	if err != nil {
		return err
	}
	defer store.Close()

	prober := func(ctx context.Context, path string) (float64, error) {
		return audio.ProbeDuration(ctx, cfg.FFprobePath, path)
	}
	opener := func(path string, offset float64) (io.ReadCloser, func(), error) {
		return audio.PCMStream(cfg.FFmpegPath, path, offset)
	}
	library, err := sounds.NewLibrary(cfg.SoundsDir, cfg.PendingDir, store, prober, opener)
	if err != nil {
		return err
	}

	player := audio.NewPlayer()
	bot, err := discord.NewBot(cfg.DiscordToken, player, store)
	if err != nil {
		return err
	}
	if err := bot.Open(); err != nil {
		return err
	}
	defer bot.Close()

	limiter := guest.NewLimiter(cfg.GuestCooldown)
	ctrl := playback.NewController(player, server.LibrarySource{Library: library}, store, limiter)
	go ctrl.Watch(ctx)

	sessions := session.NewManager([]byte(cfg.SessionSecret))
	srv := server.NewServer(creds, sessions, store, library, ctrl, bot, cfg.PublicDir)

	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     srv.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	player.Stop()

	log.Info().Msg("soundboard exited cleanly")
	return nil
}
