package server

import (
	"context"
	"io"

	"github.com/keshon/soundboard/internal/playback"
	"github.com/keshon/soundboard/internal/sounds"
)

// LibrarySource adapts the sound library to the playback controller's
// source interface, probing and caching duration on first play.
type LibrarySource struct {
	Library *sounds.Library
}

func (s LibrarySource) Resolve(ctx context.Context, filename string) (playback.Track, error) {
	path, err := s.Library.Path(filename)
	if err != nil {
		return playback.Track{}, err
	}
	snd, err := s.Library.Get(filename)
	if err != nil {
		return playback.Track{}, err
	}

	duration := snd.Duration
	if duration == 0 {
		duration = s.Library.EnsureDuration(ctx, filename)
	}

	lib := s.Library
	return playback.Track{
		Filename:    snd.Filename,
		DisplayName: snd.DisplayName,
		Duration:    duration,
		Open: func(offset float64) (io.ReadCloser, func(), error) {
			return lib.OpenStream(path, offset)
		},
	}, nil
}
