package storage

import (
	"context"
	"errors"

	"github.com/keshon/datastore"
	"github.com/rs/zerolog/log"
)

// Document keys inside the datastore file.
const (
	keySounds  = "sounds"
	keyGuest   = "guest"
	keyPending = "pending"
	keyServer  = "server"
)

var (
	ErrTagExists   = errors.New("tag already exists")
	ErrTagNotFound = errors.New("tag not found")
)

// Storage wraps the JSON datastore with typed whole-document accessors.
// Every document is read, decoded, mutated and written back as a unit;
// concurrent writers follow last-write-wins.
type Storage struct {
	ds     *datastore.DataStore
	cancel context.CancelFunc
}

// New opens (or creates) the datastore file at filePath. The store's
// autosave goroutine is bound to an internal context that Close cancels.
func New(filePath string) (*Storage, error) {
	ctx, cancel := context.WithCancel(context.Background())
	ds, err := datastore.New(ctx, filePath)
	if err != nil {
		cancel()
		return nil, err
	}
	return &Storage{ds: ds, cancel: cancel}, nil
}

// Close stops the autosave goroutine and performs the final flush to disk.
func (s *Storage) Close() error {
	s.cancel()
	return s.ds.Close()
}

// getDoc decodes the document under key into out and reports whether a
// usable document was found. A missing or undecodable document returns
// false so the caller falls back to its empty default: corruption
// self-heals and is never fatal to the request path.
func (s *Storage) getDoc(key string, out any) bool {
	found, err := s.ds.Get(key, out)
	if err != nil {
		log.Warn().Err(err).Str("document", key).Msg("corrupt document, using empty default")
		return false
	}
	return found
}

func (s *Storage) putDoc(key string, doc any) error {
	return s.ds.Set(key, doc)
}
