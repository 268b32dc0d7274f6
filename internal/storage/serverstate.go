package storage

// ServerDoc is the persisted server state used for restart recovery.
type ServerDoc struct {
	Volume        float64 `json:"volume"`
	LastChannelID string  `json:"lastChannelId,omitempty"`
}

// Server returns the persisted server state (volume defaults to 0.5).
func (s *Storage) Server() ServerDoc {
	var doc ServerDoc
	if !s.getDoc(keyServer, &doc) {
		return ServerDoc{Volume: 0.5}
	}
	return doc
}

// SetVolume persists the global volume multiplier.
func (s *Storage) SetVolume(volume float64) error {
	doc := s.Server()
	doc.Volume = volume
	return s.putDoc(keyServer, doc)
}

// SetLastChannel persists the voice channel to auto-rejoin after restart.
func (s *Storage) SetLastChannel(channelID string) error {
	doc := s.Server()
	doc.LastChannelID = channelID
	return s.putDoc(keyServer, doc)
}
