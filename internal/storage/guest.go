package storage

import (
	"slices"
	"time"
)

// History is capped; the oldest entries are evicted first.
const guestHistoryLimit = 500

// GuestPlay is one accepted guest play request.
type GuestPlay struct {
	IP          string    `json:"ip"`
	Timestamp   time.Time `json:"timestamp"`
	Filename    string    `json:"filename"`
	DisplayName string    `json:"displayName"`
}

// GuestDoc holds guest access settings and the play history log.
type GuestDoc struct {
	Enabled           bool        `json:"enabled"`
	BlockedIPs        []string    `json:"blockedIPs"`
	History           []GuestPlay `json:"history"`
	UserUploadEnabled bool        `json:"userUploadEnabled"`
	MaxUploadDuration float64     `json:"maxUploadDuration"` // seconds
	MaxUploadBytes    int64       `json:"maxUploadBytes"`
}

// defaultGuestDoc: guest access and user uploads start disabled and must be
// switched on explicitly; upload caps default to 30s / 5MiB.
func defaultGuestDoc() GuestDoc {
	return GuestDoc{
		MaxUploadDuration: 30,
		MaxUploadBytes:    5 << 20,
	}
}

// Guest returns the guest settings document.
func (s *Storage) Guest() GuestDoc {
	var doc GuestDoc
	if !s.getDoc(keyGuest, &doc) {
		return defaultGuestDoc()
	}
	return doc
}

// UpdateGuest applies fn to the guest document and writes it back.
func (s *Storage) UpdateGuest(fn func(doc *GuestDoc) error) error {
	doc := s.Guest()
	if err := fn(&doc); err != nil {
		return err
	}
	return s.putDoc(keyGuest, doc)
}

// AppendGuestPlay records an accepted guest play, evicting the oldest entry
// once the history log is full.
func (s *Storage) AppendGuestPlay(play GuestPlay) error {
	return s.UpdateGuest(func(doc *GuestDoc) error {
		doc.History = append(doc.History, play)
		if len(doc.History) > guestHistoryLimit {
			doc.History = doc.History[len(doc.History)-guestHistoryLimit:]
		}
		return nil
	})
}

// SetIPBlocked adds or removes an IP from the block list.
func (s *Storage) SetIPBlocked(ip string, blocked bool) error {
	return s.UpdateGuest(func(doc *GuestDoc) error {
		idx := slices.Index(doc.BlockedIPs, ip)
		if blocked && idx < 0 {
			doc.BlockedIPs = append(doc.BlockedIPs, ip)
		}
		if !blocked && idx >= 0 {
			doc.BlockedIPs = slices.Delete(doc.BlockedIPs, idx, idx+1)
		}
		return nil
	})
}

// IPBlocked reports whether ip is on the block list.
func (s *Storage) IPBlocked(ip string) bool {
	return slices.Contains(s.Guest().BlockedIPs, ip)
}
