package storage

import (
	"errors"
	"time"

	"github.com/keshon/soundboard/internal/policy"
)

var ErrPendingNotFound = errors.New("pending upload not found")

// PendingUpload is one quarantined upload awaiting superadmin moderation.
type PendingUpload struct {
	Filename       string      `json:"filename"`
	UploadedBy     string      `json:"uploadedBy"`
	UploadedByRole policy.Role `json:"uploadedByRole"`
	UploadedByIP   string      `json:"uploadedByIP,omitempty"` // guests only
	UploadedAt     time.Time   `json:"uploadedAt"`
	Duration       float64     `json:"duration"`
	Size           int64       `json:"size"`
	OriginalName   string      `json:"originalName"`
}

type pendingDoc struct {
	Uploads []PendingUpload `json:"uploads"`
}

// Pending returns all quarantined uploads in submission order.
func (s *Storage) Pending() []PendingUpload {
	var doc pendingDoc
	if !s.getDoc(keyPending, &doc) {
		return nil
	}
	return doc.Uploads
}

// FindPending looks up a pending upload by filename.
func (s *Storage) FindPending(filename string) (PendingUpload, bool) {
	for _, p := range s.Pending() {
		if p.Filename == filename {
			return p, true
		}
	}
	return PendingUpload{}, false
}

// AppendPending adds a record to the moderation queue.
func (s *Storage) AppendPending(p PendingUpload) error {
	doc := pendingDoc{Uploads: s.Pending()}
	doc.Uploads = append(doc.Uploads, p)
	return s.putDoc(keyPending, doc)
}

// RemovePending removes the record for filename.
func (s *Storage) RemovePending(filename string) error {
	uploads := s.Pending()
	for i, p := range uploads {
		if p.Filename == filename {
			return s.putDoc(keyPending, pendingDoc{Uploads: append(uploads[:i:i], uploads[i+1:]...)})
		}
	}
	return ErrPendingNotFound
}
