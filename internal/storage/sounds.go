package storage

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/keshon/soundboard/internal/policy"
)

// SoundMeta is the per-sound metadata record.
type SoundMeta struct {
	DisplayName string   `json:"displayName,omitempty"`
	Duration    float64  `json:"duration,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// SoundsDoc is the sound metadata document. On disk it is a single JSON
// object: one entry per filename plus underscore-prefixed global keys
// (_order, _tagOrder, _tagHidden, _playbackLocked, _playbackLockedBy).
type SoundsDoc struct {
	Meta      map[string]SoundMeta
	Order     []string
	TagOrder  []string
	TagHidden []string
	Locked    bool
	LockedBy  policy.Role
}

func (d SoundsDoc) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Meta)+5)
	for name, meta := range d.Meta {
		out[name] = meta
	}
	out["_order"] = emptyIfNil(d.Order)
	out["_tagOrder"] = emptyIfNil(d.TagOrder)
	out["_tagHidden"] = emptyIfNil(d.TagHidden)
	out["_playbackLocked"] = d.Locked
	out["_playbackLockedBy"] = string(d.LockedBy)
	return json.Marshal(out)
}

func (d *SoundsDoc) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Meta = make(map[string]SoundMeta)
	for key, val := range raw {
		if !strings.HasPrefix(key, "_") {
			var meta SoundMeta
			if err := json.Unmarshal(val, &meta); err != nil {
				return err
			}
			d.Meta[key] = meta
			continue
		}
		var err error
		switch key {
		case "_order":
			err = json.Unmarshal(val, &d.Order)
		case "_tagOrder":
			err = json.Unmarshal(val, &d.TagOrder)
		case "_tagHidden":
			err = json.Unmarshal(val, &d.TagHidden)
		case "_playbackLocked":
			err = json.Unmarshal(val, &d.Locked)
		case "_playbackLockedBy":
			err = json.Unmarshal(val, &d.LockedBy)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Sounds returns the current sound metadata document.
func (s *Storage) Sounds() SoundsDoc {
	var doc SoundsDoc
	if !s.getDoc(keySounds, &doc) {
		doc = SoundsDoc{}
	}
	if doc.Meta == nil {
		doc.Meta = make(map[string]SoundMeta)
	}
	return doc
}

// UpdateSounds applies fn to the document and writes it back in one step.
// If fn returns an error nothing is written.
func (s *Storage) UpdateSounds(fn func(doc *SoundsDoc) error) error {
	doc := s.Sounds()
	if err := fn(&doc); err != nil {
		return err
	}
	return s.putDoc(keySounds, doc)
}

// SetSoundMeta patches one sound's metadata record.
func (s *Storage) SetSoundMeta(filename string, meta SoundMeta) error {
	return s.UpdateSounds(func(doc *SoundsDoc) error {
		doc.Meta[filename] = meta
		return nil
	})
}

// SetSoundDuration caches a probed duration for filename.
func (s *Storage) SetSoundDuration(filename string, duration float64) error {
	return s.UpdateSounds(func(doc *SoundsDoc) error {
		meta := doc.Meta[filename]
		meta.Duration = duration
		doc.Meta[filename] = meta
		return nil
	})
}

// ClearSoundMeta drops the metadata record for filename, if any.
func (s *Storage) ClearSoundMeta(filename string) error {
	return s.UpdateSounds(func(doc *SoundsDoc) error {
		delete(doc.Meta, filename)
		return nil
	})
}

// SetOrder replaces the global sound ordering list.
func (s *Storage) SetOrder(order []string) error {
	return s.UpdateSounds(func(doc *SoundsDoc) error {
		doc.Order = slices.Clone(order)
		return nil
	})
}

// SetTagOrder replaces the global tag ordering list.
func (s *Storage) SetTagOrder(order []string) error {
	return s.UpdateSounds(func(doc *SoundsDoc) error {
		doc.TagOrder = dedupe(slices.Clone(order))
		return nil
	})
}

// SetLock records the playback lock together with the owner role at set-time.
func (s *Storage) SetLock(locked bool, by policy.Role) error {
	return s.UpdateSounds(func(doc *SoundsDoc) error {
		doc.Locked = locked
		if locked {
			doc.LockedBy = by
		} else {
			doc.LockedBy = ""
		}
		return nil
	})
}

// Lock returns the recorded playback lock.
func (s *Storage) Lock() policy.Lock {
	doc := s.Sounds()
	return policy.Lock{Locked: doc.Locked, LockedBy: doc.LockedBy}
}

// RenameTag renames a tag everywhere it appears: every sound's tag list, the
// order list and the hidden list, rewritten together in one document write.
// Renaming onto an existing tag fails without touching the document.
func (s *Storage) RenameTag(oldName, newName string) error {
	return s.UpdateSounds(func(doc *SoundsDoc) error {
		if !tagKnown(doc, oldName) {
			return ErrTagNotFound
		}
		if oldName != newName && tagKnown(doc, newName) {
			return ErrTagExists
		}
		for name, meta := range doc.Meta {
			if idx := slices.Index(meta.Tags, oldName); idx >= 0 {
				meta.Tags[idx] = newName
				meta.Tags = dedupe(meta.Tags)
				doc.Meta[name] = meta
			}
		}
		if idx := slices.Index(doc.TagOrder, oldName); idx >= 0 {
			doc.TagOrder[idx] = newName
			doc.TagOrder = dedupe(doc.TagOrder)
		}
		if idx := slices.Index(doc.TagHidden, oldName); idx >= 0 {
			doc.TagHidden[idx] = newName
			doc.TagHidden = dedupe(doc.TagHidden)
		}
		return nil
	})
}

// SetTagHidden adds or removes a tag from the hidden set.
func (s *Storage) SetTagHidden(tag string, hidden bool) error {
	return s.UpdateSounds(func(doc *SoundsDoc) error {
		if !tagKnown(doc, tag) {
			return ErrTagNotFound
		}
		idx := slices.Index(doc.TagHidden, tag)
		if hidden && idx < 0 {
			doc.TagHidden = append(doc.TagHidden, tag)
		}
		if !hidden && idx >= 0 {
			doc.TagHidden = slices.Delete(doc.TagHidden, idx, idx+1)
		}
		return nil
	})
}

// DeleteTag removes a tag from every sound and both global lists.
func (s *Storage) DeleteTag(tag string) error {
	return s.UpdateSounds(func(doc *SoundsDoc) error {
		if !tagKnown(doc, tag) {
			return ErrTagNotFound
		}
		for name, meta := range doc.Meta {
			if idx := slices.Index(meta.Tags, tag); idx >= 0 {
				meta.Tags = slices.Delete(meta.Tags, idx, idx+1)
				doc.Meta[name] = meta
			}
		}
		if idx := slices.Index(doc.TagOrder, tag); idx >= 0 {
			doc.TagOrder = slices.Delete(doc.TagOrder, idx, idx+1)
		}
		if idx := slices.Index(doc.TagHidden, tag); idx >= 0 {
			doc.TagHidden = slices.Delete(doc.TagHidden, idx, idx+1)
		}
		return nil
	})
}

// tagKnown reports whether tag appears in the order list or on any sound.
// A tag may exist in the order list with zero sounds referencing it.
func tagKnown(doc *SoundsDoc, tag string) bool {
	if slices.Contains(doc.TagOrder, tag) {
		return true
	}
	for _, meta := range doc.Meta {
		if slices.Contains(meta.Tags, tag) {
			return true
		}
	}
	return false
}

func dedupe(s []string) []string {
	seen := make(map[string]struct{}, len(s))
	out := s[:0]
	for _, v := range s {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
