package storage

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"slices"
	"testing"
	"time"

	"github.com/keshon/soundboard/internal/policy"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSoundsDocWireFormat(t *testing.T) {
	doc := SoundsDoc{
		Meta: map[string]SoundMeta{
			"airhorn.mp3": {DisplayName: "Airhorn", Duration: 2.5, Tags: []string{"Memes"}},
		},
		Order:    []string{"airhorn.mp3"},
		TagOrder: []string{"Memes"},
		Locked:   true,
		LockedBy: policy.RoleAdmin,
	}

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	for _, key := range []string{"airhorn.mp3", "_order", "_tagOrder", "_tagHidden", "_playbackLocked", "_playbackLockedBy"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("wire document missing key %q", key)
		}
	}

	var back SoundsDoc
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal doc: %v", err)
	}
	if !reflect.DeepEqual(back.Meta, doc.Meta) {
		t.Errorf("meta round trip mismatch: %+v", back.Meta)
	}
	if !back.Locked || back.LockedBy != policy.RoleAdmin {
		t.Errorf("lock round trip mismatch: %+v", back)
	}
}

func TestRenameTagConflictLeavesDocumentUntouched(t *testing.T) {
	s := newTestStorage(t)
	if err := s.SetSoundMeta("a.mp3", SoundMeta{Tags: []string{"Memes"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSoundMeta("b.mp3", SoundMeta{Tags: []string{"Classics"}}); err != nil {
		t.Fatal(err)
	}

	before := s.Sounds()
	if err := s.RenameTag("Memes", "Classics"); !errors.Is(err, ErrTagExists) {
		t.Fatalf("rename onto existing tag: got %v, want ErrTagExists", err)
	}
	after := s.Sounds()
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("document mutated on failed rename:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestRenameTagRewritesEverything(t *testing.T) {
	s := newTestStorage(t)
	s.SetSoundMeta("a.mp3", SoundMeta{Tags: []string{"Memes", "Loud"}})
	s.SetSoundMeta("b.mp3", SoundMeta{Tags: []string{"Memes"}})
	s.UpdateSounds(func(doc *SoundsDoc) error {
		doc.TagOrder = []string{"Memes", "Loud"}
		doc.TagHidden = []string{"Memes"}
		return nil
	})

	if err := s.RenameTag("Memes", "Classics"); err != nil {
		t.Fatalf("rename: %v", err)
	}

	doc := s.Sounds()
	if !slices.Equal(doc.Meta["a.mp3"].Tags, []string{"Classics", "Loud"}) {
		t.Errorf("a.mp3 tags = %v", doc.Meta["a.mp3"].Tags)
	}
	if !slices.Equal(doc.Meta["b.mp3"].Tags, []string{"Classics"}) {
		t.Errorf("b.mp3 tags = %v", doc.Meta["b.mp3"].Tags)
	}
	if !slices.Equal(doc.TagOrder, []string{"Classics", "Loud"}) {
		t.Errorf("tagOrder = %v", doc.TagOrder)
	}
	if !slices.Equal(doc.TagHidden, []string{"Classics"}) {
		t.Errorf("tagHidden = %v", doc.TagHidden)
	}
}

func TestRenameTagUnknown(t *testing.T) {
	s := newTestStorage(t)
	if err := s.RenameTag("Nope", "Else"); !errors.Is(err, ErrTagNotFound) {
		t.Fatalf("got %v, want ErrTagNotFound", err)
	}
}

func TestDeleteTag(t *testing.T) {
	s := newTestStorage(t)
	s.SetSoundMeta("a.mp3", SoundMeta{Tags: []string{"Memes", "Loud"}})
	s.UpdateSounds(func(doc *SoundsDoc) error {
		doc.TagOrder = []string{"Memes", "Loud"}
		doc.TagHidden = []string{"Memes"}
		return nil
	})

	if err := s.DeleteTag("Memes"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	doc := s.Sounds()
	if slices.Contains(doc.Meta["a.mp3"].Tags, "Memes") ||
		slices.Contains(doc.TagOrder, "Memes") ||
		slices.Contains(doc.TagHidden, "Memes") {
		t.Fatalf("tag survived delete: %+v", doc)
	}
}

func TestGuestHistoryCap(t *testing.T) {
	s := newTestStorage(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < guestHistoryLimit+1; i++ {
		err := s.AppendGuestPlay(GuestPlay{
			IP:        "1.2.3.4",
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Filename:  "a.mp3",
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	history := s.Guest().History
	if len(history) != guestHistoryLimit {
		t.Fatalf("history length = %d, want %d", len(history), guestHistoryLimit)
	}
	// The very first entry must have been evicted.
	if history[0].Timestamp.Equal(base) {
		t.Fatal("oldest entry was not evicted")
	}
	if !history[len(history)-1].Timestamp.Equal(base.Add(time.Duration(guestHistoryLimit) * time.Second)) {
		t.Fatal("newest entry missing")
	}
}

func TestGuestDefaults(t *testing.T) {
	s := newTestStorage(t)
	doc := s.Guest()
	if doc.Enabled || doc.UserUploadEnabled {
		t.Fatal("guest access and user uploads must default to disabled")
	}
	if doc.MaxUploadDuration != 30 || doc.MaxUploadBytes != 5<<20 {
		t.Fatalf("unexpected default caps: %+v", doc)
	}
}

func TestIPBlockList(t *testing.T) {
	s := newTestStorage(t)
	s.SetIPBlocked("9.9.9.9", true)
	if !s.IPBlocked("9.9.9.9") {
		t.Fatal("blocked IP not reported as blocked")
	}
	s.SetIPBlocked("9.9.9.9", false)
	if s.IPBlocked("9.9.9.9") {
		t.Fatal("unblocked IP still reported as blocked")
	}
}

func TestPendingQueue(t *testing.T) {
	s := newTestStorage(t)
	p := PendingUpload{
		Filename:       "horn.mp3",
		UploadedBy:     "guest",
		UploadedByRole: policy.RoleGuest,
		UploadedByIP:   "1.2.3.4",
		UploadedAt:     time.Now().UTC(),
		Size:           1024,
		OriginalName:   "air horn!!.mp3",
	}
	if err := s.AppendPending(p); err != nil {
		t.Fatal(err)
	}
	got, ok := s.FindPending("horn.mp3")
	if !ok || got.OriginalName != p.OriginalName {
		t.Fatalf("FindPending = %+v, %v", got, ok)
	}
	if err := s.RemovePending("horn.mp3"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.FindPending("horn.mp3"); ok {
		t.Fatal("pending record survived removal")
	}
	if err := s.RemovePending("horn.mp3"); !errors.Is(err, ErrPendingNotFound) {
		t.Fatalf("got %v, want ErrPendingNotFound", err)
	}
}

func TestServerStateDefaults(t *testing.T) {
	s := newTestStorage(t)
	if v := s.Server().Volume; v != 0.5 {
		t.Fatalf("default volume = %v, want 0.5", v)
	}
	s.SetVolume(0.8)
	s.SetLastChannel("123")
	doc := s.Server()
	if doc.Volume != 0.8 || doc.LastChannelID != "123" {
		t.Fatalf("server doc = %+v", doc)
	}
}

func TestLockRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	s.SetLock(true, policy.RoleSuperadmin)
	lock := s.Lock()
	if !lock.Locked || lock.LockedBy != policy.RoleSuperadmin {
		t.Fatalf("lock = %+v", lock)
	}
	s.SetLock(false, policy.RoleAdmin)
	if lock := s.Lock(); lock.Locked || lock.LockedBy != "" {
		t.Fatalf("cleared lock = %+v", lock)
	}
}

func TestReopenPreservesDocuments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")

	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.SetVolume(0.7); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSoundMeta("horn.mp3", SoundMeta{DisplayName: "Airhorn"}); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}

	reopened, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { reopened.Close() })

	if v := reopened.Server().Volume; v != 0.7 {
		t.Fatalf("volume after reopen = %v", v)
	}
	if got := reopened.Sounds().Meta["horn.mp3"].DisplayName; got != "Airhorn" {
		t.Fatalf("metadata after reopen = %q", got)
	}
}
