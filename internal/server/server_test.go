package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/keshon/soundboard/internal/audio"
	"github.com/keshon/soundboard/internal/discord"
	"github.com/keshon/soundboard/internal/guest"
	"github.com/keshon/soundboard/internal/playback"
	"github.com/keshon/soundboard/internal/policy"
	"github.com/keshon/soundboard/internal/session"
	"github.com/keshon/soundboard/internal/sounds"
	"github.com/keshon/soundboard/internal/storage"
)

type fakeEngine struct {
	mu     sync.Mutex
	state  audio.State
	seq    uint64
	events chan audio.Event
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{state: audio.StateIdle, events: make(chan audio.Event, 16)}
}

func (e *fakeEngine) Play(src io.ReadCloser, cleanup func()) (uint64, error) {
	src.Close()
	if cleanup != nil {
		cleanup()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != audio.StateIdle {
		e.events <- audio.Event{State: audio.StateIdle, Seq: e.seq}
	}
	e.seq++
	e.state = audio.StatePlaying
	e.events <- audio.Event{State: audio.StatePlaying, Seq: e.seq}
	return e.seq, nil
}

func (e *fakeEngine) Pause() error {
	e.mu.Lock()
	e.state = audio.StatePaused
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) Resume() error {
	e.mu.Lock()
	e.state = audio.StatePlaying
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) Stop() {
	e.mu.Lock()
	e.state = audio.StateIdle
	e.events <- audio.Event{State: audio.StateIdle, Seq: e.seq}
	e.mu.Unlock()
}

func (e *fakeEngine) SetVolume(v float64) {}

func (e *fakeEngine) State() audio.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *fakeEngine) Events() <-chan audio.Event { return e.events }

type stubVoice struct {
	mu        sync.Mutex
	connected bool
}

func (v *stubVoice) Channels() ([]discord.ChannelInfo, error) {
	return []discord.ChannelInfo{{ID: "c1", Name: "Guild - General"}}, nil
}

func (v *stubVoice) Join(channelID string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.connected = true
	return "General", nil
}

func (v *stubVoice) Leave() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.connected {
		return discord.ErrNotConnected
	}
	v.connected = false
	return nil
}

func (v *stubVoice) Connected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.connected
}

type fixture struct {
	t      *testing.T
	srv    *Server
	store  *storage.Storage
	engine *fakeEngine
	voice  *stubVoice
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.New(filepath.Join(dir, "store.json"))
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	soundsDir := filepath.Join(dir, "sounds")
	pendingDir := filepath.Join(dir, "pending")
	probe := func(ctx context.Context, path string) (float64, error) { return 2.5, nil }
	open := func(path string, offset float64) (io.ReadCloser, func(), error) {
		return io.NopCloser(bytes.NewReader(nil)), func() {}, nil
	}
	lib, err := sounds.NewLibrary(soundsDir, pendingDir, store, probe, open)
	if err != nil {
		t.Fatalf("library: %v", err)
	}
	if err := os.WriteFile(filepath.Join(soundsDir, "beep.mp3"), []byte("mp3data"), 0o644); err != nil {
		t.Fatal(err)
	}

	engine := newFakeEngine()
	limiter := guest.NewLimiter(10 * time.Second)
	ctrl := playback.NewController(engine, LibrarySource{Library: lib}, store, limiter)

	creds := policy.Credentials{
		"root":  {Password: "rootpw", Role: policy.RoleSuperadmin},
		"alice": {Password: "alicepw", Role: policy.RoleAdmin},
		"dave":  {Password: "davepw", Role: policy.RoleUser},
	}
	sessions := session.NewManager([]byte("test-secret"))
	voice := &stubVoice{connected: true}

	srv := NewServer(creds, sessions, store, lib, ctrl, voice, "")
	return &fixture{t: t, srv: srv, store: store, engine: engine, voice: voice}
}

// do issues a request against the server with an optional session cookie
// and a per-caller IP.
func (f *fixture) do(method, path, cookie, ip string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			f.t.Fatal(err)
		}
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, reader)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: session.CookieName, Value: cookie})
	}
	if ip != "" {
		req.Header.Set("X-Forwarded-For", ip)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(username, password, ip string) string {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/api/login", "", ip, map[string]string{
		"username": username,
		"password": password,
	})
	if rec.Code != http.StatusOK {
		f.t.Fatalf("login %s: status %d: %s", username, rec.Code, rec.Body)
	}
	return sessionCookie(f.t, rec)
}

func (f *fixture) guestSession(ip string) string {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/api/guest/start", "", ip, nil)
	if rec.Code != http.StatusOK {
		f.t.Fatalf("guest start: status %d: %s", rec.Code, rec.Body)
	}
	return sessionCookie(f.t, rec)
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName && c.Value != "" {
			return c.Value
		}
	}
	t.Fatal("no session cookie in response")
	return ""
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body, err)
	}
	return out
}

func TestLogin(t *testing.T) {
	f := newFixture(t)

	cookie := f.login("alice", "alicepw", "10.0.0.1")
	rec := f.do(http.MethodGet, "/api/me", cookie, "10.0.0.1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: status %d", rec.Code)
	}
	me := decode(t, rec)
	if me["username"] != "alice" || me["role"] != "admin" {
		t.Fatalf("me = %v", me)
	}

	rec = f.do(http.MethodPost, "/api/login", "", "10.0.0.2", map[string]string{
		"username": "alice", "password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: status %d", rec.Code)
	}
}

func TestLoginThrottle(t *testing.T) {
	f := newFixture(t)
	body := map[string]string{"username": "alice", "password": "wrong"}

	var last int
	for i := 0; i < 7; i++ {
		last = f.do(http.MethodPost, "/api/login", "", "10.9.9.9", body).Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("7th attempt: status %d, want 429", last)
	}

	// Another IP is unaffected.
	if code := f.do(http.MethodPost, "/api/login", "", "10.9.9.10", body).Code; code != http.StatusUnauthorized {
		t.Fatalf("other ip: status %d", code)
	}
}

func TestRoleGates(t *testing.T) {
	f := newFixture(t)
	user := f.login("dave", "davepw", "10.0.0.3")

	if code := f.do(http.MethodGet, "/api/channels", user, "10.0.0.3", nil).Code; code != http.StatusForbidden {
		t.Fatalf("user on admin route: status %d", code)
	}
	if code := f.do(http.MethodGet, "/api/pending", user, "10.0.0.3", nil).Code; code != http.StatusForbidden {
		t.Fatalf("user on superadmin route: status %d", code)
	}
	if code := f.do(http.MethodGet, "/api/sounds", "", "", nil).Code; code != http.StatusUnauthorized {
		t.Fatalf("anonymous: status %d", code)
	}

	admin := f.login("alice", "alicepw", "10.0.0.4")
	if code := f.do(http.MethodGet, "/api/pending", admin, "10.0.0.4", nil).Code; code != http.StatusForbidden {
		t.Fatalf("admin on superadmin route: status %d", code)
	}
	root := f.login("root", "rootpw", "10.0.0.5")
	if code := f.do(http.MethodGet, "/api/pending", root, "10.0.0.5", nil).Code; code != http.StatusOK {
		t.Fatalf("superadmin on superadmin route: status %d", code)
	}
}

func TestGuestLifecycle(t *testing.T) {
	f := newFixture(t)
	root := f.login("root", "rootpw", "10.0.1.1")

	// Disabled by default.
	if code := f.do(http.MethodPost, "/api/guest/start", "", "10.0.1.2", nil).Code; code != http.StatusForbidden {
		t.Fatalf("guest start while disabled: status %d", code)
	}

	enable := map[string]any{"guestEnabled": true}
	if code := f.do(http.MethodPatch, "/api/settings", root, "10.0.1.1", enable).Code; code != http.StatusOK {
		t.Fatal("enabling guest access failed")
	}
	guest := f.guestSession("10.0.1.2")
	if code := f.do(http.MethodGet, "/api/me", guest, "10.0.1.2", nil).Code; code != http.StatusOK {
		t.Fatal("guest session not usable")
	}

	// Disabling tears the session down.
	disable := map[string]any{"guestEnabled": false}
	if code := f.do(http.MethodPatch, "/api/settings", root, "10.0.1.1", disable).Code; code != http.StatusOK {
		t.Fatal("disabling guest access failed")
	}
	if code := f.do(http.MethodGet, "/api/me", guest, "10.0.1.2", nil).Code; code != http.StatusUnauthorized {
		t.Fatal("guest session survived disable")
	}
}

func TestBlockIPDestroysSession(t *testing.T) {
	f := newFixture(t)
	root := f.login("root", "rootpw", "10.0.2.1")
	f.do(http.MethodPatch, "/api/settings", root, "10.0.2.1", map[string]any{"guestEnabled": true})

	guest := f.guestSession("10.0.2.5")
	block := map[string]string{"ip": "10.0.2.5"}
	if code := f.do(http.MethodPost, "/api/guest/block-ip", root, "10.0.2.1", block).Code; code != http.StatusOK {
		t.Fatal("block-ip failed")
	}
	if code := f.do(http.MethodGet, "/api/me", guest, "10.0.2.5", nil).Code; code != http.StatusUnauthorized {
		t.Fatal("blocked guest session survived")
	}
	if code := f.do(http.MethodPost, "/api/guest/start", "", "10.0.2.5", nil).Code; code != http.StatusForbidden {
		t.Fatal("blocked IP can start new guest sessions")
	}

	f.do(http.MethodPost, "/api/guest/unblock-ip", root, "10.0.2.1", block)
	if code := f.do(http.MethodPost, "/api/guest/start", "", "10.0.2.5", nil).Code; code != http.StatusOK {
		t.Fatal("unblocked IP still rejected")
	}
}

func TestPlayRequiresVoiceConnection(t *testing.T) {
	f := newFixture(t)
	f.voice.connected = false
	admin := f.login("alice", "alicepw", "10.0.3.1")

	rec := f.do(http.MethodPost, "/api/play", admin, "10.0.3.1", map[string]any{"filename": "beep.mp3"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("play without connection: status %d", rec.Code)
	}
	if msg := decode(t, rec)["message"]; msg != "Join a voice channel first" {
		t.Fatalf("message = %v", msg)
	}
}

func TestPlayAndState(t *testing.T) {
	f := newFixture(t)
	admin := f.login("alice", "alicepw", "10.0.4.1")

	rec := f.do(http.MethodPost, "/api/play", admin, "10.0.4.1", map[string]any{"filename": "beep.mp3"})
	if rec.Code != http.StatusOK {
		t.Fatalf("play: status %d: %s", rec.Code, rec.Body)
	}

	rec = f.do(http.MethodGet, "/api/playback-state", admin, "10.0.4.1", nil)
	state := decode(t, rec)
	playbackState := state["playback"].(map[string]any)
	if playbackState["status"] != "playing" || playbackState["filename"] != "beep.mp3" {
		t.Fatalf("playback state = %v", playbackState)
	}
	if state["connected"] != true {
		t.Fatal("connected flag missing")
	}

	if code := f.do(http.MethodPost, "/api/stop", admin, "10.0.4.1", nil).Code; code != http.StatusOK {
		t.Fatal("stop failed")
	}
	rec = f.do(http.MethodGet, "/api/playback-state", admin, "10.0.4.1", nil)
	if decode(t, rec)["playback"].(map[string]any)["status"] != "idle" {
		t.Fatal("state not idle after stop")
	}
}

func TestPlayUnknownSound(t *testing.T) {
	f := newFixture(t)
	admin := f.login("alice", "alicepw", "10.0.5.1")

	if code := f.do(http.MethodPost, "/api/play", admin, "10.0.5.1", map[string]any{"filename": "nope.mp3"}).Code; code != http.StatusNotFound {
		t.Fatalf("unknown sound: status %d", code)
	}
	if code := f.do(http.MethodPost, "/api/play", admin, "10.0.5.1", map[string]any{"filename": "evil.txt"}).Code; code != http.StatusBadRequest {
		t.Fatalf("bad extension: status %d", code)
	}
}

func TestGuestCooldownResponse(t *testing.T) {
	f := newFixture(t)
	root := f.login("root", "rootpw", "10.0.6.1")
	f.do(http.MethodPatch, "/api/settings", root, "10.0.6.1", map[string]any{"guestEnabled": true})
	guest := f.guestSession("10.0.6.9")

	play := map[string]any{"filename": "beep.mp3"}
	if code := f.do(http.MethodPost, "/api/play", guest, "10.0.6.9", play).Code; code != http.StatusOK {
		t.Fatal("first guest play rejected")
	}

	rec := f.do(http.MethodPost, "/api/play", guest, "10.0.6.9", play)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second guest play: status %d", rec.Code)
	}
	remaining, ok := decode(t, rec)["cooldownRemaining"].(float64)
	if !ok || remaining <= 0 || remaining > 10 {
		t.Fatalf("cooldownRemaining = %v", remaining)
	}
}

func TestUploadPaths(t *testing.T) {
	f := newFixture(t)
	root := f.login("root", "rootpw", "10.0.7.1")
	user := f.login("dave", "davepw", "10.0.7.2")

	// Admin upload goes straight into the set.
	rec := f.upload(root, "10.0.7.1", "horn.mp3", bytes.Repeat([]byte("a"), 128))
	if rec.Code != http.StatusOK {
		t.Fatalf("direct upload: status %d: %s", rec.Code, rec.Body)
	}
	if decode(t, rec)["pending"] != false {
		t.Fatal("admin upload went to quarantine")
	}

	// User upload is gated on the toggle.
	rec = f.upload(user, "10.0.7.2", "meme.mp3", bytes.Repeat([]byte("b"), 128))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("user upload while disabled: status %d", rec.Code)
	}

	f.do(http.MethodPatch, "/api/settings", root, "10.0.7.1", map[string]any{"userUploadEnabled": true})
	rec = f.upload(user, "10.0.7.2", "meme.mp3", bytes.Repeat([]byte("b"), 128))
	if rec.Code != http.StatusOK {
		t.Fatalf("user upload: status %d: %s", rec.Code, rec.Body)
	}
	if decode(t, rec)["pending"] != true {
		t.Fatal("user upload bypassed quarantine")
	}

	rec = f.do(http.MethodGet, "/api/pending", root, "10.0.7.1", nil)
	pending := decode(t, rec)["pending"].([]any)
	if len(pending) != 1 {
		t.Fatalf("pending queue length = %d", len(pending))
	}
}

func (f *fixture) upload(cookie, ip, filename string, data []byte) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		f.t.Fatal(err)
	}
	part.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Forwarded-For", ip)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: cookie})
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSettingsRoleScoping(t *testing.T) {
	f := newFixture(t)
	root := f.login("root", "rootpw", "10.0.8.1")
	f.do(http.MethodPatch, "/api/settings", root, "10.0.8.1", map[string]any{"guestEnabled": true})
	guest := f.guestSession("10.0.8.9")

	guestView := decode(t, f.do(http.MethodGet, "/api/settings", guest, "10.0.8.9", nil))
	if _, leaked := guestView["maxUploadBytes"]; leaked {
		t.Fatal("guest sees moderation caps")
	}
	if _, leaked := guestView["blockedIPs"]; leaked {
		t.Fatal("guest sees block list")
	}

	rootView := decode(t, f.do(http.MethodGet, "/api/settings", root, "10.0.8.1", nil))
	if _, ok := rootView["maxUploadBytes"]; !ok {
		t.Fatal("superadmin missing moderation caps")
	}
	if _, ok := rootView["blockedIPs"]; !ok {
		t.Fatal("superadmin missing block list")
	}
}

func TestVolumeEndpoint(t *testing.T) {
	f := newFixture(t)
	admin := f.login("alice", "alicepw", "10.0.9.1")

	if code := f.do(http.MethodPost, "/api/volume", admin, "10.0.9.1", map[string]any{"volume": 1.5}).Code; code != http.StatusBadRequest {
		t.Fatalf("out of range volume: status %d", code)
	}
	if code := f.do(http.MethodPost, "/api/volume", admin, "10.0.9.1", map[string]any{"volume": 0.3}).Code; code != http.StatusOK {
		t.Fatal("volume set failed")
	}
	got := decode(t, f.do(http.MethodGet, "/api/volume", admin, "10.0.9.1", nil))
	if got["volume"] != 0.3 {
		t.Fatalf("volume = %v", got["volume"])
	}
}

func TestTagRoutes(t *testing.T) {
	f := newFixture(t)
	admin := f.login("alice", "alicepw", "10.1.0.1")

	meta := map[string]any{"filename": "beep.mp3", "tags": []string{"Memes"}}
	if code := f.do(http.MethodPatch, "/api/sounds/metadata", admin, "10.1.0.1", meta).Code; code != http.StatusOK {
		t.Fatal("metadata patch failed")
	}

	rename := map[string]string{"from": "Memes", "to": "Classics"}
	if code := f.do(http.MethodPost, "/api/tags/rename", admin, "10.1.0.1", rename).Code; code != http.StatusOK {
		t.Fatal("tag rename failed")
	}
	if code := f.do(http.MethodPost, "/api/tags/rename", admin, "10.1.0.1", map[string]string{"from": "Gone", "to": "X"}).Code; code != http.StatusNotFound {
		t.Fatal("renaming unknown tag did not 404")
	}

	tags := decode(t, f.do(http.MethodGet, "/api/tags", admin, "10.1.0.1", nil))
	names := tags["tags"].([]any)
	if len(names) != 1 || names[0] != "Classics" {
		t.Fatalf("tags = %v", names)
	}
}

func TestVersionIsPublic(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/version", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("version: status %d", rec.Code)
	}
	if decode(t, rec)["version"] == "" {
		t.Fatal("empty version")
	}
}
