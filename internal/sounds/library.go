package sounds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/keshon/soundboard/internal/policy"
	"github.com/keshon/soundboard/internal/storage"
)

var (
	ErrNotFound      = errors.New("sound not found")
	ErrBadFilename   = errors.New("invalid filename")
	ErrSoundExists   = errors.New("a sound with this name already exists")
	ErrUploadTooBig  = errors.New("upload exceeds the size limit")
	ErrUploadTooLong = errors.New("upload exceeds the duration limit")
)

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
	allowedExt  = map[string]string{
		".mp3": "audio/mpeg",
		".wav": "audio/wav",
		".ogg": "audio/ogg",
	}
)

const probeTimeout = 10 * time.Second

// Sound is one playable clip as served to clients.
type Sound struct {
	Filename    string   `json:"filename"`
	DisplayName string   `json:"displayName"`
	Duration    float64  `json:"duration,omitempty"`
	Tags        []string `json:"tags"`
}

// Prober measures an audio file's duration in seconds.
type Prober func(ctx context.Context, path string) (float64, error)

// Opener produces a PCM stream for an audio file, seeking to offset seconds.
type Opener func(path string, offset float64) (io.ReadCloser, func(), error)

// Library manages the sound directory, the pending quarantine directory and
// the metadata kept alongside them.
type Library struct {
	dir        string
	pendingDir string
	store      *storage.Storage
	probe      Prober
	open       Opener
}

func NewLibrary(dir, pendingDir string, store *storage.Storage, probe Prober, open Opener) (*Library, error) {
	for _, d := range []string{dir, pendingDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", d, err)
		}
	}
	return &Library{dir: dir, pendingDir: pendingDir, store: store, probe: probe, open: open}, nil
}

// SanitizeFilename reduces name to a safe basename with an allowed audio
// extension. Path separators and unusual characters are stripped, defeating
// traversal through uploaded names.
func SanitizeFilename(name string) (string, error) {
	base := filepath.Base(strings.TrimSpace(name))
	ext := strings.ToLower(filepath.Ext(base))
	if _, ok := allowedExt[ext]; !ok {
		return "", fmt.Errorf("%w: unsupported extension %q", ErrBadFilename, ext)
	}
	stem := unsafeChars.ReplaceAllString(strings.TrimSuffix(base, filepath.Ext(base)), "_")
	if strings.Trim(stem, "._-") == "" {
		return "", ErrBadFilename
	}
	return stem + ext, nil
}

// ContentType returns the media type for an allowed sound filename.
func ContentType(filename string) string {
	return allowedExt[strings.ToLower(filepath.Ext(filename))]
}

// Path validates filename and returns its location inside the sound
// directory. ErrNotFound when no such file exists.
func (l *Library) Path(filename string) (string, error) {
	safe, err := SanitizeFilename(filename)
	if err != nil {
		return "", err
	}
	if safe != filename {
		return "", ErrBadFilename
	}
	path := filepath.Join(l.dir, safe)
	if _, err := os.Stat(path); err != nil {
		return "", ErrNotFound
	}
	return path, nil
}

// PendingPath is Path for the quarantine directory.
func (l *Library) PendingPath(filename string) (string, error) {
	safe, err := SanitizeFilename(filename)
	if err != nil {
		return "", err
	}
	path := filepath.Join(l.pendingDir, safe)
	if _, err := os.Stat(path); err != nil {
		return "", ErrNotFound
	}
	return path, nil
}

// List returns all sounds on disk, decorated with metadata. Ordering follows
// the persisted order list; files not in it are appended alphabetically.
// Metadata entries for files removed outside the API are skipped, not pruned.
func (l *Library) List() ([]Sound, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sounds directory: %w", err)
	}

	onDisk := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := allowedExt[strings.ToLower(filepath.Ext(e.Name()))]; ok {
			onDisk[e.Name()] = true
		}
	}

	doc := l.store.Sounds()
	ordered := make([]string, 0, len(onDisk))
	for _, name := range doc.Order {
		if onDisk[name] {
			ordered = append(ordered, name)
			delete(onDisk, name)
		}
	}
	rest := make([]string, 0, len(onDisk))
	for name := range onDisk {
		rest = append(rest, name)
	}
	sort.Strings(rest)
	ordered = append(ordered, rest...)

	sounds := make([]Sound, 0, len(ordered))
	for _, name := range ordered {
		sounds = append(sounds, soundFromMeta(name, doc.Meta[name]))
	}
	return sounds, nil
}

func soundFromMeta(filename string, meta storage.SoundMeta) Sound {
	display := meta.DisplayName
	if display == "" {
		display = filename
	}
	tags := meta.Tags
	if tags == nil {
		tags = []string{}
	}
	return Sound{Filename: filename, DisplayName: display, Duration: meta.Duration, Tags: tags}
}

// Get returns one sound with metadata applied.
func (l *Library) Get(filename string) (Sound, error) {
	if _, err := l.Path(filename); err != nil {
		return Sound{}, err
	}
	return soundFromMeta(filename, l.store.Sounds().Meta[filename]), nil
}

// EnsureDuration returns the sound's duration, probing and caching it on
// first use. A failed probe is logged and reported as zero; playback still
// proceeds without a known duration.
func (l *Library) EnsureDuration(ctx context.Context, filename string) float64 {
	if meta := l.store.Sounds().Meta[filename]; meta.Duration > 0 {
		return meta.Duration
	}
	path := filepath.Join(l.dir, filename)

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	duration, err := l.probe(probeCtx, path)
	if err != nil {
		log.Warn().Err(err).Str("filename", filename).Msg("duration probe failed")
		return 0
	}
	if err := l.store.SetSoundDuration(filename, duration); err != nil {
		log.Warn().Err(err).Str("filename", filename).Msg("duration cache write failed")
	}
	return duration
}

// OpenStream produces the PCM stream for a sound, transcoded from offset
// seconds when non-zero.
func (l *Library) OpenStream(path string, offset float64) (io.ReadCloser, func(), error) {
	return l.open(path, offset)
}

// SaveDirect stores an upload straight into the sound set (admin path) and
// probes its duration. An existing file under the same name is replaced.
func (l *Library) SaveDirect(ctx context.Context, r io.Reader, originalName string) (Sound, error) {
	safe, err := SanitizeFilename(originalName)
	if err != nil {
		return Sound{}, err
	}

	tmp, size, err := l.writeTemp(r)
	if err != nil {
		return Sound{}, err
	}

	target := filepath.Join(l.dir, safe)
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return Sound{}, fmt.Errorf("failed to store upload: %w", err)
	}
	log.Info().Str("filename", safe).Int64("size", size).Msg("sound uploaded")

	l.EnsureDuration(ctx, safe)
	return l.Get(safe)
}

// SavePending quarantines an upload for moderation (user/guest path). The
// byte cap is checked against the written temp file and the duration cap via
// a probe; exceeding either deletes the file. The stored name is uniquified
// so a pending filename never collides with an approved sound or another
// pending upload.
func (l *Library) SavePending(ctx context.Context, r io.Reader, originalName string, by policy.Actor, ip string) (storage.PendingUpload, error) {
	safe, err := SanitizeFilename(originalName)
	if err != nil {
		return storage.PendingUpload{}, err
	}

	caps := l.store.Guest()

	tmp, size, err := l.writeTemp(r)
	if err != nil {
		return storage.PendingUpload{}, err
	}
	if caps.MaxUploadBytes > 0 && size > caps.MaxUploadBytes {
		os.Remove(tmp)
		return storage.PendingUpload{}, fmt.Errorf("%w: %d bytes", ErrUploadTooBig, size)
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	duration, err := l.probe(probeCtx, tmp)
	if err != nil {
		os.Remove(tmp)
		return storage.PendingUpload{}, fmt.Errorf("failed to probe upload: %w", err)
	}
	if caps.MaxUploadDuration > 0 && duration > caps.MaxUploadDuration {
		os.Remove(tmp)
		return storage.PendingUpload{}, fmt.Errorf("%w: %.1fs", ErrUploadTooLong, duration)
	}

	name := l.uniquePendingName(safe)
	if err := os.Rename(tmp, filepath.Join(l.pendingDir, name)); err != nil {
		os.Remove(tmp)
		return storage.PendingUpload{}, fmt.Errorf("failed to quarantine upload: %w", err)
	}

	pending := storage.PendingUpload{
		Filename:       name,
		UploadedBy:     by.Username,
		UploadedByRole: by.Role,
		UploadedAt:     time.Now().UTC(),
		Duration:       duration,
		Size:           size,
		OriginalName:   originalName,
	}
	if by.Role == policy.RoleGuest {
		pending.UploadedByIP = ip
	}
	if err := l.store.AppendPending(pending); err != nil {
		os.Remove(filepath.Join(l.pendingDir, name))
		return storage.PendingUpload{}, err
	}

	log.Info().Str("filename", name).Str("user", by.Username).Msg("upload quarantined")
	return pending, nil
}

// Approve moves a pending upload into the sound set. If an approved sound
// with the same name appeared in the meantime, the pending file and its
// record are removed together and the existing sound is left untouched.
func (l *Library) Approve(ctx context.Context, filename string) (Sound, error) {
	pending, ok := l.store.FindPending(filename)
	if !ok {
		return Sound{}, storage.ErrPendingNotFound
	}
	src := filepath.Join(l.pendingDir, pending.Filename)
	dst := filepath.Join(l.dir, pending.Filename)

	if _, err := os.Stat(dst); err == nil {
		os.Remove(src)
		l.store.RemovePending(pending.Filename)
		return Sound{}, ErrSoundExists
	}

	if err := os.Rename(src, dst); err != nil {
		return Sound{}, fmt.Errorf("failed to approve upload: %w", err)
	}

	if err := l.store.SetSoundDuration(pending.Filename, pending.Duration); err != nil {
		log.Warn().Err(err).Str("filename", pending.Filename).Msg("duration write failed")
	}
	l.EnsureDuration(ctx, pending.Filename)
	if err := l.store.RemovePending(pending.Filename); err != nil {
		log.Warn().Err(err).Str("filename", pending.Filename).Msg("pending record removal failed")
	}

	log.Info().Str("filename", pending.Filename).Msg("pending upload approved")
	return l.Get(pending.Filename)
}

// Reject deletes a pending upload's file and record together so no orphan
// remains on either side.
func (l *Library) Reject(filename string) error {
	pending, ok := l.store.FindPending(filename)
	if !ok {
		return storage.ErrPendingNotFound
	}
	if err := os.Remove(filepath.Join(l.pendingDir, pending.Filename)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete pending file: %w", err)
	}
	if err := l.store.RemovePending(pending.Filename); err != nil {
		return err
	}
	log.Info().Str("filename", pending.Filename).Msg("pending upload rejected")
	return nil
}

// writeTemp spools an upload into a uniquely named temp file inside the
// pending directory (same filesystem as both final destinations, so the
// rename stays atomic) and reports its size.
func (l *Library) writeTemp(r io.Reader) (string, int64, error) {
	tmp := filepath.Join(l.pendingDir, ".tmp-"+uuid.NewString())
	f, err := os.Create(tmp)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return "", 0, fmt.Errorf("failed to write upload: %w", err)
	}
	return tmp, size, nil
}

// uniquePendingName appends a short suffix while the candidate name clashes
// with an approved sound or an existing pending upload.
func (l *Library) uniquePendingName(safe string) string {
	name := safe
	ext := filepath.Ext(safe)
	stem := strings.TrimSuffix(safe, ext)
	for i := 0; ; i++ {
		_, inPending := l.store.FindPending(name)
		_, err := os.Stat(filepath.Join(l.dir, name))
		_, perr := os.Stat(filepath.Join(l.pendingDir, name))
		if !inPending && os.IsNotExist(err) && os.IsNotExist(perr) {
			return name
		}
		name = fmt.Sprintf("%s-%s%s", stem, uuid.NewString()[:8], ext)
		if i > 4 {
			return name
		}
	}
}

// Tags returns the tag universe: the ordered list first, then any tags that
// appear on sounds but not in the order list, alphabetically.
func (l *Library) Tags() (order []string, hidden []string) {
	doc := l.store.Sounds()
	order = slices.Clone(doc.TagOrder)
	seen := make(map[string]bool, len(order))
	for _, t := range order {
		seen[t] = true
	}
	var extra []string
	for _, meta := range doc.Meta {
		for _, t := range meta.Tags {
			if !seen[t] {
				seen[t] = true
				extra = append(extra, t)
			}
		}
	}
	sort.Strings(extra)
	return append(order, extra...), slices.Clone(doc.TagHidden)
}
