package playback

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keshon/soundboard/internal/audio"
	"github.com/keshon/soundboard/internal/guest"
	"github.com/keshon/soundboard/internal/policy"
	"github.com/keshon/soundboard/internal/storage"
)

// Status is the four-value projection served to polling clients.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusPlaying   Status = "playing"
	StatusPaused    Status = "paused"
	StatusBuffering Status = "buffering"
)

var (
	ErrNotPlaying = errors.New("nothing is playing")
	ErrNotPaused  = errors.New("playback is not paused")
)

// CooldownError rejects a guest play inside the cooldown window.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return "guest cooldown active"
}

// Track is a playable sound resolved by the library.
type Track struct {
	Filename    string
	DisplayName string
	Duration    float64
	// Open produces the PCM stream starting at offset seconds.
	Open func(offset float64) (io.ReadCloser, func(), error)
}

// Source resolves filenames into playable tracks, lazily probing and caching
// duration along the way.
type Source interface {
	Resolve(ctx context.Context, filename string) (Track, error)
}

// Engine is the external audio player the controller reconciles against.
// Play returns the sequence number of the run it started; events carry the
// sequence number of the run they belong to.
type Engine interface {
	Play(src io.ReadCloser, cleanup func()) (uint64, error)
	Pause() error
	Resume() error
	Stop()
	SetVolume(v float64)
	State() audio.State
	Events() <-chan audio.Event
}

// UserRef identifies the session that started the active track.
type UserRef struct {
	Username string      `json:"username"`
	Role     policy.Role `json:"role"`
}

// Snapshot is the authoritative playback view served to clients.
// CurrentTime is recomputed on every call, never cached.
type Snapshot struct {
	Status      Status   `json:"status"`
	Filename    string   `json:"filename,omitempty"`
	DisplayName string   `json:"displayName,omitempty"`
	StartedBy   *UserRef `json:"startedBy,omitempty"`
	CurrentTime float64  `json:"currentTime"`
	Duration    float64  `json:"duration,omitempty"`
	Volume      float64  `json:"volume"`
}

// track is the locally tracked playback intent. The controller is the single
// writer; the engine's Idle events arrive through the watch loop which also
// writes under the same mutex.
type track struct {
	active          bool
	gen             uint64 // engine run sequence this state belongs to
	filename        string
	displayName     string
	startedBy       policy.Actor
	startTimeOffset float64   // seconds into the track at last (re)start
	startTime       time.Time // wall clock of last (re)start
	duration        float64
	pausedAt        *float64 // set only while paused
}

// Controller is the playback authority: it owns the commanded playback
// state, applies role/lock/override policy, and reconciles against the
// engine's asynchronous status.
type Controller struct {
	mu      sync.Mutex
	engine  Engine
	source  Source
	store   *storage.Storage
	limiter *guest.Limiter

	state  track
	volume float64

	now func() time.Time
}

func NewController(engine Engine, source Source, store *storage.Storage, limiter *guest.Limiter) *Controller {
	return &Controller{
		engine:  engine,
		source:  source,
		store:   store,
		limiter: limiter,
		volume:  store.Server().Volume,
		now:     time.Now,
	}
}

// Watch consumes engine state transitions until ctx is cancelled. Whenever
// the engine reports Idle (track finished, or an internal error) the tracked
// state is reset — unless the Idle belongs to a run that a newer Start has
// already replaced, in which case it is the pre-empted track's farewell and
// must not wipe the live one. Run in a goroutine.
func (c *Controller) Watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.engine.Events():
			if !ok {
				return
			}
			if ev.State == audio.StateIdle {
				c.resetRun(ev.Seq)
			}
		}
	}
}

// Start validates and begins playback of filename at offset seconds on
// behalf of actor. All checks pass before any state changes: a rejected
// request leaves no trace, and a guest's cooldown is recorded only at the
// moment playback is accepted.
func (c *Controller) Start(ctx context.Context, actor policy.Actor, ip, filename string, offset float64) error {
	trk, err := c.source.Resolve(ctx, filename)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var startedBy *policy.Actor
	if c.engine.State() != audio.StateIdle && c.state.active {
		owner := c.state.startedBy
		startedBy = &owner
	}
	if err := policy.CanStart(actor, startedBy, c.store.Lock()); err != nil {
		return err
	}

	if actor.Role == policy.RoleGuest {
		if remaining, ok := c.limiter.Check(ip); !ok {
			return &CooldownError{Remaining: remaining}
		}
	}

	if offset < 0 {
		offset = 0
	}
	if trk.Duration > 0 && offset > trk.Duration {
		offset = trk.Duration
	}

	src, cleanup, err := trk.Open(offset)
	if err != nil {
		return err
	}
	gen, err := c.engine.Play(src, cleanup)
	if err != nil {
		return err
	}

	c.state = track{
		active:          true,
		gen:             gen,
		filename:        trk.Filename,
		displayName:     trk.DisplayName,
		startedBy:       actor,
		startTimeOffset: offset,
		startTime:       c.now(),
		duration:        trk.Duration,
	}
	c.engine.SetVolume(c.volume)

	if actor.Role == policy.RoleGuest {
		c.limiter.Record(ip)
		if err := c.store.AppendGuestPlay(storage.GuestPlay{
			IP:          ip,
			Timestamp:   c.now(),
			Filename:    trk.Filename,
			DisplayName: trk.DisplayName,
		}); err != nil {
			log.Warn().Err(err).Msg("guest history append failed")
		}
	}

	log.Info().
		Str("filename", trk.Filename).
		Str("user", actor.Username).
		Str("role", string(actor.Role)).
		Float64("offset", offset).
		Msg("playback started")
	return nil
}

// Pause suspends the active track, capturing the playhead position so
// Resume can continue from the same point.
func (c *Controller) Pause(actor policy.Actor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.active || c.state.pausedAt != nil {
		return ErrNotPlaying
	}
	if err := policy.CanControl(actor, c.state.startedBy); err != nil {
		return err
	}

	elapsed := c.now().Sub(c.state.startTime).Seconds()
	at := clamp(c.state.startTimeOffset+elapsed, 0, c.state.duration)
	c.state.pausedAt = &at

	if err := c.engine.Pause(); err != nil {
		c.state.pausedAt = nil
		return err
	}
	return nil
}

// Resume continues from the paused position.
func (c *Controller) Resume(actor policy.Actor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.active || c.state.pausedAt == nil {
		return ErrNotPaused
	}
	if err := policy.CanControl(actor, c.state.startedBy); err != nil {
		return err
	}

	c.state.startTimeOffset = *c.state.pausedAt
	c.state.startTime = c.now()
	c.state.pausedAt = nil

	return c.engine.Resume()
}

// Stop resets the tracked state and stops the engine. The engine's own Idle
// event will fire as well; the reset is idempotent with it.
func (c *Controller) Stop(actor policy.Actor) error {
	c.mu.Lock()
	if !c.state.active {
		c.mu.Unlock()
		return nil
	}
	if err := policy.CanControl(actor, c.state.startedBy); err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = track{}
	c.mu.Unlock()

	c.engine.Stop()
	return nil
}

// resetRun is the player-driven idle transition for the run tagged seq.
// An Idle from an older run means the tracked state already belongs to its
// successor and stays untouched.
func (c *Controller) resetRun(seq uint64) {
	c.mu.Lock()
	if c.state.active && seq < c.state.gen {
		c.mu.Unlock()
		return
	}
	if c.state.active {
		log.Info().Str("filename", c.state.filename).Msg("playback finished")
	}
	c.state = track{}
	c.mu.Unlock()
}

// Snapshot projects the engine status and the tracked intent into the
// client-facing view. While playing, currentTime is derived from wall clock
// on every call for a drift-free timeline.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{Status: StatusIdle, Volume: c.volume}
	if !c.state.active {
		return snap
	}

	switch c.engine.State() {
	case audio.StateIdle:
		return snap
	case audio.StateBuffering:
		snap.Status = StatusBuffering
	case audio.StatePaused:
		snap.Status = StatusPaused
	default:
		snap.Status = StatusPlaying
	}

	snap.Filename = c.state.filename
	snap.DisplayName = c.state.displayName
	snap.StartedBy = &UserRef{Username: c.state.startedBy.Username, Role: c.state.startedBy.Role}
	snap.Duration = c.state.duration

	if c.state.pausedAt != nil {
		snap.CurrentTime = *c.state.pausedAt
	} else {
		elapsed := c.now().Sub(c.state.startTime).Seconds()
		snap.CurrentTime = clamp(c.state.startTimeOffset+elapsed, 0, c.state.duration)
	}
	return snap
}

// SetVolume applies the global volume multiplier to the live stream and
// persists it.
func (c *Controller) SetVolume(v float64) error {
	if v < 0 || v > 1 {
		return errors.New("volume must be between 0 and 1")
	}
	c.mu.Lock()
	c.volume = v
	c.mu.Unlock()

	c.engine.SetVolume(v)
	return c.store.SetVolume(v)
}

func (c *Controller) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// SetLock toggles the playback lock, recording the owner role at set-time.
func (c *Controller) SetLock(actor policy.Actor, locked bool) error {
	if err := policy.CanToggleLock(actor); err != nil {
		return err
	}
	return c.store.SetLock(locked, actor.Role)
}

func clamp(v, lo, hi float64) float64 {
	if hi > 0 && v > hi {
		return hi
	}
	if v < lo {
		return lo
	}
	return v
}
