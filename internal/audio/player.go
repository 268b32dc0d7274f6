package audio

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"layeh.com/gopus"
)

// State is the engine's own playback status, reported asynchronously.
type State string

const (
	StateIdle      State = "idle"
	StateBuffering State = "buffering"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
)

var ErrNoSink = errors.New("no voice connection attached")

// Event is one engine state transition, tagged with the sequence number of
// the Play call it belongs to. When a new track pre-empts a running one the
// dying run still emits its final Idle; the tag lets the consumer tell that
// stale Idle apart from the live track going idle.
type Event struct {
	State State
	Seq   uint64
}

// Sink is where encoded Opus frames go. A Discord voice connection satisfies
// this through the wrapper in internal/discord.
type Sink interface {
	Speaking(b bool) error
	Opus() chan<- []byte
}

// Player reads a PCM stream, encodes 20ms Opus frames and pushes them into
// the attached sink. One track at a time; starting a new track stops the
// previous one. State transitions are emitted on Events; the buffered channel
// drops signals when full rather than blocking playback.
type Player struct {
	mu     sync.Mutex
	state  State
	paused bool
	volume float64
	sink   Sink

	stop     chan struct{}
	done     chan struct{}
	stopOnce *sync.Once
	seq      uint64

	events chan Event
}

func NewPlayer() *Player {
	return &Player{
		state:  StateIdle,
		volume: 0.5,
		events: make(chan Event, 16),
	}
}

// Events delivers engine state transitions, Idle included, so the owner of
// the authoritative playback state can reconcile against it.
func (p *Player) Events() <-chan Event {
	return p.events
}

// SetSink attaches the voice connection sink. Any active playback is stopped
// first so no frames land on a dead connection.
func (p *Player) SetSink(sink Sink) {
	p.Stop()
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
}

// ClearSink detaches the sink, stopping playback.
func (p *Player) ClearSink() {
	p.Stop()
	p.mu.Lock()
	p.sink = nil
	p.mu.Unlock()
}

// State returns the engine's current status.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetVolume sets the global volume multiplier, applied to the live PCM
// stream in real time.
func (p *Player) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	p.mu.Lock()
	p.volume = v
	p.mu.Unlock()
}

func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Play starts streaming from src and returns the sequence number assigned to
// this run. cleanup is invoked when playback ends for any reason. The
// previous track, if any, is stopped first; its final Idle event carries the
// old sequence number.
func (p *Player) Play(src io.ReadCloser, cleanup func()) (uint64, error) {
	p.Stop()

	p.mu.Lock()
	if p.sink == nil {
		p.mu.Unlock()
		src.Close()
		if cleanup != nil {
			cleanup()
		}
		return 0, ErrNoSink
	}
	sink := p.sink
	stop := make(chan struct{})
	done := make(chan struct{})
	p.stop = stop
	p.done = done
	p.stopOnce = &sync.Once{}
	p.paused = false
	p.state = StateBuffering
	p.seq++
	seq := p.seq
	p.mu.Unlock()
	p.emit(Event{State: StateBuffering, Seq: seq})

	go p.run(src, cleanup, sink, stop, done, seq)
	return seq, nil
}

// Pause suspends frame delivery without tearing the stream down.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePlaying && p.state != StateBuffering {
		return errors.New("nothing to pause")
	}
	p.paused = true
	p.state = StatePaused
	p.emitLocked(Event{State: StatePaused, Seq: p.seq})
	return nil
}

// Resume continues frame delivery after a pause.
func (p *Player) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePaused {
		return errors.New("nothing to resume")
	}
	p.paused = false
	p.state = StatePlaying
	p.emitLocked(Event{State: StatePlaying, Seq: p.seq})
	return nil
}

// Stop ends the active track, if any, and waits for the playback goroutine
// to finish. Safe to call when idle.
func (p *Player) Stop() {
	p.mu.Lock()
	if p.state == StateIdle || p.stopOnce == nil {
		p.mu.Unlock()
		return
	}
	once := p.stopOnce
	stop := p.stop
	done := p.done
	p.mu.Unlock()

	once.Do(func() { close(stop) })
	<-done
}

func (p *Player) run(src io.ReadCloser, cleanup func(), sink Sink, stop, done chan struct{}, seq uint64) {
	defer close(done)
	defer src.Close()
	if cleanup != nil {
		defer cleanup()
	}
	defer p.finish(sink, seq)

	encoder, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		log.Error().Err(err).Msg("opus encoder init failed")
		return
	}

	if err := sink.Speaking(true); err != nil {
		log.Warn().Err(err).Msg("speaking signal failed")
	}

	pcmBuf := make([]byte, frameSize*channels*2)
	intBuf := make([]int16, frameSize*channels)
	first := true

	for {
		select {
		case <-stop:
			return
		default:
		}

		if p.isPaused() {
			select {
			case <-stop:
				return
			case <-time.After(20 * time.Millisecond):
			}
			continue
		}

		if _, err := io.ReadFull(src, pcmBuf); err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				log.Error().Err(err).Msg("pcm read error")
			}
			return
		}

		if first {
			first = false
			p.setPlaying(seq)
		}

		volume := p.Volume()
		for i := range intBuf {
			sample := int16(binary.LittleEndian.Uint16(pcmBuf[i*2 : i*2+2]))
			intBuf[i] = scaleSample(sample, volume)
		}

		opus, err := encoder.Encode(intBuf, frameSize, len(pcmBuf))
		if err != nil {
			log.Error().Err(err).Msg("opus encode error")
			return
		}

		select {
		case <-stop:
			return
		case sink.Opus() <- opus:
		}
	}
}

// setPlaying flips Buffering into Playing on the first delivered frame.
func (p *Player) setPlaying(seq uint64) {
	p.mu.Lock()
	if p.state == StateBuffering && p.seq == seq {
		p.state = StatePlaying
		p.emitLocked(Event{State: StatePlaying, Seq: seq})
	}
	p.mu.Unlock()
}

// finish emits the run's terminal Idle once the playback goroutine exits,
// whether the track ended naturally, errored, or was stopped. The shared
// state flips to Idle only if no newer run has been installed meanwhile.
func (p *Player) finish(sink Sink, seq uint64) {
	if err := sink.Speaking(false); err != nil {
		log.Debug().Err(err).Msg("speaking off failed")
	}
	p.mu.Lock()
	if p.seq == seq {
		p.state = StateIdle
		p.paused = false
	}
	p.emitLocked(Event{State: StateIdle, Seq: seq})
	p.mu.Unlock()
}

func (p *Player) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Player) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
		log.Debug().Str("state", string(ev.State)).Msg("engine state signal dropped")
	}
}

// emitLocked is emit for callers already holding p.mu; the channel send
// itself never touches the mutex.
func (p *Player) emitLocked(ev Event) {
	select {
	case p.events <- ev:
	default:
	}
}

// scaleSample applies the volume multiplier to one signed 16-bit sample.
func scaleSample(sample int16, volume float64) int16 {
	v := float64(sample) * volume
	if v > 32767 {
		v = 32767
	}
	if v < -32768 {
		v = -32768
	}
	return int16(v)
}
