// Package playback owns "who is speaking": it plays synthesized clips through
// an abstract sink, falls back to the on-device synthesizer when playback is
// blocked, and drives the avatar presence state.
package playback

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/mannat244/Assesly/internal/tts"
)

// Sink is the runtime's "play audio resource, notify on end/error"
// capability. done is called exactly once per started clip with nil on
// natural completion; Stop discards the current clip without calling done.
type Sink interface {
	PlayClip(clip *tts.Clip, done func(error)) error
	Stop()
}

// Hooks let the orchestrator observe speech lifecycle without the player
// mutating session state itself.
type Hooks struct {
	// OnSpeechStart fires when audio actually begins.
	OnSpeechStart func()
	// OnSpeechEnd fires once per utterance when speech is over, whether it
	// completed naturally or every path failed.
	OnSpeechEnd func()
}

// ErrNothingToPlay is returned for an empty Speech value.
var ErrNothingToPlay = errors.New("playback: nothing to play")

// Player enforces the at-most-one-concurrent-playback invariant.
type Player struct {
	sink     Sink
	native   tts.NativeSynthesizer
	presence *Presence
	hooks    Hooks

	mu  sync.Mutex
	gen uint64
	// speaking tracks whether a handle is live; reads are advisory.
	speaking     bool
	cancelNative context.CancelFunc
}

// NewPlayer builds a player over the given sink. native and presence may be
// nil.
func NewPlayer(sink Sink, native tts.NativeSynthesizer, presence *Presence, hooks Hooks) *Player {
	return &Player{sink: sink, native: native, presence: presence, hooks: hooks}
}

// Speak starts the given speech, stopping any prior playback first. It
// returns an error only when no path could produce audio; in that case no
// hooks have fired for this utterance.
func (p *Player) Speak(ctx context.Context, sp tts.Speech) error {
	p.stopLocked()

	p.mu.Lock()
	p.gen++
	myGen := p.gen
	p.mu.Unlock()

	switch {
	case sp.Clip != nil:
		return p.playClip(ctx, myGen, sp)
	case sp.NativeText != "":
		return p.speakNative(ctx, myGen, sp.NativeText, sp.NativeVoice)
	default:
		return ErrNothingToPlay
	}
}

func (p *Player) playClip(ctx context.Context, myGen uint64, sp tts.Speech) error {
	p.begin(myGen)
	err := p.sink.PlayClip(sp.Clip, func(playErr error) {
		if !p.current(myGen) {
			return
		}
		if playErr == nil {
			p.finish(myGen)
			return
		}
		// Autoplay/decode failure: do not retry the clip, fall back to the
		// on-device path rather than silently stalling.
		log.Printf("playback: clip playback failed: %v", playErr)
		if p.native != nil && sp.NativeText != "" {
			nctx, cancel := context.WithCancel(context.Background())
			p.mu.Lock()
			p.cancelNative = cancel
			p.mu.Unlock()
			go func() {
				if nerr := p.native.Speak(nctx, sp.NativeText, sp.NativeVoice); nerr != nil && nctx.Err() == nil {
					log.Printf("playback: on-device fallback failed: %v", nerr)
				}
				p.finish(myGen)
			}()
			return
		}
		p.finish(myGen)
	})
	if err != nil {
		log.Printf("playback: could not start clip: %v", err)
		if p.native != nil && sp.NativeText != "" {
			return p.speakNative(ctx, myGen, sp.NativeText, sp.NativeVoice)
		}
		p.finish(myGen)
		return err
	}
	return nil
}

func (p *Player) speakNative(ctx context.Context, myGen uint64, text string, voice tts.Voice) error {
	if p.native == nil {
		return errors.New("playback: no on-device synthesizer available")
	}
	nctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancelNative = cancel
	p.mu.Unlock()

	p.begin(myGen)
	go func() {
		if err := p.native.Speak(nctx, text, voice); err != nil && nctx.Err() == nil {
			log.Printf("playback: on-device synthesis failed: %v", err)
		}
		p.finish(myGen)
	}()
	return nil
}

// Stop discards the current playback handle, if any. No end hook fires: the
// utterance was cancelled, not completed.
func (p *Player) Stop() { p.stopLocked() }

// Speaking reports whether a playback handle is currently live.
func (p *Player) Speaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speaking
}

func (p *Player) stopLocked() {
	p.mu.Lock()
	p.gen++ // void any in-flight done callbacks
	wasSpeaking := p.speaking
	p.speaking = false
	cancel := p.cancelNative
	p.cancelNative = nil
	p.mu.Unlock()

	p.sink.Stop()
	if cancel != nil {
		cancel()
	}
	if wasSpeaking && p.presence != nil {
		p.presence.EnterIdle()
	}
}

func (p *Player) current(myGen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen == myGen
}

func (p *Player) begin(myGen uint64) {
	p.mu.Lock()
	if p.gen != myGen {
		p.mu.Unlock()
		return
	}
	p.speaking = true
	p.mu.Unlock()
	if p.presence != nil {
		p.presence.SpeechStarted()
	}
	if p.hooks.OnSpeechStart != nil {
		p.hooks.OnSpeechStart()
	}
}

func (p *Player) finish(myGen uint64) {
	p.mu.Lock()
	if p.gen != myGen {
		p.mu.Unlock()
		return
	}
	p.speaking = false
	p.cancelNative = nil
	p.mu.Unlock()
	if p.presence != nil {
		p.presence.EnterIdle()
	}
	if p.hooks.OnSpeechEnd != nil {
		p.hooks.OnSpeechEnd()
	}
}
