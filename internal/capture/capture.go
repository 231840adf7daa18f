package capture

import (
	"errors"
	"log"
	"strings"
	"sync"
)

// EventKind discriminates recognizer events.
type EventKind int

const (
	// EventInterim carries the in-progress utterance text.
	EventInterim EventKind = iota
	// EventFinal carries stabilized utterance text.
	EventFinal
	// EventError carries an ErrorKind.
	EventError
	// EventEnded signals the recognizer terminated on its own.
	EventEnded
)

// ErrorKind is the recognizer error taxonomy.
type ErrorKind string

const (
	// ErrorPermissionDenied is fatal to the session's mic capability.
	ErrorPermissionDenied ErrorKind = "permission-denied"
	// ErrorNoSpeech is benign and treated as a normal timeout.
	ErrorNoSpeech ErrorKind = "no-speech"
	// ErrorNetwork is retryable; the watchdog restarts capture.
	ErrorNetwork ErrorKind = "network"
	// ErrorUnsupported is fatal and one-time.
	ErrorUnsupported ErrorKind = "unsupported"
)

// Event is one recognizer callback. For text events, Text is always the full
// current-turn transcript (replace semantics), never a delta: streaming
// engines may replay the whole turn on each callback.
type Event struct {
	Kind EventKind
	Text string
	Err  ErrorKind
}

// Engine is the underlying speech-recognition engine. One logical recognizer
// instance exists per session; the adapter is its only owner.
type Engine interface {
	// Start begins recognition. ErrUnsupported means the engine cannot run in
	// this environment at all and must not be retried.
	Start() error
	// Stop ends recognition gracefully; pending text may still be emitted.
	Stop()
	// Abort ends recognition immediately, discarding pending text.
	Abort()
	// Events returns the engine's event stream. The channel persists across
	// Start/Stop cycles.
	Events() <-chan Event
}

// ErrUnsupported is returned when the runtime has no usable recognizer.
var ErrUnsupported = errors.New("capture: speech recognition unsupported")

// Discipline selects how turn boundaries are produced.
type Discipline int

const (
	// TurnBased recognizers self-terminate after each final result; the
	// orchestrator restarts them for the next turn.
	TurnBased Discipline = iota
	// Continuous recognizers stay active across utterances; the orchestrator
	// decides boundaries via silence timing.
	Continuous
)

// Adapter wraps an Engine with the capture contract: silent double-start,
// one-time unsupported failure, full-transcript rebuild, and per-discipline
// termination behavior.
type Adapter struct {
	engine     Engine
	discipline Discipline

	mu          sync.Mutex
	active      bool
	unsupported bool

	// current-turn accumulation
	finals  []string
	interim string

	out  chan Event
	once sync.Once
}

// NewAdapter wraps engine with the given capture discipline.
func NewAdapter(engine Engine, d Discipline) *Adapter {
	return &Adapter{engine: engine, discipline: d, out: make(chan Event, 64)}
}

// Events returns the normalized event stream.
func (a *Adapter) Events() <-chan Event { return a.out }

// Start begins listening. A start while already active fails silently
// (logged, not fatal). Once the engine reports unsupported, every subsequent
// Start returns ErrUnsupported without touching the engine again.
func (a *Adapter) Start() error {
	a.mu.Lock()
	if a.unsupported {
		a.mu.Unlock()
		return ErrUnsupported
	}
	if a.active {
		a.mu.Unlock()
		log.Printf("capture: start ignored, recognizer already active")
		return nil
	}
	a.active = true
	a.finals = a.finals[:0]
	a.interim = ""
	a.mu.Unlock()

	a.once.Do(func() { go a.pump() })

	if err := a.engine.Start(); err != nil {
		a.mu.Lock()
		a.active = false
		if errors.Is(err, ErrUnsupported) {
			a.unsupported = true
		}
		a.mu.Unlock()
		if errors.Is(err, ErrUnsupported) {
			return ErrUnsupported
		}
		// Engine start failures are logged, not fatal; the watchdog retries.
		log.Printf("capture: engine start failed: %v", err)
		return nil
	}
	return nil
}

// Stop ends listening gracefully.
func (a *Adapter) Stop() {
	a.mu.Lock()
	wasActive := a.active
	a.active = false
	a.mu.Unlock()
	if wasActive {
		a.engine.Stop()
	}
}

// Abort ends listening immediately, discarding the in-progress turn.
// Idempotent: aborting an inactive adapter is a no-op.
func (a *Adapter) Abort() {
	a.mu.Lock()
	wasActive := a.active
	a.active = false
	a.finals = a.finals[:0]
	a.interim = ""
	a.mu.Unlock()
	if wasActive {
		a.engine.Abort()
	}
}

// Active reports whether the recognizer is currently listening.
func (a *Adapter) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Unsupported reports whether the engine failed the one-time capability check.
func (a *Adapter) Unsupported() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unsupported
}

// pump normalizes engine events. Text events are rebuilt to carry the full
// visible transcript of the current turn.
func (a *Adapter) pump() {
	for ev := range a.engine.Events() {
		switch ev.Kind {
		case EventInterim:
			a.mu.Lock()
			a.interim = ev.Text
			text := a.rebuildLocked()
			a.mu.Unlock()
			a.emit(Event{Kind: EventInterim, Text: text})
		case EventFinal:
			a.mu.Lock()
			a.interim = ""
			if a.discipline == Continuous {
				// Continuous engines replay the full turn; replace.
				a.finals = a.finals[:0]
			}
			if strings.TrimSpace(ev.Text) != "" {
				a.finals = append(a.finals, ev.Text)
			}
			text := a.rebuildLocked()
			turnDone := a.discipline == TurnBased && a.active
			a.mu.Unlock()
			a.emit(Event{Kind: EventFinal, Text: text})
			if turnDone {
				// One logical utterance per cycle: the recognizer
				// self-terminates and must be restarted by the orchestrator.
				a.engine.Stop()
			}
		case EventError:
			a.mu.Lock()
			if ev.Err == ErrorUnsupported {
				a.unsupported = true
			}
			a.mu.Unlock()
			a.emit(ev)
		case EventEnded:
			a.mu.Lock()
			a.active = false
			a.mu.Unlock()
			a.emit(ev)
		}
	}
	close(a.out)
}

func (a *Adapter) rebuildLocked() string {
	parts := make([]string, 0, len(a.finals)+1)
	parts = append(parts, a.finals...)
	if a.interim != "" {
		parts = append(parts, a.interim)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func (a *Adapter) emit(ev Event) {
	select {
	case a.out <- ev:
	default:
		log.Printf("capture: event buffer full, dropping %d", ev.Kind)
	}
}
