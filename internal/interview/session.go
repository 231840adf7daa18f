// Package interview is the turn orchestrator: it owns all mutable session
// state and drives the listen -> think -> speak loop. Every component signals
// in through callbacks or channels; nothing else mutates the flags.
package interview

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/mannat244/Assesly/internal/capture"
	"github.com/mannat244/Assesly/internal/endpoint"
	"github.com/mannat244/Assesly/internal/feedback"
	"github.com/mannat244/Assesly/internal/llm"
	"github.com/mannat244/Assesly/internal/profile"
	"github.com/mannat244/Assesly/internal/tts"
)

// Recorder is the capture adapter surface the orchestrator drives.
type Recorder interface {
	Start() error
	Stop()
	Abort()
	Events() <-chan capture.Event
}

// Generator produces the interviewer's next reply from the conversation.
type Generator interface {
	Generate(ctx context.Context, msgs []llm.Message) (string, error)
}

// Synthesizer turns reply text into playable speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, preference string) (tts.Speech, error)
}

// Speaker plays speech. Completion is reported back through SpeechStarted /
// SpeechEnded, wired at construction time.
type Speaker interface {
	Speak(ctx context.Context, sp tts.Speech) error
	Stop()
}

// Reporter scores the finished transcript and records it.
type Reporter interface {
	Generate(ctx context.Context, transcript []llm.Message, ic *profile.InterviewContext) feedback.Report
	AppendHistory(ctx context.Context, prior []profile.HistoryEntry, session feedback.Session)
}

// Archiver stores the raw transcript. May be nil (archival disabled).
type Archiver interface {
	Store(session feedback.Session) error
}

// State is a snapshot of the session flags. At most one of Recording,
// Processing and Speaking is true at any instant.
type State struct {
	Started       bool
	Ended         bool
	MicEnabled    bool
	CameraEnabled bool
	Recording     bool
	Processing    bool
	Speaking      bool
	CodingMode    bool
}

// Hooks are the orchestrator's outbound notifications, all optional. They are
// invoked outside the session lock and must not call back into the session
// synchronously.
type Hooks struct {
	OnStateChange func(State)
	// OnTranscript streams live text: the candidate's in-progress utterance
	// and the interviewer's finished reply.
	OnTranscript func(role llm.Role, text string)
	OnError      func(kind string)
}

// Timings groups the loop delays. Zero values take the defaults.
type Timings struct {
	// SilenceWindow is how long the candidate must stay quiet before their
	// turn is submitted.
	SilenceWindow time.Duration
	// RestartDelay spaces recognizer restarts so the loop cannot spin.
	RestartDelay time.Duration
	// PostSpeechDelay is the pause between the interviewer finishing and the
	// mic re-arming.
	PostSpeechDelay time.Duration
	// Watchdog is the stuck-state sweep interval.
	Watchdog time.Duration
}

func (t Timings) withDefaults() Timings {
	if t.SilenceWindow <= 0 {
		t.SilenceWindow = endpoint.DefaultSilenceWindow
	}
	if t.RestartDelay <= 0 {
		t.RestartDelay = 400 * time.Millisecond
	}
	if t.PostSpeechDelay <= 0 {
		t.PostSpeechDelay = 500 * time.Millisecond
	}
	if t.Watchdog <= 0 {
		t.Watchdog = 5 * time.Second
	}
	return t
}

// Deps are the session's collaborators.
type Deps struct {
	Recorder    Recorder
	Generator   Generator
	Synthesizer Synthesizer
	Speaker     Speaker
	Reporter    Reporter
	Archiver    Archiver
	Context     *profile.InterviewContext
}

// Session orchestrates one mock interview.
type Session struct {
	id      string
	deps    Deps
	timings Timings
	hooks   Hooks

	detector *endpoint.Detector

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state State
	// epoch voids delayed work (restart, post-speech re-arm) armed before a
	// state-changing command.
	epoch    uint64
	messages []llm.Message
	pumpOnce sync.Once
	wdStop   chan struct{}
}

// NewSession builds a session. id tags every log line.
func NewSession(id string, deps Deps, timings Timings, hooks Hooks) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:      id,
		deps:    deps,
		timings: timings.withDefaults(),
		hooks:   hooks,
		ctx:     ctx,
		cancel:  cancel,
		wdStop:  make(chan struct{}),
		state:   State{MicEnabled: true, CameraEnabled: true},
	}
	s.detector = endpoint.NewDetector(s.timings.SilenceWindow, s.submitTurn)
	return s
}

// State returns a snapshot of the session flags.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a copy of the conversation so far.
func (s *Session) Messages() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Start begins the interview: the persona prompt is rendered, the event pump
// and watchdog start, and the interviewer makes the opening call with no user
// message. Calling Start twice is a logged no-op.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state.Ended {
		s.mu.Unlock()
		return errors.New("interview: session already ended")
	}
	if s.state.Started {
		s.mu.Unlock()
		log.Printf("[%s] start ignored, session already running", s.id)
		return nil
	}
	s.state.Started = true
	s.state.Processing = true
	s.messages = []llm.Message{{Role: llm.RoleSystem, Content: profile.SystemPrompt(s.deps.Context)}}
	s.mu.Unlock()

	s.pumpOnce.Do(func() {
		go s.pumpEvents()
		go s.watchdog()
	})

	s.emitState()
	log.Printf("[%s] interview started for %s (%s)", s.id, s.deps.Context.CandidateName, s.deps.Context.TargetCompany)
	go s.generate()
	return nil
}

// SetMic toggles the candidate's microphone. Turning it off aborts capture
// immediately and suppresses auto-restart; idempotent. Turning it on re-arms
// only when the interviewer is neither thinking nor speaking.
func (s *Session) SetMic(on bool) {
	s.mu.Lock()
	if s.state.Ended {
		s.mu.Unlock()
		return
	}
	already := s.state.MicEnabled == on
	s.state.MicEnabled = on
	if !on {
		s.epoch++
		s.state.Recording = false
	}
	busy := s.state.Processing || s.state.Speaking
	s.mu.Unlock()

	if !on {
		// Abort even when already disabled: the kill switch must always work.
		s.deps.Recorder.Abort()
		s.detector.Cancel()
	} else if !already && !busy {
		s.armCapture()
	}
	s.emitState()
}

// SetCamera records the candidate's camera toggle.
func (s *Session) SetCamera(on bool) {
	s.mu.Lock()
	if s.state.Ended {
		s.mu.Unlock()
		return
	}
	s.state.CameraEnabled = on
	s.mu.Unlock()
	s.emitState()
}

// SetCodingMode toggles the shared code editor. The flag clears on its own
// when the interviewer starts speaking.
func (s *Session) SetCodingMode(on bool) {
	s.mu.Lock()
	if s.state.Ended {
		s.mu.Unlock()
		return
	}
	s.state.CodingMode = on
	s.mu.Unlock()
	s.emitState()
}

// SubmitCode sends the editor contents as a fenced code block through the
// normal turn path.
func (s *Session) SubmitCode(language, code string) {
	if strings.TrimSpace(code) == "" {
		return
	}
	msg := fmt.Sprintf("[CODE SUBMISSION]\n```%s\n%s\n```", language, code)
	s.submitTurn(msg)
}

// SpeechStarted is wired to the player's start hook.
func (s *Session) SpeechStarted() {
	s.mu.Lock()
	if s.state.Ended {
		s.mu.Unlock()
		return
	}
	s.state.Speaking = true
	s.state.Processing = false
	s.state.Recording = false
	// The editor closes once the interviewer responds to the submission.
	s.state.CodingMode = false
	s.mu.Unlock()
	s.emitState()
}

// SpeechEnded is wired to the player's end hook. After a short pause the mic
// re-arms, if it is still enabled.
func (s *Session) SpeechEnded() {
	s.mu.Lock()
	if s.state.Ended {
		s.mu.Unlock()
		return
	}
	s.state.Speaking = false
	myEpoch := s.epoch
	s.mu.Unlock()
	s.emitState()

	time.AfterFunc(s.timings.PostSpeechDelay, func() {
		if s.staleEpoch(myEpoch) {
			return
		}
		s.armCapture()
		s.emitState()
	})
}

// End finishes the interview: capture and playback stop, the transcript is
// scored, and the session record is appended to the candidate's history and
// archived. Idempotent; later calls return a degraded report.
func (s *Session) End(ctx context.Context) feedback.Report {
	s.mu.Lock()
	if s.state.Ended {
		s.mu.Unlock()
		return feedback.DegradedReport()
	}
	s.state.Ended = true
	s.epoch++
	s.state.Recording = false
	s.state.Processing = false
	s.state.Speaking = false
	transcript := make([]llm.Message, len(s.messages))
	copy(transcript, s.messages)
	s.mu.Unlock()

	close(s.wdStop)
	s.cancel()
	s.deps.Recorder.Abort()
	s.detector.Cancel()
	s.deps.Speaker.Stop()
	s.emitState()
	log.Printf("[%s] interview ended, %d messages", s.id, len(transcript))

	report := s.deps.Reporter.Generate(ctx, transcript, s.deps.Context)
	record := feedback.Session{
		ID:                  s.id,
		Date:                time.Now().UTC().Format(time.RFC3339),
		Company:             s.deps.Context.TargetCompany,
		Score:               report.Score,
		Messages:            transcript,
		Feedback:            report.Feedback,
		Strengths:           report.Strengths,
		AreasForImprovement: report.AreasForImprovement,
	}

	// History and archival are best-effort: the report is already in hand.
	go s.deps.Reporter.AppendHistory(context.Background(), s.deps.Context.PriorHistory, record)
	if s.deps.Archiver != nil {
		go func() {
			if err := s.deps.Archiver.Store(record); err != nil {
				log.Printf("[%s] transcript archive failed: %v", s.id, err)
			}
		}()
	}
	return report
}

// submitTurn moves a completed candidate turn into the model. It is the
// single entry point for the silence timer, explicit stop and code
// submission; duplicates and submissions in the wrong state are dropped.
func (s *Session) submitTurn(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.mu.Lock()
	if s.state.Ended || !s.state.Started || s.state.Processing || s.state.Speaking {
		s.mu.Unlock()
		return
	}
	s.epoch++
	s.state.Recording = false
	s.state.Processing = true
	s.messages = append(s.messages, llm.Message{Role: llm.RoleUser, Content: text})
	s.mu.Unlock()

	s.detector.Cancel()
	s.deps.Recorder.Stop()
	s.emitState()
	log.Printf("[%s] candidate: %s", s.id, text)
	go s.generate()
}

// generate runs one model call and hands the reply to synthesis. On any
// failure the turn is abandoned and the mic re-arms: the candidate can always
// speak again.
func (s *Session) generate() {
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	reply, err := s.deps.Generator.Generate(ctx, s.Messages())
	if err != nil {
		log.Printf("[%s] generation failed: %v", s.id, err)
		s.emitError("generation")
		s.abandonTurn()
		return
	}

	s.mu.Lock()
	if s.state.Ended {
		s.mu.Unlock()
		return
	}
	s.messages = append(s.messages, llm.Message{Role: llm.RoleAssistant, Content: reply})
	s.mu.Unlock()

	if s.hooks.OnTranscript != nil {
		s.hooks.OnTranscript(llm.RoleAssistant, reply)
	}
	s.speak(reply)
}

func (s *Session) speak(reply string) {
	s.mu.Lock()
	pref := s.deps.Context.AudioProvider
	s.mu.Unlock()

	sp, err := s.deps.Synthesizer.Synthesize(s.ctx, reply, pref)
	if err != nil {
		log.Printf("[%s] synthesis failed: %v", s.id, err)
		s.emitError("tts")
		s.abandonTurn()
		return
	}
	if err := s.deps.Speaker.Speak(s.ctx, sp); err != nil {
		log.Printf("[%s] playback failed: %v", s.id, err)
		s.emitError("playback")
		s.abandonTurn()
		return
	}
}

// abandonTurn clears the thinking flag and re-arms capture after the restart
// delay, so a failed turn never wedges the session.
func (s *Session) abandonTurn() {
	s.mu.Lock()
	if s.state.Ended {
		s.mu.Unlock()
		return
	}
	s.state.Processing = false
	myEpoch := s.epoch
	s.mu.Unlock()
	s.emitState()

	time.AfterFunc(s.timings.RestartDelay, func() {
		if s.staleEpoch(myEpoch) {
			return
		}
		s.armCapture()
		s.emitState()
	})
}

// armCapture starts the recognizer if the session is in a state to listen.
func (s *Session) armCapture() {
	s.mu.Lock()
	if s.state.Ended || !s.state.Started || !s.state.MicEnabled ||
		s.state.Processing || s.state.Speaking || s.state.Recording {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.deps.Recorder.Start(); err != nil {
		if errors.Is(err, capture.ErrUnsupported) {
			s.mu.Lock()
			s.state.MicEnabled = false
			s.mu.Unlock()
			s.emitError("unsupported")
			return
		}
		log.Printf("[%s] capture start failed: %v", s.id, err)
		return
	}
	s.mu.Lock()
	if !s.state.Processing && !s.state.Speaking && !s.state.Ended {
		s.state.Recording = true
	}
	s.mu.Unlock()
}

// pumpEvents consumes recognizer events for the session's lifetime.
func (s *Session) pumpEvents() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-s.deps.Recorder.Events():
			if !ok {
				return
			}
			s.handleCaptureEvent(ev)
		}
	}
}

func (s *Session) handleCaptureEvent(ev capture.Event) {
	s.mu.Lock()
	if s.state.Ended {
		s.mu.Unlock()
		return
	}
	recording := s.state.Recording
	busy := s.state.Processing || s.state.Speaking
	mic := s.state.MicEnabled
	myEpoch := s.epoch
	s.mu.Unlock()

	switch ev.Kind {
	case capture.EventInterim, capture.EventFinal:
		if !recording {
			// Late text after an abort or submission is stale.
			return
		}
		s.detector.Observe(ev.Text)
		if s.hooks.OnTranscript != nil && ev.Text != "" {
			s.hooks.OnTranscript(llm.RoleUser, ev.Text)
		}
	case capture.EventError:
		s.handleCaptureError(ev.Err)
	case capture.EventEnded:
		s.mu.Lock()
		s.state.Recording = false
		s.mu.Unlock()
		// The recognizer self-terminated. If nothing else is driving the
		// session, restart it after a beat so the loop keeps its pulse.
		if mic && !busy {
			time.AfterFunc(s.timings.RestartDelay, func() {
				if s.staleEpoch(myEpoch) {
					return
				}
				s.armCapture()
			})
		}
	}
}

func (s *Session) handleCaptureError(kind capture.ErrorKind) {
	switch kind {
	case capture.ErrorNoSpeech:
		// Benign: the recognizer heard nothing. The ended event follows and
		// restarts the loop.
		log.Printf("[%s] recognizer timed out with no speech", s.id)
	case capture.ErrorNetwork:
		log.Printf("[%s] recognizer network error, watchdog will recover", s.id)
	case capture.ErrorPermissionDenied:
		log.Printf("[%s] microphone permission denied", s.id)
		s.mu.Lock()
		s.state.MicEnabled = false
		s.state.Recording = false
		s.mu.Unlock()
		s.emitError("permission-denied")
		s.emitState()
	case capture.ErrorUnsupported:
		log.Printf("[%s] speech recognition unsupported", s.id)
		s.mu.Lock()
		s.state.MicEnabled = false
		s.state.Recording = false
		s.mu.Unlock()
		s.emitError("unsupported")
		s.emitState()
	}
}

// watchdog sweeps for a wedged session: started, mic on, but nobody
// recording, thinking or speaking. That state should only ever be transient.
func (s *Session) watchdog() {
	ticker := time.NewTicker(s.timings.Watchdog)
	defer ticker.Stop()
	for {
		select {
		case <-s.wdStop:
			return
		case <-ticker.C:
			s.mu.Lock()
			stuck := s.state.Started && !s.state.Ended && s.state.MicEnabled &&
				!s.state.Recording && !s.state.Processing && !s.state.Speaking
			s.mu.Unlock()
			if stuck {
				log.Printf("[%s] watchdog: session idle, re-arming capture", s.id)
				s.armCapture()
				s.emitState()
			}
		}
	}
}

func (s *Session) staleEpoch(myEpoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch != myEpoch || s.state.Ended
}

func (s *Session) emitState() {
	if s.hooks.OnStateChange == nil {
		return
	}
	s.hooks.OnStateChange(s.State())
}

func (s *Session) emitError(kind string) {
	if s.hooks.OnError != nil {
		s.hooks.OnError(kind)
	}
}
