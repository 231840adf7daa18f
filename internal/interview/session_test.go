package interview

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mannat244/Assesly/internal/capture"
	"github.com/mannat244/Assesly/internal/feedback"
	"github.com/mannat244/Assesly/internal/llm"
	"github.com/mannat244/Assesly/internal/profile"
	"github.com/mannat244/Assesly/internal/tts"
)

type fakeRecorder struct {
	mu     sync.Mutex
	events chan capture.Event
	starts int
	stops  int
	aborts int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{events: make(chan capture.Event, 16)}
}

func (f *fakeRecorder) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return nil
}
func (f *fakeRecorder) Stop()  { f.mu.Lock(); f.stops++; f.mu.Unlock() }
func (f *fakeRecorder) Abort() { f.mu.Lock(); f.aborts++; f.mu.Unlock() }
func (f *fakeRecorder) Events() <-chan capture.Event { return f.events }

func (f *fakeRecorder) counts() (starts, stops, aborts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops, f.aborts
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls [][]llm.Message
	reply string
	err   error
}

func (f *fakeGenerator) Generate(ctx context.Context, msgs []llm.Message) (string, error) {
	f.mu.Lock()
	cp := make([]llm.Message, len(msgs))
	copy(cp, msgs)
	f.calls = append(f.calls, cp)
	reply, err := f.reply, f.err
	f.mu.Unlock()
	return reply, err
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeGenerator) call(i int) []llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

type fakeSynth struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeSynth) Synthesize(ctx context.Context, text, preference string) (tts.Speech, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return tts.Speech{}, err
	}
	return tts.Speech{NativeText: text}, nil
}

type fakeSpeaker struct {
	mu     sync.Mutex
	spoken []tts.Speech
	stops  int
	err    error
}

func (f *fakeSpeaker) Speak(ctx context.Context, sp tts.Speech) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.spoken = append(f.spoken, sp)
	return nil
}
func (f *fakeSpeaker) Stop() { f.mu.Lock(); f.stops++; f.mu.Unlock() }

func (f *fakeSpeaker) spokenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spoken)
}

type fakeReporter struct {
	mu       sync.Mutex
	report   feedback.Report
	appended []feedback.Session
}

func (f *fakeReporter) Generate(ctx context.Context, transcript []llm.Message, ic *profile.InterviewContext) feedback.Report {
	return f.report
}

func (f *fakeReporter) AppendHistory(ctx context.Context, prior []profile.HistoryEntry, session feedback.Session) {
	f.mu.Lock()
	f.appended = append(f.appended, session)
	f.mu.Unlock()
}

func (f *fakeReporter) appendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appended)
}

type harness struct {
	rec      *fakeRecorder
	gen      *fakeGenerator
	synth    *fakeSynth
	speaker  *fakeSpeaker
	reporter *fakeReporter
	session  *Session

	mu     sync.Mutex
	states []State
}

func newHarness(t *testing.T, timings Timings) *harness {
	t.Helper()
	h := &harness{
		rec:      newFakeRecorder(),
		gen:      &fakeGenerator{reply: "Tell me about yourself."},
		synth:    &fakeSynth{},
		speaker:  &fakeSpeaker{},
		reporter: &fakeReporter{report: feedback.Report{Score: 75, Feedback: "fine"}},
	}
	ic := &profile.InterviewContext{
		CandidateName: "Mannat", TargetCompany: "Acme",
		JobDescription: "Backend Engineer", Resume: "projects",
		AudioProvider: "cartesia",
	}
	h.session = NewSession("test", Deps{
		Recorder:    h.rec,
		Generator:   h.gen,
		Synthesizer: h.synth,
		Speaker:     h.speaker,
		Reporter:    h.reporter,
		Context:     ic,
	}, timings, Hooks{
		OnStateChange: func(st State) {
			h.mu.Lock()
			h.states = append(h.states, st)
			h.mu.Unlock()
		},
	})
	return h
}

func fastTimings() Timings {
	return Timings{
		SilenceWindow:   30 * time.Millisecond,
		RestartDelay:    10 * time.Millisecond,
		PostSpeechDelay: 10 * time.Millisecond,
		Watchdog:        40 * time.Millisecond,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOpeningTurnHasNoUserMessage(t *testing.T) {
	h := newHarness(t, fastTimings())
	if err := h.session.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "opening generation", func() bool { return h.gen.callCount() == 1 })

	msgs := h.gen.call(0)
	if len(msgs) != 1 || msgs[0].Role != llm.RoleSystem {
		t.Fatalf("opening call messages = %+v, want just the system prompt", msgs)
	}
	if !strings.Contains(msgs[0].Content, "Mannat") {
		t.Error("system prompt missing candidate name")
	}
	waitFor(t, "opening line spoken", func() bool { return h.speaker.spokenCount() == 1 })
}

func TestFullTurnLoopReArmsCapture(t *testing.T) {
	h := newHarness(t, fastTimings())
	h.session.Start()
	waitFor(t, "opening line", func() bool { return h.speaker.spokenCount() == 1 })

	// Simulate playback of the opening line.
	h.session.SpeechStarted()
	if st := h.session.State(); !st.Speaking || st.Processing || st.Recording {
		t.Fatalf("state during speech = %+v", st)
	}
	h.session.SpeechEnded()
	waitFor(t, "capture armed after speech", func() bool {
		starts, _, _ := h.rec.counts()
		return starts >= 1 && h.session.State().Recording
	})

	// Candidate answers, then goes quiet past the silence window.
	h.rec.events <- capture.Event{Kind: capture.EventFinal, Text: "I build backend systems"}
	waitFor(t, "turn submitted", func() bool { return h.gen.callCount() == 2 })

	msgs := h.gen.call(1)
	last := msgs[len(msgs)-1]
	if last.Role != llm.RoleUser || last.Content != "I build backend systems" {
		t.Fatalf("last message = %+v", last)
	}
	waitFor(t, "reply spoken", func() bool { return h.speaker.spokenCount() == 2 })
}

func TestMutualExclusionInvariant(t *testing.T) {
	h := newHarness(t, fastTimings())
	h.session.Start()
	waitFor(t, "opening line", func() bool { return h.speaker.spokenCount() == 1 })
	h.session.SpeechStarted()
	h.session.SpeechEnded()
	waitFor(t, "capture armed", func() bool { return h.session.State().Recording })
	h.rec.events <- capture.Event{Kind: capture.EventFinal, Text: "answer one"}
	waitFor(t, "second reply", func() bool { return h.speaker.spokenCount() == 2 })
	h.session.SpeechStarted()
	h.session.SpeechEnded()
	h.session.End(context.Background())

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, st := range h.states {
		n := 0
		if st.Recording {
			n++
		}
		if st.Processing {
			n++
		}
		if st.Speaking {
			n++
		}
		if n > 1 {
			t.Fatalf("state %d violates mutual exclusion: %+v", i, st)
		}
	}
}

func TestSilenceTimerSubmitsExactlyOnce(t *testing.T) {
	h := newHarness(t, fastTimings())
	h.session.Start()
	waitFor(t, "opening line", func() bool { return h.speaker.spokenCount() == 1 })
	h.session.SpeechStarted()
	h.session.SpeechEnded()
	waitFor(t, "capture armed", func() bool { return h.session.State().Recording })

	h.rec.events <- capture.Event{Kind: capture.EventInterim, Text: "so I"}
	h.rec.events <- capture.Event{Kind: capture.EventFinal, Text: "so I worked on caching"}
	// Wait far past the silence window; exactly one generation must follow.
	time.Sleep(200 * time.Millisecond)
	if got := h.gen.callCount(); got != 2 {
		t.Fatalf("generation calls = %d, want 2 (opening + one turn)", got)
	}
}

func TestWhitespaceOnlyTranscriptNeverSubmits(t *testing.T) {
	h := newHarness(t, fastTimings())
	h.session.Start()
	waitFor(t, "opening line", func() bool { return h.speaker.spokenCount() == 1 })
	h.session.SpeechStarted()
	h.session.SpeechEnded()
	waitFor(t, "capture armed", func() bool { return h.session.State().Recording })

	h.rec.events <- capture.Event{Kind: capture.EventInterim, Text: "   "}
	time.Sleep(150 * time.Millisecond)
	if got := h.gen.callCount(); got != 1 {
		t.Fatalf("generation calls = %d, want only the opening call", got)
	}
}

func TestMicOffIsIdempotentAndSuppressesRestart(t *testing.T) {
	h := newHarness(t, Timings{
		SilenceWindow:   30 * time.Millisecond,
		RestartDelay:    10 * time.Millisecond,
		PostSpeechDelay: 10 * time.Millisecond,
		Watchdog:        time.Hour, // keep the watchdog out of this test
	})
	h.session.Start()
	waitFor(t, "opening line", func() bool { return h.speaker.spokenCount() == 1 })
	h.session.SpeechStarted()
	h.session.SpeechEnded()
	waitFor(t, "capture armed", func() bool { return h.session.State().Recording })
	startsBefore, _, _ := h.rec.counts()

	h.session.SetMic(false)
	h.session.SetMic(false)
	_, _, aborts := h.rec.counts()
	if aborts < 2 {
		t.Fatalf("aborts = %d, want the kill switch to fire every time", aborts)
	}
	if h.session.State().Recording {
		t.Fatal("still recording after mic off")
	}

	// The recognizer's ended event must not restart capture while muted.
	h.rec.events <- capture.Event{Kind: capture.EventEnded}
	time.Sleep(100 * time.Millisecond)
	if starts, _, _ := h.rec.counts(); starts != startsBefore {
		t.Fatalf("starts went %d -> %d while mic off", startsBefore, starts)
	}

	h.session.SetMic(true)
	waitFor(t, "capture re-armed on mic on", func() bool { return h.session.State().Recording })
}

func TestGenerationFailureReArmsWithoutAssistantTurn(t *testing.T) {
	h := newHarness(t, fastTimings())
	h.gen.err = errors.New("stream broke")
	h.session.Start()

	waitFor(t, "capture re-armed after failure", func() bool { return h.session.State().Recording })
	for _, m := range h.session.Messages() {
		if m.Role == llm.RoleAssistant {
			t.Fatalf("assistant message appended after failed generation: %+v", m)
		}
	}
	if h.speaker.spokenCount() != 0 {
		t.Fatal("spoke despite failed generation")
	}
}

func TestSynthesisFailureReArms(t *testing.T) {
	h := newHarness(t, fastTimings())
	h.synth.err = tts.ErrSynthesisFailed
	var errs []string
	var mu sync.Mutex
	h.session.hooks.OnError = func(kind string) { mu.Lock(); errs = append(errs, kind); mu.Unlock() }

	h.session.Start()
	waitFor(t, "capture re-armed after tts failure", func() bool { return h.session.State().Recording })

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, k := range errs {
		if k == "tts" {
			found = true
		}
	}
	if !found {
		t.Fatalf("errors = %v, want a tts error", errs)
	}
}

func TestWatchdogReArmsStuckSession(t *testing.T) {
	h := newHarness(t, Timings{
		SilenceWindow:   time.Hour,
		RestartDelay:    time.Hour, // disable the normal restart path
		PostSpeechDelay: time.Hour,
		Watchdog:        30 * time.Millisecond,
	})
	h.session.Start()
	waitFor(t, "opening generation", func() bool { return h.gen.callCount() == 1 })
	h.session.SpeechStarted()

	// Speech ends but the post-speech re-arm is effectively disabled: the
	// session is wedged with nothing running.
	h.session.SpeechEnded()
	waitFor(t, "watchdog re-arm", func() bool { return h.session.State().Recording })
}

func TestCodeSubmissionFollowsTurnPath(t *testing.T) {
	h := newHarness(t, fastTimings())
	h.session.Start()
	waitFor(t, "opening line", func() bool { return h.speaker.spokenCount() == 1 })
	h.session.SpeechStarted()
	h.session.SpeechEnded()
	waitFor(t, "capture armed", func() bool { return h.session.State().Recording })

	h.session.SetCodingMode(true)
	h.session.SubmitCode("go", "func main() {}")
	waitFor(t, "code turn generated", func() bool { return h.gen.callCount() == 2 })

	msgs := h.gen.call(1)
	last := msgs[len(msgs)-1].Content
	if !strings.Contains(last, "[CODE SUBMISSION]") || !strings.Contains(last, "```go") {
		t.Fatalf("code message = %q", last)
	}

	waitFor(t, "reply spoken", func() bool { return h.speaker.spokenCount() == 2 })
	h.session.SpeechStarted()
	if h.session.State().CodingMode {
		t.Fatal("coding mode should clear when the interviewer starts speaking")
	}
}

func TestPermissionDeniedDisablesMic(t *testing.T) {
	h := newHarness(t, fastTimings())
	h.session.Start()
	waitFor(t, "opening line", func() bool { return h.speaker.spokenCount() == 1 })
	h.session.SpeechStarted()
	h.session.SpeechEnded()
	waitFor(t, "capture armed", func() bool { return h.session.State().Recording })

	h.rec.events <- capture.Event{Kind: capture.EventError, Err: capture.ErrorPermissionDenied}
	waitFor(t, "mic disabled", func() bool { return !h.session.State().MicEnabled })

	// Watchdog must not fight the permission failure.
	time.Sleep(100 * time.Millisecond)
	if h.session.State().Recording {
		t.Fatal("recording resumed after permission denied")
	}
}

func TestEndProducesReportAndIgnoresLaterEvents(t *testing.T) {
	h := newHarness(t, fastTimings())
	h.session.Start()
	waitFor(t, "opening line", func() bool { return h.speaker.spokenCount() == 1 })
	h.session.SpeechStarted()
	h.session.SpeechEnded()
	waitFor(t, "capture armed", func() bool { return h.session.State().Recording })

	report := h.session.End(context.Background())
	if report.Score != 75 {
		t.Fatalf("report = %+v", report)
	}
	waitFor(t, "history appended", func() bool { return h.reporter.appendCount() == 1 })

	st := h.session.State()
	if !st.Ended || st.Recording || st.Processing || st.Speaking {
		t.Fatalf("state after end = %+v", st)
	}

	genBefore := h.gen.callCount()
	h.rec.events <- capture.Event{Kind: capture.EventFinal, Text: "late words"}
	h.session.SpeechStarted()
	time.Sleep(100 * time.Millisecond)
	if h.gen.callCount() != genBefore {
		t.Fatal("generation ran after the session ended")
	}
	if h.session.State().Speaking {
		t.Fatal("speaking flag set after the session ended")
	}

	// Second End degrades instead of re-running the pipeline.
	if second := h.session.End(context.Background()); second.Score != 0 {
		t.Fatalf("second End report = %+v, want degraded", second)
	}
}

func TestDoubleStartIsNoOp(t *testing.T) {
	h := newHarness(t, fastTimings())
	h.session.Start()
	h.session.Start()
	waitFor(t, "opening generation", func() bool { return h.gen.callCount() >= 1 })
	time.Sleep(50 * time.Millisecond)
	if h.gen.callCount() != 1 {
		t.Fatalf("generation calls = %d after double start", h.gen.callCount())
	}
}
