// Package rtc is the client transport: WebSocket signaling, the WebRTC peer,
// the control data channel carrying session commands and events, inbound mic
// audio into the recognizer, and outbound interviewer audio over an Opus
// track.
package rtc

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/mannat244/Assesly/internal/capture"
	"github.com/mannat244/Assesly/internal/config"
	"github.com/mannat244/Assesly/internal/feedback"
	"github.com/mannat244/Assesly/internal/interview"
	"github.com/mannat244/Assesly/internal/llm"
	"github.com/mannat244/Assesly/internal/playback"
	"github.com/mannat244/Assesly/internal/profile"
	"github.com/mannat244/Assesly/internal/tts"
)

// signalMessage is the WS signaling frame: offer/answer + trickle ICE.
// Types: "offer", "answer", "candidate", "ice-complete", "bye", "error".
type signalMessage struct {
	Type          string  `json:"type"`
	SDP           string  `json:"sdp,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// controlCommand is a client -> server frame on the control data channel.
type controlCommand struct {
	Type     string `json:"type"` // start, mic, camera, coding, code, end, voices, native-done
	On       bool   `json:"on,omitempty"`
	Language string `json:"language,omitempty"`
	Code     string `json:"code,omitempty"`
	ID       int    `json:"id,omitempty"`
	Error    string `json:"error,omitempty"`
	Voices   []struct {
		Name string `json:"name"`
		Lang string `json:"lang"`
	} `json:"voices,omitempty"`
}

// controlEvent is a server -> client frame on the control data channel.
type controlEvent struct {
	Type      string           `json:"type"` // state, transcript, error, report, presence, speak-native, cancel-native
	State     *interview.State `json:"state,omitempty"`
	Role      string           `json:"role,omitempty"`
	Text      string           `json:"text,omitempty"`
	Kind      string           `json:"kind,omitempty"`
	CameraOff bool             `json:"cameraOff,omitempty"`
	Report    *feedback.Report `json:"report,omitempty"`
	ID        int              `json:"id,omitempty"`
	Voice     string           `json:"voice,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// Cross-origin is handled at the HTTP layer.
		return true
	},
}

// Handler builds one interview session per WebRTC peer.
type Handler struct {
	cfg config.Config
}

func NewHandler(cfg config.Config) *Handler { return &Handler{cfg: cfg} }

// ServeWebSocket upgrades to WebSocket and performs offer/answer + trickle
// ICE signaling, then hands media and control to the session wiring.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	// First usable frame must be the offer.
	var offerSDP string
	for {
		mt, data, rerr := conn.ReadMessage()
		if rerr != nil {
			log.Printf("ws read error before offer: %v", rerr)
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var m signalMessage
		if json.Unmarshal(data, &m) != nil {
			continue
		}
		switch strings.ToLower(m.Type) {
		case "offer":
			if m.SDP != "" {
				offerSDP = m.SDP
			}
		case "bye":
			return
		}
		if offerSDP != "" {
			break
		}
	}

	pc, outTrack, err := h.createPeer()
	if err != nil {
		_ = conn.WriteJSON(signalMessage{Type: "error", Error: err.Error()})
		return
	}
	defer func() { _ = pc.Close() }()

	sessionID := newSessionID()

	var writeMu sync.Mutex
	writeWS := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			_ = writeWS(signalMessage{Type: "ice-complete"})
			return
		}
		init := c.ToJSON()
		_ = writeWS(signalMessage{Type: "candidate", Candidate: init.Candidate, SDPMid: init.SDPMid, SDPMLineIndex: init.SDPMLineIndex})
	})

	// Remote trickle candidates keep arriving after the answer.
	go func() {
		for {
			_, data, rerr := conn.ReadMessage()
			if rerr != nil {
				return
			}
			var m signalMessage
			if json.Unmarshal(data, &m) != nil {
				continue
			}
			switch strings.ToLower(m.Type) {
			case "candidate":
				if m.Candidate == "" {
					continue
				}
				_ = pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: m.Candidate, SDPMid: m.SDPMid, SDPMLineIndex: m.SDPMLineIndex})
			case "bye":
				_ = pc.Close()
				return
			}
		}
	}()

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		_ = writeWS(signalMessage{Type: "error", Error: err.Error()})
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = writeWS(signalMessage{Type: "error", Error: err.Error()})
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = writeWS(signalMessage{Type: "error", Error: err.Error()})
		return
	}
	local := pc.LocalDescription()
	if local == nil {
		_ = writeWS(signalMessage{Type: "error", Error: "no local description"})
		return
	}
	if err := writeWS(signalMessage{Type: "answer", SDP: local.SDP}); err != nil {
		log.Printf("[%s] ws write answer error: %v", sessionID, err)
		return
	}

	h.attachSession(sessionID, r, pc, outTrack)

	// Hold the handler until the peer goes away; cleanup runs off the
	// connection state callbacks.
	for {
		time.Sleep(2 * time.Second)
		state := pc.ConnectionState()
		if state == webrtc.PeerConnectionStateClosed || state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateDisconnected {
			return
		}
	}
}

// createPeer prepares a PeerConnection with default codecs/interceptors and
// the outbound interviewer audio track.
func (h *Handler) createPeer() (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return nil, nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: parseICEServers(h.cfg.ICEServersJSON)})
	if err != nil {
		return nil, nil, err
	}
	outTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1},
		"interviewer-audio", "interviewer",
	)
	if err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	if _, err := pc.AddTrack(outTrack); err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	return pc, outTrack, nil
}

// attachSession wires the full session graph onto an established peer.
func (h *Handler) attachSession(sessionID string, r *http.Request, pc *webrtc.PeerConnection, outTrack *webrtc.TrackLocalStaticSample) {
	writer, err := NewOpusClipWriter(outTrack)
	if err != nil {
		log.Printf("[%s] opus encoder error: %v", sessionID, err)
		return
	}

	// Control channel plumbing. Events queued before the channel opens are
	// dropped; the client opens it before sending start.
	var dcMu sync.Mutex
	var dc *webrtc.DataChannel
	sendEvent := func(v any) error {
		dcMu.Lock()
		ch := dc
		dcMu.Unlock()
		if ch == nil {
			return errors.New("rtc: control channel not open")
		}
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return ch.SendText(string(data))
	}

	native := newRemoteNative(sendEvent)

	engine := capture.NewStreamEngine(h.cfg.CaptureURL, h.cfg.CaptureAPIKey)
	adapter := capture.NewAdapter(engine, capture.Continuous)

	var providers []tts.Provider
	if h.cfg.CartesiaAPIKey != "" {
		providers = append(providers, tts.NewCartesiaClient(h.cfg.CartesiaAPIKey, h.cfg.CartesiaVoiceID))
	}
	if h.cfg.ElevenLabsAPIKey != "" {
		providers = append(providers, tts.NewElevenLabsClient(h.cfg.ElevenLabsAPIKey, h.cfg.ElevenLabsVoiceID))
	}
	if h.cfg.DeepgramAPIKey != "" {
		providers = append(providers, tts.NewDeepgramClient(h.cfg.DeepgramAPIKey, h.cfg.DeepgramModel))
	}
	gateway := tts.NewGateway(providers, native)

	presence := playback.NewPresence(func(off bool) {
		_ = sendEvent(controlEvent{Type: "presence", CameraOff: off})
	})

	var sess *interview.Session
	player := playback.NewPlayer(writer, native, presence, playback.Hooks{
		OnSpeechStart: func() { sess.SpeechStarted() },
		OnSpeechEnd:   func() { sess.SpeechEnded() },
	})

	token := bearerToken(r)
	ic := h.fetchContext(sessionID, token)

	fbModel := llm.NewStreamClient(firstNonEmpty(h.cfg.FeedbackURL, h.cfg.CompletionURL))
	reporter := feedback.NewClient(fbModel, firstNonEmpty(h.cfg.HistoryURL, h.cfg.ProfileURL), token)

	var archiver interview.Archiver
	if h.cfg.SupabaseURL != "" && h.cfg.SupabaseServiceKey != "" {
		arch, err := feedback.NewArchive(feedback.ArchiveConfig{
			URL:            h.cfg.SupabaseURL,
			ServiceRoleKey: h.cfg.SupabaseServiceKey,
			Bucket:         h.cfg.SupabaseBucket,
		})
		if err != nil {
			log.Printf("[%s] transcript archive disabled: %v", sessionID, err)
		} else {
			archiver = arch
		}
	}

	sess = interview.NewSession(sessionID, interview.Deps{
		Recorder:    adapter,
		Generator:   llm.NewStreamClient(h.cfg.CompletionURL),
		Synthesizer: gateway,
		Speaker:     player,
		Reporter:    reporter,
		Archiver:    archiver,
		Context:     ic,
	}, interview.Timings{
		SilenceWindow: h.cfg.SilenceWindow,
		Watchdog:      h.cfg.WatchdogInterval,
	}, interview.Hooks{
		OnStateChange: func(st interview.State) {
			_ = sendEvent(controlEvent{Type: "state", State: &st})
		},
		OnTranscript: func(role llm.Role, text string) {
			_ = sendEvent(controlEvent{Type: "transcript", Role: string(role), Text: text})
		},
		OnError: func(kind string) {
			_ = sendEvent(controlEvent{Type: "error", Kind: kind})
		},
	})

	pc.OnDataChannel(func(ch *webrtc.DataChannel) {
		if ch.Label() != "control" {
			return
		}
		dcMu.Lock()
		dc = ch
		dcMu.Unlock()
		log.Printf("[%s] control channel opened", sessionID)

		ch.OnMessage(func(msg webrtc.DataChannelMessage) {
			var cmd controlCommand
			if err := json.Unmarshal(msg.Data, &cmd); err != nil {
				log.Printf("[%s] bad control frame: %v", sessionID, err)
				return
			}
			h.dispatch(sessionID, sess, native, cmd, sendEvent)
		})
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		log.Printf("[%s] ICE state: %s", sessionID, state.String())
	})

	var cleanupOnce sync.Once
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("[%s] peer state: %s", sessionID, state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			cleanupOnce.Do(func() {
				// End the session so the transcript is still scored and
				// recorded when the candidate just hangs up.
				if sess.State().Started && !sess.State().Ended {
					go sess.End(context.Background())
				} else {
					adapter.Abort()
				}
				presence.Stop()
				time.AfterFunc(400*time.Millisecond, writer.Close)
			})
		}
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		log.Printf("[%s] mic track received: codec=%s", sessionID, remote.Codec().MimeType)
		dec, derr := opus.NewDecoder(16000, 1)
		if derr != nil {
			log.Printf("[%s] opus decoder error: %v", sessionID, derr)
			return
		}
		go pumpMic(sessionID, remote, dec, engine)
	})
}

func (h *Handler) dispatch(sessionID string, sess *interview.Session, native *remoteNative, cmd controlCommand, sendEvent controlSender) {
	switch strings.ToLower(cmd.Type) {
	case "voices":
		voices := make([]tts.Voice, 0, len(cmd.Voices))
		for _, v := range cmd.Voices {
			voices = append(voices, tts.Voice{Name: v.Name, Lang: v.Lang})
		}
		native.setVoices(voices)
	case "start":
		if err := sess.Start(); err != nil {
			log.Printf("[%s] start failed: %v", sessionID, err)
			_ = sendEvent(controlEvent{Type: "error", Kind: "start"})
		}
	case "mic":
		sess.SetMic(cmd.On)
	case "camera":
		sess.SetCamera(cmd.On)
	case "coding":
		sess.SetCodingMode(cmd.On)
	case "code":
		sess.SubmitCode(cmd.Language, cmd.Code)
	case "end":
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			report := sess.End(ctx)
			_ = sendEvent(controlEvent{Type: "report", Report: &report})
		}()
	case "native-done":
		native.finish(cmd.ID, cmd.Error)
	default:
		log.Printf("[%s] unknown control command %q", sessionID, cmd.Type)
	}
}

// pumpMic decodes inbound Opus to 16kHz s16le PCM and feeds the recognizer
// in fixed 100ms chunks.
func pumpMic(sessionID string, remote *webrtc.TrackRemote, dec *opus.Decoder, engine *capture.StreamEngine) {
	const chunkBytes = 3200 // 100ms of 16kHz mono s16
	buf := make([]byte, 0, chunkBytes*4)
	samples := make([]int16, 1920)
	for {
		pkt, _, readErr := remote.ReadRTP()
		if readErr != nil {
			log.Printf("[%s] mic track closed: %v", sessionID, readErr)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, decErr := dec.Decode(pkt.Payload, samples)
		if decErr != nil {
			continue
		}
		startLen := len(buf)
		need := n * 2
		if cap(buf)-len(buf) < need {
			tmp := make([]byte, len(buf), len(buf)+need+chunkBytes)
			copy(tmp, buf)
			buf = tmp
		}
		buf = buf[:len(buf)+need]
		o := buf[startLen:]
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(o[i*2:(i+1)*2], uint16(samples[i]))
		}
		for len(buf) >= chunkBytes {
			_ = engine.SendPCM16KLE(buf[:chunkBytes])
			copy(buf, buf[chunkBytes:])
			buf = buf[:len(buf)-chunkBytes]
		}
	}
}

func (h *Handler) fetchContext(sessionID, token string) *profile.InterviewContext {
	if h.cfg.ProfileURL == "" {
		return profile.DefaultContext()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ic, err := profile.NewClient(h.cfg.ProfileURL, token).Fetch(ctx)
	if err != nil {
		log.Printf("[%s] profile fetch failed, using defaults: %v", sessionID, err)
		return profile.DefaultContext()
	}
	return ic
}

func bearerToken(r *http.Request) string {
	if q := r.URL.Query().Get("token"); q != "" {
		return q
	}
	ah := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		return strings.TrimSpace(ah[len("Bearer "):])
	}
	return ""
}

func parseICEServers(iceJSON string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if err := json.Unmarshal([]byte(iceJSON), &servers); err == nil && len(servers) > 0 {
		return servers
	}
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func newSessionID() string { return time.Now().Format("0102150405.000") }
